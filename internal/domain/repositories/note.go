package repositories

import (
	"context"
	"time"

	"notehub/internal/domain/models"
)

// NoteRepository defines data access operations for notes.
// State changes are compare-and-swap: callers name the state they expect.
type NoteRepository interface {
	// Create persists a new note. BlobRef must already point at written content.
	Create(ctx context.Context, note *models.Note) error

	// GetByID retrieves a note by ID
	GetByID(ctx context.Context, id string) (*models.Note, error)

	// Transition moves a note from one state to another if it is still in `from`.
	// A mismatch returns *domain.InvalidTransitionError with the observed state.
	Transition(ctx context.Context, id string, from, to models.NoteState, at time.Time) (*models.Note, error)

	// IncrementViewCount atomically adds one view and returns the new total
	IncrementViewCount(ctx context.Context, id string) (int64, error)

	// IncrementDownloadCount atomically adds one download and returns the new total
	IncrementDownloadCount(ctx context.Context, id string) (int64, error)

	// Update changes author-editable fields
	Update(ctx context.Context, id, title, description string, at time.Time) (*models.Note, error)

	// Delete removes a note record
	Delete(ctx context.Context, id string) error

	// List returns notes matching the filter, newest first
	List(ctx context.Context, filter models.NoteFilter) ([]models.Note, error)

	// ListReapable returns rejected notes with rejected_at <= cutoff that no
	// worker holds a lease on at now, oldest first
	ListReapable(ctx context.Context, cutoff, now time.Time, limit int) ([]models.Note, error)

	// ClaimForReap takes a short lease on a reapable note. Returns false when the
	// note is gone, no longer reapable, or leased by another worker.
	ClaimForReap(ctx context.Context, id string, cutoff, now, leaseUntil time.Time) (bool, error)

	// DeferReap pushes the reap lease of a rejected note out to until, so a note
	// whose blob cannot be deleted stops blocking the head of the queue.
	DeferReap(ctx context.Context, id string, until time.Time) error

	// DeleteRejected deletes the note only while it is still rejected.
	DeleteRejected(ctx context.Context, id string) (bool, error)
}
