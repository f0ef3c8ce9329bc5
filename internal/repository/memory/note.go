// Package memory holds in-process repositories used when the service runs
// without a database (dev) and as fakes in tests. They keep the same
// compare-and-swap semantics as the postgres implementations.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"notehub/internal/domain"
	"notehub/internal/domain/models"
	"notehub/internal/domain/repositories"
)

type noteRecord struct {
	note       models.Note
	leaseUntil *time.Time
}

// leased reports whether a reap lease is still held at now
func (rec *noteRecord) leased(now time.Time) bool {
	return rec.leaseUntil != nil && !rec.leaseUntil.Before(now)
}

// NoteRepository is a mutex-guarded NoteRepository
type NoteRepository struct {
	mu    sync.Mutex
	notes map[string]*noteRecord
	blobs map[string]string // blob_ref -> note id (unique)
}

// NewNoteRepository creates an empty repository
func NewNoteRepository() *NoteRepository {
	return &NoteRepository{
		notes: make(map[string]*noteRecord),
		blobs: make(map[string]string),
	}
}

var _ repositories.NoteRepository = (*NoteRepository)(nil)

// Create stores a copy of note and assigns its ID
func (r *NoteRepository) Create(_ context.Context, note *models.Note) error {
	if note.BlobRef == "" {
		return fmt.Errorf("%w: note has no blob reference", domain.ErrValidation)
	}
	if (note.State == models.NoteStateRejected) != (note.RejectedAt != nil) {
		return fmt.Errorf("%w: note violates state constraints", domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.blobs[note.BlobRef]; taken {
		return &domain.ConflictError{
			Message:      "blob is already attached to a note",
			ResourceType: "blob",
			ResourceID:   note.BlobRef,
		}
	}

	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	r.notes[note.ID] = &noteRecord{note: *note}
	r.blobs[note.BlobRef] = note.ID
	return nil
}

// GetByID returns a copy of the stored note
func (r *NoteRepository) GetByID(_ context.Context, id string) (*models.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.notes[id]
	if !ok {
		return nil, fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
	}
	note := rec.note
	return &note, nil
}

// Transition moves the note to `to` only if it is still in `from`
func (r *NoteRepository) Transition(_ context.Context, id string, from, to models.NoteState, at time.Time) (*models.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.notes[id]
	if !ok {
		return nil, fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
	}
	if rec.note.State != from {
		return nil, &domain.InvalidTransitionError{
			NoteID:  id,
			Current: string(rec.note.State),
			Target:  string(to),
		}
	}

	rec.note.State = to
	rec.note.UpdatedAt = at
	if to == models.NoteStateRejected {
		stamp := at
		rec.note.RejectedAt = &stamp
	} else {
		rec.note.RejectedAt = nil
	}

	note := rec.note
	return &note, nil
}

// IncrementViewCount adds one view
func (r *NoteRepository) IncrementViewCount(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.notes[id]
	if !ok {
		return 0, fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
	}
	rec.note.ViewCount++
	return rec.note.ViewCount, nil
}

// IncrementDownloadCount adds one download
func (r *NoteRepository) IncrementDownloadCount(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.notes[id]
	if !ok {
		return 0, fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
	}
	rec.note.DownloadCount++
	return rec.note.DownloadCount, nil
}

// Update changes title and description
func (r *NoteRepository) Update(_ context.Context, id, title, description string, at time.Time) (*models.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.notes[id]
	if !ok {
		return nil, fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
	}
	rec.note.Title = title
	rec.note.Description = description
	rec.note.UpdatedAt = at

	note := rec.note
	return &note, nil
}

// Delete removes a note
func (r *NoteRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.notes[id]
	if !ok {
		return fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
	}
	delete(r.blobs, rec.note.BlobRef)
	delete(r.notes, id)
	return nil
}

// List returns matching notes, newest first
func (r *NoteRepository) List(_ context.Context, filter models.NoteFilter) ([]models.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	notes := make([]models.Note, 0)
	for _, rec := range r.notes {
		n := rec.note
		if filter.State != nil && n.State != *filter.State {
			continue
		}
		if filter.SubjectID != "" && n.SubjectID != filter.SubjectID {
			continue
		}
		if filter.AuthorID != "" && n.AuthorID != filter.AuthorID {
			continue
		}
		notes = append(notes, n)
	}

	sort.Slice(notes, func(i, j int) bool {
		return notes[i].CreatedAt.After(notes[j].CreatedAt)
	})

	return page(notes, filter.Limit, filter.Offset), nil
}

// ListReapable returns unleased rejected notes with rejected_at <= cutoff, oldest first
func (r *NoteRepository) ListReapable(_ context.Context, cutoff, now time.Time, limit int) ([]models.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	notes := make([]models.Note, 0)
	for _, rec := range r.notes {
		if reapable(&rec.note, cutoff) && !rec.leased(now) {
			notes = append(notes, rec.note)
		}
	}

	sort.Slice(notes, func(i, j int) bool {
		return notes[i].RejectedAt.Before(*notes[j].RejectedAt)
	})

	return page(notes, limit, 0), nil
}

// ClaimForReap leases a reapable note
func (r *NoteRepository) ClaimForReap(_ context.Context, id string, cutoff, now, leaseUntil time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.notes[id]
	if !ok || !reapable(&rec.note, cutoff) {
		return false, nil
	}
	if rec.leased(now) {
		return false, nil
	}
	lease := leaseUntil
	rec.leaseUntil = &lease
	return true, nil
}

// DeferReap moves the reap lease of a rejected note to until
func (r *NoteRepository) DeferReap(_ context.Context, id string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.notes[id]
	if !ok || rec.note.State != models.NoteStateRejected {
		return nil
	}
	lease := until
	rec.leaseUntil = &lease
	return nil
}

// DeleteRejected removes the note only while it is still rejected
func (r *NoteRepository) DeleteRejected(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.notes[id]
	if !ok || rec.note.State != models.NoteStateRejected {
		return false, nil
	}
	delete(r.blobs, rec.note.BlobRef)
	delete(r.notes, id)
	return true, nil
}

// Len returns the number of stored notes
func (r *NoteRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}

func reapable(n *models.Note, cutoff time.Time) bool {
	return n.State == models.NoteStateRejected && n.RejectedAt != nil && !n.RejectedAt.After(cutoff)
}

func page(notes []models.Note, limit, offset int) []models.Note {
	if offset >= len(notes) {
		return []models.Note{}
	}
	notes = notes[offset:]
	if limit > 0 && limit < len(notes) {
		notes = notes[:limit]
	}
	return notes
}
