package services

import (
	"context"

	"notehub/internal/domain/models"
)

// NoteService handles the note upload pipeline and reader access
type NoteService interface {
	// Upload preprocesses and stores a document, then creates its note.
	// Metadata is only persisted after the blob write is confirmed.
	Upload(ctx context.Context, req *UploadRequest) (*models.Note, error)

	// Attach creates a note for a blob the client uploaded beforehand
	Attach(ctx context.Context, req *AttachRequest) (*models.Note, error)

	// GetNote returns a visible note and records one view
	GetNote(ctx context.Context, viewerID, noteID string) (*models.NoteView, error)

	// DownloadURL returns the access URL of a visible note and records one download
	DownloadURL(ctx context.Context, viewerID, noteID string) (string, error)

	// UpdateNote edits title/description (author only)
	UpdateNote(ctx context.Context, userID, noteID string, req *UpdateNoteRequest) (*models.Note, error)

	// DeleteNote removes blob then record (author or admin)
	DeleteNote(ctx context.Context, userID, noteID string) error

	// ListBySubject lists public notes of a subject
	ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]models.Note, error)
}

// ModerationService is the moderation state machine
type ModerationService interface {
	// Approve moves a pending note to public. Approving a public note succeeds.
	Approve(ctx context.Context, actorID, noteID string) (*models.Note, error)

	// Reject moves a pending note to rejected and starts the retention clock
	Reject(ctx context.Context, actorID, noteID string) (*models.Note, error)

	// Decide dispatches an "approve" or "reject" action
	Decide(ctx context.Context, actorID, noteID string, req *DecisionRequest) (*models.Note, error)

	// Queue lists notes in a state for moderators
	Queue(ctx context.Context, actorID string, state models.NoteState, limit, offset int) ([]models.Note, error)
}

// UploadRequest represents a multipart note upload
type UploadRequest struct {
	AuthorID        string `json:"-"` // Set by handler from auth context
	SubjectID       string `json:"subject_id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Filename        string `json:"filename"`
	MimeType        string `json:"mime_type"`
	Content         []byte `json:"-"`
	SkipCompression bool   `json:"skip_compression"`
}

// AttachRequest represents a JSON note creation with a pre-uploaded blob
type AttachRequest struct {
	AuthorID    string `json:"-"`
	SubjectID   string `json:"subject_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	BlobRef     string `json:"blob_ref"`
	MimeType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// UpdateNoteRequest carries optional field changes (nil = unchanged)
type UpdateNoteRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Moderation actions
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// DecisionRequest represents an admin moderation decision
type DecisionRequest struct {
	Action string `json:"action"`
}
