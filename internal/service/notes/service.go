// Package notes implements the note upload pipeline, reader access,
// engagement counters and the moderation state machine.
package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"notehub/internal/config"
	"notehub/internal/domain"
	"notehub/internal/domain/models"
	"notehub/internal/domain/repositories"
	"notehub/internal/domain/services"
)

// Deps are the collaborators of the note services
type Deps struct {
	Notes        repositories.NoteRepository
	Blobs        services.BlobStore
	Preprocessor services.Preprocessor
	Identity     services.IdentityDirectory
	Taxonomy     services.TaxonomyStore
	Social       services.SocialStore
	Logger       *slog.Logger
}

// Options tunes the note service
type Options struct {
	RetentionWindow        time.Duration
	CompressThresholdBytes int64
}

// noteService implements the NoteService interface
type noteService struct {
	notes        repositories.NoteRepository
	blobs        services.BlobStore
	preprocessor services.Preprocessor
	identity     services.IdentityDirectory
	taxonomy     services.TaxonomyStore
	social       services.SocialStore
	logger       *slog.Logger

	retention time.Duration
	threshold int64
	nowFn     func() time.Time
}

// NewNoteService creates a new note service
func NewNoteService(deps Deps, opts Options) services.NoteService {
	return newNoteService(deps, opts)
}

func newNoteService(deps Deps, opts Options) *noteService {
	if opts.RetentionWindow <= 0 {
		opts.RetentionWindow = config.DefaultRetentionWindow
	}
	return &noteService{
		notes:        deps.Notes,
		blobs:        deps.Blobs,
		preprocessor: deps.Preprocessor,
		identity:     deps.Identity,
		taxonomy:     deps.Taxonomy,
		social:       deps.Social,
		logger:       deps.Logger,
		retention:    opts.RetentionWindow,
		threshold:    opts.CompressThresholdBytes,
		nowFn:        time.Now,
	}
}

// GetNote returns a visible note with engagement and records one view
func (s *noteService) GetNote(ctx context.Context, viewerID, noteID string) (*models.NoteView, error) {
	note, err := s.visibleNote(ctx, viewerID, noteID)
	if err != nil {
		return nil, err
	}

	views, err := s.recordView(ctx, note.ID)
	if err != nil {
		return nil, err
	}
	note.ViewCount = views

	view := &models.NoteView{
		Note:       *note,
		Engagement: s.engagement(ctx, note),
	}
	if purgeAt, ok := note.PurgeAt(s.retention); ok {
		hours := purgeAt.Sub(s.nowFn()).Hours()
		if hours < 0 {
			hours = 0
		}
		view.HoursUntilPurge = &hours
	}
	return view, nil
}

// DownloadURL resolves the download link and records one download
func (s *noteService) DownloadURL(ctx context.Context, viewerID, noteID string) (string, error) {
	note, err := s.visibleNote(ctx, viewerID, noteID)
	if err != nil {
		return "", err
	}
	if _, err := s.recordDownload(ctx, note.ID); err != nil {
		return "", err
	}
	return s.blobs.ResolveDownloadURL(note.BlobRef), nil
}

// UpdateNote edits title and description (author only)
func (s *noteService) UpdateNote(ctx context.Context, userID, noteID string, req *services.UpdateNoteRequest) (*models.Note, error) {
	if err := validateUpdate(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	note, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if userID == "" || note.AuthorID != userID {
		return nil, &domain.ForbiddenError{Message: "only the author can edit this note"}
	}

	title, description := note.Title, note.Description
	if req.Title != nil {
		title = *req.Title
	}
	if req.Description != nil {
		description = *req.Description
	}

	updated, err := s.notes.Update(ctx, noteID, title, description, s.nowFn())
	if err != nil {
		return nil, err
	}

	s.logger.Info("note updated", "note_id", noteID, "author_id", userID)
	return updated, nil
}

// DeleteNote removes the blob, then the record. A failed blob delete keeps
// the record so the request can be retried.
func (s *noteService) DeleteNote(ctx context.Context, userID, noteID string) error {
	note, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return err
	}

	if userID == "" || note.AuthorID != userID {
		isAdmin, err := s.isAdmin(ctx, userID)
		if err != nil {
			return err
		}
		if !isAdmin {
			return &domain.ForbiddenError{Message: "only the author or an admin can delete this note"}
		}
	}

	if err := s.blobs.Delete(ctx, note.BlobRef); err != nil {
		return fmt.Errorf("delete note blob: %w", err)
	}
	if err := s.notes.Delete(ctx, noteID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Reaped or deleted concurrently; the outcome is the same
			return nil
		}
		return err
	}

	s.logger.Info("note deleted", "note_id", noteID, "blob_ref", note.BlobRef, "actor_id", userID)
	return nil
}

// ListBySubject lists the public notes of a subject, newest first
func (s *noteService) ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]models.Note, error) {
	if err := validation.Validate(subjectID, validation.Required); err != nil {
		return nil, fmt.Errorf("%w: subject_id: %v", domain.ErrValidation, err)
	}

	public := models.NoteStatePublic
	filter := models.NoteFilter{
		State:     &public,
		SubjectID: subjectID,
		Limit:     limit,
		Offset:    offset,
	}
	filter.ApplyDefaults(config.MaxListLimit)

	return s.notes.List(ctx, filter)
}

// visibleNote loads a note and applies read visibility. Hidden notes are
// reported as not found so their existence does not leak.
func (s *noteService) visibleNote(ctx context.Context, viewerID, noteID string) (*models.Note, error) {
	note, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return nil, err
	}

	isAuthor := viewerID != "" && viewerID == note.AuthorID
	if !note.IsDurable() {
		if isAuthor {
			return note, nil
		}
		return nil, &domain.NotFoundError{Message: "note not found"}
	}
	if note.State == models.NoteStatePublic || isAuthor {
		return note, nil
	}

	isAdmin, err := s.isAdmin(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		return nil, &domain.NotFoundError{Message: "note not found"}
	}
	return note, nil
}

func (s *noteService) isAdmin(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	isAdmin, err := s.identity.IsAdmin(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check admin role: %w", err)
	}
	return isAdmin, nil
}

func validateUpdate(req *services.UpdateNoteRequest) error {
	if req.Title == nil && req.Description == nil {
		return errors.New("nothing to update")
	}
	return validation.ValidateStruct(req,
		validation.Field(&req.Title,
			validation.NilOrNotEmpty,
			validation.Length(1, config.MaxNoteTitleLength),
		),
		validation.Field(&req.Description,
			validation.Length(0, config.MaxNoteDescriptionLength),
		),
	)
}
