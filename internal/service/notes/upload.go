package notes

import (
	"context"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"notehub/internal/config"
	"notehub/internal/domain"
	"notehub/internal/domain/models"
	"notehub/internal/domain/services"
)

// Upload runs the full ingestion pipeline:
// preprocess -> placeholder -> content -> record.
// The record is only written once the blob write is confirmed, and any
// failure after the placeholder exists deletes the blob again.
func (s *noteService) Upload(ctx context.Context, req *services.UploadRequest) (*models.Note, error) {
	if err := validateUpload(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := s.checkSubject(ctx, req.SubjectID); err != nil {
		return nil, err
	}
	// Resolved before touching the blob store so a lookup failure has
	// nothing to clean up
	privileged, err := s.isPrivileged(ctx, req.AuthorID)
	if err != nil {
		return nil, err
	}

	processed := s.preprocessor.Process(ctx, req.Content, req.MimeType, services.PreprocessOptions{
		Skip:           req.SkipCompression,
		ThresholdBytes: s.threshold,
	})

	name := req.Filename
	if name == "" {
		name = req.Title
	}

	ref, err := s.blobs.CreatePlaceholder(ctx, name, processed.MimeType)
	if err != nil {
		return nil, err
	}
	// WriteContent deletes the placeholder itself when it fails
	if err := s.blobs.WriteContent(ctx, ref, processed.Content, processed.MimeType); err != nil {
		return nil, err
	}

	note := s.newNote(req.AuthorID, req.SubjectID, req.Title, req.Description, ref, processed.MimeType, privileged)
	note.SizeBytes = int64(len(processed.Content))
	note.OriginalSizeBytes = int64(len(req.Content))

	if err := ctx.Err(); err != nil {
		return nil, s.abandon(ctx, ref, fmt.Errorf("upload cancelled: %w", err))
	}
	if err := s.notes.Create(ctx, note); err != nil {
		return nil, s.abandon(ctx, ref, err)
	}

	s.logger.Info("note uploaded",
		"note_id", note.ID,
		"blob_ref", ref,
		"author_id", note.AuthorID,
		"subject_id", note.SubjectID,
		"state", note.State,
		"size_bytes", note.SizeBytes,
		"original_size_bytes", note.OriginalSizeBytes,
		"compressed", processed.Transformed,
	)
	return note, nil
}

// Attach creates a note for a blob the client uploaded beforehand
func (s *noteService) Attach(ctx context.Context, req *services.AttachRequest) (*models.Note, error) {
	if err := validateAttach(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := s.checkSubject(ctx, req.SubjectID); err != nil {
		return nil, err
	}
	privileged, err := s.isPrivileged(ctx, req.AuthorID)
	if err != nil {
		return nil, err
	}

	exists, err := s.blobs.VerifyExists(ctx, req.BlobRef)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: blob_ref does not reference a stored document", domain.ErrValidation)
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	note := s.newNote(req.AuthorID, req.SubjectID, req.Title, req.Description, req.BlobRef, mimeType, privileged)
	note.SizeBytes = req.SizeBytes
	note.OriginalSizeBytes = req.SizeBytes

	if err := ctx.Err(); err != nil {
		return nil, s.abandon(ctx, req.BlobRef, fmt.Errorf("attach cancelled: %w", err))
	}
	if err := s.notes.Create(ctx, note); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// The blob belongs to an existing note; it must survive
			return nil, err
		}
		return nil, s.abandon(ctx, req.BlobRef, err)
	}

	s.logger.Info("note attached",
		"note_id", note.ID,
		"blob_ref", note.BlobRef,
		"author_id", note.AuthorID,
		"state", note.State,
	)
	return note, nil
}

// newNote builds the record for a written blob. Privileged authors bypass
// review and land in public directly.
func (s *noteService) newNote(authorID, subjectID, title, description, ref, mimeType string, privileged bool) *models.Note {
	state := models.NoteStatePending
	if privileged {
		state = models.NoteStatePublic
	}
	now := s.nowFn()
	return &models.Note{
		Title:       title,
		Description: description,
		BlobRef:     ref,
		DocumentURL: s.blobs.ResolveDownloadURL(ref),
		MimeType:    mimeType,
		State:       state,
		AuthorID:    authorID,
		SubjectID:   subjectID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// abandon deletes a blob whose note could not be created. The delete runs
// even if ctx is already cancelled.
func (s *noteService) abandon(ctx context.Context, ref string, cause error) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.BlobMetadataTimeout)
	defer cancel()

	if err := s.blobs.Delete(cleanupCtx, ref); err != nil {
		s.logger.Error("compensating delete failed, blob orphaned",
			"blob_ref", ref,
			"cause", cause,
			"error", err,
			"alert", "orphaned_blob",
		)
		return &domain.OrphanCleanupError{Ref: ref, Cause: cause, Cleanup: err}
	}

	s.logger.Warn("note not created, blob deleted", "blob_ref", ref, "cause", cause)
	return cause
}

func (s *noteService) checkSubject(ctx context.Context, subjectID string) error {
	exists, err := s.taxonomy.SubjectExists(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("check subject: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: subject %s does not exist", domain.ErrValidation, subjectID)
	}
	return nil
}

func (s *noteService) isPrivileged(ctx context.Context, authorID string) (bool, error) {
	privileged, err := s.identity.IsPrivilegedAuthor(ctx, authorID)
	if err != nil {
		return false, fmt.Errorf("check author role: %w", err)
	}
	return privileged, nil
}

func validateUpload(req *services.UploadRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.AuthorID, validation.Required),
		validation.Field(&req.SubjectID, validation.Required),
		validation.Field(&req.Title,
			validation.Required,
			validation.Length(1, config.MaxNoteTitleLength),
		),
		validation.Field(&req.Description, validation.Length(0, config.MaxNoteDescriptionLength)),
		validation.Field(&req.Filename, validation.Length(0, config.MaxNoteTitleLength)),
		validation.Field(&req.Content,
			validation.Required.Error("file is empty"),
			validation.By(maxSize(config.MaxUploadBytes)),
		),
	)
}

func validateAttach(req *services.AttachRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.AuthorID, validation.Required),
		validation.Field(&req.SubjectID, validation.Required),
		validation.Field(&req.BlobRef, validation.Required),
		validation.Field(&req.Title,
			validation.Required,
			validation.Length(1, config.MaxNoteTitleLength),
		),
		validation.Field(&req.Description, validation.Length(0, config.MaxNoteDescriptionLength)),
		validation.Field(&req.SizeBytes, validation.Min(int64(0))),
	)
}

func maxSize(limit int64) validation.RuleFunc {
	return func(value interface{}) error {
		content, _ := value.([]byte)
		if int64(len(content)) > limit {
			return fmt.Errorf("file exceeds %d bytes", limit)
		}
		return nil
	}
}
