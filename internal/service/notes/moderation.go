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

// moderationService implements the ModerationService interface
type moderationService struct {
	notes    repositories.NoteRepository
	identity services.IdentityDirectory
	logger   *slog.Logger
	nowFn    func() time.Time
}

// NewModerationService creates a new moderation service
func NewModerationService(notes repositories.NoteRepository, identity services.IdentityDirectory, logger *slog.Logger) services.ModerationService {
	return newModerationService(notes, identity, logger)
}

func newModerationService(notes repositories.NoteRepository, identity services.IdentityDirectory, logger *slog.Logger) *moderationService {
	return &moderationService{
		notes:    notes,
		identity: identity,
		logger:   logger,
		nowFn:    time.Now,
	}
}

// Approve publishes a pending note
func (s *moderationService) Approve(ctx context.Context, actorID, noteID string) (*models.Note, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.transition(ctx, actorID, noteID, models.NoteStatePublic)
}

// Reject rejects a pending note and starts its retention clock
func (s *moderationService) Reject(ctx context.Context, actorID, noteID string) (*models.Note, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.transition(ctx, actorID, noteID, models.NoteStateRejected)
}

// Decide dispatches an admin decision
func (s *moderationService) Decide(ctx context.Context, actorID, noteID string, req *services.DecisionRequest) (*models.Note, error) {
	err := validation.ValidateStruct(req,
		validation.Field(&req.Action,
			validation.Required,
			validation.In(services.ActionApprove, services.ActionReject),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	switch req.Action {
	case services.ActionApprove:
		return s.Approve(ctx, actorID, noteID)
	default:
		return s.Reject(ctx, actorID, noteID)
	}
}

// Queue lists notes in state for moderators, newest first
func (s *moderationService) Queue(ctx context.Context, actorID string, state models.NoteState, limit, offset int) ([]models.Note, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	if !state.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", domain.ErrValidation, state)
	}

	filter := models.NoteFilter{State: &state, Limit: limit, Offset: offset}
	filter.ApplyDefaults(config.MaxListLimit)
	return s.notes.List(ctx, filter)
}

// transition moves a note to target. Repeating the decision a note already
// carries is a no-op success and never rewrites it, so a retried reject
// cannot push rejected_at (and the purge) further out.
func (s *moderationService) transition(ctx context.Context, actorID, noteID string, target models.NoteState) (*models.Note, error) {
	note, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return nil, err
	}

	if note.State == target {
		s.logger.Debug("moderation decision already applied",
			"note_id", noteID,
			"state", target,
			"actor_id", actorID,
		)
		return note, nil
	}
	if !models.CanTransition(note.State, target) {
		return nil, &domain.InvalidTransitionError{
			NoteID:  noteID,
			Current: string(note.State),
			Target:  string(target),
		}
	}

	updated, err := s.notes.Transition(ctx, noteID, note.State, target, s.nowFn())
	if err != nil {
		var ite *domain.InvalidTransitionError
		if errors.As(err, &ite) && ite.Current == string(target) {
			// Lost the CAS to an identical decision
			return s.notes.GetByID(ctx, noteID)
		}
		return nil, err
	}

	s.logger.Info("note moderated",
		"note_id", noteID,
		"from", note.State,
		"to", target,
		"actor_id", actorID,
	)
	return updated, nil
}

func (s *moderationService) requireAdmin(ctx context.Context, actorID string) error {
	if actorID == "" {
		return domain.ErrUnauthorized
	}
	isAdmin, err := s.identity.IsAdmin(ctx, actorID)
	if err != nil {
		return fmt.Errorf("check admin role: %w", err)
	}
	if !isAdmin {
		return &domain.ForbiddenError{Message: "admin role required"}
	}
	return nil
}
