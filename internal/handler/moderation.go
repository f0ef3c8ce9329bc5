package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"notehub/internal/domain"
	"notehub/internal/domain/models"
	"notehub/internal/domain/services"
	"notehub/internal/httputil"
)

// ModerationHandler handles admin moderation requests
type ModerationHandler struct {
	moderation services.ModerationService
	logger     *slog.Logger
}

// NewModerationHandler creates a new moderation handler
func NewModerationHandler(moderation services.ModerationService, logger *slog.Logger) *ModerationHandler {
	return &ModerationHandler{
		moderation: moderation,
		logger:     logger,
	}
}

// Decide applies an approve or reject decision
// POST /admin/notes/{id}/decision
func (h *ModerationHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req services.DecisionRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	note, err := h.moderation.Decide(r.Context(), httputil.ViewerID(r), r.PathValue("id"), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, note)
}

// Queue lists notes awaiting (or past) moderation
// GET /admin/notes?state=pending
func (h *ModerationHandler) Queue(w http.ResponseWriter, r *http.Request) {
	state := models.NoteStatePending
	if raw := r.URL.Query().Get("state"); raw != "" {
		parsed, err := models.ParseNoteState(raw)
		if err != nil {
			handleError(w, fmt.Errorf("%w: %v", domain.ErrValidation, err))
			return
		}
		state = parsed
	}

	limit, offset, err := paging(r)
	if err != nil {
		handleError(w, err)
		return
	}

	notes, err := h.moderation.Queue(r.Context(), httputil.ViewerID(r), state, limit, offset)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, notes)
}
