package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"notehub/internal/config"
	"notehub/internal/domain"
	"notehub/internal/domain/models"
	"notehub/internal/domain/services"
	"notehub/internal/httputil"
)

// NoteHandler handles note HTTP requests
type NoteHandler struct {
	notes  services.NoteService
	logger *slog.Logger
}

// NewNoteHandler creates a new note handler
func NewNoteHandler(notes services.NoteService, logger *slog.Logger) *NoteHandler {
	return &NoteHandler{
		notes:  notes,
		logger: logger,
	}
}

type createNoteResponse struct {
	NoteID string `json:"note_id"`
	*models.Note
}

type updateNoteRequest struct {
	Title       httputil.OptionalString `json:"title"`
	Description httputil.OptionalString `json:"description"`
}

// CreateNote uploads a document (multipart) or attaches a pre-uploaded blob (JSON)
// POST /notes
func (h *NoteHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	userID := httputil.ViewerID(r)
	if userID == "" {
		handleError(w, domain.ErrUnauthorized)
		return
	}

	var (
		note *models.Note
		err  error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		note, err = h.upload(w, r, userID)
	} else {
		note, err = h.attach(w, r, userID)
	}
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, createNoteResponse{NoteID: note.ID, Note: note})
}

func (h *NoteHandler) upload(w http.ResponseWriter, r *http.Request, userID string) (*models.Note, error) {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: invalid multipart body: %v", domain.ErrValidation, err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: file is required", domain.ErrValidation)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	skip, _ := strconv.ParseBool(r.FormValue("skip_compression"))
	req := &services.UploadRequest{
		AuthorID:        userID,
		SubjectID:       r.FormValue("subject_id"),
		Title:           r.FormValue("title"),
		Description:     r.FormValue("description"),
		Filename:        header.Filename,
		MimeType:        header.Header.Get("Content-Type"),
		Content:         content,
		SkipCompression: skip,
	}

	h.logger.Debug("note upload received",
		"author_id", userID,
		"filename", req.Filename,
		"size_bytes", len(content),
	)
	return h.notes.Upload(r.Context(), req)
}

func (h *NoteHandler) attach(w http.ResponseWriter, r *http.Request, userID string) (*models.Note, error) {
	var req services.AttachRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	req.AuthorID = userID
	return h.notes.Attach(r.Context(), &req)
}

// GetNote returns a note with engagement and counts one view
// GET /notes/{id}
func (h *NoteHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	view, err := h.notes.GetNote(r.Context(), httputil.ViewerID(r), r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, view)
}

// DownloadNote redirects to the document and counts one download
// GET /notes/{id}/download
func (h *NoteHandler) DownloadNote(w http.ResponseWriter, r *http.Request) {
	url, err := h.notes.DownloadURL(r.Context(), httputil.ViewerID(r), r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

// UpdateNote edits title and description
// PATCH /notes/{id}
func (h *NoteHandler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var body updateNoteRequest
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	note, err := h.notes.UpdateNote(r.Context(), httputil.ViewerID(r), r.PathValue("id"), &services.UpdateNoteRequest{
		Title:       body.Title.Patch(),
		Description: body.Description.Patch(),
	})
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, note)
}

// DeleteNote removes a note and its document
// DELETE /notes/{id}
func (h *NoteHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.notes.DeleteNote(r.Context(), httputil.ViewerID(r), r.PathValue("id")); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListSubjectNotes lists the public notes of a subject
// GET /subjects/{id}/notes
func (h *NoteHandler) ListSubjectNotes(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		handleError(w, err)
		return
	}

	notes, err := h.notes.ListBySubject(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, notes)
}

// HealthCheck is a simple health check endpoint
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func paging(r *http.Request) (limit, offset int, err error) {
	if limit, err = httputil.QueryInt(r, "limit", 0); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if offset, err = httputil.QueryInt(r, "offset", 0); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return limit, offset, nil
}
