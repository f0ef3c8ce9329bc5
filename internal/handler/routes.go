package handler

import "net/http"

// RegisterRoutes mounts the note and moderation endpoints on mux
// (Go 1.22+ method patterns)
func RegisterRoutes(mux *http.ServeMux, notes *NoteHandler, moderation *ModerationHandler) {
	mux.HandleFunc("GET /health", HealthCheck)

	// Note routes
	mux.HandleFunc("POST /notes", notes.CreateNote)
	mux.HandleFunc("GET /notes/{id}", notes.GetNote)
	mux.HandleFunc("PATCH /notes/{id}", notes.UpdateNote)
	mux.HandleFunc("DELETE /notes/{id}", notes.DeleteNote)
	mux.HandleFunc("GET /notes/{id}/download", notes.DownloadNote)
	mux.HandleFunc("GET /subjects/{id}/notes", notes.ListSubjectNotes)

	// Moderation routes
	mux.HandleFunc("GET /admin/notes", moderation.Queue)
	mux.HandleFunc("POST /admin/notes/{id}/decision", moderation.Decide)
}
