package models

import (
	"fmt"
	"time"
)

// NoteState is the moderation state of a note. Exactly one state holds at a
// time; there is no separate public/rejected flag pair.
type NoteState string

const (
	NoteStatePending  NoteState = "pending"
	NoteStatePublic   NoteState = "public"
	NoteStateRejected NoteState = "rejected"
)

// Valid reports whether s is one of the known states
func (s NoteState) Valid() bool {
	switch s {
	case NoteStatePending, NoteStatePublic, NoteStateRejected:
		return true
	}
	return false
}

// ParseNoteState converts a query/DB value into a NoteState
func ParseNoteState(v string) (NoteState, error) {
	s := NoteState(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown note state %q", v)
	}
	return s, nil
}

// CanTransition reports whether the moderation engine defines the edge from -> to.
// Only pending notes can be decided; public and rejected are terminal here.
func CanTransition(from, to NoteState) bool {
	return from == NoteStatePending && (to == NoteStatePublic || to == NoteStateRejected)
}

type Note struct {
	ID                string     `json:"id" db:"id"`
	Title             string     `json:"title" db:"title"`
	Description       string     `json:"description" db:"description"`
	BlobRef           string     `json:"blob_ref" db:"blob_ref"`
	DocumentURL       string     `json:"document_url" db:"document_url"` // Cache of ResolveDownloadURL(BlobRef)
	MimeType          string     `json:"mime_type" db:"mime_type"`
	SizeBytes         int64      `json:"size_bytes" db:"size_bytes"`
	OriginalSizeBytes int64      `json:"original_size_bytes" db:"original_size_bytes"`
	State             NoteState  `json:"state" db:"state"`
	RejectedAt        *time.Time `json:"rejected_at" db:"rejected_at"`
	ViewCount         int64      `json:"view_count" db:"view_count"`
	DownloadCount     int64      `json:"download_count" db:"download_count"`
	AuthorID          string     `json:"author_id" db:"author_id"`
	SubjectID         string     `json:"subject_id" db:"subject_id"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// IsDurable reports whether the note points at a written blob
func (n *Note) IsDurable() bool {
	return n.BlobRef != ""
}

// PurgeAt returns when a rejected note becomes eligible for deletion.
// ok is false for notes that are not rejected.
func (n *Note) PurgeAt(retention time.Duration) (t time.Time, ok bool) {
	if n.State != NoteStateRejected || n.RejectedAt == nil {
		return time.Time{}, false
	}
	return n.RejectedAt.Add(retention), true
}

// Engagement combines the stored counters with counts derived from the
// social store. Likes and comments are never stored on the note.
type Engagement struct {
	Views     int64 `json:"views"`
	Downloads int64 `json:"downloads"`
	Likes     int64 `json:"likes"`
	Comments  int64 `json:"comments"`
}

// NoteView is the read model returned to clients
type NoteView struct {
	Note
	Engagement      Engagement `json:"engagement"`
	HoursUntilPurge *float64   `json:"hours_until_purge,omitempty"` // Only for rejected notes
}

// NoteFilter selects notes for list endpoints
type NoteFilter struct {
	State     *NoteState
	SubjectID string
	AuthorID  string
	Limit     int
	Offset    int
}

// ApplyDefaults clamps paging values
func (f *NoteFilter) ApplyDefaults(maxLimit int) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
