package config

import "time"

const (
	// MaxNoteTitleLength is the maximum length for note titles.
	// Limited to 255 to fit in PostgreSQL VARCHAR(255) and provide
	// reasonable UX (titles should be short and descriptive).
	MaxNoteTitleLength = 255

	// MaxNoteDescriptionLength is the maximum length for note descriptions.
	MaxNoteDescriptionLength = 4000

	// MaxUploadBytes caps a single document upload (multipart body included).
	MaxUploadBytes = 50 << 20

	// DefaultCompressThresholdBytes is the size above which uploads are
	// handed to a compressor before they reach the blob store.
	DefaultCompressThresholdBytes = 1 << 20

	// DefaultRetentionWindow is how long a rejected note is kept before the
	// reaper deletes its record and blob.
	DefaultRetentionWindow = 48 * time.Hour

	// BlobWriteTimeout bounds one content write attempt.
	BlobWriteTimeout = 30 * time.Second

	// BlobMetadataTimeout bounds create/stat/delete calls and token refreshes.
	BlobMetadataTimeout = 10 * time.Second

	// MaxListLimit caps page sizes on list endpoints.
	MaxListLimit = 100
)
