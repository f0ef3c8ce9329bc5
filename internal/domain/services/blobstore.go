package services

import "context"

// BlobStore is the storage-agnostic contract for the remote document store.
// Credential failures surface as domain.ErrCredentialInvalid, retryable
// failures as domain.ErrTransientStore.
type BlobStore interface {
	// CreatePlaceholder reserves a remote object identity with no content yet
	CreatePlaceholder(ctx context.Context, name, mimeType string) (string, error)

	// WriteContent uploads content into a placeholder. On final failure the
	// placeholder is deleted before returning.
	WriteContent(ctx context.Context, ref string, content []byte, mimeType string) error

	// VerifyExists confirms the object is reachable under current credentials
	VerifyExists(ctx context.Context, ref string) (bool, error)

	// ResolveDownloadURL derives the access URL without network I/O
	ResolveDownloadURL(ref string) string

	// Delete removes the object. An already-absent object is not an error.
	Delete(ctx context.Context, ref string) error
}

// Preprocessor shrinks documents before upload. It never fails: on any
// problem it hands back the input unchanged.
type Preprocessor interface {
	Process(ctx context.Context, content []byte, mimeType string, opts PreprocessOptions) PreprocessResult
}

// PreprocessOptions tunes a single Process call
type PreprocessOptions struct {
	Skip           bool  // Author asked for the original bytes
	ThresholdBytes int64 // Zero means the configured default
}

// PreprocessResult is the output of a Preprocessor
type PreprocessResult struct {
	Content     []byte
	MimeType    string
	Transformed bool
}
