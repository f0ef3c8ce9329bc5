// Package blobstore adapts a raw remote document store to the
// services.BlobStore contract: timeouts, bounded retries, compensating
// deletes and metrics live here so backends stay thin.
package blobstore

import (
	"context"
	"errors"

	"github.com/zeebo/errs"
)

// Error is the class for every error returned by Store
var Error = errs.Class("blobstore")

// ErrNotExist is returned by backends when the object is absent
var ErrNotExist = errors.New("blob does not exist")

// Backend is a single remote store. Implementations report retryable
// failures by wrapping domain.ErrTransientStore and credential failures
// with domain.ErrCredentialInvalid; everything else is treated as permanent.
type Backend interface {
	Name() string

	// Create reserves an object identity with no content
	Create(ctx context.Context, name, mimeType string) (ref string, err error)

	// Write uploads content into an existing object
	Write(ctx context.Context, ref string, content []byte, mimeType string) error

	// Stat returns ErrNotExist when the object is gone
	Stat(ctx context.Context, ref string) error

	// Delete returns ErrNotExist when the object is already gone
	Delete(ctx context.Context, ref string) error

	// URL derives the download URL without network I/O
	URL(ref string) string
}
