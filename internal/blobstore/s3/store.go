// Package s3 is a blob backend for S3-compatible object stores.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"notehub/internal/blobstore"
	"notehub/internal/domain"
)

// Config configures a Backend
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool

	// PublicBaseURL is prepended to object keys for download links
	// (e.g. a CDN). Empty means path-style URLs on Endpoint.
	PublicBaseURL string
}

// Backend stores each note as one object keyed by a random UUID
type Backend struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

var _ blobstore.Backend = (*Backend)(nil)

// New creates a backend using static credentials
func New(cfg Config) (*Backend, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	baseURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &Backend{client: client, bucket: cfg.Bucket, baseURL: baseURL}, nil
}

// Name identifies the backend
func (b *Backend) Name() string { return "s3" }

// Create writes a zero-byte object under a fresh key
func (b *Backend) Create(ctx context.Context, name, mimeType string) (string, error) {
	key := uuid.NewString()
	opts := minio.PutObjectOptions{
		ContentType:  mimeType,
		UserMetadata: map[string]string{"filename": name},
	}
	if _, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(nil), 0, opts); err != nil {
		return "", fmt.Errorf("create object: %w", classify(err))
	}
	return key, nil
}

// Write replaces the object body
func (b *Backend) Write(ctx context.Context, ref string, content []byte, mimeType string) error {
	opts := minio.PutObjectOptions{ContentType: mimeType}
	_, err := b.client.PutObject(ctx, b.bucket, ref, bytes.NewReader(content), int64(len(content)), opts)
	if err != nil {
		return fmt.Errorf("put object %s: %w", ref, classify(err))
	}
	return nil
}

// Stat checks the object exists
func (b *Backend) Stat(ctx context.Context, ref string) error {
	if _, err := b.client.StatObject(ctx, b.bucket, ref, minio.StatObjectOptions{}); err != nil {
		return classify(err)
	}
	return nil
}

// Delete removes the object. S3 deletes are idempotent, so absence is
// checked first to keep the ErrNotExist contract.
func (b *Backend) Delete(ctx context.Context, ref string) error {
	if err := b.Stat(ctx, ref); err != nil {
		return err
	}
	if err := b.client.RemoveObject(ctx, b.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", ref, classify(err))
	}
	return nil
}

// URL derives the object URL
func (b *Backend) URL(ref string) string {
	return b.baseURL + "/" + url.PathEscape(ref)
}

// classify maps minio errors onto blobstore/domain errors. It must see the
// unwrapped minio error: ToErrorResponse does not unwrap.
func classify(err error) error {
	if err == nil {
		return nil
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchObject":
		return blobstore.ErrNotExist
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "AccessDenied":
		return fmt.Errorf("%w: %w", domain.ErrCredentialInvalid, err)
	case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
		return fmt.Errorf("%w: %w", domain.ErrTransientStore, err)
	}

	if resp.StatusCode == http.StatusNotFound && resp.Code == "" {
		return blobstore.ErrNotExist
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", domain.ErrTransientStore, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", domain.ErrTransientStore, err)
	}
	return err
}
