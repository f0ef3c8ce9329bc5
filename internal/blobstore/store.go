package blobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"notehub/internal/config"
	"notehub/internal/domain"
	"notehub/internal/domain/services"
)

// Options tunes a Store. Zero values take the defaults.
type Options struct {
	WriteTimeout    time.Duration // per attempt
	MetadataTimeout time.Duration // per attempt
	CleanupTimeout  time.Duration // compensating delete budget
	MaxAttempts     int
	Backoff         func() backoff.BackOff
	Observer        Observer
}

// Store implements services.BlobStore on top of a Backend
type Store struct {
	backend Backend
	logger  *slog.Logger
	opts    Options
}

var _ services.BlobStore = (*Store)(nil)

// New creates a Store
func New(backend Backend, logger *slog.Logger, opts Options) *Store {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = config.BlobWriteTimeout
	}
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = config.BlobMetadataTimeout
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = config.BlobMetadataTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff == nil {
		opts.Backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 0 // bounded by MaxAttempts
			return b
		}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Store{
		backend: backend,
		logger:  logger.With("component", "blobstore", "backend", backend.Name()),
		opts:    opts,
	}
}

// CreatePlaceholder reserves a remote object. A remote create is not
// idempotent, so a transient failure is returned to the caller instead of
// risking two placeholders.
func (s *Store) CreatePlaceholder(ctx context.Context, name, mimeType string) (string, error) {
	start := time.Now()

	attemptCtx, cancel := context.WithTimeout(ctx, s.opts.MetadataTimeout)
	defer cancel()

	ref, err := s.backend.Create(attemptCtx, name, mimeType)
	err = normalize(err)
	s.opts.Observer.RecordOperation("create", time.Since(start), err)
	if err != nil {
		return "", Error.Wrap(fmt.Errorf("create placeholder %q: %w", name, err))
	}
	if ref == "" {
		return "", Error.New("create placeholder %q: backend returned empty reference", name)
	}

	s.logger.Debug("placeholder created", "blob_ref", ref, "mime_type", mimeType)
	return ref, nil
}

// WriteContent uploads content into ref. If the write cannot be completed
// the placeholder is deleted before returning, even when ctx was cancelled.
func (s *Store) WriteContent(ctx context.Context, ref string, content []byte, mimeType string) error {
	start := time.Now()
	err := s.retry(ctx, "write", ref, s.opts.WriteTimeout, func(ctx context.Context) error {
		return s.backend.Write(ctx, ref, content, mimeType)
	})
	s.opts.Observer.RecordUpload(time.Since(start), len(content), err)
	if err == nil {
		s.logger.Debug("content written", "blob_ref", ref, "size_bytes", len(content))
		return nil
	}

	s.logger.Warn("content write failed, deleting placeholder", "blob_ref", ref, "error", err)
	if cleanupErr := s.Compensate(ctx, ref); cleanupErr != nil {
		return Error.Wrap(&domain.OrphanCleanupError{
			Ref:     ref,
			Cause:   fmt.Errorf("write %s: %w", ref, err),
			Cleanup: cleanupErr,
		})
	}
	return Error.Wrap(fmt.Errorf("write %s: %w", ref, err))
}

// Compensate deletes ref on a context detached from ctx's cancellation.
// A failure is returned matching domain.ErrOrphanCleanup.
func (s *Store) Compensate(ctx context.Context, ref string) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.CleanupTimeout)
	defer cancel()

	err := s.Delete(cleanupCtx, ref)
	s.opts.Observer.RecordCompensation(err)
	if err != nil {
		s.logger.Error("compensating delete failed, blob orphaned",
			"blob_ref", ref,
			"error", err,
			"alert", "orphaned_blob",
		)
		return fmt.Errorf("%w: %s: %w", domain.ErrOrphanCleanup, ref, err)
	}
	return nil
}

// VerifyExists reports whether ref is reachable under current credentials
func (s *Store) VerifyExists(ctx context.Context, ref string) (bool, error) {
	start := time.Now()
	exists := true
	err := s.retry(ctx, "stat", ref, s.opts.MetadataTimeout, func(ctx context.Context) error {
		return s.backend.Stat(ctx, ref)
	})
	if errors.Is(err, ErrNotExist) {
		exists, err = false, nil
	}
	s.opts.Observer.RecordOperation("stat", time.Since(start), err)
	if err != nil {
		return false, Error.Wrap(fmt.Errorf("stat %s: %w", ref, err))
	}
	return exists, nil
}

// ResolveDownloadURL derives the download URL for ref
func (s *Store) ResolveDownloadURL(ref string) string {
	return s.backend.URL(ref)
}

// Delete removes ref; an absent object is success
func (s *Store) Delete(ctx context.Context, ref string) error {
	start := time.Now()
	err := s.retry(ctx, "delete", ref, s.opts.MetadataTimeout, func(ctx context.Context) error {
		return s.backend.Delete(ctx, ref)
	})
	if errors.Is(err, ErrNotExist) {
		s.logger.Debug("blob already absent", "blob_ref", ref)
		err = nil
	}
	s.opts.Observer.RecordOperation("delete", time.Since(start), err)
	if err != nil {
		return Error.Wrap(fmt.Errorf("delete %s: %w", ref, err))
	}
	return nil
}

// retry runs fn with a per-attempt timeout and bounded exponential backoff.
// Only transient failures are retried.
func (s *Store) retry(ctx context.Context, op, ref string, timeout time.Duration, fn func(context.Context) error) error {
	attempt := 0
	b := backoff.WithContext(
		backoff.WithMaxRetries(s.opts.Backoff(), uint64(s.opts.MaxAttempts-1)),
		ctx,
	)

	err := backoff.Retry(func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := normalize(fn(attemptCtx))
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		s.logger.Debug("blob operation failed, will retry",
			"operation", op,
			"blob_ref", ref,
			"attempt", attempt,
			"error", err,
		)
		return err
	}, b)

	return normalize(err)
}

// normalize turns bare context errors into transient store failures
func normalize(err error) error {
	if err == nil || errors.Is(err, domain.ErrTransientStore) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", domain.ErrTransientStore, err)
	}
	return err
}
