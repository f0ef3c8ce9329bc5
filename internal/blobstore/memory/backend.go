// Package memory is an in-process blob backend for local development and
// tests. Failures can be injected per operation.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"notehub/internal/blobstore"
)

// Operation names used for failure injection and call counting
const (
	OpCreate = "create"
	OpWrite  = "write"
	OpStat   = "stat"
	OpDelete = "delete"
)

// Object is a stored blob
type Object struct {
	Name     string
	MimeType string
	Content  []byte
}

// Hook runs before every operation; a non-nil error is returned instead of
// performing it. It may block on ctx to simulate slow remotes.
type Hook func(ctx context.Context, op, ref string) error

// Backend stores blobs in a map
type Backend struct {
	baseURL string

	mu       sync.Mutex
	objects  map[string]*Object
	failures map[string][]error
	calls    map[string]int
	hook     Hook
}

// New creates a backend whose download URLs are baseURL + "/" + ref
func New(baseURL string) *Backend {
	if baseURL == "" {
		baseURL = "memory://blobs"
	}
	return &Backend{
		baseURL:  baseURL,
		objects:  make(map[string]*Object),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

var _ blobstore.Backend = (*Backend)(nil)

// Name identifies the backend in logs
func (b *Backend) Name() string { return "memory" }

// FailNext queues errors for op; each call consumes one
func (b *Backend) FailNext(op string, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = append(b.failures[op], errs...)
}

// SetHook installs a hook (nil removes it)
func (b *Backend) SetHook(hook Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = hook
}

// Calls returns how many times op was attempted
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// Exists reports whether ref is stored
func (b *Backend) Exists(ref string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[ref]
	return ok
}

// Get returns a copy of the stored object
func (b *Backend) Get(ref string) (Object, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[ref]
	if !ok {
		return Object{}, false
	}
	return *obj, true
}

// Len returns the number of stored blobs
func (b *Backend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// Put stores a blob directly, as if a client had uploaded it out of band
func (b *Backend) Put(ref string, content []byte, mimeType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[ref] = &Object{Name: ref, MimeType: mimeType, Content: append([]byte(nil), content...)}
}

func (b *Backend) before(ctx context.Context, op, ref string) error {
	b.mu.Lock()
	b.calls[op]++
	hook := b.hook
	var injected error
	if queue := b.failures[op]; len(queue) > 0 {
		injected = queue[0]
		b.failures[op] = queue[1:]
	}
	b.mu.Unlock()

	if injected != nil {
		return injected
	}
	if hook != nil {
		if err := hook(ctx, op, ref); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Create reserves a new object
func (b *Backend) Create(ctx context.Context, name, mimeType string) (string, error) {
	if err := b.before(ctx, OpCreate, ""); err != nil {
		return "", err
	}
	ref := uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[ref] = &Object{Name: name, MimeType: mimeType}
	return ref, nil
}

// Write replaces the object's content
func (b *Backend) Write(ctx context.Context, ref string, content []byte, mimeType string) error {
	if err := b.before(ctx, OpWrite, ref); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[ref]
	if !ok {
		return fmt.Errorf("write %s: %w", ref, blobstore.ErrNotExist)
	}
	obj.Content = append([]byte(nil), content...)
	obj.MimeType = mimeType
	return nil
}

// Stat checks the object exists
func (b *Backend) Stat(ctx context.Context, ref string) error {
	if err := b.before(ctx, OpStat, ref); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[ref]; !ok {
		return blobstore.ErrNotExist
	}
	return nil
}

// Delete removes the object
func (b *Backend) Delete(ctx context.Context, ref string) error {
	if err := b.before(ctx, OpDelete, ref); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[ref]; !ok {
		return blobstore.ErrNotExist
	}
	delete(b.objects, ref)
	return nil
}

// URL derives the download URL
func (b *Backend) URL(ref string) string {
	return b.baseURL + "/" + ref
}
