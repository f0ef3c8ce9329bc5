package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"notehub/internal/blobstore"
	"notehub/internal/domain"
)

type fakeTokens struct {
	mu          sync.Mutex
	token       string
	err         error
	invalidated int
}

func (f *fakeTokens) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.err
}

func (f *fakeTokens) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
}

// fakeDrive is a minimal in-memory Drive v3 API
type fakeDrive struct {
	mu       sync.Mutex
	files    map[string][]byte
	trashed  map[string]bool
	shared   map[string]bool
	nextID   int
	failNext map[string]int // method -> status for the next call

	failPermissions bool
	stallDeletes    bool
}

func newFakeDrive(t *testing.T) (*fakeDrive, *httptest.Server) {
	t.Helper()
	fd := &fakeDrive{
		files:    make(map[string][]byte),
		trashed:  make(map[string]bool),
		shared:   make(map[string]bool),
		failNext: make(map[string]int),
	}
	srv := httptest.NewServer(http.HandlerFunc(fd.serve))
	t.Cleanup(srv.Close)
	return fd, srv
}

func (fd *fakeDrive) fail(method string, status int) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.failNext[method] = status
}

func (fd *fakeDrive) isShared(id string) bool {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.shared[id]
}

func (fd *fakeDrive) content(id string) []byte {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.files[id]
}

func (fd *fakeDrive) count() int {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return len(fd.files)
}

func (fd *fakeDrive) set(fn func(fd *fakeDrive)) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fn(fd)
}

func (fd *fakeDrive) serve(w http.ResponseWriter, r *http.Request) {
	fd.mu.Lock()
	stall := fd.stallDeletes && r.Method == http.MethodDelete
	fd.mu.Unlock()
	if stall {
		<-r.Context().Done()
		return
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer tok" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if status, ok := fd.failNext[r.Method]; ok {
		delete(fd.failNext, r.Method)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":{"errors":[{"reason":"backendError"}]}}`)
		return
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && path == "/api/files":
		var meta fileMetadata
		_ = json.NewDecoder(r.Body).Decode(&meta)
		fd.nextID++
		id := fmt.Sprintf("file%d", fd.nextID)
		fd.files[id] = nil
		_ = json.NewEncoder(w).Encode(fileMetadata{ID: id})

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/permissions"):
		if fd.failPermissions {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/api/files/"), "/permissions")
		var perm permission
		_ = json.NewDecoder(r.Body).Decode(&perm)
		if perm.Role != "reader" || perm.Type != "anyone" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fd.shared[id] = true
		_, _ = io.WriteString(w, `{}`)

	case r.Method == http.MethodPatch && strings.HasPrefix(path, "/upload/files/"):
		id := strings.TrimPrefix(path, "/upload/files/")
		if _, ok := fd.files[id]; !ok || r.URL.Query().Get("uploadType") != "media" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fd.files[id], _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{}`)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/files/"):
		id := strings.TrimPrefix(path, "/api/files/")
		if _, ok := fd.files[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(fileMetadata{ID: id, Trashed: fd.trashed[id]})

	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/api/files/"):
		id := strings.TrimPrefix(path, "/api/files/")
		if _, ok := fd.files[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(fd.files, id)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, tokens *fakeTokens) *Client {
	t.Helper()
	return New(Config{
		APIBaseURL:    srv.URL + "/api",
		UploadBaseURL: srv.URL + "/upload",
		HTTPClient:    srv.Client(),
	}, tokens, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClient_Lifecycle(t *testing.T) {
	fd, srv := newFakeDrive(t)
	c := newTestClient(t, srv, &fakeTokens{token: "tok"})
	ctx := context.Background()

	ref, err := c.Create(ctx, "notes.pdf", "application/pdf")
	require.NoError(t, err)
	assert.True(t, fd.isShared(ref))

	require.NoError(t, c.Write(ctx, ref, []byte("%PDF"), "application/pdf"))
	assert.Equal(t, []byte("%PDF"), fd.content(ref))

	require.NoError(t, c.Stat(ctx, ref))

	fd.set(func(fd *fakeDrive) { fd.trashed[ref] = true })
	assert.ErrorIs(t, c.Stat(ctx, ref), blobstore.ErrNotExist)

	require.NoError(t, c.Delete(ctx, ref))
	assert.ErrorIs(t, c.Delete(ctx, ref), blobstore.ErrNotExist)
	assert.ErrorIs(t, c.Stat(ctx, ref), blobstore.ErrNotExist)
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
		wantNotExist  bool
	}{
		{name: "server error", status: http.StatusInternalServerError, wantTransient: true},
		{name: "bad gateway", status: http.StatusBadGateway, wantTransient: true},
		{name: "throttled", status: http.StatusTooManyRequests, wantTransient: true},
		{name: "request timeout", status: http.StatusRequestTimeout, wantTransient: true},
		{name: "not found", status: http.StatusNotFound, wantNotExist: true},
		{name: "bad request", status: http.StatusBadRequest},
		{name: "forbidden", status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd, srv := newFakeDrive(t)
			fd.set(func(fd *fakeDrive) { fd.files["f1"] = nil })
			c := newTestClient(t, srv, &fakeTokens{token: "tok"})

			fd.fail(http.MethodGet, tt.status)
			err := c.Stat(context.Background(), "f1")
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, errors.Is(err, domain.ErrTransientStore))
			assert.Equal(t, tt.wantNotExist, errors.Is(err, blobstore.ErrNotExist))
		})
	}
}

func TestClient_UnauthorizedInvalidatesToken(t *testing.T) {
	_, srv := newFakeDrive(t)
	tokens := &fakeTokens{token: "stale"}
	c := newTestClient(t, srv, tokens)

	err := c.Stat(context.Background(), "f1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientStore)
	assert.Equal(t, 1, tokens.invalidated)
}

func TestClient_CredentialErrorPassesThrough(t *testing.T) {
	_, srv := newFakeDrive(t)
	c := newTestClient(t, srv, &fakeTokens{err: domain.ErrCredentialInvalid})

	_, err := c.Create(context.Background(), "notes.pdf", "application/pdf")
	assert.ErrorIs(t, err, domain.ErrCredentialInvalid)
}

func TestClient_ShareFailureRemovesFile(t *testing.T) {
	fd, srv := newFakeDrive(t)
	c := newTestClient(t, srv, &fakeTokens{token: "tok"})
	fd.set(func(fd *fakeDrive) { fd.failPermissions = true })

	_, err := c.Create(context.Background(), "b.pdf", "application/pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientStore)
	assert.Equal(t, 0, fd.count())
}

func TestClient_ShareFailureCleanupIsBounded(t *testing.T) {
	fd, srv := newFakeDrive(t)
	c := New(Config{
		APIBaseURL:     srv.URL + "/api",
		UploadBaseURL:  srv.URL + "/upload",
		HTTPClient:     srv.Client(),
		CleanupTimeout: 50 * time.Millisecond,
	}, &fakeTokens{token: "tok"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	fd.set(func(fd *fakeDrive) {
		fd.failPermissions = true
		fd.stallDeletes = true
	})

	done := make(chan error, 1)
	go func() {
		_, err := c.Create(context.Background(), "b.pdf", "application/pdf")
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrTransientStore)
	case <-time.After(5 * time.Second):
		t.Fatal("Create blocked on a stalled cleanup delete")
	}
	assert.Equal(t, 1, fd.count(), "file stays behind when the delete times out")
}

func TestClient_URL(t *testing.T) {
	c := New(Config{}, &fakeTokens{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, "https://drive.google.com/uc?export=download&id=abc", c.URL("abc"))
}
