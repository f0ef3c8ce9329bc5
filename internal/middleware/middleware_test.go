package middleware

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"notehub/internal/domain"
	"notehub/internal/domain/models"
	"notehub/internal/httputil"
)

type fakeVerifier struct{}

func (fakeVerifier) VerifyToken(token string) (*models.SupabaseClaims, error) {
	if token != "good" {
		return nil, domain.ErrUnauthorized
	}
	return &models.SupabaseClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
		Role:             "authenticated",
	}, nil
}

func (fakeVerifier) Close() error { return nil }

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "user="+httputil.ViewerID(r))
	})
}

func TestAuthMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := AuthMiddleware(fakeVerifier{}, logger)(echoUser())

	tests := []struct {
		name       string
		method     string
		path       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{name: "health skips auth", method: http.MethodGet, path: "/health", wantStatus: http.StatusOK, wantBody: "user="},
		{name: "anonymous read", method: http.MethodGet, path: "/notes/1", wantStatus: http.StatusOK, wantBody: "user="},
		{name: "authenticated read", method: http.MethodGet, path: "/notes/1", header: "Bearer good", wantStatus: http.StatusOK, wantBody: "user=user-1"},
		{name: "anonymous upload", method: http.MethodPost, path: "/notes", wantStatus: http.StatusUnauthorized},
		{name: "anonymous admin read", method: http.MethodGet, path: "/admin/notes", wantStatus: http.StatusUnauthorized},
		{name: "bad token on read", method: http.MethodGet, path: "/notes/1", header: "Bearer bad", wantStatus: http.StatusUnauthorized},
		{name: "not bearer", method: http.MethodPost, path: "/notes", header: "Basic abc", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notes/1", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestRecovery_AfterResponseStarted(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://blobs.test/x", http.StatusFound)
		panic(errors.New("late"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notes/1/download", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://blobs.test/x", rec.Header().Get("Location"))
}
