package credentials

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"notehub/internal/domain"
	"notehub/internal/domain/models"
	"notehub/internal/repository/memory"
)

// tokenServer is a fake OAuth token endpoint
type tokenServer struct {
	*httptest.Server
	hits    atomic.Int32
	mu      sync.Mutex
	status  int
	body    string
	delay   time.Duration
	release chan struct{}
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: http.StatusOK, body: tokenJSON("access-1", "", 3600)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.hits.Add(1)
		ts.mu.Lock()
		status, body, delay, release := ts.status, ts.body, ts.delay, ts.release
		ts.mu.Unlock()

		if release != nil {
			<-release
		}
		time.Sleep(delay)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) respond(status int, body string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.status = status
	ts.body = body
}

func tokenJSON(access, refresh string, expiresIn int) string {
	if refresh == "" {
		return fmt.Sprintf(`{"access_token":%q,"token_type":"Bearer","expires_in":%d}`, access, expiresIn)
	}
	return fmt.Sprintf(`{"access_token":%q,"refresh_token":%q,"token_type":"Bearer","expires_in":%d}`, access, refresh, expiresIn)
}

func newTestManager(t *testing.T, ts *tokenServer, store *memory.CredentialRepository) *Manager {
	t.Helper()
	cfg := Config{
		OAuth: &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			Endpoint: oauth2.Endpoint{
				AuthURL:   ts.URL + "/auth",
				TokenURL:  ts.URL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		Provider:     "drive",
		RefreshToken: "refresh-1",
	}
	return NewManager(cfg, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAccessToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	ts := newTokenServer(t)
	ts.delay = 50 * time.Millisecond
	m := newTestManager(t, ts, memory.NewCredentialRepository())

	const callers = 20
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.AccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-1", tokens[i])
	}
	assert.Equal(t, int32(1), ts.hits.Load())
}

func TestAccessToken_CachedUntilSafetyMargin(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn int
		wantHits  int32
	}{
		{name: "long lived token is reused", expiresIn: 3600, wantHits: 1},
		{name: "token inside margin is refreshed", expiresIn: 30, wantHits: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t)
			ts.respond(http.StatusOK, tokenJSON("access-1", "", tt.expiresIn))
			m := newTestManager(t, ts, memory.NewCredentialRepository())

			_, err := m.AccessToken(context.Background())
			require.NoError(t, err)
			_, err = m.AccessToken(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.wantHits, ts.hits.Load())
		})
	}
}

func TestAccessToken_InvalidGrantIsSticky(t *testing.T) {
	ts := newTokenServer(t)
	ts.respond(http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Token has been revoked"}`)
	store := memory.NewCredentialRepository()
	m := newTestManager(t, ts, store)

	_, err := m.AccessToken(context.Background())
	require.ErrorIs(t, err, domain.ErrCredentialInvalid)
	assert.False(t, domain.IsRetryable(err))

	_, err = m.AccessToken(context.Background())
	require.ErrorIs(t, err, domain.ErrCredentialInvalid)
	assert.Equal(t, int32(1), ts.hits.Load(), "no network call while invalid")
	assert.False(t, m.Valid())

	// operator re-authorizes
	ts.respond(http.StatusOK, tokenJSON("access-2", "", 3600))
	require.NoError(t, m.Reauthorize(context.Background(), "refresh-2"))

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)

	cred, err := store.Get(context.Background(), "drive")
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", cred.RefreshToken)
}

func TestAccessToken_ServerErrorIsTransient(t *testing.T) {
	ts := newTokenServer(t)
	ts.respond(http.StatusInternalServerError, `{"error":"backend_error"}`)
	m := newTestManager(t, ts, memory.NewCredentialRepository())

	_, err := m.AccessToken(context.Background())
	require.ErrorIs(t, err, domain.ErrAuthUnavailable)
	assert.True(t, domain.IsRetryable(err))

	ts.respond(http.StatusOK, tokenJSON("access-1", "", 3600))
	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, int32(2), ts.hits.Load())
}

func TestAccessToken_MissingRefreshToken(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(t, ts, memory.NewCredentialRepository())
	m.refreshToken = ""

	_, err := m.AccessToken(context.Background())
	require.ErrorIs(t, err, domain.ErrCredentialInvalid)
	assert.Equal(t, int32(0), ts.hits.Load())
}

func TestAccessToken_RotatedRefreshTokenIsPersisted(t *testing.T) {
	ts := newTokenServer(t)
	ts.respond(http.StatusOK, tokenJSON("access-1", "refresh-rotated", 3600))
	store := memory.NewCredentialRepository()
	m := newTestManager(t, ts, store)

	_, err := m.AccessToken(context.Background())
	require.NoError(t, err)

	cred, err := store.Get(context.Background(), "drive")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "refresh-rotated", cred.RefreshToken)
	assert.Equal(t, "access-1", cred.AccessToken)
}

func TestAccessToken_StoredCredentialWins(t *testing.T) {
	ts := newTokenServer(t)
	store := memory.NewCredentialRepository()
	expiry := time.Now().Add(time.Hour)
	require.NoError(t, store.Save(context.Background(), &models.Credential{
		Provider:     "drive",
		RefreshToken: "stored-refresh",
		AccessToken:  "stored-access",
		Expiry:       &expiry,
	}))
	m := newTestManager(t, ts, store)

	// first call has no cached token in memory, so it goes through load
	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored-access", token)
	assert.Equal(t, int32(0), ts.hits.Load())
}

func TestInvalidate_ForcesRefresh(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(t, ts, memory.NewCredentialRepository())

	_, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	m.Invalidate()
	_, err = m.AccessToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), ts.hits.Load())
}

func TestAccessToken_CallerCanAbandonWait(t *testing.T) {
	ts := newTokenServer(t)
	release := make(chan struct{})
	ts.release = release
	m := newTestManager(t, ts, memory.NewCredentialRepository())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.AccessToken(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, domain.IsRetryable(err))

	// the detached refresh still completes for later callers
	close(release)
	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
}

func TestExchange_StoresTokens(t *testing.T) {
	ts := newTokenServer(t)
	ts.respond(http.StatusOK, tokenJSON("access-x", "refresh-x", 3600))
	store := memory.NewCredentialRepository()
	m := newTestManager(t, ts, store)

	require.NoError(t, m.Exchange(context.Background(), "code-123"))

	cred, err := store.Get(context.Background(), "drive")
	require.NoError(t, err)
	assert.Equal(t, "refresh-x", cred.RefreshToken)

	url := m.AuthCodeURL("state-1")
	assert.Contains(t, url, "access_type=offline")
	assert.Contains(t, url, "state=state-1")
}

func TestAccessToken_PicksUpReauthorizationFromAnotherProcess(t *testing.T) {
	ts := newTokenServer(t)
	ts.respond(http.StatusBadRequest, `{"error":"invalid_grant"}`)
	store := memory.NewCredentialRepository()

	now := time.Now()
	server := newTestManager(t, ts, store)
	server.TestingSetNow(func() time.Time { return now })

	_, err := server.AccessToken(context.Background())
	require.ErrorIs(t, err, domain.ErrCredentialInvalid)

	// nothing new in the store yet
	now = now.Add(DefaultReloadInterval + time.Second)
	_, err = server.AccessToken(context.Background())
	require.ErrorIs(t, err, domain.ErrCredentialInvalid)
	assert.Equal(t, int32(1), ts.hits.Load())

	// notesctl authorize runs elsewhere against the same store
	ts.respond(http.StatusOK, tokenJSON("access-2", "", 3600))
	operator := newTestManager(t, ts, store)
	require.NoError(t, operator.Reauthorize(context.Background(), "refresh-2"))
	_, err = operator.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), ts.hits.Load())

	// throttled until the next reload slot
	_, err = server.AccessToken(context.Background())
	require.ErrorIs(t, err, domain.ErrCredentialInvalid)

	now = now.Add(DefaultReloadInterval + time.Second)
	token, err := server.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.True(t, server.Valid())
}

func TestRefresh_StaleResultLosesToReauthorize(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "stale invalid grant", status: http.StatusBadRequest, body: `{"error":"invalid_grant"}`},
		{name: "stale rotation", status: http.StatusOK, body: tokenJSON("access-old", "refresh-old-rotated", 3600)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t)
			ts.respond(tt.status, tt.body)
			release := make(chan struct{})
			ts.release = release
			store := memory.NewCredentialRepository()
			m := newTestManager(t, ts, store)

			done := make(chan error, 1)
			go func() {
				_, err := m.AccessToken(context.Background())
				done <- err
			}()
			require.Eventually(t, func() bool { return ts.hits.Load() == 1 }, time.Second, time.Millisecond)

			require.NoError(t, m.Reauthorize(context.Background(), "refresh-2"))
			close(release)

			err := <-done
			require.ErrorIs(t, err, domain.ErrAuthUnavailable)
			assert.True(t, m.Valid())

			cred, err := store.Get(context.Background(), "drive")
			require.NoError(t, err)
			assert.Equal(t, "refresh-2", cred.RefreshToken)

			ts.respond(http.StatusOK, tokenJSON("access-2", "", 3600))
			token, err := m.AccessToken(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "access-2", token)
		})
	}
}
