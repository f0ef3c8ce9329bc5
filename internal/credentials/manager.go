// Package credentials keeps a valid OAuth access token for the blob store.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"notehub/internal/domain"
	"notehub/internal/domain/models"
	"notehub/internal/domain/repositories"
)

const (
	DefaultSafetyMargin   = 60 * time.Second
	DefaultRefreshTimeout = 10 * time.Second
	DefaultReloadInterval = 30 * time.Second
)

// Config configures a Manager
type Config struct {
	OAuth    *oauth2.Config
	Provider string // key in the credential store, e.g. "drive"

	// RefreshToken seeds the manager when the store holds nothing yet
	RefreshToken string

	SafetyMargin   time.Duration
	RefreshTimeout time.Duration

	// ReloadInterval throttles how often an invalid manager rereads the store
	// looking for a credential installed by another process
	ReloadInterval time.Duration

	// HTTPClient is used for token endpoint calls (nil = http.DefaultClient)
	HTTPClient *http.Client
}

// errSuperseded is returned to waiters of a refresh whose credential was
// replaced while it ran; a retry uses the new one.
var errSuperseded = fmt.Errorf("%w: credential replaced during refresh", domain.ErrAuthUnavailable)

// Manager hands out access tokens and refreshes them at most once at a time.
type Manager struct {
	oauth      *oauth2.Config
	provider   string
	store      repositories.CredentialRepository
	logger     *slog.Logger
	margin     time.Duration
	timeout    time.Duration
	reload     time.Duration
	httpClient *http.Client
	nowFn      func() time.Time

	group singleflight.Group

	mu           sync.Mutex
	loaded       bool
	refreshToken string
	accessToken  string
	expiry       time.Time
	invalid      bool
	failedToken  string // refresh token that was rejected
	lastReload   time.Time
}

// NewManager creates a credential manager. Stored credentials take
// precedence over cfg.RefreshToken.
func NewManager(cfg Config, store repositories.CredentialRepository, logger *slog.Logger) *Manager {
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = DefaultReloadInterval
	}
	return &Manager{
		oauth:        cfg.OAuth,
		provider:     cfg.Provider,
		store:        store,
		logger:       logger.With("component", "credentials", "provider", cfg.Provider),
		margin:       cfg.SafetyMargin,
		timeout:      cfg.RefreshTimeout,
		reload:       cfg.ReloadInterval,
		httpClient:   cfg.HTTPClient,
		nowFn:        time.Now,
		refreshToken: cfg.RefreshToken,
	}
}

// TestingSetNow replaces the clock
func (m *Manager) TestingSetNow(nowFn func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFn = nowFn
}

// AccessToken returns a token valid for at least the safety margin.
// Concurrent callers needing a refresh share one token endpoint call.
// While the credential is invalid, calls fail fast except for a throttled
// store reread that picks up a re-authorization done by another process.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.invalid {
		due := !m.nowFn().Before(m.lastReload.Add(m.reload))
		m.mu.Unlock()
		if !due {
			return "", domain.ErrCredentialInvalid
		}
		if err := m.reloadInvalid(ctx); err != nil {
			return "", err
		}
		m.mu.Lock()
	}
	if m.accessToken != "" && m.usable(m.expiry) {
		token := m.accessToken
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	ch := m.group.DoChan("refresh", func() (interface{}, error) {
		return m.refresh()
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", domain.ErrAuthUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached access token so the next call refreshes.
// Called when the blob API rejects a token that looked valid.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = ""
	m.expiry = time.Time{}
}

// Valid reports whether the manager can still try to obtain tokens
func (m *Manager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.invalid
}

// Reauthorize installs a new refresh token and clears the invalid state
func (m *Manager) Reauthorize(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return fmt.Errorf("%w: refresh token is empty", domain.ErrValidation)
	}

	m.mu.Lock()
	m.refreshToken = refreshToken
	m.accessToken = ""
	m.expiry = time.Time{}
	m.invalid = false
	m.failedToken = ""
	m.loaded = true
	cred := m.snapshotLocked()
	m.mu.Unlock()

	if err := m.store.Save(ctx, cred); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	m.logger.Info("credential re-authorized")
	return nil
}

// AuthCodeURL returns the consent page URL for the operator
func (m *Manager) AuthCodeURL(state string) string {
	return m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens and stores them
func (m *Manager) Exchange(ctx context.Context, code string) error {
	tok, err := m.oauth.Exchange(m.clientContext(ctx), code)
	if err != nil {
		return m.classify(err)
	}
	if tok.RefreshToken == "" {
		return fmt.Errorf("%w: authorization response carried no refresh token", domain.ErrCredentialInvalid)
	}

	m.mu.Lock()
	m.refreshToken = tok.RefreshToken
	m.accessToken = tok.AccessToken
	m.expiry = tok.Expiry
	m.invalid = false
	m.failedToken = ""
	m.loaded = true
	cred := m.snapshotLocked()
	m.mu.Unlock()

	if err := m.store.Save(ctx, cred); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	m.logger.Info("credential authorized via code exchange")
	return nil
}

// refresh runs detached from any single caller so one abandoned request
// cannot fail the refresh for everyone waiting on it.
func (m *Manager) refresh() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if err := m.load(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.invalid {
		m.mu.Unlock()
		return "", domain.ErrCredentialInvalid
	}
	// A previous flight may have finished between our check and DoChan
	if m.accessToken != "" && m.usable(m.expiry) {
		token := m.accessToken
		m.mu.Unlock()
		return token, nil
	}
	refreshToken := m.refreshToken
	m.mu.Unlock()

	if refreshToken == "" {
		m.markInvalid("", "no refresh token configured")
		return "", domain.ErrCredentialInvalid
	}

	start := time.Now()
	tok, err := m.oauth.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		err = m.classify(err)
		if errors.Is(err, domain.ErrCredentialInvalid) {
			if !m.markInvalid(refreshToken, err.Error()) {
				return "", errSuperseded
			}
		} else {
			m.logger.Warn("token refresh failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		}
		return "", err
	}

	m.mu.Lock()
	if m.refreshToken != refreshToken {
		// A newer grant was installed mid-flight; its tokens win
		m.mu.Unlock()
		m.logger.Info("discarding refresh result for a replaced credential")
		return "", errSuperseded
	}
	rotated := tok.RefreshToken != "" && tok.RefreshToken != m.refreshToken
	if rotated {
		m.refreshToken = tok.RefreshToken
	}
	m.accessToken = tok.AccessToken
	m.expiry = tok.Expiry
	cred := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Debug("access token refreshed",
		"expires_at", tok.Expiry,
		"rotated", rotated,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if err := m.store.Save(ctx, cred); err != nil {
		// The token is still good for this process; only a restart would lose it
		m.logger.Error("failed to persist refreshed credential", "error", err, "rotated", rotated)
	}

	return tok.AccessToken, nil
}

func (m *Manager) load(ctx context.Context) error {
	m.mu.Lock()
	if m.loaded {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	cred, err := m.store.Get(ctx, m.provider)
	if err != nil {
		return fmt.Errorf("%w: load credential: %w", domain.ErrAuthUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cred != nil && cred.RefreshToken != "" {
		m.refreshToken = cred.RefreshToken
		m.accessToken = cred.AccessToken
		if cred.Expiry != nil {
			m.expiry = *cred.Expiry
		}
	}
	m.loaded = true
	return nil
}

// classify maps token endpoint failures onto domain errors
func (m *Manager) classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if re.ErrorCode == "invalid_grant" || re.ErrorCode == "unauthorized_client" ||
			status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", domain.ErrCredentialInvalid, re.ErrorCode)
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrAuthUnavailable, err)
}

// reloadInvalid rereads the store once per reload interval and adopts a
// refresh token that differs from the one that was rejected.
func (m *Manager) reloadInvalid(ctx context.Context) error {
	ch := m.group.DoChan("reload", func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		cred, err := m.store.Get(loadCtx, m.provider)

		m.mu.Lock()
		defer m.mu.Unlock()
		m.lastReload = m.nowFn()
		if err != nil {
			m.logger.Warn("failed to reload credential", "error", err)
			return nil, domain.ErrCredentialInvalid
		}
		if !m.invalid {
			return nil, nil
		}
		if cred == nil || cred.RefreshToken == "" || cred.RefreshToken == m.failedToken {
			return nil, domain.ErrCredentialInvalid
		}

		m.refreshToken = cred.RefreshToken
		m.accessToken = cred.AccessToken
		m.expiry = time.Time{}
		if cred.Expiry != nil {
			m.expiry = *cred.Expiry
		}
		m.invalid = false
		m.failedToken = ""
		m.loaded = true
		m.logger.Info("picked up re-authorized credential from store")
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", domain.ErrAuthUnavailable, ctx.Err())
	case res := <-ch:
		return res.Err
	}
}

// markInvalid flags the credential unless used is no longer the current
// refresh token, in which case it reports false and changes nothing.
func (m *Manager) markInvalid(used, reason string) bool {
	m.mu.Lock()
	if m.refreshToken != used {
		m.mu.Unlock()
		return false
	}
	m.invalid = true
	m.failedToken = used
	m.accessToken = ""
	m.lastReload = m.nowFn()
	m.mu.Unlock()
	m.logger.Error("blob store credential invalid, re-authorization required",
		"reason", reason,
		"alert", "credential_invalid",
	)
	return true
}

// usable must be called with mu held
func (m *Manager) usable(expiry time.Time) bool {
	if expiry.IsZero() {
		return true
	}
	return m.nowFn().Add(m.margin).Before(expiry)
}

// snapshotLocked must be called with mu held
func (m *Manager) snapshotLocked() *models.Credential {
	cred := &models.Credential{
		Provider:     m.provider,
		RefreshToken: m.refreshToken,
		AccessToken:  m.accessToken,
		UpdatedAt:    m.nowFn(),
	}
	if !m.expiry.IsZero() {
		expiry := m.expiry
		cred.Expiry = &expiry
	}
	return cred
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	if m.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}
