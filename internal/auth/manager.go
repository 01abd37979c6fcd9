// Package auth owns the OAuth2 token lifecycle: it decides on every call
// whether the cached access token is usable, must be refreshed, or must be
// derived from an authorization code, and it performs the Business service
// discovery step that determines where data calls go.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/onedrive-api/internal/variant"
)

// Config identifies the application to the token endpoint.
type Config struct {
	ClientID     string
	ClientSecret string // empty for public clients
	RedirectURL  string // empty = profile default
	Profile      variant.Profile
}

// Manager produces valid access tokens. A Manager holds a single token slot
// for its whole lifetime and is safe for concurrent use. Readers may observe a
// token going stale between GetAccessToken and its use; the resulting 401 is
// the caller's to retry.
type Manager struct {
	cfg        Config
	httpClient *http.Client
	store      Store // nil = no persistence
	logger     *slog.Logger

	// now is the clock. Tests replace it.
	now func() time.Time

	flight singleflight.Group

	mu       sync.RWMutex
	state    TokenState
	authCode string
	baseURL  string // discovered data endpoint (Business)
	resource string // discovered resource identifier (Business)
}

// NewManager creates a Manager with an empty token slot. store may be nil.
func NewManager(cfg Config, httpClient *http.Client, store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Manager{
		cfg:        cfg,
		httpClient: httpClient,
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
}

// Restore seeds the token slot from the store. A store holding nothing is
// not an error.
func (m *Manager) Restore() error {
	if m.store == nil {
		return nil
	}

	st, meta, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("auth: restoring token: %w", err)
	}

	if st.IsZero() {
		m.logger.Debug("no saved token to restore")
		return nil
	}

	m.mu.Lock()
	m.state = st
	m.baseURL = meta.BaseURL
	m.resource = meta.Resource
	m.mu.Unlock()

	m.logger.Info("restored saved token",
		slog.Time("expires_at", st.ExpiresAt),
		slog.Bool("expired", !st.Valid(m.now())),
		slog.Bool("has_refresh_token", st.RefreshToken != ""),
	)

	return nil
}

// GetAccessToken returns a usable token. A cached token that has not expired
// is returned without I/O. Otherwise the refresh token is redeemed, or failing
// that the authorization code. With neither available the error wraps
// ErrInteractionRequired. Grant failures are returned as *TokenError and are
// not retried.
//
// Concurrent callers share one derivation. It runs detached from any single
// caller's cancellation and is bounded by the HTTP client's timeout; a
// canceled caller stops waiting while the others still get the result.
func (m *Manager) GetAccessToken(ctx context.Context) (TokenState, error) {
	m.mu.RLock()
	st := m.state
	m.mu.RUnlock()

	if st.Valid(m.now()) {
		return st.clone(), nil
	}

	// One flight at a time so a rotating refresh token is never redeemed
	// twice.
	ch := m.flight.DoChan("derive", func() (any, error) {
		return m.derive(context.WithoutCancel(ctx))
	})

	var res singleflight.Result

	select {
	case <-ctx.Done():
		return TokenState{}, fmt.Errorf("auth: waiting for token: %w", ctx.Err())
	case res = <-ch:
	}

	if res.Err != nil {
		return TokenState{}, res.Err
	}

	derived, ok := res.Val.(TokenState)
	if !ok {
		return TokenState{}, fmt.Errorf("auth: unexpected derivation result %T", res.Val)
	}

	return derived.clone(), nil
}

// Token returns just the bearer string. It is the adapter the REST client
// consumes.
func (m *Manager) Token(ctx context.Context) (string, error) {
	st, err := m.GetAccessToken(ctx)
	if err != nil {
		return "", err
	}

	return st.AccessToken, nil
}

// BaseURL returns the root for data calls: the discovered endpoint for
// Business, the profile's fixed root otherwise. Empty until discovery ran.
func (m *Manager) BaseURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.baseURL != "" {
		return m.baseURL
	}

	return m.cfg.Profile.BaseURL
}

// SetAuthorizationCode stores a code obtained out of band. It is redeemed
// the next time GetAccessToken needs a token and no refresh token exists.
func (m *Manager) SetAuthorizationCode(code string) {
	m.mu.Lock()
	m.authCode = code
	m.mu.Unlock()
}

// AuthenticateWithRefreshToken discards the current access token and
// redeems refreshToken immediately.
func (m *Manager) AuthenticateWithRefreshToken(ctx context.Context, refreshToken string) (TokenState, error) {
	if refreshToken == "" {
		return TokenState{}, errors.New("auth: refresh token must not be empty")
	}

	m.mu.Lock()
	m.state = TokenState{RefreshToken: refreshToken}
	m.mu.Unlock()

	return m.GetAccessToken(ctx)
}

// AuthenticateWithAuthorizationCode discards the current tokens and redeems
// code immediately, even when a usable token is held. Profiles that need
// discovery run it again, since the new sign-in may be a different account.
func (m *Manager) AuthenticateWithAuthorizationCode(ctx context.Context, code string) (TokenState, error) {
	if code == "" {
		return TokenState{}, errors.New("auth: authorization code must not be empty")
	}

	m.mu.Lock()
	m.state = TokenState{}
	m.authCode = code
	if m.cfg.Profile.NeedsDiscovery() {
		m.resource = ""
		m.baseURL = ""
	}
	m.mu.Unlock()

	return m.GetAccessToken(ctx)
}

// Reset forgets all credential material and removes any persisted token.
func (m *Manager) Reset() error {
	m.mu.Lock()
	m.state = TokenState{}
	m.authCode = ""
	m.baseURL = ""
	m.resource = ""
	m.mu.Unlock()

	m.logger.Info("token state cleared")

	if m.store == nil {
		return nil
	}

	if err := m.store.Clear(); err != nil {
		return fmt.Errorf("auth: clearing saved token: %w", err)
	}

	return nil
}

// derive runs inside the singleflight group.
func (m *Manager) derive(ctx context.Context) (TokenState, error) {
	m.mu.RLock()
	st := m.state
	code := m.authCode
	m.mu.RUnlock()

	// Another flight may have finished between the caller's check and now.
	if st.Valid(m.now()) {
		return st, nil
	}

	switch {
	case st.RefreshToken != "":
		m.logger.Info("access token expired, refreshing",
			slog.Time("expired_at", st.ExpiresAt),
		)

		return m.redeem(ctx, grantRefreshToken, st.RefreshToken)

	case code != "":
		m.logger.Info("redeeming authorization code")

		return m.redeem(ctx, grantAuthorizationCode, code)

	default:
		m.logger.Warn("no credentials available, interactive authorization required")

		return TokenState{}, ErrInteractionRequired
	}
}

// redeem exchanges secret (a code or refresh token) for a new token pair and
// installs it. For profiles that need discovery and have not run it yet, a
// token for the discovery resource is obtained first, the file service is
// located, and the refresh token from that first grant is redeemed again for
// the file service's resource.
func (m *Manager) redeem(ctx context.Context, g grant, secret string) (TokenState, error) {
	m.mu.RLock()
	resource := m.resource
	previousRefresh := m.state.RefreshToken
	m.mu.RUnlock()

	var baseURL string

	if m.cfg.Profile.NeedsDiscovery() && resource == "" {
		svc, next, err := m.runDiscovery(ctx, g, secret)
		if err != nil {
			return TokenState{}, err
		}

		baseURL = strings.TrimRight(svc.ServiceEndpoint, "/")
		resource = svc.ServiceResourceID
		g, secret, previousRefresh = grantRefreshToken, next, next
	}

	issued := m.now()

	tr, err := m.requestToken(ctx, g, secret, resource)
	if err != nil {
		m.logger.Warn("token grant failed",
			slog.String("grant_type", string(g)),
			slog.String("error", err.Error()),
		)

		return TokenState{}, err
	}

	st := tr.toState(issued, previousRefresh)

	m.mu.Lock()
	m.state = st
	if baseURL != "" {
		m.baseURL = baseURL
	}
	m.resource = resource
	if g == grantAuthorizationCode {
		// Codes are single-use.
		m.authCode = ""
	}
	meta := Metadata{BaseURL: m.baseURL, Resource: m.resource}
	m.mu.Unlock()

	m.logger.Info("access token acquired",
		slog.String("grant_type", string(g)),
		slog.Time("expires_at", st.ExpiresAt),
		slog.Bool("refresh_token_reissued", tr.RefreshToken != ""),
	)

	m.persist(st, meta)

	return st, nil
}

// runDiscovery obtains a discovery-resource token with the original grant,
// finds the file service, and returns it with the refresh token to use for
// the second grant.
func (m *Manager) runDiscovery(ctx context.Context, g grant, secret string) (*discoveredService, string, error) {
	m.logger.Info("running service discovery before token grant")

	dt, err := m.requestToken(ctx, g, secret, m.cfg.Profile.DiscoveryResource)
	if err != nil {
		return nil, "", err
	}

	svc, err := m.discover(ctx, dt.AccessToken)
	if err != nil {
		return nil, "", err
	}

	next := dt.RefreshToken
	if next == "" {
		if g != grantRefreshToken {
			return nil, "", &TokenError{Err: errors.New("discovery grant returned no refresh token")}
		}

		next = secret
	}

	if g == grantAuthorizationCode {
		m.mu.Lock()
		m.authCode = ""
		m.mu.Unlock()
	}

	return svc, next, nil
}

// persist saves to the store if one is configured. Failures only cost a
// re-login after restart, so they are logged and swallowed.
func (m *Manager) persist(st TokenState, meta Metadata) {
	if m.store == nil {
		return
	}

	if err := m.store.Save(st, meta); err != nil {
		m.logger.Warn("failed to persist token",
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) redirectURL() string {
	if m.cfg.RedirectURL != "" {
		return m.cfg.RedirectURL
	}

	return m.cfg.Profile.DefaultRedirectURL
}
