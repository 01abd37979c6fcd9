package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/onedrive-api/internal/variant"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// tokenServer records every token request it receives and answers with the
// handler's payload.
type tokenServer struct {
	srv   *httptest.Server
	calls atomic.Int32

	mu    sync.Mutex
	forms []url.Values
}

func newTokenServer(t *testing.T, handler func(form url.Values) (int, any)) *tokenServer {
	t.Helper()

	ts := &tokenServer{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		ts.mu.Lock()
		ts.forms = append(ts.forms, r.PostForm)
		ts.mu.Unlock()

		status, body := handler(r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)

		if s, ok := body.(string); ok {
			fmt.Fprint(w, s)
			return
		}

		assert.NoError(t, json.NewEncoder(w).Encode(body))
	}))
	t.Cleanup(ts.srv.Close)

	return ts
}

func (ts *tokenServer) form(i int) url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	return ts.forms[i]
}

func graphProfile(t *testing.T, tokenURL string) variant.Profile {
	t.Helper()

	p, err := variant.Lookup(variant.Graph)
	require.NoError(t, err)

	p.Endpoint.TokenURL = tokenURL

	return p
}

func newTestManager(t *testing.T, p variant.Profile, store Store) *Manager {
	t.Helper()

	m := NewManager(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Profile:      p,
	}, http.DefaultClient, store, slog.Default())
	m.now = func() time.Time { return fixedNow }

	return m
}

func tokenPayload(access, refresh string, expiresIn int) map[string]any {
	return map[string]any{
		"token_type":    "bearer",
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    expiresIn,
		"scope":         "files.readwrite.all offline_access",
	}
}

func TestGetAccessToken_CachedTokenNoRequest(t *testing.T) {
	ts := newTokenServer(t, func(url.Values) (int, any) {
		t.Error("token endpoint must not be called")
		return http.StatusInternalServerError, "{}"
	})

	m := newTestManager(t, graphProfile(t, ts.srv.URL), nil)
	m.state = TokenState{
		AccessToken:  "cached",
		RefreshToken: "rt",
		ExpiresAt:    fixedNow.Add(time.Minute),
	}

	st, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", st.AccessToken)
	assert.Equal(t, int32(0), ts.calls.Load())
}

func TestGetAccessToken_ExpiresExactlyNowRefreshes(t *testing.T) {
	ts := newTokenServer(t, func(url.Values) (int, any) {
		return http.StatusOK, tokenPayload("fresh", "rt2", 3600)
	})

	m := newTestManager(t, graphProfile(t, ts.srv.URL), nil)
	m.state = TokenState{AccessToken: "stale", RefreshToken: "rt", ExpiresAt: fixedNow}

	st, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", st.AccessToken)
	assert.Equal(t, int32(1), ts.calls.Load())
}

func TestGetAccessToken_ExpiredRefreshes(t *testing.T) {
	ts := newTokenServer(t, func(url.Values) (int, any) {
		return http.StatusOK, tokenPayload("new-access", "new-refresh", 3600)
	})

	m := newTestManager(t, graphProfile(t, ts.srv.URL), nil)
	m.state = TokenState{
		AccessToken:  "old",
		RefreshToken: "old-refresh",
		ExpiresAt:    fixedNow.Add(-time.Second),
	}

	st, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), ts.calls.Load())
	assert.Equal(t, "new-access", st.AccessToken)
	assert.Equal(t, "new-refresh", st.RefreshToken)
	assert.Equal(t, fixedNow.Add(3600*time.Second), st.ExpiresAt)
	assert.Equal(t, []string{"files.readwrite.all", "offline_access"}, st.Scopes)

	form := ts.form(0)
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "old-refresh", form.Get("refresh_token"))
	assert.Equal(t, "client-id", form.Get("client_id"))
	assert.Equal(t, "client-secret", form.Get("client_secret"))
	assert.Equal(t, "https://login.microsoftonline.com/common/oauth2/nativeclient", form.Get("redirect_uri"))
	assert.Equal(t, "offline_access files.readwrite.all", form.Get("scope"))
	assert.Empty(t, form.Get("resource"))

	// The replacement is now cached.
	again, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", again.AccessToken)
	assert.Equal(t, int32(1), ts.calls.Load())
}

func TestGetAccessToken_RefreshTokenKeptWhenNotReissued(t *testing.T) {
	ts := newTokenServer(t, func(url.Values) (int, any) {
		return http.StatusOK, tokenPayload("new-access", "", 60)
	})

	m := newTestManager(t, graphProfile(t, ts.srv.URL), nil)
	m.state = TokenState{RefreshToken: "keep-me"}

	st, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "keep-me", st.RefreshToken)
}

func TestGetAccessToken_AuthorizationCode(t *testing.T) {
	ts := newTokenServer(t, func(url.Values) (int, any) {
		return http.StatusOK, tokenPayload("from-code", "rt", 3600)
	})

	m := newTestManager(t, graphProfile(t, ts.srv.URL), nil)
	m.SetAuthorizationCode("the-code")

	st, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-code", st.AccessToken)

	form := ts.form(0)
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "the-code", form.Get("code"))
	assert.Empty(t, form.Get("refresh_token"))

	m.mu.RLock()
	assert.Empty(t, m.authCode, "codes are single-use")
	m.mu.RUnlock()
}

func TestGetAccessToken_NoCredentials(t *testing.T) {
	ts := newTokenServer(t, func(url.Values) (int, any) {
		t.Error("token endpoint must not be called")
		return http.StatusOK, "{}"
	})

	m := newTestManager(t, graphProfile(t, ts.srv.URL), nil)

	_, err := m.GetAccessToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInteractionRequired)
	assert.Equal(t, int32(0), ts.calls.Load())
}

func TestGetAccessToken_ExpiresInAsString(t *testing.T) {
	ts := newTokenServer(t, func(url.Values) (int, any) {
		return http.StatusOK, `{"token_type":"Bearer","access_token":"a","expires_in":"3600","refresh_token":"r"}`
	})

	m := newTestManager(t, graphProfile(t, ts.srv.URL), nil)
	m.SetAuthorizationCode("code")

	st, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(time.Hour), st.ExpiresAt)
}

func TestGetAccessToken_ErrorPayload(t *testing.T) {
	ts := newTokenServer(t, func(url.Values) (int, any) {
		return http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "The refresh token has expired.",
		}
	})

	m := newTestManager(t, graphProfile(t, ts.srv.URL), nil)
	m.state = TokenState{RefreshToken: "expired"}

	_, err := m.GetAccessToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenRetrievalFailed)

	var te *TokenError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadRequest, te.StatusCode)
	assert.Equal(t, "invalid_grant", te.Code)
	assert.Equal(t, "The refresh token has expired.", te.Description)
	assert.Contains(t, err.Error(), "invalid_grant")

	// Not retried.
	assert.Equal(t, int32(1), ts.calls.Load())

	// State is unchanged on failure.
	m.mu.RLock()
	assert.Equal(t, "expired", m.state.RefreshToken)
	m.mu.RUnlock()
}

func TestGetAccessToken_UnparseableErrorBody(t *testing.T) {
	ts := newTokenServer(t, func(url.Values) (int, any) {
		return http.StatusBadGateway, "<html>bad gateway</html>"
	})

	m := newTestManager(t, graphProfile(t, ts.srv.URL), nil)
	m.state = TokenState{RefreshToken: "rt"}

	_, err := m.GetAccessToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenRetrievalFailed)

	var te *TokenError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.Empty(t, te.Code)
	assert.Error(t, te.Err)
}

func TestGetAccessToken_MissingAccessToken(t *testing.T) {
	ts := newTokenServer(t, func(url.Values) (int, any) {
		return http.StatusOK, `{"token_type":"bearer","expires_in":3600}`
	})

	m := newTestManager(t, graphProfile(t, ts.srv.URL), nil)
	m.state = TokenState{RefreshToken: "rt"}

	_, err := m.GetAccessToken(context.Background())
	assert.ErrorIs(t, err, ErrTokenRetrievalFailed)
}

func TestGetAccessToken_TransportError(t *testing.T) {
	ts := newTokenServer(t, func(url.Values) (int, any) { return http.StatusOK, "{}" })
	tokenURL := ts.srv.URL
	ts.srv.Close()

	m := newTestManager(t, graphProfile(t, tokenURL), nil)
	m.state = TokenState{RefreshToken: "rt"}

	_, err := m.GetAccessToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenRetrievalFailed)
}

func TestGetAccessToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	release := make(chan struct{})

	ts := newTokenServer(t, func(url.Values) (int, any) {
		<-release
		return http.StatusOK, tokenPayload("shared", "rt2", 3600)
	})

	m := newTestManager(t, graphProfile(t, ts.srv.URL), nil)
	m.state = TokenState{RefreshToken: "rt"}

	const callers = 8

	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			st, err := m.GetAccessToken(context.Background())
			results[i] = st.AccessToken
			errs[i] = err
		}()
	}

	// Give every goroutine a chance to join the flight before answering.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i])
	}

	assert.Equal(t, int32(1), ts.calls.Load())
}

func TestGetAccessToken_BusinessDiscovery(t *testing.T) {
	const (
		serviceResource = "https://contoso-my.sharepoint.com/"
		serviceEndpoint = "https://contoso-my.sharepoint.com/_api/v2.0/"
	)

	var discoveryCalls atomic.Int32

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	var forms []url.Values
	var formsMu sync.Mutex

	gotForms := func() []url.Values {
		formsMu.Lock()
		defer formsMu.Unlock()

		return append([]url.Values(nil), forms...)
	}

	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		formsMu.Lock()
		forms = append(forms, r.PostForm)
		formsMu.Unlock()

		w.Header().Set("Content-Type", "application/json")

		switch r.PostForm.Get("resource") {
		case "https://api.office.com/discovery/":
			assert.NoError(t, json.NewEncoder(w).Encode(tokenPayload("discovery-at", "discovery-rt", 3600)))
		case serviceResource:
			assert.NoError(t, json.NewEncoder(w).Encode(tokenPayload("service-at", "service-rt", 3600)))
		default:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_resource"}`)
		}
	})

	mux.HandleFunc("GET /discovery", func(w http.ResponseWriter, r *http.Request) {
		discoveryCalls.Add(1)
		assert.Equal(t, "Bearer discovery-at", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"value":[
			{"capability":"MyFiles","serviceApiVersion":"v1.0","serviceEndpointUri":"https://old/","serviceResourceId":"https://old/"},
			{"capability":"RootSite","serviceApiVersion":"v2.0","serviceEndpointUri":"https://root/","serviceResourceId":"https://root/"},
			{"capability":"MyFiles","serviceApiVersion":"v2.0","serviceEndpointUri":%q,"serviceResourceId":%q}
		]}`, serviceEndpoint, serviceResource)
	})

	p, err := variant.Lookup(variant.Business)
	require.NoError(t, err)

	p.Endpoint.TokenURL = srv.URL + "/token"
	p.DiscoveryURL = srv.URL + "/discovery"

	store := FileStore{Path: filepath.Join(t.TempDir(), "token.json")}
	m := newTestManager(t, p, store)
	m.SetAuthorizationCode("biz-code")

	assert.Empty(t, m.BaseURL(), "base URL is unknown before discovery")

	st, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "service-at", st.AccessToken)
	assert.Equal(t, "service-rt", st.RefreshToken)
	assert.Equal(t, "https://contoso-my.sharepoint.com/_api/v2.0", m.BaseURL())
	assert.Equal(t, int32(1), discoveryCalls.Load())

	got := gotForms()
	require.Len(t, got, 2)
	assert.Equal(t, "authorization_code", got[0].Get("grant_type"))
	assert.Equal(t, "biz-code", got[0].Get("code"))
	assert.Empty(t, got[0].Get("scope"))
	assert.Equal(t, "refresh_token", got[1].Get("grant_type"))
	assert.Equal(t, "discovery-rt", got[1].Get("refresh_token"))

	// Next refresh goes straight to the service resource.
	m.now = func() time.Time { return fixedNow.Add(2 * time.Hour) }

	_, err = m.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), discoveryCalls.Load())
	got = gotForms()
	require.Len(t, got, 3)
	assert.Equal(t, serviceResource, got[2].Get("resource"))
	assert.Equal(t, "service-rt", got[2].Get("refresh_token"))

	// A restarted manager restores the discovered endpoint and resource.
	restored := newTestManager(t, p, store)
	require.NoError(t, restored.Restore())
	assert.Equal(t, "https://contoso-my.sharepoint.com/_api/v2.0", restored.BaseURL())
	assert.Equal(t, serviceResource, restored.resource)
}

func TestGetAccessToken_BusinessDiscoveryNoMatchingService(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("POST /token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(tokenPayload("discovery-at", "discovery-rt", 3600)))
	})
	mux.HandleFunc("GET /discovery", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"value":[{"capability":"Mail","serviceApiVersion":"v2.0"}]}`)
	})

	p, err := variant.Lookup(variant.Business)
	require.NoError(t, err)

	p.Endpoint.TokenURL = srv.URL + "/token"
	p.DiscoveryURL = srv.URL + "/discovery"

	m := newTestManager(t, p, nil)
	m.state = TokenState{RefreshToken: "rt"}

	_, err = m.GetAccessToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDiscoveryFailed)
}

func TestManager_PersistsAndRestores(t *testing.T) {
	ts := newTokenServer(t, func(url.Values) (int, any) {
		return http.StatusOK, tokenPayload("persisted", "persisted-rt", 3600)
	})

	store := FileStore{Path: filepath.Join(t.TempDir(), "token.json")}

	m := newTestManager(t, graphProfile(t, ts.srv.URL), store)
	m.SetAuthorizationCode("code")

	_, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)

	restored := newTestManager(t, graphProfile(t, ts.srv.URL), store)
	require.NoError(t, restored.Restore())

	st, err := restored.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "persisted", st.AccessToken)
	assert.Equal(t, "persisted-rt", st.RefreshToken)
	assert.Equal(t, int32(1), ts.calls.Load(), "restored token is served from cache")

	require.NoError(t, restored.Reset())

	_, err = restored.GetAccessToken(context.Background())
	assert.ErrorIs(t, err, ErrInteractionRequired)

	st, meta, err := store.Load()
	require.NoError(t, err)
	assert.True(t, st.IsZero())
	assert.Equal(t, Metadata{}, meta)
}

func TestManager_RestoreEmptyStore(t *testing.T) {
	store := FileStore{Path: filepath.Join(t.TempDir(), "missing.json")}
	m := newTestManager(t, graphProfile(t, "http://unused"), store)

	require.NoError(t, m.Restore())
	assert.True(t, m.state.IsZero())
}

// failingStore fails every save. Token acquisition must still succeed.
type failingStore struct{}

func (failingStore) Load() (TokenState, Metadata, error) { return TokenState{}, Metadata{}, nil }
func (failingStore) Save(TokenState, Metadata) error     { return errors.New("disk full") }
func (failingStore) Clear() error                        { return nil }

func TestManager_PersistFailureIsNotFatal(t *testing.T) {
	ts := newTokenServer(t, func(url.Values) (int, any) {
		return http.StatusOK, tokenPayload("a", "r", 3600)
	})

	m := newTestManager(t, graphProfile(t, ts.srv.URL), failingStore{})
	m.SetAuthorizationCode("code")

	st, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", st.AccessToken)
}

func TestAuthenticateWithRefreshToken(t *testing.T) {
	ts := newTokenServer(t, func(form url.Values) (int, any) {
		assert.Equal(t, "supplied-rt", form.Get("refresh_token"))
		return http.StatusOK, tokenPayload("a", "b", 3600)
	})

	m := newTestManager(t, graphProfile(t, ts.srv.URL), nil)
	m.state = TokenState{AccessToken: "still-valid", ExpiresAt: fixedNow.Add(time.Hour)}

	st, err := m.AuthenticateWithRefreshToken(context.Background(), "supplied-rt")
	require.NoError(t, err)
	assert.Equal(t, "a", st.AccessToken)

	_, err = m.AuthenticateWithRefreshToken(context.Background(), "")
	assert.Error(t, err)
}

func TestToken_ReturnsBearerString(t *testing.T) {
	m := newTestManager(t, graphProfile(t, "http://unused"), nil)
	m.state = TokenState{AccessToken: "bearer-value", ExpiresAt: fixedNow.Add(time.Minute)}

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bearer-value", tok)
	assert.Equal(t, "https://graph.microsoft.com/v1.0/me", m.BaseURL())
}

func TestGetAccessToken_ReturnsCopy(t *testing.T) {
	m := newTestManager(t, graphProfile(t, "http://unused"), nil)
	m.state = TokenState{
		AccessToken: "a",
		ExpiresAt:   fixedNow.Add(time.Minute),
		Scopes:      []string{"one"},
	}

	st, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)

	st.Scopes[0] = "mutated"
	assert.Equal(t, "one", m.state.Scopes[0])
}

func TestAuthenticateWithAuthorizationCode_ReplacesValidToken(t *testing.T) {
	ts := newTokenServer(t, func(form url.Values) (int, any) {
		assert.Equal(t, "authorization_code", form.Get("grant_type"))
		assert.Equal(t, "second-code", form.Get("code"))
		return http.StatusOK, tokenPayload("second-at", "second-rt", 3600)
	})

	m := newTestManager(t, graphProfile(t, ts.srv.URL), nil)
	m.state = TokenState{
		AccessToken:  "first-at",
		RefreshToken: "first-rt",
		ExpiresAt:    fixedNow.Add(time.Hour),
	}

	st, err := m.AuthenticateWithAuthorizationCode(context.Background(), "second-code")
	require.NoError(t, err)
	assert.Equal(t, "second-at", st.AccessToken)
	assert.Equal(t, "second-rt", st.RefreshToken)
	assert.Equal(t, int32(1), ts.calls.Load())
	assert.Empty(t, m.authCode, "redeemed code is not kept")

	_, err = m.AuthenticateWithAuthorizationCode(context.Background(), "")
	assert.Error(t, err)
	assert.Equal(t, int32(1), ts.calls.Load())
}

func TestAuthenticateWithAuthorizationCode_RerunsDiscovery(t *testing.T) {
	const serviceResource = "https://fabrikam-my.sharepoint.com/"

	var discoveryCalls atomic.Int32

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")

		switch r.PostForm.Get("resource") {
		case "https://api.office.com/discovery/":
			assert.NoError(t, json.NewEncoder(w).Encode(tokenPayload("discovery-at", "discovery-rt", 3600)))
		case serviceResource:
			assert.NoError(t, json.NewEncoder(w).Encode(tokenPayload("service-at", "service-rt", 3600)))
		default:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_resource"}`)
		}
	})

	mux.HandleFunc("GET /discovery", func(w http.ResponseWriter, _ *http.Request) {
		discoveryCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"value":[{"capability":"MyFiles","serviceApiVersion":"v2.0","serviceEndpointUri":"%s_api/v2.0/","serviceResourceId":%q}]}`,
			serviceResource, serviceResource)
	})

	p, err := variant.Lookup(variant.Business)
	require.NoError(t, err)

	p.Endpoint.TokenURL = srv.URL + "/token"
	p.DiscoveryURL = srv.URL + "/discovery"

	m := newTestManager(t, p, nil)
	m.state = TokenState{AccessToken: "old-at", RefreshToken: "old-rt", ExpiresAt: fixedNow.Add(time.Hour)}
	m.resource = "https://contoso-my.sharepoint.com/"
	m.baseURL = "https://contoso-my.sharepoint.com/_api/v2.0"

	st, err := m.AuthenticateWithAuthorizationCode(context.Background(), "other-account")
	require.NoError(t, err)
	assert.Equal(t, "service-at", st.AccessToken)
	assert.Equal(t, int32(1), discoveryCalls.Load())
	assert.Equal(t, serviceResource, m.resource)
	assert.Equal(t, "https://fabrikam-my.sharepoint.com/_api/v2.0", m.BaseURL())
}

func TestGetAccessToken_CanceledCallerDoesNotFailOthers(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})

	ts := newTokenServer(t, func(url.Values) (int, any) {
		close(arrived)
		<-release
		return http.StatusOK, tokenPayload("shared", "rt2", 3600)
	})

	m := newTestManager(t, graphProfile(t, ts.srv.URL), nil)
	m.state = TokenState{RefreshToken: "rt"}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)

	go func() {
		_, err := m.GetAccessToken(ctx)
		firstErr <- err
	}()

	<-arrived

	type outcome struct {
		st  TokenState
		err error
	}

	second := make(chan outcome, 1)

	go func() {
		st, err := m.GetAccessToken(context.Background())
		second <- outcome{st, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)

	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "shared", got.st.AccessToken)
	assert.Equal(t, int32(1), ts.calls.Load())
}
