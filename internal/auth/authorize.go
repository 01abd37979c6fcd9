package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// NewState returns a random value for the OAuth2 state parameter.
func NewState() string {
	return uuid.NewString()
}

// AuthorizationURL is the page a user signs in on. The browser is later
// redirected to the configured redirect URL with a code.
func (m *Manager) AuthorizationURL(state string) string {
	return m.cfg.Profile.AuthorizeURL(m.cfg.ClientID, m.cfg.RedirectURL, state)
}

// SignOutURL ends the user's browser session with the provider.
func (m *Manager) SignOutURL() string {
	return m.cfg.Profile.SignOutURL(m.cfg.ClientID, m.cfg.RedirectURL)
}

// AuthorizationCodeFromRedirect extracts the code from the URL the browser
// was redirected to after sign-in and stores it for the next
// GetAccessToken. wantState is compared with the returned state when
// non-empty.
func (m *Manager) AuthorizationCodeFromRedirect(redirected, wantState string) (string, error) {
	base := m.redirectURL()

	if !strings.HasPrefix(redirected, base+"?") && !strings.HasPrefix(redirected, base+"/?") {
		return "", fmt.Errorf("auth: %q is not a redirect to %s", redirected, base)
	}

	u, err := url.Parse(redirected)
	if err != nil {
		return "", fmt.Errorf("auth: parsing redirect URL: %w", err)
	}

	q := u.Query()

	if errCode := q.Get("error"); errCode != "" {
		return "", fmt.Errorf("%w: %s: %s", ErrAuthorizationDenied, errCode, q.Get("error_description"))
	}

	if wantState != "" && q.Get("state") != wantState {
		return "", fmt.Errorf("%w: state mismatch", ErrAuthorizationDenied)
	}

	code := q.Get("code")
	if code == "" {
		return "", errors.New("auth: redirect URL carries no code")
	}

	m.SetAuthorizationCode(code)

	return code, nil
}
