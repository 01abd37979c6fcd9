package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// TokenState is the credential material the manager hands out. Values are
// replaced wholesale on every successful grant and never mutated in place.
type TokenState struct {
	AccessToken         string
	RefreshToken        string
	TokenType           string
	ExpiresAt           time.Time
	Scopes              []string
	AuthenticationToken string
}

// Valid reports whether the access token can be used at now. Expiry is
// strict: a token expiring exactly at now is stale.
func (s TokenState) Valid(now time.Time) bool {
	return s.AccessToken != "" && !s.ExpiresAt.IsZero() && s.ExpiresAt.After(now)
}

// IsZero reports whether the state holds no credential at all.
func (s TokenState) IsZero() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}

func (s TokenState) clone() TokenState {
	s.Scopes = slices.Clone(s.Scopes)
	return s
}

// tokenResponse mirrors the token endpoint's JSON body.
type tokenResponse struct {
	TokenType           string  `json:"token_type"`
	AccessToken         string  `json:"access_token"`
	ExpiresIn           seconds `json:"expires_in"`
	RefreshToken        string  `json:"refresh_token"`
	Scope               string  `json:"scope"`
	AuthenticationToken string  `json:"authentication_token"`
}

// toState converts a grant response issued at issued. A refresh token is
// not always reissued; previousRefresh is kept in that case.
func (r *tokenResponse) toState(issued time.Time, previousRefresh string) TokenState {
	st := TokenState{
		AccessToken:         r.AccessToken,
		RefreshToken:        r.RefreshToken,
		TokenType:           r.TokenType,
		Scopes:              strings.Fields(r.Scope),
		AuthenticationToken: r.AuthenticationToken,
	}

	if st.RefreshToken == "" {
		st.RefreshToken = previousRefresh
	}

	if st.AccessToken != "" {
		st.ExpiresAt = issued.Add(time.Duration(r.ExpiresIn) * time.Second)
	}

	return st
}

// oauthErrorResponse is the RFC 6749 error body.
type oauthErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// seconds decodes expires_in, which the v1 Azure AD endpoint sends as a
// quoted string and everyone else as a number.
type seconds int64

func (s *seconds) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*s = 0
		return nil
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("expires_in: %w", err)
	}

	*s = seconds(n)

	return nil
}

var _ json.Unmarshaler = (*seconds)(nil)
