package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// maxTokenBodyBytes bounds how much of a token or discovery response is read.
const maxTokenBodyBytes = 1 << 20

// grant is an OAuth2 grant_type value.
type grant string

const (
	grantAuthorizationCode grant = "authorization_code"
	grantRefreshToken      grant = "refresh_token"
)

// grantForm builds the form-encoded body for a token request. resource is
// only sent when non-empty (Business); scopes are only sent for profiles
// that expect them on grants (Graph).
func (m *Manager) grantForm(g grant, secret, resource string) url.Values {
	form := url.Values{}
	form.Set("client_id", m.cfg.ClientID)
	form.Set("redirect_uri", m.redirectURL())
	form.Set("grant_type", string(g))

	if m.cfg.ClientSecret != "" {
		form.Set("client_secret", m.cfg.ClientSecret)
	}

	switch g {
	case grantAuthorizationCode:
		form.Set("code", secret)
	case grantRefreshToken:
		form.Set("refresh_token", secret)
	}

	if resource != "" {
		form.Set("resource", resource)
	} else if m.cfg.Profile.GrantScopes && len(m.cfg.Profile.Scopes) > 0 {
		form.Set("scope", strings.Join(m.cfg.Profile.Scopes, " "))
	}

	return form
}

// requestToken performs one POST against the token endpoint. It never
// retries; retry policy belongs to the caller.
func (m *Manager) requestToken(ctx context.Context, g grant, secret, resource string) (*tokenResponse, error) {
	form := m.grantForm(g, secret, resource)

	m.logger.Debug("requesting token",
		slog.String("grant_type", string(g)),
		slog.String("resource", resource),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Profile.Endpoint.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TokenError{Err: fmt.Errorf("creating token request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &TokenError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBodyBytes))
	if err != nil {
		return nil, &TokenError{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading token response: %w", err)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, parseTokenError(resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &TokenError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding token response: %w", err)}
	}

	if tr.AccessToken == "" {
		return nil, &TokenError{StatusCode: resp.StatusCode, Err: errors.New("token response has no access_token")}
	}

	return &tr, nil
}

// parseTokenError turns a non-2xx token response into a TokenError,
// keeping the provider's error code when the body is an OAuth2 error.
func parseTokenError(status int, body []byte) *TokenError {
	var oe oauthErrorResponse
	if err := json.Unmarshal(body, &oe); err != nil {
		return &TokenError{StatusCode: status, Err: fmt.Errorf("decoding error response: %w", err)}
	}

	if oe.Error == "" {
		return &TokenError{StatusCode: status, Err: errors.New("error response has no error code")}
	}

	return &TokenError{StatusCode: status, Code: oe.Error, Description: oe.Description}
}

// discoveredService is one entry of the discovery service listing.
type discoveredService struct {
	Capability        string `json:"capability"`
	ServiceAPIVersion string `json:"serviceApiVersion"`
	ServiceEndpoint   string `json:"serviceEndpointUri"`
	ServiceResourceID string `json:"serviceResourceId"`
}

type discoveryResponse struct {
	Value []discoveredService `json:"value"`
}

// discover asks the Office 365 discovery service which endpoint serves the
// user's files and which resource identifier to request tokens for.
func (m *Manager) discover(ctx context.Context, accessToken string) (*discoveredService, error) {
	p := m.cfg.Profile

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.DiscoveryURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", ErrDiscoveryFailed, err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrDiscoveryFailed, resp.StatusCode)
	}

	var dr discoveryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenBodyBytes)).Decode(&dr); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrDiscoveryFailed, err)
	}

	for i := range dr.Value {
		svc := &dr.Value[i]
		if svc.Capability == p.DiscoveryCapability && svc.ServiceAPIVersion == p.DiscoveryAPIVersion {
			m.logger.Info("discovered file storage service",
				slog.String("endpoint", svc.ServiceEndpoint),
				slog.String("resource", svc.ServiceResourceID),
			)

			return svc, nil
		}
	}

	return nil, fmt.Errorf("%w: no %s service with API version %s among %d services",
		ErrDiscoveryFailed, p.DiscoveryCapability, p.DiscoveryAPIVersion, len(dr.Value))
}
