package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to check.
var (
	// ErrInteractionRequired means no access token, refresh token, or
	// authorization code is available. A user has to sign in through the
	// browser before any call can proceed.
	ErrInteractionRequired = errors.New("auth: interactive authorization required")

	// ErrTokenRetrievalFailed means the token endpoint rejected a grant or
	// could not be reached.
	ErrTokenRetrievalFailed = errors.New("auth: token retrieval failed")

	// ErrDiscoveryFailed means the Business service discovery call did not
	// yield a usable file storage endpoint.
	ErrDiscoveryFailed = errors.New("auth: service discovery failed")

	// ErrAuthorizationDenied means the authorize redirect carried an error
	// instead of a code.
	ErrAuthorizationDenied = errors.New("auth: authorization denied")
)

// TokenError describes a failed token grant. Code and Description carry the
// provider's OAuth2 error fields when the error body could be parsed; Err
// holds the transport or parse error otherwise.
type TokenError struct {
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *TokenError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("auth: token endpoint returned HTTP %d: %s: %s", e.StatusCode, e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("auth: token endpoint returned HTTP %d: %s", e.StatusCode, e.Code)
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("auth: token endpoint returned HTTP %d: %v", e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("auth: token request failed: %v", e.Err)
	default:
		return fmt.Sprintf("auth: token endpoint returned HTTP %d", e.StatusCode)
	}
}

// Unwrap exposes both ErrTokenRetrievalFailed and the underlying cause.
func (e *TokenError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTokenRetrievalFailed}
	}

	return []error{ErrTokenRetrievalFailed, e.Err}
}
