// Package onedrive is the HTTP transport for the OneDrive family of REST
// APIs: authorized requests with retry and error classification, driveItem
// normalization, and the upload primitives (simple PUT, upload session
// creation, single fragment PUT).
package onedrive

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, onedrive.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("onedrive: bad request")
	ErrUnauthorized = errors.New("onedrive: unauthorized")
	ErrForbidden    = errors.New("onedrive: forbidden")
	ErrNotFound     = errors.New("onedrive: not found")
	ErrConflict     = errors.New("onedrive: conflict")
	ErrGone         = errors.New("onedrive: resource gone")
	ErrTooLarge     = errors.New("onedrive: payload too large")
	ErrRange        = errors.New("onedrive: range not satisfiable")
	ErrThrottled    = errors.New("onedrive: throttled")
	ErrLocked       = errors.New("onedrive: resource locked")
	ErrServerError  = errors.New("onedrive: server error")
)

// APIError is a non-2xx response. Code and Message come from the service's
// error object when the body carries one; otherwise Message is the raw body.
type APIError struct {
	StatusCode int
	RequestID  string
	Code       string
	Message    string
	Err        error // sentinel, may be nil for unclassified statuses
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + e.Message
	}

	if e.RequestID != "" {
		return fmt.Sprintf("onedrive: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, msg)
	}

	return fmt.Sprintf("onedrive: HTTP %d: %s", e.StatusCode, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newAPIError builds an APIError from a failed response and its body.
func newAPIError(resp *http.Response, body []byte) *APIError {
	ae := &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  requestID(resp),
		Message:    string(body),
		Err:        classifyStatus(resp.StatusCode),
	}

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error.Code != "" {
		ae.Code = eb.Error.Code
		ae.Message = eb.Error.Message
	}

	return ae
}

// requestID returns the service's correlation id. Graph calls it request-id,
// SharePoint sends it as sprequestguid.
func requestID(resp *http.Response) string {
	if id := resp.Header.Get("request-id"); id != "" {
		return id
	}

	return resp.Header.Get("SPRequestGuid")
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	case http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case http.StatusRequestedRangeNotSatisfiable:
		return ErrRange
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusLocked:
		return ErrLocked
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// statusBandwidthExceeded is SharePoint's 509 Bandwidth Limit Exceeded.
const statusBandwidthExceeded = 509

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		statusBandwidthExceeded:
		return true
	default:
		return false
	}
}
