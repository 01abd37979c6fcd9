package onedrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/onedrive-api/internal/variant"
)

// Retry and backoff defaults.
const (
	DefaultMaxRetries = 5
	DefaultUserAgent  = "onedrive-api/0.1"

	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25

	// maxErrorBodyBytes bounds how much of an error response is kept.
	maxErrorBodyBytes = 64 << 10
)

// ErrNoBaseURL is returned when a request is attempted before the data
// endpoint is known (Business accounts before their first token grant).
var ErrNoBaseURL = errors.New("onedrive: base URL not yet known")

// Authorizer supplies bearer tokens and the root URL for data calls.
// *auth.Manager implements it.
type Authorizer interface {
	Token(ctx context.Context) (string, error)
	BaseURL() string
}

// Client is an HTTP client for the OneDrive REST APIs. It handles request
// construction, authorization, retry with exponential backoff, and error
// classification.
type Client struct {
	auth       Authorizer
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
	maxRetries int

	// sessionAction is the path segment that opens an upload session.
	sessionAction string

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for the API flavor described by profile. An
// empty userAgent selects DefaultUserAgent.
func NewClient(
	profile variant.Profile, auth Authorizer, httpClient *http.Client, logger *slog.Logger, userAgent string,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		auth:       auth,
		httpClient: httpClient,
		logger:     logger,
		userAgent:  userAgent,
		maxRetries: DefaultMaxRetries,
		sleepFunc:  timeSleep,

		sessionAction: profile.SessionAction,
	}
}

// SetMaxRetries changes how often Do retries a transient failure. Zero
// disables retries.
func (c *Client) SetMaxRetries(n int) {
	if n < 0 {
		n = 0
	}

	c.maxRetries = n
}

// Do executes a JSON request. path is appended to the authorizer's base
// URL. Transient failures (network errors, 408, 429, 5xx, 509) are retried
// with backoff; a body must then implement io.Seeker to be replayed.
// Token errors are returned immediately. The caller closes the response
// body on success.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	var attempt int

	for {
		tok, err := c.auth.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAuthorization, err)
		}

		url, err := c.resolve(path)
		if err != nil {
			return nil, err
		}

		if attempt > 0 {
			if err := rewindBody(body); err != nil {
				return nil, err
			}
		}

		resp, err := c.doOnce(ctx, method, url, tok, "application/json", body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("onedrive: request canceled: %w", ctx.Err())
			}

			if attempt < c.maxRetries && replayable(body) {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("onedrive: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("onedrive: %s %s failed after %d attempts: %w", method, path, attempt+1, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody := readErrorBody(resp)

		if isRetryable(resp.StatusCode) && attempt < c.maxRetries && replayable(body) {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("onedrive: request canceled: %w", err)
			}

			attempt++

			continue
		}

		apiErr := newAPIError(resp, errBody)

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, apiErr
	}
}

// resolve joins path onto the authorizer's base URL. Absolute URLs (upload
// session URLs, paging links) pass through unchanged.
func (c *Client) resolve(path string) (string, error) {
	if isAbsolute(path) {
		return path, nil
	}

	base := c.auth.BaseURL()
	if base == "" {
		return "", ErrNoBaseURL
	}

	return base + path, nil
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(
	ctx context.Context, method, url, token, contentType string, body io.Reader,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	c.setHeaders(req, token)

	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

// setHeaders stamps the headers every request carries.
func (c *Client) setHeaders(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("client-request-id", uuid.NewString())
	req.Header.Set("Accept", "application/json")
}

// retryBackoff returns the backoff duration for a retryable response.
// A Retry-After header in seconds wins over the computed backoff.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// readErrorBody drains and closes a failed response, keeping a bounded prefix.
func readErrorBody(resp *http.Response) []byte {
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return []byte("(failed to read response body)")
	}

	return b
}

// replayable reports whether body can be sent again after a failed attempt.
func replayable(body io.Reader) bool {
	if body == nil {
		return true
	}

	_, ok := body.(io.Seeker)

	return ok
}

// rewindBody seeks a replayable body back to its start.
func rewindBody(body io.Reader) error {
	s, ok := body.(io.Seeker)
	if !ok {
		return nil
	}

	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("onedrive: rewinding request body: %w", err)
	}

	return nil
}

func isAbsolute(path string) bool {
	return strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://")
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
