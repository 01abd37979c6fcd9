// Package onedriveapi is a client for the OneDrive, OneDrive for Business
// and Microsoft Graph file APIs. It keeps an OAuth2 token fresh and uploads
// files, small ones in a single request and large ones through a resumable
// upload session sent in fragments.
//
// A Client is built from configuration:
//
//	c, err := onedriveapi.Open(nil)
//	if err != nil { ... }
//	item, err := c.UploadFile(ctx, onedriveapi.Root, "/tmp/report.pdf", "", nil)
package onedriveapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/onedrive-api/internal/auth"
	"github.com/tonimelisma/onedrive-api/internal/config"
	"github.com/tonimelisma/onedrive-api/internal/onedrive"
	"github.com/tonimelisma/onedrive-api/internal/upload"
	"github.com/tonimelisma/onedrive-api/internal/variant"
)

// Re-exported types. Callers never import the internal packages.
type (
	Item       = onedrive.Item
	ItemRef    = onedrive.ItemRef
	Progress   = upload.Progress
	TokenState = auth.TokenState
	Settings   = config.Settings
	Variant    = variant.Kind
)

// API variants.
const (
	Personal = variant.Personal
	Business = variant.Business
	Graph    = variant.Graph
)

// Root addresses the drive's root folder.
var Root = onedrive.Root

// Errors callers are expected to test for with errors.Is.
var (
	ErrInteractionRequired  = auth.ErrInteractionRequired
	ErrTokenRetrievalFailed = auth.ErrTokenRetrievalFailed
	ErrAuthorizationDenied  = auth.ErrAuthorizationDenied
	ErrUploadAborted        = upload.ErrUploadAborted
	ErrInvalidName          = upload.ErrInvalidName
	ErrSourceNotSeekable    = upload.ErrSourceNotSeekable
	ErrCompletionUnreadable = upload.ErrCompletionUnreadable
)

// Client is safe for concurrent use. Uploads started concurrently share one
// token.
type Client struct {
	variant variant.Kind
	auth    *auth.Manager
	uploads *upload.Manager
	logger  *slog.Logger
}

// Open resolves configuration from the default config file and the
// environment, then builds a Client. A nil logger is built from the
// configured log level and format.
func Open(logger *slog.Logger) (*Client, error) {
	s, err := config.Resolve(config.ReadEnvOverrides())
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = s.Logger()
	}

	return New(s, nil, logger)
}

// New builds a Client from resolved settings. A nil httpClient gets one
// with the configured timeout. A saved token, if any, is restored.
func New(s *Settings, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	profile, err := variant.Lookup(s.Variant)
	if err != nil {
		return nil, fmt.Errorf("onedriveapi: %w", err)
	}

	return newClient(s, profile, httpClient, logger)
}

// newClient wires the components for profile. Tests pass profiles pointed
// at local servers.
func newClient(s *Settings, profile variant.Profile, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: s.Timeout}
	}

	var store auth.Store
	if s.TokenPath != "" {
		store = auth.FileStore{Path: s.TokenPath}
	}

	tokens := auth.NewManager(auth.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		RedirectURL:  s.RedirectURL,
		Profile:      profile,
	}, httpClient, store, logger)

	if err := tokens.Restore(); err != nil {
		// A corrupt token file only means the user signs in again.
		logger.Warn("ignoring saved token", slog.String("error", err.Error()))
	}

	rest := onedrive.NewClient(profile, tokens, httpClient, logger, s.UserAgent)
	rest.SetMaxRetries(s.MaxRetries)

	uploads := upload.NewManager(rest, upload.Config{
		Profile:             profile,
		FragmentSize:        s.FragmentSize,
		MaxAttempts:         s.MaxFragmentAttempts,
		Policy:              s.RetryPolicy,
		SimpleUploadMaxSize: s.SimpleUploadMaxSize,
		Limiter:             upload.NewLimiter(s.BandwidthLimit, logger),
	}, logger)

	logger.Debug("client ready",
		slog.String("variant", string(profile.Kind)),
		slog.Bool("token_persistence", store != nil),
		slog.Int64("simple_upload_max_size", uploads.Threshold()),
	)

	return &Client{
		variant: profile.Kind,
		auth:    tokens,
		uploads: uploads,
		logger:  logger,
	}, nil
}

// Variant reports which API flavor the client talks to.
func (c *Client) Variant() Variant {
	return c.variant
}

// GetAccessToken returns a valid token, refreshing or redeeming credentials
// as needed. Without any credentials the error wraps ErrInteractionRequired.
func (c *Client) GetAccessToken(ctx context.Context) (TokenState, error) {
	return c.auth.GetAccessToken(ctx)
}

// AuthorizationURL is the sign-in page for the user. Pass a value from
// NewState and give the same value to AuthorizeWithRedirect.
func (c *Client) AuthorizationURL(state string) string {
	return c.auth.AuthorizationURL(state)
}

// NewState returns a random OAuth2 state value.
func NewState() string {
	return auth.NewState()
}

// AuthorizeWithRedirect completes sign-in from the URL the browser landed
// on, redeeming its code right away. Any token already held is replaced.
func (c *Client) AuthorizeWithRedirect(ctx context.Context, redirectedURL, state string) error {
	code, err := c.auth.AuthorizationCodeFromRedirect(redirectedURL, state)
	if err != nil {
		return err
	}

	if _, err := c.auth.AuthenticateWithAuthorizationCode(ctx, code); err != nil {
		return err
	}

	c.logger.Info("signed in", slog.String("variant", string(c.variant)))

	return nil
}

// AuthenticateWithRefreshToken signs in with a refresh token obtained
// elsewhere.
func (c *Client) AuthenticateWithRefreshToken(ctx context.Context, refreshToken string) error {
	_, err := c.auth.AuthenticateWithRefreshToken(ctx, refreshToken)

	return err
}

// SignOut forgets and deletes the saved token. The returned URL ends the
// browser session with the provider.
func (c *Client) SignOut() (string, error) {
	if err := c.auth.Reset(); err != nil {
		return "", err
	}

	return c.auth.SignOutURL(), nil
}

// UploadSmallFile sends r as one request into parent, replacing any file
// named name.
func (c *Client) UploadSmallFile(
	ctx context.Context, parent ItemRef, name string, r io.Reader, size int64,
) (*Item, error) {
	return c.uploads.UploadSmall(ctx, parent, name, r, size)
}

// UploadLargeFile sends r through a resumable upload session. progress may
// be nil and is never blocked on.
func (c *Client) UploadLargeFile(
	ctx context.Context, parent ItemRef, name string, r io.Reader, size int64, progress chan<- Progress,
) (*Item, error) {
	return c.uploads.UploadLarge(ctx, parent, name, r, size, progress)
}

// Upload chooses between UploadSmallFile and UploadLargeFile by size.
func (c *Client) Upload(
	ctx context.Context, parent ItemRef, name string, r io.Reader, size int64, progress chan<- Progress,
) (*Item, error) {
	return c.uploads.Upload(ctx, parent, name, r, size, progress)
}

// UploadFile uploads the local file at localPath. An empty name keeps the
// local base name.
func (c *Client) UploadFile(
	ctx context.Context, parent ItemRef, localPath, name string, progress chan<- Progress,
) (*Item, error) {
	return c.uploads.UploadFile(ctx, parent, localPath, name, progress)
}
