// Package config loads the client's TOML configuration. Values come from
// three layers: built-in defaults, the config file, then environment
// variables. Load checks the file on its own; Resolve checks the merged
// result and converts it to typed Settings.
package config

import (
	"log/slog"
	"time"

	"github.com/tonimelisma/onedrive-api/internal/upload"
	"github.com/tonimelisma/onedrive-api/internal/variant"
)

// Config is the raw file form. Sizes, rates and durations stay strings until
// Resolve parses them, so error messages can quote what the user wrote.
type Config struct {
	Variant      string `toml:"variant"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURL  string `toml:"redirect_url"`
	TokenFile    string `toml:"token_file"`

	FragmentSize        string `toml:"fragment_size"`
	MaxFragmentAttempts int    `toml:"max_fragment_attempts"`
	RetryPolicy         string `toml:"retry_policy"`
	SimpleUploadMaxSize string `toml:"simple_upload_max_size"`
	BandwidthLimit      string `toml:"bandwidth_limit"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Timeout    string `toml:"timeout"`
	MaxRetries int    `toml:"max_retries"`
	UserAgent  string `toml:"user_agent"`
}

// Settings is a validated Config with every value in its working type.
type Settings struct {
	Variant      variant.Kind
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// TokenPath is where tokens persist. Empty disables persistence.
	TokenPath string

	FragmentSize        int64
	MaxFragmentAttempts int
	RetryPolicy         upload.RetryPolicy

	// SimpleUploadMaxSize is 0 when the variant's own threshold applies.
	SimpleUploadMaxSize int64

	// BandwidthLimit is in bytes per second; 0 is unlimited.
	BandwidthLimit int64

	LogLevel  slog.Level
	LogFormat string

	Timeout    time.Duration
	MaxRetries int
	UserAgent  string
}
