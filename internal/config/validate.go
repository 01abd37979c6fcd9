package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tonimelisma/onedrive-api/internal/upload"
	"github.com/tonimelisma/onedrive-api/internal/variant"
)

// Validation ranges.
const (
	minFragmentBytes    = 1
	maxFragmentBytes    = 60 * humanize.MiByte // service limit per request
	maxSimpleUpload     = 4 * humanize.MiByte  // service limit for single-request upload
	minFragmentAttempts = 1
	maxFragmentAttempts = 10
	maxRetries          = 10
)

var validLogLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

var validLogFormats = map[string]bool{
	logFormatAuto: true,
	logFormatText: true,
	logFormatJSON: true,
}

// Validate checks every value in cfg and reports all problems at once.
// It does not require client_id, which may still come from the
// environment; ValidateResolved does.
func Validate(cfg *Config) error {
	_, errs := parse(cfg)

	return errors.Join(errs...)
}

// ValidateResolved checks cfg after every override layer has been applied.
func ValidateResolved(cfg *Config) error {
	_, errs := parse(cfg)

	if strings.TrimSpace(cfg.ClientID) == "" {
		errs = append(errs, fmt.Errorf("client_id: must be set (or %s)", EnvClientID))
	}

	return errors.Join(errs...)
}

// parse converts cfg to Settings, collecting one error per bad key.
func parse(cfg *Config) (*Settings, []error) {
	s := &Settings{
		ClientID:            strings.TrimSpace(cfg.ClientID),
		ClientSecret:        cfg.ClientSecret,
		RedirectURL:         cfg.RedirectURL,
		TokenPath:           resolveTokenPath(cfg.TokenFile),
		MaxFragmentAttempts: cfg.MaxFragmentAttempts,
		LogFormat:           cfg.LogFormat,
		MaxRetries:          cfg.MaxRetries,
		UserAgent:           cfg.UserAgent,
	}

	var errs []error

	kind, err := variant.ParseKind(cfg.Variant)
	if err != nil {
		errs = append(errs, fmt.Errorf("variant: %w", err))
	}

	s.Variant = kind

	if cfg.RedirectURL != "" {
		if u, err := url.Parse(cfg.RedirectURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("redirect_url: must be an absolute URL, got %q", cfg.RedirectURL))
		}
	}

	errs = append(errs, parseUpload(cfg, s)...)
	errs = append(errs, parseLogging(cfg, s)...)
	errs = append(errs, parseNetwork(cfg, s)...)

	return s, errs
}

func parseUpload(cfg *Config, s *Settings) []error {
	var errs []error

	frag, err := ParseSize(cfg.FragmentSize)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("fragment_size: %w", err))
	case frag < minFragmentBytes || frag > maxFragmentBytes:
		errs = append(errs, fmt.Errorf("fragment_size: must be between 1B and 60MiB, got %q", cfg.FragmentSize))
	}

	s.FragmentSize = frag

	if cfg.MaxFragmentAttempts < minFragmentAttempts || cfg.MaxFragmentAttempts > maxFragmentAttempts {
		errs = append(errs, fmt.Errorf("max_fragment_attempts: must be between %d and %d, got %d",
			minFragmentAttempts, maxFragmentAttempts, cfg.MaxFragmentAttempts))
	}

	policy, err := upload.ParseRetryPolicy(cfg.RetryPolicy)
	if err != nil {
		errs = append(errs, fmt.Errorf("retry_policy: %w", err))
	}

	s.RetryPolicy = policy

	simple, err := ParseSize(cfg.SimpleUploadMaxSize)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("simple_upload_max_size: %w", err))
	case simple > maxSimpleUpload:
		errs = append(errs, fmt.Errorf("simple_upload_max_size: must be at most 4MiB, got %q", cfg.SimpleUploadMaxSize))
	}

	s.SimpleUploadMaxSize = simple

	limit, err := ParseBandwidth(cfg.BandwidthLimit)
	if err != nil {
		errs = append(errs, fmt.Errorf("bandwidth_limit: %w", err))
	}

	s.BandwidthLimit = limit

	return errs
}

func parseLogging(cfg *Config, s *Settings) []error {
	var errs []error

	level, ok := validLogLevels[strings.ToLower(cfg.LogLevel)]
	if !ok {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", cfg.LogLevel))
	}

	s.LogLevel = level

	if !validLogFormats[cfg.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", cfg.LogFormat))
	}

	return errs
}

func parseNetwork(cfg *Config, s *Settings) []error {
	var errs []error

	timeout, err := parseDuration(cfg.Timeout)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("timeout: %w", err))
	case timeout < 0:
		errs = append(errs, fmt.Errorf("timeout: must not be negative, got %q", cfg.Timeout))
	}

	s.Timeout = timeout

	if cfg.MaxRetries < 0 || cfg.MaxRetries > maxRetries {
		errs = append(errs, fmt.Errorf("max_retries: must be between 0 and %d, got %d", maxRetries, cfg.MaxRetries))
	}

	return errs
}

// parseDuration accepts Go duration syntax; empty and "0" are zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	return d, nil
}
