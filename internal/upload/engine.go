// Package upload moves file content to OneDrive. Small files go in a single
// request; everything else goes through a resumable upload session, sent
// as sequential fragments with a bounded number of attempts each.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/onedrive-api/internal/onedrive"
	"github.com/tonimelisma/onedrive-api/pkg/quickxorhash"
)

// Defaults for the fragment loop.
const (
	// DefaultFragmentSize is 5000 KB in decimal units.
	DefaultFragmentSize int64 = 5000 * 1000

	// DefaultMaxAttempts bounds consecutive failures of one fragment.
	DefaultMaxAttempts = 3
)

// RetryPolicy selects how a failed fragment is recovered.
type RetryPolicy string

const (
	// RetryFragment resends only the failed fragment, up to MaxAttempts
	// times in a row.
	RetryFragment RetryPolicy = "fragment"

	// RetryTransfer restarts the whole file from offset 0 in a fresh
	// session after any fragment failure, up to MaxAttempts transfers.
	RetryTransfer RetryPolicy = "transfer"
)

// ParseRetryPolicy converts a config string. Empty selects RetryFragment.
func ParseRetryPolicy(s string) (RetryPolicy, error) {
	switch RetryPolicy(s) {
	case "", RetryFragment:
		return RetryFragment, nil
	case RetryTransfer:
		return RetryTransfer, nil
	default:
		return "", fmt.Errorf("upload: unknown retry policy %q (want fragment or transfer)", s)
	}
}

// FragmentTransmission is one fragment in flight. End is exclusive.
type FragmentTransmission struct {
	Start   int64
	End     int64
	Total   int64
	Attempt int
}

// ContentRange renders the Content-Range header value.
func (f FragmentTransmission) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", f.Start, f.End-1, f.Total)
}

// Len is the fragment's size in bytes.
func (f FragmentTransmission) Len() int64 {
	return f.End - f.Start
}

// Progress is sent after every acknowledged fragment.
type Progress struct {
	BytesSent  int64
	TotalBytes int64
}

// FragmentSender issues a single fragment request. *onedrive.Client
// implements it.
type FragmentSender interface {
	UploadFragment(
		ctx context.Context, session *onedrive.UploadSession, data []byte, start, total int64,
	) (*onedrive.FragmentResult, error)
}

// EngineConfig tunes the fragment loop. Zero values select defaults.
type EngineConfig struct {
	FragmentSize int64
	MaxAttempts  int
	Limiter      *Limiter
}

// Result is a completed transfer.
type Result struct {
	Item *onedrive.Item

	// QuickXorHash is the base64 hash of the bytes sent. Empty when the
	// service completed the file before the last byte was sent.
	QuickXorHash string
}

// Engine runs the fragment loop for one upload session at a time. It holds
// no per-upload state and may be shared.
type Engine struct {
	sender FragmentSender
	cfg    EngineConfig
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(sender FragmentSender, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.FragmentSize <= 0 {
		cfg.FragmentSize = DefaultFragmentSize
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	return &Engine{sender: sender, cfg: cfg, logger: logger}
}

// FragmentSize returns the effective fragment size.
func (e *Engine) FragmentSize() int64 {
	return e.cfg.FragmentSize
}

// UploadFragments sends size bytes from src through session, each fragment
// tried up to MaxAttempts times in a row. It returns as soon as the service
// answers 200 or 201; an unreadable 200 or 201 reply ends it with
// ErrCompletionUnreadable. On exhaustion the error is an *AbortError and
// nothing further is sent. Token failures and context cancellation end the upload
// without counting as attempts. progress may be nil; sends never block.
func (e *Engine) UploadFragments(
	ctx context.Context, src io.Reader, size int64, session *onedrive.UploadSession, progress chan<- Progress,
) (*Result, error) {
	return e.run(ctx, src, size, session, progress, e.cfg.MaxAttempts)
}

// run is the fragment loop. attempts bounds each fragment; the whole-
// transfer policy passes 1 and retries above this level.
func (e *Engine) run(
	ctx context.Context, src io.Reader, size int64, session *onedrive.UploadSession,
	progress chan<- Progress, attempts int,
) (*Result, error) {
	if size <= 0 {
		return nil, fmt.Errorf("upload: resumable upload needs a positive size, got %d", size)
	}

	buf := make([]byte, min(e.cfg.FragmentSize, size))
	hash := quickxorhash.New()
	fragments := 0

	for start := int64(0); start < size; {
		end := min(start+e.cfg.FragmentSize, size)
		chunk := buf[:end-start]

		if _, err := io.ReadFull(src, chunk); err != nil {
			return nil, fmt.Errorf("upload: reading source at offset %d: %w", start, err)
		}

		ft := FragmentTransmission{Start: start, End: end, Total: size}

		res, err := e.sendFragment(ctx, session, chunk, ft, attempts)
		if err != nil {
			return nil, err
		}

		fragments++

		// The loop only reaches here with an acknowledged fragment.
		_, _ = hash.Write(chunk)
		start = end

		notify(progress, Progress{BytesSent: end, TotalBytes: size})

		if res.Done {
			result := &Result{Item: res.Item}
			if end == size {
				result.QuickXorHash = hash.Base64()
			} else {
				e.logger.Warn("service completed upload before last fragment",
					slog.Int64("sent", end),
					slog.Int64("total", size),
				)
			}

			e.logger.Info("resumable upload complete",
				slog.Int64("size", size),
				slog.Int("fragments", fragments),
			)

			return result, nil
		}
	}

	return nil, fmt.Errorf("%w: sent %d bytes in %d fragments", ErrIncomplete, size, fragments)
}

// sendFragment tries one fragment up to attempts times in a row.
func (e *Engine) sendFragment(
	ctx context.Context, session *onedrive.UploadSession, chunk []byte, ft FragmentTransmission, attempts int,
) (*onedrive.FragmentResult, error) {
	var last *FragmentError

	for attempt := 1; attempt <= attempts; attempt++ {
		ft.Attempt = attempt

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("upload: canceled: %w", err)
		}

		if err := e.cfg.Limiter.Wait(ctx, len(chunk)); err != nil {
			return nil, fmt.Errorf("upload: waiting for bandwidth: %w", err)
		}

		res, err := e.sender.UploadFragment(ctx, session, chunk, ft.Start, ft.Total)

		switch {
		case err == nil && res != nil && (res.Done || res.StatusCode == http.StatusAccepted):
			if attempt > 1 {
				e.logger.Info("fragment succeeded after retry",
					slog.String("range", ft.ContentRange()),
					slog.Int("attempt", attempt),
				)
			}

			return res, nil

		case err != nil && res != nil && res.Done:
			e.logger.Error("file committed but completion reply unreadable",
				slog.String("range", ft.ContentRange()),
				slog.Int("status", res.StatusCode),
				slog.String("error", err.Error()),
			)

			return nil, fmt.Errorf("%w: fragment %s: %w", ErrCompletionUnreadable, ft.ContentRange(), err)

		case errors.Is(err, onedrive.ErrAuthorization):
			return nil, fmt.Errorf("upload: fragment %s: %w", ft.ContentRange(), err)

		case ctx.Err() != nil:
			return nil, fmt.Errorf("upload: canceled: %w", ctx.Err())
		}

		last = &FragmentError{Fragment: ft, Err: err}
		if res != nil {
			last.StatusCode = res.StatusCode
		}

		if last.Err == nil {
			last.Err = fmt.Errorf("unexpected status %d", last.StatusCode)
		}

		e.logger.Warn("fragment attempt failed",
			slog.String("range", ft.ContentRange()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Int("status", last.StatusCode),
			slog.String("error", last.Err.Error()),
		)
	}

	e.logger.Error("fragment failed, aborting upload",
		slog.String("range", ft.ContentRange()),
		slog.Int("attempts", attempts),
	)

	return nil, &AbortError{Attempts: attempts, Last: last}
}

// notify delivers p without blocking. A full or nil channel drops it.
func notify(ch chan<- Progress, p Progress) {
	if ch == nil {
		return
	}

	select {
	case ch <- p:
	default:
	}
}
