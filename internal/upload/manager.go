package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tonimelisma/onedrive-api/internal/onedrive"
	"github.com/tonimelisma/onedrive-api/internal/variant"
	"github.com/tonimelisma/onedrive-api/pkg/quickxorhash"
)

// Client is the slice of the REST client the upload paths need.
// *onedrive.Client implements it.
type Client interface {
	FragmentSender
	CreateUploadSession(ctx context.Context, parent onedrive.ItemRef, name string) (*onedrive.UploadSession, error)
	SimpleUpload(ctx context.Context, parent onedrive.ItemRef, name string, r io.Reader, size int64) (*onedrive.Item, error)
}

// Config tunes a Manager. Zero values select defaults.
type Config struct {
	Profile variant.Profile

	FragmentSize int64
	MaxAttempts  int
	Policy       RetryPolicy

	// SimpleUploadMaxSize overrides the profile's threshold when positive.
	SimpleUploadMaxSize int64

	Limiter *Limiter
}

// Manager routes uploads to the single-request or the resumable path.
type Manager struct {
	client    Client
	engine    *Engine
	profile   variant.Profile
	policy    RetryPolicy
	attempts  int
	threshold int64
	logger    *slog.Logger
}

// NewManager creates a Manager.
func NewManager(client Client, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	engine := NewEngine(client, EngineConfig{
		FragmentSize: cfg.FragmentSize,
		MaxAttempts:  cfg.MaxAttempts,
		Limiter:      cfg.Limiter,
	}, logger)

	threshold := cfg.Profile.SimpleUploadMaxSize
	if cfg.SimpleUploadMaxSize > 0 {
		threshold = cfg.SimpleUploadMaxSize
	}

	policy := cfg.Policy
	if policy == "" {
		policy = RetryFragment
	}

	return &Manager{
		client:    client,
		engine:    engine,
		profile:   cfg.Profile,
		policy:    policy,
		attempts:  engine.cfg.MaxAttempts,
		threshold: threshold,
		logger:    logger,
	}
}

// Threshold is the largest size sent as a single request.
func (m *Manager) Threshold() int64 {
	return m.threshold
}

// UploadSmall sends r in one request. Existing files of that name are
// replaced.
func (m *Manager) UploadSmall(
	ctx context.Context, parent onedrive.ItemRef, name string, r io.Reader, size int64,
) (*onedrive.Item, error) {
	name, err := m.checkName(name)
	if err != nil {
		return nil, err
	}

	if size < 0 {
		return nil, fmt.Errorf("upload: negative size %d", size)
	}

	hash := quickxorhash.New()

	item, err := m.client.SimpleUpload(ctx, parent, name, io.TeeReader(r, hash), size)
	if err != nil {
		return nil, fmt.Errorf("upload: uploading %s: %w", name, err)
	}

	m.verify(item, hash.Base64())

	return item, nil
}

// UploadLarge opens an upload session and sends r through it in fragments.
// progress may be nil.
func (m *Manager) UploadLarge(
	ctx context.Context, parent onedrive.ItemRef, name string, r io.Reader, size int64, progress chan<- Progress,
) (*onedrive.Item, error) {
	name, err := m.checkName(name)
	if err != nil {
		return nil, err
	}

	if size <= 0 {
		return nil, fmt.Errorf("upload: resumable upload of %s needs a positive size, got %d", name, size)
	}

	m.logger.Info("starting resumable upload",
		slog.String("name", name),
		slog.Int64("size", size),
		slog.Int64("fragment_size", m.engine.FragmentSize()),
		slog.String("retry_policy", string(m.policy)),
	)

	var res *Result

	if m.policy == RetryTransfer {
		res, err = m.uploadRestarting(ctx, parent, name, r, size, progress)
	} else {
		res, err = m.uploadOnce(ctx, parent, name, r, size, progress, m.attempts)
	}

	if err != nil {
		return nil, err
	}

	m.verify(res.Item, res.QuickXorHash)

	return res.Item, nil
}

// Upload picks the single-request path for files up to the threshold and
// the resumable path otherwise. Empty files always go in one request.
func (m *Manager) Upload(
	ctx context.Context, parent onedrive.ItemRef, name string, r io.Reader, size int64, progress chan<- Progress,
) (*onedrive.Item, error) {
	if size <= m.threshold {
		m.logger.Debug("routing to simple upload",
			slog.String("name", name),
			slog.Int64("size", size),
			slog.Int64("threshold", m.threshold),
		)

		item, err := m.UploadSmall(ctx, parent, name, r, size)
		if err == nil {
			notify(progress, Progress{BytesSent: size, TotalBytes: size})
		}

		return item, err
	}

	return m.UploadLarge(ctx, parent, name, r, size, progress)
}

// UploadFile uploads the local file at localPath into parent. An empty name
// uses the local file's base name.
func (m *Manager) UploadFile(
	ctx context.Context, parent onedrive.ItemRef, localPath, name string, progress chan<- Progress,
) (*onedrive.Item, error) {
	if localPath == "" {
		return nil, errors.New("upload: local path must not be empty")
	}

	if name == "" {
		name = filepath.Base(localPath)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("upload: opening %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("upload: stat %s: %w", localPath, err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("upload: %s is a directory", localPath)
	}

	return m.Upload(ctx, parent, name, f, info.Size(), progress)
}

// uploadOnce opens one session and runs the fragment loop through it.
func (m *Manager) uploadOnce(
	ctx context.Context, parent onedrive.ItemRef, name string, r io.Reader, size int64,
	progress chan<- Progress, attempts int,
) (*Result, error) {
	session, err := m.client.CreateUploadSession(ctx, parent, name)
	if err != nil {
		return nil, fmt.Errorf("upload: creating session for %s: %w", name, err)
	}

	return m.engine.run(ctx, r, size, session, progress, attempts)
}

// uploadRestarting sends the whole file up to m.attempts times, each time
// from offset 0 in a new session, giving every fragment a single attempt.
func (m *Manager) uploadRestarting(
	ctx context.Context, parent onedrive.ItemRef, name string, r io.Reader, size int64, progress chan<- Progress,
) (*Result, error) {
	seeker, ok := r.(io.Seeker)
	if !ok {
		return nil, ErrSourceNotSeekable
	}

	var last *FragmentError

	for transfer := 1; transfer <= m.attempts; transfer++ {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("upload: rewinding %s: %w", name, err)
		}

		res, err := m.uploadOnce(ctx, parent, name, r, size, progress, 1)
		if err == nil {
			return res, nil
		}

		var abort *AbortError
		if !errors.As(err, &abort) {
			return nil, err
		}

		last = abort.Last

		m.logger.Warn("transfer failed, restarting from the beginning",
			slog.String("name", name),
			slog.Int("transfer", transfer),
			slog.Int("max_transfers", m.attempts),
			slog.String("error", err.Error()),
		)
	}

	return nil, &AbortError{Attempts: m.attempts, Last: last}
}

// checkName normalizes name and rejects names the account cannot store.
func (m *Manager) checkName(name string) (string, error) {
	name = m.profile.NormalizeName(name)

	if !m.profile.ValidFilename(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return name, nil
}

// verify compares the local content hash with the one the service reports.
// A mismatch is logged; the upload itself already succeeded.
func (m *Manager) verify(item *onedrive.Item, local string) {
	if item == nil || local == "" || item.QuickXorHash == "" {
		return
	}

	if item.QuickXorHash != local {
		m.logger.Warn("uploaded content hash mismatch",
			slog.String("item_id", item.ID),
			slog.String("local_hash", local),
			slog.String("remote_hash", item.QuickXorHash),
		)

		return
	}

	m.logger.Debug("uploaded content hash verified",
		slog.String("item_id", item.ID),
	)
}
