package upload

import (
	"context"
	"log/slog"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// burstMultiplier sizes the token bucket relative to the per-second rate.
const burstMultiplier = 2

// Limiter caps upload throughput. A nil *Limiter is unlimited.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter returns a limiter allowing bytesPerSec, or nil for a
// non-positive rate.
func NewLimiter(bytesPerSec int64, logger *slog.Logger) *Limiter {
	if bytesPerSec <= 0 {
		return nil
	}

	if logger == nil {
		logger = slog.Default()
	}

	burst := int(bytesPerSec) * burstMultiplier

	logger.Info("upload bandwidth limited",
		slog.Int64("bytes_per_sec", bytesPerSec),
		slog.String("rate", humanize.Bytes(uint64(bytesPerSec))+"/s"),
		slog.Int("burst", burst),
	)

	return &Limiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// Wait blocks until n bytes may be sent. rate.Limiter rejects requests
// above its burst, so large fragments are taken in burst-sized pieces.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if l == nil {
		return nil
	}

	burst := l.limiter.Burst()

	for n > 0 {
		take := min(n, burst)

		if err := l.limiter.WaitN(ctx, take); err != nil {
			return err
		}

		n -= take
	}

	return nil
}
