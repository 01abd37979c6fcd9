package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseSize converts a human-readable size to bytes. SI (KB, MB, GB, TB)
// and IEC (KiB, MiB, GiB, TiB) suffixes are accepted case-insensitively.
// Empty and "0" are 0; a bare number is raw bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if n > math.MaxInt64 {
		return 0, fmt.Errorf("invalid size %q: too large", s)
	}

	return int64(n), nil
}

// ParseBandwidth converts a rate such as "5MB/s" or "100KiB" to bytes per
// second. The "/s" suffix is optional. Empty and "0" mean unlimited.
func ParseBandwidth(s string) (int64, error) {
	s = strings.TrimSpace(s)

	if strings.HasSuffix(strings.ToLower(s), "/s") {
		s = s[:len(s)-len("/s")]
	}

	n, err := ParseSize(s)
	if err != nil {
		return 0, fmt.Errorf("invalid bandwidth rate: %w", err)
	}

	return n, nil
}
