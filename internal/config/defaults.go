package config

// Layer-0 values used when neither the file nor the environment sets a key.
const (
	defaultVariant             = "graph"
	defaultFragmentSize        = "5000KB"
	defaultMaxFragmentAttempts = 3
	defaultRetryPolicy         = "fragment"
	defaultBandwidthLimit      = "0"
	defaultLogLevel            = "info"
	defaultLogFormat           = "auto"
	defaultTimeout             = "0"
	defaultMaxRetries          = 5
)

// tokenFileDisabled as token_file turns token persistence off.
const tokenFileDisabled = "-"

// DefaultConfig returns a Config holding every default. It is the starting
// point for TOML decoding, so keys missing from the file keep these values.
func DefaultConfig() *Config {
	return &Config{
		Variant:             defaultVariant,
		FragmentSize:        defaultFragmentSize,
		MaxFragmentAttempts: defaultMaxFragmentAttempts,
		RetryPolicy:         defaultRetryPolicy,
		BandwidthLimit:      defaultBandwidthLimit,
		LogLevel:            defaultLogLevel,
		LogFormat:           defaultLogFormat,
		Timeout:             defaultTimeout,
		MaxRetries:          defaultMaxRetries,
	}
}
