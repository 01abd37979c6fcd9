package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig       = "ONEDRIVE_API_CONFIG"
	EnvClientID     = "ONEDRIVE_API_CLIENT_ID"
	EnvClientSecret = "ONEDRIVE_API_CLIENT_SECRET"
	EnvVariant      = "ONEDRIVE_API_VARIANT"
)

// EnvOverrides holds values read from the environment. Empty fields are
// not set.
type EnvOverrides struct {
	ConfigPath   string
	ClientID     string
	ClientSecret string
	Variant      string
}

// ReadEnvOverrides reads the override variables.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		Variant:      os.Getenv(EnvVariant),
	}
}

// apply copies the set fields onto cfg.
func (e EnvOverrides) apply(cfg *Config) {
	if e.ClientID != "" {
		cfg.ClientID = e.ClientID
	}

	if e.ClientSecret != "" {
		cfg.ClientSecret = e.ClientSecret
	}

	if e.Variant != "" {
		cfg.Variant = e.Variant
	}
}
