package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and validates the TOML file at path. Unknown keys are errors,
// with a suggestion when the key looks like a typo of a known one.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies defaults, the config file and the environment, in that
// order, and returns the validated Settings. The file is env.ConfigPath if
// set, else DefaultConfigPath.
func Resolve(env EnvOverrides) (*Settings, error) {
	path := DefaultConfigPath()
	if env.ConfigPath != "" {
		path = env.ConfigPath
	}

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	env.apply(cfg)

	return ResolveConfig(cfg)
}

// ResolveConfig validates an already merged cfg and converts it.
func ResolveConfig(cfg *Config) (*Settings, error) {
	if err := ValidateResolved(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	s, _ := parse(cfg)

	return s, nil
}
