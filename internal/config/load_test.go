package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/onedrive-api/internal/upload"
	"github.com/tonimelisma/onedrive-api/internal/variant"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeTestConfig(t, `
variant = "business"
client_id = "abc"
client_secret = "shh"
redirect_url = "http://localhost:8080/callback"
token_file = "/var/lib/od/token.json"

fragment_size = "10MiB"
max_fragment_attempts = 5
retry_policy = "transfer"
simple_upload_max_size = "4MB"
bandwidth_limit = "5MB/s"

log_level = "debug"
log_format = "json"

timeout = "2m"
max_retries = 2
user_agent = "test/1.0"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	s, err := ResolveConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, &Settings{
		Variant:             variant.Business,
		ClientID:            "abc",
		ClientSecret:        "shh",
		RedirectURL:         "http://localhost:8080/callback",
		TokenPath:           "/var/lib/od/token.json",
		FragmentSize:        10 * 1024 * 1024,
		MaxFragmentAttempts: 5,
		RetryPolicy:         upload.RetryTransfer,
		SimpleUploadMaxSize: 4_000_000,
		BandwidthLimit:      5_000_000,
		LogLevel:            slog.LevelDebug,
		LogFormat:           "json",
		Timeout:             2 * time.Minute,
		MaxRetries:          2,
		UserAgent:           "test/1.0",
	}, s)
}

func TestLoad_DefaultsForMissingKeys(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, `client_id = "abc"`))
	require.NoError(t, err)

	s, err := ResolveConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, variant.Graph, s.Variant)
	assert.Equal(t, int64(5_000_000), s.FragmentSize)
	assert.Equal(t, 3, s.MaxFragmentAttempts)
	assert.Equal(t, upload.RetryFragment, s.RetryPolicy)
	assert.Zero(t, s.SimpleUploadMaxSize)
	assert.Zero(t, s.BandwidthLimit)
	assert.Equal(t, slog.LevelInfo, s.LogLevel)
	assert.Equal(t, "auto", s.LogFormat)
	assert.Zero(t, s.Timeout)
	assert.Equal(t, 5, s.MaxRetries)
	assert.Equal(t, DefaultTokenPath(), s.TokenPath)
}

func TestLoad_UnknownKeySuggestsFix(t *testing.T) {
	_, err := Load(writeTestConfig(t, `
client_id = "abc"
fragmnet_size = "1MB"
completely_unrelated_setting = 1
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "fragmnet_size", did you mean "fragment_size"?`)
	assert.Contains(t, err.Error(), `unknown config key "completely_unrelated_setting"`)
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeTestConfig(t, `client_id = `))
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	_, err := Load(writeTestConfig(t, `
variant = "dropbox"
fragment_size = "100MiB"
max_fragment_attempts = 0
retry_policy = "forever"
log_level = "loud"
`))
	require.Error(t, err)

	for _, key := range []string{"variant", "fragment_size", "max_fragment_attempts", "retry_policy", "log_level"} {
		assert.Contains(t, err.Error(), key+":")
	}
}

func TestLoad_NoClientIDIsValidAtFileLevel(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, `variant = "personal"`))
	require.NoError(t, err)

	_, err = ResolveConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_EnvOverridesFile(t *testing.T) {
	path := writeTestConfig(t, `
variant = "personal"
client_id = "from-file"
`)

	s, err := Resolve(EnvOverrides{
		ConfigPath:   path,
		ClientID:     "from-env",
		ClientSecret: "env-secret",
		Variant:      "GRAPH",
	})
	require.NoError(t, err)

	assert.Equal(t, "from-env", s.ClientID)
	assert.Equal(t, "env-secret", s.ClientSecret)
	assert.Equal(t, variant.Graph, s.Variant)
}

func TestResolve_EnvOnly(t *testing.T) {
	s, err := Resolve(EnvOverrides{
		ConfigPath: filepath.Join(t.TempDir(), "missing.toml"),
		ClientID:   "id",
	})
	require.NoError(t, err)
	assert.Equal(t, "id", s.ClientID)
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/tmp/x.toml")
	t.Setenv(EnvClientID, "cid")
	t.Setenv(EnvClientSecret, "sec")
	t.Setenv(EnvVariant, "business")

	assert.Equal(t, EnvOverrides{
		ConfigPath:   "/tmp/x.toml",
		ClientID:     "cid",
		ClientSecret: "sec",
		Variant:      "business",
	}, ReadEnvOverrides())
}

func TestTokenPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Empty(t, resolveTokenPath("-"))
	assert.Equal(t, DefaultTokenPath(), resolveTokenPath(""))
	assert.Equal(t, filepath.Join(home, "od", "t.json"), resolveTokenPath("~/od/t.json"))
	assert.Equal(t, "rel/t.json", resolveTokenPath("rel/t.json"))
}

func TestDefaultPaths_XDG(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("XDG directories apply on Linux only")
	}

	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_DATA_HOME", "/data")

	assert.Equal(t, "/cfg/onedrive-api/config.toml", DefaultConfigPath())
	assert.Equal(t, "/data/onedrive-api/token.json", DefaultTokenPath())
}
