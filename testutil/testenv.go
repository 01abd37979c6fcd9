// Package testutil holds environment helpers for the live-account tests.
// It imports only the standard library so that it has no effect on the
// library's dependency graph.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Environment variables read by the live tests.
const (
	EnvAllowedAccounts = "ONEDRIVE_ALLOWED_TEST_ACCOUNTS"
	EnvTestAccount     = "ONEDRIVE_TEST_ACCOUNT"
	EnvTestVariant     = "ONEDRIVE_TEST_VARIANT"
)

// LoadDotEnv reads KEY=VALUE pairs from envPath. A missing file is not an
// error. Variables already set in the environment win.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// ValidateAllowlist exits the process unless ONEDRIVE_TEST_ACCOUNT is set
// and listed in ONEDRIVE_ALLOWED_TEST_ACCOUNTS. Live tests write to the
// account, so they must never run against one by accident.
func ValidateAllowlist() string {
	allowlist := os.Getenv(EnvAllowedAccounts)
	if allowlist == "" {
		fatalf("%s not set\nExample: %s=graph:user@contoso.com", EnvAllowedAccounts, EnvAllowedAccounts)
	}

	account := os.Getenv(EnvTestAccount)
	if account == "" {
		fatalf("%s not set", EnvTestAccount)
	}

	allowed := strings.Split(allowlist, ",")
	for i := range allowed {
		allowed[i] = strings.TrimSpace(allowed[i])
	}

	if !slices.Contains(allowed, account) {
		fatalf("%s=%q is not in %s=%q", EnvTestAccount, account, EnvAllowedAccounts, allowlist)
	}

	return account
}

// FindModuleRoot walks up from the working directory to the directory
// holding go.mod, or returns fallback.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// FindTestCredentialDir returns moduleRoot/.testdata, exiting if it is
// missing.
func FindTestCredentialDir(moduleRoot string) string {
	dir := filepath.Join(moduleRoot, ".testdata")

	if _, err := os.Stat(dir); err != nil {
		fatalf(".testdata/ directory not found at %s\nRun go run ./cmd/integration-bootstrap to create it.", dir)
	}

	return dir
}

// TokenFileName returns the token file name for an account of the form
// "<variant>:<email>", e.g. token_graph_user@contoso.com.json.
func TokenFileName(account string) string {
	kind, email, ok := strings.Cut(account, ":")
	if !ok || kind == "" || email == "" {
		fatalf("cannot parse account %q (want <variant>:<email>)", account)
	}

	return "token_" + kind + "_" + email + ".json"
}

// Variant returns the variant half of an account string.
func Variant(account string) string {
	kind, _, _ := strings.Cut(account, ":")

	return kind
}

// CopyFile copies src to dst with perm, exiting on failure.
func CopyFile(src, dst string, perm os.FileMode) {
	data, err := os.ReadFile(src)
	if err != nil {
		fatalf("cannot read %s: %v", src, err)
	}

	if err := os.WriteFile(dst, data, perm); err != nil {
		fatalf("writing %s: %v", dst, err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}
