// Command integration-bootstrap signs a test account in and saves its token
// under .testdata/ for the live tests in e2e/.
//
// Usage: go run ./cmd/integration-bootstrap --account graph:user@contoso.com
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	onedriveapi "github.com/tonimelisma/onedrive-api"
	"github.com/tonimelisma/onedrive-api/internal/config"
	"github.com/tonimelisma/onedrive-api/testutil"
)

func main() {
	account := flag.String("account", os.Getenv(testutil.EnvTestAccount), "account as <variant>:<email>")
	flag.Parse()

	if err := run(context.Background(), *account); err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Sign-in successful. Token saved.")
}

func run(ctx context.Context, account string) error {
	root := testutil.FindModuleRoot(".")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))

	credDir := filepath.Join(root, ".testdata")
	if err := os.MkdirAll(credDir, 0o700); err != nil {
		return err
	}

	cfg, err := config.LoadOrDefault(filepath.Join(credDir, "config.toml"))
	if err != nil {
		return err
	}

	cfg.Variant = testutil.Variant(account)
	cfg.TokenFile = filepath.Join(credDir, testutil.TokenFileName(account))

	if id := os.Getenv(config.EnvClientID); id != "" {
		cfg.ClientID = id
	}

	s, err := config.ResolveConfig(cfg)
	if err != nil {
		return err
	}

	c, err := onedriveapi.New(s, nil, s.Logger())
	if err != nil {
		return err
	}

	state := onedriveapi.NewState()

	fmt.Printf("Open this URL and sign in:\n\n%s\n\nPaste the URL the browser was redirected to: ", c.AuthorizationURL(state))

	redirected, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading redirect URL: %w", err)
	}

	return c.AuthorizeWithRedirect(ctx, strings.TrimSpace(redirected), state)
}
