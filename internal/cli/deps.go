package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/mekedron/orderboard/internal/domain"
	"github.com/mekedron/orderboard/internal/gateway/orders"
	"github.com/mekedron/orderboard/internal/kvstore"
)

var unknownCommandPattern = regexp.MustCompile(`unknown command "([^"]+)"`)

// ConfigManager stores the sync configuration.
type ConfigManager interface {
	Path() string
	Load(ctx context.Context) (domain.SyncConfig, error)
	Save(ctx context.Context, cfg domain.SyncConfig) error
	// Resolve returns the effective configuration: file, environment, defaults.
	Resolve(ctx context.Context) (domain.SyncConfig, error)
}

// Dependencies wires runtime services.
type Dependencies struct {
	Config ConfigManager
	// NewAPI builds the upstream client for a resolved configuration.
	NewAPI func(cfg domain.SyncConfig) orders.API
	// OpenStore opens the persistence backend named by a store URL.
	OpenStore func(rawURL string) (kvstore.Store, error)
	Version   string
}

var errVersionShown = fmt.Errorf("version shown")

// Execute runs the CLI with injected dependencies.
func Execute(ctx context.Context, args []string, deps Dependencies, stdout io.Writer, stderr io.Writer) int {
	cmd := NewRootCommand(deps)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil || err == errVersionShown {
		return 0
	}
	var controlled *exitError
	if errors.As(err, &controlled) {
		return controlled.code
	}

	if matches := unknownCommandPattern.FindStringSubmatch(err.Error()); len(matches) > 1 {
		_, _ = fmt.Fprintf(stderr, "No such command '%s'\n", matches[1])
		return 2
	}

	if msg := err.Error(); msg != "" {
		_, _ = fmt.Fprintln(stderr, msg)
	}
	return 1
}
