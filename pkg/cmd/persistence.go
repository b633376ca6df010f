package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/switchyardhq/switchyard/pkg/persistence"
	"github.com/switchyardhq/switchyard/pkg/persistence/postgresql"
)

// NewExecutionStore selects the execution repository from the database URL:
// postgres when one is given, the provided in-memory fallback otherwise.
// The returned closer is a no-op for the fallback.
func NewExecutionStore(
	ctx context.Context,
	logger *slog.Logger,
	databaseURL string,
	fallback persistence.ExecutionRepository,
) (persistence.ExecutionRepository, func(context.Context) error) {
	if databaseURL == "" {
		logger.Info("No database URL configured, executions are kept in memory")

		return fallback, func(context.Context) error { return nil }
	}

	provider, _, _ := strings.Cut(databaseURL, "://")
	if provider != "postgres" && provider != "postgresql" {
		panic("Unsupported persistence provider: " + provider)
	}

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	if err != nil {
		panic(fmt.Errorf("failed to initialize postgres persistence: %w", err))
	}

	return p.Executions(), p.Close
}
