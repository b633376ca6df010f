// Package postgresql provides PostgreSQL persistence for pipeline execution
// records. Catalog data (integrations, tools, pipelines) is owned by the
// control plane; this engine only writes what it creates: executions.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/switchyardhq/switchyard/pkg/persistence/sqlbase"
)

// Persistence is the PostgreSQL persistence layer.
type Persistence struct {
	db         *sql.DB
	logger     *slog.Logger
	executions *ExecutionRepository
}

// NewPersistence connects, migrates and returns the persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:         database,
		logger:     logger,
		executions: NewExecutionRepository(database, logger),
	}, nil
}

// Executions returns the execution repository.
func (p *Persistence) Executions() *ExecutionRepository {
	return p.executions
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}
