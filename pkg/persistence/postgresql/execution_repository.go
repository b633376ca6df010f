package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/switchyardhq/switchyard/pkg/models"
	"github.com/switchyardhq/switchyard/pkg/persistence"
)

// ExecutionRepository persists pipeline execution records.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates an execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// SaveExecution implements persistence.ExecutionRepository as an upsert; the
// orchestrator checkpoints after every step. The cancel flag is owned by
// RequestCancel and never overwritten here.
func (r *ExecutionRepository) SaveExecution(ctx context.Context, execution *models.PipelineExecution) error {
	stepResultsJSON, err := json.Marshal(execution.StepResults)
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}

	query := `
		INSERT INTO pipeline_executions (
			id, pipeline_id, tenant_id, status, current_step_number, total_steps,
			total_cost_usd, total_tokens, step_results, error_message,
			started_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step_number = EXCLUDED.current_step_number,
			total_cost_usd = EXCLUDED.total_cost_usd,
			total_tokens = EXCLUDED.total_tokens,
			step_results = EXCLUDED.step_results,
			error_message = EXCLUDED.error_message,
			completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.PipelineID,
		execution.TenantID,
		execution.Status,
		execution.CurrentStepNumber,
		execution.TotalSteps,
		execution.TotalCostUSD,
		execution.TotalTokens,
		stepResultsJSON,
		nullString(execution.Error),
		execution.StartedAt,
		execution.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// ExecutionByID implements persistence.ExecutionRepository.
func (r *ExecutionRepository) ExecutionByID(ctx context.Context, tenantID, id string) (*models.PipelineExecution, error) {
	query := `
		SELECT id, pipeline_id, tenant_id, status, current_step_number, total_steps,
			   total_cost_usd, total_tokens, step_results, error_message,
			   started_at, completed_at
		FROM pipeline_executions
		WHERE id = $1 AND tenant_id = $2
	`

	row := r.db.QueryRowContext(ctx, query, id, tenantID)

	execution, err := r.scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRepositoryError("ExecutionByID", tenantID, id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// ExecutionsByPipeline returns a pipeline's executions, newest first.
func (r *ExecutionRepository) ExecutionsByPipeline(ctx context.Context, tenantID, pipelineID string) ([]*models.PipelineExecution, error) {
	query := `
		SELECT id, pipeline_id, tenant_id, status, current_step_number, total_steps,
			   total_cost_usd, total_tokens, step_results, error_message,
			   started_at, completed_at
		FROM pipeline_executions
		WHERE tenant_id = $1 AND pipeline_id = $2
		ORDER BY started_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var executions []*models.PipelineExecution

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// RequestCancel implements persistence.ExecutionRepository.
func (r *ExecutionRepository) RequestCancel(ctx context.Context, tenantID, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE pipeline_executions SET cancel_requested = TRUE WHERE id = $1 AND tenant_id = $2",
		id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewRepositoryError("RequestCancel", tenantID, id, persistence.ErrExecutionNotFound)
	}

	return nil
}

// CancelRequested implements persistence.ExecutionRepository. Unknown ids
// read as not cancelled.
func (r *ExecutionRepository) CancelRequested(ctx context.Context, id string) (bool, error) {
	var cancelled bool

	err := r.db.QueryRowContext(ctx,
		"SELECT cancel_requested FROM pipeline_executions WHERE id = $1", id,
	).Scan(&cancelled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}

	return cancelled, nil
}

func (r *ExecutionRepository) scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.PipelineExecution, error) {
	var (
		execution       models.PipelineExecution
		stepResultsJSON []byte
		errorMessage    sql.NullString
		completedAt     sql.NullTime
	)

	err := scanner.Scan(
		&execution.ID,
		&execution.PipelineID,
		&execution.TenantID,
		&execution.Status,
		&execution.CurrentStepNumber,
		&execution.TotalSteps,
		&execution.TotalCostUSD,
		&execution.TotalTokens,
		&stepResultsJSON,
		&errorMessage,
		&execution.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if stepResultsJSON != nil {
		if err := json.Unmarshal(stepResultsJSON, &execution.StepResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step results: %w", err)
		}
	}

	if errorMessage.Valid {
		execution.Error = errorMessage.String
	}

	if completedAt.Valid {
		t := completedAt.Time
		execution.CompletedAt = &t
	}

	return &execution, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
