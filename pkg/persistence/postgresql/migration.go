package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Pipeline execution records: one row per execution, step results
			-- stored as an append-only JSONB array.
			CREATE TABLE pipeline_executions (
				id VARCHAR(255) PRIMARY KEY,
				pipeline_id VARCHAR(255) NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'completed', 'failed', 'timeout', 'cancelled')),
				current_step_number INT NOT NULL DEFAULT 0,
				total_steps INT NOT NULL DEFAULT 0,
				total_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
				total_tokens INT NOT NULL DEFAULT 0,
				step_results JSONB NOT NULL DEFAULT '[]',
				error_message TEXT,
				cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_pipeline_executions_tenant ON pipeline_executions(tenant_id);
			CREATE INDEX idx_pipeline_executions_pipeline ON pipeline_executions(pipeline_id);
			CREATE INDEX idx_pipeline_executions_status ON pipeline_executions(status);
			CREATE INDEX idx_pipeline_executions_started_at ON pipeline_executions(started_at);
		`,
	}
}
