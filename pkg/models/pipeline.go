package models

import "time"

// PipelineStatus gates invocation: only active pipelines run.
type PipelineStatus string

const (
	PipelineStatusActive   PipelineStatus = "active"
	PipelineStatusDraft    PipelineStatus = "draft"
	PipelineStatusDisabled PipelineStatus = "disabled"
)

// StepTargetKind discriminates what a pipeline step invokes.
type StepTargetKind string

const (
	StepTargetAction    StepTargetKind = "action"
	StepTargetComposite StepTargetKind = "composite"
)

// StepTarget references the tool a step invokes: either a direct
// integration action or a composite tool.
type StepTarget struct {
	Kind            StepTargetKind `json:"kind"`
	IntegrationSlug string         `json:"integration_slug,omitempty"`
	ActionSlug      string         `json:"action_slug,omitempty"`
	ToolSlug        string         `json:"tool_slug,omitempty"`
}

// PipelineStep is one sequential step of a pipeline. InputMapping is a
// template object; earlier step outputs are addressable as
// ${steps.<slug>.output.<path>}.
type PipelineStep struct {
	Number          int            `json:"number"`
	Slug            string         `json:"slug"`
	Target          StepTarget     `json:"target"`
	InputMapping    map[string]any `json:"input_mapping,omitempty"`
	TimeoutSeconds  int            `json:"timeout_seconds,omitempty"`
	ContinueOnError bool           `json:"continue_on_error,omitempty"`
}

// SafetyLimits bound a pipeline execution. Checked at step boundaries.
type SafetyLimits struct {
	MaxCostUSD         float64 `json:"max_cost_usd"`
	MaxDurationSeconds int     `json:"max_duration_seconds"`
}

// DefaultSafetyLimits apply when a pipeline does not set its own.
func DefaultSafetyLimits() SafetyLimits {
	return SafetyLimits{MaxCostUSD: 10.0, MaxDurationSeconds: 300}
}

// Pipeline is an ordered sequence of steps executed server-side as one call.
type Pipeline struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	Slug          string         `json:"slug"`
	Name          string         `json:"name"`
	Status        PipelineStatus `json:"status"`
	Steps         []PipelineStep `json:"steps"`
	OutputMapping map[string]any `json:"output_mapping,omitempty"`
	Limits        SafetyLimits   `json:"limits"`
}

// ExecutionStatus is the pipeline execution state machine. Running is the
// only non-terminal state.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusTimeout   ExecutionStatus = "timeout"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecutionStatusRunning
}

// StepResult records the outcome of one executed step. Append-only within
// an execution, in strict step-number order.
type StepResult struct {
	StepNumber int     `json:"step_number"`
	Slug       string  `json:"slug"`
	Status     string  `json:"status"`
	Output     any     `json:"output,omitempty"`
	CostUSD    float64 `json:"cost_usd"`
	Tokens     int     `json:"tokens"`
	DurationMS int64   `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// PipelineExecution is owned by the orchestrator for the lifetime of one
// invocation and handed to callers as a read-only snapshot.
type PipelineExecution struct {
	ID                string          `json:"id"`
	PipelineID        string          `json:"pipeline_id"`
	TenantID          string          `json:"tenant_id"`
	Status            ExecutionStatus `json:"status"`
	CurrentStepNumber int             `json:"current_step_number"`
	TotalSteps        int             `json:"total_steps"`
	TotalCostUSD      float64         `json:"total_cost_usd"`
	TotalTokens       int             `json:"total_tokens"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	StepResults       []StepResult    `json:"step_results"`
	Error             string          `json:"error,omitempty"`
}
