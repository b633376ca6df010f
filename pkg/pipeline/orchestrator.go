// Package pipeline executes multi-step pipelines server-side: sequential
// step invocation with input mapping, cost and duration budgets enforced at
// step boundaries, cooperative cancellation and append-only execution
// records.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/switchyardhq/switchyard/pkg/eventbus"
	"github.com/switchyardhq/switchyard/pkg/events"
	"github.com/switchyardhq/switchyard/pkg/gateway"
	"github.com/switchyardhq/switchyard/pkg/invocation"
	"github.com/switchyardhq/switchyard/pkg/models"
	"github.com/switchyardhq/switchyard/pkg/persistence"
	"github.com/switchyardhq/switchyard/pkg/resilience"
	"github.com/switchyardhq/switchyard/pkg/variables"
)

// ActionInvoker invokes a single integration action (the gateway).
type ActionInvoker interface {
	Invoke(ctx context.Context, tenantID, integrationSlug, actionSlug string, params map[string]any, opts gateway.Options) *invocation.Result
}

// CompositeInvoker invokes a composite tool (the router).
type CompositeInvoker interface {
	Invoke(ctx context.Context, tenantID, toolSlug string, params map[string]any, opts gateway.Options) *invocation.Result
}

// Orchestrator runs pipelines.
type Orchestrator struct {
	pipelines  persistence.PipelineRepository
	executions persistence.ExecutionRepository
	actions    ActionInvoker
	composites CompositeInvoker
	resolver   *variables.Resolver
	publisher  eventbus.EventPublisher
	clock      resilience.Clock
	logger     *slog.Logger
}

// Config wires the orchestrator. Publisher may be nil; a nil Clock means the
// system clock.
type Config struct {
	Pipelines  persistence.PipelineRepository
	Executions persistence.ExecutionRepository
	Actions    ActionInvoker
	Composites CompositeInvoker
	Resolver   *variables.Resolver
	Publisher  eventbus.EventPublisher
	Clock      resilience.Clock
	Logger     *slog.Logger
}

func New(cfg Config) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = resilience.SystemClock()
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Orchestrator{
		pipelines:  cfg.Pipelines,
		executions: cfg.Executions,
		actions:    cfg.Actions,
		composites: cfg.Composites,
		resolver:   cfg.Resolver,
		publisher:  cfg.Publisher,
		clock:      cfg.Clock,
		logger:     cfg.Logger.With("module", "pipeline"),
	}
}

type run struct {
	pipeline  *models.Pipeline
	execution *models.PipelineExecution
	limits    models.SafetyLimits
	outputs   map[string]any
	started   time.Time
	opts      gateway.Options
}

// Invoke runs one pipeline to completion, early termination or cancellation.
// The returned result always carries the executed step count and accumulated
// totals, partial or not.
func (o *Orchestrator) Invoke(ctx context.Context, tenantID, ref string, params map[string]any, opts gateway.Options) *invocation.Result {
	if opts.Runtime == nil {
		opts.Runtime = models.NewRuntimeContext(opts.Environment)
	}

	opts.Runtime.Normalize()

	meta := invocation.Metadata{RequestID: opts.Runtime.Request.ID}

	pipeline, err := o.pipelines.PipelineByRef(ctx, tenantID, ref)
	if err != nil {
		if persistence.IsNotFound(err) {
			return invocation.Fail(invocation.NewError(invocation.CodeNotFound, fmt.Sprintf("pipeline %q not found", ref)), meta)
		}

		o.logger.Error("Pipeline lookup failed", "ref", ref, "error", err)

		return invocation.Fail(invocation.NewError(invocation.CodeInternalError, "internal error").WithCause(err), meta)
	}

	switch pipeline.Status {
	case models.PipelineStatusActive:
	case models.PipelineStatusDisabled:
		return invocation.Fail(invocation.NewError(invocation.CodePipelineDisabled, fmt.Sprintf("pipeline %q is disabled", ref)), meta)
	default:
		return invocation.Fail(invocation.NewError(invocation.CodePipelineNotActive, fmt.Sprintf("pipeline %q is not active", ref)), meta)
	}

	if failure := validateSteps(pipeline); failure != nil {
		return invocation.Fail(failure, meta)
	}

	limits := pipeline.Limits
	if limits.MaxCostUSD <= 0 {
		limits.MaxCostUSD = models.DefaultSafetyLimits().MaxCostUSD
	}

	if limits.MaxDurationSeconds <= 0 {
		limits.MaxDurationSeconds = models.DefaultSafetyLimits().MaxDurationSeconds
	}

	started := o.clock.Now()

	execution := &models.PipelineExecution{
		ID:         "exec-" + uuid.New().String(),
		PipelineID: pipeline.ID,
		TenantID:   tenantID,
		Status:     models.ExecutionStatusRunning,
		TotalSteps: len(pipeline.Steps),
		StartedAt:  started,
	}

	if err := o.executions.SaveExecution(ctx, execution); err != nil {
		return invocation.Fail(invocation.NewError(invocation.CodeInternalError, "could not record execution").WithCause(err), meta)
	}

	o.publish(tenantID, events.ExecutionStarted{
		BaseEvent:   o.base(events.ExecutionStartedEvent, tenantID),
		ExecutionID: execution.ID,
		PipelineID:  pipeline.ID,
		TotalSteps:  len(pipeline.Steps),
	})

	r := &run{
		pipeline:  pipeline,
		execution: execution,
		limits:    limits,
		outputs:   make(map[string]any),
		started:   started,
		opts:      opts,
	}

	result := o.runSteps(ctx, tenantID, params, r, &meta)

	o.finishMetadata(r, &meta)
	result.Metadata = meta

	return result
}

// validateSteps requires at least one step, numbered contiguously from 1.
func validateSteps(pipeline *models.Pipeline) *invocation.Error {
	if len(pipeline.Steps) == 0 {
		return invocation.NewError(invocation.CodeEmptyPipeline, fmt.Sprintf("pipeline %q has no steps", pipeline.Slug))
	}

	numbers := make([]int, 0, len(pipeline.Steps))
	for _, step := range pipeline.Steps {
		numbers = append(numbers, step.Number)
	}

	sort.Ints(numbers)

	for i, n := range numbers {
		if n != i+1 {
			return invocation.NewError(invocation.CodeEmptyPipeline,
				fmt.Sprintf("pipeline %q step numbers are not contiguous from 1", pipeline.Slug))
		}
	}

	return nil
}

func (o *Orchestrator) runSteps(ctx context.Context, tenantID string, params map[string]any, r *run, meta *invocation.Metadata) *invocation.Result {
	steps := make([]models.PipelineStep, len(r.pipeline.Steps))
	copy(steps, r.pipeline.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Number < steps[j].Number })

	for _, step := range steps {
		cancelled, err := o.executions.CancelRequested(ctx, r.execution.ID)
		if err != nil {
			o.logger.Warn("Cancel flag check failed", "execution_id", r.execution.ID, "error", err)
		}

		if cancelled || ctx.Err() != nil {
			return o.terminate(ctx, tenantID, r, models.ExecutionStatusCancelled,
				invocation.NewError(invocation.CodeExecutionCancelled, "execution cancelled"), meta)
		}

		// Cost before duration, both at the step boundary. Spending up
		// to the budget is allowed; only exceeding it stops the run.
		if r.execution.TotalCostUSD > r.limits.MaxCostUSD {
			return o.terminate(ctx, tenantID, r, models.ExecutionStatusFailed,
				invocation.NewError(invocation.CodeCostLimitExceeded,
					fmt.Sprintf("cost budget of $%.2f exhausted before step %d", r.limits.MaxCostUSD, step.Number)).
					WithDetails(map[string]any{"total_cost_usd": r.execution.TotalCostUSD}), meta)
		}

		elapsed := o.clock.Now().Sub(r.started)
		if elapsed >= time.Duration(r.limits.MaxDurationSeconds)*time.Second {
			return o.terminate(ctx, tenantID, r, models.ExecutionStatusTimeout,
				invocation.NewError(invocation.CodeDurationLimitExceeded,
					fmt.Sprintf("duration budget of %ds exhausted before step %d", r.limits.MaxDurationSeconds, step.Number)).
					WithDetails(map[string]any{"elapsed_ms": elapsed.Milliseconds()}), meta)
		}

		r.execution.CurrentStepNumber = step.Number

		stepResult, stepErr := o.runStep(ctx, tenantID, step, params, r)
		r.execution.StepResults = append(r.execution.StepResults, stepResult)
		r.execution.TotalCostUSD += stepResult.CostUSD
		r.execution.TotalTokens += stepResult.Tokens

		if err := o.executions.SaveExecution(ctx, r.execution); err != nil {
			o.logger.Warn("Execution checkpoint failed", "execution_id", r.execution.ID, "error", err)
		}

		if stepErr != nil {
			if step.ContinueOnError {
				o.logger.Info("Step failed, continuing",
					"execution_id", r.execution.ID, "step", step.Slug, "error", stepErr)

				continue
			}

			status := models.ExecutionStatusFailed
			code := invocation.CodeStepFailed

			if stepErr.Code == invocation.CodeStepTimeout {
				code = invocation.CodeStepTimeout
			}

			return o.terminate(ctx, tenantID, r, status,
				invocation.NewError(code, fmt.Sprintf("step %d (%s) failed: %s", step.Number, step.Slug, stepErr.Message)).
					WithDetails(map[string]any{"step_number": step.Number, "step_slug": step.Slug, "cause": stepErr.Code}), meta)
		}
	}

	data := o.finalOutput(ctx, tenantID, r)

	now := o.clock.Now()
	r.execution.Status = models.ExecutionStatusCompleted
	r.execution.CompletedAt = &now

	if err := o.executions.SaveExecution(ctx, r.execution); err != nil {
		o.logger.Warn("Final execution save failed", "execution_id", r.execution.ID, "error", err)
	}

	o.publish(tenantID, events.ExecutionCompleted{
		BaseEvent:    o.base(events.ExecutionCompletedEvent, tenantID),
		ExecutionID:  r.execution.ID,
		PipelineID:   r.pipeline.ID,
		Steps:        len(r.execution.StepResults),
		TotalCostUSD: r.execution.TotalCostUSD,
		TotalTokens:  r.execution.TotalTokens,
		DurationMS:   now.Sub(r.started).Milliseconds(),
	})

	return invocation.OK(data, *meta)
}

func (o *Orchestrator) runStep(ctx context.Context, tenantID string, step models.PipelineStep, params map[string]any, r *run) (models.StepResult, *invocation.Error) {
	stepStarted := o.clock.Now()

	stepResult := models.StepResult{
		StepNumber: step.Number,
		Slug:       step.Slug,
		Status:     "completed",
	}

	input := params

	if len(step.InputMapping) > 0 {
		requestVariables := make(map[string]any, len(r.opts.RequestVariables)+len(params))
		for key, value := range r.opts.RequestVariables {
			requestVariables[key] = value
		}

		for key, value := range params {
			requestVariables[key] = value
		}

		resolved, err := o.resolver.Resolve(ctx, step.InputMapping, variables.Options{
			TenantID:         tenantID,
			ConnectionID:     r.opts.ConnectionID,
			Environment:      r.opts.Environment,
			Runtime:          r.opts.Runtime,
			RequestVariables: requestVariables,
			StepOutputs:      r.outputs,
			ThrowOnMissing:   true,
		})
		if err != nil {
			stepResult.Status = "failed"
			stepResult.Error = err.Error()
			stepResult.DurationMS = o.clock.Now().Sub(stepStarted).Milliseconds()

			return stepResult, invocation.NewError(invocation.CodeTemplateResolutionError,
				fmt.Sprintf("input mapping for step %q failed", step.Slug)).WithCause(err)
		}

		tree, ok := resolved.Resolved.(map[string]any)
		if !ok {
			stepResult.Status = "failed"
			stepResult.Error = "input mapping must produce an object"
			stepResult.DurationMS = o.clock.Now().Sub(stepStarted).Milliseconds()

			return stepResult, invocation.NewError(invocation.CodeTemplateResolutionError,
				fmt.Sprintf("input mapping for step %q must produce an object", step.Slug))
		}

		input = tree
	}

	stepCtx := ctx

	if step.TimeoutSeconds > 0 {
		var cancel context.CancelFunc

		stepCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	stepOpts := r.opts
	stepOpts.StepOutputs = r.outputs

	var result *invocation.Result

	switch step.Target.Kind {
	case models.StepTargetComposite:
		result = o.composites.Invoke(stepCtx, tenantID, step.Target.ToolSlug, input, stepOpts)
	default:
		result = o.actions.Invoke(stepCtx, tenantID, step.Target.IntegrationSlug, step.Target.ActionSlug, input, stepOpts)
	}

	stepResult.DurationMS = o.clock.Now().Sub(stepStarted).Milliseconds()
	stepResult.CostUSD = result.Metadata.CostUSD
	stepResult.Tokens = result.Metadata.Tokens

	if !result.Success {
		stepResult.Status = "failed"
		stepResult.Error = result.Err.Error()

		// The step's own deadline turns whatever the target reported
		// into a timeout.
		if stepCtx.Err() == context.DeadlineExceeded {
			return stepResult, invocation.NewError(invocation.CodeStepTimeout,
				fmt.Sprintf("step %q timed out", step.Slug)).WithCause(result.Err)
		}

		return stepResult, result.Err
	}

	stepResult.Output = result.Data
	r.outputs[step.Slug] = result.Data

	return stepResult, nil
}

// terminate persists a terminal status, publishes the matching lifecycle
// event and wraps the partial state into a failure envelope. Completed step
// outputs ride along as partial data.
func (o *Orchestrator) terminate(ctx context.Context, tenantID string, r *run, status models.ExecutionStatus, failure *invocation.Error, meta *invocation.Metadata) *invocation.Result {
	now := o.clock.Now()
	r.execution.Status = status
	r.execution.CompletedAt = &now
	r.execution.Error = failure.Error()

	if err := o.executions.SaveExecution(ctx, r.execution); err != nil {
		o.logger.Warn("Terminal execution save failed", "execution_id", r.execution.ID, "error", err)
	}

	switch status {
	case models.ExecutionStatusCancelled:
		o.publish(tenantID, events.ExecutionCancelled{
			BaseEvent:      o.base(events.ExecutionCancelledEvent, tenantID),
			ExecutionID:    r.execution.ID,
			PipelineID:     r.pipeline.ID,
			CompletedSteps: len(r.execution.StepResults),
		})
	case models.ExecutionStatusTimeout:
		o.publish(tenantID, events.ExecutionTimeout{
			BaseEvent:      o.base(events.ExecutionTimeoutEvent, tenantID),
			ExecutionID:    r.execution.ID,
			PipelineID:     r.pipeline.ID,
			CompletedSteps: len(r.execution.StepResults),
			ElapsedMS:      now.Sub(r.started).Milliseconds(),
		})
	default:
		o.publish(tenantID, events.ExecutionFailed{
			BaseEvent:      o.base(events.ExecutionFailedEvent, tenantID),
			ExecutionID:    r.execution.ID,
			PipelineID:     r.pipeline.ID,
			ErrorCode:      string(failure.Code),
			Error:          failure.Message,
			CompletedSteps: len(r.execution.StepResults),
		})
	}

	failure.Details = withExecutionDetails(failure.Details, r.execution)

	result := invocation.Fail(failure, *meta)
	result.Data = map[string]any{"partial_outputs": r.outputs}

	return result
}

func withExecutionDetails(details map[string]any, execution *models.PipelineExecution) map[string]any {
	if details == nil {
		details = make(map[string]any)
	}

	details["execution_id"] = execution.ID
	details["completed_steps"] = len(execution.StepResults)
	details["current_step_number"] = execution.CurrentStepNumber

	return details
}

// finalOutput applies the pipeline's output mapping over the collected step
// outputs. Absent a mapping, the raw outputs keyed by step slug are the
// result. Mapping failures degrade to the raw outputs rather than failing a
// fully-executed pipeline.
func (o *Orchestrator) finalOutput(ctx context.Context, tenantID string, r *run) any {
	if len(r.pipeline.OutputMapping) == 0 {
		return r.outputs
	}

	resolved, err := o.resolver.Resolve(ctx, r.pipeline.OutputMapping, variables.Options{
		TenantID:     tenantID,
		ConnectionID: r.opts.ConnectionID,
		Environment:  r.opts.Environment,
		Runtime:      r.opts.Runtime,
		StepOutputs:  r.outputs,
	})
	if err != nil {
		o.logger.Warn("Output mapping failed, returning raw step outputs",
			"pipeline", r.pipeline.Slug, "error", err)

		return r.outputs
	}

	return resolved.Resolved
}

func (o *Orchestrator) finishMetadata(r *run, meta *invocation.Metadata) {
	meta.Steps = len(r.execution.StepResults)
	meta.TotalCostUSD = r.execution.TotalCostUSD
	meta.TotalTokens = r.execution.TotalTokens

	end := o.clock.Now()
	if r.execution.CompletedAt != nil {
		end = *r.execution.CompletedAt
	}

	meta.TotalDurationMS = end.Sub(r.started).Milliseconds()
	meta.LatencyMS = meta.TotalDurationMS
}

func (o *Orchestrator) base(eventType events.EventType, tenantID string) events.BaseEvent {
	return events.BaseEvent{
		ID:        "evt-" + uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
	}
}

func (o *Orchestrator) publish(tenantID string, event eventbus.Event) {
	if o.publisher == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := o.publisher.Publish(ctx, tenantID, event); err != nil {
			o.logger.Warn("Lifecycle event publish failed", "event", event.GetType(), "error", err)
		}
	}()
}
