package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyardhq/switchyard/pkg/gateway"
	"github.com/switchyardhq/switchyard/pkg/invocation"
	"github.com/switchyardhq/switchyard/pkg/models"
	"github.com/switchyardhq/switchyard/pkg/persistence/memory"
	"github.com/switchyardhq/switchyard/pkg/variables"
)

const testTenant = "tenant-1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stepCall struct {
	action string
	params map[string]any
}

// fakeActions scripts per-action results and can run a hook before
// answering (used to flip the cancel flag mid-execution).
type fakeActions struct {
	mu      sync.Mutex
	calls   []stepCall
	results map[string]*invocation.Result
	hook    func(action string)
}

func (f *fakeActions) Invoke(_ context.Context, _, _, actionSlug string, params map[string]any, _ gateway.Options) *invocation.Result {
	f.mu.Lock()
	f.calls = append(f.calls, stepCall{action: actionSlug, params: params})
	f.mu.Unlock()

	if f.hook != nil {
		f.hook(actionSlug)
	}

	if result, ok := f.results[actionSlug]; ok {
		return result
	}

	return invocation.OK(map[string]any{"from": actionSlug}, invocation.Metadata{})
}

func (f *fakeActions) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

func threeStepPipeline() *models.Pipeline {
	return &models.Pipeline{
		ID:       "pipe-1",
		TenantID: testTenant,
		Slug:     "onboarding",
		Status:   models.PipelineStatusActive,
		Steps: []models.PipelineStep{
			{Number: 1, Slug: "create", Target: models.StepTarget{Kind: models.StepTargetAction, IntegrationSlug: "crm", ActionSlug: "create_contact"}},
			{Number: 2, Slug: "enrich", Target: models.StepTarget{Kind: models.StepTargetAction, IntegrationSlug: "crm", ActionSlug: "enrich_contact"}},
			{Number: 3, Slug: "notify", Target: models.StepTarget{Kind: models.StepTargetAction, IntegrationSlug: "chat", ActionSlug: "send_message"}},
		},
		Limits: models.SafetyLimits{MaxCostUSD: 10, MaxDurationSeconds: 300},
	}
}

func newOrchestrator(store *memory.Store, actions ActionInvoker, clock *fakeClock) *Orchestrator {
	return New(Config{
		Pipelines:  store,
		Executions: store,
		Actions:    actions,
		Resolver:   variables.NewResolver(store, nil),
		Clock:      clock,
	})
}

func lastExecution(t *testing.T, store *memory.Store, result *invocation.Result) *models.PipelineExecution {
	t.Helper()

	require.NotNil(t, result.Err)
	id, ok := result.Err.Details["execution_id"].(string)
	require.True(t, ok, "terminal failures carry the execution id")

	execution, err := store.ExecutionByID(context.Background(), testTenant, id)
	require.NoError(t, err)

	return execution
}

func TestInvoke_CompletesAllSteps(t *testing.T) {
	store := memory.NewStore()
	store.AddPipeline(threeStepPipeline())

	actions := &fakeActions{}
	orchestrator := newOrchestrator(store, actions, newFakeClock())

	result := orchestrator.Invoke(context.Background(), testTenant, "onboarding",
		map[string]any{"email": "a@b.io"}, gateway.Options{})

	require.True(t, result.Success, "error: %v", result.Err)
	assert.Equal(t, 3, result.Metadata.Steps)
	assert.Equal(t, 3, actions.callCount())

	outputs, ok := result.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"from": "create_contact"}, outputs["create"])
}

func TestInvoke_StepOutputsFeedLaterInputs(t *testing.T) {
	pipeline := threeStepPipeline()
	pipeline.Steps[1].InputMapping = map[string]any{
		"contact_id": "${steps.create.output.id}",
	}

	store := memory.NewStore()
	store.AddPipeline(pipeline)

	actions := &fakeActions{results: map[string]*invocation.Result{
		"create_contact": invocation.OK(map[string]any{"id": "c-77"}, invocation.Metadata{}),
	}}
	orchestrator := newOrchestrator(store, actions, newFakeClock())

	result := orchestrator.Invoke(context.Background(), testTenant, "onboarding", nil, gateway.Options{})

	require.True(t, result.Success, "error: %v", result.Err)
	assert.Equal(t, map[string]any{"contact_id": "c-77"}, actions.calls[1].params)
}

func TestInvoke_CostLimitStopsBeforeNextStep(t *testing.T) {
	pipeline := threeStepPipeline()
	pipeline.Limits.MaxCostUSD = 0.5

	store := memory.NewStore()
	store.AddPipeline(pipeline)

	// Each step reports $0.30; the budget is exhausted before step 3.
	costly := func(action string) *invocation.Result {
		return invocation.OK(map[string]any{"from": action}, invocation.Metadata{CostUSD: 0.30})
	}

	actions := &fakeActions{results: map[string]*invocation.Result{
		"create_contact": costly("create_contact"),
		"enrich_contact": costly("enrich_contact"),
		"send_message":   costly("send_message"),
	}}
	orchestrator := newOrchestrator(store, actions, newFakeClock())

	result := orchestrator.Invoke(context.Background(), testTenant, "onboarding", nil, gateway.Options{})

	require.False(t, result.Success)
	assert.Equal(t, invocation.CodeCostLimitExceeded, result.Err.Code)
	assert.Equal(t, 2, actions.callCount(), "step 3 never runs")
	assert.Equal(t, 2, result.Metadata.Steps)
	assert.InDelta(t, 0.60, result.Metadata.TotalCostUSD, 1e-9)

	execution := lastExecution(t, store, result)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Len(t, execution.StepResults, 2)
	assert.Equal(t, 2, execution.CurrentStepNumber)
}

func TestInvoke_CostAtBudgetCompletes(t *testing.T) {
	pipeline := threeStepPipeline()
	pipeline.Limits.MaxCostUSD = 0.60

	store := memory.NewStore()
	store.AddPipeline(pipeline)

	// Spending up to the budget is fine: the boundary before step 3 sees
	// exactly $0.60 and must not trip.
	costly := func(action string) *invocation.Result {
		return invocation.OK(map[string]any{"from": action}, invocation.Metadata{CostUSD: 0.30})
	}

	actions := &fakeActions{results: map[string]*invocation.Result{
		"create_contact": costly("create_contact"),
		"enrich_contact": costly("enrich_contact"),
		"send_message":   costly("send_message"),
	}}
	orchestrator := newOrchestrator(store, actions, newFakeClock())

	result := orchestrator.Invoke(context.Background(), testTenant, "onboarding", nil, gateway.Options{})

	require.True(t, result.Success, "error: %v", result.Err)
	assert.Equal(t, 3, actions.callCount())
	assert.Equal(t, 3, result.Metadata.Steps)
	assert.InDelta(t, 0.90, result.Metadata.TotalCostUSD, 1e-9)
}

// stalledActions blocks until the step context expires and then answers
// the way the gateway answers a timed-out upstream call.
type stalledActions struct{}

func (stalledActions) Invoke(ctx context.Context, _, _, _ string, _ map[string]any, _ gateway.Options) *invocation.Result {
	<-ctx.Done()

	return invocation.Fail(
		invocation.NewError(invocation.CodeExecutionFailed, "upstream call timed out").WithCause(ctx.Err()),
		invocation.Metadata{},
	)
}

func TestInvoke_StepDeadlineMapsToStepTimeout(t *testing.T) {
	pipeline := threeStepPipeline()
	pipeline.Steps[0].TimeoutSeconds = 1

	store := memory.NewStore()
	store.AddPipeline(pipeline)

	orchestrator := newOrchestrator(store, stalledActions{}, newFakeClock())

	result := orchestrator.Invoke(context.Background(), testTenant, "onboarding", nil, gateway.Options{})

	require.False(t, result.Success)
	assert.Equal(t, invocation.CodeStepTimeout, result.Err.Code)

	execution := lastExecution(t, store, result)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
}

func TestInvoke_DurationLimitMapsToTimeout(t *testing.T) {
	pipeline := threeStepPipeline()
	pipeline.Limits.MaxDurationSeconds = 60

	store := memory.NewStore()
	store.AddPipeline(pipeline)

	clock := newFakeClock()
	actions := &fakeActions{hook: func(string) { clock.Advance(45 * time.Second) }}
	orchestrator := newOrchestrator(store, actions, clock)

	result := orchestrator.Invoke(context.Background(), testTenant, "onboarding", nil, gateway.Options{})

	require.False(t, result.Success)
	assert.Equal(t, invocation.CodeDurationLimitExceeded, result.Err.Code)
	assert.Equal(t, 2, actions.callCount())

	execution := lastExecution(t, store, result)
	assert.Equal(t, models.ExecutionStatusTimeout, execution.Status)
}

func TestInvoke_CancelStopsAfterCurrentStep(t *testing.T) {
	store := memory.NewStore()
	store.AddPipeline(threeStepPipeline())

	captured := &capturingExecutions{Store: store}

	actions := &fakeActions{}
	actions.hook = func(action string) {
		if action == "create_contact" {
			require.NoError(t, store.RequestCancel(context.Background(), testTenant, captured.id()))
		}
	}

	orchestrator := New(Config{
		Pipelines:  store,
		Executions: captured,
		Actions:    actions,
		Resolver:   variables.NewResolver(store, nil),
		Clock:      newFakeClock(),
	})

	result := orchestrator.Invoke(context.Background(), testTenant, "onboarding", nil, gateway.Options{})

	require.False(t, result.Success)
	assert.Equal(t, invocation.CodeExecutionCancelled, result.Err.Code)
	assert.Equal(t, 1, actions.callCount(), "only step 1 ran")
	assert.Equal(t, 1, result.Metadata.Steps)

	execution := lastExecution(t, store, result)
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Len(t, execution.StepResults, 1)
}

func TestInvoke_StepFailureAbortsByDefault(t *testing.T) {
	store := memory.NewStore()
	store.AddPipeline(threeStepPipeline())

	actions := &fakeActions{results: map[string]*invocation.Result{
		"enrich_contact": invocation.Fail(
			invocation.NewError(invocation.CodeExecutionFailed, "upstream 500"),
			invocation.Metadata{},
		),
	}}
	orchestrator := newOrchestrator(store, actions, newFakeClock())

	result := orchestrator.Invoke(context.Background(), testTenant, "onboarding", nil, gateway.Options{})

	require.False(t, result.Success)
	assert.Equal(t, invocation.CodeStepFailed, result.Err.Code)
	assert.Equal(t, 2, actions.callCount(), "step 3 is skipped")

	execution := lastExecution(t, store, result)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, "failed", execution.StepResults[1].Status)
}

func TestInvoke_ContinueOnErrorProceeds(t *testing.T) {
	pipeline := threeStepPipeline()
	pipeline.Steps[1].ContinueOnError = true

	store := memory.NewStore()
	store.AddPipeline(pipeline)

	actions := &fakeActions{results: map[string]*invocation.Result{
		"enrich_contact": invocation.Fail(
			invocation.NewError(invocation.CodeExecutionFailed, "upstream 500"),
			invocation.Metadata{},
		),
	}}
	orchestrator := newOrchestrator(store, actions, newFakeClock())

	result := orchestrator.Invoke(context.Background(), testTenant, "onboarding", nil, gateway.Options{})

	require.True(t, result.Success, "error: %v", result.Err)
	assert.Equal(t, 3, actions.callCount())
	assert.Equal(t, 3, result.Metadata.Steps)
}

func TestInvoke_OutputMapping(t *testing.T) {
	pipeline := threeStepPipeline()
	pipeline.OutputMapping = map[string]any{
		"contact": "${steps.create.output.id}",
	}

	store := memory.NewStore()
	store.AddPipeline(pipeline)

	actions := &fakeActions{results: map[string]*invocation.Result{
		"create_contact": invocation.OK(map[string]any{"id": "c-1"}, invocation.Metadata{}),
	}}
	orchestrator := newOrchestrator(store, actions, newFakeClock())

	result := orchestrator.Invoke(context.Background(), testTenant, "onboarding", nil, gateway.Options{})

	require.True(t, result.Success)
	assert.Equal(t, map[string]any{"contact": "c-1"}, result.Data)
}

func TestInvoke_PreconditionFailures(t *testing.T) {
	store := memory.NewStore()

	draft := threeStepPipeline()
	draft.ID = "pipe-draft"
	draft.Slug = "draft-pipe"
	draft.Status = models.PipelineStatusDraft
	store.AddPipeline(draft)

	disabled := threeStepPipeline()
	disabled.ID = "pipe-disabled"
	disabled.Slug = "disabled-pipe"
	disabled.Status = models.PipelineStatusDisabled
	store.AddPipeline(disabled)

	empty := threeStepPipeline()
	empty.ID = "pipe-empty"
	empty.Slug = "empty-pipe"
	empty.Steps = nil
	store.AddPipeline(empty)

	gapped := threeStepPipeline()
	gapped.ID = "pipe-gap"
	gapped.Slug = "gapped-pipe"
	gapped.Steps[2].Number = 5
	store.AddPipeline(gapped)

	orchestrator := newOrchestrator(store, &fakeActions{}, newFakeClock())

	cases := []struct {
		ref  string
		code invocation.Code
	}{
		{"missing", invocation.CodeNotFound},
		{"draft-pipe", invocation.CodePipelineNotActive},
		{"disabled-pipe", invocation.CodePipelineDisabled},
		{"empty-pipe", invocation.CodeEmptyPipeline},
		{"gapped-pipe", invocation.CodeEmptyPipeline},
	}

	for _, tc := range cases {
		result := orchestrator.Invoke(context.Background(), testTenant, tc.ref, nil, gateway.Options{})
		require.False(t, result.Success, tc.ref)
		assert.Equal(t, tc.code, result.Err.Code, tc.ref)
	}
}

// capturingExecutions records the execution id on first save so test hooks
// can address the in-flight execution.
type capturingExecutions struct {
	*memory.Store

	mu     sync.Mutex
	execID string
}

func (c *capturingExecutions) SaveExecution(ctx context.Context, execution *models.PipelineExecution) error {
	c.mu.Lock()
	if c.execID == "" {
		c.execID = execution.ID
	}
	c.mu.Unlock()

	return c.Store.SaveExecution(ctx, execution)
}

func (c *capturingExecutions) id() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.execID
}
