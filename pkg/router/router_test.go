package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyardhq/switchyard/pkg/gateway"
	"github.com/switchyardhq/switchyard/pkg/invocation"
	"github.com/switchyardhq/switchyard/pkg/llm"
	"github.com/switchyardhq/switchyard/pkg/models"
	"github.com/switchyardhq/switchyard/pkg/persistence/memory"
	"github.com/switchyardhq/switchyard/pkg/variables"
)

const testTenant = "tenant-1"

type fakeInvoker struct {
	lastIntegration string
	lastAction      string
	lastParams      map[string]any
	result          *invocation.Result
}

func (f *fakeInvoker) Invoke(_ context.Context, _, integrationSlug, actionSlug string, params map[string]any, _ gateway.Options) *invocation.Result {
	f.lastIntegration = integrationSlug
	f.lastAction = actionSlug
	f.lastParams = params

	if f.result != nil {
		return f.result
	}

	return invocation.OK(map[string]any{"ok": true}, invocation.Metadata{})
}

type fakeModel struct {
	decision *llm.Decision
	err      error
}

func (f *fakeModel) ChooseOperation(_ context.Context, _ llm.DecisionRequest) (*llm.Decision, error) {
	return f.decision, f.err
}

func (f *fakeModel) Name() string { return "fake" }

func rulesTool() *models.CompositeTool {
	return &models.CompositeTool{
		ID:       "tool-1",
		TenantID: testTenant,
		Slug:     "messaging",
		Name:     "Messaging",
		Mode:     models.RoutingModeRules,
		Enabled:  true,
		Operations: []models.Operation{
			{Slug: "send_dm", IntegrationSlug: "chat", ActionSlug: "send_dm"},
			{Slug: "post_channel", IntegrationSlug: "chat", ActionSlug: "post_message"},
			{Slug: "fallback", IntegrationSlug: "chat", ActionSlug: "post_message"},
		},
		Rules: []models.RoutingRule{
			{OperationSlug: "post_channel", ConditionType: models.ConditionStartsWith, ConditionField: "target", ConditionValue: "#", Priority: 2},
			{OperationSlug: "send_dm", ConditionType: models.ConditionStartsWith, ConditionField: "target", ConditionValue: "@", Priority: 1},
		},
		DefaultOperation: "fallback",
	}
}

func newRouter(t *testing.T, tool *models.CompositeTool, invoker ActionInvoker, model llm.Model) *Router {
	t.Helper()

	store := memory.NewStore()
	if tool != nil {
		store.AddCompositeTool(tool)
	}

	return New(store, invoker, variables.NewResolver(store, nil), model, nil)
}

func TestInvoke_RuleMatchLowestPriorityFirst(t *testing.T) {
	invoker := &fakeInvoker{}
	router := newRouter(t, rulesTool(), invoker, nil)

	// "@#x" satisfies both rules' fields; priority 1 must win.
	result := router.Invoke(context.Background(), testTenant, "messaging",
		map[string]any{"target": "@alice"}, gateway.Options{})

	require.True(t, result.Success)
	require.NotNil(t, result.Metadata.Routing)
	assert.Equal(t, "send_dm", result.Metadata.Routing.Operation)
	assert.Equal(t, "send_dm", invoker.lastAction)
}

func TestInvoke_DefaultOperationFallback(t *testing.T) {
	invoker := &fakeInvoker{}
	router := newRouter(t, rulesTool(), invoker, nil)

	result := router.Invoke(context.Background(), testTenant, "messaging",
		map[string]any{"target": "nobody"}, gateway.Options{})

	require.True(t, result.Success)
	assert.Equal(t, "fallback", result.Metadata.Routing.Operation)
}

func TestInvoke_NoMatchNoDefault(t *testing.T) {
	tool := rulesTool()
	tool.DefaultOperation = ""
	router := newRouter(t, tool, &fakeInvoker{}, nil)

	result := router.Invoke(context.Background(), testTenant, "messaging",
		map[string]any{"target": "nobody"}, gateway.Options{})

	require.False(t, result.Success)
	assert.Equal(t, invocation.CodeRoutingFailed, result.Err.Code)
}

func TestInvoke_DisabledTool(t *testing.T) {
	tool := rulesTool()
	tool.Enabled = false
	router := newRouter(t, tool, &fakeInvoker{}, nil)

	result := router.Invoke(context.Background(), testTenant, "messaging",
		map[string]any{"target": "@alice"}, gateway.Options{})

	require.False(t, result.Success)
	assert.Equal(t, invocation.CodeCompositeToolDisabled, result.Err.Code)
}

func TestInvoke_UnknownTool(t *testing.T) {
	router := newRouter(t, nil, &fakeInvoker{}, nil)

	result := router.Invoke(context.Background(), testTenant, "missing", nil, gateway.Options{})

	require.False(t, result.Success)
	assert.Equal(t, invocation.CodeNotFound, result.Err.Code)
}

func TestInvoke_CaseInsensitiveEquals(t *testing.T) {
	tool := rulesTool()
	tool.Rules = []models.RoutingRule{
		{OperationSlug: "send_dm", ConditionType: models.ConditionEquals, ConditionField: "kind", ConditionValue: "Direct", CaseSensitive: false, Priority: 1},
	}

	invoker := &fakeInvoker{}
	router := newRouter(t, tool, invoker, nil)

	result := router.Invoke(context.Background(), testTenant, "messaging",
		map[string]any{"kind": "DIRECT"}, gateway.Options{})

	require.True(t, result.Success)
	assert.Equal(t, "send_dm", result.Metadata.Routing.Operation)
}

func TestInvoke_RegexMatch(t *testing.T) {
	tool := rulesTool()
	tool.Rules = []models.RoutingRule{
		{OperationSlug: "post_channel", ConditionType: models.ConditionMatches, ConditionField: "target", ConditionValue: `^#[a-z-]+$`, CaseSensitive: true, Priority: 1},
	}

	router := newRouter(t, tool, &fakeInvoker{}, nil)

	result := router.Invoke(context.Background(), testTenant, "messaging",
		map[string]any{"target": "#general"}, gateway.Options{})

	require.True(t, result.Success)
	assert.Equal(t, "post_channel", result.Metadata.Routing.Operation)
}

func TestInvoke_AgentModeRecordsUsage(t *testing.T) {
	tool := rulesTool()
	tool.Mode = models.RoutingModeAgent
	tool.Rules = nil

	model := &fakeModel{decision: &llm.Decision{
		Operation:        "post_channel",
		Reason:           "caller targets a channel",
		PromptTokens:     120,
		CompletionTokens: 12,
		CostUSD:          0.0002,
	}}

	invoker := &fakeInvoker{}
	router := newRouter(t, tool, invoker, model)

	result := router.Invoke(context.Background(), testTenant, "messaging",
		map[string]any{"target": "#general"}, gateway.Options{})

	require.True(t, result.Success)
	assert.Equal(t, "post_channel", result.Metadata.Routing.Operation)
	assert.Equal(t, "caller targets a channel", result.Metadata.Routing.Reason)
	assert.Equal(t, 132, result.Metadata.Tokens)
	assert.InDelta(t, 0.0002, result.Metadata.CostUSD, 1e-9)
}

func TestInvoke_AgentInvalidSlug(t *testing.T) {
	tool := rulesTool()
	tool.Mode = models.RoutingModeAgent

	model := &fakeModel{decision: &llm.Decision{Operation: "made_up"}}
	router := newRouter(t, tool, &fakeInvoker{}, model)

	result := router.Invoke(context.Background(), testTenant, "messaging", nil, gateway.Options{})

	require.False(t, result.Success)
	assert.Equal(t, invocation.CodeRoutingFailed, result.Err.Code)
}

func TestInvoke_AgentModelError(t *testing.T) {
	tool := rulesTool()
	tool.Mode = models.RoutingModeAgent

	model := &fakeModel{err: errors.New("model unavailable")}
	router := newRouter(t, tool, &fakeInvoker{}, model)

	result := router.Invoke(context.Background(), testTenant, "messaging", nil, gateway.Options{})

	require.False(t, result.Success)
	assert.Equal(t, invocation.CodeRoutingFailed, result.Err.Code)
}

func TestInvoke_ParameterMappingAndSchema(t *testing.T) {
	tool := rulesTool()
	tool.Operations[0].ParameterMapping = map[string]any{
		"recipient": "${target}",
		"text":      "${message}",
	}
	tool.Operations[0].ParameterSchema = map[string]any{
		"type":     "object",
		"required": []any{"recipient", "text"},
		"properties": map[string]any{
			"recipient": map[string]any{"type": "string"},
			"text":      map[string]any{"type": "string"},
		},
	}

	invoker := &fakeInvoker{}
	router := newRouter(t, tool, invoker, nil)

	result := router.Invoke(context.Background(), testTenant, "messaging",
		map[string]any{"target": "@alice", "message": "hello"}, gateway.Options{})

	require.True(t, result.Success)
	assert.Equal(t, map[string]any{"recipient": "@alice", "text": "hello"}, invoker.lastParams)
}

func TestInvoke_ParameterMappingMissingVariable(t *testing.T) {
	tool := rulesTool()
	tool.Operations[0].ParameterMapping = map[string]any{"text": "${message}"}

	invoker := &fakeInvoker{}
	router := newRouter(t, tool, invoker, nil)

	result := router.Invoke(context.Background(), testTenant, "messaging",
		map[string]any{"target": "@alice"}, gateway.Options{})

	require.False(t, result.Success)
	assert.Equal(t, invocation.CodeParameterMappingFailed, result.Err.Code)
	assert.Empty(t, invoker.lastAction, "mapping failures never reach the gateway")
}

func TestInvoke_ParameterSchemaViolation(t *testing.T) {
	tool := rulesTool()
	tool.Operations[0].ParameterSchema = map[string]any{
		"type":       "object",
		"required":   []any{"text"},
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
	}

	invoker := &fakeInvoker{}
	router := newRouter(t, tool, invoker, nil)

	result := router.Invoke(context.Background(), testTenant, "messaging",
		map[string]any{"target": "@alice"}, gateway.Options{})

	require.False(t, result.Success)
	assert.Equal(t, invocation.CodeParameterMappingFailed, result.Err.Code)
}
