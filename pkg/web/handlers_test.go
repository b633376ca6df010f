package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyardhq/switchyard/pkg/gateway"
	"github.com/switchyardhq/switchyard/pkg/invocation"
	"github.com/switchyardhq/switchyard/pkg/models"
	"github.com/switchyardhq/switchyard/pkg/persistence/memory"
	"github.com/switchyardhq/switchyard/pkg/variables"
)

const testTenant = "tenant-1"

type scriptedInvoker struct {
	result          *invocation.Result
	lastTenant      string
	lastIntegration string
	lastAction      string
	lastRef         string
	lastParams      map[string]any
}

func (s *scriptedInvoker) Invoke(_ context.Context, tenant, integrationSlug, actionSlug string, params map[string]any, _ gateway.Options) *invocation.Result {
	s.lastTenant = tenant
	s.lastIntegration = integrationSlug
	s.lastAction = actionSlug
	s.lastParams = params

	return s.result
}

type scriptedRefInvoker struct {
	result     *invocation.Result
	lastTenant string
	lastRef    string
}

func (s *scriptedRefInvoker) Invoke(_ context.Context, tenant, ref string, _ map[string]any, _ gateway.Options) *invocation.Result {
	s.lastTenant = tenant
	s.lastRef = ref

	return s.result
}

type fixture struct {
	app        *fiber.App
	actions    *scriptedInvoker
	composites *scriptedRefInvoker
	pipelines  *scriptedRefInvoker
	store      *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		actions:    &scriptedInvoker{result: invocation.OK(map[string]any{"ok": true}, invocation.Metadata{RequestID: "req-1"})},
		composites: &scriptedRefInvoker{result: invocation.OK(nil, invocation.Metadata{})},
		pipelines:  &scriptedRefInvoker{result: invocation.OK(nil, invocation.Metadata{})},
		store:      memory.NewStore(),
	}

	handlers := NewAPIHandlers(
		f.actions,
		f.composites,
		f.pipelines,
		f.store,
		variables.NewResolver(f.store, nil),
		validator.New(validator.WithRequiredStructEnabled()),
		nil,
	)

	f.app = fiber.New()
	handlers.Register(f.app)

	return f
}

func (f *fixture) request(t *testing.T, method, path string, body any, tenant string) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}

	resp, err := f.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	var body map[string]any

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	return body
}

func TestInvokeTool_Success(t *testing.T) {
	f := newFixture(t)

	resp := f.request(t, http.MethodPost, "/v1/tools/invoke", ToolInvokeRequest{
		Tool:   "crm_create-contact",
		Params: map[string]any{"email": "a@b.io"},
	}, testTenant)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, testTenant, f.actions.lastTenant)
	assert.Equal(t, "crm", f.actions.lastIntegration)
	assert.Equal(t, "create-contact", f.actions.lastAction)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
}

func TestInvokeTool_ExplicitSlugsWin(t *testing.T) {
	f := newFixture(t)

	resp := f.request(t, http.MethodPost, "/v1/tools/invoke", ToolInvokeRequest{
		Tool:        "ignored_value",
		Integration: "billing",
		Action:      "charge_card",
	}, testTenant)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "billing", f.actions.lastIntegration)
	assert.Equal(t, "charge_card", f.actions.lastAction)
}

func TestInvokeTool_MissingTenant(t *testing.T) {
	f := newFixture(t)

	resp := f.request(t, http.MethodPost, "/v1/tools/invoke", ToolInvokeRequest{Tool: "a_b"}, "")

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInvokeTool_BadToolName(t *testing.T) {
	f := newFixture(t)

	resp := f.request(t, http.MethodPost, "/v1/tools/invoke", ToolInvokeRequest{Tool: "nounderscore"}, testTenant)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInvokeTool_ErrorStatusMapping(t *testing.T) {
	cases := []struct {
		code   invocation.Code
		status int
	}{
		{invocation.CodeNotFound, http.StatusNotFound},
		{invocation.CodeDisabled, http.StatusForbidden},
		{invocation.CodeInvalidInput, http.StatusBadRequest},
		{invocation.CodeCostLimitExceeded, http.StatusTooManyRequests},
		{invocation.CodeExecutionCancelled, 499},
		{invocation.CodeCircuitOpen, http.StatusBadGateway},
		{invocation.CodeInternalError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		f := newFixture(t)
		f.actions.result = invocation.Fail(invocation.NewError(tc.code, "boom"), invocation.Metadata{})

		resp := f.request(t, http.MethodPost, "/v1/tools/invoke", ToolInvokeRequest{Tool: "a_b"}, testTenant)

		assert.Equal(t, tc.status, resp.StatusCode, string(tc.code))

		body := decodeBody(t, resp)
		errObj, ok := body["error"].(map[string]any)
		require.True(t, ok, string(tc.code))
		assert.Equal(t, string(tc.code), errObj["code"])
		assert.NotEmpty(t, errObj["suggested_resolution"])
	}
}

func TestInvokeComposite_RoutesSlug(t *testing.T) {
	f := newFixture(t)

	resp := f.request(t, http.MethodPost, "/v1/composite/messaging/invoke", CompositeInvokeRequest{
		Params: map[string]any{"target": "#general"},
	}, testTenant)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "messaging", f.composites.lastRef)
}

func TestInvokePipeline_RoutesRef(t *testing.T) {
	f := newFixture(t)

	resp := f.request(t, http.MethodPost, "/v1/pipelines/onboarding/invoke", PipelineInvokeRequest{}, testTenant)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "onboarding", f.pipelines.lastRef)
}

func TestGetExecution(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.SaveExecution(context.Background(), &models.PipelineExecution{
		ID:       "exec-1",
		TenantID: testTenant,
		Status:   models.ExecutionStatusCompleted,
	}))

	resp := f.request(t, http.MethodGet, "/v1/executions/exec-1", nil, testTenant)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "completed", body["status"])

	resp = f.request(t, http.MethodGet, "/v1/executions/nope", nil, testTenant)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Other tenants cannot see the execution.
	resp = f.request(t, http.MethodGet, "/v1/executions/exec-1", nil, "tenant-2")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SaveExecution(ctx, &models.PipelineExecution{
		ID:       "exec-run",
		TenantID: testTenant,
		Status:   models.ExecutionStatusRunning,
	}))
	require.NoError(t, f.store.SaveExecution(ctx, &models.PipelineExecution{
		ID:       "exec-done",
		TenantID: testTenant,
		Status:   models.ExecutionStatusCompleted,
	}))

	resp := f.request(t, http.MethodPost, "/v1/executions/exec-run/cancel", nil, testTenant)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	cancelled, err := f.store.CancelRequested(ctx, "exec-run")
	require.NoError(t, err)
	assert.True(t, cancelled)

	// Terminal executions accept the request but set nothing.
	resp = f.request(t, http.MethodPost, "/v1/executions/exec-done/cancel", nil, testTenant)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancelled, err = f.store.CancelRequested(ctx, "exec-done")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestPreviewVariables_ValidateOnly(t *testing.T) {
	f := newFixture(t)

	f.store.AddTenantVariable(&models.StoredVariable{
		TenantID: testTenant,
		Key:      "api_region",
		Value:    "eu-west-1",
	})

	resp := f.request(t, http.MethodPost, "/v1/variables/preview", VariablePreviewRequest{
		Template: map[string]any{
			"region":  "${api_region}",
			"unknown": "${custom.nope}",
		},
	}, testTenant)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, false, body["valid"])
	assert.Len(t, body["resolvable"], 1)
	assert.Len(t, body["unresolvable"], 1)
	assert.Nil(t, body["resolved"], "validate-only mode returns no values")
}

func TestPreviewVariables_ResolveMasksSensitive(t *testing.T) {
	f := newFixture(t)

	f.store.AddTenantVariable(&models.StoredVariable{
		TenantID:  testTenant,
		Key:       "api_token",
		Value:     "s3cr3t",
		Sensitive: true,
	})

	resp := f.request(t, http.MethodPost, "/v1/variables/preview", VariablePreviewRequest{
		Template: map[string]any{"token": "${api_token}"},
		Resolve:  true,
	}, testTenant)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	resolved, ok := body["resolved"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, variables.RedactionMarker, resolved["token"])
	assert.Equal(t, true, body["all_found"])
}
