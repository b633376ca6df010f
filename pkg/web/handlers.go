// Package web exposes the invocation engine over HTTP: tool, composite and
// pipeline invocation, execution inspection and variable preview.
package web

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/switchyardhq/switchyard/pkg/gateway"
	"github.com/switchyardhq/switchyard/pkg/invocation"
	"github.com/switchyardhq/switchyard/pkg/persistence"
	"github.com/switchyardhq/switchyard/pkg/variables"
)

// TenantHeader names the tenant on every request. Upstream auth middleware
// owns validating it.
const TenantHeader = "X-Tenant-ID"

// ActionInvoker is the gateway contract.
type ActionInvoker interface {
	Invoke(ctx context.Context, tenantID, integrationSlug, actionSlug string, params map[string]any, opts gateway.Options) *invocation.Result
}

// CompositeInvoker is the router contract.
type CompositeInvoker interface {
	Invoke(ctx context.Context, tenantID, toolSlug string, params map[string]any, opts gateway.Options) *invocation.Result
}

// PipelineInvoker is the orchestrator contract.
type PipelineInvoker interface {
	Invoke(ctx context.Context, tenantID, ref string, params map[string]any, opts gateway.Options) *invocation.Result
}

type APIHandlers struct {
	actions    ActionInvoker
	composites CompositeInvoker
	pipelines  PipelineInvoker
	executions persistence.ExecutionRepository
	resolver   *variables.Resolver
	validator  *validator.Validate
	logger     *slog.Logger
}

func NewAPIHandlers(
	actions ActionInvoker,
	composites CompositeInvoker,
	pipelines PipelineInvoker,
	executions persistence.ExecutionRepository,
	resolver *variables.Resolver,
	validate *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	if logger == nil {
		logger = slog.Default()
	}

	return &APIHandlers{
		actions:    actions,
		composites: composites,
		pipelines:  pipelines,
		executions: executions,
		resolver:   resolver,
		validator:  validate,
		logger:     logger.With("module", "web"),
	}
}

// Register mounts every route on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	v1 := app.Group("/v1")
	v1.Post("/tools/invoke", h.InvokeTool)
	v1.Post("/composite/:slug/invoke", h.InvokeComposite)
	v1.Post("/pipelines/:ref/invoke", h.InvokePipeline)
	v1.Get("/executions/:id", h.GetExecution)
	v1.Post("/executions/:id/cancel", h.CancelExecution)
	v1.Post("/variables/preview", h.PreviewVariables)
}

func tenantID(c fiber.Ctx) string {
	return c.Get(TenantHeader)
}

// respond writes the result envelope with the status its error code maps to.
func respond(c fiber.Ctx, result *invocation.Result) error {
	if result.Success {
		return c.JSON(result)
	}

	return c.Status(invocation.HTTPStatus(result.Err.Code)).JSON(result)
}

func (h *APIHandlers) InvokeTool(c fiber.Ctx) error {
	tenant := tenantID(c)
	if tenant == "" {
		return badRequest(c, "missing "+TenantHeader+" header")
	}

	var req ToolInvokeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	integrationSlug, actionSlug, ok := req.Slugs()
	if !ok {
		return badRequest(c, "tool must be \"<integration>_<action>\" or integration and action must be set")
	}

	result := h.actions.Invoke(c.Context(), tenant, integrationSlug, actionSlug, req.Params, req.gatewayOptions())

	return respond(c, result)
}

func (h *APIHandlers) InvokeComposite(c fiber.Ctx) error {
	tenant := tenantID(c)
	if tenant == "" {
		return badRequest(c, "missing "+TenantHeader+" header")
	}

	slug := c.Params("slug")
	if slug == "" {
		return badRequest(c, "composite tool slug is required")
	}

	var req CompositeInvokeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	result := h.composites.Invoke(c.Context(), tenant, slug, req.Params, req.gatewayOptions())

	return respond(c, result)
}

func (h *APIHandlers) InvokePipeline(c fiber.Ctx) error {
	tenant := tenantID(c)
	if tenant == "" {
		return badRequest(c, "missing "+TenantHeader+" header")
	}

	ref := c.Params("ref")
	if ref == "" {
		return badRequest(c, "pipeline reference is required")
	}

	var req PipelineInvokeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	result := h.pipelines.Invoke(c.Context(), tenant, ref, req.Params, req.gatewayOptions())

	return respond(c, result)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	tenant := tenantID(c)
	if tenant == "" {
		return badRequest(c, "missing "+TenantHeader+" header")
	}

	execution, err := h.executions.ExecutionByID(c.Context(), tenant, c.Params("id"))
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Execution not found")
		}

		return internalError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	tenant := tenantID(c)
	if tenant == "" {
		return badRequest(c, "missing "+TenantHeader+" header")
	}

	id := c.Params("id")

	execution, err := h.executions.ExecutionByID(c.Context(), tenant, id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Execution not found")
		}

		return internalError(c, err)
	}

	// Cancelling a finished execution is a no-op, not an error.
	if execution.Status.Terminal() {
		return c.JSON(fiber.Map{"status": execution.Status, "cancel_requested": false})
	}

	if err := h.executions.RequestCancel(c.Context(), tenant, id); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": execution.Status, "cancel_requested": true})
}

func (h *APIHandlers) PreviewVariables(c fiber.Ctx) error {
	tenant := tenantID(c)
	if tenant == "" {
		return badRequest(c, "missing "+TenantHeader+" header")
	}

	var req VariablePreviewRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	opts := req.gatewayOptions()

	resolveOpts := variables.Options{
		TenantID:         tenant,
		ConnectionID:     req.ConnectionID,
		Environment:      req.Environment,
		Runtime:          opts.Runtime,
		RequestVariables: req.Variables,
	}

	if !req.Resolve {
		validation, err := h.resolver.Validate(c.Context(), req.Template, resolveOpts)
		if err != nil {
			return internalError(c, err)
		}

		return c.JSON(validation)
	}

	result, err := h.resolver.Resolve(c.Context(), req.Template, resolveOpts)
	if err != nil {
		return internalError(c, err)
	}

	// Sensitive values never leave the preview endpoint unmasked.
	return c.JSON(fiber.Map{
		"resolved":  result.MaskedResolved(),
		"all_found": result.AllFound,
		"missing":   result.Missing,
		"summary":   variables.Summarize(result),
	})
}
