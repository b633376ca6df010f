// Package gateway executes single integration actions: it validates input,
// resolves credentials and templates, applies the circuit breaker and retry
// policy, signs the outgoing HTTP request and wraps the outcome in the
// shared result envelope.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/switchyardhq/switchyard/pkg/auth"
	"github.com/switchyardhq/switchyard/pkg/eventbus"
	"github.com/switchyardhq/switchyard/pkg/events"
	"github.com/switchyardhq/switchyard/pkg/invocation"
	"github.com/switchyardhq/switchyard/pkg/models"
	"github.com/switchyardhq/switchyard/pkg/otelhelper"
	"github.com/switchyardhq/switchyard/pkg/persistence"
	"github.com/switchyardhq/switchyard/pkg/refdata"
	"github.com/switchyardhq/switchyard/pkg/resilience"
	"github.com/switchyardhq/switchyard/pkg/variables"
)

const defaultActionTimeout = 30 * time.Second

// Options carry the per-call context of one action invocation.
type Options struct {
	ConnectionID   string
	Environment    string
	AppID          string
	ExternalUserID string

	Runtime          *models.RuntimeContext
	RequestVariables map[string]any
	StepOutputs      map[string]any

	// ReferenceContext is caller-supplied inline name-to-ID data, consulted
	// before the shared cache.
	ReferenceContext refdata.Context
}

// Gateway invokes integration actions.
type Gateway struct {
	integrations persistence.IntegrationRepository
	connections  persistence.ConnectionRepository
	credentials  persistence.CredentialResolver
	resolver     *variables.Resolver
	refdata      *refdata.Loader
	breakers     *resilience.BreakerStore
	retry        resilience.RetryConfig
	client       *http.Client
	publisher    eventbus.EventPublisher
	logger       *slog.Logger
	tracer       trace.Tracer
}

// Config wires the gateway's collaborators. Publisher and Refdata may be
// nil; Client defaults to a plain http.Client.
type Config struct {
	Integrations persistence.IntegrationRepository
	Connections  persistence.ConnectionRepository
	Credentials  persistence.CredentialResolver
	Resolver     *variables.Resolver
	Refdata      *refdata.Loader
	Breakers     *resilience.BreakerStore
	Retry        resilience.RetryConfig
	Client       *http.Client
	Publisher    eventbus.EventPublisher
	Logger       *slog.Logger
}

func New(cfg Config) *Gateway {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}

	return &Gateway{
		integrations: cfg.Integrations,
		connections:  cfg.Connections,
		credentials:  cfg.Credentials,
		resolver:     cfg.Resolver,
		refdata:      cfg.Refdata,
		breakers:     cfg.Breakers,
		retry:        cfg.Retry,
		client:       cfg.Client,
		publisher:    cfg.Publisher,
		logger:       cfg.Logger.With("module", "gateway"),
		tracer:       otel.Tracer("switchyard/gateway"),
	}
}

// Invoke runs one action end to end. It never returns a Go error: every
// failure is reported through the result envelope so callers get a uniform
// shape regardless of where the call broke down.
func (g *Gateway) Invoke(ctx context.Context, tenantID, integrationSlug, actionSlug string, params map[string]any, opts Options) *invocation.Result {
	started := time.Now()

	if opts.Runtime == nil {
		opts.Runtime = models.NewRuntimeContext(opts.Environment)
	}

	opts.Runtime.Normalize()

	meta := invocation.Metadata{RequestID: opts.Runtime.Request.ID}

	ctx, span := otelhelper.StartSpan(ctx, g.tracer, "gateway.invoke",
		attribute.String(otelhelper.TenantIDKey, tenantID),
		attribute.String(otelhelper.IntegrationSlugKey, integrationSlug),
		attribute.String(otelhelper.ActionSlugKey, actionSlug),
		attribute.String(otelhelper.RequestIDKey, meta.RequestID),
	)
	defer span.End()

	result := g.invoke(ctx, tenantID, integrationSlug, actionSlug, params, opts, &meta)

	meta.LatencyMS = time.Since(started).Milliseconds()
	result.Metadata = meta

	if !result.Success {
		otelhelper.SetError(span, result.Err,
			attribute.String("error.code", string(result.Err.Code)))
	}

	g.publishRequestLog(tenantID, integrationSlug, actionSlug, opts, result, &meta)

	return result
}

func (g *Gateway) invoke(ctx context.Context, tenantID, integrationSlug, actionSlug string, params map[string]any, opts Options, meta *invocation.Metadata) *invocation.Result {
	integration, err := g.integrations.IntegrationBySlug(ctx, tenantID, integrationSlug)
	if err != nil {
		if persistence.IsNotFound(err) {
			return g.fail(invocation.CodeNotFound, fmt.Sprintf("integration %q not found", integrationSlug), meta)
		}

		return g.internal(err, meta)
	}

	if integration.Status != models.IntegrationStatusActive {
		return g.fail(invocation.CodeDisabled, fmt.Sprintf("integration %q is disabled", integrationSlug), meta)
	}

	action, err := g.integrations.ActionBySlug(ctx, tenantID, integrationSlug, actionSlug)
	if err != nil {
		if persistence.IsNotFound(err) {
			return g.fail(invocation.CodeNotFound, fmt.Sprintf("action %q not found on integration %q", actionSlug, integrationSlug), meta)
		}

		return g.internal(err, meta)
	}

	if !action.Enabled {
		return g.fail(invocation.CodeDisabled, fmt.Sprintf("action %q is disabled", actionSlug), meta)
	}

	if failure := g.validateInput(action, params, meta); failure != nil {
		return failure
	}

	var connection *models.Connection

	if opts.ConnectionID != "" {
		connection, err = g.connections.ConnectionByID(ctx, tenantID, opts.ConnectionID)
		if err != nil {
			if persistence.IsNotFound(err) {
				return g.fail(invocation.CodeNotFound, fmt.Sprintf("connection %q not found", opts.ConnectionID), meta)
			}

			return g.internal(err, meta)
		}

		if !connection.Enabled {
			return g.fail(invocation.CodeNotActive, fmt.Sprintf("connection %q is not active", opts.ConnectionID), meta)
		}

		if opts.Runtime.Connection.ID == "" {
			opts.Runtime.Connection = models.ConnectionContext{
				ID:          connection.ID,
				Name:        connection.Name,
				WorkspaceID: connection.WorkspaceID,
			}
		}
	}

	if g.refdata != nil {
		params, err = g.refdata.SubstituteNames(ctx, tenantID, opts.ReferenceContext, params, action.InputSchema)
		if err != nil {
			return invocation.Fail(
				invocation.NewError(invocation.CodeContextLoadFailed, "reference data lookup failed").WithCause(err),
				*meta,
			)
		}
	}

	credential, err := g.credentials.ResolveCredential(ctx, persistence.CredentialRef{
		TenantID:       tenantID,
		IntegrationID:  integration.ID,
		ConnectionID:   opts.ConnectionID,
		AppID:          opts.AppID,
		ExternalUserID: opts.ExternalUserID,
	})
	if err != nil {
		if persistence.IsCredentialNotFound(err) {
			return g.fail(invocation.CodeMissingCredentials, fmt.Sprintf("no active credential for integration %q", integrationSlug), meta)
		}

		return g.internal(err, meta)
	}

	resolved, failure := g.resolveTemplates(ctx, tenantID, action, params, opts, meta)
	if failure != nil {
		return failure
	}

	breakerKey := integration.Slug
	if opts.ConnectionID != "" {
		breakerKey = integration.Slug + "|" + opts.ConnectionID
	}

	if g.breakers != nil {
		if err := g.breakers.Allow(breakerKey); err != nil {
			return invocation.Fail(
				invocation.NewError(invocation.CodeCircuitOpen, fmt.Sprintf("integration %q is temporarily unavailable", integrationSlug)).
					WithDetails(map[string]any{"breaker": g.breakers.SnapshotFor(breakerKey)}).
					WithCause(err),
				*meta,
			)
		}
	}

	data, callErr := g.call(ctx, integration, action, credential, resolved, meta)

	if g.breakers != nil {
		var upstream *upstreamError
		transient := callErr != nil && (!errors.As(callErr, &upstream) || upstream.StatusCode >= 500)

		if transient {
			g.breakers.RecordFailure(breakerKey)
		} else {
			g.breakers.RecordSuccess(breakerKey)
		}
	}

	if callErr != nil {
		var upstream *upstreamError
		if errors.As(callErr, &upstream) {
			return invocation.Fail(
				invocation.NewError(invocation.CodeExecutionFailed, fmt.Sprintf("upstream returned status %d", upstream.StatusCode)).
					WithDetails(map[string]any{"status_code": upstream.StatusCode, "body": upstream.Snippet()}).
					WithCause(callErr),
				*meta,
			)
		}

		if errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded) {
			return invocation.Fail(
				invocation.NewError(invocation.CodeExecutionFailed, "upstream call timed out").WithCause(callErr),
				*meta,
			)
		}

		return invocation.Fail(
			invocation.NewError(invocation.CodeExecutionFailed, "upstream call failed after retries").WithCause(callErr),
			*meta,
		)
	}

	return invocation.OK(data, *meta)
}

func (g *Gateway) validateInput(action *models.Action, params map[string]any, meta *invocation.Metadata) *invocation.Result {
	if action.InputSchema == nil {
		return nil
	}

	if params == nil {
		params = map[string]any{}
	}

	outcome, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(action.InputSchema),
		gojsonschema.NewGoLoader(params),
	)
	if err != nil {
		return g.internal(fmt.Errorf("input schema for action %q: %w", action.Slug, err), meta)
	}

	if outcome.Valid() {
		return nil
	}

	violations := make([]string, 0, len(outcome.Errors()))
	for _, issue := range outcome.Errors() {
		violations = append(violations, issue.String())
	}

	return invocation.Fail(
		invocation.NewError(invocation.CodeInvalidInput, "parameters do not match the action input schema").
			WithDetails(map[string]any{"violations": violations}),
		*meta,
	)
}

type resolvedRequest struct {
	path    string
	headers map[string]string
	body    string
}

func (g *Gateway) resolveTemplates(ctx context.Context, tenantID string, action *models.Action, params map[string]any, opts Options, meta *invocation.Metadata) (*resolvedRequest, *invocation.Result) {
	// Caller parameters feed templates as ad hoc overrides: ${user_id}
	// resolves to params["user_id"] ahead of any stored variable.
	requestVariables := make(map[string]any, len(opts.RequestVariables)+len(params))
	for key, value := range opts.RequestVariables {
		requestVariables[key] = value
	}

	for key, value := range params {
		requestVariables[key] = value
	}

	headers := make(map[string]any, len(action.Headers))
	for name, value := range action.Headers {
		headers[name] = value
	}

	// Only action-owned templates resolve strictly. Params are caller
	// data, not templates: a value containing literal ${...} text passes
	// through to the upstream unchanged.
	template := map[string]any{
		"path":    action.Path,
		"headers": headers,
		"body":    action.Body,
	}

	result, err := g.resolver.Resolve(ctx, template, variables.Options{
		TenantID:         tenantID,
		ConnectionID:     opts.ConnectionID,
		Environment:      opts.Environment,
		Runtime:          opts.Runtime,
		RequestVariables: requestVariables,
		StepOutputs:      opts.StepOutputs,
		ThrowOnMissing:   true,
	})
	if err != nil {
		var resolution *variables.ResolutionError
		if errors.As(err, &resolution) {
			return nil, invocation.Fail(
				invocation.NewError(invocation.CodeTemplateResolutionError, "unresolved template variables").
					WithDetails(map[string]any{"missing": resolution.MissingPaths()}),
				*meta,
			)
		}

		return nil, g.internal(err, meta)
	}

	tree, ok := result.Resolved.(map[string]any)
	if !ok {
		return nil, g.internal(fmt.Errorf("unexpected template resolution shape %T", result.Resolved), meta)
	}

	meta.ResolvedInputs = params

	resolved := &resolvedRequest{headers: make(map[string]string)}
	resolved.path, _ = tree["path"].(string)
	resolved.body, _ = tree["body"].(string)

	if resolvedHeaders, ok := tree["headers"].(map[string]any); ok {
		for name, value := range resolvedHeaders {
			resolved.headers[name] = fmt.Sprintf("%v", value)
		}
	}

	return resolved, nil
}

// upstreamError marks a completed HTTP exchange with a non-2xx status.
type upstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("upstream status %d", e.StatusCode)
}

// Snippet bounds the response body carried into error details.
func (e *upstreamError) Snippet() string {
	const limit = 512

	if len(e.Body) > limit {
		return string(e.Body[:limit])
	}

	return string(e.Body)
}

func retryableCall(err error) bool {
	var upstream *upstreamError
	if errors.As(err, &upstream) {
		return upstream.StatusCode >= 500
	}

	if errors.Is(err, context.Canceled) ||
		errors.Is(err, auth.ErrIncompleteCredential) ||
		errors.Is(err, auth.ErrUnsupportedScheme) {
		return false
	}

	// Network-level failures and timeouts are worth another attempt.
	return true
}

func (g *Gateway) call(ctx context.Context, integration *models.Integration, action *models.Action, credential *models.Credential, resolved *resolvedRequest, meta *invocation.Metadata) (any, error) {
	signer, err := auth.ForScheme(credential.Scheme)
	if err != nil {
		return nil, err
	}

	timeout := defaultActionTimeout
	if action.TimeoutSeconds > 0 {
		timeout = time.Duration(action.TimeoutSeconds) * time.Second
	}

	url := strings.TrimSuffix(integration.BaseURL, "/") + "/" + strings.TrimPrefix(resolved.path, "/")

	var data any

	attempts, err := resilience.Retry(ctx, g.retry, retryableCall, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var bodyReader io.Reader
		if resolved.body != "" {
			bodyReader = bytes.NewBufferString(resolved.body)
		}

		req, err := http.NewRequestWithContext(attemptCtx, action.Method, url, bodyReader)
		if err != nil {
			return err
		}

		if resolved.body != "" && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		for name, value := range resolved.headers {
			req.Header.Set(name, value)
		}

		if err := signer.Sign(req, credential); err != nil {
			return err
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return err
		}

		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &upstreamError{StatusCode: resp.StatusCode, Body: body}
		}

		data = parseBody(body)

		return nil
	})

	meta.Attempts = attempts

	if err != nil {
		g.logger.Warn("Action invocation failed",
			"integration", integration.Slug,
			"action", action.Slug,
			"attempts", attempts,
			"error", err,
		)

		return nil, err
	}

	return data, nil
}

func parseBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body)
	}

	return data
}

func (g *Gateway) publishRequestLog(tenantID, integrationSlug, actionSlug string, opts Options, result *invocation.Result, meta *invocation.Metadata) {
	if g.publisher == nil {
		return
	}

	event := events.ActionInvoked{
		BaseEvent: events.BaseEvent{
			ID:        "evt-" + uuid.New().String(),
			Type:      events.ActionInvokedEvent,
			Timestamp: time.Now().UTC(),
			TenantID:  tenantID,
		},
		RequestID:       meta.RequestID,
		IntegrationSlug: integrationSlug,
		ActionSlug:      actionSlug,
		ConnectionID:    opts.ConnectionID,
		Success:         result.Success,
		Attempts:        meta.Attempts,
		LatencyMS:       meta.LatencyMS,
	}

	if result.Err != nil {
		event.ErrorCode = string(result.Err.Code)

		if status, ok := result.Err.Details["status_code"].(int); ok {
			event.StatusCode = status
		}
	}

	// Fire and forget: request logging never blocks or fails an invocation.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := g.publisher.Publish(ctx, tenantID, event); err != nil {
			g.logger.Warn("Request log publish failed", "error", err)
		}
	}()
}

func (g *Gateway) fail(code invocation.Code, message string, meta *invocation.Metadata) *invocation.Result {
	return invocation.Fail(invocation.NewError(code, message), *meta)
}

func (g *Gateway) internal(err error, meta *invocation.Metadata) *invocation.Result {
	g.logger.Error("Internal gateway error", "error", err)

	return invocation.Fail(
		invocation.NewError(invocation.CodeInternalError, "internal error").WithCause(err),
		*meta,
	)
}
