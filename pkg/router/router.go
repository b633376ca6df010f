// Package router invokes composite tools: it selects one operation per call
// through ordered rules or an LLM decision, maps the caller parameters onto
// the operation's contract and delegates the actual call to the gateway.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/switchyardhq/switchyard/pkg/gateway"
	"github.com/switchyardhq/switchyard/pkg/invocation"
	"github.com/switchyardhq/switchyard/pkg/llm"
	"github.com/switchyardhq/switchyard/pkg/models"
	"github.com/switchyardhq/switchyard/pkg/persistence"
	"github.com/switchyardhq/switchyard/pkg/variables"
)

const defaultAgentTimeout = 10 * time.Second

// ActionInvoker is the gateway contract the router depends on.
type ActionInvoker interface {
	Invoke(ctx context.Context, tenantID, integrationSlug, actionSlug string, params map[string]any, opts gateway.Options) *invocation.Result
}

// Router resolves composite tool calls to single-action invocations.
type Router struct {
	tools    persistence.CompositeToolRepository
	invoker  ActionInvoker
	resolver *variables.Resolver
	model    llm.Model
	logger   *slog.Logger
}

// New creates a router. A nil model disables agent-mode tools (they fail
// with ROUTING_FAILED).
func New(tools persistence.CompositeToolRepository, invoker ActionInvoker, resolver *variables.Resolver, model llm.Model, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		tools:    tools,
		invoker:  invoker,
		resolver: resolver,
		model:    model,
		logger:   logger.With("module", "router"),
	}
}

// Invoke routes one composite tool call and executes the chosen operation.
// Routing metadata (operation, reason, token usage) is attached to the
// result whether the downstream call succeeds or not.
func (r *Router) Invoke(ctx context.Context, tenantID, toolSlug string, params map[string]any, opts gateway.Options) *invocation.Result {
	if opts.Runtime == nil {
		opts.Runtime = models.NewRuntimeContext(opts.Environment)
	}

	opts.Runtime.Normalize()

	meta := invocation.Metadata{RequestID: opts.Runtime.Request.ID}

	tool, err := r.tools.CompositeToolBySlug(ctx, tenantID, toolSlug)
	if err != nil {
		if persistence.IsNotFound(err) {
			return invocation.Fail(
				invocation.NewError(invocation.CodeNotFound, fmt.Sprintf("composite tool %q not found", toolSlug)),
				meta,
			)
		}

		r.logger.Error("Composite tool lookup failed", "tool", toolSlug, "error", err)

		return invocation.Fail(
			invocation.NewError(invocation.CodeInternalError, "internal error").WithCause(err),
			meta,
		)
	}

	if !tool.Enabled {
		return invocation.Fail(
			invocation.NewError(invocation.CodeCompositeToolDisabled, fmt.Sprintf("composite tool %q is disabled", toolSlug)),
			meta,
		)
	}

	routing, routeErr := r.route(ctx, tool, params, &meta)
	if routeErr != nil {
		return invocation.Fail(routeErr, meta)
	}

	meta.Routing = routing

	operation, ok := tool.OperationBySlug(routing.Operation)
	if !ok {
		// The model answered with a slug outside the operation set.
		return invocation.Fail(
			invocation.NewError(invocation.CodeRoutingFailed, fmt.Sprintf("routing chose unknown operation %q", routing.Operation)),
			meta,
		)
	}

	mapped, mapErr := r.mapParameters(ctx, tenantID, operation, params, opts)
	if mapErr != nil {
		return invocation.Fail(mapErr, meta)
	}

	result := r.invoker.Invoke(ctx, tenantID, operation.IntegrationSlug, operation.ActionSlug, mapped, opts)

	// Preserve routing context over the gateway's metadata.
	result.Metadata.Routing = routing
	result.Metadata.Tokens = meta.Tokens
	result.Metadata.CostUSD = meta.CostUSD

	if result.Metadata.RequestID == "" {
		result.Metadata.RequestID = meta.RequestID
	}

	return result
}

func (r *Router) route(ctx context.Context, tool *models.CompositeTool, params map[string]any, meta *invocation.Metadata) (*invocation.RoutingInfo, *invocation.Error) {
	switch tool.Mode {
	case models.RoutingModeAgent:
		return r.routeByAgent(ctx, tool, params, meta)
	default:
		return r.routeByRules(tool, params)
	}
}

// routeByRules evaluates the tool's rules in ascending priority order and
// returns the first match, falling back to the default operation.
func (r *Router) routeByRules(tool *models.CompositeTool, params map[string]any) (*invocation.RoutingInfo, *invocation.Error) {
	rules := make([]models.RoutingRule, len(tool.Rules))
	copy(rules, tool.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	for _, rule := range rules {
		matched, err := evaluateRule(rule, params)
		if err != nil {
			return nil, invocation.NewError(invocation.CodeRoutingFailed, err.Error())
		}

		if matched {
			return &invocation.RoutingInfo{
				Operation: rule.OperationSlug,
				Reason:    fmt.Sprintf("rule %s(%s) matched", rule.ConditionType, rule.ConditionField),
			}, nil
		}
	}

	if tool.DefaultOperation != "" {
		return &invocation.RoutingInfo{
			Operation: tool.DefaultOperation,
			Reason:    "no rule matched, default operation",
		}, nil
	}

	return nil, invocation.NewError(invocation.CodeRoutingFailed,
		fmt.Sprintf("no routing rule matched for tool %q and no default operation is set", tool.Slug))
}

func (r *Router) routeByAgent(ctx context.Context, tool *models.CompositeTool, params map[string]any, meta *invocation.Metadata) (*invocation.RoutingInfo, *invocation.Error) {
	if r.model == nil {
		return nil, invocation.NewError(invocation.CodeRoutingFailed, "agent routing is not configured")
	}

	choices := make([]llm.OperationChoice, 0, len(tool.Operations))
	for _, op := range tool.Operations {
		choices = append(choices, llm.OperationChoice{Slug: op.Slug, Description: op.Description})
	}

	timeout := defaultAgentTimeout
	if tool.AgentTimeoutSecs > 0 {
		timeout = time.Duration(tool.AgentTimeoutSecs) * time.Second
	}

	agentCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	decision, err := r.model.ChooseOperation(agentCtx, llm.DecisionRequest{
		ToolName:    tool.Name,
		ToolPurpose: tool.Description,
		Operations:  choices,
		Params:      params,
	})
	if err != nil {
		r.logger.Warn("Agent routing failed", "tool", tool.Slug, "error", err)

		return nil, invocation.NewError(invocation.CodeRoutingFailed, "routing model produced no decision").WithCause(err)
	}

	meta.Tokens = decision.TotalTokens()
	meta.CostUSD = decision.CostUSD

	return &invocation.RoutingInfo{Operation: decision.Operation, Reason: decision.Reason}, nil
}

// mapParameters applies the operation's parameter mapping (a template over
// the caller params) and validates the outcome against the operation schema.
// Both failures surface as PARAMETER_MAPPING_FAILED before any network call.
func (r *Router) mapParameters(ctx context.Context, tenantID string, operation models.Operation, params map[string]any, opts gateway.Options) (map[string]any, *invocation.Error) {
	mapped := params

	if len(operation.ParameterMapping) > 0 {
		requestVariables := make(map[string]any, len(opts.RequestVariables)+len(params))
		for key, value := range opts.RequestVariables {
			requestVariables[key] = value
		}

		for key, value := range params {
			requestVariables[key] = value
		}

		result, err := r.resolver.Resolve(ctx, operation.ParameterMapping, variables.Options{
			TenantID:         tenantID,
			ConnectionID:     opts.ConnectionID,
			Environment:      opts.Environment,
			Runtime:          opts.Runtime,
			RequestVariables: requestVariables,
			StepOutputs:      opts.StepOutputs,
			ThrowOnMissing:   true,
		})
		if err != nil {
			return nil, invocation.NewError(invocation.CodeParameterMappingFailed,
				fmt.Sprintf("parameter mapping for operation %q failed", operation.Slug)).WithCause(err)
		}

		tree, ok := result.Resolved.(map[string]any)
		if !ok {
			return nil, invocation.NewError(invocation.CodeParameterMappingFailed,
				fmt.Sprintf("parameter mapping for operation %q must produce an object", operation.Slug))
		}

		mapped = tree
	}

	if operation.ParameterSchema != nil {
		if mapped == nil {
			mapped = map[string]any{}
		}

		outcome, err := gojsonschema.Validate(
			gojsonschema.NewGoLoader(operation.ParameterSchema),
			gojsonschema.NewGoLoader(mapped),
		)
		if err != nil {
			return nil, invocation.NewError(invocation.CodeParameterMappingFailed,
				fmt.Sprintf("parameter schema for operation %q is invalid", operation.Slug)).WithCause(err)
		}

		if !outcome.Valid() {
			violations := make([]string, 0, len(outcome.Errors()))
			for _, issue := range outcome.Errors() {
				violations = append(violations, issue.String())
			}

			return nil, invocation.NewError(invocation.CodeParameterMappingFailed,
				fmt.Sprintf("parameters do not satisfy operation %q", operation.Slug)).
				WithDetails(map[string]any{"violations": violations})
		}
	}

	return mapped, nil
}

// evaluateRule applies one condition against the params field it names.
// Missing or non-scalar fields never match.
func evaluateRule(rule models.RoutingRule, params map[string]any) (bool, error) {
	raw, ok := params[rule.ConditionField]
	if !ok || raw == nil {
		return false, nil
	}

	value := fmt.Sprintf("%v", raw)
	expected := rule.ConditionValue

	if !rule.CaseSensitive && rule.ConditionType != models.ConditionMatches {
		value = strings.ToLower(value)
		expected = strings.ToLower(expected)
	}

	switch rule.ConditionType {
	case models.ConditionContains:
		return strings.Contains(value, expected), nil
	case models.ConditionEquals:
		return value == expected, nil
	case models.ConditionStartsWith:
		return strings.HasPrefix(value, expected), nil
	case models.ConditionEndsWith:
		return strings.HasSuffix(value, expected), nil
	case models.ConditionMatches:
		pattern := rule.ConditionValue
		if !rule.CaseSensitive {
			pattern = "(?i)" + pattern
		}

		matched, err := regexp.MatchString(pattern, fmt.Sprintf("%v", raw))
		if err != nil {
			return false, fmt.Errorf("invalid routing pattern %q: %w", rule.ConditionValue, err)
		}

		return matched, nil
	default:
		return false, fmt.Errorf("unknown condition type %q", rule.ConditionType)
	}
}
