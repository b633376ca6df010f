package models

// RoutingMode selects how a composite tool picks its operation.
type RoutingMode string

const (
	RoutingModeRules RoutingMode = "rules"
	RoutingModeAgent RoutingMode = "agent"
)

// ConditionType is the closed set of routing rule comparisons.
type ConditionType string

const (
	ConditionContains   ConditionType = "contains"
	ConditionEquals     ConditionType = "equals"
	ConditionMatches    ConditionType = "matches"
	ConditionStartsWith ConditionType = "starts_with"
	ConditionEndsWith   ConditionType = "ends_with"
)

// RoutingRule picks an operation when its condition holds against the caller
// parameters. Rules are evaluated in ascending Priority order, first match wins.
type RoutingRule struct {
	OperationSlug  string        `json:"operation_slug"`
	ConditionType  ConditionType `json:"condition_type"`
	ConditionField string        `json:"condition_field"`
	ConditionValue string        `json:"condition_value"`
	CaseSensitive  bool          `json:"case_sensitive"`
	Priority       int           `json:"priority"`
}

// Operation binds one action to a composite tool under a routable slug.
type Operation struct {
	Slug             string         `json:"slug"`
	Description      string         `json:"description,omitempty"`
	IntegrationSlug  string         `json:"integration_slug"`
	ActionSlug       string         `json:"action_slug"`
	ParameterSchema  map[string]any `json:"parameter_schema,omitempty"`
	ParameterMapping map[string]any `json:"parameter_mapping,omitempty"`
	Priority         int            `json:"priority"`
}

// CompositeTool is a single externally-invokable tool that routes each call
// to one of its operations, by ordered rules or by an LLM decision.
type CompositeTool struct {
	ID               string        `json:"id"`
	TenantID         string        `json:"tenant_id"`
	Slug             string        `json:"slug"`
	Name             string        `json:"name"`
	Description      string        `json:"description,omitempty"`
	Mode             RoutingMode   `json:"mode"`
	Operations       []Operation   `json:"operations"`
	Rules            []RoutingRule `json:"rules,omitempty"`
	DefaultOperation string        `json:"default_operation,omitempty"`
	AgentTimeoutSecs int           `json:"agent_timeout_seconds,omitempty"`
	Enabled          bool          `json:"enabled"`
}

// OperationBySlug returns the operation registered under slug, if any.
func (t *CompositeTool) OperationBySlug(slug string) (Operation, bool) {
	for _, op := range t.Operations {
		if op.Slug == slug {
			return op, true
		}
	}

	return Operation{}, false
}
