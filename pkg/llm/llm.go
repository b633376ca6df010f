// Package llm abstracts the model used for agent-driven routing decisions.
// The router depends on the Model interface only; the OpenAI adapter is the
// production implementation.
package llm

import (
	"context"
	"errors"
)

// ErrNoDecision is returned when the model produced no usable answer.
var ErrNoDecision = errors.New("model returned no decision")

// OperationChoice is one candidate operation presented to the model.
type OperationChoice struct {
	Slug        string
	Description string
}

// DecisionRequest asks the model to pick exactly one operation for the
// given caller parameters.
type DecisionRequest struct {
	ToolName    string
	ToolPurpose string
	Operations  []OperationChoice
	Params      map[string]any
}

// Decision is the model's routing choice plus accounting data.
type Decision struct {
	Operation        string
	Reason           string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// TotalTokens sums prompt and completion tokens.
func (d *Decision) TotalTokens() int {
	return d.PromptTokens + d.CompletionTokens
}

// Model decides which operation a composite tool should invoke.
type Model interface {
	ChooseOperation(ctx context.Context, req DecisionRequest) (*Decision, error)
	Name() string
}
