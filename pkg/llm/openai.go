package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
)

// OpenAIOptions configure the OpenAI routing model.
type OpenAIOptions struct {
	Model string

	// Cost per 1000 tokens, used to account routing spend against
	// pipeline budgets.
	PromptCostPer1K     float64
	CompletionCostPer1K float64
}

// OpenAIModel implements Model on the OpenAI Chat Completions API.
type OpenAIModel struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAIModel creates a routing model from an existing client.
func NewOpenAIModel(client *openai.Client, optFns ...func(o *OpenAIOptions)) *OpenAIModel {
	opts := OpenAIOptions{
		Model:               openai.ChatModelGPT4oMini,
		PromptCostPer1K:     0.00015,
		CompletionCostPer1K: 0.0006,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &OpenAIModel{client: client, opts: opts}
}

// Name implements Model.
func (m *OpenAIModel) Name() string { return m.opts.Model }

// ChooseOperation implements Model. The caller owns the timeout via ctx.
func (m *OpenAIModel) ChooseOperation(ctx context.Context, req DecisionRequest) (*Decision, error) {
	resp, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: m.opts.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(routingInstructions),
			openai.UserMessage(buildRoutingPrompt(req)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai routing call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, ErrNoDecision
	}

	slug, reason := parseDecision(resp.Choices[0].Message.Content)
	if slug == "" {
		return nil, ErrNoDecision
	}

	decision := &Decision{
		Operation:        slug,
		Reason:           reason,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}
	decision.CostUSD = float64(decision.PromptTokens)/1000*m.opts.PromptCostPer1K +
		float64(decision.CompletionTokens)/1000*m.opts.CompletionCostPer1K

	return decision, nil
}

const routingInstructions = `You route API tool calls. Given a tool, its operations and the caller's parameters, answer with exactly two lines:
operation: <slug>
reason: <one short sentence>
Answer with one of the listed operation slugs only. Do not invent slugs.`

func buildRoutingPrompt(req DecisionRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Tool: %s\n", req.ToolName)

	if req.ToolPurpose != "" {
		fmt.Fprintf(&b, "Purpose: %s\n", req.ToolPurpose)
	}

	b.WriteString("Operations:\n")

	for _, op := range req.Operations {
		fmt.Fprintf(&b, "- %s: %s\n", op.Slug, op.Description)
	}

	params, err := json.Marshal(req.Params)
	if err != nil {
		params = []byte("{}")
	}

	fmt.Fprintf(&b, "Caller parameters: %s\n", params)

	return b.String()
}

// parseDecision extracts the slug and reason from the two-line answer
// format. Tolerates a bare slug on the first line.
func parseDecision(content string) (slug, reason string) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(strings.ToLower(line), "operation:"):
			slug = strings.TrimSpace(line[len("operation:"):])
		case strings.HasPrefix(strings.ToLower(line), "reason:"):
			reason = strings.TrimSpace(line[len("reason:"):])
		case slug == "":
			slug = strings.Trim(line, "`\" ")
		}
	}

	return slug, reason
}
