package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDecision_TwoLineFormat(t *testing.T) {
	slug, reason := parseDecision("operation: create_user\nreason: The caller wants to add a user.")

	assert.Equal(t, "create_user", slug)
	assert.Equal(t, "The caller wants to add a user.", reason)
}

func TestParseDecision_BareSlug(t *testing.T) {
	slug, reason := parseDecision("`create_user`")

	assert.Equal(t, "create_user", slug)
	assert.Empty(t, reason)
}

func TestParseDecision_Empty(t *testing.T) {
	slug, _ := parseDecision("")

	assert.Empty(t, slug)
}

func TestBuildRoutingPrompt_ListsOperations(t *testing.T) {
	prompt := buildRoutingPrompt(DecisionRequest{
		ToolName: "user-manager",
		Operations: []OperationChoice{
			{Slug: "create_user", Description: "Create a new user"},
			{Slug: "delete_user", Description: "Remove a user"},
		},
		Params: map[string]any{"name": "Alice"},
	})

	assert.Contains(t, prompt, "create_user: Create a new user")
	assert.Contains(t, prompt, "delete_user: Remove a user")
	assert.Contains(t, prompt, `"name":"Alice"`)
}
