package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
)

func TestPromptIncludesTaskMemoryAndState(t *testing.T) {
	var pb PromptBuilder
	prompt := pb.Build(
		schemas.Task{Description: "buy a ticket", Goal: "confirmation page shown"},
		schemas.Observation{URL: "https://tickets.test/checkout", Title: "Checkout"},
		[]schemas.MemoryEntry{
			{Role: schemas.RoleObservation, Content: "landed on the home page"},
			{Role: schemas.RoleLLMReply, Content: "Opening checkout"},
		},
	)

	assert.Contains(t, prompt, `Task: "buy a ticket"`)
	assert.Contains(t, prompt, `"confirmation page shown"`)
	assert.Contains(t, prompt, "- [observation] landed on the home page")
	assert.Contains(t, prompt, "- [llm_reply] Opening checkout")
	assert.Contains(t, prompt, "Current URL: https://tickets.test/checkout")
	assert.Contains(t, prompt, "Page title: Checkout")
}

func TestPromptEmptyMemoryAndUnknownState(t *testing.T) {
	var pb PromptBuilder
	prompt := pb.Build(schemas.Task{Description: "x"}, schemas.Observation{}, nil)

	assert.Contains(t, prompt, `Additional context or success criteria: "None provided"`)
	assert.Contains(t, prompt, "(empty)")
	assert.Contains(t, prompt, "Current URL: unknown")
	assert.NotContains(t, prompt, "Visible page text")
}
