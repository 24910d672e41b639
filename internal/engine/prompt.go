// internal/engine/prompt.go
package engine

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
)

// systemPrompt carries the static operating contract; the per-step context
// travels in the user prompt.
const systemPrompt = `You are an automation agent operating a web browser to complete a task.
You observe the browser state and decide the next step.

Respond with a single JSON object containing the keys:
status, message, actions, wait_seconds, user_request, memory_to_write, failure_reason.

Allowed status values: continue, wait_for_user, wait, finished, failed.
The actions field must be a list where each item follows this schema:
{"type": "navigate", "target": "https://example.com"}
{"type": "click", "target": "#submit"}
{"type": "type_text", "target": "input[name=email]", "value": "user@example.com"}
{"type": "scroll", "scroll_by": 600}
{"type": "wait_for_selector", "target": "#result", "timeout_seconds": 10}
{"type": "extract_text", "target": "#price"}
{"type": "screenshot"}
{"type": "wait", "seconds": 5}

If you need a human to complete a step (CAPTCHA, 2FA, login), use status
"wait_for_user" and populate user_request with an object containing "reason"
and "instructions". Use memory_to_write for facts worth remembering across
steps. Provide only valid JSON with double quotes and no surrounding prose.`

// reformatInstruction is appended to the user prompt when the previous reply
// could not be parsed.
const reformatInstruction = `

IMPORTANT: Your previous reply was not valid JSON matching the required
schema. Respond again with ONLY the JSON object, no markdown fences, no
commentary.`

// PromptBuilder assembles the per-step user prompt from task context, memory
// and the latest observation.
type PromptBuilder struct{}

// Build renders the user prompt for one planning step.
func (PromptBuilder) Build(task schemas.Task, obs schemas.Observation, memory []schemas.MemoryEntry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task: %q\n", task.Description)
	goal := task.Goal
	if goal == "" {
		goal = "None provided"
	}
	fmt.Fprintf(&b, "Additional context or success criteria: %q\n", goal)

	b.WriteString("\nMemory entries (oldest first):\n")
	if len(memory) == 0 {
		b.WriteString("(empty)\n")
	} else {
		for _, entry := range memory {
			fmt.Fprintf(&b, "- [%s] %s\n", entry.Role, entry.Content)
		}
	}

	b.WriteString("\nBrowser state:\n")
	fmt.Fprintf(&b, "Current URL: %s\n", orUnknown(obs.URL))
	fmt.Fprintf(&b, "Page title: %s\n", orUnknown(obs.Title))
	if obs.PageText != "" {
		fmt.Fprintf(&b, "Visible page text:\n%s\n", obs.PageText)
	}

	b.WriteString("\nDecide the next step and reply with the JSON object.")
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
