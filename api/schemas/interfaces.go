package schemas

import "context"

// -- Capability Interfaces --
//
// The engine depends only on these narrow contracts; concrete backends are
// selected at startup by configuration.

// GenerationRequest is the input to an LLM client call.
type GenerationRequest struct {
	SystemPrompt    string
	UserPrompt      string
	Temperature     float32
	ForceJSONFormat bool
}

// LLMClient is the prompt-in, text-out capability. A transport or provider
// failure is returned as an error; a reply that arrives but cannot be parsed
// into a directive is NOT an error at this layer.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// BrowserSession is an automation-capable browser owned exclusively by one
// engine for the lifetime of its task. Execute runs exactly one action and
// returns the resulting observation; Observe captures the current state
// without acting.
type BrowserSession interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Execute(ctx context.Context, action BrowserAction) (Observation, error)
	Observe(ctx context.Context) (Observation, error)
}

// Notifier delivers events about engine progress. Implementations must not
// block indefinitely; callers swallow (and log) any returned error.
type Notifier interface {
	Notify(event NotificationEvent) error
}

// UserPortal coordinates manual user steps. Interventions are keyed by task
// id: tasks wait concurrently and each finish signal releases exactly one of
// them. Publish makes the intervention visible to humans and returns the
// location they should visit; AwaitFinished blocks until the task's single
// idempotent "finished" signal arrives or ctx ends.
type UserPortal interface {
	Publish(taskID string, request InterventionRequest) (portalURL string, err error)
	AwaitFinished(ctx context.Context, taskID string) error
	// Clear removes the task's intervention so stale pages stop rendering it.
	Clear(taskID string)
}
