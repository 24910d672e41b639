package schemas

// -- Directive Schemas --

// DirectiveKind discriminates the typed instruction parsed from an LLM reply.
type DirectiveKind string

const (
	DirectiveContinue    DirectiveKind = "continue"
	DirectiveWait        DirectiveKind = "wait"
	DirectiveWaitForUser DirectiveKind = "wait_for_user"
	DirectiveFinished    DirectiveKind = "finished"
	DirectiveFailed      DirectiveKind = "failed"
)

// ActionType enumerates the browser commands the engine can execute.
type ActionType string

const (
	ActionNavigate        ActionType = "navigate"
	ActionClick           ActionType = "click"
	ActionTypeText        ActionType = "type_text"
	ActionScroll          ActionType = "scroll"
	ActionWaitForSelector ActionType = "wait_for_selector"
	ActionExtractText     ActionType = "extract_text"
	ActionScreenshot      ActionType = "screenshot"
	ActionWait            ActionType = "wait"
)

// KnownActionType reports whether t is a member of the action vocabulary.
func KnownActionType(t ActionType) bool {
	switch t {
	case ActionNavigate, ActionClick, ActionTypeText, ActionScroll,
		ActionWaitForSelector, ActionExtractText, ActionScreenshot, ActionWait:
		return true
	}
	return false
}

// BrowserAction is a single instruction for the browser session. Target is a
// CSS selector for element actions and a URL for navigate. Order within a
// directive is execution order; actions are never reordered or parallelized.
type BrowserAction struct {
	Type           ActionType `json:"type"`
	Target         string     `json:"target,omitempty"`
	Value          string     `json:"value,omitempty"`
	TimeoutSeconds float64    `json:"timeout_seconds,omitempty"`
	ScrollBy       int        `json:"scroll_by,omitempty"`
	Seconds        float64    `json:"seconds,omitempty"`
}

// InterventionRequest carries the information shown to a human asked to take
// over the browser.
type InterventionRequest struct {
	Reason       string            `json:"reason"`
	Instructions string            `json:"instructions,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Directive is the typed instruction the LLM reply is parsed into. Exactly
// one kind is set; the kind-specific fields below it are meaningful only for
// that kind. MemoryToWrite and Message may accompany any kind.
type Directive struct {
	Kind DirectiveKind `json:"kind"`

	Actions     []BrowserAction      `json:"actions,omitempty"`      // continue
	WaitSeconds float64              `json:"wait_seconds,omitempty"` // wait
	UserRequest *InterventionRequest `json:"user_request,omitempty"` // wait_for_user
	Summary     string               `json:"summary,omitempty"`      // finished
	Reason      string               `json:"reason,omitempty"`       // failed

	MemoryToWrite []string `json:"memory_to_write,omitempty"`
	Message       string   `json:"message,omitempty"`
}
