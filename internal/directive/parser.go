// File: internal/directive/parser.go
package directive

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
)

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
)

// ParseError describes why an LLM reply could not be decoded into a
// directive. Field names the offending part of the payload. A ParseError is
// not fatal by itself; the engine decides retry policy.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("directive parse error: field %q: %s", e.Field, e.Reason)
}

// wireDirective matches the JSON schema the planner is instructed to emit.
type wireDirective struct {
	Status        string                  `json:"status"`
	Message       string                  `json:"message"`
	Actions       []schemas.BrowserAction `json:"actions"`
	WaitSeconds   *float64                `json:"wait_seconds"`
	UserRequest   *wireUserRequest        `json:"user_request"`
	MemoryToWrite []string                `json:"memory_to_write"`
	Summary       string                  `json:"summary"`
	FailureReason string                  `json:"failure_reason"`
}

type wireUserRequest struct {
	Reason       string            `json:"reason"`
	Instructions string            `json:"instructions"`
	Metadata     map[string]string `json:"metadata"`
}

// Parse decodes raw LLM output into exactly one Directive variant. Parsing is
// all or nothing: any malformed field yields a ParseError and a zero
// Directive, never a partial one.
func Parse(text string) (schemas.Directive, error) {
	payload, err := extractJSONObject(text)
	if err != nil {
		return schemas.Directive{}, err
	}

	var wire wireDirective
	if err := json.UnmarshalFromString(payload, &wire); err != nil {
		return schemas.Directive{}, &ParseError{Field: "json", Reason: fmt.Sprintf("invalid JSON object: %v", err)}
	}

	kind, err := directiveKind(wire.Status)
	if err != nil {
		return schemas.Directive{}, err
	}

	d := schemas.Directive{
		Kind:          kind,
		Message:       strings.TrimSpace(wire.Message),
		MemoryToWrite: wire.MemoryToWrite,
	}

	switch kind {
	case schemas.DirectiveContinue:
		actions, err := validateActions(wire.Actions)
		if err != nil {
			return schemas.Directive{}, err
		}
		d.Actions = actions

	case schemas.DirectiveWait:
		if wire.WaitSeconds == nil {
			return schemas.Directive{}, &ParseError{Field: "wait_seconds", Reason: "wait directive requires wait_seconds"}
		}
		if *wire.WaitSeconds < 0 {
			return schemas.Directive{}, &ParseError{Field: "wait_seconds", Reason: fmt.Sprintf("must be non-negative, got %v", *wire.WaitSeconds)}
		}
		d.WaitSeconds = *wire.WaitSeconds

	case schemas.DirectiveWaitForUser:
		if wire.UserRequest != nil {
			if strings.TrimSpace(wire.UserRequest.Reason) == "" {
				return schemas.Directive{}, &ParseError{Field: "user_request.reason", Reason: "must not be empty when user_request is present"}
			}
			d.UserRequest = &schemas.InterventionRequest{
				Reason:       wire.UserRequest.Reason,
				Instructions: wire.UserRequest.Instructions,
				Metadata:     wire.UserRequest.Metadata,
			}
		}

	case schemas.DirectiveFinished:
		d.Summary = firstNonEmpty(wire.Summary, wire.Message, "Task completed")

	case schemas.DirectiveFailed:
		d.Reason = firstNonEmpty(wire.FailureReason, wire.Message, "Task failed")
	}

	return d, nil
}

// directiveKind maps the wire status discriminator onto a DirectiveKind.
func directiveKind(status string) (schemas.DirectiveKind, error) {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		return "", &ParseError{Field: "status", Reason: "missing discriminator"}
	}
	switch schemas.DirectiveKind(s) {
	case schemas.DirectiveContinue, schemas.DirectiveWait, schemas.DirectiveWaitForUser,
		schemas.DirectiveFinished, schemas.DirectiveFailed:
		return schemas.DirectiveKind(s), nil
	}
	return "", &ParseError{Field: "status", Reason: fmt.Sprintf("unknown value %q", status)}
}

// validateActions vets each action of a continue directive against the known
// vocabulary and per-type required fields.
func validateActions(actions []schemas.BrowserAction) ([]schemas.BrowserAction, error) {
	for i, action := range actions {
		if !schemas.KnownActionType(action.Type) {
			return nil, &ParseError{
				Field:  fmt.Sprintf("actions[%d].type", i),
				Reason: fmt.Sprintf("unknown action type %q", action.Type),
			}
		}
		switch action.Type {
		case schemas.ActionNavigate:
			if action.Target == "" {
				return nil, &ParseError{Field: fmt.Sprintf("actions[%d].target", i), Reason: "navigate requires a URL"}
			}
		case schemas.ActionClick, schemas.ActionWaitForSelector, schemas.ActionExtractText:
			if action.Target == "" {
				return nil, &ParseError{Field: fmt.Sprintf("actions[%d].target", i), Reason: fmt.Sprintf("%s requires a selector", action.Type)}
			}
		case schemas.ActionTypeText:
			if action.Target == "" {
				return nil, &ParseError{Field: fmt.Sprintf("actions[%d].target", i), Reason: "type_text requires a selector"}
			}
			if action.Value == "" {
				return nil, &ParseError{Field: fmt.Sprintf("actions[%d].value", i), Reason: "type_text requires text"}
			}
		case schemas.ActionWait:
			if action.Seconds < 0 {
				return nil, &ParseError{Field: fmt.Sprintf("actions[%d].seconds", i), Reason: "must be non-negative"}
			}
		}
		if action.TimeoutSeconds < 0 {
			return nil, &ParseError{Field: fmt.Sprintf("actions[%d].timeout_seconds", i), Reason: "must be non-negative"}
		}
	}
	return actions, nil
}

// extractJSONObject pulls the first JSON object out of the reply, stripping a
// markdown code fence or surrounding conversational text when present.
func extractJSONObject(text string) (string, error) {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return "", &ParseError{Field: "json", Reason: "empty reply"}
	}

	if strings.HasPrefix(cleaned, "```") {
		if matches := jsonObjectRegex.FindStringSubmatch(cleaned); len(matches) > 1 {
			return matches[1], nil
		}
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end <= start {
		return "", &ParseError{Field: "json", Reason: "no JSON object found in reply"}
	}
	return cleaned[start : end+1], nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
