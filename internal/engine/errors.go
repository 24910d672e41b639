// internal/engine/errors.go
package engine

import (
	"fmt"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
)

// TransportError marks an LLM or browser communication failure. It is
// recoverable: the engine retries within its configured bound before failing
// the task.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ActionError reports the failure of one browser action inside a batch. The
// batch stops at the failing action; the remaining actions are never
// attempted.
type ActionError struct {
	Index int
	Type  schemas.ActionType
	Err   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %d (%s) failed: %v", e.Index, e.Type, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// HandoffError reports that a human hand-off could not complete, for example
// because the wait timed out. Notification delivery failures are not
// HandoffErrors; they are logged and swallowed.
type HandoffError struct {
	Reason string
	Err    error
}

func (e *HandoffError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handoff failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("handoff failed: %s", e.Reason)
}

func (e *HandoffError) Unwrap() error { return e.Err }
