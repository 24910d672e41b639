package schemas

import "time"

// NotificationLevel grades the severity of an event.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
	LevelSuccess NotificationLevel = "success"
)

// Well-known notification kinds emitted by the engine.
const (
	EventTaskStarted        = "task_started"
	EventTaskFinished       = "task_finished"
	EventTaskFailed         = "task_failed"
	EventLLMStep            = "llm_step"
	EventUserActionRequired = "user_action_required"
	EventUserActionComplete = "user_action_complete"
	EventVNCReady           = "vnc_ready"
)

// NotificationEvent is the payload handed to a Notifier. Delivery is best
// effort: a notifier failure never aborts the engine.
type NotificationEvent struct {
	Kind      string            `json:"kind"`
	TaskID    string            `json:"task_id,omitempty"`
	Message   string            `json:"message"`
	Level     NotificationLevel `json:"level"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
