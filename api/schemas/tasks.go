package schemas

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// -- Task Schemas --

// TaskStatus is the lifecycle state of an executor task.
type TaskStatus string

const (
	StatusPending        TaskStatus = "pending"
	StatusRunning        TaskStatus = "running"
	StatusWaitingForUser TaskStatus = "waiting_for_user"
	StatusFinished       TaskStatus = "finished"
	StatusFailed         TaskStatus = "failed"
)

// Terminal reports whether a task in this status will never change again.
func (s TaskStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Task is the unit of work driven by a single engine instance. Description
// and Goal are immutable after submission; Status is mutated only by the
// engine that owns the task.
type Task struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Goal        string     `json:"goal,omitempty"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	// Error holds the terminal reason when Status is failed.
	Error string `json:"error,omitempty"`
}

// EntryRole classifies where a memory entry came from.
type EntryRole string

const (
	RoleObservation  EntryRole = "observation"
	RoleLLMReply     EntryRole = "llm_reply"
	RoleActionResult EntryRole = "action_result"
)

// MemoryEntry is one item in the bounded task memory log. Entries are append
// only; corrections show up as new entries rather than edits.
type MemoryEntry struct {
	Sequence  uint64    `json:"sequence"`
	Role      EntryRole `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Observation is a snapshot of browser state fed back into the next prompt.
type Observation struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	PageText   string    `json:"page_text,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// ExecutorStatus is a read-only projection of an engine's current state,
// recomputed on every query and never stored independently.
type ExecutorStatus struct {
	TaskID            string     `json:"task_id"`
	Status            TaskStatus `json:"status"`
	LastDirectiveKind string     `json:"last_directive_kind,omitempty"`
	MemoryEntryCount  int        `json:"memory_entry_count"`
	PortalURL         string     `json:"portal_url,omitempty"`
	VNCAddress        string     `json:"vnc_address,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// VNCInfo describes how to reach the remotely displayed browser. It is
// deployment plumbing only; the engine never changes behavior based on it.
type VNCInfo struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Display string `json:"display,omitempty"`
}

// Address renders the info as a host:port dial string.
func (v VNCInfo) Address() string {
	if v.Host == "" || v.Port == 0 {
		return ""
	}
	return net.JoinHostPort(v.Host, strconv.Itoa(v.Port))
}

// String implements fmt.Stringer for log output.
func (v VNCInfo) String() string {
	if v.Display != "" {
		return fmt.Sprintf("%s (display %s)", v.Address(), v.Display)
	}
	return v.Address()
}
