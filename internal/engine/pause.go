// internal/engine/pause.go
package engine

import (
	"sync"
	"time"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
)

// PauseRequest records a manual pause issued from outside the engine loop,
// typically by an admin through the executor API.
type PauseRequest struct {
	Request   schemas.InterventionRequest
	CreatedAt time.Time
}

// PauseController queues admin-initiated pause requests for the engine loop
// to consume at the top of its next iteration. At most one request is in
// flight at a time: pending until the loop picks it up, then active until the
// hand-off completes.
type PauseController struct {
	mu      sync.Mutex
	pending *PauseRequest
	active  *PauseRequest
}

func NewPauseController() *PauseController {
	return &PauseController{}
}

// RequestPause queues a pause if none is pending or being handled. It
// reports whether the request was accepted.
func (c *PauseController) RequestPause(reason, instructions string, metadata map[string]string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil || c.active != nil {
		return false
	}

	md := map[string]string{"source": "manual_pause"}
	for k, v := range metadata {
		md[k] = v
	}
	c.pending = &PauseRequest{
		Request: schemas.InterventionRequest{
			Reason:       reason,
			Instructions: instructions,
			Metadata:     md,
		},
		CreatedAt: time.Now().UTC(),
	}
	return true
}

// ConsumePending returns the queued request, marking it active, or nil.
func (c *PauseController) ConsumePending() *PauseRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return nil
	}
	c.active = c.pending
	c.pending = nil
	return c.active
}

// ClearActive marks the active request handled.
func (c *PauseController) ClearActive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
}

// Snapshot returns the pending or active request without mutating state.
func (c *PauseController) Snapshot() *PauseRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return c.pending
	}
	return c.active
}
