// internal/engine/handoff.go
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
	"github.com/xkilldash9x/navigator-cli/internal/memory"
)

// handoffCoordinator runs the human hand-off protocol: publish the
// intervention, notify operators with the portal URL and VNC address, then
// block until the portal's finished signal arrives.
type handoffCoordinator struct {
	portal   schemas.UserPortal
	notifier schemas.Notifier
	memory   *memory.Store
	logger   *zap.Logger
	vnc      *schemas.VNCInfo

	// waitTimeout bounds the wait; zero means wait indefinitely.
	waitTimeout time.Duration
}

// run executes one hand-off. A nil error means the human confirmed the step
// and the loop may resume. Notification failures are logged and swallowed;
// the portal signal is the source of truth.
func (h *handoffCoordinator) run(ctx context.Context, taskID string, request schemas.InterventionRequest) error {
	portalURL, err := h.portal.Publish(taskID, request)
	if err != nil {
		return &HandoffError{Reason: "failed to publish intervention", Err: err}
	}
	defer h.portal.Clear(taskID)

	data := map[string]string{"portal_url": portalURL}
	if h.vnc != nil {
		data["vnc_address"] = h.vnc.Address()
	}
	event := schemas.NotificationEvent{
		Kind:      schemas.EventUserActionRequired,
		TaskID:    taskID,
		Message:   request.Reason,
		Level:     schemas.LevelWarning,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	if err := h.notifier.Notify(event); err != nil {
		h.logger.Warn("Failed to deliver hand-off notification; the portal remains reachable.", zap.Error(err))
	}

	waitCtx := ctx
	if h.waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, h.waitTimeout)
		defer cancel()
	}

	h.logger.Info("Waiting for user to complete the manual step.",
		zap.String("portal_url", portalURL),
		zap.String("reason", request.Reason),
	)

	if err := h.portal.AwaitFinished(waitCtx, taskID); err != nil {
		// Distinguish the hand-off's own timeout from caller cancellation.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return &HandoffError{Reason: "user intervention timed out", Err: err}
		}
		return err
	}

	h.memory.Append(schemas.RoleActionResult, "User confirmed manual step completed.")
	if err := h.notifier.Notify(schemas.NotificationEvent{
		Kind:      schemas.EventUserActionComplete,
		TaskID:    taskID,
		Message:   "Manual step completed; resuming automation.",
		Level:     schemas.LevelSuccess,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		h.logger.Warn("Failed to deliver hand-off completion notification.", zap.Error(err))
	}
	return nil
}
