// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
	"github.com/xkilldash9x/navigator-cli/internal/config"
	"github.com/xkilldash9x/navigator-cli/internal/directive"
	"github.com/xkilldash9x/navigator-cli/internal/memory"
)

// Params carries everything an engine needs; all capabilities are injected
// so tests can substitute fakes.
type Params struct {
	Task     schemas.Task
	Config   config.EngineConfig
	LLM      schemas.LLMClient
	Session  schemas.BrowserSession
	Notifier schemas.Notifier
	Portal   schemas.UserPortal
	Logger   *zap.Logger

	// PortalURL is the advertised hand-off location, exposed in the status
	// projection even before the first intervention.
	PortalURL string
	// VNC is informational only; nil when the deployment has no remote display.
	VNC *schemas.VNCInfo
	// Temperature is forwarded verbatim to the LLM client.
	Temperature float32
}

// Engine owns one task's control loop: it repeatedly builds a prompt, asks
// the LLM for a directive, executes it, and maintains the bounded memory log.
// The loop is strictly sequential; the only concurrent reader is Status.
type Engine struct {
	cfg         config.EngineConfig
	llm         schemas.LLMClient
	session     schemas.BrowserSession
	notifier    schemas.Notifier
	portal      schemas.UserPortal
	logger      *zap.Logger
	memory      *memory.Store
	prompts     PromptBuilder
	pause       *PauseController
	handoff     *handoffCoordinator
	executor    *actionExecutor
	vnc         *schemas.VNCInfo
	portalURL   string
	temperature float32

	mu                sync.RWMutex
	task              schemas.Task
	lastDirectiveKind schemas.DirectiveKind
	updatedAt         time.Time
}

// New validates the wiring and returns a ready engine in pending state.
func New(p Params) (*Engine, error) {
	if p.LLM == nil || p.Session == nil || p.Notifier == nil || p.Portal == nil {
		return nil, fmt.Errorf("engine requires llm, session, notifier and portal capabilities")
	}
	if p.Task.Description == "" {
		return nil, fmt.Errorf("task description is required")
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}

	task := p.Task
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.Status = schemas.StatusPending
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	logger := p.Logger.Named("engine").With(zap.String("task_id", task.ID))
	store := memory.NewStore(p.Config.MemoryMaxEntries, logger)

	e := &Engine{
		cfg:         p.Config,
		llm:         p.LLM,
		session:     p.Session,
		notifier:    p.Notifier,
		portal:      p.Portal,
		logger:      logger,
		memory:      store,
		pause:       NewPauseController(),
		vnc:         p.VNC,
		portalURL:   p.PortalURL,
		temperature: p.Temperature,
		task:        task,
		updatedAt:   time.Now().UTC(),
	}
	e.executor = &actionExecutor{session: p.Session, memory: store, logger: logger}
	e.handoff = &handoffCoordinator{
		portal:      p.Portal,
		notifier:    p.Notifier,
		memory:      store,
		logger:      logger,
		vnc:         p.VNC,
		waitTimeout: p.Config.WaitForUserTimeout,
	}
	return e, nil
}

// Task returns a copy of the current task record.
func (e *Engine) Task() schemas.Task {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.task
}

// Pause exposes the manual pause controller for the executor API.
func (e *Engine) Pause() *PauseController {
	return e.pause
}

// Memory returns the task's memory snapshot, oldest first.
func (e *Engine) Memory() []schemas.MemoryEntry {
	return e.memory.Snapshot()
}

// Status recomputes the read-only projection of the engine's state. It is
// safe to call from any goroutine, including while the loop is suspended in
// a hand-off.
func (e *Engine) Status() schemas.ExecutorStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := schemas.ExecutorStatus{
		TaskID:            e.task.ID,
		Status:            e.task.Status,
		LastDirectiveKind: string(e.lastDirectiveKind),
		MemoryEntryCount:  e.memory.Len(),
		PortalURL:         e.portalURL,
		FailureReason:     e.task.Error,
		UpdatedAt:         e.updatedAt,
	}
	if e.vnc != nil {
		status.VNCAddress = e.vnc.Address()
	}
	return status
}

// Run drives the task to a terminal state. It returns nil when the task
// finished and an error carrying the failure reason otherwise. The ctx is
// the cancellation token: it is observed at the top of every iteration and
// inside every suspension point.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Starting task.", zap.String("description", e.task.Description))
	e.notify(schemas.NotificationEvent{
		Kind:    schemas.EventTaskStarted,
		Message: fmt.Sprintf("Starting task: %s", e.task.Description),
		Level:   schemas.LevelInfo,
	})

	if err := e.session.Start(ctx); err != nil {
		return e.fail(fmt.Sprintf("browser failed to start: %v", err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.session.Stop(stopCtx); err != nil {
			e.logger.Warn("Browser session did not stop cleanly.", zap.Error(err))
		}
	}()

	if e.vnc != nil {
		e.notify(schemas.NotificationEvent{
			Kind:    schemas.EventVNCReady,
			Message: "Browser VNC connection available for manual intervention",
			Level:   schemas.LevelInfo,
			Data:    map[string]string{"vnc_address": e.vnc.Address()},
		})
	}

	obs, err := e.session.Observe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return e.cancel(ctx.Err())
		}
		return e.fail(fmt.Sprintf("initial observation failed: %v", err))
	}
	e.memory.Append(schemas.RoleObservation, describeObservation(obs))
	e.setStatus(schemas.StatusRunning)

	steps := 0
	consecutiveActionFailures := 0

	for {
		if err := ctx.Err(); err != nil {
			return e.cancel(err)
		}

		steps++
		if e.cfg.MaxSteps > 0 && steps > e.cfg.MaxSteps {
			return e.fail(fmt.Sprintf("step limit reached (%d steps)", e.cfg.MaxSteps))
		}

		// Admin-initiated pauses take priority over the next planning step.
		if pending := e.pause.ConsumePending(); pending != nil {
			e.setStatus(schemas.StatusWaitingForUser)
			err := e.handoff.run(ctx, e.task.ID, pending.Request)
			e.pause.ClearActive()
			if err != nil {
				if ctx.Err() != nil {
					return e.cancel(ctx.Err())
				}
				return e.fail(err.Error())
			}
			e.setStatus(schemas.StatusRunning)
			obs = e.reobserve(ctx, obs)
			continue
		}

		d, err := e.planStep(ctx, obs)
		if err != nil {
			if ctx.Err() != nil {
				return e.cancel(ctx.Err())
			}
			return e.fail(err.Error())
		}

		e.setLastDirective(d.Kind)
		e.recordDirective(d)

		switch d.Kind {
		case schemas.DirectiveContinue:
			if len(d.Actions) == 0 {
				continue
			}
			newObs, err := e.executor.executeBatch(ctx, d.Actions)
			if err != nil {
				if ctx.Err() != nil {
					return e.cancel(ctx.Err())
				}
				var actionErr *ActionError
				if errors.As(err, &actionErr) {
					consecutiveActionFailures++
					if e.cfg.MaxActionFailures > 0 && consecutiveActionFailures >= e.cfg.MaxActionFailures {
						return e.fail(fmt.Sprintf("too many consecutive action failures (%d): last: %v",
							consecutiveActionFailures, actionErr))
					}
					// The failure is already in memory; let the planner see
					// the resulting page state and work around it.
					obs = e.reobserve(ctx, obs)
					continue
				}
				return e.fail(err.Error())
			}
			consecutiveActionFailures = 0
			obs = newObs

		case schemas.DirectiveWait:
			wait := time.Duration(d.WaitSeconds * float64(time.Second))
			e.logger.Info("Waiting as directed.", zap.Duration("duration", wait))
			if err := sleepCtx(ctx, wait); err != nil {
				return e.cancel(err)
			}
			obs = e.reobserve(ctx, obs)

		case schemas.DirectiveWaitForUser:
			request := e.interventionRequest(d)
			e.setStatus(schemas.StatusWaitingForUser)
			if err := e.handoff.run(ctx, e.task.ID, request); err != nil {
				if ctx.Err() != nil {
					return e.cancel(ctx.Err())
				}
				return e.fail(err.Error())
			}
			e.setStatus(schemas.StatusRunning)
			// Re-capture, never reuse: the user may have changed anything.
			obs = e.reobserve(ctx, obs)

		case schemas.DirectiveFinished:
			summary := d.Summary
			e.memory.Append(schemas.RoleLLMReply, "Task finished: "+summary)
			e.finish()
			e.notify(schemas.NotificationEvent{
				Kind:    schemas.EventTaskFinished,
				Message: summary,
				Level:   schemas.LevelSuccess,
			})
			e.logger.Info("Task finished.", zap.String("summary", summary), zap.Int("steps", steps))
			return nil

		case schemas.DirectiveFailed:
			return e.fail(d.Reason)
		}
	}
}

// planStep performs one planning round trip: transport retries with backoff
// first, then parse retries with a reformat instruction. Both bounds come
// from configuration.
func (e *Engine) planStep(ctx context.Context, obs schemas.Observation) (schemas.Directive, error) {
	basePrompt := e.prompts.Build(e.Task(), obs, e.memory.Snapshot())
	userPrompt := basePrompt

	parseAttempts := 0
	for {
		text, err := e.generateWithRetry(ctx, userPrompt)
		if err != nil {
			return schemas.Directive{}, err
		}

		d, err := directive.Parse(text)
		if err == nil {
			return d, nil
		}

		parseAttempts++
		e.logger.Warn("LLM reply could not be parsed.",
			zap.Int("attempt", parseAttempts),
			zap.Error(err),
		)
		if parseAttempts > e.cfg.ParseRetryLimit {
			return schemas.Directive{}, fmt.Errorf("repeated parse failure after %d attempts: %w", parseAttempts, err)
		}
		userPrompt = basePrompt + reformatInstruction
	}
}

// generateWithRetry calls the LLM, retrying transport failures with the
// configured backoff up to the configured bound.
func (e *Engine) generateWithRetry(ctx context.Context, userPrompt string) (string, error) {
	req := schemas.GenerationRequest{
		SystemPrompt:    systemPrompt,
		UserPrompt:      userPrompt,
		Temperature:     e.temperature,
		ForceJSONFormat: true,
	}

	attempts := 0
	for {
		text, err := e.llm.Generate(ctx, req)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		attempts++
		if attempts > e.cfg.LLMRetryLimit {
			return "", &TransportError{Err: fmt.Errorf("llm call failed after %d attempts: %w", attempts, err)}
		}
		e.logger.Warn("LLM call failed; backing off.",
			zap.Int("attempt", attempts),
			zap.Duration("backoff", e.cfg.RetryBackoff),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, e.cfg.RetryBackoff); err != nil {
			return "", err
		}
	}
}

// recordDirective writes the LLM's turn into memory and notifies progress.
func (e *Engine) recordDirective(d schemas.Directive) {
	reply := d.Message
	if reply == "" {
		reply = string(d.Kind)
	}
	e.memory.Append(schemas.RoleLLMReply, reply)

	for _, item := range d.MemoryToWrite {
		e.memory.Append(schemas.RoleLLMReply, item)
	}

	if d.Message != "" {
		e.notify(schemas.NotificationEvent{
			Kind:    schemas.EventLLMStep,
			Message: d.Message,
			Level:   schemas.LevelInfo,
		})
	}
}

// interventionRequest resolves the hand-off payload, synthesizing a default
// when the directive omitted one.
func (e *Engine) interventionRequest(d schemas.Directive) schemas.InterventionRequest {
	if d.UserRequest == nil {
		return schemas.InterventionRequest{
			Reason:       fmt.Sprintf("Assistance needed while working on: %s", e.task.Description),
			Instructions: "Please resolve the blocking step in the browser and click 'Finished'.",
			Metadata:     map[string]string{"source": "llm_wait"},
		}
	}
	request := *d.UserRequest
	if request.Metadata == nil {
		request.Metadata = map[string]string{}
	}
	if _, ok := request.Metadata["source"]; !ok {
		request.Metadata["source"] = "llm_wait"
	}
	return request
}

// reobserve captures fresh browser state, falling back to the previous
// observation when the capture fails. The failure is logged; a persistent
// browser problem will surface on the next action.
func (e *Engine) reobserve(ctx context.Context, previous schemas.Observation) schemas.Observation {
	obs, err := e.session.Observe(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("Failed to refresh browser observation.", zap.Error(err))
		}
		return previous
	}
	return obs
}

func (e *Engine) setStatus(status schemas.TaskStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task.Status == status {
		return
	}
	e.task.Status = status
	now := time.Now().UTC()
	e.updatedAt = now
	if status == schemas.StatusRunning && e.task.StartedAt == nil {
		e.task.StartedAt = &now
	}
}

func (e *Engine) setLastDirective(kind schemas.DirectiveKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastDirectiveKind = kind
	e.updatedAt = time.Now().UTC()
}

func (e *Engine) finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now().UTC()
	e.task.Status = schemas.StatusFinished
	e.task.FinishedAt = &now
	e.updatedAt = now
}

// fail moves the task to its terminal failed state and returns an error
// carrying the reason.
func (e *Engine) fail(reason string) error {
	if reason == "" {
		reason = "Task failed"
	}

	e.mu.Lock()
	now := time.Now().UTC()
	e.task.Status = schemas.StatusFailed
	e.task.Error = reason
	e.task.FinishedAt = &now
	e.updatedAt = now
	e.mu.Unlock()

	e.notify(schemas.NotificationEvent{
		Kind:    schemas.EventTaskFailed,
		Message: reason,
		Level:   schemas.LevelError,
	})
	e.logger.Error("Task failed.", zap.String("reason", reason))
	return errors.New(reason)
}

func (e *Engine) cancel(cause error) error {
	return e.fail(fmt.Sprintf("task canceled: %v", cause))
}

// notify delivers an event, stamping task id and time; failures never abort
// the engine.
func (e *Engine) notify(event schemas.NotificationEvent) {
	event.TaskID = e.task.ID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := e.notifier.Notify(event); err != nil {
		e.logger.Warn("Notification delivery failed.", zap.String("kind", event.Kind), zap.Error(err))
	}
}

func describeObservation(obs schemas.Observation) string {
	return fmt.Sprintf("Observed page: url=%s title=%q", orUnknown(obs.URL), obs.Title)
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
