// internal/executor/registry.go
package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
	"github.com/xkilldash9x/navigator-cli/internal/browser"
	"github.com/xkilldash9x/navigator-cli/internal/config"
	"github.com/xkilldash9x/navigator-cli/internal/engine"
)

// SessionFactory builds the browser session for one task. sink receives any
// screenshots the task captures.
type SessionFactory func(taskID string, sink browser.ScreenshotSink) (schemas.BrowserSession, *schemas.VNCInfo, error)

// Deps wires the registry to the rest of the service. All fields are
// required except Artifacts, which disables screenshot persistence when nil.
type Deps struct {
	Config    *config.Config
	LLM       schemas.LLMClient
	Portal    schemas.UserPortal
	Notifier  schemas.Notifier
	Sessions  SessionFactory
	Artifacts *ArtifactStore
	Logger    *zap.Logger
	PortalURL string
}

// SubmitRequest is the task submission payload.
type SubmitRequest struct {
	Description string     `json:"description" binding:"required"`
	Goal        string     `json:"goal"`
	Overrides   *Overrides `json:"overrides"`
}

// Overrides lets a submission tighten the engine's bounds without touching
// service configuration. Nil fields keep the configured value.
type Overrides struct {
	MaxSteps          *int     `json:"max_steps"`
	MaxActionFailures *int     `json:"max_action_failures"`
	Temperature       *float32 `json:"temperature"`
}

// taskRunner pairs an engine with the goroutine driving it.
type taskRunner struct {
	engine *engine.Engine
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	runErr error
}

func (r *taskRunner) finalErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

// Registry owns every task the service has accepted, keyed by task id. Each
// task runs its own engine on its own goroutine; the registry only ever
// reads engine state through the thread-safe accessors.
type Registry struct {
	deps   Deps
	logger *zap.Logger

	mu      sync.RWMutex
	runners map[string]*taskRunner
	order   []string
}

func NewRegistry(deps Deps) (*Registry, error) {
	if deps.Config == nil || deps.LLM == nil || deps.Portal == nil || deps.Notifier == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("registry requires config, llm, portal, notifier and session factory")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Registry{
		deps:    deps,
		logger:  deps.Logger.Named("registry"),
		runners: make(map[string]*taskRunner),
	}, nil
}

// Submit accepts a task, starts its engine asynchronously, and returns the
// task id immediately.
func (r *Registry) Submit(req SubmitRequest) (string, error) {
	if req.Description == "" {
		return "", fmt.Errorf("task description is required")
	}

	taskID := uuid.New().String()

	var sink browser.ScreenshotSink
	if r.deps.Artifacts != nil {
		sink = r.deps.Artifacts.SinkFor(taskID)
	}
	session, vnc, err := r.deps.Sessions(taskID, sink)
	if err != nil {
		return "", fmt.Errorf("failed to build browser session: %w", err)
	}

	engineCfg := r.deps.Config.Engine
	temperature := r.deps.Config.LLM.Temperature
	if o := req.Overrides; o != nil {
		if o.MaxSteps != nil {
			engineCfg.MaxSteps = *o.MaxSteps
		}
		if o.MaxActionFailures != nil {
			engineCfg.MaxActionFailures = *o.MaxActionFailures
		}
		if o.Temperature != nil {
			temperature = *o.Temperature
		}
	}

	eng, err := engine.New(engine.Params{
		Task: schemas.Task{
			ID:          taskID,
			Description: req.Description,
			Goal:        req.Goal,
		},
		Config:      engineCfg,
		LLM:         r.deps.LLM,
		Session:     session,
		Notifier:    r.deps.Notifier,
		Portal:      r.deps.Portal,
		Logger:      r.deps.Logger,
		PortalURL:   r.deps.PortalURL,
		VNC:         vnc,
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	runner := &taskRunner{engine: eng, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.runners[taskID] = runner
	r.order = append(r.order, taskID)
	r.mu.Unlock()

	go func() {
		defer close(runner.done)
		err := eng.Run(ctx)
		runner.mu.Lock()
		runner.runErr = err
		runner.mu.Unlock()
		if err != nil {
			r.logger.Warn("Task ended in failure.", zap.String("task_id", taskID), zap.Error(err))
		} else {
			r.logger.Info("Task ended.", zap.String("task_id", taskID))
		}
	}()

	r.logger.Info("Task accepted.", zap.String("task_id", taskID), zap.String("description", req.Description))
	return taskID, nil
}

// Get returns the engine for a task id.
func (r *Registry) Get(taskID string) (*engine.Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[taskID]
	if !ok {
		return nil, false
	}
	return runner.engine, true
}

// List returns every task record in submission order.
func (r *Registry) List() []schemas.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]schemas.Task, 0, len(r.order))
	for _, id := range r.order {
		tasks = append(tasks, r.runners[id].engine.Task())
	}
	return tasks
}

// Cancel aborts a running task. It reports false for unknown ids.
func (r *Registry) Cancel(taskID string) bool {
	r.mu.RLock()
	runner, ok := r.runners[taskID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	runner.cancel()
	return true
}

// Wait blocks until the task's engine goroutine has exited, or ctx ends. It
// exists for tests and orderly shutdown; unknown ids return immediately.
func (r *Registry) Wait(ctx context.Context, taskID string) error {
	r.mu.RLock()
	runner, ok := r.runners[taskID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	select {
	case <-runner.done:
		return runner.finalErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every task and waits for the engines to exit, bounded by
// ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	runners := make([]*taskRunner, 0, len(r.runners))
	for _, runner := range r.runners {
		runners = append(runners, runner)
	}
	r.mu.RUnlock()

	for _, runner := range runners {
		runner.cancel()
	}
	for _, runner := range runners {
		select {
		case <-runner.done:
		case <-ctx.Done():
			return fmt.Errorf("shutdown interrupted with tasks still running: %w", ctx.Err())
		}
	}
	return nil
}

// Count reports how many tasks the registry has accepted.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runners)
}
