package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
	"github.com/xkilldash9x/navigator-cli/internal/browser"
	"github.com/xkilldash9x/navigator-cli/internal/config"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

// -- Fakes --

// scriptedLLM replays canned directives; an empty script blocks until the
// context ends, pinning the engine in its planning step.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	next    int
}

func (s *scriptedLLM) Generate(ctx context.Context, _ schemas.GenerationRequest) (string, error) {
	s.mu.Lock()
	if s.next < len(s.replies) {
		reply := s.replies[s.next]
		s.next++
		s.mu.Unlock()
		return reply, nil
	}
	s.mu.Unlock()

	<-ctx.Done()
	return "", ctx.Err()
}

type fakeSession struct{}

func (fakeSession) Start(context.Context) error { return nil }
func (fakeSession) Stop(context.Context) error  { return nil }

func (fakeSession) Execute(_ context.Context, _ schemas.BrowserAction) (schemas.Observation, error) {
	return schemas.Observation{URL: "http://example.test", CapturedAt: time.Now().UTC()}, nil
}

func (fakeSession) Observe(context.Context) (schemas.Observation, error) {
	return schemas.Observation{URL: "http://example.test", Title: "Example", CapturedAt: time.Now().UTC()}, nil
}

// fakePortal keys finish channels by task id, like the real portal, and lets
// the test (or the resume endpoint) signal one task at a time.
type fakePortal struct {
	mu       sync.Mutex
	finished map[string]chan struct{}
	done     map[string]bool
}

func (f *fakePortal) Publish(taskID string, _ schemas.InterventionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished == nil {
		f.finished = make(map[string]chan struct{})
		f.done = make(map[string]bool)
	}
	f.finished[taskID] = make(chan struct{})
	f.done[taskID] = false
	return "http://localhost:8765/", nil
}

func (f *fakePortal) AwaitFinished(ctx context.Context, taskID string) error {
	f.mu.Lock()
	ch := f.finished[taskID]
	f.mu.Unlock()
	if ch == nil {
		return errors.New("no intervention published")
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakePortal) Clear(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.finished, taskID)
	delete(f.done, taskID)
}

func (f *fakePortal) signalFinished(taskID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := f.finished[taskID]
	if ch == nil || f.done[taskID] {
		return false
	}
	f.done[taskID] = true
	close(ch)
	return true
}

type nopNotifier struct{}

func (nopNotifier) Notify(schemas.NotificationEvent) error { return nil }

// -- Harness --

type apiHarness struct {
	router    *gin.Engine
	registry  *Registry
	artifacts *ArtifactStore
	portal    *fakePortal
	llm       *scriptedLLM
}

func newAPIHarness(t *testing.T, replies []string) *apiHarness {
	t.Helper()

	logger := zaptest.NewLogger(t)
	cfg := config.NewDefaultConfig()

	llm := &scriptedLLM{replies: replies}
	portal := &fakePortal{}
	artifacts := NewArtifactStore(t.TempDir(), logger)

	registry, err := NewRegistry(Deps{
		Config:   cfg,
		LLM:      llm,
		Portal:   portal,
		Notifier: nopNotifier{},
		Sessions: func(string, browser.ScreenshotSink) (schemas.BrowserSession, *schemas.VNCInfo, error) {
			return fakeSession{}, nil, nil
		},
		Artifacts: artifacts,
		Logger:    logger,
		PortalURL: "http://localhost:8765/",
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		assert.NoError(t, registry.Shutdown(ctx))
	})

	server := NewServer(cfg.Executor, registry, artifacts, portal.signalFinished, logger)
	return &apiHarness{
		router:    server.Router(),
		registry:  registry,
		artifacts: artifacts,
		portal:    portal,
		llm:       llm,
	}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) submit(t *testing.T, description string) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/tasks", SubmitRequest{Description: description})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["task_id"])
	return resp["task_id"]
}

func (h *apiHarness) waitForStatus(t *testing.T, taskID string, want schemas.TaskStatus) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		eng, ok := h.registry.Get(taskID)
		require.True(t, ok)
		if eng.Status().Status == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for task %s to reach %q (currently %q)", taskID, want, eng.Status().Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (h *apiHarness) waitDone(t *testing.T, taskID string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := h.registry.Wait(ctx, taskID)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "task did not finish in time")
	return err
}

// -- Tests --

func TestHealth(t *testing.T) {
	h := newAPIHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestSubmitRequiresDescription(t *testing.T) {
	h := newAPIHarness(t, nil)
	rec := h.do(t, http.MethodPost, "/tasks", map[string]string{"goal": "no description"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaskLifecycleOverAPI(t *testing.T) {
	h := newAPIHarness(t, []string{
		`{"status": "continue", "message": "navigating", "actions": [{"type": "navigate", "target": "http://example.test"}]}`,
		`{"status": "finished", "summary": "all done"}`,
	})

	taskID := h.submit(t, "check the example page")
	require.NoError(t, h.waitDone(t, taskID))

	rec := h.do(t, http.MethodGet, "/tasks/"+taskID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, taskID, status["task_id"])
	assert.Equal(t, "finished", status["status"])
	assert.Equal(t, "finished", status["last_directive_kind"])
	assert.Greater(t, status["memory_entry_count"], float64(0))

	rec = h.do(t, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Tasks []schemas.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, taskID, list.Tasks[0].ID)

	rec = h.do(t, http.MethodGet, "/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail taskDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, schemas.StatusFinished, detail.Task.Status)
	assert.NotEmpty(t, detail.Memory)
}

func TestUnknownTaskIs404(t *testing.T) {
	h := newAPIHarness(t, nil)
	for _, probe := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/tasks/nope"},
		{http.MethodGet, "/tasks/nope/status"},
		{http.MethodPost, "/tasks/nope/pause"},
		{http.MethodPost, "/tasks/nope/resume"},
		{http.MethodPost, "/tasks/nope/cancel"},
		{http.MethodGet, "/tasks/nope/screenshots"},
	} {
		rec := h.do(t, probe.method, probe.path, nil)
		assert.Equalf(t, http.StatusNotFound, rec.Code, "%s %s", probe.method, probe.path)
	}
}

func TestPauseQueuesOnceThenConflicts(t *testing.T) {
	// No scripted replies: the engine parks in its planning step, so the
	// queued pause is not consumed during the test.
	h := newAPIHarness(t, nil)
	taskID := h.submit(t, "long running research")
	h.waitForStatus(t, taskID, schemas.StatusRunning)

	rec := h.do(t, http.MethodPost, "/tasks/"+taskID+"/pause", pauseRequest{Reason: "inspect something"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = h.do(t, http.MethodPost, "/tasks/"+taskID+"/pause", pauseRequest{Reason: "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Cancel so cleanup shuts down promptly.
	rec = h.do(t, http.MethodPost, "/tasks/"+taskID+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestResumeUnblocksWaitingTask(t *testing.T) {
	h := newAPIHarness(t, []string{
		`{"status": "wait_for_user", "user_request": {"reason": "solve the puzzle"}}`,
		`{"status": "finished", "summary": "resumed and finished"}`,
	})

	taskID := h.submit(t, "task needing a human")
	h.waitForStatus(t, taskID, schemas.StatusWaitingForUser)

	rec := h.do(t, http.MethodPost, "/tasks/"+taskID+"/resume", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NoError(t, h.waitDone(t, taskID))
	h.waitForStatus(t, taskID, schemas.StatusFinished)

	// Terminal tasks are no longer waiting; a second resume conflicts.
	rec = h.do(t, http.MethodPost, "/tasks/"+taskID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResumeReleasesOnlyTheNamedTask(t *testing.T) {
	h := newAPIHarness(t, []string{
		`{"status": "wait_for_user", "user_request": {"reason": "first puzzle"}}`,
		`{"status": "wait_for_user", "user_request": {"reason": "second puzzle"}}`,
		`{"status": "finished", "summary": "second done"}`,
		`{"status": "finished", "summary": "first done"}`,
	})

	// Submit serially so each task parks on its own intervention in order.
	first := h.submit(t, "first task needing a human")
	h.waitForStatus(t, first, schemas.StatusWaitingForUser)
	second := h.submit(t, "second task needing a human")
	h.waitForStatus(t, second, schemas.StatusWaitingForUser)

	rec := h.do(t, http.MethodPost, "/tasks/"+second+"/resume", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, h.waitDone(t, second))
	h.waitForStatus(t, second, schemas.StatusFinished)

	// The first task is untouched by the second's resume.
	h.waitForStatus(t, first, schemas.StatusWaitingForUser)

	rec = h.do(t, http.MethodPost, "/tasks/"+first+"/resume", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, h.waitDone(t, first))
	h.waitForStatus(t, first, schemas.StatusFinished)
}

func TestResumeConflictsWhileRunning(t *testing.T) {
	h := newAPIHarness(t, nil)
	taskID := h.submit(t, "still planning")
	h.waitForStatus(t, taskID, schemas.StatusRunning)

	rec := h.do(t, http.MethodPost, "/tasks/"+taskID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodPost, "/tasks/"+taskID+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCancelFailsTask(t *testing.T) {
	h := newAPIHarness(t, nil)
	taskID := h.submit(t, "task to be canceled")
	h.waitForStatus(t, taskID, schemas.StatusRunning)

	rec := h.do(t, http.MethodPost, "/tasks/"+taskID+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	err := h.waitDone(t, taskID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task canceled")

	rec = h.do(t, http.MethodGet, "/tasks/"+taskID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"failed"`)
}

func TestSubmitOverridesBound(t *testing.T) {
	h := newAPIHarness(t, []string{
		`{"status": "continue", "actions": []}`,
		`{"status": "continue", "actions": []}`,
	})

	maxSteps := 1
	rec := h.do(t, http.MethodPost, "/tasks", SubmitRequest{
		Description: "bounded task",
		Overrides:   &Overrides{MaxSteps: &maxSteps},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	taskID := resp["task_id"]

	err := h.waitDone(t, taskID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step limit reached")
}

func TestScreenshotEndpoints(t *testing.T) {
	h := newAPIHarness(t, []string{
		`{"status": "finished", "summary": "quick"}`,
	})
	taskID := h.submit(t, "screenshot carrier")
	require.NoError(t, h.waitDone(t, taskID))

	sink := h.artifacts.SinkFor(taskID)
	_, err := sink([]byte("png-bytes-1"))
	require.NoError(t, err)
	_, err = sink([]byte("png-bytes-2"))
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/tasks/"+taskID+"/screenshots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Screenshots []string `json:"screenshots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []string{"step_0001.png", "step_0002.png"}, list.Screenshots)

	rec = h.do(t, http.MethodGet, "/tasks/"+taskID+"/screenshots/step_0001.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes-1", rec.Body.String())

	// Names outside the stable pattern are rejected before touching disk.
	rec = h.do(t, http.MethodGet, "/tasks/"+taskID+"/screenshots/secret.txt", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, fmt.Sprintf("/tasks/%s/screenshots/step_9999.png", taskID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
