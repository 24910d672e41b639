package admin

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
	"github.com/xkilldash9x/navigator-cli/internal/config"
)

// stubExecutor serves a canned slice of tasks the way the real executor API
// does.
func stubExecutor(t *testing.T, tasks []schemas.Task, statuses map[string]schemas.ExecutorStatus) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"status": "ok", "tasks": len(tasks)})
	})
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"tasks": tasks})
	})
	mux.HandleFunc("/tasks/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) == 3 && parts[2] == "status" {
			status, ok := statuses[parts[1]]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeJSON(t, w, status)
			return
		}
		if len(parts) == 3 && r.Method == http.MethodPost {
			// pause/resume/cancel accepted blindly by the stub
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, payload any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(payload))
}

func sampleFleet() ([]schemas.Task, map[string]schemas.ExecutorStatus) {
	tasks := []schemas.Task{
		{ID: "t-running", Description: "crawl docs", Status: schemas.StatusRunning, CreatedAt: time.Now()},
		{ID: "t-waiting", Description: "login flow", Status: schemas.StatusWaitingForUser, CreatedAt: time.Now()},
		{ID: "t-failed", Description: "broken", Status: schemas.StatusFailed, CreatedAt: time.Now()},
	}
	statuses := map[string]schemas.ExecutorStatus{
		"t-running": {TaskID: "t-running", Status: schemas.StatusRunning, MemoryEntryCount: 7, LastDirectiveKind: "continue"},
		"t-waiting": {TaskID: "t-waiting", Status: schemas.StatusWaitingForUser, PortalURL: "http://portal.local:8765/"},
		"t-failed":  {TaskID: "t-failed", Status: schemas.StatusFailed, FailureReason: "step limit reached (5 steps)"},
	}
	return tasks, statuses
}

func TestClientListAndStatus(t *testing.T) {
	tasks, statuses := sampleFleet()
	srv := stubExecutor(t, tasks, statuses)
	client := NewClient(srv.URL, 2*time.Second, zaptest.NewLogger(t))

	require.NoError(t, client.Health(context.Background()))

	got, err := client.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "t-running", got[0].ID)

	status, err := client.TaskStatus(context.Background(), "t-waiting")
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusWaitingForUser, status.Status)
	assert.Equal(t, "http://portal.local:8765/", status.PortalURL)

	_, err = client.TaskStatus(context.Background(), "unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestClientMutations(t *testing.T) {
	tasks, statuses := sampleFleet()
	srv := stubExecutor(t, tasks, statuses)
	client := NewClient(srv.URL, 2*time.Second, zaptest.NewLogger(t))

	ctx := context.Background()
	assert.NoError(t, client.Pause(ctx, "t-running", "look at it", ""))
	assert.NoError(t, client.Resume(ctx, "t-waiting"))
	assert.NoError(t, client.Cancel(ctx, "t-running"))
}

func TestClientUnreachableExecutor(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 200*time.Millisecond, zaptest.NewLogger(t))
	_, err := client.ListTasks(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestPollerRendersAggregateTable(t *testing.T) {
	color.NoColor = true
	tasks, statuses := sampleFleet()
	srv := stubExecutor(t, tasks, statuses)

	var out bytes.Buffer
	poller, err := NewPoller(config.AdminConfig{
		Executors:         []string{srv.URL},
		PollInterval:      time.Hour, // single explicit poll in this test
		RequestsPerSecond: 1000,
		RequestTimeout:    2 * time.Second,
	}, &out, zaptest.NewLogger(t))
	require.NoError(t, err)

	poller.PollOnce(context.Background())

	rendered := out.String()
	assert.Contains(t, rendered, "t-running")
	assert.Contains(t, rendered, "7 memory entries")
	assert.Contains(t, rendered, "needs a human: http://portal.local:8765/")
	assert.Contains(t, rendered, "step limit reached (5 steps)")
}

func TestPollerMarksUnreachableExecutors(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	poller, err := NewPoller(config.AdminConfig{
		Executors:         []string{"http://127.0.0.1:1"},
		PollInterval:      time.Hour,
		RequestsPerSecond: 1000,
		RequestTimeout:    200 * time.Millisecond,
	}, &out, zaptest.NewLogger(t))
	require.NoError(t, err)

	poller.PollOnce(context.Background())
	assert.Contains(t, out.String(), "unreachable")
}

func TestPollerRequiresExecutors(t *testing.T) {
	_, err := NewPoller(config.AdminConfig{}, &bytes.Buffer{}, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	color.NoColor = true
	tasks, statuses := sampleFleet()
	srv := stubExecutor(t, tasks, statuses)

	var out bytes.Buffer
	poller, err := NewPoller(config.AdminConfig{
		Executors:         []string{srv.URL},
		PollInterval:      10 * time.Millisecond,
		RequestsPerSecond: 1000,
		RequestTimeout:    time.Second,
	}, &out, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, poller.Run(ctx))
	assert.Contains(t, out.String(), "navigator fleet")
}
