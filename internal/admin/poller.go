// internal/admin/poller.go
package admin

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
	"github.com/xkilldash9x/navigator-cli/internal/config"
)

// row is one rendered line of the aggregate view.
type row struct {
	Executor    string
	Task        schemas.Task
	Status      schemas.ExecutorStatus
	StatusError error
}

// Poller periodically fetches every configured executor's tasks and renders
// an aggregate table. All requests share one rate limiter so a large fleet
// cannot be hammered by a short poll interval.
type Poller struct {
	cfg     config.AdminConfig
	clients []*Client
	limiter *rate.Limiter
	out     io.Writer
	logger  *zap.Logger

	mu sync.Mutex
}

func NewPoller(cfg config.AdminConfig, out io.Writer, logger *zap.Logger) (*Poller, error) {
	if len(cfg.Executors) == 0 {
		return nil, fmt.Errorf("admin poller needs at least one executor URL")
	}

	clients := make([]*Client, 0, len(cfg.Executors))
	for _, baseURL := range cfg.Executors {
		clients = append(clients, NewClient(baseURL, cfg.RequestTimeout, logger))
	}

	return &Poller{
		cfg:     cfg,
		clients: clients,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		out:     out,
		logger:  logger.Named("admin"),
	}, nil
}

// Run polls until ctx ends. The first poll happens immediately.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce fetches all executors' state and renders one table.
func (p *Poller) PollOnce(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var rows []row
	for _, client := range p.clients {
		rows = append(rows, p.collect(ctx, client)...)
	}
	if ctx.Err() != nil {
		return
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Executor != rows[j].Executor {
			return rows[i].Executor < rows[j].Executor
		}
		return rows[i].Task.CreatedAt.Before(rows[j].Task.CreatedAt)
	})
	p.render(rows)
}

func (p *Poller) collect(ctx context.Context, client *Client) []row {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil
	}

	tasks, err := client.ListTasks(ctx)
	if err != nil {
		p.logger.Warn("Executor poll failed.", zap.String("executor", client.BaseURL()), zap.Error(err))
		return []row{{Executor: client.BaseURL(), StatusError: err}}
	}

	rows := make([]row, 0, len(tasks))
	for _, task := range tasks {
		if err := p.limiter.Wait(ctx); err != nil {
			return rows
		}
		status, err := client.TaskStatus(ctx, task.ID)
		rows = append(rows, row{
			Executor:    client.BaseURL(),
			Task:        task,
			Status:      status,
			StatusError: err,
		})
	}
	return rows
}

var statusColors = map[schemas.TaskStatus]*color.Color{
	schemas.StatusPending:        color.New(color.FgWhite),
	schemas.StatusRunning:        color.New(color.FgCyan),
	schemas.StatusWaitingForUser: color.New(color.FgYellow, color.Bold),
	schemas.StatusFinished:       color.New(color.FgGreen),
	schemas.StatusFailed:         color.New(color.FgRed, color.Bold),
}

func (p *Poller) render(rows []row) {
	fmt.Fprintf(p.out, "=== navigator fleet @ %s ===\n", time.Now().Format(time.RFC3339))

	if len(rows) == 0 {
		fmt.Fprintln(p.out, "no tasks")
		return
	}

	for _, r := range rows {
		if r.Task.ID == "" {
			fmt.Fprintf(p.out, "%s  %s\n",
				r.Executor, color.New(color.FgRed).Sprintf("unreachable: %v", r.StatusError))
			continue
		}

		statusText := string(r.Task.Status)
		if c, ok := statusColors[r.Task.Status]; ok {
			statusText = c.Sprint(statusText)
		}

		fmt.Fprintf(p.out, "%s  %s  %-15s  %s\n",
			r.Executor, r.Task.ID, statusText, describe(r))
	}
}

// describe summarizes the row's most useful detail for an operator scanning
// the table.
func describe(r row) string {
	if r.StatusError != nil {
		return fmt.Sprintf("status unavailable: %v", r.StatusError)
	}
	switch r.Task.Status {
	case schemas.StatusWaitingForUser:
		return fmt.Sprintf("needs a human: %s", r.Status.PortalURL)
	case schemas.StatusFailed:
		return r.Status.FailureReason
	default:
		return fmt.Sprintf("%d memory entries, last directive %q",
			r.Status.MemoryEntryCount, r.Status.LastDirectiveKind)
	}
}
