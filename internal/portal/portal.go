// internal/portal/portal.go
package portal

import (
	"context"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
	"github.com/xkilldash9x/navigator-cli/internal/config"
)

// intervention is one task's published hand-off request and its finish
// signal. The channel closes exactly once.
type intervention struct {
	request  schemas.InterventionRequest
	finished chan struct{}
	done     bool
}

// Portal serves the human hand-off page. When an engine asks for a manual
// step it publishes an InterventionRequest here under its task id; a person
// opens the page, completes the step (usually in the VNC session), and clicks
// finish for that task. Tasks wait concurrently; each finish signal releases
// exactly the task it names.
type Portal struct {
	cfg    config.PortalConfig
	logger *zap.Logger
	vnc    *schemas.VNCInfo

	mu     sync.Mutex
	active map[string]*intervention

	srv *http.Server
}

var _ schemas.UserPortal = (*Portal)(nil)

// New builds a portal. vnc may be nil when the deployment has no remote
// display to advertise.
func New(cfg config.PortalConfig, vnc *schemas.VNCInfo, logger *zap.Logger) *Portal {
	return &Portal{
		cfg:    cfg,
		vnc:    vnc,
		logger: logger.Named("portal"),
		active: make(map[string]*intervention),
	}
}

// Publish makes the intervention the task's active one and returns the URL
// the human should visit. Publishing replaces the task's previous
// intervention; other tasks' interventions are untouched.
func (p *Portal) Publish(taskID string, request schemas.InterventionRequest) (string, error) {
	if taskID == "" {
		return "", fmt.Errorf("intervention requires a task id")
	}

	p.mu.Lock()
	p.active[taskID] = &intervention{
		request:  request,
		finished: make(chan struct{}),
	}
	p.mu.Unlock()

	p.logger.Info("Intervention published.",
		zap.String("task_id", taskID),
		zap.String("reason", request.Reason),
	)
	return p.URL(), nil
}

// AwaitFinished blocks until the finish signal for the task's published
// intervention arrives, or ctx ends.
func (p *Portal) AwaitFinished(ctx context.Context, taskID string) error {
	p.mu.Lock()
	iv := p.active[taskID]
	p.mu.Unlock()

	if iv == nil {
		return fmt.Errorf("no intervention published for task %q", taskID)
	}

	select {
	case <-iv.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear removes the task's intervention so stale portal pages stop rendering
// it. Other tasks' interventions are unaffected.
func (p *Portal) Clear(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, taskID)
}

// SignalFinished delivers the finish signal for the task's intervention, as
// if the human had clicked finish on the page. It reports whether a waiting
// intervention was actually signaled; repeats and unknown ids are no-ops.
func (p *Portal) SignalFinished(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	iv := p.active[taskID]
	if iv == nil || iv.done {
		return false
	}
	iv.done = true
	close(iv.finished)
	p.logger.Info("Manual step reported finished.", zap.String("task_id", taskID))
	return true
}

// URL is the advertised location of the portal page.
func (p *Portal) URL() string {
	host := p.cfg.AdvertiseHost
	if host == "" {
		host = p.cfg.Host
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s/", net.JoinHostPort(host, strconv.Itoa(p.cfg.Port)))
}

// Start binds the listener and serves in the background. It returns once the
// socket is listening so the caller knows the advertised URL is live.
func (p *Portal) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	p.registerRoutes(router)

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("portal failed to listen on %s: %w", addr, err)
	}

	p.srv = &http.Server{Handler: router}
	go func() {
		if err := p.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			p.logger.Error("Portal server terminated.", zap.Error(err))
		}
	}()

	p.logger.Info("Portal listening.", zap.String("addr", addr), zap.String("url", p.URL()))
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (p *Portal) Shutdown(ctx context.Context) error {
	if p.srv == nil {
		return nil
	}
	return p.srv.Shutdown(ctx)
}

func (p *Portal) registerRoutes(router *gin.Engine) {
	router.GET("/", p.handleIndex)
	router.POST("/finish", p.handleFinish)
}

var pageTemplate = template.Must(template.New("portal").Parse(`<!DOCTYPE html>
<html>
<head><title>Navigator - Manual Step</title>
<style>
  body { font-family: sans-serif; max-width: 640px; margin: 40px auto; color: #222; }
  .reason { font-size: 1.2em; font-weight: bold; }
  .task { border: 1px solid #ddd; border-radius: 4px; padding: 12px 16px; margin-bottom: 16px; }
  .vnc { background: #f4f4f4; padding: 8px 12px; border-radius: 4px; }
  button { font-size: 1.1em; padding: 10px 24px; margin-top: 16px; }
</style>
</head>
<body>
{{if .Interventions}}
  <h1>Manual action required</h1>
  {{range .Interventions}}
  <div class="task">
    <p class="reason">{{.Reason}}</p>
    {{if .Instructions}}<p>{{.Instructions}}</p>{{end}}
    {{if $.VNC}}<p class="vnc">Connect to the browser via VNC at <strong>{{$.VNC}}</strong></p>{{end}}
    <form method="POST" action="/finish">
      <input type="hidden" name="task_id" value="{{.TaskID}}">
      <button type="submit">I have finished the manual step</button>
    </form>
  </div>
  {{end}}
{{else}}
  <h1>Navigator</h1>
  <p>No manual action currently required.</p>
{{end}}
</body>
</html>`))

type pageIntervention struct {
	TaskID       string
	Reason       string
	Instructions string
}

type pageData struct {
	Interventions []pageIntervention
	VNC           string
}

func (p *Portal) handleIndex(c *gin.Context) {
	p.mu.Lock()
	data := pageData{}
	for taskID, iv := range p.active {
		data.Interventions = append(data.Interventions, pageIntervention{
			TaskID:       taskID,
			Reason:       iv.request.Reason,
			Instructions: iv.request.Instructions,
		})
	}
	p.mu.Unlock()

	sort.Slice(data.Interventions, func(i, j int) bool {
		return data.Interventions[i].TaskID < data.Interventions[j].TaskID
	})
	if len(data.Interventions) > 0 && p.vnc != nil {
		data.VNC = p.vnc.Address()
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(c.Writer, data); err != nil {
		p.logger.Error("Failed to render portal page.", zap.Error(err))
	}
}

// handleFinish signals the waiting engine named by the form's task_id.
// Repeated submissions after the first are acknowledged without effect.
func (p *Portal) handleFinish(c *gin.Context) {
	p.SignalFinished(c.PostForm("task_id"))

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, "<html><body><h1>Thanks!</h1><p>The task will resume automatically.</p></body></html>")
}
