// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
	"github.com/xkilldash9x/navigator-cli/internal/config"
)

const defaultActionTimeout = 30 * time.Second

// ScreenshotSink receives captured screenshot bytes and returns where they
// were persisted. The executor wires one that numbers artifacts per task.
type ScreenshotSink func(data []byte) (string, error)

// runFunc executes chromedp actions against the live browser. Tests swap it
// for a fake so no Chrome process is needed.
type runFunc func(ctx context.Context, actions ...chromedp.Action) error

// Session drives a single headless Chrome instance over CDP and implements
// schemas.BrowserSession. A session is owned by exactly one engine; its
// methods are not safe for concurrent use except Stop.
type Session struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	run            runFunc
	screenshotSink ScreenshotSink
	vnc            *schemas.VNCInfo

	mu       sync.Mutex
	isClosed bool
}

var _ schemas.BrowserSession = (*Session)(nil)

// Option customizes a Session at construction time.
type Option func(*Session)

// WithScreenshotSink routes captured screenshots into sink instead of
// discarding them.
func WithScreenshotSink(sink ScreenshotSink) Option {
	return func(s *Session) { s.screenshotSink = sink }
}

// NewSession builds an unstarted session. Start must be called before any
// action is executed.
func NewSession(cfg config.BrowserConfig, logger *zap.Logger, opts ...Option) *Session {
	s := &Session{
		cfg:    cfg,
		logger: logger.Named("browser"),
	}
	if cfg.VNCHost != "" {
		s.vnc = &schemas.VNCInfo{Host: cfg.VNCHost, Port: cfg.VNCPort}
	}
	for _, opt := range opts {
		opt(s)
	}
	s.run = s.runLive
	return s
}

// VNC returns the advertised remote-display coordinates, or nil when the
// deployment has none. This is informational only; the engine never drives
// the browser through VNC.
func (s *Session) VNC() *schemas.VNCInfo {
	return s.vnc
}

// Start launches the Chrome process and connects the CDP session.
func (s *Session) Start(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.WindowSize(s.cfg.WindowWidth, s.cfg.WindowHeight),
	)
	for _, arg := range s.cfg.Args {
		name, value := splitFlag(arg)
		opts = append(opts, chromedp.Flag(name, value))
	}

	// The allocator hangs off context.Background() so the browser lifetime is
	// controlled by Stop, not by whichever request context started it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel

	// Surface page-side failures in our logs; the LLM only ever sees page
	// text, so uncaught exceptions would otherwise be invisible.
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *runtime.EventExceptionThrown:
			s.logger.Debug("Page exception.", zap.String("detail", e.ExceptionDetails.Error()))
		case *runtime.EventConsoleAPICalled:
			if e.Type == runtime.APITypeError {
				s.logger.Debug("Page console error.", zap.Int("args", len(e.Args)))
			}
		}
	})

	startCtx, cancel := CombineContext(browserCtx, ctx)
	defer cancel()

	// An empty Run establishes the target and verifies CDP connectivity.
	if err := chromedp.Run(startCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	s.logger.Info("Browser session started.",
		zap.Bool("headless", s.cfg.Headless),
		zap.Int("width", s.cfg.WindowWidth),
		zap.Int("height", s.cfg.WindowHeight),
	)
	return nil
}

// Stop terminates the browser process. It is idempotent.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	return nil
}

// Execute runs exactly one action against the page and returns the
// observation captured afterwards. For extract_text the observation's
// PageText carries the extracted element text rather than the body.
func (s *Session) Execute(ctx context.Context, action schemas.BrowserAction) (schemas.Observation, error) {
	var res actionResult
	tasks, err := s.tasksFor(action, &res)
	if err != nil {
		return schemas.Observation{}, err
	}

	actionCtx, cancel := context.WithTimeout(ctx, s.timeoutFor(action))
	defer cancel()

	if err := s.run(actionCtx, tasks...); err != nil {
		return schemas.Observation{}, fmt.Errorf("%s action failed: %w", action.Type, err)
	}

	if len(res.screenshot) > 0 && s.screenshotSink != nil {
		path, err := s.screenshotSink(res.screenshot)
		if err != nil {
			s.logger.Warn("Failed to persist screenshot.", zap.Error(err))
		} else {
			s.logger.Debug("Screenshot persisted.", zap.String("path", path))
		}
	}

	obs, err := s.Observe(ctx)
	if err != nil {
		return schemas.Observation{}, err
	}
	if res.extracted != "" {
		obs.PageText = trimText(res.extracted, s.cfg.PageTextLimit)
	}
	return obs, nil
}

// Observe captures the current URL, title and visible body text without
// mutating page state.
func (s *Session) Observe(ctx context.Context) (schemas.Observation, error) {
	var (
		url, title, text string
	)

	obsCtx, cancel := context.WithTimeout(ctx, s.timeoutFor(schemas.BrowserAction{}))
	defer cancel()

	err := s.run(obsCtx,
		chromedp.Location(&url),
		chromedp.Title(&title),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text),
	)
	if err != nil {
		return schemas.Observation{}, fmt.Errorf("failed to observe page state: %w", err)
	}

	return schemas.Observation{
		URL:        url,
		Title:      title,
		PageText:   trimText(text, s.cfg.PageTextLimit),
		CapturedAt: time.Now().UTC(),
	}, nil
}

type actionResult struct {
	screenshot []byte
	extracted  string
}

// tasksFor maps a directive action onto the chromedp actions that realize it.
func (s *Session) tasksFor(action schemas.BrowserAction, res *actionResult) (chromedp.Tasks, error) {
	switch action.Type {
	case schemas.ActionNavigate:
		return chromedp.Tasks{
			chromedp.Navigate(action.Target),
			chromedp.WaitReady("body", chromedp.ByQuery),
		}, nil

	case schemas.ActionClick:
		return chromedp.Tasks{
			chromedp.WaitVisible(action.Target, chromedp.ByQuery),
			chromedp.Click(action.Target, chromedp.ByQuery),
		}, nil

	case schemas.ActionTypeText:
		return chromedp.Tasks{
			chromedp.WaitVisible(action.Target, chromedp.ByQuery),
			chromedp.SendKeys(action.Target, action.Value, chromedp.ByQuery),
		}, nil

	case schemas.ActionScroll:
		pixels := action.ScrollBy
		if pixels == 0 {
			pixels = 600
		}
		return chromedp.Tasks{
			chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", pixels), nil),
		}, nil

	case schemas.ActionWaitForSelector:
		return chromedp.Tasks{
			chromedp.WaitVisible(action.Target, chromedp.ByQuery),
		}, nil

	case schemas.ActionExtractText:
		return chromedp.Tasks{
			chromedp.WaitVisible(action.Target, chromedp.ByQuery),
			chromedp.Text(action.Target, &res.extracted, chromedp.ByQuery),
		}, nil

	case schemas.ActionScreenshot:
		return chromedp.Tasks{
			chromedp.CaptureScreenshot(&res.screenshot),
		}, nil

	case schemas.ActionWait:
		return chromedp.Tasks{
			chromedp.Sleep(time.Duration(action.Seconds * float64(time.Second))),
		}, nil
	}

	return nil, fmt.Errorf("unsupported action type: %q", action.Type)
}

// timeoutFor resolves the per-action deadline: the directive's own timeout
// wins, then the navigation/action defaults from configuration. A wait
// action's deadline always covers its requested sleep.
func (s *Session) timeoutFor(action schemas.BrowserAction) time.Duration {
	timeout := defaultActionTimeout
	switch {
	case action.TimeoutSeconds > 0:
		timeout = time.Duration(action.TimeoutSeconds * float64(time.Second))
	case action.Type == schemas.ActionNavigate && s.cfg.NavigationTimeout > 0:
		timeout = s.cfg.NavigationTimeout
	case s.cfg.ActionTimeout > 0:
		timeout = s.cfg.ActionTimeout
	}
	if action.Type == schemas.ActionWait {
		if min := time.Duration(action.Seconds*float64(time.Second)) + time.Second; timeout < min {
			timeout = min
		}
	}
	return timeout
}

// runLive executes actions against the real browser, honoring both the
// session lifetime and the caller's context.
func (s *Session) runLive(ctx context.Context, actions ...chromedp.Action) error {
	if s.browserCtx == nil {
		return fmt.Errorf("browser session not started")
	}
	runCtx, cancel := CombineContext(s.browserCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// trimText clamps page text to the configured limit, marking the cut. The
// cut backs off to a rune boundary so truncation never emits invalid UTF-8.
func trimText(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "\n[... text truncated ...]"
}

// splitFlag turns a raw "--name=value" CLI flag into chromedp.Flag inputs.
func splitFlag(arg string) (string, interface{}) {
	arg = strings.TrimPrefix(arg, "--")
	if name, value, found := strings.Cut(arg, "="); found {
		return name, value
	}
	return arg, true
}
