// internal/notify/notify.go
package notify

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
)

// ConsoleNotifier prints human-facing progress lines to a terminal. It is the
// surface an operator watches while a task runs, distinct from structured
// logging.
type ConsoleNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleNotifier writes to stdout.
func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{out: os.Stdout}
}

// NewConsoleNotifierTo writes to w; used by tests.
func NewConsoleNotifierTo(w io.Writer) *ConsoleNotifier {
	return &ConsoleNotifier{out: w}
}

var (
	infoColor    = color.New(color.FgCyan)
	successColor = color.New(color.FgGreen, color.Bold)
	warnColor    = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	actionColor  = color.New(color.FgMagenta, color.Bold)
)

// Notify renders one event as a single colored line.
func (n *ConsoleNotifier) Notify(event schemas.NotificationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := infoColor
	switch event.Level {
	case schemas.LevelSuccess:
		c = successColor
	case schemas.LevelWarning:
		c = warnColor
	case schemas.LevelError:
		c = errorColor
	}
	// Hand-off events get the loudest treatment regardless of level.
	if event.Kind == schemas.EventUserActionRequired {
		c = actionColor
	}

	prefix := c.Sprintf("[%s]", event.Kind)
	if _, err := fmt.Fprintf(n.out, "%s task=%s %s\n", prefix, event.TaskID, event.Message); err != nil {
		return fmt.Errorf("console notify failed: %w", err)
	}

	for k, v := range event.Data {
		if _, err := fmt.Fprintf(n.out, "    %s: %s\n", k, v); err != nil {
			return fmt.Errorf("console notify failed: %w", err)
		}
	}
	return nil
}

// LogNotifier mirrors events into the structured log so headless deployments
// keep a record without a terminal attached.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Notify(event schemas.NotificationEvent) error {
	fields := []zap.Field{
		zap.String("kind", string(event.Kind)),
		zap.String("task_id", event.TaskID),
	}
	if len(event.Data) > 0 {
		fields = append(fields, zap.Any("data", event.Data))
	}

	switch event.Level {
	case schemas.LevelError:
		n.logger.Error(event.Message, fields...)
	case schemas.LevelWarning:
		n.logger.Warn(event.Message, fields...)
	default:
		n.logger.Info(event.Message, fields...)
	}
	return nil
}

// CompositeNotifier fans one event out to several sinks. Every sink is
// attempted; the first error is returned after all have run.
type CompositeNotifier struct {
	sinks []schemas.Notifier
}

func NewCompositeNotifier(sinks ...schemas.Notifier) *CompositeNotifier {
	return &CompositeNotifier{sinks: sinks}
}

func (n *CompositeNotifier) Notify(event schemas.NotificationEvent) error {
	var firstErr error
	for _, sink := range n.sinks {
		if err := sink.Notify(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	_ schemas.Notifier = (*ConsoleNotifier)(nil)
	_ schemas.Notifier = (*LogNotifier)(nil)
	_ schemas.Notifier = (*CompositeNotifier)(nil)
)
