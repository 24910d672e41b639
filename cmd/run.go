// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
	"github.com/xkilldash9x/navigator-cli/internal/browser"
	"github.com/xkilldash9x/navigator-cli/internal/config"
	"github.com/xkilldash9x/navigator-cli/internal/engine"
	"github.com/xkilldash9x/navigator-cli/internal/executor"
	"github.com/xkilldash9x/navigator-cli/internal/llmclient"
	"github.com/xkilldash9x/navigator-cli/internal/notify"
	"github.com/xkilldash9x/navigator-cli/internal/observability"
	"github.com/xkilldash9x/navigator-cli/internal/portal"
)

// newRunCommand executes a single task in the foreground and exits with the
// task's outcome.
func newRunCommand(configFn func() *config.Config) *cobra.Command {
	var goal string

	runCmd := &cobra.Command{
		Use:   "run <task description>",
		Short: "Run one browser task to completion in the foreground",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFn()
			logger := observability.GetLogger()
			description := strings.Join(args, " ")

			llm, err := llmclient.NewClient(cfg.LLM, logger)
			if err != nil {
				return err
			}
			notifier, err := buildNotifier(cfg.Notifications, logger)
			if err != nil {
				return err
			}

			vnc := vncInfoFrom(cfg.Browser)
			userPortal := portal.New(cfg.Portal, vnc, logger)
			if err := userPortal.Start(); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = userPortal.Shutdown(shutdownCtx)
			}()

			taskID := uuid.New().String()
			artifacts := executor.NewArtifactStore(cfg.Executor.ArtifactsDir, logger)
			session := browser.NewSession(cfg.Browser, logger,
				browser.WithScreenshotSink(artifacts.SinkFor(taskID)))

			eng, err := engine.New(engine.Params{
				Task: schemas.Task{
					ID:          taskID,
					Description: description,
					Goal:        goal,
				},
				Config:      cfg.Engine,
				LLM:         llm,
				Session:     session,
				Notifier:    notifier,
				Portal:      userPortal,
				Logger:      logger,
				PortalURL:   userPortal.URL(),
				VNC:         session.VNC(),
				Temperature: cfg.LLM.Temperature,
			})
			if err != nil {
				return err
			}

			if err := eng.Run(cmd.Context()); err != nil {
				color.New(color.FgRed, color.Bold).Printf("Task failed: %v\n", err)
				return err
			}

			color.New(color.FgGreen, color.Bold).Println("Task finished.")
			return nil
		},
	}

	runCmd.Flags().StringVarP(&goal, "goal", "g", "", "success criterion for the task")
	return runCmd
}

// buildNotifier resolves the configured notification channel. Validation has
// already constrained the channel to a known value.
func buildNotifier(cfg config.NotificationConfig, logger *zap.Logger) (schemas.Notifier, error) {
	switch strings.ToLower(cfg.Channel) {
	case "console":
		return notify.NewConsoleNotifier(), nil
	case "log":
		return notify.NewLogNotifier(logger), nil
	case "composite":
		return notify.NewCompositeNotifier(notify.NewConsoleNotifier(), notify.NewLogNotifier(logger)), nil
	default:
		return nil, fmt.Errorf("unsupported notifications.channel: %q", cfg.Channel)
	}
}

// vncInfoFrom surfaces the deployment's VNC endpoint, if any.
func vncInfoFrom(cfg config.BrowserConfig) *schemas.VNCInfo {
	if cfg.VNCHost == "" || cfg.VNCPort == 0 {
		return nil
	}
	return &schemas.VNCInfo{Host: cfg.VNCHost, Port: cfg.VNCPort}
}
