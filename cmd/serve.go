// File: cmd/serve.go
package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
	"github.com/xkilldash9x/navigator-cli/internal/browser"
	"github.com/xkilldash9x/navigator-cli/internal/config"
	"github.com/xkilldash9x/navigator-cli/internal/executor"
	"github.com/xkilldash9x/navigator-cli/internal/llmclient"
	"github.com/xkilldash9x/navigator-cli/internal/observability"
	"github.com/xkilldash9x/navigator-cli/internal/portal"
)

// newServeCommand runs the executor service: the task API, the hand-off
// portal, and one engine per submitted task.
func newServeCommand(configFn func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the executor service and wait for task submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFn()
			logger := observability.GetLogger()

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

			artifacts := executor.NewArtifactStore(cfg.Executor.ArtifactsDir, logger)
			registry, err := executor.NewRegistry(executor.Deps{
				Config:   cfg,
				LLM:      llm,
				Portal:   userPortal,
				Notifier: notifier,
				Sessions: func(taskID string, sink browser.ScreenshotSink) (schemas.BrowserSession, *schemas.VNCInfo, error) {
					session := browser.NewSession(cfg.Browser, logger, browser.WithScreenshotSink(sink))
					return session, session.VNC(), nil
				},
				Artifacts: artifacts,
				Logger:    logger,
				PortalURL: userPortal.URL(),
			})
			if err != nil {
				return err
			}

			server := executor.NewServer(cfg.Executor, registry, artifacts, userPortal.SignalFinished, logger)
			if err := server.Start(); err != nil {
				return err
			}

			logger.Info("Executor service is up.",
				zap.String("portal_url", userPortal.URL()),
				zap.Int("api_port", cfg.Executor.Port),
			)

			// Block until the process is told to stop, then drain everything.
			<-cmd.Context().Done()
			logger.Info("Shutting down executor service.")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			g, gctx := errgroup.WithContext(shutdownCtx)
			g.Go(func() error { return server.Shutdown(gctx) })
			g.Go(func() error { return userPortal.Shutdown(gctx) })
			g.Go(func() error { return registry.Shutdown(gctx) })
			if err := g.Wait(); err != nil {
				logger.Warn("Shutdown did not complete cleanly.", zap.Error(err))
				return err
			}
			return nil
		},
	}
}
