// File: cmd/admin.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/navigator-cli/internal/admin"
	"github.com/xkilldash9x/navigator-cli/internal/config"
	"github.com/xkilldash9x/navigator-cli/internal/observability"
)

// newAdminCommand groups fleet supervision: a live aggregate view plus the
// pause/resume/cancel controls the executor API exposes.
func newAdminCommand(configFn func() *config.Config) *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Supervise running executors",
	}

	var executorURL string

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll all configured executors and render an aggregate task table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFn()
			poller, err := admin.NewPoller(cfg.Admin, os.Stdout, observability.GetLogger())
			if err != nil {
				return err
			}
			return poller.Run(cmd.Context())
		},
	}

	client := func() (*admin.Client, error) {
		cfg := configFn()
		target := executorURL
		if target == "" {
			if len(cfg.Admin.Executors) == 0 {
				return nil, fmt.Errorf("no executor configured; pass --executor or set admin.executors")
			}
			target = cfg.Admin.Executors[0]
		}
		return admin.NewClient(target, cfg.Admin.RequestTimeout, observability.GetLogger()), nil
	}

	var pauseReason, pauseInstructions string
	pauseCmd := &cobra.Command{
		Use:   "pause <task-id>",
		Short: "Queue a manual hand-off for a running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			return c.Pause(cmd.Context(), args[0], pauseReason, pauseInstructions)
		},
	}
	pauseCmd.Flags().StringVar(&pauseReason, "reason", "", "why the task should pause")
	pauseCmd.Flags().StringVar(&pauseInstructions, "instructions", "", "what the operator should do")

	resumeCmd := &cobra.Command{
		Use:   "resume <task-id>",
		Short: "Deliver the finish signal for a task waiting on a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			return c.Resume(cmd.Context(), args[0])
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Abort a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			return c.Cancel(cmd.Context(), args[0])
		},
	}

	adminCmd.PersistentFlags().StringVar(&executorURL, "executor", "", "executor base URL (default: first of admin.executors)")
	adminCmd.AddCommand(watchCmd, pauseCmd, resumeCmd, cancelCmd)
	return adminCmd
}
