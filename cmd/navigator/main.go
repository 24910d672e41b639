// File: cmd/navigator/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/navigator-cli/cmd"
	"github.com/xkilldash9x/navigator-cli/internal/observability"
)

func main() {
	defer observability.Sync()

	// Ctrl+C and SIGTERM cancel the command context; the engine translates
	// that into a failed task with a cancellation reason.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
