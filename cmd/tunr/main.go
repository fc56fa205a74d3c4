package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tunr/backend/internal/engine"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := NewRunner(RunnerOpts{})
	if err := newApp(runner).Run(ctx, os.Args); err != nil {
		runner.logger.Error(engine.UserMessage(err))
		stop()
		os.Exit(1)
	}
}
