package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fppkit/calbridge/adapter/cli"
	"github.com/fppkit/calbridge/internal/app"
	"github.com/fppkit/calbridge/pkg/config"
	"github.com/fppkit/calbridge/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cli.SetLogger(logger)

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	cli.SetContainer(container)

	// os.Exit skips defers, so close the container explicitly before
	// reporting the command's exit code.
	code := cli.Execute(ctx)
	container.Close()
	os.Exit(code)
}
