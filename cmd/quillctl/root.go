package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"quill/internal/app"
	"quill/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "quillctl",
	Short:         "Operate a quill deployment",
	Long:          `Apply migrations, run pipeline workers, and re-trigger document analysis.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// setup loads configuration and a logger for one command run
func setup() (*config.Config, *slog.Logger, func(), error) {
	cfg := config.Load()
	logger, closer, err := config.NewLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, func() { _ = closer.Close() }, nil
}

// withApp builds the application for commands that need the broker
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, logger, done, err := setup()
	if err != nil {
		return err
	}
	defer done()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, 1, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
