package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"quill/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var reanalyzeCmd = &cobra.Command{
	Use:   "reanalyze [doc-id...]",
	Short: "Re-run the annotation pipeline for ACTIVE documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runReanalyze,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run pipeline consumers without the HTTP server",
	Long: `Runs the summarizer, tagger, embedder and failure consumers configured in the
pipeline file. Workers and servers may run side by side on the Redis broker:
each partition of a consumer group is leased to one process at a time, and
another process takes it over when the holder stops.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

// reanalyzeUser is the acting user recorded for CLI-triggered analysis.
var reanalyzeUser string

func init() {
	reanalyzeCmd.Flags().StringVarP(&reanalyzeUser, "user", "u", "quillctl", "User ID to act as")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reanalyzeCmd)
	rootCmd.AddCommand(workerCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, done, err := setup()
	if err != nil {
		return err
	}
	defer done()

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL environment variable not set")
	}

	storage, err := app.OpenStorage(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	storage.Close()

	cmd.Printf("Migrations applied (table prefix %q)\n", cfg.TablePrefix)
	return nil
}

func runReanalyze(cmd *cobra.Command, args []string) error {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id < 1 {
			return fmt.Errorf("invalid document id %q", arg)
		}
		ids = append(ids, id)
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		var failed int
		for _, id := range ids {
			doc, err := a.Lifecycle.Reanalyze(ctx, reanalyzeUser, id)
			if err != nil {
				cmd.PrintErrf("  %d: %v\n", id, err)
				failed++
				continue
			}
			cmd.Printf("  %d: queued revision %d\n", doc.ID, doc.CurrentRevisionID)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d documents not queued", failed, len(ids))
		}
		return nil
	})
}

func runWorker(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		pipeline, err := a.NewPipeline()
		if err != nil {
			return err
		}
		if err := pipeline.Register(a.Broker, a.Pipeline); err != nil {
			return err
		}

		// Status events reach SSE clients through the relay on server instances.
		cmd.Printf("Worker running with %d consumers; Ctrl-C to stop\n", len(a.Pipeline.Consumers))
		return a.Broker.Run(ctx)
	})
}
