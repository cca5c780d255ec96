package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steemit/sbds/internal/api"
	"github.com/steemit/sbds/internal/cache"
	"github.com/steemit/sbds/internal/db"
	"github.com/steemit/sbds/internal/indexer"
	"github.com/steemit/sbds/internal/operations"
	"github.com/steemit/sbds/internal/steem"
	"github.com/steemit/sbds/pkg/logging"
)

type syncOptions struct {
	follow   bool
	interval time.Duration
}

func newSyncCommand(root *RootOptions) *cobra.Command {
	opts := &syncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch and store every missing block up to the chain height",
		Long: `Finds the blocks missing from storage between --start-block and the
last irreversible block (or --end-block), then fetches, normalizes and
stores them across --workers parallel workers.

With --retry-failed, exactly the blocks in the failed block registry are
processed and the ones that get stored are removed from it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, root, opts)
		},
	}

	cmd.Flags().Bool("retry-failed", false, "process the failed block registry instead of gaps")
	cmd.Flags().Bool("use-head-block", false, "sync to the head block instead of the last irreversible block")
	cmd.Flags().BoolVar(&opts.follow, "follow", false, "keep syncing new blocks until interrupted")
	cmd.Flags().DurationVar(&opts.interval, "interval", 3*time.Second, "pause between passes with --follow")

	return cmd
}

func runSync(cmd *cobra.Command, root *RootOptions, opts *syncOptions) error {
	ctx := cmd.Context()
	cfg := root.Config
	logger := logging.WithComponent("sync")

	registry := operations.NewRegistry()

	database, err := db.New(ctx, &cfg.Database, cfg.Logging.Level)
	if err != nil {
		return startupError("failed to connect to database", err)
	}
	defer database.Close()

	if err := database.InitSchema(ctx, registry); err != nil {
		return startupError("failed to initialize schema", err)
	}

	node, err := steem.New(&cfg.Steem, cfg.Indexer.MaxInFlight)
	if err != nil {
		return startupError("failed to create steemd client", err)
	}
	defer node.Close()

	irreversible, err := node.LastIrreversible(ctx)
	if err != nil {
		return startupError("steemd is unreachable", err)
	}
	logger.Info("Connected to steemd",
		zap.String("url", cfg.Steem.URL),
		zap.Int64("last_irreversible", irreversible))

	failed, err := cache.New(&cfg.Redis)
	if err != nil {
		return startupError("failed to connect to redis", err)
	}
	defer failed.Close()

	if cfg.Indexer.RetryFailed && failed == nil {
		return NewExitError(ExitStartup, "--retry-failed needs redis_url")
	}

	mode := "sync"
	if cfg.Indexer.RetryFailed {
		mode = "retry-failed"
	}

	status := indexer.NewStatus()
	supervisor := indexer.NewSupervisor(indexer.NewOpener(cfg, registry), failed, status, indexer.Options{
		Workers:        cfg.Indexer.Workers,
		Mode:           mode,
		ClearRecovered: cfg.Indexer.RetryFailed,
	})
	sync := indexer.NewSync(node, db.NewGapDetector(database, cfg.Indexer.GapWindow), supervisor, failed, indexer.SyncOptions{
		StartBlock:   cfg.Indexer.StartBlock,
		EndBlock:     cfg.Indexer.EndBlock,
		UseHeadBlock: cfg.Indexer.UseHeadBlock,
		RetryFailed:  cfg.Indexer.RetryFailed,
		Follow:       opts.follow,
		Interval:     opts.interval,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Server.Port > 0 {
		router := api.NewRouter(api.Deps{
			Status:   status,
			Blocks:   db.NewRepository(database),
			Failures: failed,
			Database: database,
		})
		server := api.NewServer(&cfg.Server, router, cfg.Logging.Level == "DEBUG")
		serveErrs, err := server.Start(runCtx)
		if err != nil {
			return startupError("failed to start status server", err)
		}
		go func() {
			if err := <-serveErrs; err != nil {
				logger.Error("Status server failed", zap.Error(err))
			}
		}()
	}

	summary, err := sync.Run(runCtx)
	if err != nil {
		var startup *indexer.StartupError
		switch {
		case errors.As(err, &startup):
			return startupError("failed to start workers", err)
		case errors.Is(err, context.Canceled):
			logger.Info("Sync interrupted")
		default:
			return WrapExitError(ExitFailure, "sync failed", err)
		}
	}

	return report(cmd, summary)
}

// report prints the summary and turns failed blocks into an exit code.
func report(cmd *cobra.Command, summary indexer.Summary) error {
	if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d blocks failed", summary.Failed, summary.Requested))
	}
	return nil
}
