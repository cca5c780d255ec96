package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steemit/sbds/pkg/config"
	"github.com/steemit/sbds/pkg/logging"
	"github.com/steemit/sbds/pkg/telemetry"
)

// RootOptions holds the state shared by every command of one invocation.
type RootOptions struct {
	Config *config.Config

	shutdown func()
}

func (o *RootOptions) close() {
	if o.shutdown != nil {
		o.shutdown()
		o.shutdown = nil
	}
	_ = logging.GetLogger().Sync()
}

// NewRootCommand creates the root command of the sbds CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sbds",
		Short: "sbds - Steem blockchain data service",
		Long:  "Mirrors the Steem ledger into PostgreSQL: blocks, transactions, operations and accounts.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("database-url", "", "PostgreSQL connection string")
	flags.String("steemd-url", "", "steemd JSON-RPC endpoint")
	flags.String("redis-url", "", "Redis URL of the failed block registry (disabled when empty)")
	flags.String("log-level", "", "log level (DEBUG|INFO|WARN|ERROR)")
	flags.String("log-format", "", "log format (json|text)")
	flags.Bool("telemetry-enabled", true, "enable tracing and metrics exporters")
	flags.Int("workers", 0, "number of parallel workers")
	flags.Int("batch-size", 0, "blocks per batch request")
	flags.Int("max-in-flight", 0, "concurrent batch requests per worker")
	flags.Int64("start-block", 0, "first block number")
	flags.Int64("end-block", 0, "last block number (0 means the current height)")
	flags.Int64("gap-window", 0, "block range scanned per gap query")
	flags.String("checkpoint-dir", "", "directory of checkpoint archives")
	flags.Int("status-port", 0, "port of the status server (0 disables it)")

	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newGapsCommand(opts))
	cmd.AddCommand(newCheckpointsCommand(opts))
	cmd.AddCommand(newLoadCheckpointsCommand(opts))
	cmd.AddCommand(newFailedCommand(opts))
	cmd.AddCommand(newInitDBCommand(opts))
	cmd.AddCommand(newOperationsCommand(opts))

	return cmd
}

// setup loads configuration and starts logging and telemetry.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	if err := config.BindFlags(cmd.Flags()); err != nil {
		return startupError("failed to bind flags", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return startupError("failed to load configuration", err)
	}
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		return startupError("failed to initialize logger", err)
	}
	shutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		return startupError("failed to initialize telemetry", err)
	}

	o.Config = cfg
	o.shutdown = shutdown
	logging.GetLogger().Debug("Configuration loaded",
		zap.String("command", cmd.Name()),
		zap.Int("workers", cfg.Indexer.Workers),
		zap.Int("batch_size", cfg.Indexer.BatchSize))
	return nil
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	opts.close()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return GetExitCode(err)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
