package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/steemit/sbds/internal/cache"
	"github.com/steemit/sbds/internal/checkpoint"
	"github.com/steemit/sbds/internal/db"
	"github.com/steemit/sbds/internal/indexer"
	"github.com/steemit/sbds/internal/normalizer"
	"github.com/steemit/sbds/internal/operations"
	"github.com/steemit/sbds/pkg/logging"
)

func newCheckpointsCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect checkpoint archives",
		Long: `Checkpoint archives are newline-delimited JSON block files named
blocks-<start>-<end>.json, optionally gzip compressed (.json.gz). The
directory is --checkpoint-dir unless given with --dir.`,
	}

	var dir string
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "archive directory (overrides --checkpoint-dir)")

	scan := func() (*checkpoint.Set, error) {
		d := dir
		if d == "" {
			d = root.Config.Checkpoint.Dir
		}
		if d == "" {
			return nil, NewExitError(ExitStartup, "no checkpoint directory given")
		}
		set, err := checkpoint.Scan(d)
		if err != nil {
			return nil, startupError("failed to scan checkpoints", err)
		}
		return set, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List archives in block order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := scan()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range set.Files {
				fmt.Fprintf(out, "%s\t%d-%d\t%d\n", f.Filename(), f.Start, f.End, f.Count())
			}
			fmt.Fprintf(out, "%d files, %d blocks\n", len(set.Files), set.Count())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "validate",
		Short:         "Check that the archives form one contiguous range",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := scan()
			if err != nil {
				return err
			}
			if len(set.Files) == 0 {
				return NewExitError(ExitFailure, "no checkpoint archives found")
			}
			if err := set.Validate(); err != nil {
				return WrapExitError(ExitFailure, "checkpoint set is invalid", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: blocks %d-%d in %d files\n", set.Start(), set.End(), len(set.Files))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "plan <start> <end>",
		Short:         "Show which archives serve a block range",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseRange(args[0], args[1])
			if err != nil {
				return err
			}
			set, err := scan()
			if err != nil {
				return err
			}
			plan, err := set.Plan(start, end)
			if err != nil {
				return WrapExitError(ExitStartup, "invalid range", err)
			}
			out := cmd.OutOrStdout()
			for i, f := range plan.Files {
				skip := int64(0)
				if i == 0 {
					skip = plan.Offset
				}
				fmt.Fprintf(out, "read\t%s\tskip %d\n", f.Filename(), skip)
			}
			for _, r := range plan.Missing {
				fmt.Fprintf(out, "missing\t%s\n", r)
			}
			fmt.Fprintf(out, "%d of %d blocks covered\n", plan.Covered(), db.Range{Start: start, End: end}.Len())
			return nil
		},
	})

	var compressed bool
	layout := &cobra.Command{
		Use:           "layout <start> <end>",
		Short:         "Print the archive names a block range partitions into",
		Long:          "Partitions the range by --checkpoint-partition blocks, with names padded to --checkpoint-pad-width digits.",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseRange(args[0], args[1])
			if err != nil {
				return err
			}
			cfg := root.Config.Checkpoint
			for _, f := range checkpoint.Partitions(start, end, cfg.Partition, cfg.PadWidth, compressed) {
				fmt.Fprintln(cmd.OutOrStdout(), f.Filename())
			}
			return nil
		},
	}
	layout.Flags().BoolVar(&compressed, "gzip", true, "name gzip compressed archives")
	layout.Flags().Int64("checkpoint-partition", 0, "blocks per archive")
	layout.Flags().Int("checkpoint-pad-width", 0, "digits the block numbers are padded to")
	cmd.AddCommand(layout)

	return cmd
}

func parseRange(a, b string) (int64, int64, error) {
	start, err := strconv.ParseInt(a, 10, 64)
	if err != nil || start < 1 {
		return 0, 0, NewExitError(ExitStartup, fmt.Sprintf("invalid start block %q", a))
	}
	end, err := strconv.ParseInt(b, 10, 64)
	if err != nil || end < start {
		return 0, 0, NewExitError(ExitStartup, fmt.Sprintf("invalid end block %q", b))
	}
	return start, end, nil
}

func newLoadCheckpointsCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load-checkpoints",
		Short: "Store blocks from checkpoint archives",
		Long: `Reads blocks between --start-block and --end-block from the archives in
--checkpoint-dir and stores them. Archives carry no virtual operations.
Ranges no archive covers are reported and left for sync.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := root.Config
			logger := logging.WithComponent("load-checkpoints")

			if cfg.Checkpoint.Dir == "" {
				return NewExitError(ExitStartup, "--checkpoint-dir is required")
			}
			set, err := checkpoint.Scan(cfg.Checkpoint.Dir)
			if err != nil {
				return startupError("failed to scan checkpoints", err)
			}
			if len(set.Files) == 0 {
				return NewExitError(ExitStartup, "no checkpoint archives in "+cfg.Checkpoint.Dir)
			}
			end := cfg.Indexer.EndBlock
			if end == 0 {
				end = set.End()
			}

			registry := operations.NewRegistry()
			database, err := db.New(ctx, &cfg.Database, cfg.Logging.Level)
			if err != nil {
				return startupError("failed to connect to database", err)
			}
			defer database.Close()
			if err := database.InitSchema(ctx, registry); err != nil {
				return startupError("failed to initialize schema", err)
			}

			failed, err := cache.New(&cfg.Redis)
			if err != nil {
				return startupError("failed to connect to redis", err)
			}
			defer failed.Close()

			loader := indexer.NewLoader(
				normalizer.New(registry, logger),
				db.NewWriter(database, logger),
				failed,
				indexer.NewStatus(),
				cfg.Indexer.Workers,
			)
			summary, err := loader.Run(ctx, set, cfg.Indexer.StartBlock, end)
			if err != nil {
				return WrapExitError(ExitFailure, "checkpoint load failed", err)
			}
			return report(cmd, summary)
		},
	}
}
