package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steemit/sbds/internal/db"
)

func newGapsCommand(root *RootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "List block ranges missing from storage",
		Long: `Lists the ranges of block numbers between --start-block and --end-block
that are not stored. Without --end-block the highest stored block is used.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := root.Config

			database, err := db.New(ctx, &cfg.Database, cfg.Logging.Level)
			if err != nil {
				return startupError("failed to connect to database", err)
			}
			defer database.Close()

			gaps := db.NewGapDetector(database, cfg.Indexer.GapWindow)
			end := cfg.Indexer.EndBlock
			if end == 0 {
				if end, err = gaps.HighestBlock(ctx); err != nil {
					return WrapExitError(ExitFailure, "failed to read stored head", err)
				}
			}

			missing, err := gaps.MissingBlocks(ctx, cfg.Indexer.StartBlock, end)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to find gaps", err)
			}
			ranges := db.Collapse(missing)

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), ranges)
			}
			out := cmd.OutOrStdout()
			for _, r := range ranges {
				fmt.Fprintf(out, "%s\t%d\n", r, r.Len())
			}
			fmt.Fprintf(out, "%d missing blocks in %d ranges between %d and %d\n",
				len(missing), len(ranges), cfg.Indexer.StartBlock, end)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print ranges as JSON")
	return cmd
}
