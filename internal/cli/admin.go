package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steemit/sbds/internal/cache"
	"github.com/steemit/sbds/internal/db"
	"github.com/steemit/sbds/internal/operations"
)

func newFailedCommand(root *RootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:           "failed",
		Short:         "List blocks in the failed block registry",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			failed, err := cache.New(&root.Config.Redis)
			if err != nil {
				return startupError("failed to connect to redis", err)
			}
			if failed == nil {
				return NewExitError(ExitStartup, "the failed block registry needs redis_url")
			}
			defer failed.Close()

			failures, err := failed.Failures(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read registry", err)
			}
			if asJSON {
				if failures == nil {
					failures = []cache.Failure{}
				}
				return writeJSON(cmd.OutOrStdout(), failures)
			}
			out := cmd.OutOrStdout()
			for _, f := range failures {
				fmt.Fprintf(out, "%d\t%s\t%s\n", f.BlockNum, f.Stage, f.Reason)
			}
			fmt.Fprintf(out, "%d failed blocks\n", len(failures))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print failures as JSON")
	return cmd
}

func newInitDBCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "init-db",
		Short:         "Create the storage tables",
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

			registry := operations.NewRegistry()
			if err := database.InitSchema(ctx, registry); err != nil {
				return WrapExitError(ExitFailure, "failed to initialize schema", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready: %d operation tables\n", len(registry.Descriptors()))
			return nil
		},
	}
}

func newOperationsCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "operations",
		Short:         "List registered operation kinds and their tables",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, d := range operations.NewRegistry().Descriptors() {
				kind := "real"
				if d.Virtual {
					kind = "virtual"
				}
				fmt.Fprintf(out, "%s\t%s\t%s\t%d columns\n", d.Kind, kind, d.Table, len(d.Columns))
			}
			return nil
		},
	}
}
