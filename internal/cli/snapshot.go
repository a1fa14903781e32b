package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSnapshotCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch usage once and print it",
		Long:  `Fetches usage from every enabled provider in parallel and prints one row per provider, in settings order.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			results, err := a.fetch(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if len(results) == 0 && opts.output == outputTable {
				fmt.Fprintln(cmd.ErrOrStderr(), "No providers enabled. Run `llmeter login <provider>` or edit the settings file.")
			}

			if err := render(cmd.OutOrStdout(), opts.output, results, time.Now()); err != nil {
				return err
			}
			return storeFailure(results)
		},
	}
}
