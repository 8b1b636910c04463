package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the local index",
		Long: `Report total proofs, distinct owners, and proofs recorded since local
midnight (see the timezone config key).`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				stats, err := a.svc.GetStats(ctx)
				if err != nil {
					return err
				}
				return f.Success(statsView(stats))
			})
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show the ledger gateway status",
		Long:          `Show the ledger network, submitter account and balance, and current head block.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				st, err := a.svc.LedgerStatus(ctx)
				if err != nil {
					return err
				}
				return f.Success(statusView(st))
			})
		},
	}
}
