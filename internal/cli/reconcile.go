package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	Owner   ownerFlags
	Content contentFlags
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile <fingerprint>",
		Short: "Record a ledger anchor that is missing from the local index",
		Long: `Record an anchor that reached the ledger but not the local index:
after exit code 4 (index write failure), or after an anchor that timed out
or was interrupted and confirmed later.

Only anchors submitted by this gateway's own ledger account are adopted.

Example:
  proofstamp reconcile b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9 --owner-id u1 --owner-name Alice`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				fp, err := parseFingerprint(args[0])
				if err != nil {
					return err
				}
				kind, file, err := opts.Content.resolve()
				if err != nil {
					return err
				}
				p, err := a.svc.Reconcile(ctx, opts.Owner.metadata(), fp, kind, file)
				if err != nil {
					return err
				}
				return f.Success(proofView(p))
			})
		},
	}
	opts.Owner.register(cmd)
	opts.Content.register(cmd)
	return cmd
}
