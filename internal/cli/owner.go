package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/proofstamp/internal/proof"
)

// NewOwnerCommand creates the owner command group.
func NewOwnerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Maintain owner records in the local index",
		Long: `Rewrite or erase the owner identity stored with proofs.

Only the local index changes. Anchors on the ledger are permanent; erased
fingerprints keep verifying as ledger-only proofs with an unknown owner.`,
	}
	cmd.AddCommand(newOwnerUpdateCommand(rootOpts))
	cmd.AddCommand(newOwnerEraseCommand(rootOpts))
	return cmd
}

func newOwnerUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var owner ownerFlags
	cmd := &cobra.Command{
		Use:           "update",
		Short:         "Rewrite an owner's display name and contact on all their proofs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				n, err := a.svc.UpdateOwner(ctx, owner.metadata())
				if err != nil {
					return err
				}
				return f.Success(ownerChangeView{OwnerID: owner.ID, Action: "updated", Proofs: n})
			})
		},
	}
	owner.register(cmd)
	_ = cmd.MarkFlagRequired("owner-id")
	return cmd
}

func newOwnerEraseCommand(rootOpts *RootOptions) *cobra.Command {
	var ownerID string
	var yes bool
	cmd := &cobra.Command{
		Use:           "erase",
		Short:         "Delete all of an owner's proofs from the local index",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				if !yes {
					return proof.NewValidationError("refusing to erase without --yes")
				}
				n, err := a.svc.EraseOwner(ctx, ownerID)
				if err != nil {
					return err
				}
				return f.Success(ownerChangeView{OwnerID: ownerID, Action: "erased", Proofs: n})
			})
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "owner id (required)")
	_ = cmd.MarkFlagRequired("owner-id")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm erasure")
	return cmd
}
