package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/proofstamp/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	OwnerID string
	Limit   int
	Offset  int
	Sort    string
	Desc    bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List an owner's proofs",
		Long: `List the proofs anchored by one owner.

Sort keys: position (anchor order, default), recorded_at, anchored_at.

Example:
  proofstamp history --owner-id u1
  proofstamp history --owner-id u1 --sort recorded_at --desc --limit 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				sortKey, err := store.ParseSortKey(opts.Sort)
				if err != nil {
					return err
				}
				proofs, err := a.svc.ListHistory(ctx, opts.OwnerID, store.ListOptions{
					Limit:  opts.Limit,
					Offset: opts.Offset,
					Sort:   sortKey,
					Desc:   opts.Desc,
				})
				if err != nil {
					return err
				}
				return f.Success(proofListView(proofs))
			})
		},
	}

	cmd.Flags().StringVar(&opts.OwnerID, "owner-id", "", "owner id (required)")
	_ = cmd.MarkFlagRequired("owner-id")
	cmd.Flags().IntVar(&opts.Limit, "limit", store.DefaultListLimit, fmt.Sprintf("maximum results (1-%d)", store.MaxListLimit))
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "results to skip")
	cmd.Flags().StringVar(&opts.Sort, "sort", string(store.SortPosition), "sort key (position|recorded_at|anchored_at)")
	cmd.Flags().BoolVar(&opts.Desc, "desc", false, "sort descending")

	return cmd
}

// NewRecentCommand creates the recent command.
func NewRecentCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:           "recent",
		Short:         "List the most recently recorded proofs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				proofs, err := a.svc.Recent(ctx, limit)
				if err != nil {
					return err
				}
				return f.Success(proofListView(proofs))
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, fmt.Sprintf("maximum results (1-%d)", store.MaxListLimit))
	return cmd
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <name-prefix>",
		Short: "Find proofs by owner display name prefix",
		Long: `Find proofs whose owner display name starts with the given prefix.
Names are compared after Unicode NFC normalization.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				proofs, err := a.svc.Search(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return f.Success(proofListView(proofs))
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", store.DefaultListLimit, fmt.Sprintf("maximum results (1-%d)", store.MaxListLimit))
	return cmd
}
