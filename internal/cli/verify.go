package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/proofstamp/internal/proof"
)

// NewVerifyCommand creates the verify command group.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check whether content has been anchored",
		Long: `Check whether content has been anchored.

The local index is consulted first. Fingerprints missing from the index are
looked up on the ledger; such results carry no verified owner.

Exit codes: 0 found, 1 not found, 2 invalid input, 3 ledger unreachable.`,
	}

	cmd.AddCommand(newVerifyTextCommand(rootOpts))
	cmd.AddCommand(newVerifyFileCommand(rootOpts))
	cmd.AddCommand(newVerifyHashCommand(rootOpts))
	return cmd
}

func newVerifyTextCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "text [text|-]",
		Short:         "Verify a piece of text",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				text, err := readText(cmd, args, a.cfg.Limits.FileBytes)
				if err != nil {
					return err
				}
				res, err := a.svc.VerifyContent(ctx, text)
				if err != nil {
					return err
				}
				return reportVerification(f, res)
			})
		},
	}
}

func newVerifyFileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "file <path>",
		Short:         "Verify a file",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				fp, _, err := hashFile(args[0], 0)
				if err != nil {
					return err
				}
				res, err := a.svc.VerifyByFingerprint(ctx, fp)
				if err != nil {
					return err
				}
				return reportVerification(f, res)
			})
		},
	}
}

func newVerifyHashCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "hash <fingerprint>",
		Short:         "Verify a SHA-256 fingerprint",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				fp, err := parseFingerprint(args[0])
				if err != nil {
					return err
				}
				res, err := a.svc.VerifyByFingerprint(ctx, fp)
				if err != nil {
					return err
				}
				return reportVerification(f, res)
			})
		},
	}
}

// reportVerification prints res. A negative result exits 1 without an
// error message; the output already says so.
func reportVerification(f *OutputFormatter, res proof.VerificationResult) error {
	if err := f.Success(verifyView(res)); err != nil {
		return err
	}
	if !res.Found {
		return NewExitError(ExitFailure, "no proof found")
	}
	return nil
}
