package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/proofstamp/internal/anchor"
	"github.com/roach88/proofstamp/internal/proof"
)

// AnchorOptions holds flags for the anchor commands.
type AnchorOptions struct {
	*RootOptions
	Owner   ownerFlags
	Content contentFlags
	Mime    string
}

// NewAnchorCommand creates the anchor command group.
func NewAnchorCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anchor",
		Short: "Anchor content to the ledger",
		Long: `Anchor the fingerprint of text, a file, or a precomputed hash.

The command blocks until the ledger confirms the transaction. A fingerprint
can be anchored once; anchoring it again reports who anchored it first.

Exit codes: 0 anchored, 1 already anchored, 2 invalid input,
3 ledger failure, 4 confirmed but not recorded (run reconcile).`,
	}

	cmd.AddCommand(newAnchorTextCommand(rootOpts))
	cmd.AddCommand(newAnchorFileCommand(rootOpts))
	cmd.AddCommand(newAnchorHashCommand(rootOpts))
	return cmd
}

func newAnchorTextCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnchorOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "text [text|-]",
		Short: "Anchor a piece of text",
		Long: `Anchor a piece of text. Reads stdin when the argument is omitted or "-".

Example:
  proofstamp anchor text "hello world" --owner-id u1 --owner-name Alice
  cat notes.md | proofstamp anchor text --owner-name Alice`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				text, err := readText(cmd, args, a.cfg.Limits.TextBytes)
				if err != nil {
					return err
				}
				p, err := a.svc.CreateAnchor(ctx, anchor.AnchorRequest{
					Owner:   opts.Owner.metadata(),
					Content: text,
					Kind:    proof.KindText,
				})
				if err != nil {
					return err
				}
				return f.Success(proofView(p))
			})
		},
	}
	opts.Owner.register(cmd)
	return cmd
}

func newAnchorFileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnchorOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "file <path>",
		Short: "Anchor a file",
		Long: `Anchor a file. The file is streamed through SHA-256; only the
fingerprint and the file's name, size and type are recorded.

Example:
  proofstamp anchor file ./thesis.pdf --owner-id u1 --owner-name Alice`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				fp, meta, err := hashFile(args[0], a.cfg.Limits.FileBytes)
				if err != nil {
					return err
				}
				if opts.Mime != "" {
					meta.Mime = opts.Mime
				}
				f.VerboseLog("fingerprint %s (%d bytes)", fp, meta.Size)
				p, err := a.svc.CreateAnchorFromFingerprint(ctx, opts.Owner.metadata(), fp, proof.KindFile, &meta)
				if err != nil {
					return err
				}
				return f.Success(proofView(p))
			})
		},
	}
	opts.Owner.register(cmd)
	cmd.Flags().StringVar(&opts.Mime, "mime", "", "MIME type (default: from extension)")
	return cmd
}

func newAnchorHashCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnchorOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "hash <fingerprint>",
		Short: "Anchor a precomputed SHA-256 fingerprint",
		Long: `Anchor a fingerprint computed elsewhere (64 hex chars, optional 0x).

Example:
  proofstamp anchor hash b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9 --owner-name Alice
  proofstamp anchor hash $(sha256sum report.pdf | cut -c1-64) --kind file --file-name report.pdf --file-size 52311 --owner-name Alice`,
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
				p, err := a.svc.CreateAnchorFromFingerprint(ctx, opts.Owner.metadata(), fp, kind, file)
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
