package cli

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/proofstamp/internal/fingerprint"
	"github.com/roach88/proofstamp/internal/proof"
)

// ownerFlags is the owner identity passed on the command line. The CLI
// trusts it; authentication belongs to whatever invokes proofstamp.
type ownerFlags struct {
	ID      string
	Name    string
	Contact string
}

func (o *ownerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.ID, "owner-id", "", "owner id (stable account identifier)")
	cmd.Flags().StringVar(&o.Name, "owner-name", "", "owner display name (required, max 100 characters)")
	cmd.Flags().StringVar(&o.Contact, "owner-contact", "", "owner contact, e.g. email")
	_ = cmd.MarkFlagRequired("owner-name")
}

func (o ownerFlags) metadata() proof.OwnerMetadata {
	return proof.OwnerMetadata{ID: o.ID, DisplayName: o.Name, Contact: o.Contact}
}

// contentFlags describe content identified only by its fingerprint.
type contentFlags struct {
	Kind     string
	FileName string
	FileSize int64
	Mime     string
}

func (c *contentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.Kind, "kind", "text", "content kind (text|file)")
	cmd.Flags().StringVar(&c.FileName, "file-name", "", "original file name (kind=file)")
	cmd.Flags().Int64Var(&c.FileSize, "file-size", 0, "original file size in bytes (kind=file)")
	cmd.Flags().StringVar(&c.Mime, "mime", "", "MIME type (kind=file)")
}

func (c contentFlags) resolve() (proof.Kind, *proof.FileMeta, error) {
	kind, err := proof.ParseKind(c.Kind)
	if err != nil {
		return "", nil, err
	}
	if kind == proof.KindText {
		if c.FileName != "" || c.FileSize != 0 || c.Mime != "" {
			return "", nil, proof.NewValidationError("--file-name, --file-size and --mime need --kind file")
		}
		return kind, nil, nil
	}
	return kind, &proof.FileMeta{Name: c.FileName, Size: c.FileSize, Mime: c.Mime}, nil
}

// readText returns the text argument, or stdin when it is absent or "-".
// At most limit+1 bytes are read so oversized input is still rejected.
func readText(cmd *cobra.Command, args []string, limit int64) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		return []byte(args[0]), nil
	}
	data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), limit+1))
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}

// hashFile streams path through the fingerprint engine.
func hashFile(path string, limit int64) (fingerprint.Fingerprint, proof.FileMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return fingerprint.Zero, proof.FileMeta{}, proof.NewValidationError(fmt.Sprintf("open file: %v", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fingerprint.Zero, proof.FileMeta{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fingerprint.Zero, proof.FileMeta{}, proof.NewValidationError(fmt.Sprintf("%s is a directory", path))
	}
	if limit > 0 && info.Size() > limit {
		return fingerprint.Zero, proof.FileMeta{}, proof.NewValidationError(
			fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), limit))
	}

	fp, n, err := fingerprint.FromReader(f)
	if err != nil {
		return fingerprint.Zero, proof.FileMeta{}, err
	}
	return fp, proof.FileMeta{
		Name: filepath.Base(path),
		Mime: mime.TypeByExtension(filepath.Ext(path)),
		Size: n,
	}, nil
}

// parseFingerprint parses a hex fingerprint argument.
func parseFingerprint(s string) (fingerprint.Fingerprint, error) {
	fp, err := fingerprint.Parse(s)
	if err != nil {
		return fingerprint.Zero, proof.NewValidationError(err.Error())
	}
	return fp, nil
}
