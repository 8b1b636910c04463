package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Size is the digest length in bytes.
const Size = sha256.Size

// HexLen is the length of the canonical hex form.
const HexLen = Size * 2

// ErrInvalid is returned by Parse for malformed fingerprints.
var ErrInvalid = errors.New("invalid fingerprint")

// Fingerprint is a SHA-256 content digest.
type Fingerprint [Size]byte

// Zero is the all-zero fingerprint. It never identifies real content.
var Zero Fingerprint

// Of returns the fingerprint of b.
func Of(b []byte) Fingerprint {
	return Fingerprint(sha256.Sum256(b))
}

// FromReader streams r through the digest and returns the fingerprint along
// with the number of bytes read.
func FromReader(r io.Reader) (Fingerprint, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Zero, n, fmt.Errorf("fingerprint: read content: %w", err)
	}
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp, n, nil
}

// Parse decodes a hex fingerprint. The 0x prefix and upper-case digits are
// accepted; the result is always reported in canonical form by String.
func Parse(s string) (Fingerprint, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != HexLen {
		return Zero, fmt.Errorf("%w: want %d hex chars, got %d", ErrInvalid, HexLen, len(s))
	}
	var fp Fingerprint
	if _, err := hex.Decode(fp[:], []byte(s)); err != nil {
		return Zero, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return fp, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParse(s string) Fingerprint {
	fp, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return fp
}

// String returns the canonical 64-char lowercase hex form.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Hex0x returns the 0x-prefixed form used for bytes32 ledger arguments.
func (f Fingerprint) Hex0x() string {
	return "0x" + f.String()
}

// IsZero reports whether f is the zero fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == Zero
}

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(b []byte) error {
	fp, err := Parse(string(b))
	if err != nil {
		return err
	}
	*f = fp
	return nil
}
