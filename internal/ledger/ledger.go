package ledger

import (
	"context"

	"github.com/roach88/proofstamp/internal/fingerprint"
	"github.com/roach88/proofstamp/internal/proof"
)

// Defaults shared by every implementation.
const (
	// DefaultWindow is the number of trailing blocks scanned by
	// QueryByFingerprint. Public RPC endpoints reject wider log queries.
	DefaultWindow uint64 = 10_000

	// DefaultGasMarginPercent is added on top of the estimated cost.
	DefaultGasMarginPercent uint64 = 20

	// MaxClaimedNameLen bounds the self-declared name sent to the ledger.
	MaxClaimedNameLen = 100
)

// Client is the contract the anchoring core needs from a ledger.
type Client interface {
	// Submit anchors fp and blocks until it is confirmed, ctx is done, or
	// the configured confirmation timeout elapses. Failures are
	// proof.Error values with codes SUBMISSION_REJECTED, TIMEOUT or
	// UNAVAILABLE.
	Submit(ctx context.Context, fp fingerprint.Fingerprint, owner proof.OwnerMetadata) (proof.Receipt, error)

	// QueryByFingerprint returns ProofCreated events for fp within the last
	// window blocks (0 selects DefaultWindow), ordered by ledger position
	// ascending. An empty result is not an error.
	QueryByFingerprint(ctx context.Context, fp fingerprint.Fingerprint, window uint64) ([]proof.LedgerEvent, error)

	// Exists asks the contract whether fp was ever anchored. Unlike
	// QueryByFingerprint it is not bounded by a block window.
	Exists(ctx context.Context, fp fingerprint.Fingerprint) (proof.LedgerRecord, bool, error)

	// Head returns the latest block number.
	Head(ctx context.Context) (uint64, error)

	// Status describes the gateway (network, submitter, balance, head).
	Status(ctx context.Context) (proof.LedgerStatus, error)
}

// WithMargin applies a percentage safety margin to an estimated cost.
func WithMargin(estimate, percent uint64) uint64 {
	return estimate * (100 + percent) / 100
}

// windowStart returns the first block of a window ending at head.
func windowStart(head, window uint64) uint64 {
	if window == 0 {
		window = DefaultWindow
	}
	if head < window {
		return 0
	}
	return head - window
}

// claimedName validates the name that will be written to the ledger.
func claimedName(owner proof.OwnerMetadata) (string, error) {
	name := owner.DisplayName
	if name == "" {
		return "", proof.NewValidationError("owner display name is required")
	}
	if len([]rune(name)) > MaxClaimedNameLen {
		return "", proof.NewValidationError("owner display name too long (max 100 characters)")
	}
	return name, nil
}
