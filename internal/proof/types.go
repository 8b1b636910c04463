package proof

import (
	"fmt"
	"time"

	"github.com/roach88/proofstamp/internal/fingerprint"
)

// Kind is the type of content a proof was created from.
type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// ParseKind validates a content kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindText, KindFile:
		return Kind(s), nil
	default:
		return "", NewValidationError(fmt.Sprintf("unknown content kind %q (want text or file)", s))
	}
}

// UnknownOwner is the display name reported for proofs that exist only on
// the ledger. The ledger carries a submitter address and a self-declared name,
// neither of which is verified identity.
const UnknownOwner = "unknown"

// OwnerMetadata is the authenticated identity of the principal creating a
// proof, captured at anchor time.
type OwnerMetadata struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"display_name"`
	Contact     string `json:"contact,omitempty"`
}

// FileMeta describes file content. Present only for KindFile proofs.
type FileMeta struct {
	Name string `json:"name"`
	Mime string `json:"mime,omitempty"`
	Size int64  `json:"size"`
}

// Proof is the anchored fact: content with this fingerprint existed no later
// than AnchoredAt, as asserted by the ledger.
type Proof struct {
	Fingerprint      fingerprint.Fingerprint `json:"fingerprint"`
	OwnerID          string                  `json:"owner_id,omitempty"`
	OwnerDisplayName string                  `json:"owner_display_name"`
	OwnerContact     string                  `json:"owner_contact,omitempty"`

	// ClaimedName is the name asserted in the ledger event. Only set for
	// ledger-only results, where it is unverified.
	ClaimedName string `json:"claimed_name,omitempty"`

	Submitter      string    `json:"submitter,omitempty"`
	LedgerTxRef    string    `json:"ledger_tx_ref"`
	LedgerBlockRef uint64    `json:"ledger_block_ref"`
	AnchoredAt     int64     `json:"anchored_at"` // unix seconds, ledger time
	RecordedAt     time.Time `json:"recorded_at,omitzero"`

	Kind Kind      `json:"kind,omitempty"`
	File *FileMeta `json:"file,omitempty"`
}

// AnchoredTime returns the ledger timestamp as a time.Time.
func (p Proof) AnchoredTime() time.Time {
	return time.Unix(p.AnchoredAt, 0).UTC()
}

// Receipt is what the ledger client returns once a submission is confirmed.
type Receipt struct {
	TxRef           string `json:"tx_ref"`
	BlockRef        uint64 `json:"block_ref"`
	LedgerTimestamp int64  `json:"ledger_timestamp"`
	Submitter       string `json:"submitter"`
	GasUsed         uint64 `json:"gas_used,omitempty"`
	RawEvent        []byte `json:"raw_event,omitempty"`
}

// LedgerEvent is one ProofCreated event observed on the ledger.
type LedgerEvent struct {
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	TxRef       string                  `json:"tx_ref"`
	BlockRef    uint64                  `json:"block_ref"`
	LogIndex    uint                    `json:"log_index"`
	Submitter   string                  `json:"submitter"`
	ClaimedName string                  `json:"claimed_name,omitempty"`
	Timestamp   int64                   `json:"timestamp"`
}

// LedgerRecord is the contract's own record of an anchor. It has no window
// limit but carries no transaction or block reference.
type LedgerRecord struct {
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	ClaimedName string                  `json:"claimed_name,omitempty"`
	Timestamp   int64                   `json:"timestamp"`
}

// Before reports whether e precedes o in ledger order.
func (e LedgerEvent) Before(o LedgerEvent) bool {
	if e.BlockRef != o.BlockRef {
		return e.BlockRef < o.BlockRef
	}
	return e.LogIndex < o.LogIndex
}

// Source identifies where a verification result came from.
type Source string

const (
	SourceIndex      Source = "index"
	SourceLedgerOnly Source = "ledger-only"
)

// VerificationResult answers "does a proof exist for this fingerprint".
// When Found is false, Source and Proof are empty.
type VerificationResult struct {
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Found       bool                    `json:"found"`
	Source      Source                  `json:"source,omitempty"`
	Proof       *Proof                  `json:"proof,omitempty"`
}

// Stats summarizes the metadata index.
type Stats struct {
	TotalProofs int64 `json:"total_proofs"`
	TotalOwners int64 `json:"total_owners"`
	ProofsToday int64 `json:"proofs_today"`
}

// LedgerStatus describes the ledger gateway as seen by this process.
type LedgerStatus struct {
	Network    string `json:"network"`
	ChainID    string `json:"chain_id,omitempty"`
	Contract   string `json:"contract,omitempty"`
	Submitter  string `json:"submitter"`
	BalanceWei string `json:"balance_wei"`
	Head       uint64 `json:"head"`
}
