package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/proofstamp/internal/proof"
)

// The view types carry the JSON payload unchanged and add a text rendering.

type proofView proof.Proof

func (v proofView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fingerprint: %s\n", v.Fingerprint)
	owner := v.OwnerDisplayName
	if v.OwnerID != "" {
		owner = fmt.Sprintf("%s (%s)", owner, v.OwnerID)
	}
	fmt.Fprintf(&b, "Owner:       %s\n", owner)
	if v.ClaimedName != "" {
		fmt.Fprintf(&b, "Claimed by:  %s (unverified)\n", v.ClaimedName)
	}
	if v.Submitter != "" {
		fmt.Fprintf(&b, "Submitter:   %s\n", v.Submitter)
	}
	if v.LedgerTxRef != "" {
		fmt.Fprintf(&b, "Transaction: %s\n", v.LedgerTxRef)
		fmt.Fprintf(&b, "Block:       %d\n", v.LedgerBlockRef)
	}
	fmt.Fprintf(&b, "Anchored at: %s", proof.Proof(v).AnchoredTime().Format(time.RFC3339))
	if v.File != nil {
		fmt.Fprintf(&b, "\nFile:        %s (%d bytes", v.File.Name, v.File.Size)
		if v.File.Mime != "" {
			fmt.Fprintf(&b, ", %s", v.File.Mime)
		}
		b.WriteString(")")
	}
	return b.String()
}

type verifyView proof.VerificationResult

func (v verifyView) String() string {
	if !v.Found {
		return fmt.Sprintf("No proof found for %s", v.Fingerprint)
	}
	header := "Proof found in local index"
	if v.Source == proof.SourceLedgerOnly {
		header = "Proof found on ledger only (owner unknown)"
	}
	return header + "\n" + proofView(*v.Proof).String()
}

type proofListView []proof.Proof

func (v proofListView) String() string {
	if len(v) == 0 {
		return "No proofs."
	}
	var b strings.Builder
	for i, p := range v {
		if i > 0 {
			b.WriteString("\n")
		}
		name := "text"
		if p.File != nil {
			name = p.File.Name
		}
		fmt.Fprintf(&b, "%s  %s  %-20s  %s",
			p.Fingerprint, p.RecordedAt.Local().Format("2006-01-02 15:04"), p.OwnerDisplayName, name)
	}
	return b.String()
}

type statsView proof.Stats

func (v statsView) String() string {
	return fmt.Sprintf("Total proofs: %d\nTotal owners: %d\nProofs today: %d",
		v.TotalProofs, v.TotalOwners, v.ProofsToday)
}

type statusView proof.LedgerStatus

func (v statusView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Network:   %s\n", v.Network)
	if v.ChainID != "" {
		fmt.Fprintf(&b, "Chain ID:  %s\n", v.ChainID)
	}
	if v.Contract != "" {
		fmt.Fprintf(&b, "Contract:  %s\n", v.Contract)
	}
	fmt.Fprintf(&b, "Submitter: %s\n", v.Submitter)
	fmt.Fprintf(&b, "Balance:   %s wei\n", v.BalanceWei)
	fmt.Fprintf(&b, "Head:      %d", v.Head)
	return b.String()
}

// ownerChangeView reports a bulk owner rewrite or erase.
type ownerChangeView struct {
	OwnerID string `json:"owner_id"`
	Action  string `json:"action"`
	Proofs  int64  `json:"proofs"`
}

func (v ownerChangeView) String() string {
	return fmt.Sprintf("Owner %s: %s %d proof(s)", v.OwnerID, v.Action, v.Proofs)
}
