package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/proofstamp/internal/fingerprint"
	"github.com/roach88/proofstamp/internal/proof"
	"github.com/roach88/proofstamp/internal/testutil"
)

// createTestStore creates a new store in a temp dir with a controllable clock.
func createTestStore(t *testing.T) (*Store, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// createTestProof creates a confirmed text proof for content owned by ownerID.
func createTestProof(content, ownerID, ownerName string, block uint64) proof.Proof {
	fp := fingerprint.Of([]byte(content))
	return proof.Proof{
		Fingerprint:      fp,
		OwnerID:          ownerID,
		OwnerDisplayName: ownerName,
		OwnerContact:     ownerID + "@example.com",
		Submitter:        "0x00000000000000000000000000000000000000aa",
		LedgerTxRef:      "0xtx-" + fp.String()[:8],
		LedgerBlockRef:   block,
		AnchoredAt:       1_700_000_000 + int64(block),
		Kind:             proof.KindText,
	}
}
