package anchor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/proofstamp/internal/fingerprint"
	"github.com/roach88/proofstamp/internal/ledger"
	"github.com/roach88/proofstamp/internal/proof"
)

// DefaultQueryTimeout bounds a shared ledger fallback query.
const DefaultQueryTimeout = 30 * time.Second

// Resolver answers verification queries, index first, ledger second.
//
// Concurrent misses for the same fingerprint share one ledger query. The
// shared query is detached from any single caller's context and bounded by
// the query timeout instead; each caller still stops waiting when its own
// context ends.
type Resolver struct {
	index   Lookup
	ledger  ledger.Client
	window  uint64
	timeout time.Duration
	logger  *slog.Logger
	group   singleflight.Group
}

// NewResolver creates a Resolver. window 0 selects ledger.DefaultWindow.
func NewResolver(index Lookup, l ledger.Client, window uint64, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		index:   index,
		ledger:  l,
		window:  window,
		timeout: DefaultQueryTimeout,
		logger:  logger,
	}
}

// Verify resolves fp.
//
//   - indexed: Found, Source "index", the stored Proof
//   - on the ledger only: Found, Source "ledger-only", owner "unknown"
//   - anchored before the event window: as above, from the contract record,
//     without transaction or block references
//   - neither: not Found, no error
//
// A ledger failure on the fallback path is returned as UNAVAILABLE or
// TIMEOUT, never as a negative result.
func (r *Resolver) Verify(ctx context.Context, fp fingerprint.Fingerprint) (proof.VerificationResult, error) {
	if fp.IsZero() {
		return proof.VerificationResult{}, proof.NewValidationError("fingerprint is required")
	}

	p, found, err := r.index.GetByFingerprint(ctx, fp)
	if err != nil {
		return proof.VerificationResult{}, proof.NewUnavailableError("read index", err)
	}
	if found {
		return proof.VerificationResult{
			Fingerprint: fp,
			Found:       true,
			Source:      proof.SourceIndex,
			Proof:       &p,
		}, nil
	}

	ch := r.group.DoChan(fp.String(), func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return lookupLedger(qctx, r.ledger, fp, r.window)
	})

	select {
	case <-ctx.Done():
		return proof.VerificationResult{}, proof.NewTimeoutError(fp, "verification aborted", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return proof.VerificationResult{}, ledgerQueryError(fp, res.Err)
		}
		found := res.Val.(ledgerLookup)
		if res.Shared {
			r.logger.Debug("shared ledger query", "fingerprint", fp.String())
		}
		var lp proof.Proof
		switch {
		case len(found.events) > 0:
			lp = ledgerOnlyProof(found.events[0])
		case found.exists:
			lp = recordOnlyProof(found.record)
		default:
			return proof.VerificationResult{Fingerprint: fp}, nil
		}
		return proof.VerificationResult{
			Fingerprint: fp,
			Found:       true,
			Source:      proof.SourceLedgerOnly,
			Proof:       &lp,
		}, nil
	}
}

// ledgerLookup is what the ledger knows about one fingerprint.
type ledgerLookup struct {
	events []proof.LedgerEvent
	record proof.LedgerRecord
	exists bool
}

// lookupLedger scans the event window and, when it is empty, asks the
// contract directly.
func lookupLedger(ctx context.Context, l ledger.Client, fp fingerprint.Fingerprint, window uint64) (ledgerLookup, error) {
	events, err := l.QueryByFingerprint(ctx, fp, window)
	if err != nil {
		return ledgerLookup{}, err
	}
	if len(events) > 0 {
		return ledgerLookup{events: events}, nil
	}
	rec, exists, err := l.Exists(ctx, fp)
	if err != nil {
		return ledgerLookup{}, err
	}
	return ledgerLookup{record: rec, exists: exists}, nil
}

// recordOnlyProof builds the result for an anchor older than the event
// window.
func recordOnlyProof(rec proof.LedgerRecord) proof.Proof {
	return proof.Proof{
		Fingerprint:      rec.Fingerprint,
		OwnerDisplayName: proof.UnknownOwner,
		ClaimedName:      rec.ClaimedName,
		AnchoredAt:       rec.Timestamp,
	}
}

// ledgerOnlyProof builds the result for an event with no index record. The
// claimed name is carried separately; it is never promoted to an owner.
func ledgerOnlyProof(ev proof.LedgerEvent) proof.Proof {
	return proof.Proof{
		Fingerprint:      ev.Fingerprint,
		OwnerDisplayName: proof.UnknownOwner,
		ClaimedName:      ev.ClaimedName,
		Submitter:        ev.Submitter,
		LedgerTxRef:      ev.TxRef,
		LedgerBlockRef:   ev.BlockRef,
		AnchoredAt:       ev.Timestamp,
	}
}

// ledgerQueryError keeps TIMEOUT and UNAVAILABLE as they are and reports
// every other query failure as UNAVAILABLE.
func ledgerQueryError(fp fingerprint.Fingerprint, err error) error {
	switch proof.CodeOf(err) {
	case proof.ErrCodeTimeout, proof.ErrCodeUnavailable:
		return err
	}
	e := proof.NewUnavailableError("query ledger", err)
	e.Fingerprint = fp
	return e
}
