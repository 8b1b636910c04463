package anchor

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/proofstamp/internal/fingerprint"
	"github.com/roach88/proofstamp/internal/proof"
)

// Lookup is the read side of the metadata index used by Guard and Resolver.
type Lookup interface {
	GetByFingerprint(ctx context.Context, fp fingerprint.Fingerprint) (proof.Proof, bool, error)
}

// Guard enforces at most one anchor per fingerprint.
//
// A fingerprint is refused when the index already holds it or when another
// anchor for it is in flight in this process. The in-flight set closes the
// check-then-submit window for concurrent callers sharing a Guard; the
// index's conditional insert covers everything else.
//
// Thread-safety: Guard is safe for concurrent use.
type Guard struct {
	index Lookup

	mu       sync.Mutex
	inflight map[fingerprint.Fingerprint]struct{}
}

// NewGuard creates a Guard over index.
func NewGuard(index Lookup) *Guard {
	return &Guard{
		index:    index,
		inflight: make(map[fingerprint.Fingerprint]struct{}),
	}
}

// Reservation is the proceed token returned by CheckAndReserve. The holder
// must call Release once the anchor attempt has finished, successfully or not.
type Reservation struct {
	guard *Guard
	fp    fingerprint.Fingerprint
	once  sync.Once
}

// Fingerprint returns the reserved fingerprint.
func (r *Reservation) Fingerprint() fingerprint.Fingerprint {
	return r.fp
}

// Release frees the in-flight slot. Safe to call more than once.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.guard.mu.Lock()
		delete(r.guard.inflight, r.fp)
		r.guard.mu.Unlock()
	})
}

// CheckAndReserve fails with CONFLICT if fp is already indexed or in flight;
// otherwise it reserves fp for the caller.
func (g *Guard) CheckAndReserve(ctx context.Context, fp fingerprint.Fingerprint) (*Reservation, error) {
	if fp.IsZero() {
		return nil, proof.NewValidationError("fingerprint is required")
	}

	g.mu.Lock()
	if _, busy := g.inflight[fp]; busy {
		g.mu.Unlock()
		return nil, proof.NewConflictError(fp, proof.ConflictInfo{
			OwnerDisplayName: "pending",
			Pending:          true,
		})
	}
	g.inflight[fp] = struct{}{}
	g.mu.Unlock()

	res := &Reservation{guard: g, fp: fp}

	existing, found, err := g.index.GetByFingerprint(ctx, fp)
	if err != nil {
		res.Release()
		return nil, fmt.Errorf("check existing proof: %w", err)
	}
	if found {
		res.Release()
		return nil, conflictWith(existing)
	}
	return res, nil
}

// InFlight reports how many fingerprints are currently reserved.
func (g *Guard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

func conflictWith(p proof.Proof) error {
	return proof.NewConflictError(p.Fingerprint, proof.ConflictInfo{
		OwnerID:          p.OwnerID,
		OwnerDisplayName: p.OwnerDisplayName,
		RecordedAt:       p.RecordedAt,
	})
}
