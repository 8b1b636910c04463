package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/roach88/proofstamp/internal/fingerprint"
	"github.com/roach88/proofstamp/internal/proof"
)

// DefaultMemorySubmitter is the submitter address reported by Memory.
const DefaultMemorySubmitter = "0x000000000000000000000000000000000000c0de"

// ErrLedgerDown is the cause attached to UNAVAILABLE errors while a Memory
// ledger is marked unavailable.
var ErrLedgerDown = errors.New("memory ledger unavailable")

// Memory is an in-process ledger. Every Submit mines one block.
//
// Like the deployed contract, Memory rejects a second anchor of the same
// fingerprint unless created WithDuplicates.
//
// Thread-safety: Memory is safe for concurrent use.
type Memory struct {
	mu          sync.Mutex
	now         func() time.Time
	submitter   string
	allowDups   bool
	delay       time.Duration
	unavailable bool
	rejectNext  error

	head   uint64
	events []proof.LedgerEvent
	first  map[fingerprint.Fingerprint]proof.LedgerEvent

	submits int
}

// MemoryOption configures a Memory ledger.
type MemoryOption func(*Memory)

// WithLedgerClock sets the clock used for event timestamps.
func WithLedgerClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithDuplicates disables the one-anchor-per-fingerprint rule, modelling a
// ledger contract without its own uniqueness constraint.
func WithDuplicates() MemoryOption {
	return func(m *Memory) { m.allowDups = true }
}

// WithConfirmDelay makes Submit wait d after broadcasting before it reports
// confirmation.
func WithConfirmDelay(d time.Duration) MemoryOption {
	return func(m *Memory) { m.delay = d }
}

// WithSubmitter sets the submitter address stamped on events.
func WithSubmitter(addr string) MemoryOption {
	return func(m *Memory) { m.submitter = addr }
}

// NewMemory creates an empty in-process ledger.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:       time.Now,
		submitter: DefaultMemorySubmitter,
		first:     make(map[fingerprint.Fingerprint]proof.LedgerEvent),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit appends a ProofCreated event and waits for the confirm delay.
//
// The event is appended before the wait: cancelling ctx during the wait
// returns TIMEOUT but the anchor remains on the ledger.
func (m *Memory) Submit(ctx context.Context, fp fingerprint.Fingerprint, owner proof.OwnerMetadata) (proof.Receipt, error) {
	name, err := claimedName(owner)
	if err != nil {
		return proof.Receipt{}, err
	}

	m.mu.Lock()
	m.submits++
	if m.unavailable {
		m.mu.Unlock()
		return proof.Receipt{}, proof.NewUnavailableError("submit", ErrLedgerDown)
	}
	if cause := m.rejectNext; cause != nil {
		m.rejectNext = nil
		m.mu.Unlock()
		return proof.Receipt{}, proof.NewRejectedError(fp, "ledger refused operation", cause)
	}
	if _, dup := m.first[fp]; dup && !m.allowDups {
		m.mu.Unlock()
		return proof.Receipt{}, proof.NewRejectedError(fp, "execution reverted: Proof already exists", nil)
	}
	ev := m.appendLocked(fp, m.submitter, name)
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return proof.Receipt{}, proof.NewTimeoutError(fp, "confirmation wait aborted", ctx.Err())
		}
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return proof.Receipt{}, proof.NewRejectedError(fp, "encode event", err)
	}
	return proof.Receipt{
		TxRef:           ev.TxRef,
		BlockRef:        ev.BlockRef,
		LedgerTimestamp: ev.Timestamp,
		Submitter:       ev.Submitter,
		RawEvent:        raw,
	}, nil
}

// QueryByFingerprint returns matching events in the trailing window.
func (m *Memory) QueryByFingerprint(ctx context.Context, fp fingerprint.Fingerprint, window uint64) ([]proof.LedgerEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, proof.NewTimeoutError(fp, "query aborted", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return nil, proof.NewUnavailableError("query events", ErrLedgerDown)
	}
	from := windowStart(m.head, window)
	out := []proof.LedgerEvent{}
	for _, ev := range m.events {
		if ev.Fingerprint == fp && ev.BlockRef >= from {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Exists reports the first anchor of fp regardless of its age.
func (m *Memory) Exists(ctx context.Context, fp fingerprint.Fingerprint) (proof.LedgerRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return proof.LedgerRecord{}, false, proof.NewTimeoutError(fp, "lookup aborted", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return proof.LedgerRecord{}, false, proof.NewUnavailableError("verify proof", ErrLedgerDown)
	}
	ev, ok := m.first[fp]
	if !ok {
		return proof.LedgerRecord{}, false, nil
	}
	return proof.LedgerRecord{Fingerprint: fp, ClaimedName: ev.ClaimedName, Timestamp: ev.Timestamp}, true, nil
}

// Head returns the latest block number.
func (m *Memory) Head(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return 0, proof.NewUnavailableError("head", ErrLedgerDown)
	}
	return m.head, nil
}

// Status reports the in-process ledger state.
func (m *Memory) Status(ctx context.Context) (proof.LedgerStatus, error) {
	head, err := m.Head(ctx)
	if err != nil {
		return proof.LedgerStatus{}, err
	}
	return proof.LedgerStatus{
		Network:    "memory",
		Submitter:  m.submitter,
		BalanceWei: "0",
		Head:       head,
	}, nil
}

// Inject appends an event written by another party, e.g. a legacy anchor
// made before the local index existed. Returns the stored event.
func (m *Memory) Inject(fp fingerprint.Fingerprint, submitter, name string) proof.LedgerEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(fp, submitter, name)
}

// Mine advances the head by n empty blocks.
func (m *Memory) Mine(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head += n
}

// SetUnavailable makes every call fail with UNAVAILABLE until cleared.
func (m *Memory) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
}

// RejectNext makes the next Submit fail with SUBMISSION_REJECTED wrapping cause.
func (m *Memory) RejectNext(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = cause
}

// Submits returns how many Submit calls reached the ledger.
func (m *Memory) Submits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submits
}

// Events returns a copy of every event on the ledger in order.
func (m *Memory) Events() []proof.LedgerEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]proof.LedgerEvent(nil), m.events...)
}

func (m *Memory) appendLocked(fp fingerprint.Fingerprint, submitter, name string) proof.LedgerEvent {
	m.head++
	ev := proof.LedgerEvent{
		Fingerprint: fp,
		TxRef:       memoryTxRef(fp, m.head),
		BlockRef:    m.head,
		LogIndex:    0,
		Submitter:   submitter,
		ClaimedName: name,
		Timestamp:   m.now().Unix(),
	}
	m.events = append(m.events, ev)
	if _, ok := m.first[fp]; !ok {
		m.first[fp] = ev
	}
	return ev
}

// memoryTxRef derives a deterministic 32-byte transaction reference.
func memoryTxRef(fp fingerprint.Fingerprint, block uint64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], block)
	h := sha256.New()
	h.Write(fp[:])
	h.Write(b[:])
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

var _ Client = (*Memory)(nil)
