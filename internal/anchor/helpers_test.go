package anchor

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/proofstamp/internal/ledger"
	"github.com/roach88/proofstamp/internal/proof"
	"github.com/roach88/proofstamp/internal/store"
	"github.com/roach88/proofstamp/internal/testutil"
)

var (
	alice = proof.OwnerMetadata{ID: "u-alice", DisplayName: "Alice", Contact: "alice@example.com"}
	bob   = proof.OwnerMetadata{ID: "u-bob", DisplayName: "Bob", Contact: "bob@example.com"}
)

type testEnv struct {
	svc    *Service
	store  *store.Store
	ledger *ledger.Memory
	clock  *testutil.Clock
	logs   *bytes.Buffer
}

func createTestStore(t *testing.T, clock *testutil.Clock) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// newTestEnv builds a Service over a temp SQLite index and a memory ledger
// sharing one clock.
func newTestEnv(t *testing.T, ledgerOpts []ledger.MemoryOption, opts ...Option) *testEnv {
	t.Helper()
	clock := testutil.NewClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	st := createTestStore(t, clock)
	mem := ledger.NewMemory(append([]ledger.MemoryOption{ledger.WithLedgerClock(clock.Now)}, ledgerOpts...)...)

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	base := []Option{
		WithClock(clock.Now),
		WithLocation(time.UTC),
		WithLogger(logger),
	}
	return &testEnv{
		svc:    New(st, mem, append(base, opts...)...),
		store:  st,
		ledger: mem,
		clock:  clock,
		logs:   logs,
	}
}

func textRequest(owner proof.OwnerMetadata, content string) AnchorRequest {
	return AnchorRequest{Owner: owner, Content: []byte(content)}
}

// failingPutIndex is an index whose writes always fail.
type failingPutIndex struct {
	*store.Store
	err error
}

func (f failingPutIndex) Put(ctx context.Context, p proof.Proof) (store.PutResult, error) {
	return store.PutResult{}, f.err
}
