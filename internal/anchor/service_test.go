package anchor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/proofstamp/internal/fingerprint"
	"github.com/roach88/proofstamp/internal/ledger"
	"github.com/roach88/proofstamp/internal/proof"
	"github.com/roach88/proofstamp/internal/store"
)

const helloWorldHex = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestService_HelloWorld(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	p, err := env.svc.CreateAnchor(ctx, textRequest(alice, "hello world"))
	require.NoError(t, err)
	assert.Equal(t, helloWorldHex, p.Fingerprint.String())
	assert.Equal(t, "u-alice", p.OwnerID)
	assert.Equal(t, "Alice", p.OwnerDisplayName)
	assert.Equal(t, proof.KindText, p.Kind)
	assert.NotEmpty(t, p.LedgerTxRef)
	assert.Equal(t, uint64(1), p.LedgerBlockRef)
	assert.Equal(t, env.clock.Now().Unix(), p.AnchoredAt)
	assert.Equal(t, ledger.DefaultMemorySubmitter, p.Submitter)

	history, err := env.svc.ListHistory(ctx, "u-alice", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, p.Fingerprint, history[0].Fingerprint)

	res, err := env.svc.VerifyContent(ctx, []byte("hello world"))
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, proof.SourceIndex, res.Source)
	assert.Equal(t, "u-alice", res.Proof.OwnerID)
}

func TestService_VerifyBeforeAnchor(t *testing.T) {
	env := newTestEnv(t, nil)

	res, err := env.svc.VerifyByFingerprint(context.Background(), fingerprint.MustParse(helloWorldHex))
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestService_DoubleAnchorConflicts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.CreateAnchor(ctx, textRequest(alice, "draft v1"))
	require.NoError(t, err)

	_, err = env.svc.CreateAnchor(ctx, textRequest(alice, "draft v1"))
	require.Error(t, err)
	assert.True(t, proof.IsConflict(err))
	info, ok := proof.ConflictOf(err)
	require.True(t, ok)
	assert.Equal(t, "Alice", info.OwnerDisplayName)
	assert.True(t, info.RecordedAt.Equal(env.clock.Now()))

	assert.Equal(t, 1, env.ledger.Submits(), "conflict is detected before the ledger")
	c, err := env.store.Count(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.TotalProofs)
}

func TestService_LargeFileConflictAcrossOwners(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	content := bytes.Repeat([]byte{0xAB}, 5*1024*1024)

	first, err := env.svc.CreateAnchor(ctx, AnchorRequest{
		Owner:   alice,
		Content: content,
		Kind:    proof.KindFile,
		File:    &proof.FileMeta{Name: "thesis.pdf", Mime: "application/pdf"},
	})
	require.NoError(t, err)
	require.NotNil(t, first.File)
	assert.Equal(t, int64(len(content)), first.File.Size)

	_, err = env.svc.CreateAnchor(ctx, AnchorRequest{
		Owner:   bob,
		Content: content,
		Kind:    proof.KindFile,
		File:    &proof.FileMeta{Name: "copy.pdf"},
	})
	require.Error(t, err)
	info, ok := proof.ConflictOf(err)
	require.True(t, ok)
	assert.Equal(t, "Alice", info.OwnerDisplayName)
	assert.Equal(t, "u-alice", info.OwnerID)

	bobHistory, err := env.svc.ListHistory(ctx, "u-bob", store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, bobHistory)
}

func TestService_LedgerOnlyVerification(t *testing.T) {
	env := newTestEnv(t, nil)
	fp := fingerprint.Of([]byte("anchored elsewhere"))
	env.ledger.Inject(fp, "0x00000000000000000000000000000000000000ee", "Someone")

	res, err := env.svc.VerifyByFingerprint(context.Background(), fp)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, proof.SourceLedgerOnly, res.Source)
	assert.Equal(t, proof.UnknownOwner, res.Proof.OwnerDisplayName)
	assert.Empty(t, res.Proof.OwnerID)
}

func TestService_VerifyIndexedWhileLedgerDown(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	p, err := env.svc.CreateAnchor(ctx, textRequest(alice, "kept"))
	require.NoError(t, err)

	env.ledger.SetUnavailable(true)

	res, err := env.svc.VerifyByFingerprint(ctx, p.Fingerprint)
	require.NoError(t, err)
	assert.True(t, res.Found)

	_, err = env.svc.VerifyContent(ctx, []byte("not indexed"))
	assert.True(t, proof.IsUnavailable(err))
}

func TestService_CancelledAnchorThenReconcile(t *testing.T) {
	env := newTestEnv(t, []ledger.MemoryOption{ledger.WithConfirmDelay(time.Hour)})
	fp := fingerprint.Of([]byte("slow anchor"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := env.svc.CreateAnchor(ctx, textRequest(alice, "slow anchor"))
		done <- err
	}()
	require.Eventually(t, func() bool { return len(env.ledger.Events()) == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, proof.IsTimeout(err), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("CreateAnchor did not return after cancel")
	}

	// Broadcast but never indexed.
	_, found, err := env.store.GetByFingerprint(context.Background(), fp)
	require.NoError(t, err)
	assert.False(t, found)

	res, err := env.svc.VerifyByFingerprint(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, proof.SourceLedgerOnly, res.Source)

	p, err := env.svc.Reconcile(context.Background(), alice, fp, proof.KindText, nil)
	require.NoError(t, err)
	assert.Equal(t, "u-alice", p.OwnerID)
	assert.Equal(t, env.ledger.Events()[0].TxRef, p.LedgerTxRef)

	res, err = env.svc.VerifyByFingerprint(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, proof.SourceIndex, res.Source)

	// Reconciling again returns the same record.
	again, err := env.svc.Reconcile(context.Background(), alice, fp, proof.KindText, nil)
	require.NoError(t, err)
	assert.Equal(t, p.LedgerTxRef, again.LedgerTxRef)
}

func TestService_ReconcileRefusesForeignSubmitter(t *testing.T) {
	env := newTestEnv(t, nil)
	fp := fingerprint.Of([]byte("someone else's"))
	env.ledger.Inject(fp, "0x00000000000000000000000000000000000000ee", "Eve")

	_, err := env.svc.Reconcile(context.Background(), alice, fp, proof.KindText, nil)
	assert.True(t, proof.IsConflict(err), "got %v", err)
}

func TestService_ReconcileNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.Reconcile(context.Background(), alice, fingerprint.Of([]byte("nothing")), proof.KindText, nil)
	assert.True(t, proof.IsNotFound(err), "got %v", err)
	assert.Contains(t, err.Error(), "never anchored")
}

func TestService_ReconcileSkipsEarlierForeignEvent(t *testing.T) {
	env := newTestEnv(t, []ledger.MemoryOption{ledger.WithDuplicates()})
	fp := fingerprint.Of([]byte("written twice"))
	env.ledger.Inject(fp, "0x00000000000000000000000000000000000000ee", "Eve")
	own := env.ledger.Inject(fp, ledger.DefaultMemorySubmitter, "Alice")

	p, err := env.svc.Reconcile(context.Background(), alice, fp, proof.KindText, nil)
	require.NoError(t, err)
	assert.Equal(t, "u-alice", p.OwnerID)
	assert.Equal(t, own.TxRef, p.LedgerTxRef)
	assert.Equal(t, own.BlockRef, p.LedgerBlockRef)
}

func TestService_ReconcileBeyondWindow(t *testing.T) {
	env := newTestEnv(t, nil)
	fp := fingerprint.Of([]byte("long ago"))
	env.ledger.Inject(fp, ledger.DefaultMemorySubmitter, "Alice")
	env.ledger.Mine(ledger.DefaultWindow + 1)

	_, err := env.svc.Reconcile(context.Background(), alice, fp, proof.KindText, nil)
	assert.True(t, proof.IsNotFound(err), "got %v", err)
	assert.Contains(t, err.Error(), "submitter cannot be confirmed")
}

func TestService_VerifyAnchorOlderThanWindow(t *testing.T) {
	env := newTestEnv(t, nil)
	content := []byte("anchored long ago")
	fp := fingerprint.Of(content)
	ev := env.ledger.Inject(fp, "0x00000000000000000000000000000000000000ee", "Mallory")
	env.ledger.Mine(ledger.DefaultWindow + 1)

	res, err := env.svc.VerifyByFingerprint(context.Background(), fp)
	require.NoError(t, err)
	require.True(t, res.Found, "the contract still holds the anchor")
	assert.Equal(t, proof.SourceLedgerOnly, res.Source)
	assert.Equal(t, proof.UnknownOwner, res.Proof.OwnerDisplayName)
	assert.Equal(t, "Mallory", res.Proof.ClaimedName)
	assert.Equal(t, ev.Timestamp, res.Proof.AnchoredAt)
	assert.Empty(t, res.Proof.LedgerTxRef)
	assert.Zero(t, res.Proof.LedgerBlockRef)

	_, err = env.svc.CreateAnchor(context.Background(), AnchorRequest{Owner: alice, Content: content})
	assert.True(t, proof.IsRejected(err), "got %v", err)
}

func TestService_IndexWriteFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	boom := errors.New("disk full")
	svc := New(failingPutIndex{Store: env.store, err: boom}, env.ledger, WithClock(env.clock.Now))

	_, err := svc.CreateAnchor(context.Background(), textRequest(alice, "unlucky"))
	require.Error(t, err)
	assert.True(t, proof.IsIndexWrite(err))
	assert.ErrorIs(t, err, boom)

	var pe *proof.Error
	require.True(t, errors.As(err, &pe))
	require.NotNil(t, pe.Receipt)
	assert.Equal(t, env.ledger.Events()[0].TxRef, pe.Receipt.TxRef)

	// Recovery through a healthy index.
	p, err := env.svc.Reconcile(context.Background(), alice, fingerprint.Of([]byte("unlucky")), proof.KindText, nil)
	require.NoError(t, err)
	assert.Equal(t, pe.Receipt.TxRef, p.LedgerTxRef)
}

func TestService_ConcurrentSameFingerprint(t *testing.T) {
	env := newTestEnv(t, []ledger.MemoryOption{ledger.WithConfirmDelay(20 * time.Millisecond)})

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := proof.OwnerMetadata{ID: "u-" + string(rune('a'+i)), DisplayName: "Owner"}
			_, errs[i] = env.svc.CreateAnchor(context.Background(), textRequest(owner, "contested"))
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case proof.IsConflict(err):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, env.ledger.Submits())
}

func TestService_RaceAcrossProcessesFirstWriteWins(t *testing.T) {
	// Two services with separate guards over one index, as two processes
	// would be. The ledger accepts both submissions.
	env := newTestEnv(t, []ledger.MemoryOption{ledger.WithDuplicates(), ledger.WithConfirmDelay(50 * time.Millisecond)})
	other := New(env.store, env.ledger, WithClock(env.clock.Now))

	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errA = env.svc.CreateAnchor(context.Background(), textRequest(alice, "raced"))
	}()
	go func() {
		defer wg.Done()
		_, errB = other.CreateAnchor(context.Background(), textRequest(bob, "raced"))
	}()
	wg.Wait()

	assert.Equal(t, 2, env.ledger.Submits())
	assert.True(t, (errA == nil) != (errB == nil), "exactly one wins: a=%v b=%v", errA, errB)
	loser := errA
	if loser == nil {
		loser = errB
	}
	assert.True(t, proof.IsConflict(loser))

	c, err := env.store.Count(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.TotalProofs)
}

func TestService_RejectedSubmissionReleasesReservation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.ledger.RejectNext(errors.New("insufficient funds"))

	_, err := env.svc.CreateAnchor(context.Background(), textRequest(alice, "retry me"))
	assert.True(t, proof.IsRejected(err))
	assert.Equal(t, 0, env.svc.guard.InFlight())

	_, err = env.svc.CreateAnchor(context.Background(), textRequest(alice, "retry me"))
	assert.NoError(t, err)
}

func TestService_Validation(t *testing.T) {
	env := newTestEnv(t, nil, WithLimits(16, 64))
	tests := []struct {
		name string
		req  AnchorRequest
	}{
		{"missing display name", AnchorRequest{Owner: proof.OwnerMetadata{ID: "u"}, Content: []byte("x")}},
		{"blank display name", AnchorRequest{Owner: proof.OwnerMetadata{DisplayName: "   "}, Content: []byte("x")}},
		{"display name too long", AnchorRequest{Owner: proof.OwnerMetadata{DisplayName: strings.Repeat("n", 101)}, Content: []byte("x")}},
		{"empty content", AnchorRequest{Owner: alice}},
		{"text too large", AnchorRequest{Owner: alice, Content: bytes.Repeat([]byte("t"), 17)}},
		{"text with file metadata", AnchorRequest{Owner: alice, Content: []byte("x"), File: &proof.FileMeta{Name: "a.txt"}}},
		{"file without metadata", AnchorRequest{Owner: alice, Content: []byte("x"), Kind: proof.KindFile}},
		{"file without name", AnchorRequest{Owner: alice, Content: []byte("x"), Kind: proof.KindFile, File: &proof.FileMeta{}}},
		{"file too large", AnchorRequest{Owner: alice, Content: bytes.Repeat([]byte("f"), 65), Kind: proof.KindFile, File: &proof.FileMeta{Name: "big.bin"}}},
		{"file size mismatch", AnchorRequest{Owner: alice, Content: []byte("xy"), Kind: proof.KindFile, File: &proof.FileMeta{Name: "a.bin", Size: 5}}},
		{"unknown kind", AnchorRequest{Owner: alice, Content: []byte("x"), Kind: "image"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateAnchor(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, proof.IsValidation(err), "got %v", err)
		})
	}
	assert.Equal(t, 0, env.ledger.Submits())
}

func TestService_CreateAnchorFromFingerprint(t *testing.T) {
	env := newTestEnv(t, nil)
	fp := fingerprint.Of([]byte("precomputed"))

	p, err := env.svc.CreateAnchorFromFingerprint(context.Background(), alice, fp, proof.KindFile,
		&proof.FileMeta{Name: " scan.png ", Mime: "image/png", Size: 2048})
	require.NoError(t, err)
	assert.Equal(t, fp, p.Fingerprint)
	require.NotNil(t, p.File)
	assert.Equal(t, "scan.png", p.File.Name)

	_, err = env.svc.CreateAnchorFromFingerprint(context.Background(), alice, fingerprint.Zero, proof.KindText, nil)
	assert.True(t, proof.IsValidation(err))
}

func TestService_GetStats(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.CreateAnchor(ctx, textRequest(alice, "yesterday 1"))
	require.NoError(t, err)
	_, err = env.svc.CreateAnchor(ctx, textRequest(bob, "yesterday 2"))
	require.NoError(t, err)

	env.clock.Advance(24 * time.Hour)
	_, err = env.svc.CreateAnchor(ctx, textRequest(alice, "today"))
	require.NoError(t, err)

	stats, err := env.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, proof.Stats{TotalProofs: 3, TotalOwners: 2, ProofsToday: 1}, stats)
}

func TestService_GetStatsUsesLocalMidnight(t *testing.T) {
	loc := time.FixedZone("UTC-10", -10*60*60)
	env := newTestEnv(t, nil, WithLocation(loc))
	ctx := context.Background()

	// 2026-03-14 09:00 UTC = 2026-03-13 23:00 local.
	_, err := env.svc.CreateAnchor(ctx, textRequest(alice, "late night"))
	require.NoError(t, err)

	env.clock.Advance(2 * time.Hour) // 01:00 local on the 14th
	stats, err := env.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalProofs)
	assert.Equal(t, int64(0), stats.ProofsToday)
}

func TestService_OwnerOperations(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	p, err := env.svc.CreateAnchor(ctx, textRequest(alice, "mine"))
	require.NoError(t, err)
	_, err = env.svc.CreateAnchor(ctx, textRequest(alice, "also mine"))
	require.NoError(t, err)

	n, err := env.svc.UpdateOwner(ctx, proof.OwnerMetadata{ID: "u-alice", DisplayName: "Alice Cooper", Contact: "ac@example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	found, err := env.svc.Search(ctx, "Alice C", 10)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	recent, err := env.svc.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	_, err = env.svc.UpdateOwner(ctx, proof.OwnerMetadata{DisplayName: "No ID"})
	assert.True(t, proof.IsValidation(err))

	n, err = env.svc.EraseOwner(ctx, "u-alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// The ledger keeps the anchor.
	res, err := env.svc.VerifyByFingerprint(ctx, p.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, proof.SourceLedgerOnly, res.Source)

	_, err = env.svc.EraseOwner(ctx, " ")
	assert.True(t, proof.IsValidation(err))
}

func TestService_ListHistoryRequiresOwner(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.ListHistory(context.Background(), "", store.ListOptions{})
	assert.True(t, proof.IsValidation(err))
}

func TestService_LedgerStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	st, err := env.svc.LedgerStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "memory", st.Network)
	assert.Equal(t, ledger.DefaultMemorySubmitter, st.Submitter)
}

func TestService_LogsRequestID(t *testing.T) {
	env := newTestEnv(t, nil, WithRequestIDs(NewFixedGenerator("req-0001")))

	_, err := env.svc.CreateAnchor(context.Background(), textRequest(alice, "traced"))
	require.NoError(t, err)

	logs := env.logs.String()
	assert.Contains(t, logs, `"request_id":"req-0001"`)
	assert.Contains(t, logs, `"msg":"anchor created"`)
	assert.Contains(t, logs, fingerprint.Of([]byte("traced")).String())
}
