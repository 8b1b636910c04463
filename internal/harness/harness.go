package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/proofstamp/internal/anchor"
	"github.com/roach88/proofstamp/internal/fingerprint"
	"github.com/roach88/proofstamp/internal/ledger"
	"github.com/roach88/proofstamp/internal/proof"
	"github.com/roach88/proofstamp/internal/store"
	"github.com/roach88/proofstamp/internal/testutil"
)

// DefaultStart is the frozen clock's start when a scenario sets none.
var DefaultStart = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// errRejectedByScenario is the cause attached to reject_next steps.
var errRejectedByScenario = errors.New("rejected by scenario")

// Harness is the test execution engine.
// It runs scenarios against a real Service with a frozen clock.
type Harness struct {
	store     *store.Store
	ledger    *ledger.Memory
	svc       *anchor.Service
	clock     *testutil.Clock
	submitter string
	seq       int64
	logger    *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory index and in-process ledger
// 2. Execute setup steps
// 3. Execute flow steps with expect validation
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with the service logging to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	start := DefaultStart
	if scenario.Start != "" {
		var err error
		if start, err = parseStart(scenario.Start); err != nil {
			return nil, err
		}
	}
	clock := testutil.NewClock(start)

	st, err := store.Open(":memory:", store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	submitter := ledger.DefaultMemorySubmitter
	if scenario.Ledger.Submitter != "" {
		submitter = scenario.Ledger.Submitter
	}
	ledgerOpts := []ledger.MemoryOption{
		ledger.WithLedgerClock(clock.Now),
		ledger.WithSubmitter(submitter),
	}
	if scenario.Ledger.Duplicates {
		ledgerOpts = append(ledgerOpts, ledger.WithDuplicates())
	}
	mem := ledger.NewMemory(ledgerOpts...)

	h := &Harness{
		store:     st,
		ledger:    mem,
		clock:     clock,
		submitter: submitter,
		logger:    logger,
	}
	h.svc = anchor.New(st, mem,
		anchor.WithClock(clock.Now),
		anchor.WithLocation(time.UTC),
		anchor.WithLogger(logger),
		anchor.WithRequestIDs(anchor.NewFixedGenerator("scenario-"+scenario.Name)),
	)

	ctx := context.Background()
	result := NewResult()

	if err := h.executeSetup(scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{
		Index:  st,
		Ledger: mem,
		Ctx:    ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func (h *Harness) nextSeq() int64 {
	h.seq++
	return h.seq
}

// executeSetup runs all setup steps. Setup steps always succeed or abort
// the scenario.
func (h *Harness) executeSetup(setup []ActionStep, result *Result) error {
	for i, step := range setup {
		result.AddInvocationTrace(step.Action, step.Args, h.nextSeq())

		var out map[string]any
		switch step.Action {
		case SetupInject:
			fp, err := fingerprintArg(step.Args)
			if err != nil {
				return fmt.Errorf("setup step %d: %w", i, err)
			}
			submitter := stringArg(step.Args, "submitter")
			if submitter == "" {
				submitter = h.submitter
			}
			ev := h.ledger.Inject(fp, submitter, stringArg(step.Args, "name"))
			out = map[string]any{"block": ev.BlockRef}
		case SetupMine:
			n, err := intArg(step.Args, "blocks", 1)
			if err != nil {
				return fmt.Errorf("setup step %d: %w", i, err)
			}
			h.ledger.Mine(uint64(n))
		}

		result.AddCompletionTrace(CaseOK, out, h.nextSeq())
		h.logger.Debug("setup step completed", "step", i, "action", step.Action)
	}
	return nil
}

// executeFlow runs all flow steps and validates expect clauses.
//
// Each step:
// 1. Records the invocation
// 2. Runs the operation against the service or ledger
// 3. Records the completion (case and result fields)
// 4. Compares against the expect clause (default: case OK)
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		result.AddInvocationTrace(step.Invoke, step.Args, h.nextSeq())

		outcome, out, err := h.invoke(ctx, step)
		if err != nil {
			return fmt.Errorf("flow step %d (%s): %w", i, step.Invoke, err)
		}
		result.AddCompletionTrace(outcome, out, h.nextSeq())

		want := CaseOK
		if step.Expect != nil {
			want = step.Expect.Case
		}
		if outcome != want {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected case %s, got %s %v", i, step.Invoke, want, outcome, out))
			continue
		}
		if step.Expect != nil {
			if mismatch, ok := matchSubset(out, step.Expect.Result); !ok {
				result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Invoke, mismatch))
			}
		}

		h.logger.Debug("flow step completed", "step", i, "action", step.Invoke, "case", outcome)
	}

	return nil
}

// invoke runs one flow step. Service failures become the step's outcome;
// the returned error is reserved for malformed steps.
func (h *Harness) invoke(ctx context.Context, step FlowStep) (string, map[string]any, error) {
	args := step.Args

	switch step.Invoke {
	case OpAnchor:
		kind, file, err := contentArgs(args)
		if err != nil {
			return "", nil, err
		}
		var p proof.Proof
		if text, ok := args["text"].(string); ok {
			p, err = h.svc.CreateAnchor(ctx, anchor.AnchorRequest{
				Owner:   ownerArg(args),
				Content: []byte(text),
				Kind:    kind,
				File:    file,
			})
		} else {
			fp, ferr := fingerprintArg(args)
			if ferr != nil {
				return "", nil, ferr
			}
			p, err = h.svc.CreateAnchorFromFingerprint(ctx, ownerArg(args), fp, kind, file)
		}
		return outcome(proofResult(p), err)

	case OpVerify:
		var res proof.VerificationResult
		var err error
		if text, ok := args["text"].(string); ok {
			res, err = h.svc.VerifyContent(ctx, []byte(text))
		} else {
			fp, ferr := fingerprintArg(args)
			if ferr != nil {
				return "", nil, ferr
			}
			res, err = h.svc.VerifyByFingerprint(ctx, fp)
		}
		return outcome(verifyResult(res), err)

	case OpReconcile:
		fp, err := fingerprintArg(args)
		if err != nil {
			return "", nil, err
		}
		kind, file, err := contentArgs(args)
		if err != nil {
			return "", nil, err
		}
		p, err := h.svc.Reconcile(ctx, ownerArg(args), fp, kind, file)
		return outcome(proofResult(p), err)

	case OpUpdateOwner:
		n, err := h.svc.UpdateOwner(ctx, ownerArg(args))
		return outcome(map[string]any{"proofs": n}, err)

	case OpEraseOwner:
		n, err := h.svc.EraseOwner(ctx, stringArg(args, "owner_id"))
		return outcome(map[string]any{"proofs": n}, err)

	case OpStats:
		s, err := h.svc.GetStats(ctx)
		return outcome(map[string]any{
			"total_proofs": s.TotalProofs,
			"total_owners": s.TotalOwners,
			"proofs_today": s.ProofsToday,
		}, err)

	case OpLedgerDown:
		h.ledger.SetUnavailable(true)
	case OpLedgerUp:
		h.ledger.SetUnavailable(false)
	case OpRejectNext:
		h.ledger.RejectNext(errRejectedByScenario)
	case OpMine:
		n, err := intArg(args, "blocks", 1)
		if err != nil {
			return "", nil, err
		}
		h.ledger.Mine(uint64(n))
	case OpAdvance:
		d, err := time.ParseDuration(stringArg(args, "by"))
		if err != nil {
			return "", nil, fmt.Errorf("advance: args.by: %w", err)
		}
		h.clock.Advance(d)
	}
	return CaseOK, nil, nil
}

// outcome maps a service result to a trace case and result fields.
func outcome(ok map[string]any, err error) (string, map[string]any, error) {
	if err == nil {
		return CaseOK, ok, nil
	}

	code := string(proof.CodeOf(err))
	if code == "" {
		code = "ERROR"
	}
	var out map[string]any
	var pe *proof.Error
	if errors.As(err, &pe) {
		switch {
		case pe.Existing != nil:
			out = map[string]any{"existing_owner": pe.Existing.OwnerDisplayName}
			if pe.Existing.Pending {
				out["pending"] = true
			}
		case pe.Receipt != nil:
			out = map[string]any{"block": pe.Receipt.BlockRef}
		}
	}
	return code, out, nil
}

func proofResult(p proof.Proof) map[string]any {
	return map[string]any{
		"fingerprint": p.Fingerprint.String(),
		"owner":       p.OwnerDisplayName,
		"block":       p.LedgerBlockRef,
		"submitter":   p.Submitter,
	}
}

func verifyResult(res proof.VerificationResult) map[string]any {
	out := map[string]any{"found": res.Found}
	if !res.Found || res.Proof == nil {
		return out
	}
	out["source"] = string(res.Source)
	out["owner"] = res.Proof.OwnerDisplayName
	out["block"] = res.Proof.LedgerBlockRef
	if res.Proof.ClaimedName != "" {
		out["claimed_name"] = res.Proof.ClaimedName
	}
	return out
}

func parseStart(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 time: %w", err)
	}
	return t, nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg reads an integer argument. YAML decodes integers as int.
func intArg(args map[string]any, key string, def int64) (int64, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("args.%s: want integer, got %T", key, v)
	}
}

// fingerprintArg derives the fingerprint from args.text or args.fingerprint.
func fingerprintArg(args map[string]any) (fingerprint.Fingerprint, error) {
	if text, ok := args["text"].(string); ok {
		return fingerprint.Of([]byte(text)), nil
	}
	s := stringArg(args, "fingerprint")
	if s == "" {
		return fingerprint.Zero, fmt.Errorf("args.text or args.fingerprint is required")
	}
	return fingerprint.Parse(s)
}

func ownerArg(args map[string]any) proof.OwnerMetadata {
	return proof.OwnerMetadata{
		ID:          stringArg(args, "owner_id"),
		DisplayName: stringArg(args, "owner_name"),
		Contact:     stringArg(args, "owner_contact"),
	}
}

// contentArgs reads kind and file metadata. File metadata is only built for
// kind file.
func contentArgs(args map[string]any) (proof.Kind, *proof.FileMeta, error) {
	kind := proof.Kind(stringArg(args, "kind"))
	if kind != proof.KindFile {
		return kind, nil, nil
	}
	size, err := intArg(args, "file_size", 0)
	if err != nil {
		return "", nil, err
	}
	return kind, &proof.FileMeta{
		Name: stringArg(args, "file_name"),
		Mime: stringArg(args, "mime"),
		Size: size,
	}, nil
}
