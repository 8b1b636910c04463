package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/proofstamp/internal/ledger"
	"github.com/roach88/proofstamp/internal/proof"
	"github.com/roach88/proofstamp/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			if event.Type == "invocation" {
				fmt.Fprintf(&buf, "  [%d] %s %v\n", i+1, event.Action, event.Args)
			}
		}
	}

	return buf.String()
}

// AssertionContext carries the state assertions inspect.
type AssertionContext struct {
	Index  *store.Store
	Ledger *ledger.Memory
	Ctx    context.Context
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(actx.Ctx, actx.Index, a)
		case AssertLedgerSubmits:
			err = assertLedgerSubmits(actx.Ledger, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertTraceContains checks if the trace contains an invocation matching
// the specified action and args (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type == "invocation" && event.Action == assertion.Action {
			if _, ok := matchSubset(event.Args, assertion.Args); ok {
				return nil
			}
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", assertion.Action, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening actions are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	// Each expected action must occur after the previous match.
	next := 0
	for _, event := range trace {
		if next == len(assertion.Actions) {
			break
		}
		if event.Type == "invocation" && event.Action == assertion.Actions[next] {
			next++
		}
	}

	if next < len(assertion.Actions) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
			Actual:   fmt.Sprintf("no %s after %v", assertion.Actions[next], assertion.Actions[:next]),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == "invocation" && event.Action == assertion.Action {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the indexed record for a fingerprint against the
// expected fields (subset semantics).
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	fp, err := fingerprintArg(assertion.Args)
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}

	p, found, err := st.GetByFingerprint(ctx, fp)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("lookup of %s", fp),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}

	if indexed, ok := assertion.Expect["indexed"].(bool); ok && !indexed {
		if found {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s not indexed", fp),
				Actual:   fmt.Sprintf("indexed for %s", p.OwnerDisplayName),
			}
		}
		return nil
	}

	if !found {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("record for %s", fp),
			Actual:   "record not found",
		}
	}

	want := make(map[string]any, len(assertion.Expect))
	for k, v := range assertion.Expect {
		if k != "indexed" {
			want[k] = v
		}
	}
	if mismatch, ok := matchSubset(recordFields(p), want); !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("record for %s with %v", fp, want),
			Actual:   mismatch,
		}
	}
	return nil
}

// assertLedgerSubmits checks how many submissions reached the ledger.
func assertLedgerSubmits(l *ledger.Memory, assertion Assertion) error {
	if got := l.Submits(); got != assertion.Count {
		return &AssertionError{
			Type:     AssertLedgerSubmits,
			Expected: fmt.Sprintf("%d ledger submissions", assertion.Count),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}

// recordFields flattens an indexed record for final_state matching.
func recordFields(p proof.Proof) map[string]any {
	out := map[string]any{
		"fingerprint":        p.Fingerprint.String(),
		"owner_id":           p.OwnerID,
		"owner_display_name": p.OwnerDisplayName,
		"owner_contact":      p.OwnerContact,
		"submitter":          p.Submitter,
		"ledger_tx_ref":      p.LedgerTxRef,
		"ledger_block_ref":   p.LedgerBlockRef,
		"anchored_at":        p.AnchoredAt,
		"kind":               string(p.Kind),
	}
	if p.File != nil {
		out["file_name"] = p.File.Name
		out["file_size"] = p.File.Size
		out["mime"] = p.File.Mime
	}
	return out
}

// matchSubset reports whether every expected key is present in actual with
// an equal value. Values compare by their printed form, since YAML decodes
// integers as int while results carry int64 and uint64.
func matchSubset(actual, expected map[string]any) (string, bool) {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			return fmt.Sprintf("missing field %q", k), false
		}
		if fmt.Sprint(got) != fmt.Sprint(expected[k]) {
			return fmt.Sprintf("field %q: expected %v, got %v", k, expected[k], got), false
		}
	}
	return "", true
}
