package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: setup, a flow of operations
// with expected outcomes, and assertions on the trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the frozen clock's initial time (RFC 3339). Defaults to
	// DefaultStart.
	Start string `yaml:"start,omitempty"`

	// Ledger configures the in-process ledger.
	Ledger LedgerSetup `yaml:"ledger,omitempty"`

	// Setup prepares ledger state before the flow. Setup steps must succeed.
	Setup []ActionStep `yaml:"setup,omitempty"`

	// Flow contains the operations under test with expected outcomes.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// LedgerSetup configures the in-process ledger for a scenario.
type LedgerSetup struct {
	// Duplicates lets the ledger accept a fingerprint more than once.
	Duplicates bool `yaml:"duplicates,omitempty"`

	// Submitter overrides the gateway's submitter address.
	Submitter string `yaml:"submitter,omitempty"`
}

// ActionStep is a setup action.
type ActionStep struct {
	// Action is "inject" or "mine".
	Action string `yaml:"action"`

	// Args contains the action arguments.
	Args map[string]any `yaml:"args"`
}

// FlowStep is one operation in the main flow.
type FlowStep struct {
	// Invoke names the operation, e.g. "anchor".
	Invoke string `yaml:"invoke"`

	// Args contains the operation arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect specifies the expected outcome. If nil, the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies an expected outcome.
type ExpectClause struct {
	// Case is "OK" or an error code such as "CONFLICT".
	Case string `yaml:"case"`

	// Result is a subset match against the step's result fields.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is the operation name (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Args are matched against invocation args (trace_contains), or name
	// the fingerprint by text or hex (final_state).
	Args map[string]any `yaml:"args,omitempty"`

	// Expect contains expected record fields (final_state). The single
	// field "indexed: false" asserts the fingerprint is not indexed.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number (trace_count, ledger_submits).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected operation order (trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertLedgerSubmits = "ledger_submits"
)

// Setup actions.
const (
	SetupInject = "inject"
	SetupMine   = "mine"
)

// Flow operations.
const (
	OpAnchor      = "anchor"
	OpVerify      = "verify"
	OpReconcile   = "reconcile"
	OpUpdateOwner = "update_owner"
	OpEraseOwner  = "erase_owner"
	OpStats       = "stats"
	OpLedgerDown  = "ledger_down"
	OpLedgerUp    = "ledger_up"
	OpRejectNext  = "reject_next"
	OpMine        = "mine"
	OpAdvance     = "advance"
)

// CaseOK is the outcome case of a step that returned no error.
const CaseOK = "OK"

var knownOps = map[string]bool{
	OpAnchor: true, OpVerify: true, OpReconcile: true, OpUpdateOwner: true,
	OpEraseOwner: true, OpStats: true, OpLedgerDown: true, OpLedgerUp: true,
	OpRejectNext: true, OpMine: true, OpAdvance: true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Start != "" {
		if _, err := parseStart(s.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}

	for i, step := range s.Setup {
		switch step.Action {
		case SetupInject, SetupMine:
		case "":
			return fmt.Errorf("setup[%d]: action is required", i)
		default:
			return fmt.Errorf("setup[%d]: unknown action %q", i, step.Action)
		}
		if step.Args == nil {
			return fmt.Errorf("setup[%d]: args is required", i)
		}
	}

	for i, step := range s.Flow {
		if step.Invoke == "" {
			return fmt.Errorf("flow[%d]: invoke is required", i)
		}
		if !knownOps[step.Invoke] {
			return fmt.Errorf("flow[%d]: unknown operation %q", i, step.Invoke)
		}
		if step.Expect != nil && step.Expect.Case == "" {
			return fmt.Errorf("flow[%d].expect: case is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Args["text"] == nil && a.Args["fingerprint"] == nil {
			return fmt.Errorf("assertions[%d]: args.text or args.fingerprint is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertLedgerSubmits:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for ledger_submits", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
