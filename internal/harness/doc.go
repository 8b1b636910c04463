// Package harness runs anchoring scenarios against a real Service.
//
// Each scenario gets a fresh in-memory index, an in-process ledger and a
// frozen clock, so the recorded trace is reproducible and can be compared
// against a golden file.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: double_anchor
//	description: "A second owner cannot anchor anchored content"
//	setup:
//	  - action: inject
//	    args: { text: "legacy", submitter: "0x...", name: "Mallory" }
//	flow:
//	  - invoke: anchor
//	    args: { text: "hello world", owner_id: u1, owner_name: Alice }
//	    expect:
//	      case: OK
//	      result: { owner: Alice }
//	assertions:
//	  - type: ledger_submits
//	    count: 1
//	  - type: final_state
//	    args: { text: "hello world" }
//	    expect: { owner_display_name: Alice }
//
// # Operations
//
// Flow steps invoke service operations (anchor, verify, reconcile,
// update_owner, erase_owner, stats) or drive the ledger and clock
// (ledger_down, ledger_up, reject_next, mine, advance). Setup steps may
// inject foreign ledger events and mine blocks.
//
// A step's outcome case is "OK" or the error code it failed with, e.g.
// "CONFLICT". Expected results are subset matches.
//
// # Assertions
//
//   - trace_contains: an invocation of action with matching args
//   - trace_order: actions invoked in the given order
//   - trace_count: action invoked exactly count times
//   - final_state: the indexed record for a fingerprint (or its absence)
//   - ledger_submits: submissions that reached the ledger
package harness
