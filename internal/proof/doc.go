// Package proof holds the domain types shared by every proofstamp package:
// the Proof record, ledger receipts and events, verification results, and the
// error taxonomy callers use to pick user-facing messaging.
//
// This package contains type definitions only. It imports nothing internal
// except fingerprint, so every other package may depend on it.
//
// Key constraints:
//   - A Proof's ledger fields are set only from a confirmed Receipt; there is
//     no partially-confirmed Proof.
//   - Fingerprints are never recomputed once a Proof exists.
//   - All JSON tags use snake_case.
package proof
