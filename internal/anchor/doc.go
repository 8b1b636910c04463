// Package anchor is the proof anchoring and verification core.
//
// Anchoring:
//
//	content → fingerprint → Guard.CheckAndReserve → ledger.Submit → Index.Put
//
// Verification:
//
//	content → fingerprint → Resolver.Verify → {Index, ledger.QueryByFingerprint}
//
// Critical Patterns:
//
// At Most One Anchor Per Fingerprint: the Guard refuses fingerprints that are
// already indexed or already being anchored by this process. Across processes
// the index's conditional insert decides; the loser reports CONFLICT.
//
// Confirmed Before Persisted: a Proof is written only after the ledger
// confirms. A confirmed anchor that cannot be written is reported as
// INDEX_WRITE_FAILURE carrying the receipt, and Reconcile recovers it.
//
// Index Before Ledger: verification trusts the index first. Ledger-only
// results never carry an owner identity.
package anchor
