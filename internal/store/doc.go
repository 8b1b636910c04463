// Package store provides the SQLite-backed metadata index for proofstamp.
//
// The index holds one proof record per fingerprint plus a secondary owner
// index (owner_id → fingerprints in insertion order). It is the only place a
// Proof is created, and it is written only after the ledger has confirmed
// the anchor.
//
// # Critical Patterns
//
// First Write Wins
//   - proofs.fingerprint is the PRIMARY KEY
//   - Put uses ON CONFLICT(fingerprint) DO NOTHING and reports the existing
//     record instead of overwriting it
//
// Atomic Owner Append
//   - The proof row and its owner_proofs row are written in one transaction
//   - A proof that already existed produces no owner_proofs row
//
// Sanctioned Rewrites
//   - Denormalized owner fields change only through BulkUpdateOwnerInfo
//   - Erasure removes owner_proofs rows and proofs rows in one transaction
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
