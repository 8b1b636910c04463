// Package ledger is the gateway to the external append-only ledger.
//
// The ledger client owns no durable state. It submits fingerprints, blocks
// until the submission is confirmed to a minimum depth, scans a bounded
// trailing window of ledger history for ProofCreated events, and asks the
// contract directly whether a fingerprint was ever anchored.
//
// Two implementations satisfy Client:
//   - EthClient: an EVM chain reached over JSON-RPC (go-ethereum), talking to
//     the ProofOfExistence contract.
//   - Memory: an in-process ledger for tests and local development.
//
// Nothing in this package retries a submission. A cancelled or timed-out
// Submit may still confirm later; reconciliation is the caller's job.
package ledger
