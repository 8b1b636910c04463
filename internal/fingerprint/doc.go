// Package fingerprint derives the content fingerprint used as the primary key
// of every proof.
//
// A fingerprint is the SHA-256 digest of the raw content bytes. No
// normalization or domain separation is applied: anyone holding the original
// bytes must be able to recompute the same value with a stock sha256sum and
// compare it against the ledger.
//
// The canonical text form is 64 lowercase hex characters without prefix.
// The ledger form (Hex0x) carries the 0x prefix used by bytes32 arguments.
package fingerprint
