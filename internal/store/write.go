package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/proofstamp/internal/proof"
)

// PutResult reports the outcome of Put.
//
// When Inserted is false the fingerprint was already present: Proof holds the
// record that was written first, and nothing was changed.
type PutResult struct {
	Proof    proof.Proof
	Inserted bool
}

// Put persists a confirmed proof and appends it to the owner index in one
// transaction.
//
// Uses ON CONFLICT(fingerprint) DO NOTHING: a second insert for the same
// fingerprint is a no-op that returns the existing record with
// Inserted=false. The first write always wins.
//
// p.RecordedAt is stamped from the store clock when zero.
func (s *Store) Put(ctx context.Context, p proof.Proof) (PutResult, error) {
	if err := validateForPut(&p); err != nil {
		return PutResult{}, err
	}
	if p.RecordedAt.IsZero() {
		p.RecordedAt = s.now()
	}
	p.RecordedAt = p.RecordedAt.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PutResult{}, fmt.Errorf("put proof: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var fileName, fileMime sql.NullString
	var fileSize sql.NullInt64
	if p.File != nil {
		fileName = sql.NullString{String: p.File.Name, Valid: true}
		fileMime = sql.NullString{String: p.File.Mime, Valid: p.File.Mime != ""}
		fileSize = sql.NullInt64{Int64: p.File.Size, Valid: true}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO proofs
		(fingerprint, owner_id, owner_display_name, owner_contact, submitter,
		 ledger_tx_ref, ledger_block_ref, anchored_at, recorded_at,
		 kind, file_name, file_mime, file_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`,
		p.Fingerprint.String(),
		p.OwnerID,
		p.OwnerDisplayName,
		p.OwnerContact,
		p.Submitter,
		p.LedgerTxRef,
		int64(p.LedgerBlockRef),
		p.AnchoredAt,
		p.RecordedAt.UnixNano(),
		string(p.Kind),
		fileName,
		fileMime,
		fileSize,
	)
	if err != nil {
		return PutResult{}, fmt.Errorf("put proof: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return PutResult{}, fmt.Errorf("put proof: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Conflict - keep the first record and report it
		existing, err := scanProofRow(tx.QueryRowContext(ctx, selectProof+` WHERE fingerprint = ?`,
			p.Fingerprint.String()))
		if err != nil {
			return PutResult{}, fmt.Errorf("put proof: select existing: %w", err)
		}
		return PutResult{Proof: existing, Inserted: false}, nil
	}

	if p.OwnerID != "" {
		var next int64
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position), 0) + 1 FROM owner_proofs WHERE owner_id = ?
		`, p.OwnerID).Scan(&next); err != nil {
			return PutResult{}, fmt.Errorf("put proof: next owner position: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO owner_proofs (owner_id, position, fingerprint)
			VALUES (?, ?, ?)
		`, p.OwnerID, next, p.Fingerprint.String()); err != nil {
			return PutResult{}, fmt.Errorf("put proof: owner index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return PutResult{}, fmt.Errorf("put proof: commit: %w", err)
	}

	return PutResult{Proof: p, Inserted: true}, nil
}

// BulkUpdateOwnerInfo rewrites the denormalized owner fields on every proof
// owned by ownerID. This is the only sanctioned way to change them.
// Returns the number of proofs rewritten.
func (s *Store) BulkUpdateOwnerInfo(ctx context.Context, ownerID, displayName, contact string) (int64, error) {
	if ownerID == "" {
		return 0, proof.NewValidationError("owner id is required")
	}
	displayName = normalizeName(displayName)
	if displayName == "" {
		return 0, proof.NewValidationError("owner display name is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("update owner info: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE proofs
		SET owner_display_name = ?, owner_contact = ?
		WHERE owner_id = ?
	`, displayName, strings.TrimSpace(contact), ownerID)
	if err != nil {
		return 0, fmt.Errorf("update owner info: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update owner info: rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("update owner info: commit: %w", err)
	}
	return n, nil
}

// DeleteAllForOwner erases every proof owned by ownerID together with the
// owner index. Returns the number of proofs deleted.
func (s *Store) DeleteAllForOwner(ctx context.Context, ownerID string) (int64, error) {
	if ownerID == "" {
		return 0, proof.NewValidationError("owner id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete owner proofs: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM owner_proofs WHERE owner_id = ?`, ownerID); err != nil {
		return 0, fmt.Errorf("delete owner proofs: owner index: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM proofs WHERE owner_id = ?`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete owner proofs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete owner proofs: rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete owner proofs: commit: %w", err)
	}
	return n, nil
}

// validateForPut rejects records that are not fully confirmed or that carry
// inconsistent content metadata. Normalizes owner fields in place.
func validateForPut(p *proof.Proof) error {
	if p.Fingerprint.IsZero() {
		return proof.NewValidationError("fingerprint is required")
	}
	if p.LedgerTxRef == "" {
		return proof.NewValidationError("proof has no ledger transaction; only confirmed anchors may be stored")
	}
	switch p.Kind {
	case proof.KindText:
		if p.File != nil {
			return proof.NewValidationError("text proof must not carry file metadata")
		}
	case proof.KindFile:
		if p.File == nil {
			return proof.NewValidationError("file proof requires file metadata")
		}
	default:
		return proof.NewValidationError(fmt.Sprintf("unknown content kind %q", p.Kind))
	}

	p.OwnerDisplayName = normalizeName(p.OwnerDisplayName)
	if p.OwnerDisplayName == "" {
		p.OwnerDisplayName = proof.UnknownOwner
	}
	p.OwnerContact = strings.TrimSpace(p.OwnerContact)
	return nil
}

// normalizeName NFC-normalizes a display name so that visually identical
// names compare and prefix-search equal.
func normalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
