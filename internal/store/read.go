package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/proofstamp/internal/fingerprint"
	"github.com/roach88/proofstamp/internal/proof"
)

// Listing limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// SortKey selects the ordering for ListByOwner.
type SortKey string

const (
	// SortPosition orders by owner-index insertion order.
	SortPosition   SortKey = "position"
	SortRecordedAt SortKey = "recorded_at"
	SortAnchoredAt SortKey = "anchored_at"
)

// sortColumns whitelists ORDER BY columns. Never interpolate user input.
var sortColumns = map[SortKey]string{
	SortPosition:   "op.position",
	SortRecordedAt: "p.recorded_at",
	SortAnchoredAt: "p.anchored_at",
}

// ParseSortKey validates a sort key. Empty selects SortPosition.
func ParseSortKey(s string) (SortKey, error) {
	if s == "" {
		return SortPosition, nil
	}
	if _, ok := sortColumns[SortKey(s)]; !ok {
		return "", proof.NewValidationError(fmt.Sprintf("unknown sort key %q (want position, recorded_at or anchored_at)", s))
	}
	return SortKey(s), nil
}

// ListOptions controls pagination and ordering for ListByOwner.
type ListOptions struct {
	Limit  int // 0 selects DefaultListLimit; above MaxListLimit is rejected
	Offset int
	Sort   SortKey
	Desc   bool
}

func (o ListOptions) limit() (int, error) {
	switch {
	case o.Limit == 0:
		return DefaultListLimit, nil
	case o.Limit < 0 || o.Limit > MaxListLimit:
		return 0, proof.NewValidationError(
			fmt.Sprintf("limit %d out of range (1-%d)", o.Limit, MaxListLimit))
	default:
		return o.Limit, nil
	}
}

const selectProof = `
	SELECT fingerprint, owner_id, owner_display_name, owner_contact, submitter,
	       ledger_tx_ref, ledger_block_ref, anchored_at, recorded_at,
	       kind, file_name, file_mime, file_size
	FROM proofs`

// GetByFingerprint returns the proof for fp. Lookups are exact-match only.
// Returns found=false with no error when absent.
func (s *Store) GetByFingerprint(ctx context.Context, fp fingerprint.Fingerprint) (proof.Proof, bool, error) {
	p, err := scanProofRow(s.db.QueryRowContext(ctx, selectProof+` WHERE fingerprint = ?`, fp.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return proof.Proof{}, false, nil
	}
	if err != nil {
		return proof.Proof{}, false, fmt.Errorf("get proof: %w", err)
	}
	return p, true, nil
}

// ListByOwner returns the owner's proofs via the owner index.
//
// Ties on the sort key are broken by insertion order so pagination is stable.
// Returns an empty slice (not nil) when the owner has no proofs.
func (s *Store) ListByOwner(ctx context.Context, ownerID string, opts ListOptions) ([]proof.Proof, error) {
	sortKey := opts.Sort
	if sortKey == "" {
		sortKey = SortPosition
	}
	col, ok := sortColumns[sortKey]
	if !ok {
		return nil, proof.NewValidationError(fmt.Sprintf("unknown sort key %q", sortKey))
	}
	dir := "ASC"
	if opts.Desc {
		dir = "DESC"
	}
	limit, err := opts.limit()
	if err != nil {
		return nil, err
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT p.fingerprint, p.owner_id, p.owner_display_name, p.owner_contact, p.submitter,
		       p.ledger_tx_ref, p.ledger_block_ref, p.anchored_at, p.recorded_at,
		       p.kind, p.file_name, p.file_mime, p.file_size
		FROM owner_proofs op
		JOIN proofs p ON p.fingerprint = op.fingerprint
		WHERE op.owner_id = ?
		ORDER BY %s %s, op.position %s
		LIMIT ? OFFSET ?
	`, col, dir, dir)

	rows, err := s.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list owner proofs: %w", err)
	}
	return collectProofs(rows)
}

// Recent returns the most recently recorded proofs across all owners.
func (s *Store) Recent(ctx context.Context, limit int) ([]proof.Proof, error) {
	n, err := ListOptions{Limit: limit}.limit()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, selectProof+`
		ORDER BY recorded_at DESC, fingerprint ASC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("recent proofs: %w", err)
	}
	return collectProofs(rows)
}

// SearchByOwnerName returns proofs whose owner display name starts with
// prefix. Matching is case-insensitive for ASCII only (SQLite LIKE).
func (s *Store) SearchByOwnerName(ctx context.Context, prefix string, limit int) ([]proof.Proof, error) {
	prefix = normalizeName(prefix)
	if prefix == "" {
		return nil, proof.NewValidationError("search prefix is required")
	}
	n, err := ListOptions{Limit: limit}.limit()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectProof+`
		WHERE owner_display_name LIKE ? ESCAPE '\'
		ORDER BY owner_display_name ASC, recorded_at DESC
		LIMIT ?
	`, escapeLike(prefix)+"%", n)
	if err != nil {
		return nil, fmt.Errorf("search proofs: %w", err)
	}
	return collectProofs(rows)
}

// Counts is the raw index summary. PeriodProofs counts proofs recorded at or
// after the period start passed to Count.
type Counts struct {
	TotalProofs  int64
	TotalOwners  int64
	PeriodProofs int64
}

// Count summarizes the index. Owners are distinct non-empty owner ids.
func (s *Store) Count(ctx context.Context, periodStart time.Time) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT NULLIF(owner_id, '')),
			COALESCE(SUM(CASE WHEN recorded_at >= ? THEN 1 ELSE 0 END), 0)
		FROM proofs
	`, periodStart.UnixNano()).Scan(&c.TotalProofs, &c.TotalOwners, &c.PeriodProofs)
	if err != nil {
		return Counts{}, fmt.Errorf("count proofs: %w", err)
	}
	return c, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProofRow(row rowScanner) (proof.Proof, error) {
	var (
		fpHex      string
		p          proof.Proof
		blockRef   int64
		recordedAt int64
		kind       string
		fileName   sql.NullString
		fileMime   sql.NullString
		fileSize   sql.NullInt64
	)
	if err := row.Scan(
		&fpHex,
		&p.OwnerID,
		&p.OwnerDisplayName,
		&p.OwnerContact,
		&p.Submitter,
		&p.LedgerTxRef,
		&blockRef,
		&p.AnchoredAt,
		&recordedAt,
		&kind,
		&fileName,
		&fileMime,
		&fileSize,
	); err != nil {
		return proof.Proof{}, err
	}

	fp, err := fingerprint.Parse(fpHex)
	if err != nil {
		return proof.Proof{}, fmt.Errorf("corrupt fingerprint %q: %w", fpHex, err)
	}
	p.Fingerprint = fp
	p.LedgerBlockRef = uint64(blockRef)
	p.RecordedAt = time.Unix(0, recordedAt).UTC()
	p.Kind = proof.Kind(kind)
	if fileName.Valid {
		p.File = &proof.FileMeta{
			Name: fileName.String,
			Mime: fileMime.String,
			Size: fileSize.Int64,
		}
	}
	return p, nil
}

func collectProofs(rows *sql.Rows) ([]proof.Proof, error) {
	defer rows.Close()

	proofs := []proof.Proof{}
	for rows.Next() {
		p, err := scanProofRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proof: %w", err)
		}
		proofs = append(proofs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proofs: %w", err)
	}
	return proofs, nil
}

// escapeLike escapes LIKE metacharacters using backslash.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
