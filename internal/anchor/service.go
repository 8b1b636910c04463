package anchor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/proofstamp/internal/fingerprint"
	"github.com/roach88/proofstamp/internal/ledger"
	"github.com/roach88/proofstamp/internal/proof"
	"github.com/roach88/proofstamp/internal/store"
)

// Content limits.
const (
	DefaultTextLimit int64 = 1 << 20  // 1 MiB
	DefaultFileLimit int64 = 10 << 20 // 10 MiB
)

// Index is the metadata index as used by Service. *store.Store implements it.
type Index interface {
	Lookup
	Put(ctx context.Context, p proof.Proof) (store.PutResult, error)
	ListByOwner(ctx context.Context, ownerID string, opts store.ListOptions) ([]proof.Proof, error)
	Count(ctx context.Context, periodStart time.Time) (store.Counts, error)
	Recent(ctx context.Context, limit int) ([]proof.Proof, error)
	SearchByOwnerName(ctx context.Context, prefix string, limit int) ([]proof.Proof, error)
	BulkUpdateOwnerInfo(ctx context.Context, ownerID, displayName, contact string) (int64, error)
	DeleteAllForOwner(ctx context.Context, ownerID string) (int64, error)
}

var _ Index = (*store.Store)(nil)

// AnchorRequest is one request to anchor content.
//
// Kind defaults to text. File is required for file content and forbidden for
// text; File.Size is taken from Content when zero.
type AnchorRequest struct {
	Owner   proof.OwnerMetadata
	Content []byte
	Kind    proof.Kind
	File    *proof.FileMeta
}

// Service wires the fingerprint engine, guard, ledger client, index and
// resolver into the inbound operations.
//
// Thread-safety: Service is safe for concurrent use.
type Service struct {
	index    Index
	ledger   ledger.Client
	guard    *Guard
	resolver *Resolver

	ids       RequestIDGenerator
	now       func() time.Time
	loc       *time.Location
	window    uint64
	textLimit int64
	fileLimit int64
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the wall clock used for "today" in GetStats.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the time zone whose midnight starts "today".
// Default: time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRequestIDs sets the request id generator. Default: UUIDv7Generator.
func WithRequestIDs(g RequestIDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithWindow sets the ledger scan window for verification and reconcile.
func WithWindow(blocks uint64) Option {
	return func(s *Service) { s.window = blocks }
}

// WithLimits sets the maximum text and file sizes in bytes. Zero keeps the
// default.
func WithLimits(text, file int64) Option {
	return func(s *Service) {
		if text > 0 {
			s.textLimit = text
		}
		if file > 0 {
			s.fileLimit = file
		}
	}
}

// New creates a Service. Collaborators are passed in; nothing is global.
func New(index Index, l ledger.Client, opts ...Option) *Service {
	s := &Service{
		index:     index,
		ledger:    l,
		ids:       UUIDv7Generator{},
		now:       time.Now,
		loc:       time.Local,
		window:    ledger.DefaultWindow,
		textLimit: DefaultTextLimit,
		fileLimit: DefaultFileLimit,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.guard = NewGuard(index)
	s.resolver = NewResolver(index, l, s.window, s.logger)
	return s
}

// CreateAnchor fingerprints req.Content and anchors it for req.Owner.
func (s *Service) CreateAnchor(ctx context.Context, req AnchorRequest) (proof.Proof, error) {
	kind, file, err := s.validateContent(req)
	if err != nil {
		return proof.Proof{}, err
	}
	return s.CreateAnchorFromFingerprint(ctx, req.Owner, fingerprint.Of(req.Content), kind, file)
}

// CreateAnchorFromFingerprint anchors a precomputed fingerprint.
//
// Errors: VALIDATION, CONFLICT (indexed, in flight, or lost the insert race),
// SUBMISSION_REJECTED, TIMEOUT, UNAVAILABLE, INDEX_WRITE_FAILURE. After
// TIMEOUT the anchor may still confirm; Reconcile picks it up.
func (s *Service) CreateAnchorFromFingerprint(ctx context.Context, owner proof.OwnerMetadata, fp fingerprint.Fingerprint, kind proof.Kind, file *proof.FileMeta) (proof.Proof, error) {
	owner, err := validateOwner(owner)
	if err != nil {
		return proof.Proof{}, err
	}
	if fp.IsZero() {
		return proof.Proof{}, proof.NewValidationError("fingerprint is required")
	}
	if kind, file, err = s.validateKind(kind, file); err != nil {
		return proof.Proof{}, err
	}

	requestID := s.ids.Generate()
	log := s.logger.With("request_id", requestID, "fingerprint", fp.String(), "owner", owner.ID)

	res, err := s.guard.CheckAndReserve(ctx, fp)
	if err != nil {
		log.Info("anchor refused", "error", err)
		return proof.Proof{}, err
	}
	defer res.Release()

	log.Debug("submitting anchor")
	rc, err := s.ledger.Submit(ctx, fp, owner)
	if err != nil {
		log.Warn("anchor submission failed", "code", string(proof.CodeOf(err)), "error", err)
		return proof.Proof{}, err
	}

	p := proof.Proof{
		Fingerprint:      fp,
		OwnerID:          owner.ID,
		OwnerDisplayName: owner.DisplayName,
		OwnerContact:     owner.Contact,
		Submitter:        rc.Submitter,
		LedgerTxRef:      rc.TxRef,
		LedgerBlockRef:   rc.BlockRef,
		AnchoredAt:       rc.LedgerTimestamp,
		Kind:             kind,
		File:             file,
	}

	// The ledger has confirmed; a caller cancelling now must not lose the record.
	put, err := s.index.Put(context.WithoutCancel(ctx), p)
	if err != nil {
		log.Error("anchor confirmed but not indexed", "tx", rc.TxRef, "block", rc.BlockRef, "error", err)
		return proof.Proof{}, proof.NewIndexWriteError(fp, rc, err)
	}
	if !put.Inserted {
		log.Warn("anchor lost index race", "tx", rc.TxRef, "existing_owner", put.Proof.OwnerID)
		return proof.Proof{}, conflictWith(put.Proof)
	}

	log.Info("anchor created", "tx", rc.TxRef, "block", rc.BlockRef)
	return put.Proof, nil
}

// VerifyContent fingerprints content and resolves it.
func (s *Service) VerifyContent(ctx context.Context, content []byte) (proof.VerificationResult, error) {
	if int64(len(content)) > s.fileLimit {
		return proof.VerificationResult{}, proof.NewValidationError(
			fmt.Sprintf("content too large: %d bytes (max %d)", len(content), s.fileLimit))
	}
	return s.resolver.Verify(ctx, fingerprint.Of(content))
}

// VerifyByFingerprint resolves fp.
func (s *Service) VerifyByFingerprint(ctx context.Context, fp fingerprint.Fingerprint) (proof.VerificationResult, error) {
	return s.resolver.Verify(ctx, fp)
}

// ListHistory returns the owner's proofs.
func (s *Service) ListHistory(ctx context.Context, ownerID string, opts store.ListOptions) ([]proof.Proof, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, proof.NewValidationError("owner id is required")
	}
	return s.index.ListByOwner(ctx, ownerID, opts)
}

// GetStats summarizes the index. "Today" starts at midnight of the service
// clock in the configured location.
func (s *Service) GetStats(ctx context.Context) (proof.Stats, error) {
	now := s.now().In(s.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	c, err := s.index.Count(ctx, midnight)
	if err != nil {
		return proof.Stats{}, err
	}
	return proof.Stats{
		TotalProofs: c.TotalProofs,
		TotalOwners: c.TotalOwners,
		ProofsToday: c.PeriodProofs,
	}, nil
}

// Reconcile indexes a fingerprint that is on the ledger but missing locally:
// an INDEX_WRITE_FAILURE, or a TIMEOUT whose transaction confirmed later.
//
// The earliest event submitted by this gateway's own ledger account is
// adopted; a window holding only foreign events is a CONFLICT. Returns the
// existing record when fp is already indexed, and NOT_FOUND when no event is
// visible in the window.
func (s *Service) Reconcile(ctx context.Context, owner proof.OwnerMetadata, fp fingerprint.Fingerprint, kind proof.Kind, file *proof.FileMeta) (proof.Proof, error) {
	owner, err := validateOwner(owner)
	if err != nil {
		return proof.Proof{}, err
	}
	if fp.IsZero() {
		return proof.Proof{}, proof.NewValidationError("fingerprint is required")
	}
	if kind, file, err = s.validateKind(kind, file); err != nil {
		return proof.Proof{}, err
	}

	log := s.logger.With("request_id", s.ids.Generate(), "fingerprint", fp.String(), "owner", owner.ID)

	existing, found, err := s.index.GetByFingerprint(ctx, fp)
	if err != nil {
		return proof.Proof{}, fmt.Errorf("reconcile: %w", err)
	}
	if found {
		log.Info("reconcile: already indexed")
		return existing, nil
	}

	events, err := s.ledger.QueryByFingerprint(ctx, fp, s.window)
	if err != nil {
		return proof.Proof{}, ledgerQueryError(fp, err)
	}
	if len(events) == 0 {
		return proof.Proof{}, s.reconcileMiss(ctx, fp)
	}

	st, err := s.ledger.Status(ctx)
	if err != nil {
		return proof.Proof{}, ledgerQueryError(fp, err)
	}
	ev, ok := ownEvent(events, st.Submitter)
	if !ok {
		return proof.Proof{}, proof.NewConflictError(fp, proof.ConflictInfo{OwnerDisplayName: proof.UnknownOwner})
	}

	p := proof.Proof{
		Fingerprint:      fp,
		OwnerID:          owner.ID,
		OwnerDisplayName: owner.DisplayName,
		OwnerContact:     owner.Contact,
		Submitter:        ev.Submitter,
		LedgerTxRef:      ev.TxRef,
		LedgerBlockRef:   ev.BlockRef,
		AnchoredAt:       ev.Timestamp,
		Kind:             kind,
		File:             file,
	}
	put, err := s.index.Put(ctx, p)
	if err != nil {
		rc := proof.Receipt{TxRef: ev.TxRef, BlockRef: ev.BlockRef, LedgerTimestamp: ev.Timestamp, Submitter: ev.Submitter}
		return proof.Proof{}, proof.NewIndexWriteError(fp, rc, err)
	}
	if put.Inserted {
		log.Info("reconciled ledger anchor", "tx", ev.TxRef, "block", ev.BlockRef)
	}
	return put.Proof, nil
}

// reconcileMiss explains an empty event window: either the fingerprint was
// never anchored, or it was anchored too long ago for its submitter to be
// confirmed.
func (s *Service) reconcileMiss(ctx context.Context, fp fingerprint.Fingerprint) error {
	rec, exists, err := s.ledger.Exists(ctx, fp)
	if err != nil {
		return ledgerQueryError(fp, err)
	}
	if !exists {
		return proof.NewNotFoundError(fp, "fingerprint was never anchored on the ledger")
	}
	return proof.NewNotFoundError(fp, fmt.Sprintf(
		"anchored at %s, before the last %d blocks; its submitter cannot be confirmed",
		time.Unix(rec.Timestamp, 0).UTC().Format(time.RFC3339), s.window))
}

// ownEvent returns the earliest event written by submitter.
func ownEvent(events []proof.LedgerEvent, submitter string) (proof.LedgerEvent, bool) {
	for _, ev := range events {
		if strings.EqualFold(ev.Submitter, submitter) {
			return ev, true
		}
	}
	return proof.LedgerEvent{}, false
}

// UpdateOwner rewrites the denormalized identity on every proof the owner has.
func (s *Service) UpdateOwner(ctx context.Context, owner proof.OwnerMetadata) (int64, error) {
	owner, err := validateOwner(owner)
	if err != nil {
		return 0, err
	}
	if owner.ID == "" {
		return 0, proof.NewValidationError("owner id is required")
	}
	n, err := s.index.BulkUpdateOwnerInfo(ctx, owner.ID, owner.DisplayName, owner.Contact)
	if err != nil {
		return 0, err
	}
	s.logger.Info("owner updated", "owner", owner.ID, "proofs", n)
	return n, nil
}

// EraseOwner deletes every proof the owner has from the index. The ledger
// is append-only; erased fingerprints keep verifying as ledger-only.
func (s *Service) EraseOwner(ctx context.Context, ownerID string) (int64, error) {
	if strings.TrimSpace(ownerID) == "" {
		return 0, proof.NewValidationError("owner id is required")
	}
	n, err := s.index.DeleteAllForOwner(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("owner erased", "owner", ownerID, "proofs", n)
	return n, nil
}

// Recent returns the most recently recorded proofs.
func (s *Service) Recent(ctx context.Context, limit int) ([]proof.Proof, error) {
	return s.index.Recent(ctx, limit)
}

// Search finds proofs whose owner display name starts with prefix.
func (s *Service) Search(ctx context.Context, prefix string, limit int) ([]proof.Proof, error) {
	return s.index.SearchByOwnerName(ctx, prefix, limit)
}

// LedgerStatus describes the ledger gateway.
func (s *Service) LedgerStatus(ctx context.Context) (proof.LedgerStatus, error) {
	return s.ledger.Status(ctx)
}
