// Package service implements the anchoring state machine: it governs the
// per-credential lifecycle (unanchored, queued, anchored), collects batches,
// drives the ledger submission, and persists the results.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"attestor/internal/anchor/merkle"
	"attestor/internal/anchor/metrics"
	anchormodels "attestor/internal/anchor/models"
	batchstore "attestor/internal/anchor/store"
	"attestor/internal/credential/digest"
	credmodels "attestor/internal/credential/models"
	credstore "attestor/internal/credential/store"
	"attestor/internal/sentinel"
	domainerrors "attestor/pkg/domain-errors"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Submitter

// Submitter is the serialized ledger funnel. In production this is the
// submit worker wrapping the EVM submitter; tests swap in a mock.
type Submitter interface {
	Submit(ctx context.Context, root, batchID string) (string, error)
}

// Publisher emits best-effort domain events. Implementations must never
// block the anchoring path; a nil publisher disables events entirely.
type Publisher interface {
	BatchAnchored(ctx context.Context, batch *anchormodels.AnchorBatch)
}

const (
	defaultPersistAttempts = 3
	persistRetryDelay      = 200 * time.Millisecond
)

// Service is the anchor state machine.
type Service struct {
	creds     credstore.Store
	batches   batchstore.Store
	submitter Submitter
	chainID   int64

	logger  *slog.Logger
	metrics *metrics.Metrics
	events  Publisher

	persistAttempts int
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics sets the metrics instance for the service.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithPersistAttempts overrides the persistence retry cap when greater than zero.
func WithPersistAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.persistAttempts = n
		}
	}
}

// NewService constructs the anchor state machine.
func NewService(creds credstore.Store, batches batchstore.Store, submitter Submitter, chainID int64, logger *slog.Logger, opts ...Option) (*Service, error) {
	if creds == nil || batches == nil || submitter == nil {
		return nil, fmt.Errorf("credential store, batch store, and submitter are required")
	}
	svc := &Service{
		creds:           creds,
		batches:         batches,
		submitter:       submitter,
		chainID:         chainID,
		logger:          logger,
		persistAttempts: defaultPersistAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// RequestImmediate queues an active, not-yet-anchored credential for
// immediate anchoring. Re-invoking while already queued-immediate is a
// no-op.
func (s *Service) RequestImmediate(ctx context.Context, credID uuid.UUID) error {
	_, err := s.creds.TransitionToQueued(ctx, credID, credmodels.QueueModeImmediate)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return domainerrors.New(domainerrors.CodeNotFound, "credential not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return domainerrors.New(domainerrors.CodeConflict, "credential is not active")
	case errors.Is(err, sentinel.ErrAlreadyAnchored):
		return domainerrors.New(domainerrors.CodeConflict, "credential is already anchored")
	default:
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to queue credential")
	}
}

// ListQueue projects the anchoring queue, optionally filtered by queue mode
// and approval state.
func (s *Service) ListQueue(ctx context.Context, filter credstore.QueueFilter) ([]*credmodels.SignedCredential, error) {
	queued, err := s.creds.ListQueue(ctx, filter)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to list queue")
	}
	if s.metrics != nil {
		s.metrics.QueueDepth.Set(float64(len(queued)))
	}
	return queued, nil
}

// ApproveResult reports the outcome of a bulk approval.
type ApproveResult struct {
	Matched  int `json:"matched"`
	Modified int `json:"modified"`
}

// Approve bulk-sets the approved mode on all matching queued credentials.
// Non-matching ids are silently skipped and reported through the counts.
func (s *Service) Approve(ctx context.Context, ids []uuid.UUID, mode credmodels.ApprovedMode, actor string) (*ApproveResult, error) {
	if len(ids) == 0 {
		return nil, domainerrors.New(domainerrors.CodeBadRequest, "credential ids must not be empty")
	}
	if !mode.IsValid() {
		return nil, domainerrors.New(domainerrors.CodeBadRequest, fmt.Sprintf("invalid approved mode: %s", mode))
	}

	matched, modified, err := s.creds.Approve(ctx, ids, mode, time.Now().UTC(), actor)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to approve credentials")
	}
	return &ApproveResult{Matched: matched, Modified: modified}, nil
}

// RunResult reports the outcome of a single-credential anchoring run.
type RunResult struct {
	BatchID         string `json:"batch_id"`
	LedgerTxID      string `json:"ledger_tx_id"`
	AlreadyAnchored bool   `json:"already_anchored"`
}

// RunSingle anchors one queued, single-approved credential as a one-leaf
// batch. Calling it on an already-anchored credential returns the existing
// transaction id without a second ledger submission.
func (s *Service) RunSingle(ctx context.Context, credID uuid.UUID) (*RunResult, error) {
	cred, err := s.creds.FindByID(ctx, credID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeNotFound, "credential not found")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to load credential")
	}

	if cred.Anchoring.State == credmodels.AnchorStateAnchored {
		return &RunResult{
			BatchID:         cred.Anchoring.BatchID,
			LedgerTxID:      cred.Anchoring.LedgerTxID,
			AlreadyAnchored: true,
		}, nil
	}

	if cred.Status != credmodels.StatusActive {
		return nil, domainerrors.New(domainerrors.CodeConflict, "credential is not active")
	}
	if cred.Anchoring.State != credmodels.AnchorStateQueued ||
		cred.Anchoring.ApprovedMode == nil ||
		*cred.Anchoring.ApprovedMode != credmodels.ApprovedModeSingle {
		return nil, domainerrors.New(domainerrors.CodeConflict, "credential is not queued with single approval")
	}

	batch, err := s.commitBatch(ctx, []*credmodels.SignedCredential{cred})
	if err != nil {
		return nil, err
	}
	return &RunResult{BatchID: batch.BatchID, LedgerTxID: batch.LedgerTxID}, nil
}

// MintResult reports the outcome of a batch mint.
type MintResult struct {
	NothingToAnchor bool   `json:"nothing_to_anchor"`
	BatchID         string `json:"batch_id,omitempty"`
	LedgerTxID      string `json:"ledger_tx_id,omitempty"`
	LeafCount       int    `json:"leaf_count"`
}

// MintBatch anchors every batch-approved queued credential plus, as a
// standing sweep, every still-unanchored active credential. An empty
// candidate set is a benign outcome, not an error.
func (s *Service) MintBatch(ctx context.Context) (*MintResult, error) {
	candidates, err := s.creds.ListAnchorCandidates(ctx)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to collect batch candidates")
	}
	if len(candidates) == 0 {
		return &MintResult{NothingToAnchor: true}, nil
	}

	batch, err := s.commitBatch(ctx, candidates)
	if err != nil {
		return nil, err
	}
	return &MintResult{
		BatchID:    batch.BatchID,
		LedgerTxID: batch.LedgerTxID,
		LeafCount:  batch.LeafCount,
	}, nil
}

// GetBatch loads one persisted anchor batch.
func (s *Service) GetBatch(ctx context.Context, batchID string) (*anchormodels.AnchorBatch, error) {
	batch, err := s.batches.FindByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeNotFound, "batch not found")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to load batch")
	}
	return batch, nil
}

// ListBatches lists persisted anchor batches, newest first.
func (s *Service) ListBatches(ctx context.Context, limit int) ([]*anchormodels.AnchorBatch, error) {
	batches, err := s.batches.List(ctx, limit)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to list batches")
	}
	return batches, nil
}

// commitBatch runs the shared anchoring pipeline: leaves, root, one ledger
// submission, then persistence. The batch id is generated before the
// submission so a persistence retry never resubmits to the ledger.
func (s *Service) commitBatch(ctx context.Context, creds []*credmodels.SignedCredential) (*anchormodels.AnchorBatch, error) {
	leaves := make([]merkle.Hash, len(creds))
	for i, cred := range creds {
		raw, err := digest.Decode(cred.Digest)
		if err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeValidation,
				fmt.Sprintf("credential %s has a malformed digest", cred.ID))
		}
		leaves[i] = merkle.Leaf(raw)
	}

	root, proofs, err := merkle.Build(leaves)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to build accumulator")
	}

	batchID := anchormodels.NewBatchID(time.Now())

	// One ledger write per logical batch. The submitter is not idempotent;
	// any failure from here on must not trigger a resubmission.
	txID, err := s.submitter.Submit(ctx, root.Hex(), batchID)
	if err != nil {
		// The batch was never anchored: credentials keep their queued or
		// approved state so an operator can re-trigger.
		return nil, err
	}

	anchoredAt := time.Now().UTC()
	batch := &anchormodels.AnchorBatch{
		BatchID:    batchID,
		MerkleRoot: root.Hex(),
		LedgerTxID: txID,
		ChainID:    s.chainID,
		LeafCount:  len(creds),
		AnchoredAt: anchoredAt,
	}

	updates := make([]credstore.AnchorUpdate, len(creds))
	for i, cred := range creds {
		updates[i] = credstore.AnchorUpdate{
			CredentialID:   cred.ID,
			BatchID:        batchID,
			LedgerTxID:     txID,
			ChainID:        s.chainID,
			AnchoredAt:     anchoredAt,
			InclusionProof: proofs[i].Hex(),
		}
	}

	if err := s.persist(ctx, batch, updates); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.BatchesAnchored.Inc()
		s.metrics.LeavesPerBatch.Observe(float64(len(creds)))
	}
	if s.events != nil {
		s.events.BatchAnchored(ctx, batch)
	}
	s.logger.InfoContext(ctx, "batch anchored",
		"batch_id", batch.BatchID,
		"merkle_root", batch.MerkleRoot,
		"ledger_tx_id", batch.LedgerTxID,
		"leaf_count", batch.LeafCount,
	)
	return batch, nil
}

// persist writes the batch row and the per-credential updates. The ledger
// write already succeeded, so failures here are retried at the persistence
// step only; a duplicate batch row from a prior partial attempt is fine.
func (s *Service) persist(ctx context.Context, batch *anchormodels.AnchorBatch, updates []credstore.AnchorUpdate) error {
	var lastErr error
	for attempt := 1; attempt <= s.persistAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(persistRetryDelay):
			case <-ctx.Done():
				return domainerrors.Wrap(ctx.Err(), domainerrors.CodeInternal,
					fmt.Sprintf("batch %s anchored as %s but not persisted", batch.BatchID, batch.LedgerTxID))
			}
		}

		err := s.batches.Save(ctx, batch)
		switch {
		case err == nil:
		case errors.Is(err, sentinel.ErrConflict):
			// Our own row from a prior partial attempt; safe to continue.
		case errors.Is(err, sentinel.ErrDuplicateRoot):
			// Another batch already holds this (chain, root). Continuing
			// would stamp credentials with a batch id that has no row.
			// Unless our own row exists, this is terminal: every retry
			// fails identically.
			if _, findErr := s.batches.FindByID(ctx, batch.BatchID); findErr != nil {
				s.logger.ErrorContext(ctx, "root already anchored by a different batch",
					"batch_id", batch.BatchID,
					"ledger_tx_id", batch.LedgerTxID,
					"merkle_root", batch.MerkleRoot,
				)
				return domainerrors.Wrap(err, domainerrors.CodeConflict,
					fmt.Sprintf("root %s already anchored on chain %d", batch.MerkleRoot, batch.ChainID))
			}
		default:
			lastErr = err
			continue
		}

		if err := s.creds.AnchorMany(ctx, updates); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	// Terminal: the root is on the ledger but local state is stale. Surface
	// everything an operator needs to re-run the persistence step.
	s.logger.ErrorContext(ctx, "batch anchored on ledger but persistence failed",
		"batch_id", batch.BatchID,
		"ledger_tx_id", batch.LedgerTxID,
		"merkle_root", batch.MerkleRoot,
		"error", lastErr,
	)
	return domainerrors.Wrap(lastErr, domainerrors.CodeInternal,
		fmt.Sprintf("batch %s anchored as %s but not persisted", batch.BatchID, batch.LedgerTxID))
}
