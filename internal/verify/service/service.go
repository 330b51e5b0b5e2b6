// Package service checks credential integrity against anchored batches.
// Semantic failures are results, never errors: a caller always gets a
// reason code so "not yet anchored" stays distinguishable from
// "tampered".
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"attestor/internal/anchor/merkle"
	batchstore "attestor/internal/anchor/store"
	"attestor/internal/credential/digest"
	credmodels "attestor/internal/credential/models"
	credstore "attestor/internal/credential/store"
	"attestor/internal/sentinel"
	"attestor/internal/verify/metrics"
	domainerrors "attestor/pkg/domain-errors"
)

// Verification reason codes.
const (
	ReasonOK                = "ok"
	ReasonNotAnchored       = "not_anchored"
	ReasonNotFoundOrRevoked = "not_found_or_revoked"
	ReasonDigestMismatch    = "digest_mismatch"
	ReasonProofInvalid      = "merkle_proof_invalid"
	ReasonBatchMissing      = "batch_missing"
)

// Result is the structured verification outcome.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

// Service verifies credentials by id or by portable payload.
type Service struct {
	creds   credstore.Store
	batches batchstore.Store

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics sets the metrics instance for the service.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs the verifier.
func NewService(creds credstore.Store, batches batchstore.Store, logger *slog.Logger, opts ...Option) (*Service, error) {
	if creds == nil || batches == nil {
		return nil, fmt.Errorf("credential store and batch store are required")
	}
	svc := &Service{creds: creds, batches: batches, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// VerifyByID checks a stored credential against its anchored batch.
// Missing and revoked credentials collapse into one reason so the
// endpoint does not leak which of the two it was.
func (s *Service) VerifyByID(ctx context.Context, credID uuid.UUID) (*Result, error) {
	cred, err := s.creds.FindByID(ctx, credID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return s.conclude(ctx, "id", ReasonNotFoundOrRevoked), nil
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to load credential")
	}
	if cred.Status != credmodels.StatusActive {
		return s.conclude(ctx, "id", ReasonNotFoundOrRevoked), nil
	}

	return s.check(ctx, "id", cred.Digest, cred.Salt, cred.Signature, &credmodels.PayloadAnchoring{
		State:          cred.Anchoring.State,
		BatchID:        cred.Anchoring.BatchID,
		ChainID:        cred.Anchoring.ChainID,
		InclusionProof: cred.Anchoring.InclusionProof,
	})
}

// VerifyByPayload checks a redeemed portable payload. Only the batch
// store is consulted: the payload carries everything else, which is what
// makes verification possible without the issuer's credential records.
func (s *Service) VerifyByPayload(ctx context.Context, payload *credmodels.PortablePayload) (*Result, error) {
	if payload == nil {
		return nil, domainerrors.New(domainerrors.CodeBadRequest, "payload is required")
	}
	anchoring := payload.Anchoring
	return s.check(ctx, "payload", payload.Digest, payload.Salt, payload.Signature, &anchoring)
}

// check runs the shared pipeline: digest recomputation, batch lookup,
// proof fold. Both entry paths reach identical conclusions.
func (s *Service) check(ctx context.Context, path, storedDigest, salt string, signature []byte, anchoring *credmodels.PayloadAnchoring) (*Result, error) {
	if !digest.Verify(signature, salt, storedDigest) {
		return s.conclude(ctx, path, ReasonDigestMismatch), nil
	}

	if anchoring.State != credmodels.AnchorStateAnchored || anchoring.BatchID == "" {
		return s.conclude(ctx, path, ReasonNotAnchored), nil
	}

	batch, err := s.batches.FindByID(ctx, anchoring.BatchID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return s.conclude(ctx, path, ReasonBatchMissing), nil
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to load batch")
	}

	root, err := merkle.ParseHash(batch.MerkleRoot)
	if err != nil {
		// A stored root that does not parse means the batch row is corrupt.
		s.logger.ErrorContext(ctx, "anchored batch has malformed root",
			"batch_id", batch.BatchID, "error", err)
		return s.conclude(ctx, path, ReasonProofInvalid), nil
	}
	proof, err := merkle.ParseProof(anchoring.InclusionProof)
	if err != nil {
		return s.conclude(ctx, path, ReasonProofInvalid), nil
	}

	raw, err := digest.Decode(storedDigest)
	if err != nil {
		return s.conclude(ctx, path, ReasonDigestMismatch), nil
	}
	if !merkle.Verify(merkle.Leaf(raw), proof, root) {
		return s.conclude(ctx, path, ReasonProofInvalid), nil
	}

	return s.conclude(ctx, path, ReasonOK), nil
}

func (s *Service) conclude(ctx context.Context, path, reason string) *Result {
	if s.metrics != nil {
		s.metrics.Verifications.WithLabelValues(path, reason).Inc()
	}
	if reason != ReasonOK && reason != ReasonNotAnchored {
		s.logger.InfoContext(ctx, "verification rejected", "path", path, "reason", reason)
	}
	// A not-yet-anchored credential is syntactically valid; the reason
	// tells the caller the proof guarantee is absent.
	return &Result{Valid: reason == ReasonOK || reason == ReasonNotAnchored, Reason: reason}
}
