// Package store persists signed credential records.
//
// Error Contract:
// - FindByID returns sentinel.ErrNotFound when no record exists
// - Conditional writes return (false, nil) when the guard did not match
// - Infrastructure failures are returned wrapped with context
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"attestor/internal/credential/models"
)

// QueueFilter narrows ListQueue projections. Nil fields match everything.
type QueueFilter struct {
	Mode         *models.QueueMode
	ApprovedMode *models.ApprovedMode
	// ApprovedOnly limits results to credentials with any approval set.
	ApprovedOnly bool
}

// AnchorUpdate carries the per-credential result of a committed batch.
type AnchorUpdate struct {
	CredentialID   uuid.UUID
	BatchID        string
	LedgerTxID     string
	ChainID        int64
	AnchoredAt     time.Time
	InclusionProof []string
}

// Store is the persistence interface for signed credentials.
//
// All writes to anchoring.*, holder_id, and claimed_at are conditional:
// concurrent callers race through the store's compare-and-set semantics, not
// through read-modify-write in service code.
type Store interface {
	Save(ctx context.Context, cred *models.SignedCredential) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.SignedCredential, error)

	// ListQueue projects queued credentials, optionally filtered.
	ListQueue(ctx context.Context, filter QueueFilter) ([]*models.SignedCredential, error)

	// ListAnchorCandidates returns the union of queued credentials approved
	// for batch anchoring and all still-unanchored active credentials (the
	// standing sweep policy).
	ListAnchorCandidates(ctx context.Context) ([]*models.SignedCredential, error)

	// TransitionToQueued moves an active, not-yet-anchored credential into
	// the queue. Returns (false, nil) when the credential is already queued
	// with the same mode, sentinel.ErrAlreadyAnchored when anchored, and
	// sentinel.ErrInvalidState when the credential is revoked.
	TransitionToQueued(ctx context.Context, id uuid.UUID, mode models.QueueMode) (bool, error)

	// Approve bulk-sets the approved mode on matching queued credentials.
	// Non-queued ids are skipped; matched and modified counts are reported.
	Approve(ctx context.Context, ids []uuid.UUID, mode models.ApprovedMode, at time.Time, by string) (matched, modified int, err error)

	// AnchorMany applies batch results to every included credential,
	// attaching proofs and clearing approval bookkeeping. Already-anchored
	// credentials are left untouched so retries are safe.
	AnchorMany(ctx context.Context, updates []AnchorUpdate) error

	// BindHolder sets holder_id and claimed_at together, only if both are
	// currently unset. Returns whether this call performed the binding.
	BindHolder(ctx context.Context, id uuid.UUID, holderID string, at time.Time) (bool, error)

	// MarkClaimed sets claimed_at alone, only if it is unset. Used as the
	// fallback when a holder binding already exists.
	MarkClaimed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}
