// Package models defines the signed credential record and its anchoring lifecycle.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the active/revoked axis of a credential. It is independent of
// the anchoring state chain.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// IsValid reports whether the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusRevoked:
		return true
	}
	return false
}

// AnchorState is the anchoring lifecycle position of a credential.
type AnchorState string

const (
	AnchorStateUnanchored AnchorState = "unanchored"
	AnchorStateQueued     AnchorState = "queued"
	AnchorStateAnchored   AnchorState = "anchored"
)

// IsValid reports whether the anchor state is a known value.
func (s AnchorState) IsValid() bool {
	switch s {
	case AnchorStateUnanchored, AnchorStateQueued, AnchorStateAnchored:
		return true
	}
	return false
}

// QueueMode says how a queued credential entered the queue.
type QueueMode string

const (
	QueueModeNone      QueueMode = "none"
	QueueModeImmediate QueueMode = "immediate"
	QueueModeBatch     QueueMode = "batch"
)

// IsValid reports whether the queue mode is a known value.
func (m QueueMode) IsValid() bool {
	switch m {
	case QueueModeNone, QueueModeImmediate, QueueModeBatch:
		return true
	}
	return false
}

// ApprovedMode says which anchoring path an operator approved.
type ApprovedMode string

const (
	ApprovedModeSingle ApprovedMode = "single"
	ApprovedModeBatch  ApprovedMode = "batch"
)

// IsValid reports whether the approved mode is a known value.
func (m ApprovedMode) IsValid() bool {
	switch m {
	case ApprovedModeSingle, ApprovedModeBatch:
		return true
	}
	return false
}

// Anchoring tracks where a credential sits in the anchoring lifecycle and,
// once anchored, the ledger coordinates needed to prove inclusion.
//
// Invariant: State == anchored implies BatchID and InclusionProof are
// non-empty and consistent with a persisted AnchorBatch.
type Anchoring struct {
	State        AnchorState   `json:"state"`
	QueueMode    QueueMode     `json:"queue_mode"`
	ApprovedMode *ApprovedMode `json:"approved_mode,omitempty"`
	ApprovedAt   *time.Time    `json:"approved_at,omitempty"`
	ApprovedBy   string        `json:"approved_by,omitempty"`

	BatchID    string     `json:"batch_id,omitempty"`
	LedgerTxID string     `json:"ledger_tx_id,omitempty"`
	ChainID    int64      `json:"chain_id,omitempty"`
	AnchoredAt *time.Time `json:"anchored_at,omitempty"`

	// InclusionProof is the ordered list of sibling hashes (hex) from the
	// credential's leaf up to the batch root.
	InclusionProof []string `json:"inclusion_proof,omitempty"`
}

// SignedCredential is a signed academic record as produced by the external
// signing component. This engine never creates or deletes these records; it
// only mutates the anchoring fields and the holder binding.
type SignedCredential struct {
	ID        uuid.UUID
	SubjectID string
	Status    Status

	// Digest is the salted content commitment (base64url, raw encoding).
	Digest string
	// Salt is the random commitment salt (base64url, raw encoding).
	Salt      string
	Signature []byte
	KeyID     string
	Algorithm string

	Anchoring Anchoring

	// HolderID and ClaimedAt are each set at most once; first writer wins.
	HolderID  *string
	ClaimedAt *time.Time

	CreatedAt time.Time
}

// Clone returns a deep copy so stores can hand out records without sharing
// mutable state with callers.
func (c *SignedCredential) Clone() *SignedCredential {
	cp := *c
	if c.HolderID != nil {
		h := *c.HolderID
		cp.HolderID = &h
	}
	if c.ClaimedAt != nil {
		t := *c.ClaimedAt
		cp.ClaimedAt = &t
	}
	if c.Anchoring.ApprovedMode != nil {
		m := *c.Anchoring.ApprovedMode
		cp.Anchoring.ApprovedMode = &m
	}
	if c.Anchoring.ApprovedAt != nil {
		t := *c.Anchoring.ApprovedAt
		cp.Anchoring.ApprovedAt = &t
	}
	if c.Anchoring.AnchoredAt != nil {
		t := *c.Anchoring.AnchoredAt
		cp.Anchoring.AnchoredAt = &t
	}
	if c.Anchoring.InclusionProof != nil {
		cp.Anchoring.InclusionProof = append([]string(nil), c.Anchoring.InclusionProof...)
	}
	if c.Signature != nil {
		cp.Signature = append([]byte(nil), c.Signature...)
	}
	return &cp
}

// Anchorable reports whether the credential may still enter the anchoring
// pipeline.
func (c *SignedCredential) Anchorable() bool {
	return c.Status == StatusActive && c.Anchoring.State != AnchorStateAnchored
}
