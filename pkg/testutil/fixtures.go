package testutil

import (
	"time"

	"github.com/google/uuid"

	credmodels "attestor/internal/credential/models"
	"attestor/internal/credential/digest"
)

// TestIDs provides convenient pre-generated IDs for tests.
// Use these for deterministic test data.
var TestIDs = struct {
	CredentialID1 uuid.UUID
	CredentialID2 uuid.UUID
	CredentialID3 uuid.UUID
}{
	CredentialID1: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
	CredentialID2: uuid.MustParse("22222222-2222-2222-2222-222222222222"),
	CredentialID3: uuid.MustParse("33333333-3333-3333-3333-333333333333"),
}

// CredentialBuilder provides a fluent interface for building test credentials.
type CredentialBuilder struct {
	cred *credmodels.SignedCredential
}

// NewCredentialBuilder creates a builder with a consistent signed credential:
// the digest matches the signature and salt, so verification paths work
// against it by default.
func NewCredentialBuilder() *CredentialBuilder {
	sig := []byte("test-signature-blob")
	salt := "test-salt"
	d, err := digest.Compute(sig, salt)
	if err != nil {
		panic(err)
	}
	return &CredentialBuilder{
		cred: &credmodels.SignedCredential{
			ID:        uuid.New(),
			SubjectID: "student-1",
			Status:    credmodels.StatusActive,
			Digest:    d,
			Salt:      salt,
			Signature: sig,
			KeyID:     "issuer-key-1",
			Algorithm: "Ed25519",
			Anchoring: credmodels.Anchoring{
				State:     credmodels.AnchorStateUnanchored,
				QueueMode: credmodels.QueueModeNone,
			},
			CreatedAt: time.Now().UTC(),
		},
	}
}

func (b *CredentialBuilder) WithID(id uuid.UUID) *CredentialBuilder {
	b.cred.ID = id
	return b
}

func (b *CredentialBuilder) WithStatus(status credmodels.Status) *CredentialBuilder {
	b.cred.Status = status
	return b
}

func (b *CredentialBuilder) WithSignature(sig []byte, salt string) *CredentialBuilder {
	d, err := digest.Compute(sig, salt)
	if err != nil {
		panic(err)
	}
	b.cred.Signature = sig
	b.cred.Salt = salt
	b.cred.Digest = d
	return b
}

func (b *CredentialBuilder) Queued(mode credmodels.QueueMode) *CredentialBuilder {
	b.cred.Anchoring.State = credmodels.AnchorStateQueued
	b.cred.Anchoring.QueueMode = mode
	return b
}

func (b *CredentialBuilder) Approved(mode credmodels.ApprovedMode) *CredentialBuilder {
	now := time.Now().UTC()
	b.cred.Anchoring.ApprovedMode = &mode
	b.cred.Anchoring.ApprovedAt = &now
	b.cred.Anchoring.ApprovedBy = "operator-1"
	return b
}

func (b *CredentialBuilder) WithCreatedAt(at time.Time) *CredentialBuilder {
	b.cred.CreatedAt = at
	return b
}

// Build returns the assembled credential.
func (b *CredentialBuilder) Build() *credmodels.SignedCredential {
	return b.cred
}
