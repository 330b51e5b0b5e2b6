package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attestor/internal/credential/models"
	"attestor/internal/sentinel"
	"attestor/pkg/testutil"
)

func TestFindByIDNotFound(t *testing.T) {
	s := NewMemory()
	_, err := s.FindByID(context.Background(), testutil.TestIDs.CredentialID1)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestSaveReturnsCopies(t *testing.T) {
	s := NewMemory()
	cred := testutil.NewCredentialBuilder().Build()
	require.NoError(t, s.Save(context.Background(), cred))

	got, err := s.FindByID(context.Background(), cred.ID)
	require.NoError(t, err)

	got.Anchoring.State = models.AnchorStateAnchored
	again, err := s.FindByID(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnchorStateUnanchored, again.Anchoring.State, "store must not share mutable state with callers")
}

func TestTransitionToQueued(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	cred := testutil.NewCredentialBuilder().Build()
	require.NoError(t, s.Save(ctx, cred))

	changed, err := s.TransitionToQueued(ctx, cred.ID, models.QueueModeImmediate)
	require.NoError(t, err)
	assert.True(t, changed)

	// Re-queueing with the same mode is an idempotent no-op.
	changed, err = s.TransitionToQueued(ctx, cred.ID, models.QueueModeImmediate)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := s.FindByID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnchorStateQueued, got.Anchoring.State)
	assert.Equal(t, models.QueueModeImmediate, got.Anchoring.QueueMode)
}

func TestTransitionToQueuedGuards(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	revoked := testutil.NewCredentialBuilder().WithStatus(models.StatusRevoked).Build()
	require.NoError(t, s.Save(ctx, revoked))
	_, err := s.TransitionToQueued(ctx, revoked.ID, models.QueueModeImmediate)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)

	anchored := testutil.NewCredentialBuilder().Build()
	require.NoError(t, s.Save(ctx, anchored))
	require.NoError(t, s.AnchorMany(ctx, []AnchorUpdate{{
		CredentialID:   anchored.ID,
		BatchID:        "batch-1",
		LedgerTxID:     "0xabc",
		ChainID:        11155111,
		AnchoredAt:     time.Now().UTC(),
		InclusionProof: []string{"0x01"},
	}}))
	_, err = s.TransitionToQueued(ctx, anchored.ID, models.QueueModeImmediate)
	assert.ErrorIs(t, err, sentinel.ErrAlreadyAnchored)
}

func TestApproveCounts(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	queued1 := testutil.NewCredentialBuilder().Queued(models.QueueModeBatch).Build()
	queued2 := testutil.NewCredentialBuilder().Queued(models.QueueModeBatch).Build()
	unqueued := testutil.NewCredentialBuilder().Build()
	for _, c := range []*models.SignedCredential{queued1, queued2, unqueued} {
		require.NoError(t, s.Save(ctx, c))
	}

	matched, modified, err := s.Approve(ctx,
		[]uuid.UUID{queued1.ID, queued2.ID, unqueued.ID, uuid.New()},
		models.ApprovedModeBatch, time.Now().UTC(), "operator-1")
	require.NoError(t, err)
	assert.Equal(t, 2, matched, "non-queued and unknown ids are silently skipped")
	assert.Equal(t, 2, modified)

	// A second approval with the same mode matches but modifies nothing.
	matched, modified, err = s.Approve(ctx,
		[]uuid.UUID{queued1.ID, queued2.ID},
		models.ApprovedModeBatch, time.Now().UTC(), "operator-1")
	require.NoError(t, err)
	assert.Equal(t, 2, matched)
	assert.Equal(t, 0, modified)
}

func TestAnchorManySkipsAlreadyAnchored(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	cred := testutil.NewCredentialBuilder().Build()
	require.NoError(t, s.Save(ctx, cred))

	first := AnchorUpdate{
		CredentialID:   cred.ID,
		BatchID:        "batch-1",
		LedgerTxID:     "0xaaa",
		ChainID:        1,
		AnchoredAt:     time.Now().UTC(),
		InclusionProof: []string{"0x01", "0x02"},
	}
	require.NoError(t, s.AnchorMany(ctx, []AnchorUpdate{first}))

	second := first
	second.BatchID = "batch-2"
	second.LedgerTxID = "0xbbb"
	require.NoError(t, s.AnchorMany(ctx, []AnchorUpdate{second}))

	got, err := s.FindByID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, "batch-1", got.Anchoring.BatchID, "retried anchor update must not overwrite")
	assert.Equal(t, []string{"0x01", "0x02"}, got.Anchoring.InclusionProof)
}

func TestBindHolderFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	cred := testutil.NewCredentialBuilder().Build()
	require.NoError(t, s.Save(ctx, cred))

	bound, err := s.BindHolder(ctx, cred.ID, "holder-1", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, bound)

	bound, err = s.BindHolder(ctx, cred.ID, "holder-2", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, bound)

	got, err := s.FindByID(ctx, cred.ID)
	require.NoError(t, err)
	require.NotNil(t, got.HolderID)
	assert.Equal(t, "holder-1", *got.HolderID)
}

func TestBindHolderConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	cred := testutil.NewCredentialBuilder().Build()
	require.NoError(t, s.Save(ctx, cred))

	var bindings atomic.Int32
	res := testutil.RunConcurrent(16, func(idx int) error {
		bound, err := s.BindHolder(ctx, cred.ID, fmt.Sprintf("holder-%d", idx), time.Now().UTC())
		if bound {
			bindings.Add(1)
		}
		return err
	})

	assert.Equal(t, int32(16), res.Successes, "losing a race is not an error")
	assert.Equal(t, int32(1), bindings.Load(), "exactly one holder may bind")
}

func TestMarkClaimedOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	cred := testutil.NewCredentialBuilder().Build()
	require.NoError(t, s.Save(ctx, cred))

	stamped, err := s.MarkClaimed(ctx, cred.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, stamped)

	stamped, err = s.MarkClaimed(ctx, cred.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, stamped)
}

func TestListAnchorCandidatesSweepsUnanchored(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	base := time.Now().UTC()
	approvedBatch := testutil.NewCredentialBuilder().Queued(models.QueueModeBatch).Approved(models.ApprovedModeBatch).WithCreatedAt(base).Build()
	unanchored := testutil.NewCredentialBuilder().WithCreatedAt(base.Add(time.Second)).Build()
	queuedUnapproved := testutil.NewCredentialBuilder().Queued(models.QueueModeBatch).WithCreatedAt(base.Add(2 * time.Second)).Build()
	revoked := testutil.NewCredentialBuilder().WithStatus(models.StatusRevoked).Build()
	for _, c := range []*models.SignedCredential{approvedBatch, unanchored, queuedUnapproved, revoked} {
		require.NoError(t, s.Save(ctx, c))
	}

	candidates, err := s.ListAnchorCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, approvedBatch.ID, candidates[0].ID)
	assert.Equal(t, unanchored.ID, candidates[1].ID)
}
