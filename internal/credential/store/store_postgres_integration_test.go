//go:build integration

package store_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"attestor/internal/credential/models"
	"attestor/internal/credential/store"
	"attestor/internal/sentinel"
	"attestor/pkg/testutil"
	"attestor/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background()))
}

func (s *PostgresStoreSuite) saveCredential(b *testutil.CredentialBuilder) *models.SignedCredential {
	cred := b.Build()
	s.Require().NoError(s.store.Save(context.Background(), cred))
	return cred
}

func (s *PostgresStoreSuite) TestSaveAndFindRoundTrip() {
	cred := s.saveCredential(testutil.NewCredentialBuilder())

	got, err := s.store.FindByID(context.Background(), cred.ID)
	s.Require().NoError(err)
	s.Equal(cred.Digest, got.Digest)
	s.Equal(cred.Signature, got.Signature)
	s.Equal(models.AnchorStateUnanchored, got.Anchoring.State)
	s.Nil(got.HolderID)

	_, err = s.store.FindByID(context.Background(), uuid.New())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestTransitionToQueuedGuards() {
	cred := s.saveCredential(testutil.NewCredentialBuilder())

	changed, err := s.store.TransitionToQueued(context.Background(), cred.ID, models.QueueModeImmediate)
	s.Require().NoError(err)
	s.True(changed)

	// Re-queueing with the same mode is a no-op, not an error.
	changed, err = s.store.TransitionToQueued(context.Background(), cred.ID, models.QueueModeImmediate)
	s.Require().NoError(err)
	s.False(changed)

	revoked := s.saveCredential(testutil.NewCredentialBuilder().WithStatus(models.StatusRevoked))
	_, err = s.store.TransitionToQueued(context.Background(), revoked.ID, models.QueueModeImmediate)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	_, err = s.store.TransitionToQueued(context.Background(), uuid.New(), models.QueueModeImmediate)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestApproveCounts() {
	queued := s.saveCredential(testutil.NewCredentialBuilder().Queued(models.QueueModeBatch))
	unqueued := s.saveCredential(testutil.NewCredentialBuilder())

	matched, modified, err := s.store.Approve(context.Background(),
		[]uuid.UUID{queued.ID, unqueued.ID, uuid.New()},
		models.ApprovedModeBatch, time.Now().UTC(), "operator-1")
	s.Require().NoError(err)
	s.Equal(1, matched)
	s.Equal(1, modified)

	// A second identical approval matches but modifies nothing.
	matched, modified, err = s.store.Approve(context.Background(),
		[]uuid.UUID{queued.ID}, models.ApprovedModeBatch, time.Now().UTC(), "operator-1")
	s.Require().NoError(err)
	s.Equal(1, matched)
	s.Equal(0, modified)
}

func (s *PostgresStoreSuite) TestAnchorManySkipsAnchored() {
	cred := s.saveCredential(testutil.NewCredentialBuilder().Queued(models.QueueModeBatch))
	now := time.Now().UTC()

	update := store.AnchorUpdate{
		CredentialID:   cred.ID,
		BatchID:        "batch-1",
		LedgerTxID:     "0xfirst",
		ChainID:        1337,
		AnchoredAt:     now,
		InclusionProof: []string{"0xaa", "0xbb"},
	}
	s.Require().NoError(s.store.AnchorMany(context.Background(), []store.AnchorUpdate{update}))

	got, err := s.store.FindByID(context.Background(), cred.ID)
	s.Require().NoError(err)
	s.Equal(models.AnchorStateAnchored, got.Anchoring.State)
	s.Equal([]string{"0xaa", "0xbb"}, got.Anchoring.InclusionProof)
	s.Nil(got.Anchoring.ApprovedMode)

	// A second anchoring attempt must not overwrite the first.
	update.LedgerTxID = "0xsecond"
	s.Require().NoError(s.store.AnchorMany(context.Background(), []store.AnchorUpdate{update}))

	got, err = s.store.FindByID(context.Background(), cred.ID)
	s.Require().NoError(err)
	s.Equal("0xfirst", got.Anchoring.LedgerTxID)
}

func (s *PostgresStoreSuite) TestBindHolderFirstWriterWins() {
	cred := s.saveCredential(testutil.NewCredentialBuilder())
	now := time.Now().UTC()

	const writers = 8
	var bindings atomic.Int32
	result := testutil.RunConcurrent(writers, func(idx int) error {
		bound, err := s.store.BindHolder(context.Background(), cred.ID, fmt.Sprintf("holder-%d", idx), now)
		if err != nil {
			return err
		}
		if bound {
			bindings.Add(1)
		}
		return nil
	})
	s.Equal(int32(writers), result.Successes)
	s.Equal(int32(1), bindings.Load())

	got, err := s.store.FindByID(context.Background(), cred.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.HolderID)
	s.NotNil(got.ClaimedAt)
}

func (s *PostgresStoreSuite) TestMarkClaimedOnce() {
	cred := s.saveCredential(testutil.NewCredentialBuilder())
	first := time.Now().UTC().Truncate(time.Microsecond)

	stamped, err := s.store.MarkClaimed(context.Background(), cred.ID, first)
	s.Require().NoError(err)
	s.True(stamped)

	stamped, err = s.store.MarkClaimed(context.Background(), cred.ID, first.Add(time.Hour))
	s.Require().NoError(err)
	s.False(stamped)

	got, err := s.store.FindByID(context.Background(), cred.ID)
	s.Require().NoError(err)
	s.WithinDuration(first, *got.ClaimedAt, time.Millisecond)
}

func (s *PostgresStoreSuite) TestListAnchorCandidatesSweep() {
	approved := s.saveCredential(testutil.NewCredentialBuilder().
		Queued(models.QueueModeBatch).Approved(models.ApprovedModeBatch))
	unanchored := s.saveCredential(testutil.NewCredentialBuilder().WithSignature([]byte("sweep"), "salt"))
	s.saveCredential(testutil.NewCredentialBuilder().
		WithSignature([]byte("revoked"), "salt").WithStatus(models.StatusRevoked))

	candidates, err := s.store.ListAnchorCandidates(context.Background())
	s.Require().NoError(err)
	s.Require().Len(candidates, 2)

	ids := map[uuid.UUID]bool{}
	for _, c := range candidates {
		ids[c.ID] = true
	}
	s.True(ids[approved.ID])
	s.True(ids[unanchored.ID])
}
