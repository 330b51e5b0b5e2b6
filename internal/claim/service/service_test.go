package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	claimmodels "attestor/internal/claim/models"
	"attestor/internal/claim/queue"
	claimstore "attestor/internal/claim/store"
	credmodels "attestor/internal/credential/models"
	credstore "attestor/internal/credential/store"
	domainerrors "attestor/pkg/domain-errors"
	"attestor/pkg/testutil"
)

const testBaseURL = "https://attestor.example.edu"

type ServiceSuite struct {
	suite.Suite
	tickets *claimstore.InMemoryStore
	creds   *credstore.InMemoryStore
	staging *queue.MemoryQueue
	service *Service
}

func (s *ServiceSuite) SetupTest() {
	s.tickets = claimstore.NewMemory()
	s.creds = credstore.NewMemory()
	s.staging = queue.NewMemory()

	svc, err := NewService(
		s.tickets,
		s.creds,
		s.staging,
		testBaseURL,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	s.Require().NoError(err)
	s.service = svc
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) saveCredential(b *testutil.CredentialBuilder) *credmodels.SignedCredential {
	cred := b.Build()
	s.Require().NoError(s.creds.Save(context.Background(), cred))
	return cred
}

func (s *ServiceSuite) mintTicket(credID uuid.UUID, ttl time.Duration) *CreateResult {
	res, err := s.service.Create(context.Background(), credID, ttl, false, "operator-1")
	s.Require().NoError(err)
	return res
}

// =============================================================================
// Create
// =============================================================================

func (s *ServiceSuite) TestCreateMintsTicket() {
	cred := s.saveCredential(testutil.NewCredentialBuilder())

	res, err := s.service.Create(context.Background(), cred.ID, 24*time.Hour, false, "operator-1")
	s.Require().NoError(err)
	s.NotEmpty(res.Token)
	s.Equal(testBaseURL+"/claims/"+res.Token+"/redeem", res.URL)
	s.False(res.Reused)
	s.WithinDuration(time.Now().Add(24*time.Hour), res.ExpiresAt, time.Minute)
}

func (s *ServiceSuite) TestCreateSingleActiveReusesTicket() {
	cred := s.saveCredential(testutil.NewCredentialBuilder())

	first, err := s.service.Create(context.Background(), cred.ID, 24*time.Hour, true, "operator-1")
	s.Require().NoError(err)
	s.False(first.Reused)

	second, err := s.service.Create(context.Background(), cred.ID, 24*time.Hour, true, "operator-1")
	s.Require().NoError(err)
	s.True(second.Reused)
	s.Equal(first.Token, second.Token)
	s.Equal(first.ExpiresAt, second.ExpiresAt)
}

func (s *ServiceSuite) TestCreateWithoutSingleActiveMintsDuplicates() {
	cred := s.saveCredential(testutil.NewCredentialBuilder())

	first := s.mintTicket(cred.ID, 24*time.Hour)
	second := s.mintTicket(cred.ID, 24*time.Hour)
	s.NotEqual(first.Token, second.Token)
}

func (s *ServiceSuite) TestCreateErrors() {
	s.T().Run("unknown credential", func(t *testing.T) {
		_, err := s.service.Create(context.Background(), uuid.New(), 24*time.Hour, false, "operator-1")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeNotFound))
	})

	s.T().Run("revoked credential", func(t *testing.T) {
		revoked := s.saveCredential(testutil.NewCredentialBuilder().WithStatus(credmodels.StatusRevoked))
		_, err := s.service.Create(context.Background(), revoked.ID, 24*time.Hour, false, "operator-1")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeConflict))
	})

	s.T().Run("non-positive ttl", func(t *testing.T) {
		cred := s.saveCredential(testutil.NewCredentialBuilder())
		_, err := s.service.Create(context.Background(), cred.ID, 0, false, "operator-1")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeBadRequest))
	})
}

// =============================================================================
// Redeem
// =============================================================================

func (s *ServiceSuite) TestRedeemBindsHolderAndStampsTicket() {
	cred := s.saveCredential(testutil.NewCredentialBuilder())
	ticket := s.mintTicket(cred.ID, 24*time.Hour)

	payload, err := s.service.Redeem(context.Background(), ticket.Token, "holder-1")
	s.Require().NoError(err)
	s.Equal(cred.Digest, payload.Digest)
	s.Equal(cred.Salt, payload.Salt)
	s.Equal(cred.Signature, payload.Signature)
	s.Equal(cred.KeyID, payload.KeyID)

	got, err := s.creds.FindByID(context.Background(), cred.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.HolderID)
	s.Equal("holder-1", *got.HolderID)
	s.NotNil(got.ClaimedAt)

	stored, err := s.tickets.FindByToken(context.Background(), ticket.Token)
	s.Require().NoError(err)
	s.NotNil(stored.UsedAt)
}

func (s *ServiceSuite) TestRedeemTwiceIsSafe() {
	cred := s.saveCredential(testutil.NewCredentialBuilder())
	ticket := s.mintTicket(cred.ID, 24*time.Hour)

	first, err := s.service.Redeem(context.Background(), ticket.Token, "holder-1")
	s.Require().NoError(err)

	stored, err := s.tickets.FindByToken(context.Background(), ticket.Token)
	s.Require().NoError(err)
	usedAt := *stored.UsedAt

	// A retry returns the payload again; used_at keeps its first value.
	second, err := s.service.Redeem(context.Background(), ticket.Token, "holder-1")
	s.Require().NoError(err)
	s.Equal(first.Digest, second.Digest)

	stored, err = s.tickets.FindByToken(context.Background(), ticket.Token)
	s.Require().NoError(err)
	s.Equal(usedAt, *stored.UsedAt)
}

func (s *ServiceSuite) TestRedeemAnonymousLeavesHolderUnbound() {
	cred := s.saveCredential(testutil.NewCredentialBuilder())
	ticket := s.mintTicket(cred.ID, 24*time.Hour)

	_, err := s.service.Redeem(context.Background(), ticket.Token, "")
	s.Require().NoError(err)

	got, err := s.creds.FindByID(context.Background(), cred.ID)
	s.Require().NoError(err)
	s.Nil(got.HolderID)
	s.Nil(got.ClaimedAt)
}

func (s *ServiceSuite) TestRedeemAfterAnonymousKeepsFirstTimestamp() {
	cred := s.saveCredential(testutil.NewCredentialBuilder())
	ticket := s.mintTicket(cred.ID, 24*time.Hour)

	// Anonymous redemption stamps nothing on the credential. A later
	// identified redemption binds the holder normally.
	_, err := s.service.Redeem(context.Background(), ticket.Token, "")
	s.Require().NoError(err)

	_, err = s.service.Redeem(context.Background(), ticket.Token, "holder-1")
	s.Require().NoError(err)

	got, err := s.creds.FindByID(context.Background(), cred.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.HolderID)
	s.Equal("holder-1", *got.HolderID)
}

func (s *ServiceSuite) TestRedeemSecondHolderDoesNotRebind() {
	cred := s.saveCredential(testutil.NewCredentialBuilder())
	ticket := s.mintTicket(cred.ID, 24*time.Hour)

	_, err := s.service.Redeem(context.Background(), ticket.Token, "holder-1")
	s.Require().NoError(err)

	// The second holder's redemption succeeds but must not steal the binding.
	_, err = s.service.Redeem(context.Background(), ticket.Token, "holder-2")
	s.Require().NoError(err)

	got, err := s.creds.FindByID(context.Background(), cred.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.HolderID)
	s.Equal("holder-1", *got.HolderID)
}

func (s *ServiceSuite) TestRedeemErrors() {
	s.T().Run("unknown token returns CodeNotFound", func(t *testing.T) {
		_, err := s.service.Redeem(context.Background(), "no-such-token", "holder-1")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeNotFound))
	})

	s.T().Run("expired ticket returns CodeGone", func(t *testing.T) {
		cred := s.saveCredential(testutil.NewCredentialBuilder())
		ticket := s.mintTicket(cred.ID, time.Millisecond)
		time.Sleep(5 * time.Millisecond)

		_, err := s.service.Redeem(context.Background(), ticket.Token, "holder-1")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeGone))
	})

	s.T().Run("revoked credential returns CodeConflict", func(t *testing.T) {
		cred := s.saveCredential(testutil.NewCredentialBuilder())
		ticket := s.mintTicket(cred.ID, 24*time.Hour)
		s.Require().NoError(s.creds.Save(context.Background(),
			testutil.NewCredentialBuilder().WithID(cred.ID).WithStatus(credmodels.StatusRevoked).Build()))

		_, err := s.service.Redeem(context.Background(), ticket.Token, "holder-1")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeConflict))
	})
}

func (s *ServiceSuite) TestConcurrentRedemptionsBindExactlyOneHolder() {
	cred := s.saveCredential(testutil.NewCredentialBuilder())
	ticket := s.mintTicket(cred.ID, 24*time.Hour)

	const holders = 16
	result := testutil.RunConcurrent(holders, func(idx int) error {
		_, err := s.service.Redeem(context.Background(), ticket.Token, fmt.Sprintf("holder-%d", idx))
		return err
	})

	// Every redemption succeeds; exactly one holder ends up bound.
	s.Equal(int32(holders), result.Successes)
	s.Equal(int32(0), result.Errors)

	got, err := s.creds.FindByID(context.Background(), cred.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.HolderID)
	s.NotNil(got.ClaimedAt)
}

// =============================================================================
// Staging queue
// =============================================================================

func (s *ServiceSuite) TestEnqueueAndList() {
	cred := s.saveCredential(testutil.NewCredentialBuilder())
	ticket := s.mintTicket(cred.ID, 24*time.Hour)

	entry, err := s.service.Enqueue(context.Background(), "holder-1", ticket.Token)
	s.Require().NoError(err)
	s.Equal(ticket.Token, entry.Token)
	s.Equal(ticket.URL, entry.URL)

	entries, err := s.service.List(context.Background(), "holder-1")
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(ticket.Token, entries[0].Token)

	// Queues are per holder.
	other, err := s.service.List(context.Background(), "holder-2")
	s.Require().NoError(err)
	s.Empty(other)
}

func (s *ServiceSuite) TestEnqueueErrors() {
	s.T().Run("unknown token", func(t *testing.T) {
		_, err := s.service.Enqueue(context.Background(), "holder-1", "no-such-token")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeNotFound))
	})

	s.T().Run("expired ticket", func(t *testing.T) {
		cred := s.saveCredential(testutil.NewCredentialBuilder())
		ticket := s.mintTicket(cred.ID, time.Millisecond)
		time.Sleep(5 * time.Millisecond)

		_, err := s.service.Enqueue(context.Background(), "holder-1", ticket.Token)
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeGone))
	})

	s.T().Run("holder queue at capacity", func(t *testing.T) {
		now := time.Now().UTC()
		for i := 0; i < queue.MaxEntriesPerHolder; i++ {
			require.NoError(t, s.staging.Enqueue(context.Background(), "holder-3", claimmodels.QueueEntry{
				Token:     fmt.Sprintf("staged-%03d", i),
				SavedAt:   now,
				ExpiresAt: now.Add(time.Hour),
			}, time.Hour))
		}

		cred := s.saveCredential(testutil.NewCredentialBuilder().WithSignature([]byte("full queue"), "salt"))
		ticket := s.mintTicket(cred.ID, 24*time.Hour)

		_, err := s.service.Enqueue(context.Background(), "holder-3", ticket.Token)
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeConflict))
	})
}

func (s *ServiceSuite) TestListDropsExpiredEntriesLazily() {
	cred := s.saveCredential(testutil.NewCredentialBuilder())
	shortLived := s.mintTicket(cred.ID, 50*time.Millisecond)
	longLived := s.mintTicket(cred.ID, 24*time.Hour)

	_, err := s.service.Enqueue(context.Background(), "holder-1", shortLived.Token)
	s.Require().NoError(err)
	_, err = s.service.Enqueue(context.Background(), "holder-1", longLived.Token)
	s.Require().NoError(err)

	time.Sleep(60 * time.Millisecond)

	entries, err := s.service.List(context.Background(), "holder-1")
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(longLived.Token, entries[0].Token)
}

func (s *ServiceSuite) TestDequeue() {
	cred := s.saveCredential(testutil.NewCredentialBuilder())
	ticket := s.mintTicket(cred.ID, 24*time.Hour)

	_, err := s.service.Enqueue(context.Background(), "holder-1", ticket.Token)
	s.Require().NoError(err)
	s.Require().NoError(s.service.Dequeue(context.Background(), "holder-1", ticket.Token))

	entries, err := s.service.List(context.Background(), "holder-1")
	s.Require().NoError(err)
	s.Empty(entries)

	// Dequeuing an absent token is a no-op.
	s.NoError(s.service.Dequeue(context.Background(), "holder-1", ticket.Token))
}

func (s *ServiceSuite) TestRedeemAllCollectsPerTokenOutcomes() {
	good := s.saveCredential(testutil.NewCredentialBuilder())
	goodTicket := s.mintTicket(good.ID, 24*time.Hour)

	short := s.saveCredential(testutil.NewCredentialBuilder().WithSignature([]byte("short"), "salt"))
	shortTicket := s.mintTicket(short.ID, 50*time.Millisecond)

	revocable := s.saveCredential(testutil.NewCredentialBuilder().WithSignature([]byte("revocable"), "salt"))
	revocableTicket := s.mintTicket(revocable.ID, 24*time.Hour)

	for _, token := range []string{goodTicket.Token, revocableTicket.Token} {
		_, err := s.service.Enqueue(context.Background(), "holder-1", token)
		s.Require().NoError(err)
	}
	// Stage the short-lived token with a generous cache TTL so the entry
	// outlives its ticket, the way a skewed cache would.
	s.Require().NoError(s.staging.Enqueue(context.Background(), "holder-1", claimmodels.QueueEntry{
		Token:     shortTicket.Token,
		URL:       shortTicket.URL,
		SavedAt:   time.Now().UTC(),
		ExpiresAt: shortTicket.ExpiresAt,
	}, time.Hour))

	// Revoke one credential and let one ticket expire before the batch run.
	s.Require().NoError(s.creds.Save(context.Background(),
		testutil.NewCredentialBuilder().WithID(revocable.ID).WithStatus(credmodels.StatusRevoked).Build()))
	time.Sleep(60 * time.Millisecond)

	outcomes, err := s.service.RedeemAll(context.Background(), "holder-1")
	s.Require().NoError(err)
	s.Require().Len(outcomes, 3)

	byToken := make(map[string]RedeemOutcome, len(outcomes))
	for _, o := range outcomes {
		byToken[o.Token] = o
	}

	s.Equal(OutcomeRedeemed, byToken[goodTicket.Token].Status)
	s.NotNil(byToken[goodTicket.Token].Payload)
	s.Equal(OutcomeExpired, byToken[shortTicket.Token].Status)
	s.Equal(OutcomeFailed, byToken[revocableTicket.Token].Status)
	s.NotEmpty(byToken[revocableTicket.Token].Error)

	// Redeemed and expired tokens leave the queue; the failed one stays
	// staged for a retry.
	remaining, err := s.service.List(context.Background(), "holder-1")
	s.Require().NoError(err)
	s.Require().Len(remaining, 1)
	s.Equal(revocableTicket.Token, remaining[0].Token)

	got, err := s.creds.FindByID(context.Background(), good.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.HolderID)
	s.Equal("holder-1", *got.HolderID)
}

func (s *ServiceSuite) TestRedeemAllEmptyQueue() {
	outcomes, err := s.service.RedeemAll(context.Background(), "holder-1")
	s.Require().NoError(err)
	s.Empty(outcomes)
}
