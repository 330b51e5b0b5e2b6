//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"attestor/internal/claim/models"
	"attestor/internal/claim/store"
	credstore "attestor/internal/credential/store"
	"attestor/internal/sentinel"
	"attestor/pkg/testutil"
	"attestor/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	creds    *credstore.PostgresStore
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
	s.creds = credstore.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background()))
}

// saveTicket persists a backing credential plus a ticket, honoring the
// foreign key between the two tables.
func (s *PostgresStoreSuite) saveTicket(ttl time.Duration) *models.Ticket {
	cred := testutil.NewCredentialBuilder().Build()
	s.Require().NoError(s.creds.Save(context.Background(), cred))

	token, err := models.NewToken()
	s.Require().NoError(err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	ticket := &models.Ticket{
		Token:        token,
		CredentialID: cred.ID,
		IssuerID:     "issuer-1",
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
	}
	s.Require().NoError(s.store.Save(context.Background(), ticket))
	return ticket
}

func (s *PostgresStoreSuite) TestSaveAndFindByToken() {
	ticket := s.saveTicket(time.Hour)

	got, err := s.store.FindByToken(context.Background(), ticket.Token)
	s.Require().NoError(err)
	s.Equal(ticket.CredentialID, got.CredentialID)
	s.Equal(ticket.IssuerID, got.IssuerID)
	s.Nil(got.UsedAt)
	s.WithinDuration(ticket.ExpiresAt, got.ExpiresAt, time.Millisecond)

	_, err = s.store.FindByToken(context.Background(), "no-such-token")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDuplicateTokenRejected() {
	ticket := s.saveTicket(time.Hour)

	dup := ticket.Clone()
	err := s.store.Save(context.Background(), dup)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestFindActiveByCredentialPicksNewest() {
	cred := testutil.NewCredentialBuilder().Build()
	s.Require().NoError(s.creds.Save(context.Background(), cred))

	now := time.Now().UTC().Truncate(time.Microsecond)
	var newest string
	for i := 0; i < 3; i++ {
		token, err := models.NewToken()
		s.Require().NoError(err)
		s.Require().NoError(s.store.Save(context.Background(), &models.Ticket{
			Token:        token,
			CredentialID: cred.ID,
			IssuerID:     "issuer-1",
			ExpiresAt:    now.Add(time.Hour),
			CreatedAt:    now.Add(time.Duration(i) * time.Second),
		}))
		newest = token
	}

	got, err := s.store.FindActiveByCredential(context.Background(), cred.ID, now)
	s.Require().NoError(err)
	s.Equal(newest, got.Token)

	// Everything is expired from this vantage point.
	_, err = s.store.FindActiveByCredential(context.Background(), cred.ID, now.Add(2*time.Hour))
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.FindActiveByCredential(context.Background(), uuid.New(), now)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestMarkUsedStampsOnce() {
	ticket := s.saveTicket(time.Hour)
	first := time.Now().UTC().Truncate(time.Microsecond)

	stamped, err := s.store.MarkUsed(context.Background(), ticket.Token, first)
	s.Require().NoError(err)
	s.True(stamped)

	stamped, err = s.store.MarkUsed(context.Background(), ticket.Token, first.Add(time.Hour))
	s.Require().NoError(err)
	s.False(stamped)

	got, err := s.store.FindByToken(context.Background(), ticket.Token)
	s.Require().NoError(err)
	s.Require().NotNil(got.UsedAt)
	s.WithinDuration(first, *got.UsedAt, time.Millisecond)

	stamped, err = s.store.MarkUsed(context.Background(), "no-such-token", first)
	s.Require().NoError(err)
	s.False(stamped)
}

func (s *PostgresStoreSuite) TestDeleteExpired() {
	expired := s.saveTicket(-time.Minute)
	live := s.saveTicket(time.Hour)

	deleted, err := s.store.DeleteExpired(context.Background(), time.Now().UTC())
	s.Require().NoError(err)
	s.Equal(1, deleted)

	_, err = s.store.FindByToken(context.Background(), expired.Token)
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.FindByToken(context.Background(), live.Token)
	s.NoError(err)
}
