// Package service implements the claim ticket engine: minting one-time
// claim tokens, first-claim-wins redemption, and the per-holder staging
// queue for offline batches.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"attestor/internal/claim/metrics"
	"attestor/internal/claim/models"
	"attestor/internal/claim/queue"
	claimstore "attestor/internal/claim/store"
	credmodels "attestor/internal/credential/models"
	credstore "attestor/internal/credential/store"
	"attestor/internal/sentinel"
	domainerrors "attestor/pkg/domain-errors"
)

// Publisher emits best-effort domain events. A nil publisher disables
// events entirely.
type Publisher interface {
	TicketRedeemed(ctx context.Context, ticket *models.Ticket, holderID string)
}

// Service is the claim ticket engine.
type Service struct {
	tickets claimstore.Store
	creds   credstore.Store
	queue   queue.Queue
	baseURL string

	logger  *slog.Logger
	metrics *metrics.Metrics
	events  Publisher

	now func() time.Time
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

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the claim ticket engine.
func NewService(tickets claimstore.Store, creds credstore.Store, q queue.Queue, baseURL string, logger *slog.Logger, opts ...Option) (*Service, error) {
	if tickets == nil || creds == nil || q == nil {
		return nil, fmt.Errorf("ticket store, credential store, and queue are required")
	}
	svc := &Service{
		tickets: tickets,
		creds:   creds,
		queue:   q,
		baseURL: baseURL,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// CreateResult reports a minted or reused claim ticket.
type CreateResult struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	Reused    bool      `json:"reused"`
}

// Create mints a claim ticket for an active credential. With singleActive
// set, an existing non-expired ticket for the credential is returned
// unchanged instead of minting a duplicate.
func (s *Service) Create(ctx context.Context, credID uuid.UUID, ttl time.Duration, singleActive bool, issuerID string) (*CreateResult, error) {
	if ttl <= 0 {
		return nil, domainerrors.New(domainerrors.CodeBadRequest, "ticket ttl must be positive")
	}

	cred, err := s.creds.FindByID(ctx, credID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeNotFound, "credential not found")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to load credential")
	}
	if cred.Status != credmodels.StatusActive {
		return nil, domainerrors.New(domainerrors.CodeConflict, "credential is not active")
	}

	now := s.now().UTC()
	if singleActive {
		existing, err := s.tickets.FindActiveByCredential(ctx, credID, now)
		switch {
		case err == nil:
			if s.metrics != nil {
				s.metrics.TicketsReused.Inc()
			}
			return &CreateResult{
				Token:     existing.Token,
				URL:       s.ticketURL(existing.Token),
				ExpiresAt: existing.ExpiresAt,
				Reused:    true,
			}, nil
		case errors.Is(err, sentinel.ErrNotFound):
			// Mint below.
		default:
			return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to look up active ticket")
		}
	}

	token, err := models.NewToken()
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to mint ticket")
	}
	ticket := &models.Ticket{
		Token:        token,
		CredentialID: credID,
		IssuerID:     issuerID,
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
	}
	if err := s.tickets.Save(ctx, ticket); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to save ticket")
	}

	if s.metrics != nil {
		s.metrics.TicketsCreated.Inc()
	}
	s.logger.InfoContext(ctx, "claim ticket minted",
		"credential_id", credID,
		"expires_at", ticket.ExpiresAt,
	)
	return &CreateResult{
		Token:     ticket.Token,
		URL:       s.ticketURL(ticket.Token),
		ExpiresAt: ticket.ExpiresAt,
	}, nil
}

// Redeem exchanges a claim token for the credential's portable payload.
// The used_at stamp and the holder binding are best-effort bookkeeping:
// their failure never blocks a redemption. Concurrent redemptions of one
// never-claimed credential bind exactly one holder; the rest still
// succeed and observe the already-bound state.
func (s *Service) Redeem(ctx context.Context, token, holderID string) (*credmodels.PortablePayload, error) {
	ticket, err := s.tickets.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.countRedemption("not_found")
			return nil, domainerrors.New(domainerrors.CodeNotFound, "claim token not found")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to load ticket")
	}

	now := s.now().UTC()
	if ticket.Expired(now) {
		s.countRedemption("expired")
		return nil, domainerrors.New(domainerrors.CodeGone, "claim token has expired")
	}

	cred, err := s.creds.FindByID(ctx, ticket.CredentialID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.countRedemption("conflict")
			return nil, domainerrors.New(domainerrors.CodeConflict, "credential is no longer available")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to load credential")
	}
	if cred.Status != credmodels.StatusActive {
		s.countRedemption("conflict")
		return nil, domainerrors.New(domainerrors.CodeConflict, "credential is not active")
	}

	// From here on the redemption succeeds. Stamping and binding are
	// conditional writes; losing a race is a normal outcome, not an error.
	if _, err := s.tickets.MarkUsed(ctx, token, now); err != nil {
		s.logger.WarnContext(ctx, "failed to stamp ticket used_at",
			"credential_id", ticket.CredentialID, "error", err)
	}

	if holderID != "" {
		s.bindHolder(ctx, cred.ID, holderID, now)
	}

	if s.events != nil {
		s.events.TicketRedeemed(ctx, ticket, holderID)
	}
	s.countRedemption("ok")
	return cred.Portable(), nil
}

// bindHolder attempts the first-claim-wins binding: both holder_id and
// claimed_at set together only when both are unset. When that loses, a
// second conditional write stamps claimed_at alone so an anonymous first
// redemption still gets its timestamp. The holder binding is the source
// of truth; the timestamp is metadata.
func (s *Service) bindHolder(ctx context.Context, credID uuid.UUID, holderID string, now time.Time) {
	bound, err := s.creds.BindHolder(ctx, credID, holderID, now)
	if err != nil {
		s.logger.WarnContext(ctx, "holder binding failed",
			"credential_id", credID, "error", err)
		return
	}
	if bound {
		return
	}
	if _, err := s.creds.MarkClaimed(ctx, credID, now); err != nil {
		s.logger.WarnContext(ctx, "claimed_at stamp failed",
			"credential_id", credID, "error", err)
	}
}

// Enqueue stages a token in the holder's offline queue. The entry's TTL
// mirrors the ticket expiry.
func (s *Service) Enqueue(ctx context.Context, holderID, token string) (*models.QueueEntry, error) {
	ticket, err := s.tickets.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeNotFound, "claim token not found")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to load ticket")
	}

	now := s.now().UTC()
	if ticket.Expired(now) {
		return nil, domainerrors.New(domainerrors.CodeGone, "claim token has expired")
	}

	entry := models.QueueEntry{
		Token:     token,
		URL:       s.ticketURL(token),
		SavedAt:   now,
		ExpiresAt: ticket.ExpiresAt,
	}
	if err := s.queue.Enqueue(ctx, holderID, entry, ticket.ExpiresAt.Sub(now)); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			return nil, domainerrors.New(domainerrors.CodeConflict, "claim queue is full for this holder")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to stage claim token")
	}
	return &entry, nil
}

// List returns the holder's staged tokens, lazily dropping entries whose
// ticket has expired or vanished.
func (s *Service) List(ctx context.Context, holderID string) ([]models.QueueEntry, error) {
	staged, err := s.queue.List(ctx, holderID)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to list claim queue")
	}

	now := s.now().UTC()
	live := make([]models.QueueEntry, 0, len(staged))
	for _, entry := range staged {
		ticket, err := s.tickets.FindByToken(ctx, entry.Token)
		if errors.Is(err, sentinel.ErrNotFound) {
			s.dropEntry(ctx, holderID, entry.Token)
			continue
		}
		if err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to load ticket")
		}
		if ticket.Expired(now) {
			s.dropEntry(ctx, holderID, entry.Token)
			continue
		}
		live = append(live, entry)
	}
	return live, nil
}

// Dequeue removes one staged token from the holder's queue.
func (s *Service) Dequeue(ctx context.Context, holderID, token string) error {
	if err := s.queue.Remove(ctx, holderID, token); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to remove claim token")
	}
	return nil
}

// RedeemOutcome is the per-token result of a redeem-all run.
type RedeemOutcome struct {
	Token   string                      `json:"token"`
	Status  string                      `json:"status"`
	Payload *credmodels.PortablePayload `json:"payload,omitempty"`
	Error   string                      `json:"error,omitempty"`
}

// Redeem-all outcome statuses.
const (
	OutcomeRedeemed = "redeemed"
	OutcomeExpired  = "expired"
	OutcomeNotFound = "not_found"
	OutcomeFailed   = "failed"
)

// RedeemAll redeems every token staged in the holder's queue, collecting
// a per-token outcome. A single token's failure never aborts the batch.
// Redeemed, expired, and unknown tokens are removed from the queue;
// transient failures stay staged for a later retry.
func (s *Service) RedeemAll(ctx context.Context, holderID string) ([]RedeemOutcome, error) {
	staged, err := s.queue.List(ctx, holderID)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to list claim queue")
	}
	if s.metrics != nil && len(staged) > 0 {
		s.metrics.QueueBatchSize.Observe(float64(len(staged)))
	}

	outcomes := make([]RedeemOutcome, 0, len(staged))
	for _, entry := range staged {
		outcome := RedeemOutcome{Token: entry.Token}
		payload, err := s.Redeem(ctx, entry.Token, holderID)
		switch {
		case err == nil:
			outcome.Status = OutcomeRedeemed
			outcome.Payload = payload
			s.dropEntry(ctx, holderID, entry.Token)
		case domainerrors.HasCode(err, domainerrors.CodeGone):
			outcome.Status = OutcomeExpired
			s.dropEntry(ctx, holderID, entry.Token)
		case domainerrors.HasCode(err, domainerrors.CodeNotFound):
			outcome.Status = OutcomeNotFound
			s.dropEntry(ctx, holderID, entry.Token)
		default:
			outcome.Status = OutcomeFailed
			outcome.Error = err.Error()
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *Service) dropEntry(ctx context.Context, holderID, token string) {
	if err := s.queue.Remove(ctx, holderID, token); err != nil {
		s.logger.WarnContext(ctx, "failed to prune claim queue entry", "error", err)
	}
}

func (s *Service) ticketURL(token string) string {
	return fmt.Sprintf("%s/claims/%s/redeem", s.baseURL, token)
}

func (s *Service) countRedemption(outcome string) {
	if s.metrics != nil {
		s.metrics.Redemptions.WithLabelValues(outcome).Inc()
	}
}
