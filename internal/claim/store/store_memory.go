package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"attestor/internal/claim/models"
	"attestor/internal/sentinel"
)

// InMemoryStore is a mutex-guarded ticket store for tests and for running
// without a database.
type InMemoryStore struct {
	mu      sync.RWMutex
	tickets map[string]*models.Ticket
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{tickets: make(map[string]*models.Ticket)}
}

func (s *InMemoryStore) Save(_ context.Context, ticket *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tickets[ticket.Token]; exists {
		return sentinel.ErrConflict
	}
	s.tickets[ticket.Token] = ticket.Clone()
	return nil
}

func (s *InMemoryStore) FindByToken(_ context.Context, token string) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.tickets[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return ticket.Clone(), nil
}

func (s *InMemoryStore) FindActiveByCredential(_ context.Context, credID uuid.UUID, now time.Time) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *models.Ticket
	for _, ticket := range s.tickets {
		if ticket.CredentialID != credID || ticket.Expired(now) {
			continue
		}
		if newest == nil || ticket.CreatedAt.After(newest.CreatedAt) {
			newest = ticket
		}
	}
	if newest == nil {
		return nil, sentinel.ErrNotFound
	}
	return newest.Clone(), nil
}

func (s *InMemoryStore) MarkUsed(_ context.Context, token string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[token]
	if !ok {
		return false, nil
	}
	if ticket.UsedAt != nil {
		return false, nil
	}
	t := at
	ticket.UsedAt = &t
	return true, nil
}

func (s *InMemoryStore) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for token, ticket := range s.tickets {
		if !ticket.ExpiresAt.After(before) {
			delete(s.tickets, token)
			deleted++
		}
	}
	return deleted, nil
}
