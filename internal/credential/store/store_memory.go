package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"attestor/internal/credential/models"
	"attestor/internal/sentinel"
)

// InMemoryStore keeps credential records in memory. It backs unit tests and
// single-process deployments; the mutex gives it the same compare-and-set
// semantics the Postgres store expresses in SQL.
type InMemoryStore struct {
	mu    sync.RWMutex
	creds map[uuid.UUID]*models.SignedCredential
}

// NewMemory constructs an empty in-memory credential store.
func NewMemory() *InMemoryStore {
	return &InMemoryStore{creds: make(map[uuid.UUID]*models.SignedCredential)}
}

func (s *InMemoryStore) Save(_ context.Context, cred *models.SignedCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.ID] = cred.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.SignedCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cred.Clone(), nil
}

func (s *InMemoryStore) ListQueue(_ context.Context, filter QueueFilter) ([]*models.SignedCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var queued []*models.SignedCredential
	for _, cred := range s.creds {
		if cred.Anchoring.State != models.AnchorStateQueued {
			continue
		}
		if filter.Mode != nil && cred.Anchoring.QueueMode != *filter.Mode {
			continue
		}
		if filter.ApprovedOnly && cred.Anchoring.ApprovedMode == nil {
			continue
		}
		if filter.ApprovedMode != nil {
			if cred.Anchoring.ApprovedMode == nil || *cred.Anchoring.ApprovedMode != *filter.ApprovedMode {
				continue
			}
		}
		queued = append(queued, cred.Clone())
	}
	sortByCreated(queued)
	return queued, nil
}

func (s *InMemoryStore) ListAnchorCandidates(_ context.Context) ([]*models.SignedCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*models.SignedCredential
	for _, cred := range s.creds {
		if cred.Status != models.StatusActive {
			continue
		}
		switch cred.Anchoring.State {
		case models.AnchorStateQueued:
			if cred.Anchoring.ApprovedMode != nil && *cred.Anchoring.ApprovedMode == models.ApprovedModeBatch {
				candidates = append(candidates, cred.Clone())
			}
		case models.AnchorStateUnanchored:
			// Standing sweep: unanchored active credentials ride along so
			// nothing stays stuck outside the queue forever.
			candidates = append(candidates, cred.Clone())
		case models.AnchorStateAnchored:
		}
	}
	sortByCreated(candidates)
	return candidates, nil
}

func (s *InMemoryStore) TransitionToQueued(_ context.Context, id uuid.UUID, mode models.QueueMode) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[id]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if cred.Status != models.StatusActive {
		return false, sentinel.ErrInvalidState
	}
	switch cred.Anchoring.State {
	case models.AnchorStateAnchored:
		return false, sentinel.ErrAlreadyAnchored
	case models.AnchorStateQueued:
		if cred.Anchoring.QueueMode == mode {
			return false, nil
		}
		cred.Anchoring.QueueMode = mode
		return true, nil
	case models.AnchorStateUnanchored:
		cred.Anchoring.State = models.AnchorStateQueued
		cred.Anchoring.QueueMode = mode
		return true, nil
	}
	return false, sentinel.ErrInvalidState
}

func (s *InMemoryStore) Approve(_ context.Context, ids []uuid.UUID, mode models.ApprovedMode, at time.Time, by string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched, modified := 0, 0
	for _, id := range ids {
		cred, ok := s.creds[id]
		if !ok || cred.Anchoring.State != models.AnchorStateQueued {
			continue
		}
		matched++
		if cred.Anchoring.ApprovedMode != nil && *cred.Anchoring.ApprovedMode == mode {
			continue
		}
		m := mode
		t := at
		cred.Anchoring.ApprovedMode = &m
		cred.Anchoring.ApprovedAt = &t
		cred.Anchoring.ApprovedBy = by
		modified++
	}
	return matched, modified, nil
}

func (s *InMemoryStore) AnchorMany(_ context.Context, updates []AnchorUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		cred, ok := s.creds[u.CredentialID]
		if !ok {
			return sentinel.ErrNotFound
		}
		if cred.Anchoring.State == models.AnchorStateAnchored {
			continue
		}
		at := u.AnchoredAt
		cred.Anchoring = models.Anchoring{
			State:          models.AnchorStateAnchored,
			QueueMode:      models.QueueModeNone,
			BatchID:        u.BatchID,
			LedgerTxID:     u.LedgerTxID,
			ChainID:        u.ChainID,
			AnchoredAt:     &at,
			InclusionProof: append([]string(nil), u.InclusionProof...),
		}
	}
	return nil
}

func (s *InMemoryStore) BindHolder(_ context.Context, id uuid.UUID, holderID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[id]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if cred.HolderID != nil || cred.ClaimedAt != nil {
		return false, nil
	}
	h := holderID
	t := at
	cred.HolderID = &h
	cred.ClaimedAt = &t
	return true, nil
}

func (s *InMemoryStore) MarkClaimed(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[id]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if cred.ClaimedAt != nil {
		return false, nil
	}
	t := at
	cred.ClaimedAt = &t
	return true, nil
}

func sortByCreated(creds []*models.SignedCredential) {
	sort.Slice(creds, func(i, j int) bool {
		if creds[i].CreatedAt.Equal(creds[j].CreatedAt) {
			return creds[i].ID.String() < creds[j].ID.String()
		}
		return creds[i].CreatedAt.Before(creds[j].CreatedAt)
	})
}
