package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"attestor/internal/anchor/models"
	"attestor/internal/sentinel"
)

type rootKey struct {
	chainID int64
	root    string
}

// InMemoryStore keeps anchor batches in memory for tests and single-process
// deployments.
type InMemoryStore struct {
	mu      sync.RWMutex
	batches map[string]*models.AnchorBatch
	roots   map[rootKey]string
}

// NewMemory constructs an empty in-memory batch store.
func NewMemory() *InMemoryStore {
	return &InMemoryStore{
		batches: make(map[string]*models.AnchorBatch),
		roots:   make(map[rootKey]string),
	}
}

func (s *InMemoryStore) Save(_ context.Context, batch *models.AnchorBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[batch.BatchID]; ok {
		return fmt.Errorf("batch %s: %w", batch.BatchID, sentinel.ErrConflict)
	}
	key := rootKey{chainID: batch.ChainID, root: batch.MerkleRoot}
	if existing, ok := s.roots[key]; ok {
		return fmt.Errorf("root %s already anchored by batch %s: %w", batch.MerkleRoot, existing, sentinel.ErrDuplicateRoot)
	}

	cp := *batch
	s.batches[batch.BatchID] = &cp
	s.roots[key] = batch.BatchID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, batchID string) (*models.AnchorBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *batch
	return &cp, nil
}

func (s *InMemoryStore) List(_ context.Context, limit int) ([]*models.AnchorBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.AnchorBatch, 0, len(s.batches))
	for _, batch := range s.batches {
		cp := *batch
		out = append(out, &cp)
	}
	// Batch ids are human-sortable; newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID > out[j].BatchID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
