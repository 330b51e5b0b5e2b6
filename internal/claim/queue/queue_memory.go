package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"attestor/internal/claim/models"
)

type memoryEntry struct {
	entry     models.QueueEntry
	expiresAt time.Time
}

// MemoryQueue is an in-process staging queue for tests and for running
// without redis. Expired entries are dropped on read.
type MemoryQueue struct {
	mu      sync.Mutex
	holders map[string]map[string]memoryEntry
	now     func() time.Time
}

func NewMemory() *MemoryQueue {
	return &MemoryQueue{
		holders: make(map[string]map[string]memoryEntry),
		now:     time.Now,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, holderID string, entry models.QueueEntry, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tokens, ok := q.holders[holderID]
	if !ok {
		tokens = make(map[string]memoryEntry)
		q.holders[holderID] = tokens
	}

	now := q.now()
	if _, exists := tokens[entry.Token]; !exists {
		live := 0
		for token, stored := range tokens {
			if !now.Before(stored.expiresAt) {
				delete(tokens, token)
				continue
			}
			live++
		}
		if live >= MaxEntriesPerHolder {
			return ErrQueueFull
		}
	}

	tokens[entry.Token] = memoryEntry{entry: entry, expiresAt: now.Add(ttl)}
	return nil
}

func (q *MemoryQueue) List(_ context.Context, holderID string) ([]models.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var entries []models.QueueEntry
	for token, stored := range q.holders[holderID] {
		if !now.Before(stored.expiresAt) {
			delete(q.holders[holderID], token)
			continue
		}
		entries = append(entries, stored.entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SavedAt.Before(entries[j].SavedAt)
	})
	return entries, nil
}

func (q *MemoryQueue) Remove(_ context.Context, holderID, token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.holders[holderID], token)
	return nil
}
