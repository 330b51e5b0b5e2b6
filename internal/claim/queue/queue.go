// Package queue stages claim tokens per holder for later or offline
// redemption. Entries carry a TTL mirroring the ticket expiry; the store
// is a cache and losing it never loses correctness.
package queue

import (
	"context"
	"errors"
	"time"

	"attestor/internal/claim/models"
)

// MaxEntriesPerHolder caps how many tokens one holder may have staged at
// once. The cap is enforced on Enqueue so the queue never silently drops
// entries a holder believes are staged.
const MaxEntriesPerHolder = 100

// ErrQueueFull reports a holder whose staging queue is at capacity.
// Re-staging a token already in the queue does not count against the cap.
var ErrQueueFull = errors.New("holder staging queue is full")

// Queue is the per-holder token staging contract.
type Queue interface {
	// Enqueue stages an entry under the holder key with the given TTL.
	// Returns ErrQueueFull when the holder already holds
	// MaxEntriesPerHolder distinct tokens.
	Enqueue(ctx context.Context, holderID string, entry models.QueueEntry, ttl time.Duration) error

	// List returns the holder's live entries. Entries whose backing record
	// has expired or vanished are dropped lazily.
	List(ctx context.Context, holderID string) ([]models.QueueEntry, error)

	// Remove drops one staged token. Removing an absent token is a no-op.
	Remove(ctx context.Context, holderID, token string) error
}
