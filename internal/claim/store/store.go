// Package store persists claim tickets. The ticket row is the
// authoritative record for redemption; expiry is enforced at read time
// and the background sweep is advisory only.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"attestor/internal/claim/models"
)

// Store is the claim ticket persistence contract.
type Store interface {
	// Save inserts a new ticket. Tokens are unique.
	Save(ctx context.Context, ticket *models.Ticket) error

	// FindByToken loads one ticket, expired or not. Returns
	// sentinel.ErrNotFound when the token is unknown.
	FindByToken(ctx context.Context, token string) (*models.Ticket, error)

	// FindActiveByCredential returns the newest non-expired ticket for a
	// credential, or sentinel.ErrNotFound when none exists.
	FindActiveByCredential(ctx context.Context, credID uuid.UUID, now time.Time) (*models.Ticket, error)

	// MarkUsed stamps used_at if it is currently unset. Returns true when
	// this call performed the stamp, false when it was already set or the
	// token is unknown.
	MarkUsed(ctx context.Context, token string, at time.Time) (bool, error)

	// DeleteExpired removes tickets whose expiry is at or before the cutoff
	// and reports how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
