// Package store persists anchor batch records.
//
// Error Contract:
// - FindByID returns sentinel.ErrNotFound when no batch exists
// - Save returns sentinel.ErrDuplicateRoot when (chain_id, merkle_root)
//   already exists, and sentinel.ErrConflict on a duplicate batch id
package store

import (
	"context"

	"attestor/internal/anchor/models"
)

// Store is the persistence interface for anchor batches.
type Store interface {
	Save(ctx context.Context, batch *models.AnchorBatch) error
	FindByID(ctx context.Context, batchID string) (*models.AnchorBatch, error)
	List(ctx context.Context, limit int) ([]*models.AnchorBatch, error)
}
