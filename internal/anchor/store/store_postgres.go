package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"attestor/internal/anchor/models"
	"attestor/internal/sentinel"
)

const uniqueViolation = "23505"

// PostgresStore persists anchor batches in PostgreSQL. The
// (chain_id, merkle_root) uniqueness invariant lives in the schema, so a
// duplicate anchor attempt fails at the database no matter which process
// races it.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed batch store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, batch *models.AnchorBatch) error {
	query := `
		INSERT INTO anchor_batches (batch_id, merkle_root, ledger_tx_id, chain_id, leaf_count, anchored_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		batch.BatchID, batch.MerkleRoot, batch.LedgerTxID, batch.ChainID, batch.LeafCount, batch.AnchoredAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == "anchor_batches_chain_root_key" {
				return fmt.Errorf("root %s on chain %d: %w", batch.MerkleRoot, batch.ChainID, sentinel.ErrDuplicateRoot)
			}
			return fmt.Errorf("batch %s: %w", batch.BatchID, sentinel.ErrConflict)
		}
		return fmt.Errorf("save batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, batchID string) (*models.AnchorBatch, error) {
	query := `
		SELECT batch_id, merkle_root, ledger_tx_id, chain_id, leaf_count, anchored_at
		FROM anchor_batches
		WHERE batch_id = $1
	`
	var batch models.AnchorBatch
	err := s.db.QueryRowContext(ctx, query, batchID).Scan(
		&batch.BatchID, &batch.MerkleRoot, &batch.LedgerTxID, &batch.ChainID, &batch.LeafCount, &batch.AnchoredAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find batch: %w", err)
	}
	return &batch, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*models.AnchorBatch, error) {
	query := `
		SELECT batch_id, merkle_root, ledger_tx_id, chain_id, leaf_count, anchored_at
		FROM anchor_batches
		ORDER BY batch_id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.AnchorBatch
	for rows.Next() {
		var batch models.AnchorBatch
		if err := rows.Scan(&batch.BatchID, &batch.MerkleRoot, &batch.LedgerTxID, &batch.ChainID, &batch.LeafCount, &batch.AnchoredAt); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, &batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}
