package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"attestor/internal/claim/models"
	"attestor/internal/sentinel"
)

// PostgresStore persists claim tickets in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed ticket store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ticketColumns = `token, credential_id, issuer_id, expires_at, used_at, created_at`

func (s *PostgresStore) Save(ctx context.Context, ticket *models.Ticket) error {
	query := `
		INSERT INTO claim_tickets (` + ticketColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		ticket.Token, ticket.CredentialID, ticket.IssuerID,
		ticket.ExpiresAt, ticket.UsedAt, ticket.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save ticket: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByToken(ctx context.Context, token string) (*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM claim_tickets WHERE token = $1`
	ticket, err := scanTicket(s.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find ticket: %w", err)
	}
	return ticket, nil
}

func (s *PostgresStore) FindActiveByCredential(ctx context.Context, credID uuid.UUID, now time.Time) (*models.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + ` FROM claim_tickets
		WHERE credential_id = $1 AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	ticket, err := scanTicket(s.db.QueryRowContext(ctx, query, credID, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find active ticket: %w", err)
	}
	return ticket, nil
}

func (s *PostgresStore) MarkUsed(ctx context.Context, token string, at time.Time) (bool, error) {
	query := `UPDATE claim_tickets SET used_at = $2 WHERE token = $1 AND used_at IS NULL`
	res, err := s.db.ExecContext(ctx, query, token, at)
	if err != nil {
		return false, fmt.Errorf("mark ticket used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark ticket used: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM claim_tickets WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired tickets: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired tickets: %w", err)
	}
	return int(affected), nil
}

func scanTicket(row *sql.Row) (*models.Ticket, error) {
	var ticket models.Ticket
	err := row.Scan(
		&ticket.Token, &ticket.CredentialID, &ticket.IssuerID,
		&ticket.ExpiresAt, &ticket.UsedAt, &ticket.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}
