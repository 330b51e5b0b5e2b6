package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"attestor/internal/credential/models"
	"attestor/internal/sentinel"
)

// PostgresStore persists credential records in PostgreSQL. Conditional
// updates are expressed in SQL so concurrent writers serialize on the row,
// not in application code.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed credential store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const credentialColumns = `
	id, subject_id, status, digest, salt, signature, key_id, algorithm,
	anchor_state, queue_mode, approved_mode, approved_at, approved_by,
	batch_id, ledger_tx_id, chain_id, anchored_at, inclusion_proof,
	holder_id, claimed_at, created_at
`

func (s *PostgresStore) Save(ctx context.Context, cred *models.SignedCredential) error {
	proof, err := marshalProof(cred.Anchoring.InclusionProof)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO credentials (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		cred.ID, cred.SubjectID, string(cred.Status), cred.Digest, cred.Salt,
		cred.Signature, cred.KeyID, cred.Algorithm,
		string(cred.Anchoring.State), string(cred.Anchoring.QueueMode),
		approvedModeValue(cred.Anchoring.ApprovedMode), cred.Anchoring.ApprovedAt, cred.Anchoring.ApprovedBy,
		nullString(cred.Anchoring.BatchID), nullString(cred.Anchoring.LedgerTxID),
		nullInt64(cred.Anchoring.ChainID), cred.Anchoring.AnchoredAt, proof,
		cred.HolderID, cred.ClaimedAt, cred.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.SignedCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1`
	cred, err := scanCredential(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find credential: %w", err)
	}
	return cred, nil
}

func (s *PostgresStore) ListQueue(ctx context.Context, filter QueueFilter) ([]*models.SignedCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE anchor_state = 'queued'`
	var args []any
	if filter.Mode != nil {
		args = append(args, string(*filter.Mode))
		query += fmt.Sprintf(" AND queue_mode = $%d", len(args))
	}
	if filter.ApprovedOnly {
		query += " AND approved_mode IS NOT NULL"
	}
	if filter.ApprovedMode != nil {
		args = append(args, string(*filter.ApprovedMode))
		query += fmt.Sprintf(" AND approved_mode = $%d", len(args))
	}
	query += " ORDER BY created_at, id"

	return s.queryCredentials(ctx, query, args...)
}

func (s *PostgresStore) ListAnchorCandidates(ctx context.Context) ([]*models.SignedCredential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE status = 'active'
		  AND (
			(anchor_state = 'queued' AND approved_mode = 'batch')
			OR anchor_state = 'unanchored'
		  )
		ORDER BY created_at, id
	`
	return s.queryCredentials(ctx, query)
}

func (s *PostgresStore) TransitionToQueued(ctx context.Context, id uuid.UUID, mode models.QueueMode) (bool, error) {
	query := `
		UPDATE credentials
		SET anchor_state = 'queued', queue_mode = $2
		WHERE id = $1
		  AND status = 'active'
		  AND anchor_state <> 'anchored'
		  AND NOT (anchor_state = 'queued' AND queue_mode = $2)
	`
	res, err := s.db.ExecContext(ctx, query, id, string(mode))
	if err != nil {
		return false, fmt.Errorf("queue credential: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("queue credential: %w", err)
	}
	if rows > 0 {
		return true, nil
	}

	// The guard did not match; distinguish idempotent re-queue from the
	// terminal states so the service can report them.
	cred, err := s.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	switch {
	case cred.Status != models.StatusActive:
		return false, sentinel.ErrInvalidState
	case cred.Anchoring.State == models.AnchorStateAnchored:
		return false, sentinel.ErrAlreadyAnchored
	default:
		return false, nil
	}
}

func (s *PostgresStore) Approve(ctx context.Context, ids []uuid.UUID, mode models.ApprovedMode, at time.Time, by string) (int, int, error) {
	if len(ids) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("approve credentials: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	placeholders := make([]string, len(ids))
	idArgs := make([]any, len(ids))
	for i, credID := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		idArgs[i] = credID
	}
	in := strings.Join(placeholders, ", ")

	var matched int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credentials WHERE id IN (`+in+`) AND anchor_state = 'queued'`,
		idArgs...,
	).Scan(&matched)
	if err != nil {
		return 0, 0, fmt.Errorf("count queued credentials: %w", err)
	}

	args := append(append([]any{}, idArgs...), string(mode), at, by)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE credentials
		SET approved_mode = $%d, approved_at = $%d, approved_by = $%d
		WHERE id IN (`+in+`)
		  AND anchor_state = 'queued'
		  AND approved_mode IS DISTINCT FROM $%d
	`, len(ids)+1, len(ids)+2, len(ids)+3, len(ids)+1), args...)
	if err != nil {
		return 0, 0, fmt.Errorf("approve credentials: %w", err)
	}
	modified, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("approve credentials: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("approve credentials: %w", err)
	}
	return matched, int(modified), nil
}

func (s *PostgresStore) AnchorMany(ctx context.Context, updates []AnchorUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("anchor credentials: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE credentials
		SET anchor_state = 'anchored',
		    queue_mode = 'none',
		    approved_mode = NULL,
		    approved_at = NULL,
		    approved_by = '',
		    batch_id = $2,
		    ledger_tx_id = $3,
		    chain_id = $4,
		    anchored_at = $5,
		    inclusion_proof = $6
		WHERE id = $1 AND anchor_state <> 'anchored'
	`)
	if err != nil {
		return fmt.Errorf("anchor credentials: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // statement closed with tx

	for _, u := range updates {
		proof, err := marshalProof(u.InclusionProof)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, u.CredentialID, u.BatchID, u.LedgerTxID, u.ChainID, u.AnchoredAt, proof); err != nil {
			return fmt.Errorf("anchor credential %s: %w", u.CredentialID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("anchor credentials: %w", err)
	}
	return nil
}

func (s *PostgresStore) BindHolder(ctx context.Context, id uuid.UUID, holderID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET holder_id = $2, claimed_at = $3
		WHERE id = $1 AND holder_id IS NULL AND claimed_at IS NULL
	`, id, holderID, at)
	if err != nil {
		return false, fmt.Errorf("bind holder: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("bind holder: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) MarkClaimed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET claimed_at = $2
		WHERE id = $1 AND claimed_at IS NULL
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark claimed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark claimed: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) queryCredentials(ctx context.Context, query string, args ...any) ([]*models.SignedCredential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.SignedCredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return creds, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*models.SignedCredential, error) {
	var (
		cred         models.SignedCredential
		status       string
		state        string
		queueMode    string
		approvedMode sql.NullString
		approvedBy   sql.NullString
		batchID      sql.NullString
		ledgerTxID   sql.NullString
		chainID      sql.NullInt64
		proofRaw     []byte
	)
	err := row.Scan(
		&cred.ID, &cred.SubjectID, &status, &cred.Digest, &cred.Salt,
		&cred.Signature, &cred.KeyID, &cred.Algorithm,
		&state, &queueMode, &approvedMode, &cred.Anchoring.ApprovedAt, &approvedBy,
		&batchID, &ledgerTxID, &chainID, &cred.Anchoring.AnchoredAt, &proofRaw,
		&cred.HolderID, &cred.ClaimedAt, &cred.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	cred.Status = models.Status(status)
	cred.Anchoring.State = models.AnchorState(state)
	cred.Anchoring.QueueMode = models.QueueMode(queueMode)
	if approvedMode.Valid {
		m := models.ApprovedMode(approvedMode.String)
		cred.Anchoring.ApprovedMode = &m
	}
	cred.Anchoring.ApprovedBy = approvedBy.String
	cred.Anchoring.BatchID = batchID.String
	cred.Anchoring.LedgerTxID = ledgerTxID.String
	cred.Anchoring.ChainID = chainID.Int64
	if len(proofRaw) > 0 {
		if err := json.Unmarshal(proofRaw, &cred.Anchoring.InclusionProof); err != nil {
			return nil, fmt.Errorf("decode inclusion proof: %w", err)
		}
	}
	return &cred, nil
}

func marshalProof(proof []string) ([]byte, error) {
	if len(proof) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(proof)
	if err != nil {
		return nil, fmt.Errorf("encode inclusion proof: %w", err)
	}
	return raw, nil
}

func approvedModeValue(mode *models.ApprovedMode) any {
	if mode == nil {
		return nil
	}
	return string(*mode)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
