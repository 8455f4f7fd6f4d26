package repo

import (
	"context"
	"database/sql"
)

// StoredResponse is a mutation result recorded under an idempotency key.
type StoredResponse struct {
	Operation string
	Body      string
}

func (r Repo) GetIdempotentTx(ctx context.Context, tx *sql.Tx, key, userID string) (StoredResponse, error) {
	var s StoredResponse
	err := r.q(tx).QueryRowContext(ctx, `SELECT operation,response FROM idempotency_keys WHERE key=? AND user_id=?`, key, userID).
		Scan(&s.Operation, &s.Body)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) SaveIdempotentTx(ctx context.Context, tx *sql.Tx, key, userID, operation, body, createdAt string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO idempotency_keys(key,user_id,operation,response,created_at) VALUES (?,?,?,?,?)`,
		key, userID, operation, body, createdAt)
	return err
}
