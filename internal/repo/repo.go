package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"freshchain/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func scanUser(row *sql.Row) (domain.User, string, error) {
	var (
		u      domain.User
		hash   string
		wallet sql.NullString
	)
	err := row.Scan(&u.ID, &u.Username, &hash, &u.Role, &wallet)
	if err == sql.ErrNoRows {
		return u, "", ErrNotFound
	}
	if wallet.Valid {
		u.WalletAddress = wallet.String
	}
	return u, hash, err
}

const userColumns = `id,username,password_hash,role,wallet_address`

func (r Repo) InsertUserTx(ctx context.Context, tx *sql.Tx, u domain.User, passwordHash, createdAt string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(id,username,password_hash,role,wallet_address,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, u.Username, passwordHash, string(u.Role), nullable(u.WalletAddress), createdAt)
	return err
}

// GetUserByUsername returns the user and its bcrypt password hash.
func (r Repo) GetUserByUsername(ctx context.Context, username string) (domain.User, string, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=?`, username))
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, _, err := scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
	return u, err
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,username,role,COALESCE(wallet_address,'') FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.WalletAddress); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func ptr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// Quantities and prices are stored as decimal TEXT.
func dec(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func parseDec(column, raw string) (float64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", column, err)
	}
	return d.InexactFloat64(), nil
}
