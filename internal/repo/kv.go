package repo

import (
	"context"
	"database/sql"
)

// GetValue reads a raw kv entry.
func (r Repo) GetValue(ctx context.Context, scope, key string) (string, error) {
	var v string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE scope=? AND key=?`, scope, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return v, err
}

// PutValue upserts a kv entry, inside tx when given. Last writer wins.
func (r Repo) PutValue(ctx context.Context, tx *sql.Tx, scope, key, value, updatedAt string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO kv(scope,key,value,updated_at) VALUES (?,?,?,?)
ON CONFLICT(scope,key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, scope, key, value, updatedAt)
	return err
}

func (r Repo) DeleteValue(ctx context.Context, scope, key string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM kv WHERE scope=? AND key=?`, scope, key)
	return err
}
