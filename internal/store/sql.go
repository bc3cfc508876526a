package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gotodo/internal/repo"
)

// SQL persists values in the kv table of the workspace database.
type SQL struct {
	hub
	Repo repo.Repo
	Now  func() time.Time
}

func NewSQL(r repo.Repo, now func() time.Time) *SQL {
	if now == nil {
		now = time.Now
	}
	return &SQL{Repo: r, Now: now}
}

func (s *SQL) Get(ctx context.Context, scope, key string) ([]byte, bool, error) {
	v, err := s.Repo.GetValue(ctx, scope, key)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(v), true, nil
}

func (s *SQL) Set(ctx context.Context, scope, key string, value []byte) error {
	publish, err := s.SetTx(ctx, nil, scope, key, value)
	if err != nil {
		return err
	}
	publish()
	return nil
}

// SetTx writes the value as part of tx. Subscribers are not told until the
// returned publish func runs, which the caller does after commit.
func (s *SQL) SetTx(ctx context.Context, tx *sql.Tx, scope, key string, value []byte) (func(), error) {
	if err := s.Repo.PutValue(ctx, tx, scope, key, string(value), s.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}
	return func() { s.publish(scope, key, value) }, nil
}

func (s *SQL) Delete(ctx context.Context, scope, key string) error {
	if err := s.Repo.DeleteValue(ctx, scope, key); err != nil {
		return err
	}
	s.publish(scope, key, nil)
	return nil
}

func (s *SQL) Subscribe(scope, key string, fn func([]byte)) func() {
	return s.subscribe(scope, key, fn)
}
