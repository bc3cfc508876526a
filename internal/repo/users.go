package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"gotodo/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(id,name,email,role,created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.Name, nullable(u.Email), u.Role, u.CreatedAt)
	return err
}

func (r Repo) UpdateUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE users SET name=?, email=?, role=? WHERE id=?`, u.Name, nullable(u.Email), u.Role, u.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	var u domain.User
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name,COALESCE(email,''),role,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

// ListUsers returns users ordered by creation, optionally filtered by role.
func (r Repo) ListUsers(ctx context.Context, tx *sql.Tx, role string) ([]domain.User, error) {
	query := `SELECT id,name,COALESCE(email,''),role,created_at FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.User{}
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

const providerColumns = `id,user_id,display_name,service_types_json,latitude,longitude,address,rating,hunter_mode,created_at`

func scanProvider(row rowScanner) (domain.Provider, error) {
	var (
		p        domain.Provider
		types    string
		lat, lng sql.NullFloat64
		addr     sql.NullString
		hunter   int
	)
	err := row.Scan(&p.ID, &p.UserID, &p.DisplayName, &types, &lat, &lng, &addr, &p.Rating, &hunter, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(types), &p.ServiceTypes); err != nil {
		return p, fmt.Errorf("decode provider service types: %w", err)
	}
	if p.ServiceTypes == nil {
		p.ServiceTypes = []string{}
	}
	p.Location = scanLocation(lat, lng, addr)
	p.HunterMode = hunter != 0
	return p, nil
}

func (r Repo) InsertProvider(ctx context.Context, tx *sql.Tx, p domain.Provider) error {
	types, err := json.Marshal(p.ServiceTypes)
	if err != nil {
		return err
	}
	lat, lng, addr := locationArgs(p.Location)
	hunter := 0
	if p.HunterMode {
		hunter = 1
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO providers(id,user_id,display_name,service_types_json,latitude,longitude,address,rating,hunter_mode,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.UserID, p.DisplayName, string(types), lat, lng, addr, p.Rating, hunter, p.CreatedAt)
	return err
}

func (r Repo) GetProvider(ctx context.Context, tx *sql.Tx, id string) (domain.Provider, error) {
	return scanProvider(r.q(tx).QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE id=?`, id))
}

func (r Repo) GetProviderByUser(ctx context.Context, tx *sql.Tx, userID string) (domain.Provider, error) {
	return scanProvider(r.q(tx).QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE user_id=?`, userID))
}

// ListProviders returns providers, filtered by service type when set.
func (r Repo) ListProviders(ctx context.Context, serviceType string) ([]domain.Provider, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+providerColumns+` FROM providers ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Provider{}
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		if serviceType != "" && !contains(p.ServiceTypes, serviceType) {
			continue
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
