package repo

import (
	"context"
	"database/sql"

	"gotodo/internal/domain"
)

func (r Repo) InsertJourney(ctx context.Context, tx *sql.Tx, j domain.JourneyPlan) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO journeys(id,owner_id,title,notes,status,created_at,updated_at,finalized_at) VALUES (?,?,?,?,?,?,?,?)`,
		j.ID, j.OwnerID, j.Title, nullable(j.Notes), j.Status, j.CreatedAt, j.UpdatedAt, nullableStringPtr(j.FinalizedAt))
	return err
}

func (r Repo) UpdateJourney(ctx context.Context, tx *sql.Tx, j domain.JourneyPlan) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE journeys SET title=?, notes=?, status=?, updated_at=?, finalized_at=? WHERE id=?`,
		j.Title, nullable(j.Notes), j.Status, j.UpdatedAt, nullableStringPtr(j.FinalizedAt), j.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func scanJourney(row rowScanner) (domain.JourneyPlan, error) {
	var (
		j         domain.JourneyPlan
		finalized sql.NullString
	)
	err := row.Scan(&j.ID, &j.OwnerID, &j.Title, &j.Notes, &j.Status, &j.CreatedAt, &j.UpdatedAt, &finalized)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	j.FinalizedAt = stringPtr(finalized)
	j.Stops = []domain.JourneyStop{}
	return j, err
}

const journeyColumns = `id,owner_id,title,COALESCE(notes,''),status,created_at,updated_at,finalized_at`

// GetJourney loads a plan with its ordered stops and actions.
func (r Repo) GetJourney(ctx context.Context, tx *sql.Tx, id string) (domain.JourneyPlan, error) {
	j, err := scanJourney(r.q(tx).QueryRowContext(ctx, `SELECT `+journeyColumns+` FROM journeys WHERE id=?`, id))
	if err != nil {
		return j, err
	}
	stops, err := r.listStops(ctx, tx, id)
	if err != nil {
		return j, err
	}
	j.Stops = stops
	return j, nil
}

// ListJourneys returns plans without stops, newest first.
func (r Repo) ListJourneys(ctx context.Context, ownerID string) ([]domain.JourneyPlan, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id=?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.JourneyPlan{}
	for rows.Next() {
		j, err := scanJourney(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func (r Repo) listStops(ctx context.Context, tx *sql.Tx, journeyID string) ([]domain.JourneyStop, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,journey_id,name,latitude,longitude,address,position FROM journey_stops WHERE journey_id=? ORDER BY position ASC`, journeyID)
	if err != nil {
		return nil, err
	}
	stops := []domain.JourneyStop{}
	for rows.Next() {
		var (
			s        domain.JourneyStop
			lat, lng sql.NullFloat64
			addr     sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.JourneyID, &s.Name, &lat, &lng, &addr, &s.Position); err != nil {
			rows.Close()
			return nil, err
		}
		s.Location = scanLocation(lat, lng, addr)
		s.Actions = []domain.JourneyAction{}
		stops = append(stops, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range stops {
		actions, err := r.listActions(ctx, tx, stops[i].ID)
		if err != nil {
			return nil, err
		}
		stops[i].Actions = actions
	}
	return stops, nil
}

func (r Repo) listActions(ctx context.Context, tx *sql.Tx, stopID string) ([]domain.JourneyAction, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,stop_id,type,request_id,COALESCE(description,''),position FROM journey_actions WHERE stop_id=? ORDER BY position ASC`, stopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	actions := []domain.JourneyAction{}
	for rows.Next() {
		var (
			a         domain.JourneyAction
			requestID sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.StopID, &a.Type, &requestID, &a.Description, &a.Position); err != nil {
			return nil, err
		}
		a.RequestID = stringPtr(requestID)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (r Repo) InsertStop(ctx context.Context, tx *sql.Tx, s domain.JourneyStop) error {
	lat, lng, addr := locationArgs(s.Location)
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO journey_stops(id,journey_id,name,latitude,longitude,address,position) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.JourneyID, s.Name, lat, lng, addr, s.Position)
	return err
}

func (r Repo) UpdateStop(ctx context.Context, tx *sql.Tx, s domain.JourneyStop) error {
	lat, lng, addr := locationArgs(s.Location)
	res, err := r.q(tx).ExecContext(ctx, `UPDATE journey_stops SET name=?, latitude=?, longitude=?, address=?, position=? WHERE id=?`,
		s.Name, lat, lng, addr, s.Position, s.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteStop(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM journey_stops WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) InsertAction(ctx context.Context, tx *sql.Tx, a domain.JourneyAction) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO journey_actions(id,stop_id,type,request_id,description,position) VALUES (?,?,?,?,?,?)`,
		a.ID, a.StopID, a.Type, nullableStringPtr(a.RequestID), nullable(a.Description), a.Position)
	return err
}

func (r Repo) UpdateAction(ctx context.Context, tx *sql.Tx, a domain.JourneyAction) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE journey_actions SET type=?, request_id=?, description=?, position=? WHERE id=?`,
		a.Type, nullableStringPtr(a.RequestID), nullable(a.Description), a.Position, a.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteAction(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM journey_actions WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
