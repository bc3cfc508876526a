package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gotodo/internal/domain"
)

const requestColumns = `id,requester_id,provider_id,type,title,COALESCE(description,''),COALESCE(summary,''),status,suggested_price,agreed_price,platform_fee,latitude,longitude,address,COALESCE(status_reason,''),created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (domain.Request, error) {
	var (
		req         domain.Request
		providerID  sql.NullString
		agreed, fee sql.NullFloat64
		lat, lng    sql.NullFloat64
		addr        sql.NullString
	)
	err := row.Scan(&req.ID, &req.RequesterID, &providerID, &req.Type, &req.Title, &req.Description, &req.Summary,
		&req.Status, &req.SuggestedPrice, &agreed, &fee, &lat, &lng, &addr, &req.StatusReason, &req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	if err != nil {
		return req, err
	}
	req.ProviderID = stringPtr(providerID)
	req.AgreedPrice = floatPtr(agreed)
	req.PlatformFee = floatPtr(fee)
	req.Location = scanLocation(lat, lng, addr)
	req.Bids = []domain.Bid{}
	return req, nil
}

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	lat, lng, addr := locationArgs(req.Location)
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO requests(id,requester_id,provider_id,type,title,description,summary,status,suggested_price,agreed_price,platform_fee,latitude,longitude,address,status_reason,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		req.ID, req.RequesterID, nullableStringPtr(req.ProviderID), req.Type, req.Title, nullable(req.Description), nullable(req.Summary),
		string(req.Status), req.SuggestedPrice, nullableFloatPtr(req.AgreedPrice), nullableFloatPtr(req.PlatformFee),
		lat, lng, addr, nullable(req.StatusReason), req.CreatedAt, req.UpdatedAt)
	return err
}

// UpdateRequest rewrites the mutable columns of a request.
func (r Repo) UpdateRequest(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE requests SET provider_id=?, status=?, agreed_price=?, platform_fee=?, status_reason=?, updated_at=? WHERE id=?`,
		nullableStringPtr(req.ProviderID), string(req.Status), nullableFloatPtr(req.AgreedPrice), nullableFloatPtr(req.PlatformFee),
		nullable(req.StatusReason), req.UpdatedAt, req.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// GetRequest loads a request with its bids.
func (r Repo) GetRequest(ctx context.Context, tx *sql.Tx, id string) (domain.Request, error) {
	req, err := scanRequest(r.q(tx).QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id))
	if err != nil {
		return req, err
	}
	bids, err := r.ListBids(ctx, tx, id)
	if err != nil {
		return req, err
	}
	req.Bids = bids
	return req, nil
}

type RequestFilters struct {
	RequesterID string
	ProviderID  string
	Status      []domain.RequestStatus
	Type        string
	Limit       int
}

// ListRequests returns requests newest first. Bids are not loaded.
func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.Request, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.RequesterID != "" {
		clauses = append(clauses, "requester_id=?")
		args = append(args, f.RequesterID)
	}
	if f.ProviderID != "" {
		clauses = append(clauses, "provider_id=?")
		args = append(args, f.ProviderID)
	}
	if len(f.Status) > 0 {
		marks := make([]string, len(f.Status))
		for i, s := range f.Status {
			marks[i] = "?"
			args = append(args, string(s))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(marks, ",")))
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	query := fmt.Sprintf(`SELECT %s FROM requests WHERE %s ORDER BY created_at DESC, id DESC`, requestColumns, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

func (r Repo) InsertBid(ctx context.Context, tx *sql.Tx, b domain.Bid) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO bids(id,request_id,provider_id,provider_name,amount,message,status,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		b.ID, b.RequestID, b.ProviderID, b.ProviderName, b.Amount, nullable(b.Message), string(b.Status), b.Timestamp)
	return err
}

func (r Repo) UpdateBidStatus(ctx context.Context, tx *sql.Tx, id string, status domain.BidStatus) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE bids SET status=? WHERE id=?`, string(status), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// ListBids returns the bids of a request in submission order.
func (r Repo) ListBids(ctx context.Context, tx *sql.Tx, requestID string) ([]domain.Bid, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,request_id,provider_id,provider_name,amount,COALESCE(message,''),status,created_at FROM bids WHERE request_id=? ORDER BY created_at ASC, rowid ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	bids := []domain.Bid{}
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.ID, &b.RequestID, &b.ProviderID, &b.ProviderName, &b.Amount, &b.Message, &b.Status, &b.Timestamp); err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}
