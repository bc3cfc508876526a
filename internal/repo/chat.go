package repo

import (
	"context"
	"database/sql"

	"gotodo/internal/domain"
)

func (r Repo) InsertChatMessage(ctx context.Context, tx *sql.Tx, m domain.ChatMessage) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO chat_messages(id,request_id,sender_id,sender_name,text,ts) VALUES (?,?,?,?,?,?)`,
		m.ID, m.RequestID, m.SenderID, m.SenderName, m.Text, m.Timestamp)
	return err
}

// ListChatMessages returns a request's messages in insertion order.
func (r Repo) ListChatMessages(ctx context.Context, requestID string) ([]domain.ChatMessage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,request_id,sender_id,sender_name,text,ts FROM chat_messages WHERE request_id=? ORDER BY seq ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ChatMessage{}
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.RequestID, &m.SenderID, &m.SenderName, &m.Text, &m.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
