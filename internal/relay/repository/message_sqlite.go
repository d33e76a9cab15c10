package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat_relay_service/internal/relay/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id        TEXT PRIMARY KEY,
	sender    TEXT NOT NULL,
	receiver  TEXT NOT NULL,
	text      TEXT NOT NULL,
	ts        INTEGER NOT NULL,
	status    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, receiver, ts);
CREATE INDEX IF NOT EXISTS idx_messages_receiver_status ON messages(receiver, status);
`

type sqliteMessageRepository struct {
	db *sql.DB
}

// NewSQLiteMessageRepository single node MessageRepository on a sqlite file; creates the schema
func NewSQLiteMessageRepository(db *sql.DB) (MessageRepository, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &sqliteMessageRepository{db: db}, nil
}

func (r *sqliteMessageRepository) Create(ctx context.Context, sender, receiver, text string, ts time.Time) (*domain.Message, error) {
	msg := newMessage(sender, receiver, text, ts)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender, receiver, text, ts, status) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Sender, msg.Receiver, msg.Text, msg.Timestamp.UnixNano(), string(msg.Status))
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *sqliteMessageRepository) UpdateStatus(ctx context.Context, id string, status domain.MessageStatus) (bool, error) {
	prior := domain.PriorStatuses(status)
	if len(prior) == 0 {
		return r.exists(ctx, id)
	}

	args := []interface{}{string(status), id}
	for _, s := range prior {
		args = append(args, string(s))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(prior)), ",")
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET status = ? WHERE id = ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	return r.exists(ctx, id)
}

// exists returns (false, nil) when the row is there, ErrMessageNotFound otherwise
func (r *sqliteMessageRepository) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrMessageNotFound
	}
	return false, err
}

func (r *sqliteMessageRepository) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	msgs, err := r.query(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, domain.ErrMessageNotFound
	}
	return &msgs[0], nil
}

func (r *sqliteMessageRepository) FindConversationMessages(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	return r.query(ctx, `WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?) ORDER BY ts ASC`,
		userA, userB, userB, userA)
}

func (r *sqliteMessageRepository) FindAllForUser(ctx context.Context, identity string) ([]domain.Message, error) {
	return r.query(ctx, `WHERE sender = ? OR receiver = ? ORDER BY ts DESC`, identity, identity)
}

func (r *sqliteMessageRepository) CountUnread(ctx context.Context, receiver, sender string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE sender = ? AND receiver = ? AND status <> ?`,
		sender, receiver, string(domain.StatusRead)).Scan(&n)
	return n, err
}

func (r *sqliteMessageRepository) FindUndelivered(ctx context.Context, receiver string) ([]domain.Message, error) {
	return r.query(ctx, `WHERE receiver = ? AND status = ? ORDER BY ts ASC`, receiver, string(domain.StatusSent))
}

func (r *sqliteMessageRepository) query(ctx context.Context, where string, args ...interface{}) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, sender, receiver, text, ts, status FROM messages `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]domain.Message, 0)
	for rows.Next() {
		var (
			m      domain.Message
			ts     int64
			status string
		)
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Text, &ts, &status); err != nil {
			return nil, err
		}
		m.Timestamp = time.Unix(0, ts).UTC()
		m.Status = domain.MessageStatus(status)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
