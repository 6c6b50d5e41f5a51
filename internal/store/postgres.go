package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type PgMessageStore struct {
	conn *sql.DB
}

func NewPgMessageStore(dsn string) (*PgMessageStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgMessageStore{conn: db}, nil
}

func (s *PgMessageStore) Ping() error {
	return s.conn.Ping()
}

func (s *PgMessageStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *PgMessageStore) Append(ctx context.Context, params AppendMessageParams) (Message, error) {
	row := s.conn.QueryRowContext(ctx,
		"INSERT INTO messages (conversation_id, sender_id, sender_name, kind, body, payload_ref, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) "+
			"RETURNING id, conversation_id, sender_id, sender_name, kind, body, payload_ref, read_by, created_at",
		params.ConversationId,
		params.SenderId,
		params.SenderName,
		params.Kind,
		params.Body,
		params.PayloadRef,
		time.Now().UTC(),
	)

	return scanMessage(row)
}

func (s *PgMessageStore) ListMessages(ctx context.Context, conversationId string, after int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, conversation_id, sender_id, sender_name, kind, body, payload_ref, read_by, created_at "+
			"FROM messages WHERE conversation_id = $1 AND id > $2 ORDER BY id ASC LIMIT $3",
		conversationId,
		after,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.Id,
			&msg.ConversationId,
			&msg.SenderId,
			&msg.SenderName,
			&msg.Kind,
			&msg.Body,
			&msg.PayloadRef,
			pq.Array(&msg.ReadBy),
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// AddReader appends subjectId to the message's read_by set. The update is
// idempotent and never records the message's own sender as a reader.
func (s *PgMessageStore) AddReader(ctx context.Context, conversationId string, messageId int64, subjectId string) (Message, error) {
	row := s.conn.QueryRowContext(ctx,
		"UPDATE messages SET read_by = CASE "+
			"WHEN $3 = ANY(read_by) OR sender_id = $3 THEN read_by "+
			"ELSE array_append(read_by, $3) END "+
			"WHERE id = $1 AND conversation_id = $2 "+
			"RETURNING id, conversation_id, sender_id, sender_name, kind, body, payload_ref, read_by, created_at",
		messageId,
		conversationId,
		subjectId,
	)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}

	return msg, err
}

func (s *PgMessageStore) UnreadCount(ctx context.Context, conversationId, subjectId string) (int, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages "+
			"WHERE conversation_id = $1 AND sender_id <> $2 AND NOT ($2 = ANY(read_by))",
		conversationId,
		subjectId,
	)

	var count int
	err := row.Scan(&count)
	return count, err
}

func scanMessage(row *sql.Row) (Message, error) {
	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.ConversationId,
		&msg.SenderId,
		&msg.SenderName,
		&msg.Kind,
		&msg.Body,
		&msg.PayloadRef,
		pq.Array(&msg.ReadBy),
		&msg.CreatedAt,
	)

	return msg, err
}
