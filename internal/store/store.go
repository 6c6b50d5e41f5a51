package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a message id does not exist within the
// given conversation.
var ErrNotFound = errors.New("message not found")

// MessageStore is the durable append-only log of messages, keyed by
// conversation id. Append assigns the id and timestamp; ids sort
// consistently with acceptance order within a conversation. Message
// bodies are never updated or deleted; only ReadBy grows.
type MessageStore interface {
	Ping() error
	Append(ctx context.Context, params AppendMessageParams) (Message, error)
	ListMessages(ctx context.Context, conversationId string, after int64, limit int) ([]Message, error)
	AddReader(ctx context.Context, conversationId string, messageId int64, subjectId string) (Message, error)
	UnreadCount(ctx context.Context, conversationId, subjectId string) (int, error)
}
