package store

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryMessageStore is an in-process MessageStore with the same
// semantics as the Postgres implementation: ids are assigned in append
// order, read_by has set semantics, and a sender is never recorded as a
// reader of its own message. Used in tests and local development.
type MemoryMessageStore struct {
	mu       sync.Mutex
	nextId   int64
	messages []Message
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{}
}

func (s *MemoryMessageStore) Ping() error {
	return nil
}

func (s *MemoryMessageStore) Append(_ context.Context, params AppendMessageParams) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextId++
	msg := Message{
		Id:             s.nextId,
		ConversationId: params.ConversationId,
		SenderId:       params.SenderId,
		SenderName:     params.SenderName,
		Kind:           params.Kind,
		Body:           params.Body,
		PayloadRef:     params.PayloadRef,
		CreatedAt:      time.Now().UTC(),
		ReadBy:         []string{},
	}
	s.messages = append(s.messages, msg)

	return msg, nil
}

func (s *MemoryMessageStore) ListMessages(_ context.Context, conversationId string, after int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []Message
	for _, msg := range s.messages {
		if msg.ConversationId != conversationId || msg.Id <= after {
			continue
		}
		messages = append(messages, msg)
		if len(messages) == limit {
			break
		}
	}

	return messages, nil
}

func (s *MemoryMessageStore) AddReader(_ context.Context, conversationId string, messageId int64, subjectId string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, msg := range s.messages {
		if msg.Id != messageId || msg.ConversationId != conversationId {
			continue
		}

		if msg.SenderId != subjectId && !slices.Contains(msg.ReadBy, subjectId) {
			s.messages[i].ReadBy = append(s.messages[i].ReadBy, subjectId)
		}
		return s.messages[i], nil
	}

	return Message{}, ErrNotFound
}

func (s *MemoryMessageStore) UnreadCount(_ context.Context, conversationId, subjectId string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	for _, msg := range s.messages {
		if msg.ConversationId == conversationId && msg.SenderId != subjectId && !slices.Contains(msg.ReadBy, subjectId) {
			count++
		}
	}

	return count, nil
}
