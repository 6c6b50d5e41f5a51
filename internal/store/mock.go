package store

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMessageStore) Append(ctx context.Context, params AppendMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockMessageStore) ListMessages(ctx context.Context, conversationId string, after int64, limit int) ([]Message, error) {
	args := m.Called(ctx, conversationId, after, limit)
	if messages, ok := args.Get(0).([]Message); ok {
		return messages, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageStore) AddReader(ctx context.Context, conversationId string, messageId int64, subjectId string) (Message, error) {
	args := m.Called(ctx, conversationId, messageId, subjectId)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockMessageStore) UnreadCount(ctx context.Context, conversationId, subjectId string) (int, error) {
	args := m.Called(ctx, conversationId, subjectId)
	return args.Int(0), args.Error(1)
}
