package directory

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/careline/chat-service/internal/types"
)

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) Participants(ctx context.Context, conversationId string) ([]types.Participant, error) {
	args := m.Called(ctx, conversationId)
	if participants, ok := args.Get(0).([]types.Participant); ok {
		return participants, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDirectory) Invalidate(conversationId string) {
	m.Called(conversationId)
}
