package identity

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/careline/chat-service/internal/types"
)

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, credential string) (types.Principal, error) {
	args := m.Called(ctx, credential)
	return args.Get(0).(types.Principal), args.Error(1)
}
