package database

import (
	"context"

	"github.com/npezzotti/go-roomrelay/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockMessageStore struct {
	mock.Mock
}

var _ MessageStore = (*MockMessageStore)(nil)

func (m *MockMessageStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockMessageStore) CreateMessage(ctx context.Context, params CreateMessageParams) (*types.Message, error) {
	args := m.Called(ctx, params)
	if msg, ok := args.Get(0).(*types.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessageStore) GetMessageById(ctx context.Context, id string) (*types.Message, error) {
	args := m.Called(ctx, id)
	if msg, ok := args.Get(0).(*types.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessageStore) SaveMessage(ctx context.Context, msg *types.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
func (m *MockMessageStore) UpdateMessage(ctx context.Context, id string, fn UpdateFunc) (*types.Message, bool, error) {
	args := m.Called(ctx, id, fn)
	if msg, ok := args.Get(0).(*types.Message); ok {
		return msg, args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}
func (m *MockMessageStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
