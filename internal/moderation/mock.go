package moderation

import (
	"context"

	"github.com/npezzotti/go-roomrelay/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockClassifier struct {
	mock.Mock
}

var _ Classifier = (*MockClassifier)(nil)

func (m *MockClassifier) Classify(ctx context.Context, text string) (types.Classification, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(types.Classification), args.Error(1)
}
