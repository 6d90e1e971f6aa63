package database

import (
	"context"
	"errors"

	"github.com/npezzotti/go-roomrelay/internal/types"
)

var ErrMessageNotFound = errors.New("message not found")

// UpdateFunc mutates m in place and reports whether anything changed.
// Returning false skips the write.
type UpdateFunc func(m *types.Message) (bool, error)

// MessageStore is the sole writer of durable message state.
type MessageStore interface {
	Ping(ctx context.Context) error
	CreateMessage(ctx context.Context, params CreateMessageParams) (*types.Message, error)
	GetMessageById(ctx context.Context, id string) (*types.Message, error)
	SaveMessage(ctx context.Context, msg *types.Message) error
	// UpdateMessage applies fn to the stored message atomically: no other
	// writer can interleave between the read and the write.
	UpdateMessage(ctx context.Context, id string, fn UpdateFunc) (*types.Message, bool, error)
	Close() error
}
