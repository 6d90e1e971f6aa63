package database

import (
	"context"
	"sync"

	"github.com/npezzotti/go-roomrelay/internal/types"
)

// MemoryMessageStore keeps messages for the life of the process.
type MemoryMessageStore struct {
	lock     sync.Mutex
	messages map[string]*types.Message
}

var _ MessageStore = (*MemoryMessageStore)(nil)

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{messages: make(map[string]*types.Message)}
}

func (s *MemoryMessageStore) Ping(context.Context) error { return nil }

func (s *MemoryMessageStore) Close() error { return nil }

func (s *MemoryMessageStore) CreateMessage(_ context.Context, params CreateMessageParams) (*types.Message, error) {
	msg, err := newMessage(params)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.messages[msg.Id] = cloneMessage(msg)
	return msg, nil
}

func (s *MemoryMessageStore) GetMessageById(_ context.Context, id string) (*types.Message, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return cloneMessage(msg), nil
}

func (s *MemoryMessageStore) SaveMessage(_ context.Context, msg *types.Message) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.messages[msg.Id]; !ok {
		return ErrMessageNotFound
	}
	s.messages[msg.Id] = cloneMessage(msg)
	return nil
}

func (s *MemoryMessageStore) UpdateMessage(_ context.Context, id string, fn UpdateFunc) (*types.Message, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	stored, ok := s.messages[id]
	if !ok {
		return nil, false, ErrMessageNotFound
	}

	msg := cloneMessage(stored)
	changed, err := fn(msg)
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.messages[id] = cloneMessage(msg)
	}
	return msg, changed, nil
}
