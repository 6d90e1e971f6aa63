package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/npezzotti/go-roomrelay/internal/types"
)

const maxConflictRetries = 5

// BadgerMessageStore keeps messages in an embedded Badger database, keyed
// "msg:{id}" with the JSON encoded message as value.
type BadgerMessageStore struct {
	db  *badger.DB
	log *slog.Logger
}

var _ MessageStore = (*BadgerMessageStore)(nil)

// NewBadgerMessageStore opens the database at path. An empty path keeps the
// data in memory.
func NewBadgerMessageStore(path string, logger *slog.Logger) (*BadgerMessageStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}

	return &BadgerMessageStore{db: db, log: logger.With("component", "badger_store")}, nil
}

func messageKey(id string) []byte {
	return []byte("msg:" + id)
}

func (s *BadgerMessageStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

func (s *BadgerMessageStore) Close() error {
	return s.db.Close()
}

func (s *BadgerMessageStore) CreateMessage(_ context.Context, params CreateMessageParams) (*types.Message, error) {
	msg, err := newMessage(params)
	if err != nil {
		return nil, fmt.Errorf("new message: %w", err)
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg.Id), b)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *BadgerMessageStore) GetMessageById(_ context.Context, id string) (*types.Message, error) {
	var msg *types.Message
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		msg, err = readMessage(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *BadgerMessageStore) SaveMessage(_ context.Context, msg *types.Message) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(messageKey(msg.Id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrMessageNotFound
			}
			return err
		}
		return writeMessage(txn, msg)
	})
}

// UpdateMessage relies on Badger's optimistic transactions: a conflicting
// concurrent commit aborts this one, which is then retried from a fresh read.
func (s *BadgerMessageStore) UpdateMessage(_ context.Context, id string, fn UpdateFunc) (*types.Message, bool, error) {
	for attempt := 1; ; attempt++ {
		var (
			msg     *types.Message
			changed bool
		)

		err := s.db.Update(func(txn *badger.Txn) error {
			var err error
			if msg, err = readMessage(txn, id); err != nil {
				return err
			}
			if changed, err = fn(msg); err != nil || !changed {
				return err
			}
			return writeMessage(txn, msg)
		})

		switch {
		case err == nil:
			return msg, changed, nil
		case errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries:
			s.log.Debug("update conflict, retrying", "message", id, "attempt", attempt)
		default:
			return nil, false, err
		}
	}
}

func readMessage(txn *badger.Txn, id string) (*types.Message, error) {
	item, err := txn.Get(messageKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	var msg types.Message
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &msg)
	})
	if err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

func writeMessage(txn *badger.Txn, msg *types.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return txn.Set(messageKey(msg.Id), b)
}
