package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/npezzotti/go-roomrelay/internal/types"
)

const (
	messageColumns = "id, room_id, sender_id, sender_name, content, created_at, statuses, tags, priority, moderated, moderation"

	insertMessageQuery = "INSERT INTO messages (" + messageColumns + ") " +
		"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)"
	selectMessageQuery          = "SELECT " + messageColumns + " FROM messages WHERE id = $1"
	selectMessageForUpdateQuery = selectMessageQuery + " FOR UPDATE"
	updateMessageQuery          = "UPDATE messages SET statuses = $2, tags = $3, priority = $4, moderated = $5, moderation = $6 " +
		"WHERE id = $1"
)

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *PgMessageStore) CreateMessage(ctx context.Context, params CreateMessageParams) (*types.Message, error) {
	msg, err := newMessage(params)
	if err != nil {
		return nil, fmt.Errorf("new message: %w", err)
	}

	statuses, err := json.Marshal(msg.Statuses)
	if err != nil {
		return nil, fmt.Errorf("encode statuses: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, insertMessageQuery,
		msg.Id,
		msg.RoomId,
		msg.SenderId,
		msg.SenderName,
		msg.Content,
		msg.CreatedAt,
		string(statuses),
		pq.Array(msg.Tags),
		msg.Priority,
		msg.Moderated,
		nil,
	)
	if err != nil {
		return nil, err
	}

	return msg, nil
}

func (db *PgMessageStore) GetMessageById(ctx context.Context, id string) (*types.Message, error) {
	return scanMessage(db.conn.QueryRowContext(ctx, selectMessageQuery, id))
}

func (db *PgMessageStore) SaveMessage(ctx context.Context, msg *types.Message) error {
	return saveMessage(ctx, db.conn, msg)
}

func (db *PgMessageStore) UpdateMessage(ctx context.Context, id string, fn UpdateFunc) (*types.Message, bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// the row lock holds off concurrent updaters until commit
	msg, err := scanMessage(tx.QueryRowContext(ctx, selectMessageForUpdateQuery, id))
	if err != nil {
		return nil, false, err
	}

	changed, err := fn(msg)
	if err != nil {
		return nil, false, err
	}

	if changed {
		if err = saveMessage(ctx, tx, msg); err != nil {
			return nil, false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, false, err
	}
	return msg, changed, nil
}

func saveMessage(ctx context.Context, q queryer, msg *types.Message) error {
	statuses, err := json.Marshal(msg.Statuses)
	if err != nil {
		return fmt.Errorf("encode statuses: %w", err)
	}

	// jsonb parameters go over the wire as text; a nil interface stores NULL
	var moderation any
	if msg.Moderation != nil {
		b, err := json.Marshal(msg.Moderation)
		if err != nil {
			return fmt.Errorf("encode moderation: %w", err)
		}
		moderation = string(b)
	}

	res, err := q.ExecContext(ctx, updateMessageQuery,
		msg.Id,
		string(statuses),
		pq.Array(msg.Tags),
		msg.Priority,
		msg.Moderated,
		moderation,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func scanMessage(row rowScanner) (*types.Message, error) {
	var (
		msg        types.Message
		statuses   []byte
		moderation []byte
	)

	err := row.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.SenderId,
		&msg.SenderName,
		&msg.Content,
		&msg.CreatedAt,
		&statuses,
		pq.Array(&msg.Tags),
		&msg.Priority,
		&msg.Moderated,
		&moderation,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(statuses, &msg.Statuses); err != nil {
		return nil, fmt.Errorf("decode statuses: %w", err)
	}

	if len(moderation) > 0 {
		msg.Moderation = &types.Classification{}
		if err := json.Unmarshal(moderation, msg.Moderation); err != nil {
			return nil, fmt.Errorf("decode moderation: %w", err)
		}
	}

	msg.CreatedAt = msg.CreatedAt.UTC()
	return &msg, nil
}
