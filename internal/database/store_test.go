package database

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/npezzotti/go-roomrelay/internal/testutil"
	"github.com/npezzotti/go-roomrelay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storesUnderTest(t *testing.T) map[string]MessageStore {
	badgerStore, err := NewBadgerMessageStore("", testutil.TestLogger(t))
	require.NoError(t, err, "expected in-memory badger to open")
	t.Cleanup(func() { badgerStore.Close() })

	return map[string]MessageStore{
		"memory": NewMemoryMessageStore(),
		"badger": badgerStore,
	}
}

func testParams() CreateMessageParams {
	return CreateMessageParams{
		RoomId:     "room1",
		SenderId:   "u1",
		SenderName: "alice",
		Content:    "hi",
		Statuses: []types.DeliveryStatus{
			{UserId: "u1", Status: types.StatusRead, UpdatedAt: types.Now()},
			{UserId: "u2", Status: types.StatusSent, UpdatedAt: types.Now()},
		},
	}
}

func TestMessageStoreCreateAndGet(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := store.CreateMessage(ctx, testParams())
			require.NoError(t, err)
			assert.NotEmpty(t, created.Id, "expected an id to be assigned")
			assert.Equal(t, types.PriorityNormal, created.Priority)
			assert.False(t, created.CreatedAt.IsZero())
			assert.NotNil(t, created.Tags)

			got, err := store.GetMessageById(ctx, created.Id)
			require.NoError(t, err)
			assert.Equal(t, created.Content, got.Content)
			assert.Equal(t, created.RoomId, got.RoomId)
			assert.Len(t, got.Statuses, 2)

			_, err = store.GetMessageById(ctx, "missing")
			assert.ErrorIs(t, err, ErrMessageNotFound)
		})
	}
}

func TestMessageStoreSave(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			msg, err := store.CreateMessage(ctx, testParams())
			require.NoError(t, err)

			msg.Tags = []string{"billing"}
			msg.Priority = types.PriorityHigh
			msg.Moderated = true
			msg.Moderation = &types.Classification{Tags: []string{"billing"}, Action: types.ActionFlag}
			require.NoError(t, store.SaveMessage(ctx, msg))

			got, err := store.GetMessageById(ctx, msg.Id)
			require.NoError(t, err)
			assert.Equal(t, []string{"billing"}, got.Tags)
			assert.Equal(t, types.PriorityHigh, got.Priority)
			assert.True(t, got.Moderated)
			require.NotNil(t, got.Moderation)
			assert.Equal(t, types.ActionFlag, got.Moderation.Action)

			err = store.SaveMessage(ctx, &types.Message{Id: "missing"})
			assert.ErrorIs(t, err, ErrMessageNotFound)
		})
	}
}

func TestMessageStoreUpdate(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			msg, err := store.CreateMessage(ctx, testParams())
			require.NoError(t, err)

			updated, changed, err := store.UpdateMessage(ctx, msg.Id, func(m *types.Message) (bool, error) {
				m.Statuses[1].Status = types.StatusDelivered
				return true, nil
			})
			require.NoError(t, err)
			assert.True(t, changed)
			assert.Equal(t, types.StatusDelivered, updated.Statuses[1].Status)

			_, changed, err = store.UpdateMessage(ctx, msg.Id, func(m *types.Message) (bool, error) {
				m.Content = "discarded"
				return false, nil
			})
			require.NoError(t, err)
			assert.False(t, changed)

			got, err := store.GetMessageById(ctx, msg.Id)
			require.NoError(t, err)
			assert.Equal(t, "hi", got.Content, "expected unchanged update not to be written")
			assert.Equal(t, types.StatusDelivered, got.Statuses[1].Status)

			_, _, err = store.UpdateMessage(ctx, "missing", func(*types.Message) (bool, error) { return true, nil })
			assert.ErrorIs(t, err, ErrMessageNotFound)
		})
	}
}

func TestMessageStoreConcurrentUpdates(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			msg, err := store.CreateMessage(ctx, CreateMessageParams{RoomId: "room1", SenderId: "u0", Content: "x"})
			require.NoError(t, err)

			const writers = 4
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, _, err := store.UpdateMessage(ctx, msg.Id, func(m *types.Message) (bool, error) {
						m.Tags = append(m.Tags, fmt.Sprintf("tag-%d", i))
						return true, nil
					})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			got, err := store.GetMessageById(ctx, msg.Id)
			require.NoError(t, err)
			assert.Len(t, got.Tags, writers, "expected no lost updates")
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMessageStore()
	msg, err := store.CreateMessage(ctx, testParams())
	require.NoError(t, err)

	msg.Statuses[0].Status = types.StatusSent

	got, err := store.GetMessageById(ctx, msg.Id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRead, got.Statuses[0].Status, "expected stored message to be isolated from callers")
}
