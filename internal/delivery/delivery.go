// Package delivery creates messages and tracks, per recipient, whether each
// one has been sent, delivered or read.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/npezzotti/go-roomrelay/internal/database"
	"github.com/npezzotti/go-roomrelay/internal/fabric"
	"github.com/npezzotti/go-roomrelay/internal/types"
)

const errSendFailed = "failed to send message"

// PresenceReader reports which users currently hold a live connection in a
// room. The presence registry satisfies it.
type PresenceReader interface {
	OnlineUsers(ctx context.Context, roomId string) ([]string, error)
}

type Service struct {
	log      *slog.Logger
	store    database.MessageStore
	presence PresenceReader
	fabric   fabric.Fabric
	rooms    *keyedMutex
}

func NewService(logger *slog.Logger, store database.MessageStore, presence PresenceReader, f fabric.Fabric) *Service {
	return &Service{
		log:      logger.With("component", "delivery"),
		store:    store,
		presence: presence,
		fabric:   f,
		rooms:    newKeyedMutex(),
	}
}

// InitialStatuses marks the sender as having read the message and every
// other online user as sent.
func InitialStatuses(senderId string, online []string) []types.DeliveryStatus {
	now := types.Now()
	statuses := []types.DeliveryStatus{{UserId: senderId, Status: types.StatusRead, UpdatedAt: now}}
	for _, userId := range online {
		if userId == senderId || slices.ContainsFunc(statuses, func(s types.DeliveryStatus) bool { return s.UserId == userId }) {
			continue
		}
		statuses = append(statuses, types.DeliveryStatus{UserId: userId, Status: types.StatusSent, UpdatedAt: now})
	}
	return statuses
}

// Send persists a message and broadcasts it to the room. When the store
// fails only the sending connection hears about it.
func (s *Service) Send(ctx context.Context, connId string, in types.MessageInput) (*types.Message, error) {
	unlock := s.rooms.Lock(in.RoomId)
	defer unlock()

	online, err := s.presence.OnlineUsers(ctx, in.RoomId)
	if err != nil {
		// presence is best-effort; the message still goes out
		s.log.Warn("read online users", "room", in.RoomId, "error", err)
	}

	msg, err := s.store.CreateMessage(ctx, database.CreateMessageParams{
		RoomId:     in.RoomId,
		SenderId:   in.SenderId,
		SenderName: in.SenderName,
		Content:    in.Content,
		Statuses:   InitialStatuses(in.SenderId, online),
	})
	if err != nil {
		s.log.Error("create message", "room", in.RoomId, "sender", in.SenderId, "error", err)
		s.fabric.Send(connId, fabric.Event{
			Name:    fabric.EventError,
			Payload: types.ErrorEvent{Error: errSendFailed},
		})
		return nil, err
	}

	s.fabric.Broadcast(in.RoomId, fabric.Event{Name: fabric.EventMessageNew, Payload: msg})
	s.log.Debug("message sent", "room", in.RoomId, "message", msg.Id, "recipients", len(msg.Statuses)-1)
	return msg, nil
}

func (s *Service) MarkDelivered(ctx context.Context, messageId, userId string) bool {
	return s.mark(ctx, messageId, userId, types.StatusDelivered)
}

func (s *Service) MarkRead(ctx context.Context, messageId, userId string) bool {
	return s.mark(ctx, messageId, userId, types.StatusRead)
}

// mark advances userId's status on the message and broadcasts the change.
// It reports whether a change was recorded.
func (s *Service) mark(ctx context.Context, messageId, userId string, requested types.Status) bool {
	if messageId == "" || userId == "" {
		return false
	}

	msg, changed, err := s.store.UpdateMessage(ctx, messageId, func(m *types.Message) (bool, error) {
		return applyStatus(m, userId, requested), nil
	})
	switch {
	case errors.Is(err, database.ErrMessageNotFound):
		s.log.Debug("status for unknown message", "message", messageId, "user", userId, "status", requested)
		return false
	case err != nil:
		s.log.Error("update message status", "message", messageId, "user", userId, "status", requested, "error", err)
		return false
	case !changed:
		s.log.Debug("status not advanced", "message", messageId, "user", userId, "status", requested)
		return false
	}

	s.fabric.Broadcast(msg.RoomId, fabric.Event{
		Name: fabric.EventMessageStatus,
		Payload: types.StatusChange{
			MessageId: msg.Id,
			UserId:    userId,
			Status:    requested,
		},
	})
	return true
}

func applyStatus(m *types.Message, userId string, requested types.Status) bool {
	current, _ := m.StatusOf(userId)
	next, ok := Advance(current.Status, requested)
	if !ok {
		return false
	}

	updated := types.DeliveryStatus{UserId: userId, Status: next, UpdatedAt: types.Now()}
	i := slices.IndexFunc(m.Statuses, func(s types.DeliveryStatus) bool { return s.UserId == userId })
	if i < 0 {
		m.Statuses = append(m.Statuses, updated)
	} else {
		m.Statuses[i] = updated
	}
	return true
}
