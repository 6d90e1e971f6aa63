package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/npezzotti/go-roomrelay/internal/delivery"
	"github.com/npezzotti/go-roomrelay/internal/moderation"
	"github.com/npezzotti/go-roomrelay/internal/presence"
	"github.com/npezzotti/go-roomrelay/internal/stats"
	"github.com/npezzotti/go-roomrelay/internal/types"
	"github.com/npezzotti/go-roomrelay/internal/typing"
)

// ChatHandler dispatches chat namespace frames to the relay components.
// Store and classifier work runs under ctx, never under the connection.
type ChatHandler struct {
	ctx        context.Context
	log        *slog.Logger
	presence   *presence.Registry
	typing     *typing.Relay
	delivery   *delivery.Service
	moderation *moderation.Bridge
	stats      stats.StatsProvider
	validate   *validator.Validate
}

func NewChatHandler(ctx context.Context, logger *slog.Logger, p *presence.Registry, t *typing.Relay,
	d *delivery.Service, m *moderation.Bridge, su stats.StatsProvider) *ChatHandler {
	return &ChatHandler{
		ctx:        ctx,
		log:        logger.With("component", "chat"),
		presence:   p,
		typing:     t,
		delivery:   d,
		moderation: m,
		stats:      su,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

var _ Handler = (*ChatHandler)(nil)

func (h *ChatHandler) Connected(c *Client) {
	h.presence.Connect(c.Id(), c.User())
}

func (h *ChatHandler) Disconnected(c *Client) {
	h.presence.Disconnect(h.ctx, c.Id())
}

func (h *ChatHandler) Handle(c *Client, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.Debug("error parsing message", "conn", c.Id(), "error", err)
		c.queueMessage(ErrInvalidMessage())
		return
	}

	switch {
	case msg.Join != nil:
		if h.valid(c, msg.Id, msg.Join) {
			h.presence.Join(h.ctx, c.Id(), msg.Join.RoomId)
		}
	case msg.Leave != nil:
		if h.valid(c, msg.Id, msg.Leave) {
			h.presence.Leave(h.ctx, c.Id(), msg.Leave.RoomId)
		}
	case msg.Typing != nil:
		if h.valid(c, msg.Id, msg.Typing) {
			h.typing.Typing(c.Id(), c.User(), msg.Typing.RoomId, *msg.Typing.Typing)
		}
	case msg.Send != nil:
		if h.valid(c, msg.Id, msg.Send) {
			if _, err := h.delivery.Send(h.ctx, c.Id(), messageInput(c, msg.Send)); err == nil {
				h.stats.Incr(stats.MessagesSent)
			}
		}
	case msg.Submit != nil:
		if h.valid(c, msg.Id, msg.Submit) {
			if _, err := h.moderation.Submit(h.ctx, c.Id(), messageInput(c, msg.Submit)); err == nil {
				h.stats.Incr(stats.MessagesSent)
			}
		}
	case msg.Delivered != nil:
		if h.valid(c, msg.Id, msg.Delivered) && h.delivery.MarkDelivered(h.ctx, msg.Delivered.MessageId, c.User().Id) {
			h.stats.Incr(stats.StatusUpdates)
		}
	case msg.Read != nil:
		if h.valid(c, msg.Id, msg.Read) && h.delivery.MarkRead(h.ctx, msg.Read.MessageId, c.User().Id) {
			h.stats.Incr(stats.StatusUpdates)
		}
	default:
		h.log.Debug("message has no known section", "conn", c.Id(), "id", msg.Id)
	}
}

// valid reports whether payload passes validation. Invalid payloads are
// dropped without a reply.
func (h *ChatHandler) valid(c *Client, id int, payload any) bool {
	if err := h.validate.Struct(payload); err != nil {
		h.log.Debug("invalid payload", "conn", c.Id(), "id", id, "error", err)
		return false
	}
	return true
}

func messageInput(c *Client, p *Publish) types.MessageInput {
	return types.MessageInput{
		RoomId:     p.RoomId,
		SenderId:   c.User().Id,
		SenderName: c.User().Username,
		Content:    p.Content,
	}
}
