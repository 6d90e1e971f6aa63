package server

import (
	"encoding/json"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/npezzotti/go-roomrelay/internal/signaling"
)

// CallHandler dispatches call namespace frames to the signaling relay.
type CallHandler struct {
	log      *slog.Logger
	relay    *signaling.Relay
	validate *validator.Validate
}

func NewCallHandler(logger *slog.Logger, relay *signaling.Relay) *CallHandler {
	return &CallHandler{
		log:      logger.With("component", "call"),
		relay:    relay,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

var _ Handler = (*CallHandler)(nil)

func (h *CallHandler) Connected(*Client) {}

func (h *CallHandler) Disconnected(c *Client) {
	h.relay.Disconnect(c.Id(), c.User())
}

func (h *CallHandler) Handle(c *Client, raw []byte) {
	var msg CallMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.Debug("error parsing message", "conn", c.Id(), "error", err)
		c.queueMessage(ErrInvalidMessage())
		return
	}

	var payload any
	switch {
	case msg.Join != nil:
		payload = msg.Join
	case msg.Signal != nil:
		payload = msg.Signal
	case msg.Leave != nil:
		payload = msg.Leave
	default:
		h.log.Debug("message has no known section", "conn", c.Id(), "id", msg.Id)
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		h.log.Debug("invalid payload", "conn", c.Id(), "id", msg.Id, "error", err)
		return
	}

	switch {
	case msg.Join != nil:
		h.relay.Join(c.Id(), c.User(), msg.Join.RoomId)
	case msg.Signal != nil:
		h.relay.Signal(c.Id(), msg.Signal.RoomId, msg.Signal.To, msg.Signal.Payload)
	case msg.Leave != nil:
		h.relay.Leave(c.Id(), c.User(), msg.Leave.RoomId)
	}
}
