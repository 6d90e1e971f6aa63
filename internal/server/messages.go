package server

import (
	"encoding/json"
	"time"

	"github.com/npezzotti/go-roomrelay/internal/fabric"
	"github.com/npezzotti/go-roomrelay/internal/types"
)

const errInvalidMessage = "invalid message format"

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is an inbound frame on the chat namespace. Exactly one
// section is expected to be set.
type ClientMessage struct {
	BaseMessage
	Join      *Join    `json:"join,omitempty"`
	Leave     *Leave   `json:"leave,omitempty"`
	Typing    *Typing  `json:"typing,omitempty"`
	Send      *Publish `json:"send,omitempty"`
	Submit    *Publish `json:"submit,omitempty"`
	Delivered *Ack     `json:"delivered,omitempty"`
	Read      *Ack     `json:"read,omitempty"`
}

type Join struct {
	RoomId string `json:"room_id" validate:"required"`
}

type Leave struct {
	RoomId string `json:"room_id" validate:"required"`
}

type Typing struct {
	RoomId string `json:"room_id" validate:"required"`
	Typing *bool  `json:"typing" validate:"required"`
}

type Publish struct {
	RoomId  string `json:"room_id" validate:"required"`
	Content string `json:"content" validate:"required"`
}

type Ack struct {
	MessageId string `json:"message_id" validate:"required"`
}

// CallMessage is an inbound frame on the call namespace.
type CallMessage struct {
	BaseMessage
	Join   *Join   `json:"join,omitempty"`
	Signal *Signal `json:"signal,omitempty"`
	Leave  *Leave  `json:"leave,omitempty"`
}

type Signal struct {
	RoomId  string          `json:"room_id" validate:"required"`
	To      string          `json:"to" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// ServerMessage is every outbound frame.
type ServerMessage struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

func NewServerMessage(ev fabric.Event) *ServerMessage {
	return &ServerMessage{
		Event:     ev.Name,
		Timestamp: types.Now(),
		Data:      ev.Payload,
	}
}

func ErrInvalidMessage() *ServerMessage {
	return NewServerMessage(fabric.Event{
		Name:    fabric.EventError,
		Payload: types.ErrorEvent{Error: errInvalidMessage},
	})
}
