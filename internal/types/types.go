package types

import (
	"encoding/json"
	"time"
)

type User struct {
	Id       string `json:"user_id"`
	Username string `json:"username"`
}

// Status is a recipient's position in the delivery lifecycle.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

var statusRank = map[Status]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Rank orders statuses sent < delivered < read. Unknown statuses rank 0.
func (s Status) Rank() int {
	return statusRank[s]
}

func (s Status) Valid() bool {
	return s.Rank() > 0
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

type Action string

const (
	ActionAllow    Action = "allow"
	ActionFlag     Action = "flag"
	ActionEscalate Action = "escalate"
)

type DeliveryStatus struct {
	UserId    string    `json:"user_id"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Classification is the verdict returned by a content classifier.
type Classification struct {
	Tags     []string `json:"tags"`
	Priority Priority `json:"priority,omitempty"`
	Action   Action   `json:"action,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// Escalates reports whether the verdict must be routed to moderators.
func (c Classification) Escalates() bool {
	return c.Action == ActionEscalate || c.Priority == PriorityHigh
}

type Message struct {
	Id         string           `json:"id"`
	RoomId     string           `json:"room_id"`
	SenderId   string           `json:"sender_id"`
	SenderName string           `json:"sender_name"`
	Content    string           `json:"content"`
	CreatedAt  time.Time        `json:"created_at"`
	Statuses   []DeliveryStatus `json:"statuses"`
	Tags       []string         `json:"tags"`
	Priority   Priority         `json:"priority"`
	Moderated  bool             `json:"moderated"`
	Moderation *Classification  `json:"moderation,omitempty"`
}

// StatusOf returns the recorded status for userId, if any.
func (m *Message) StatusOf(userId string) (DeliveryStatus, bool) {
	for _, s := range m.Statuses {
		if s.UserId == userId {
			return s, true
		}
	}
	return DeliveryStatus{}, false
}

// MessageInput is the canonical send request built once at the transport boundary.
type MessageInput struct {
	RoomId     string
	SenderId   string
	SenderName string
	Content    string
}

type PresenceUser struct {
	UserId      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	LastSeen    time.Time `json:"last_seen"`
	Online      bool      `json:"online"`
}

type Typing struct {
	UserId      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Typing      bool   `json:"typing"`
}

type StatusChange struct {
	MessageId string `json:"message_id"`
	UserId    string `json:"user_id"`
	Status    Status `json:"status"`
}

type Peer struct {
	ConnectionId string `json:"connection_id"`
	UserId       string `json:"user_id"`
	DisplayName  string `json:"display_name,omitempty"`
}

type PeerLeft struct {
	ConnectionId string `json:"connection_id"`
	UserId       string `json:"user_id"`
}

// Signal is forwarded verbatim; Payload is never inspected.
type Signal struct {
	From    string          `json:"from"`
	RoomId  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

type Escalation struct {
	MessageId string         `json:"message_id"`
	Result    Classification `json:"result"`
}

type ErrorEvent struct {
	Error string `json:"error"`
}

// Now is the relay's clock: UTC, millisecond precision.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
