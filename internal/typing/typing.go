// Package typing relays typing indicators to the other members of a room.
package typing

import (
	"github.com/npezzotti/go-roomrelay/internal/fabric"
	"github.com/npezzotti/go-roomrelay/internal/types"
)

// Relay keeps no state; it only forwards.
type Relay struct {
	fabric fabric.Fabric
}

func NewRelay(f fabric.Fabric) *Relay {
	return &Relay{fabric: f}
}

// Typing tells every other connection in roomId whether user is typing.
func (r *Relay) Typing(connId string, user types.User, roomId string, isTyping bool) {
	if roomId == "" {
		return
	}

	r.fabric.Broadcast(roomId, fabric.Event{
		Name: fabric.EventTyping,
		Payload: types.Typing{
			UserId:      user.Id,
			DisplayName: user.Username,
			Typing:      isTyping,
		},
	}, connId)
}
