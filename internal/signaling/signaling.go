// Package signaling brokers peer connection setup for call rooms. Payloads
// are forwarded opaquely; the relay never looks inside them.
package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/npezzotti/go-roomrelay/internal/fabric"
	"github.com/npezzotti/go-roomrelay/internal/types"
	"github.com/samber/lo"
)

// Directory resolves a call connection to the user behind it.
type Directory interface {
	Identity(connId string) (types.User, bool)
}

// Relay tracks call room membership through its own fabric, separate from
// the chat rooms.
type Relay struct {
	log       *slog.Logger
	fabric    fabric.Fabric
	directory Directory
	lock      sync.Mutex
}

func NewRelay(logger *slog.Logger, f fabric.Fabric, directory Directory) *Relay {
	return &Relay{
		log:       logger.With("component", "signaling"),
		fabric:    f,
		directory: directory,
	}
}

// Join announces the connection to the room's other members, then hands
// the joiner the list of those members.
func (r *Relay) Join(connId string, user types.User, roomId string) {
	if roomId == "" {
		return
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	rejoin := lo.Contains(r.fabric.Members(roomId), connId)
	r.fabric.Join(roomId, connId)
	if !rejoin {
		r.fabric.Broadcast(roomId, fabric.Event{
			Name: fabric.EventPeerJoined,
			Payload: types.Peer{
				ConnectionId: connId,
				UserId:       user.Id,
				DisplayName:  user.Username,
			},
		}, connId)
	}

	r.fabric.Send(connId, fabric.Event{Name: fabric.EventPeers, Payload: r.peers(roomId, connId)})
	r.log.Debug("peer joined", "room", roomId, "conn", connId, "rejoin", rejoin)
}

// peers lists the room's members other than self, in join order.
func (r *Relay) peers(roomId, self string) []types.Peer {
	return lo.FilterMap(r.fabric.Members(roomId), func(conn string, _ int) (types.Peer, bool) {
		if conn == self {
			return types.Peer{}, false
		}
		user, ok := r.directory.Identity(conn)
		if !ok {
			return types.Peer{}, false
		}
		return types.Peer{ConnectionId: conn, UserId: user.Id, DisplayName: user.Username}, true
	})
}

// Signal forwards payload to a single connection. Targets that are not
// connected receive nothing and the sender is not told.
func (r *Relay) Signal(fromConnId, roomId, toConnId string, payload json.RawMessage) {
	delivered := r.fabric.Send(toConnId, fabric.Event{
		Name: fabric.EventSignal,
		Payload: types.Signal{
			From:    fromConnId,
			RoomId:  roomId,
			Payload: payload,
		},
	})
	if !delivered {
		r.log.Debug("signal target unreachable", "room", roomId, "from", fromConnId, "to", toConnId)
	}
}

func (r *Relay) Leave(connId string, user types.User, roomId string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.leave(connId, user, roomId)
}

func (r *Relay) leave(connId string, user types.User, roomId string) {
	if !r.fabric.Leave(roomId, connId) {
		return
	}

	r.fabric.Broadcast(roomId, fabric.Event{
		Name:    fabric.EventPeerLeft,
		Payload: types.PeerLeft{ConnectionId: connId, UserId: user.Id},
	})
	r.log.Debug("peer left", "room", roomId, "conn", connId)
}

// Disconnect leaves every call room the connection is in.
func (r *Relay) Disconnect(connId string, user types.User) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, roomId := range r.fabric.Rooms(connId) {
		r.leave(connId, user, roomId)
	}
	r.fabric.Forget(connId)
}
