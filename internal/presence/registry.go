// Package presence tracks live connections and, per room, which users are
// online and when they were last seen.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/npezzotti/go-roomrelay/internal/fabric"
	"github.com/npezzotti/go-roomrelay/internal/types"
)

// Registry owns all presence state. Every operation is best-effort: unknown
// connections and rooms are ignored and backend failures are logged, never
// returned to the caller. Backend writes ignore the caller's cancellation so
// the counts never drift from the live connections.
type Registry struct {
	log    *slog.Logger
	conns  ConnectionTable
	rooms  RoomTable
	fabric fabric.Fabric
	now    func() time.Time
	// lock makes each operation atomic with respect to the others.
	lock sync.Mutex
}

func NewRegistry(logger *slog.Logger, conns ConnectionTable, rooms RoomTable, f fabric.Fabric) *Registry {
	return &Registry{
		log:    logger.With("component", "presence"),
		conns:  conns,
		rooms:  rooms,
		fabric: f,
		now:    types.Now,
	}
}

func (r *Registry) Connect(connId string, user types.User) {
	if !r.conns.Put(Connection{Id: connId, User: user}) {
		r.log.Debug("connection already registered", "conn", connId)
		return
	}
	r.log.Debug("connection registered", "conn", connId, "user", user.Id)
}

func (r *Registry) Identity(connId string) (types.User, bool) {
	c, ok := r.conns.Get(connId)
	if !ok {
		return types.User{}, false
	}
	return c.User, true
}

func (r *Registry) Join(ctx context.Context, connId, roomId string) {
	if roomId == "" {
		return
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	c, ok := r.conns.Get(connId)
	if !ok {
		r.log.Debug("join from unknown connection", "conn", connId, "room", roomId)
		return
	}

	ctx = context.WithoutCancel(ctx)

	// an uncounted arrival must not leave the membership behind
	added := r.conns.AddRoom(connId, roomId)
	delta := 0
	if added {
		delta = 1
	}
	if err := r.rooms.Arrive(ctx, roomId, c.User, r.now(), delta); err != nil {
		r.log.Error("record arrival", "room", roomId, "user", c.User.Id, "error", err)
		if added {
			r.conns.RemoveRoom(connId, roomId)
		}
		return
	}
	r.fabric.Join(roomId, connId)

	r.broadcastList(ctx, roomId)
}

func (r *Registry) Leave(ctx context.Context, connId, roomId string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	c, ok := r.conns.Get(connId)
	if !ok {
		r.log.Debug("leave from unknown connection", "conn", connId, "room", roomId)
		return
	}
	if !r.conns.RemoveRoom(connId, roomId) {
		r.log.Debug("leave for room not joined", "conn", connId, "room", roomId)
		return
	}

	r.depart(context.WithoutCancel(ctx), c, roomId)
}

// Disconnect leaves every room the connection joined and forgets it. A second
// call for the same connection does nothing.
func (r *Registry) Disconnect(ctx context.Context, connId string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	c, ok := r.conns.Delete(connId)
	if !ok {
		return
	}
	ctx = context.WithoutCancel(ctx)

	for _, roomId := range c.Rooms {
		r.depart(ctx, c, roomId)
	}
	r.fabric.Forget(connId)
	r.log.Debug("connection removed", "conn", connId, "rooms", len(c.Rooms))
}

func (r *Registry) depart(ctx context.Context, c Connection, roomId string) {
	r.fabric.Leave(roomId, c.Id)

	if err := r.rooms.Depart(ctx, roomId, c.User.Id, r.now()); err != nil {
		r.log.Error("record departure", "room", roomId, "user", c.User.Id, "error", err)
		return
	}

	r.broadcastList(ctx, roomId)
}

// List returns the presence list for a room in first-seen order.
func (r *Registry) List(ctx context.Context, roomId string) ([]types.PresenceUser, error) {
	entries, err := r.rooms.List(ctx, roomId)
	if err != nil {
		return nil, err
	}

	list := make([]types.PresenceUser, 0, len(entries))
	for _, e := range entries {
		list = append(list, types.PresenceUser{
			UserId:      e.UserId,
			DisplayName: e.DisplayName,
			LastSeen:    e.LastSeen,
			Online:      e.OnlineCount > 0,
		})
	}
	return list, nil
}

// OnlineUsers returns the ids of users with at least one live connection in
// the room, in first-seen order.
func (r *Registry) OnlineUsers(ctx context.Context, roomId string) ([]string, error) {
	entries, err := r.rooms.List(ctx, roomId)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		if e.OnlineCount > 0 {
			ids = append(ids, e.UserId)
		}
	}
	return ids, nil
}

func (r *Registry) broadcastList(ctx context.Context, roomId string) {
	list, err := r.List(ctx, roomId)
	if err != nil {
		r.log.Error("list presence", "room", roomId, "error", err)
		return
	}

	r.fabric.Broadcast(roomId, fabric.Event{Name: fabric.EventPresenceList, Payload: list})
}
