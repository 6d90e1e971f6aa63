package presence

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-roomrelay/internal/types"
)

// Connection is one live session. Rooms are kept in join order.
type Connection struct {
	Id    string
	User  types.User
	Rooms []string
}

// Entry is the per-(room, user) presence record. Entries are never removed;
// a user with no live connections stays listed with OnlineCount == 0.
type Entry struct {
	UserId      string
	DisplayName string
	LastSeen    time.Time
	OnlineCount int
}

type ConnectionTable interface {
	// Put registers c. It reports false if the id is already present.
	Put(c Connection) bool
	Get(id string) (Connection, bool)
	Delete(id string) (Connection, bool)
	// AddRoom reports false when the connection is unknown or already in room.
	AddRoom(id, room string) bool
	// RemoveRoom reports false when the connection is unknown or not in room.
	RemoveRoom(id, room string) bool
}

type RoomTable interface {
	// Arrive creates the entry on first sight, refreshes its display name and
	// last-seen time and adds delta to its online count.
	Arrive(ctx context.Context, room string, user types.User, at time.Time, delta int) error
	// Depart decrements the online count, floored at zero. Unknown entries are ignored.
	Depart(ctx context.Context, room, userId string, at time.Time) error
	// List returns the room's entries in first-seen order.
	List(ctx context.Context, room string) ([]Entry, error)
}

type MemoryConnectionTable struct {
	lock  sync.RWMutex
	conns map[string]*Connection
}

var _ ConnectionTable = (*MemoryConnectionTable)(nil)

func NewMemoryConnectionTable() *MemoryConnectionTable {
	return &MemoryConnectionTable{conns: make(map[string]*Connection)}
}

func (t *MemoryConnectionTable) Put(c Connection) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	if _, ok := t.conns[c.Id]; ok {
		return false
	}
	c.Rooms = slices.Clone(c.Rooms)
	t.conns[c.Id] = &c
	return true
}

func (t *MemoryConnectionTable) Get(id string) (Connection, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	c, ok := t.conns[id]
	if !ok {
		return Connection{}, false
	}
	return copyConnection(c), true
}

func (t *MemoryConnectionTable) Delete(id string) (Connection, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	c, ok := t.conns[id]
	if !ok {
		return Connection{}, false
	}
	delete(t.conns, id)
	return copyConnection(c), true
}

func (t *MemoryConnectionTable) AddRoom(id, room string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	c, ok := t.conns[id]
	if !ok || slices.Contains(c.Rooms, room) {
		return false
	}
	c.Rooms = append(c.Rooms, room)
	return true
}

func (t *MemoryConnectionTable) RemoveRoom(id, room string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	c, ok := t.conns[id]
	if !ok {
		return false
	}
	i := slices.Index(c.Rooms, room)
	if i < 0 {
		return false
	}
	c.Rooms = slices.Delete(c.Rooms, i, i+1)
	return true
}

func copyConnection(c *Connection) Connection {
	out := *c
	out.Rooms = slices.Clone(c.Rooms)
	return out
}

type roomEntries struct {
	order   []string
	entries map[string]*Entry
}

type MemoryRoomTable struct {
	lock  sync.RWMutex
	rooms map[string]*roomEntries
}

var _ RoomTable = (*MemoryRoomTable)(nil)

func NewMemoryRoomTable() *MemoryRoomTable {
	return &MemoryRoomTable{rooms: make(map[string]*roomEntries)}
}

func (t *MemoryRoomTable) Arrive(_ context.Context, room string, user types.User, at time.Time, delta int) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	r, ok := t.rooms[room]
	if !ok {
		r = &roomEntries{entries: make(map[string]*Entry)}
		t.rooms[room] = r
	}

	e, ok := r.entries[user.Id]
	if !ok {
		e = &Entry{UserId: user.Id}
		r.entries[user.Id] = e
		r.order = append(r.order, user.Id)
	}

	e.DisplayName = user.Username
	e.LastSeen = at
	e.OnlineCount = max(0, e.OnlineCount+delta)
	return nil
}

func (t *MemoryRoomTable) Depart(_ context.Context, room, userId string, at time.Time) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	r, ok := t.rooms[room]
	if !ok {
		return nil
	}
	e, ok := r.entries[userId]
	if !ok {
		return nil
	}

	e.OnlineCount = max(0, e.OnlineCount-1)
	e.LastSeen = at
	return nil
}

func (t *MemoryRoomTable) List(_ context.Context, room string) ([]Entry, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	r, ok := t.rooms[room]
	if !ok {
		return nil, nil
	}

	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.entries[id])
	}
	return out, nil
}
