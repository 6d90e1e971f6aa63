// Package fabric defines the room-scoped multicast primitive the relay
// components fan out through, and an in-process implementation of it.
package fabric

import (
	"slices"
	"sync"
)

const (
	EventPresenceList  = "presence:list"
	EventTyping        = "typing"
	EventMessageNew    = "message:new"
	EventMessageStatus = "message:status"
	EventError         = "error"
	EventPeerJoined    = "peer-joined"
	EventPeers         = "peers"
	EventSignal        = "signal"
	EventPeerLeft      = "peer-left"
	EventEscalation    = "escalation"
)

type Event struct {
	Name    string
	Payload any
}

type Fabric interface {
	Join(room, conn string)
	// Leave reports whether conn was a member of room.
	Leave(room, conn string) bool
	Members(room string) []string
	Rooms(conn string) []string
	Broadcast(room string, ev Event, except ...string)
	// Send delivers ev to a single connection. It reports false when the
	// connection is unknown to the sink.
	Send(conn string, ev Event) bool
	// Forget drops every membership held by conn.
	Forget(conn string)
}

// Sink hands an event to the transport for one connection.
type Sink interface {
	Deliver(conn string, ev Event) bool
}

type SinkFunc func(conn string, ev Event) bool

func (f SinkFunc) Deliver(conn string, ev Event) bool {
	return f(conn, ev)
}

// Local keeps room membership in process memory. Members and rooms are
// returned in join order.
type Local struct {
	sink  Sink
	lock  sync.RWMutex
	rooms map[string][]string
	conns map[string][]string
}

var _ Fabric = (*Local)(nil)

func NewLocal(sink Sink) *Local {
	return &Local{
		sink:  sink,
		rooms: make(map[string][]string),
		conns: make(map[string][]string),
	}
}

func (l *Local) Join(room, conn string) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if slices.Contains(l.rooms[room], conn) {
		return
	}
	l.rooms[room] = append(l.rooms[room], conn)
	l.conns[conn] = append(l.conns[conn], room)
}

func (l *Local) Leave(room, conn string) bool {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.leave(room, conn)
}

func (l *Local) leave(room, conn string) bool {
	members := l.rooms[room]
	i := slices.Index(members, conn)
	if i < 0 {
		return false
	}

	members = slices.Delete(members, i, i+1)
	if len(members) == 0 {
		delete(l.rooms, room)
	} else {
		l.rooms[room] = members
	}

	rooms := slices.DeleteFunc(l.conns[conn], func(r string) bool { return r == room })
	if len(rooms) == 0 {
		delete(l.conns, conn)
	} else {
		l.conns[conn] = rooms
	}
	return true
}

func (l *Local) Members(room string) []string {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return slices.Clone(l.rooms[room])
}

func (l *Local) Rooms(conn string) []string {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return slices.Clone(l.conns[conn])
}

func (l *Local) Broadcast(room string, ev Event, except ...string) {
	for _, conn := range l.Members(room) {
		if slices.Contains(except, conn) {
			continue
		}
		l.sink.Deliver(conn, ev)
	}
}

func (l *Local) Send(conn string, ev Event) bool {
	return l.sink.Deliver(conn, ev)
}

func (l *Local) Forget(conn string) {
	l.lock.Lock()
	defer l.lock.Unlock()

	for _, room := range slices.Clone(l.conns[conn]) {
		l.leave(room, conn)
	}
}
