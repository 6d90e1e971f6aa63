package testutil

import (
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"testing"

	"github.com/npezzotti/go-roomrelay/internal/fabric"
)

// TestLogger writes debug output only when the test run is verbose.
func TestLogger(t *testing.T) *slog.Logger {
	var w io.Writer = io.Discard
	if testing.Verbose() {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})).
		With("test", t.Name())
}

type Delivery struct {
	Conn  string
	Event fabric.Event
}

// RecordingSink captures every event handed to the transport. Connections
// not registered with Connect are treated as unreachable.
type RecordingSink struct {
	lock       sync.Mutex
	known      map[string]bool
	deliveries []Delivery
}

func NewRecordingSink(conns ...string) *RecordingSink {
	s := &RecordingSink{known: make(map[string]bool)}
	for _, c := range conns {
		s.known[c] = true
	}
	return s
}

func (s *RecordingSink) Connect(conn string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.known[conn] = true
}

func (s *RecordingSink) Deliver(conn string, ev fabric.Event) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.known[conn] {
		return false
	}
	s.deliveries = append(s.deliveries, Delivery{Conn: conn, Event: ev})
	return true
}

func (s *RecordingSink) All() []Delivery {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}

// For returns the events delivered to conn, optionally filtered by name.
func (s *RecordingSink) For(conn string, names ...string) []fabric.Event {
	var out []fabric.Event
	for _, d := range s.All() {
		if d.Conn != conn {
			continue
		}
		if len(names) > 0 && !slices.Contains(names, d.Event.Name) {
			continue
		}
		out = append(out, d.Event)
	}
	return out
}

// Named returns every delivery of the named event, across connections.
func (s *RecordingSink) Named(name string) []Delivery {
	var out []Delivery
	for _, d := range s.All() {
		if d.Event.Name == name {
			out = append(out, d)
		}
	}
	return out
}

func (s *RecordingSink) Reset() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.deliveries = nil
}
