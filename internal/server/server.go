package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomrelay/internal/fabric"
	"github.com/npezzotti/go-roomrelay/internal/stats"
	"github.com/npezzotti/go-roomrelay/internal/types"
)

// Hub owns the live clients of one namespace. It is the transport behind
// that namespace's fabric and the identity directory for its connections.
type Hub struct {
	log            *slog.Logger
	name           string
	stats          stats.StatsProvider
	metric         string
	clients        map[string]*Client
	clientsLock    sync.RWMutex
	registerChan   chan registerReq
	deRegisterChan chan *Client
	stop           chan stopReq
	done           chan struct{}
}

type registerReq struct {
	client *Client
	done   chan struct{}
}

type stopReq struct {
	done chan struct{}
}

var _ fabric.Sink = (*Hub)(nil)

// NewHub creates a hub whose live client count is reported under metric.
func NewHub(logger *slog.Logger, name string, su stats.StatsProvider, metric string) *Hub {
	return &Hub{
		log:            logger.With("component", "hub", "namespace", name),
		name:           name,
		stats:          su,
		metric:         metric,
		clients:        make(map[string]*Client),
		registerChan:   make(chan registerReq),
		deRegisterChan: make(chan *Client),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case req := <-h.registerChan:
			h.log.Debug("adding connection", "conn", req.client.id, "user", req.client.user.Username)
			h.addClient(req.client)
			h.stats.Incr(h.metric)
			close(req.done)
		case c := <-h.deRegisterChan:
			if h.removeClient(c) {
				h.log.Debug("removing connection", "conn", c.id, "user", c.user.Username)
				h.stats.Decr(h.metric)
			}
		case req := <-h.stop:
			h.log.Info("stopping clients", "clients", h.Len())
			h.clientsLock.RLock()
			for _, c := range h.clients {
				c.stopClient()
			}
			h.clientsLock.RUnlock()

			close(h.done)
			close(req.done)
			return
		}
	}
}

// Attach registers a new connection and starts its pumps. It returns nil
// when the hub has already stopped.
func (h *Hub) Attach(id string, conn *websocket.Conn, user types.User, handler Handler) *Client {
	c := NewClient(id, user, conn, h, handler, h.log)
	if !h.register(c) {
		conn.Close()
		return nil
	}

	handler.Connected(c)
	go c.Write()
	go c.Read()
	return c
}

func (h *Hub) register(c *Client) bool {
	req := registerReq{client: c, done: make(chan struct{})}
	select {
	case h.registerChan <- req:
	case <-h.done:
		return false
	}

	<-req.done
	return true
}

func (h *Hub) deregister(c *Client) {
	select {
	case h.deRegisterChan <- c:
	case <-h.done:
		h.removeClient(c)
	}
}

func (h *Hub) addClient(c *Client) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) removeClient(c *Client) bool {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	if cur, ok := h.clients[c.id]; !ok || cur != c {
		return false
	}
	delete(h.clients, c.id)
	return true
}

func (h *Hub) getClient(id string) (*Client, bool) {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

func (h *Hub) Len() int {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()
	return len(h.clients)
}

// Deliver queues ev for one connection. It reports false when the
// connection is not live.
func (h *Hub) Deliver(conn string, ev fabric.Event) bool {
	c, ok := h.getClient(conn)
	if !ok {
		return false
	}
	return c.queueMessage(NewServerMessage(ev))
}

// Identity returns the user behind a live connection.
func (h *Hub) Identity(conn string) (types.User, bool) {
	c, ok := h.getClient(conn)
	if !ok {
		return types.User{}, false
	}
	return c.user, true
}

// Shutdown stops every client and the hub loop. It returns ctx's error if
// the loop does not acknowledge in time.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Info("received shutdown signal")
	req := stopReq{done: make(chan struct{})}

	select {
	case h.stop <- req:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
