package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomrelay/internal/database"
	"github.com/npezzotti/go-roomrelay/internal/delivery"
	"github.com/npezzotti/go-roomrelay/internal/fabric"
	"github.com/npezzotti/go-roomrelay/internal/moderation"
	"github.com/npezzotti/go-roomrelay/internal/presence"
	"github.com/npezzotti/go-roomrelay/internal/signaling"
	"github.com/npezzotti/go-roomrelay/internal/stats"
	"github.com/npezzotti/go-roomrelay/internal/testutil"
	"github.com/npezzotti/go-roomrelay/internal/types"
	"github.com/npezzotti/go-roomrelay/internal/typing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testRelay struct {
	srv   *httptest.Server
	store *database.MemoryMessageStore
}

// newTestRelay wires both namespaces over in-memory backends.
func newTestRelay(t *testing.T) *testRelay {
	ctx := context.Background()
	logger := testutil.TestLogger(t)
	su := &stats.MockStatsUpdater{}
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	chatHub := NewHub(logger, "chat", su, stats.ChatConnections)
	go chatHub.Run()
	chatFabric := fabric.NewLocal(chatHub)
	registry := presence.NewRegistry(logger, presence.NewMemoryConnectionTable(), presence.NewMemoryRoomTable(), chatFabric)
	store := database.NewMemoryMessageStore()
	classifier, err := moderation.NewKeywordClassifier(moderation.DefaultKeywords)
	require.NoError(t, err)
	bridge := moderation.NewBridge(logger, moderation.Config{}, store, classifier, chatFabric, su)
	require.NoError(t, bridge.Start(ctx))
	chat := NewChatHandler(ctx, logger, registry, typing.NewRelay(chatFabric),
		delivery.NewService(logger, store, registry, chatFabric), bridge, su)

	callHub := NewHub(logger, "call", su, stats.CallConnections)
	go callHub.Run()
	call := NewCallHandler(logger, signaling.NewRelay(logger, fabric.NewLocal(callHub), callHub))

	var seq atomic.Int64
	upgrader := websocket.Upgrader{}
	attach := func(h *Hub, handler Handler) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			user := types.User{Id: r.URL.Query().Get("userId"), Username: r.URL.Query().Get("username")}
			h.Attach(fmt.Sprintf("conn-%d", seq.Add(1)), conn, user, handler)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", attach(chatHub, chat))
	mux.Handle("/ws/call", attach(callHub, call))
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		chatHub.Shutdown(ctx)
		callHub.Shutdown(ctx)
		bridge.Stop(ctx)
		srv.Close()
	})

	return &testRelay{srv: srv, store: store}
}

func (r *testRelay) dial(t *testing.T, path, userId, username string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.srv.URL, "http") + path + "?userId=" + userId + "&username=" + username
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// expect reads frames until one named event arrives and decodes its data.
func expect(t *testing.T, conn *websocket.Conn, event string, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg received
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %q", event)
		if msg.Event != event {
			continue
		}
		if v != nil {
			require.NoError(t, json.Unmarshal(msg.Data, v))
		}
		return
	}
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestChatRelay(t *testing.T) {
	relay := newTestRelay(t)
	a := relay.dial(t, "/ws", "u-a", "alice")
	b := relay.dial(t, "/ws", "u-b", "bob")

	var list []types.PresenceUser
	send(t, a, `{"id":1,"join":{"room_id":"r1"}}`)
	expect(t, a, fabric.EventPresenceList, &list)
	require.Len(t, list, 1)

	send(t, b, `{"id":1,"join":{"room_id":"r1"}}`)
	expect(t, a, fabric.EventPresenceList, &list)
	require.Len(t, list, 2)
	assert.Equal(t, "u-a", list[0].UserId)
	assert.True(t, list[1].Online)
	expect(t, b, fabric.EventPresenceList, nil)

	send(t, b, `{"typing":{"room_id":"r1","typing":true}}`)
	var typingEv types.Typing
	expect(t, a, fabric.EventTyping, &typingEv)
	assert.Equal(t, types.Typing{UserId: "u-b", DisplayName: "bob", Typing: true}, typingEv)

	send(t, a, `{"id":2,"send":{"room_id":"r1","content":"hi"}}`)
	var msg types.Message
	expect(t, b, fabric.EventMessageNew, &msg)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "alice", msg.SenderName)
	status, ok := msg.StatusOf("u-b")
	require.True(t, ok)
	assert.Equal(t, types.StatusSent, status.Status)

	send(t, b, fmt.Sprintf(`{"delivered":{"message_id":%q}}`, msg.Id))
	send(t, b, fmt.Sprintf(`{"read":{"message_id":%q}}`, msg.Id))
	var change types.StatusChange
	expect(t, a, fabric.EventMessageStatus, &change)
	assert.Equal(t, types.StatusDelivered, change.Status)
	expect(t, a, fabric.EventMessageStatus, &change)
	assert.Equal(t, types.StatusRead, change.Status)

	stored, err := relay.store.GetMessageById(context.Background(), msg.Id)
	require.NoError(t, err)
	status, _ = stored.StatusOf("u-b")
	assert.Equal(t, types.StatusRead, status.Status)

	send(t, a, `not json`)
	var errEv types.ErrorEvent
	expect(t, a, fabric.EventError, &errEv)
	assert.Equal(t, errInvalidMessage, errEv.Error)

	b.Close()
	expect(t, a, fabric.EventPresenceList, &list)
	require.Len(t, list, 2)
	assert.False(t, list[1].Online, "expected bob offline after disconnect")
}

func TestModerationEscalation(t *testing.T) {
	relay := newTestRelay(t)
	mod := relay.dial(t, "/ws", "u-mod", "mod")
	a := relay.dial(t, "/ws", "u-a", "alice")

	send(t, mod, `{"join":{"room_id":"moderators"}}`)
	expect(t, mod, fabric.EventPresenceList, nil)
	send(t, a, `{"join":{"room_id":"r1"}}`)
	expect(t, a, fabric.EventPresenceList, nil)

	send(t, a, `{"submit":{"room_id":"r1","content":"I want a refund"}}`)
	var msg types.Message
	expect(t, a, fabric.EventMessageNew, &msg)

	var esc types.Escalation
	expect(t, mod, fabric.EventEscalation, &esc)
	assert.Equal(t, msg.Id, esc.MessageId)
	assert.Equal(t, types.PriorityHigh, esc.Result.Priority)
	assert.Contains(t, esc.Result.Tags, moderation.TagBilling)
}

func TestCallRelay(t *testing.T) {
	relay := newTestRelay(t)
	c1 := relay.dial(t, "/ws/call", "u1", "alice")
	c2 := relay.dial(t, "/ws/call", "u2", "bob")

	var peers []types.Peer
	send(t, c1, `{"join":{"room_id":"call1"}}`)
	expect(t, c1, fabric.EventPeers, &peers)
	assert.Empty(t, peers)

	send(t, c2, `{"join":{"room_id":"call1"}}`)
	expect(t, c2, fabric.EventPeers, &peers)
	require.Len(t, peers, 1)
	assert.Equal(t, "u1", peers[0].UserId)
	firstId := peers[0].ConnectionId

	var joined types.Peer
	expect(t, c1, fabric.EventPeerJoined, &joined)
	assert.Equal(t, "u2", joined.UserId)
	assert.NotEqual(t, firstId, joined.ConnectionId)

	send(t, c1, fmt.Sprintf(`{"signal":{"room_id":"call1","to":%q,"payload":{"type":"offer","sdp":"v=0"}}}`, joined.ConnectionId))
	var sig types.Signal
	expect(t, c2, fabric.EventSignal, &sig)
	assert.Equal(t, firstId, sig.From)
	assert.Equal(t, "call1", sig.RoomId)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(sig.Payload))

	c2.Close()
	var left types.PeerLeft
	expect(t, c1, fabric.EventPeerLeft, &left)
	assert.Equal(t, types.PeerLeft{ConnectionId: joined.ConnectionId, UserId: "u2"}, left)
}
