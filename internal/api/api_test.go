package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-roomrelay/internal/config"
	"github.com/npezzotti/go-roomrelay/internal/database"
	"github.com/npezzotti/go-roomrelay/internal/server"
	"github.com/npezzotti/go-roomrelay/internal/stats"
	"github.com/npezzotti/go-roomrelay/internal/testutil"
	"github.com/npezzotti/go-roomrelay/internal/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

// recordingHandler reports every connection it sees.
type recordingHandler struct {
	users chan types.User
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{users: make(chan types.User, 8)}
}

func (h *recordingHandler) Connected(c *server.Client) { h.users <- c.User() }
func (h *recordingHandler) Handle(*server.Client, []byte) {}
func (h *recordingHandler) Disconnected(*server.Client) {}

func newTestNamespace(t *testing.T, name string) (Namespace, *recordingHandler) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	hub := server.NewHub(testutil.TestLogger(t), name, su, stats.ChatConnections)
	go hub.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hub.Shutdown(ctx)
	})

	h := newRecordingHandler()
	return Namespace{Hub: hub, Handler: h}, h
}

func newTestApp(t *testing.T, store database.MessageStore, signingKey []byte) *RelayApp {
	chat, _ := newTestNamespace(t, "chat")
	call, _ := newTestNamespace(t, "call")
	cfg := &config.Config{
		ServerAddr:     "localhost:0",
		AllowedOrigins: []string{"*"},
		SigningKey:     signingKey,
	}
	return NewRelayApp(http.NewServeMux(), testutil.TestLogger(t), store, chat, call, cfg)
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	require.NoError(t, err, "expected token to sign")
	return token
}
