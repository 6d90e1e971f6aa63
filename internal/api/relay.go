package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-roomrelay/internal/config"
	"github.com/npezzotti/go-roomrelay/internal/database"
	"github.com/npezzotti/go-roomrelay/internal/server"
)

// Namespace is a websocket endpoint: the hub that owns its connections and
// the handler that interprets their frames.
type Namespace struct {
	Hub     *server.Hub
	Handler server.Handler
}

type RelayApp struct {
	log            *slog.Logger
	store          database.MessageStore
	mux            *http.Server
	chat           Namespace
	call           Namespace
	signingKey     []byte
	allowedOrigins []string
	newConnId      func() string
}

// NewRelayApp registers the relay's routes on mux. Routes registered on mux
// by others, such as the stats endpoint, are served as well.
func NewRelayApp(mux *http.ServeMux, logger *slog.Logger, store database.MessageStore, chat, call Namespace, cfg *config.Config) *RelayApp {
	s := &RelayApp{
		log:            logger.With("component", "api"),
		store:          store,
		chat:           chat,
		call:           call,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		newConnId:      newConnId,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs(s.chat)))
	mux.Handle("GET /ws/call", s.authMiddleware(s.serveWs(s.call)))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = handlers.CustomLoggingHandler(io.Discard, h, s.logRequest)
	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}
	return s
}

func (s *RelayApp) Handler() http.Handler {
	return s.mux.Handler
}

func (s *RelayApp) Start() error {
	s.log.Info("starting server", "addr", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *RelayApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *RelayApp) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	s.log.Debug("request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"size", p.Size,
		"remote", p.Request.RemoteAddr,
	)
}
