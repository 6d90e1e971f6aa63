package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-roomrelay/internal/api"
	"github.com/npezzotti/go-roomrelay/internal/config"
	"github.com/npezzotti/go-roomrelay/internal/database"
	"github.com/npezzotti/go-roomrelay/internal/delivery"
	"github.com/npezzotti/go-roomrelay/internal/fabric"
	"github.com/npezzotti/go-roomrelay/internal/moderation"
	"github.com/npezzotti/go-roomrelay/internal/presence"
	"github.com/npezzotti/go-roomrelay/internal/server"
	"github.com/npezzotti/go-roomrelay/internal/signaling"
	"github.com/npezzotti/go-roomrelay/internal/stats"
	"github.com/npezzotti/go-roomrelay/internal/typing"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "roomrelay:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}

	var allowedOrigins stringSliceFlag
	flag.StringVar(&cfg.ServerAddr, "addr", cfg.ServerAddr, "server address")
	flag.StringVar(&cfg.Store, "store", cfg.Store, "message store: memory, postgres or badger")
	flag.StringVar(&cfg.DatabaseDSN, "dsn", cfg.DatabaseDSN, "postgres connection string")
	flag.StringVar(&cfg.BadgerPath, "badger-path", cfg.BadgerPath, "badger data directory, empty for in-memory")
	flag.StringVar(&cfg.PresenceBackend, "presence", cfg.PresenceBackend, "presence backend: memory or redis")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address")
	flag.StringVar(&cfg.SigningSecret, "signing-key", cfg.SigningSecret, "base64 encoded signing key, empty to trust query identities")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&cfg.ClassifierURL, "classifier-url", cfg.ClassifierURL, "external classifier endpoint")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flag.Parse()

	if len(allowedOrigins) > 0 {
		cfg.AllowedOrigins = allowedOrigins
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store close", "error", err)
		}
	}()

	rooms, closeRooms, err := openRoomTable(cfg)
	if err != nil {
		return err
	}
	defer closeRooms()

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	for _, m := range stats.Metrics {
		statsUpdater.RegisterMetric(m)
	}
	statsUpdater.Run()
	defer statsUpdater.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chatHub := server.NewHub(logger, "chat", statsUpdater, stats.ChatConnections)
	callHub := server.NewHub(logger, "call", statsUpdater, stats.CallConnections)
	go chatHub.Run()
	go callHub.Run()

	chatFabric := fabric.NewLocal(chatHub)
	registry := presence.NewRegistry(logger, presence.NewMemoryConnectionTable(), rooms, chatFabric)

	classifier, err := newClassifier(cfg)
	if err != nil {
		return err
	}
	bridge := moderation.NewBridge(logger, moderation.Config{
		Channel:   cfg.ModeratorsChannel,
		Workers:   cfg.ModerationWorkers,
		QueueSize: cfg.ModerationQueueSize,
		Timeout:   cfg.ClassifierTimeout,
	}, store, classifier, chatFabric, statsUpdater)
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("start moderation: %w", err)
	}
	logger.Info("escalations routed", "channel", bridge.Channel())

	// departures must still be recorded while the hubs drain after the signal
	chat := server.NewChatHandler(context.WithoutCancel(ctx), logger, registry, typing.NewRelay(chatFabric),
		delivery.NewService(logger, store, registry, chatFabric), bridge, statsUpdater)
	call := server.NewCallHandler(logger, signaling.NewRelay(logger, fabric.NewLocal(callHub), callHub))

	srv := api.NewRelayApp(mux, logger, store,
		api.Namespace{Hub: chatHub, Handler: chat},
		api.Namespace{Hub: callHub, Handler: call},
		cfg,
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return errors.Join(
			srv.Shutdown(shutdownCtx),
			chatHub.Shutdown(shutdownCtx),
			callHub.Shutdown(shutdownCtx),
			bridge.Stop(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (database.MessageStore, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := database.NewPgMessageStore(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
		return db, nil
	case config.StoreBadger:
		db, err := database.NewBadgerMessageStore(cfg.BadgerPath, logger)
		if err != nil {
			return nil, fmt.Errorf("badger open: %w", err)
		}
		return db, nil
	default:
		return database.NewMemoryMessageStore(), nil
	}
}

func openRoomTable(cfg *config.Config) (presence.RoomTable, func(), error) {
	if cfg.PresenceBackend != config.PresenceRedis {
		return presence.NewMemoryRoomTable(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}

	return presence.NewRedisRoomTable(client, "roomrelay:"), func() { client.Close() }, nil
}

func newClassifier(cfg *config.Config) (moderation.Classifier, error) {
	keywords, err := moderation.NewKeywordClassifier(moderation.DefaultKeywords)
	if err != nil {
		return nil, fmt.Errorf("keyword classifier: %w", err)
	}
	if cfg.ClassifierURL == "" {
		return keywords, nil
	}

	return &moderation.HTTPClassifier{
		URL:      cfg.ClassifierURL,
		Client:   &http.Client{Timeout: cfg.ClassifierTimeout},
		Fallback: keywords,
	}, nil
}
