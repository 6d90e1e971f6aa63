package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBadger   = "badger"

	PresenceMemory = "memory"
	PresenceRedis  = "redis"
)

type Config struct {
	ServerAddr          string        `env:"ADDR" envDefault:"localhost:8000"`
	Store               string        `env:"STORE" envDefault:"memory"`
	DatabaseDSN         string        `env:"DATABASE_DSN"`
	BadgerPath          string        `env:"BADGER_PATH"`
	PresenceBackend     string        `env:"PRESENCE_BACKEND" envDefault:"memory"`
	RedisAddr           string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	SigningSecret       string        `env:"SIGNING_KEY"`
	AllowedOrigins      []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	ModeratorsChannel   string        `env:"MODERATORS_CHANNEL" envDefault:"moderators"`
	ModerationWorkers   int           `env:"MODERATION_WORKERS" envDefault:"2"`
	ModerationQueueSize int           `env:"MODERATION_QUEUE_SIZE" envDefault:"256"`
	ClassifierURL       string        `env:"CLASSIFIER_URL"`
	ClassifierTimeout   time.Duration `env:"CLASSIFIER_TIMEOUT" envDefault:"10s"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`

	// SigningKey is SigningSecret decoded by Validate. Empty means
	// connections identify themselves without a token.
	SigningKey []byte `env:"-"`
}

// Load reads the environment, after first loading any of envFiles that
// exist. Variables already set in the environment win over file values.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// Validate checks the configuration and decodes the signing secret.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	switch c.Store {
	case StoreMemory, StoreBadger:
	case StorePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database DSN cannot be empty")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	switch c.PresenceBackend {
	case PresenceMemory:
	case PresenceRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
	default:
		return fmt.Errorf("unknown presence backend %q", c.PresenceBackend)
	}

	if c.ModeratorsChannel == "" {
		return fmt.Errorf("moderators channel cannot be empty")
	}
	if c.ModerationWorkers < 1 {
		return fmt.Errorf("moderation workers must be at least 1")
	}
	if c.ModerationQueueSize < 1 {
		return fmt.Errorf("moderation queue size must be at least 1")
	}
	if c.ClassifierTimeout <= 0 {
		return fmt.Errorf("classifier timeout must be positive")
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	c.SigningKey = nil
	if c.SigningSecret != "" {
		// Decode the base64 encoded signing secret
		signingKey, err := decodeSigningSecret(c.SigningSecret)
		if err != nil {
			return fmt.Errorf("decode signing secret: %w", err)
		}
		c.SigningKey = signingKey
	}

	return nil
}

func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
