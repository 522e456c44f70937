package config

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"

	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
	SessionStoreBadger = "badger"

	RelayLocal = "local"
	RelayRedis = "redis"

	AuthPerEvent  = "per-event"
	AuthHandshake = "handshake"
	AuthOpen      = "open"
)

type Config struct {
	Port     int    `env:"PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	SessionSecret string        `env:"SESSION_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL,default=60s"`
	SessionStore  string        `env:"SESSION_STORE,default=memory"`
	RedisURL      string        `env:"REDIS_URL"`
	BadgerPath    string        `env:"BADGER_PATH"`

	StorageType      string `env:"STORAGE_TYPE,default=memory"`
	DataSourceName   string `env:"DATA_SOURCE_NAME,default=livecatalog.db"`
	SeedProductsFile string `env:"SEED_PRODUCTS_FILE"`

	BroadcastRelay   string `env:"BROADCAST_RELAY,default=local"`
	BroadcastChannel string `env:"BROADCAST_CHANNEL,default=livecatalog:broadcast"`
	RealtimeAuth     string `env:"REALTIME_AUTH,default=per-event"`

	CORSOrigins string `env:"CORS_ORIGINS"`
}

// Load reads a .env file when one exists, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found")
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET must be set")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}

	switch c.StorageType {
	case StorageMemory, StorageSQLite:
	default:
		return fmt.Errorf("unknown STORAGE_TYPE %q", c.StorageType)
	}

	switch c.SessionStore {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_STORE=redis")
		}
	case SessionStoreBadger:
		if c.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH is required when SESSION_STORE=badger")
		}
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.SessionStore)
	}

	switch c.BroadcastRelay {
	case RelayLocal:
	case RelayRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when BROADCAST_RELAY=redis")
		}
	default:
		return fmt.Errorf("unknown BROADCAST_RELAY %q", c.BroadcastRelay)
	}

	switch c.RealtimeAuth {
	case AuthPerEvent, AuthHandshake, AuthOpen:
	default:
		return fmt.Errorf("unknown REALTIME_AUTH %q", c.RealtimeAuth)
	}
	return nil
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Origins splits CORS_ORIGINS. An empty result means localhost only.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
