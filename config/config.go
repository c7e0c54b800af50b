package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Env      string `env:"ENV"       envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"  validate:"oneof=debug info warn error"`
	NodeID   string `env:"NODE_ID"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres" validate:"required,oneof=postgres memory"`
	DatabaseURL string `env:"DATABASE_URL"                       validate:"required_if=StoreDriver postgres"`

	PollInterval         time.Duration `env:"POLL_INTERVAL"          envDefault:"1s"  validate:"min=10ms,max=1h"`
	RequeueDelay         time.Duration `env:"REQUEUE_DELAY"          envDefault:"1s"  validate:"min=1ms,max=1m"`
	SessionCheckInterval time.Duration `env:"SESSION_CHECK_INTERVAL" envDefault:"2s"  validate:"min=100ms,max=1m"`
	MaxPayloadBytes      int           `env:"MAX_PAYLOAD_BYTES"      envDefault:"1048576" validate:"min=1024,max=67108864"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	AdminPort   string `env:"ADMIN_PORT"   envDefault:"8080"`

	AdminJWTSecret string `env:"ADMIN_JWT_SECRET,required" validate:"required,min=32"`
	AMQPURL        string `env:"AMQP_URL"                  validate:"omitempty,url"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.NodeID == "" {
		cfg.NodeID = DefaultNodeID()
	}

	return cfg, nil
}

// DefaultNodeID identifies this process as hostname-pid.
func DefaultNodeID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
