package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// AllowedOrigins is a comma-separated list of origins accepted by the
	// WebSocket upgrade endpoint. Requests with no Origin header are always
	// accepted.
	AllowedOrigins string `env:"ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173,http://127.0.0.1:3000"`

	MaxConnections      int64   `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"20"`
	ConnectionRate      float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst     int     `env:"CONNECTION_BURST" default:"10"`

	BroadcastBuffer int           `env:"BROADCAST_BUFFER" default:"256"`
	SendBuffer      int           `env:"SEND_BUFFER" default:"256"`
	BatchWindow     time.Duration `env:"BATCH_WINDOW" default:"50ms"`
	BatchMaxSize    int           `env:"BATCH_MAX_SIZE" default:"10"`
	LivenessWindow  time.Duration `env:"LIVENESS_WINDOW" default:"60s"`
	WriteWait       time.Duration `env:"WRITE_WAIT" default:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Origins returns the origin allow-list as a slice.
func (c *Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func validate(cfg *Config) error {
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS must be positive, got %d", cfg.MaxConnections)
	}
	if cfg.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_IP must be positive, got %d", cfg.MaxConnectionsPerIP)
	}
	if cfg.BroadcastBuffer <= 0 || cfg.SendBuffer <= 0 {
		return fmt.Errorf("BROADCAST_BUFFER and SEND_BUFFER must be positive")
	}
	if cfg.BatchMaxSize < 1 {
		return fmt.Errorf("BATCH_MAX_SIZE must be at least 1, got %d", cfg.BatchMaxSize)
	}
	if cfg.BatchWindow <= 0 {
		return fmt.Errorf("BATCH_WINDOW must be positive, got %v", cfg.BatchWindow)
	}
	if cfg.LivenessWindow <= 0 {
		return fmt.Errorf("LIVENESS_WINDOW must be positive, got %v", cfg.LivenessWindow)
	}
	return nil
}
