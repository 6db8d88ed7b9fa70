// Package config loads runtime configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	APIKey       string `env:"POLLINATIONS_API_KEY"`
	TextBaseURL  string `env:"NECTAR_TEXT_URL" envDefault:"https://text.pollinations.ai"`
	ImageBaseURL string `env:"NECTAR_IMAGE_URL" envDefault:"https://image.pollinations.ai"`
	APIBaseURL   string `env:"NECTAR_API_URL" envDefault:"https://api.pollinations.ai"`
	DataDir      string `env:"NECTAR_DATA_DIR"`
	LogLevel     string `env:"NECTAR_LOG_LEVEL" envDefault:"info"`
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present; a missing one is fine.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".nectar")
	}
	return cfg, nil
}

// DBPath is where session history lives.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// LogPath is where the structured log goes. The terminal belongs to the UI,
// so logs never touch stdout.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "nectar.log")
}

// NewLogger builds a file-backed logger at the configured level.
func NewLogger(c *Config) (*zap.Logger, error) {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{c.LogPath()}
	zc.ErrorOutputPaths = []string{c.LogPath()}
	return zc.Build()
}
