package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NECTAR_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://text.pollinations.ai", cfg.TextBaseURL)
	assert.Equal(t, "https://image.pollinations.ai", cfg.ImageBaseURL)
	assert.Equal(t, "https://api.pollinations.ai", cfg.APIBaseURL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NECTAR_DATA_DIR", dir)
	t.Setenv("POLLINATIONS_API_KEY", "k-1")
	t.Setenv("NECTAR_TEXT_URL", "http://localhost:8080")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "k-1", cfg.APIKey)
	assert.Equal(t, "http://localhost:8080", cfg.TextBaseURL)
	assert.Equal(t, filepath.Join(dir, "sessions.db"), cfg.DBPath())
	assert.Equal(t, filepath.Join(dir, "nectar.log"), cfg.LogPath())
}

func TestNewLoggerWritesToDataDir(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{DataDir: filepath.Join(dir, "nested"), LogLevel: "debug"}

	log, err := NewLogger(cfg)
	require.NoError(t, err)
	log.Info("hello")
	require.NoError(t, log.Sync())

	assert.FileExists(t, cfg.LogPath())
}
