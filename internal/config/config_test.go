package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "server:\n  port: \"\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "8003", cfg.Server.Port)
	assert.Equal(t, "./data/textmark.db", cfg.Database.Path)
	assert.Equal(t, "configs/taxonomy.yml", cfg.Taxonomy.Path)
	assert.Equal(t, 128, cfg.Client.CacheSize)
	assert.Equal(t, time.Second, cfg.Debounce())
	assert.Equal(t, 2*time.Second, cfg.SavedFor())
	assert.Empty(t, cfg.Redis.URL)
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
server:
  port: "9000"
database:
  path: /tmp/other.db
client:
  base_url: http://localhost:9000
  debounce_ms: 250
  saved_ms: 500
`))
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "/tmp/other.db", cfg.Database.Path)
	assert.Equal(t, "http://localhost:9000", cfg.Client.BaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce())
	assert.Equal(t, 500*time.Millisecond, cfg.SavedFor())
}

func TestLoadConfigExpandsRedisEnv(t *testing.T) {
	t.Setenv("TEST_REDIS_HOST", "redis.internal:6379")
	cfg, err := LoadConfig(writeConfig(t, "redis:\n  url: redis://${TEST_REDIS_HOST}/0\n"))
	require.NoError(t, err)
	assert.Equal(t, "redis://redis.internal:6379/0", cfg.Redis.URL)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
