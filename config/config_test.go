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
	path := filepath.Join(t.TempDir(), "threadmesh.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
version: "1.0"
engine:
  max_transient_retries: 5
  retry_backoff: 250ms
  max_steps_per_event: 64
redis:
  addr: localhost:6379
  db: 2
classifier:
  provider: anthropic
  model: claude-sonnet-4-20250514
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Engine.MaxTransientRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.RetryBackoff.Std())
	assert.Equal(t, 64, cfg.Engine.MaxStepsPerEvent)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "anthropic", cfg.Classifier.Provider)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MinimalConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `version: "1.0"`))
	require.NoError(t, err)
	assert.Nil(t, cfg.Engine)
	assert.Nil(t, cfg.Redis)
	assert.Nil(t, cfg.Classifier)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing version", `log_level: info`, "unsupported version"},
		{"wrong version", `version: "2.0"`, "unsupported version"},
		{"redis without addr", "version: \"1.0\"\nredis:\n  db: 1", "redis.addr"},
		{"unknown provider", "version: \"1.0\"\nclassifier:\n  provider: cohere", "classifier provider"},
		{"unknown log level", "version: \"1.0\"\nlog_level: loud", "log_level"},
		{"negative limits", "version: \"1.0\"\nengine:\n  max_steps_per_event: -1", "non-negative"},
		{"bad yaml", `version: [`, "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.ErrorContains(t, err, "read config")
}
