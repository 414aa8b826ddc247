package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"NOTEINDEX_DATA_DIR":  "/tmp/noteindex",
		"NOTEINDEX_VAULT_DIR": "/tmp/vault",
	}))
	require.NoError(t, err)

	assert.Equal(t, "notes", cfg.Collection)
	assert.True(t, cfg.Persistent)
	assert.Equal(t, 300, cfg.TokenBudget)
	assert.Equal(t, 20, cfg.BatchSize)
	assert.Equal(t, 40*time.Second, cfg.IdleTimeout)
	assert.Equal(t, "", cfg.EmbeddingProvider)
	assert.Equal(t, "1", cfg.ReferenceVersion)
	assert.False(t, cfg.Watch)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"NOTEINDEX_DATA_DIR":           "~/data",
		"NOTEINDEX_VAULT_DIR":          "/tmp/vault",
		"NOTEINDEX_PERSISTENT":         "false",
		"NOTEINDEX_TOKEN_BUDGET":       "340",
		"NOTEINDEX_EMBEDDING_PROVIDER": "Gemini",
		"NOTEINDEX_REFERENCE_URL":      "s3://datasets/reference.db",
		"NOTEINDEX_WATCH":              "1",
		"NOTEINDEX_WATCH_DEBOUNCE":     "500ms",
		"METRICS_ADDR":                 "localhost:9090",
		"LOG_LEVEL":                    "DEBUG",
		"LOG_FORMAT":                   "console",
	}))
	require.NoError(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data"), cfg.DataDir)
	assert.False(t, cfg.Persistent)
	assert.Equal(t, 340, cfg.TokenBudget)
	assert.Equal(t, "gemini", cfg.EmbeddingProvider)
	assert.True(t, cfg.Watch)
	assert.Equal(t, 500*time.Millisecond, cfg.WatchDebounce)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestFromEnv_Invalid(t *testing.T) {
	base := map[string]string{
		"NOTEINDEX_DATA_DIR":  "/tmp/noteindex",
		"NOTEINDEX_VAULT_DIR": "/tmp/vault",
	}
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"budget too small", "NOTEINDEX_TOKEN_BUDGET", "100"},
		{"budget too large", "NOTEINDEX_TOKEN_BUDGET", "1000"},
		{"budget not a number", "NOTEINDEX_TOKEN_BUDGET", "lots"},
		{"unknown provider", "NOTEINDEX_EMBEDDING_PROVIDER", "cohere"},
		{"negative threshold", "NOTEINDEX_COST_THRESHOLD", "-1"},
		{"bad bool", "NOTEINDEX_PERSISTENT", "maybe"},
		{"bad duration", "NOTEINDEX_IDLE_TIMEOUT", "soon"},
		{"bad metrics addr", "METRICS_ADDR", "nowhere"},
		{"bad log level", "LOG_LEVEL", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := map[string]string{tt.key: tt.value}
			for k, v := range base {
				values[k] = v
			}
			_, err := FromEnv(env(values))
			assert.Error(t, err)
		})
	}
}

func TestFromEnv_VaultRequired(t *testing.T) {
	_, err := FromEnv(env(map[string]string{"NOTEINDEX_DATA_DIR": "/tmp/noteindex"}))
	assert.ErrorContains(t, err, "VaultDir")
}
