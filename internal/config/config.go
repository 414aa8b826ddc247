// Package config loads process configuration from the environment, with
// an optional .env file filling in whatever the environment leaves unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/noteindex/noteindex/internal/chunker"
	"github.com/noteindex/noteindex/internal/indexer"
	"github.com/noteindex/noteindex/internal/storage"
)

// Config holds all configuration for the server
type Config struct {
	DataDir    string `validate:"required"`
	VaultDir   string `validate:"required"`
	Collection string `validate:"required,max=64"`
	Persistent bool

	TokenBudget   int           `validate:"min=260,max=360"`
	BatchSize     int           `validate:"min=1,max=500"`
	CostThreshold float64       `validate:"gte=0"`
	CostPerChunk  float64       `validate:"gte=0"`
	IdleTimeout   time.Duration `validate:"gt=0"`

	EmbeddingProvider string `validate:"omitempty,oneof=jina openai gemini local"`
	EmbeddingModel    string
	EmbeddingBaseURL  string `validate:"omitempty,url"`
	OpenAIAPIKey      string
	GeminiAPIKey      string
	JinaAPIKey        string

	ReferenceURL     string `validate:"omitempty,url"`
	ReferenceVersion string `validate:"required"`
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3Region         string
	S3UseSSL         bool

	Watch         bool
	WatchDebounce time.Duration `validate:"gt=0"`

	MetricsAddr string `validate:"omitempty,hostname_port"`
	LogLevel    string `validate:"oneof=debug info warn error"`
	LogFormat   string `validate:"oneof=json console"`
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first; variables already set take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, applying defaults and validating
func FromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}

	cfg := &Config{
		DataDir:    p.str("NOTEINDEX_DATA_DIR", ""),
		VaultDir:   p.str("NOTEINDEX_VAULT_DIR", ""),
		Collection: p.str("NOTEINDEX_COLLECTION", "notes"),
		Persistent: p.boolean("NOTEINDEX_PERSISTENT", true),

		TokenBudget:   p.integer("NOTEINDEX_TOKEN_BUDGET", chunker.DefaultTokenBudget),
		BatchSize:     p.integer("NOTEINDEX_BATCH_SIZE", indexer.DefaultBatchSize),
		CostThreshold: p.float("NOTEINDEX_COST_THRESHOLD", 0.5),
		CostPerChunk:  p.float("NOTEINDEX_COST_PER_CHUNK", 0.00002),
		IdleTimeout:   p.duration("NOTEINDEX_IDLE_TIMEOUT", storage.DefaultIdleTimeout),

		EmbeddingProvider: strings.ToLower(p.str("NOTEINDEX_EMBEDDING_PROVIDER", "")),
		EmbeddingModel:    p.str("NOTEINDEX_EMBEDDING_MODEL", ""),
		EmbeddingBaseURL:  p.str("NOTEINDEX_EMBEDDING_BASE_URL", ""),
		OpenAIAPIKey:      p.str("OPENAI_API_KEY", ""),
		GeminiAPIKey:      p.str("GEMINI_API_KEY", ""),
		JinaAPIKey:        p.str("JINA_API_KEY", ""),

		ReferenceURL:     p.str("NOTEINDEX_REFERENCE_URL", ""),
		ReferenceVersion: p.str("NOTEINDEX_REFERENCE_VERSION", "1"),
		S3Endpoint:       p.str("NOTEINDEX_S3_ENDPOINT", ""),
		S3AccessKey:      p.str("NOTEINDEX_S3_ACCESS_KEY", ""),
		S3SecretKey:      p.str("NOTEINDEX_S3_SECRET_KEY", ""),
		S3Region:         p.str("NOTEINDEX_S3_REGION", "us-east-1"),
		S3UseSSL:         p.boolean("NOTEINDEX_S3_USE_SSL", true),

		Watch:         p.boolean("NOTEINDEX_WATCH", false),
		WatchDebounce: p.duration("NOTEINDEX_WATCH_DEBOUNCE", 2*time.Second),

		MetricsAddr: p.str("METRICS_ADDR", ""),
		LogLevel:    strings.ToLower(p.str("LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(p.str("LOG_FORMAT", "json")),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".noteindex")
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.VaultDir = expandHome(cfg.VaultDir)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// parser reads typed variables, collecting every malformed value
type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be an integer: %w", key, err))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a number: %w", key, err))
		return def
	}
	return f
}

func (p *parser) boolean(key string, def bool) bool {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a boolean: %w", key, err))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a duration: %w", key, err))
		return def
	}
	return d
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
