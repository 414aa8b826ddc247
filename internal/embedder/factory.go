package embedder

import (
	"context"
	"fmt"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider     string // jina, openai, gemini, local; empty auto-detects
	JinaAPIKey   string
	OpenAIAPIKey string
	GeminiAPIKey string
	Model        string // optional model override
	BaseURL      string // optional endpoint override
	CacheSize    int
}

// New creates an embedder from cfg.
// Priority:
// 1. cfg.Provider when set
// 2. the first provider with an API key: Jina, OpenAI, Gemini
// 3. the local provider
func New(ctx context.Context, cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch DetectProvider(cfg) {
	case ProviderJina:
		return NewJinaProvider(cfg.JinaAPIKey, cfg.BaseURL, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.BaseURL, cfg.Model, cache)
	case ProviderGemini:
		return NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.BaseURL, cfg.Model, cache)
	case ProviderLocal:
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider New would build for cfg
func DetectProvider(cfg Config) string {
	if cfg.Provider != "" {
		return strings.ToLower(cfg.Provider)
	}

	switch {
	case cfg.JinaAPIKey != "":
		return ProviderJina
	case cfg.OpenAIAPIKey != "":
		return ProviderOpenAI
	case cfg.GeminiAPIKey != "":
		return ProviderGemini
	}

	return ProviderLocal
}
