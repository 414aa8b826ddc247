package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"explicit wins", Config{Provider: "OpenAI", JinaAPIKey: "j"}, ProviderOpenAI},
		{"jina key", Config{JinaAPIKey: "j", OpenAIAPIKey: "o"}, ProviderJina},
		{"openai key", Config{OpenAIAPIKey: "o", GeminiAPIKey: "g"}, ProviderOpenAI},
		{"gemini key", Config{GeminiAPIKey: "g"}, ProviderGemini},
		{"fallback", Config{}, ProviderLocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectProvider(tt.cfg))
		})
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	emb, err := New(ctx, Config{CacheSize: 10})
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, emb.Provider())

	emb, err = New(ctx, Config{OpenAIAPIKey: "sk", Model: "text-embedding-3-large"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, emb.Provider())
	assert.Equal(t, "text-embedding-3-large", emb.Model())

	_, err = New(ctx, Config{Provider: "unknown"})
	assert.ErrorIs(t, err, ErrUnsupportedModel)

	_, err = New(ctx, Config{Provider: ProviderJina})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
}
