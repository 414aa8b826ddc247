// Package embedder generates vector embeddings for note chunks and queries.
//
// Providers: Jina AI, OpenAI (go-openai), Gemini (genai) and an on-device
// hashing provider that needs no network. Every provider shares batching,
// an LRU cache keyed by input kind and content hash, and retry with
// exponential backoff.
//
// # Basic Usage
//
//	emb, err := embedder.New(ctx, embedder.Config{
//	    OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
//	    CacheSize:    10000,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	q, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "what did I plan for the garden",
//	    Kind: embedder.KindQuery,
//	})
//
// # Query and Passage Inputs
//
// Asymmetric models embed questions and stored text differently. Chunks are
// embedded with KindPassage and search queries with KindQuery; Jina and
// Gemini map the kind onto their retrieval task types, OpenAI and the local
// provider ignore it.
//
// # Provider Selection
//
//  1. If Config.Provider is set → use specified provider
//  2. Else if a Jina key is set → use Jina AI
//  3. Else if an OpenAI key is set → use OpenAI
//  4. Else if a Gemini key is set → use Gemini
//  5. Else → fallback to local provider (offline mode)
//
// # Model Identity
//
// Identity(e) ("provider/model@dimension") is recorded with the index. When
// it changes, stored vectors are no longer comparable with new queries and
// the index is rebuilt.
package embedder
