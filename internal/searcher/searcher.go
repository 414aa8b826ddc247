package searcher

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/noteindex/noteindex/internal/embedder"
	"github.com/noteindex/noteindex/internal/metrics"
	"github.com/noteindex/noteindex/internal/storage"
	"github.com/noteindex/noteindex/pkg/types"
)

// Ranking parameters
const (
	// CandidateFloor and CandidateMultiple size the vector stage:
	// K = max(CandidateFloor, CandidateMultiple*limit)
	CandidateFloor    = 160
	CandidateMultiple = 8

	// RRFConstant damps the contribution of lower ranks
	RRFConstant = 60

	// Fusion weights; the vector signal is favored slightly
	LexicalWeight = 0.45
	VectorWeight  = 0.55

	// scoreScale maps a result ranked first by both stages to 1.0
	scoreScale = RRFConstant + 1

	DefaultLimit    = 10
	MaxLimit        = 100
	DefaultCacheTTL = time.Hour
	cacheSize       = 1000
)

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query     string
	Embedding []float32 // optional; computed from Query when empty
	Limit     int
	Threshold float64 // minimum raw cosine similarity
	Filters   *storage.ChunkFilters
	UseCache  bool // Whether to use the response cache
	CacheTTL  time.Duration
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results      []types.SearchResult
	TotalResults int
	Candidates   int      // size of the vector-stage candidate set
	QueryStems   []string // lexical terms after normalization
	Duration     time.Duration
	CacheHit     bool
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher runs two-stage hybrid retrieval over the note store: a vector
// recall stage over every filtered chunk, then a lexical IDF stage over the
// candidates only, fused by reciprocal rank
type Searcher struct {
	gateway    *storage.Gateway
	collection string
	persistent bool
	embedder   embedder.Embedder

	logger  *zap.Logger
	metrics *metrics.Metrics

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// Option configures a Searcher
type Option func(*Searcher)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records every search in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Searcher) { s.metrics = m }
}

// NewSearcher creates a new Searcher over the given collection
func NewSearcher(gateway *storage.Gateway, collection string, persistent bool, emb embedder.Embedder, opts ...Option) *Searcher {
	// Cache will automatically evict least recently used entries
	cache, err := lru.New[[32]byte, *cacheEntry](cacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	s := &Searcher{
		gateway:    gateway,
		collection: collection,
		persistent: persistent,
		embedder:   emb,
		logger:     zap.NewNop(),
		cache:      cache,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "searcher"))
	return s
}

// Search performs hybrid retrieval for the request
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	// The key is taken before the query is embedded so hits skip the provider
	key := computeQueryHash(req)
	if req.UseCache {
		if cached := s.checkCache(key); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			s.metrics.ObserveSearch("notes", true, cached.Duration)
			return cached, nil
		}
	}

	if len(req.Embedding) == 0 {
		if s.embedder == nil {
			return nil, fmt.Errorf("embedder not initialized")
		}
		emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
			Text: req.Query,
			Kind: embedder.KindQuery,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate query embedding: %w", err)
		}
		req.Embedding = emb.Vector
	}

	s.gateway.Lock()
	defer s.gateway.Unlock()

	store, err := s.gateway.Acquire(ctx, s.collection, s.persistent)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInitialization, err)
	}

	response, err := s.hybridSearch(ctx, store, req)
	if err != nil {
		return nil, err
	}
	response.Duration = time.Since(startTime)
	s.metrics.ObserveSearch("notes", false, response.Duration)

	s.logger.Debug("search complete",
		zap.Int("candidates", response.Candidates),
		zap.Int("results", response.TotalResults),
		zap.Duration("duration", response.Duration))

	if req.UseCache {
		s.storeInCache(key, req.CacheTTL, response)
	}
	return response, nil
}

// hybridSearch runs both stages and fuses their ranks
func (s *Searcher) hybridSearch(ctx context.Context, store storage.Store, req SearchRequest) (*SearchResponse, error) {
	k := CandidateMultiple * req.Limit
	if k < CandidateFloor {
		k = CandidateFloor
	}

	candidates, err := store.SearchVector(ctx, req.Embedding, k, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("vector stage failed: %w", err)
	}

	stems := QueryStems(req.Query)
	ranked := rankCandidates(candidates, stems)

	results := make([]types.SearchResult, 0, req.Limit)
	for _, rc := range ranked {
		if len(results) == req.Limit {
			break
		}
		if rc.similarity < req.Threshold {
			continue
		}
		c := rc.chunk
		results = append(results, types.SearchResult{
			ChunkID:        c.ID,
			DocumentID:     c.DocumentID,
			Rank:           len(results) + 1,
			RelevanceScore: rc.score,
			Similarity:     rc.similarity,
			LexicalScore:   rc.lexical,
			EmbedRank:      rc.embedRank,
			LexicalRank:    rc.ftsRank,
			DocumentTitle:  c.DocumentTitle,
			DocumentTags:   c.DocumentTags,
			HeadingPath:    c.HeadingPath,
			Content:        c.ContentPart,
			TagOnly:        c.TagOnly,
		})
	}

	return &SearchResponse{
		Results:      results,
		TotalResults: len(results),
		Candidates:   len(candidates),
		QueryStems:   stems,
	}, nil
}

// rankedCandidate carries one candidate through both stages
type rankedCandidate struct {
	chunk      *storage.NoteChunk
	similarity float64
	lexical    float64
	embedRank  int
	ftsRank    int
	score      float64
}

// rankCandidates scores candidates lexically against the query stems,
// assigns both ranks and returns them sorted by fused score
func rankCandidates(candidates []storage.ScoredChunk, stems []string) []rankedCandidate {
	ranked := make([]rankedCandidate, len(candidates))
	for i, c := range candidates {
		ranked[i] = rankedCandidate{chunk: c.Chunk, similarity: c.Similarity}
	}

	lexicalScores(ranked, stems)

	// Vector rank: similarity order, equal similarity shares a rank
	order := make([]int, len(ranked))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return ranked[order[a]].similarity > ranked[order[b]].similarity
	})
	assignRanks(order, func(i int) *int { return &ranked[i].embedRank }, func(a, b int) bool {
		return ranked[a].similarity == ranked[b].similarity
	})

	// Lexical rank: ties broken by similarity
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := ranked[order[a]], ranked[order[b]]
		if ra.lexical != rb.lexical {
			return ra.lexical > rb.lexical
		}
		return ra.similarity > rb.similarity
	})
	assignRanks(order, func(i int) *int { return &ranked[i].ftsRank }, func(a, b int) bool {
		return ranked[a].lexical == ranked[b].lexical && ranked[a].similarity == ranked[b].similarity
	})

	for i := range ranked {
		ranked[i].score = fuse(ranked[i].ftsRank, ranked[i].embedRank)
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		ra, rb := ranked[a], ranked[b]
		if ra.score != rb.score {
			return ra.score > rb.score
		}
		if ra.similarity != rb.similarity {
			return ra.similarity > rb.similarity
		}
		return ra.chunk.ID < rb.chunk.ID
	})
	return ranked
}

// assignRanks gives competition ranks (1, 2, 2, 4) along order
func assignRanks(order []int, slot func(i int) *int, equal func(a, b int) bool) {
	for pos, i := range order {
		if pos > 0 && equal(order[pos-1], i) {
			*slot(i) = *slot(order[pos-1])
			continue
		}
		*slot(i) = pos + 1
	}
}

// fuse combines both ranks with weighted reciprocal rank fusion
func fuse(ftsRank, embedRank int) float64 {
	return (LexicalWeight/float64(RRFConstant+ftsRank) + VectorWeight/float64(RRFConstant+embedRank)) * scoreScale
}

// lexicalScores sums smoothed IDF weights of the query stems present in
// each candidate. Document frequencies are counted over the candidate set.
func lexicalScores(ranked []rankedCandidate, stems []string) {
	if len(stems) == 0 || len(ranked) == 0 {
		return
	}

	present := make([]map[string]struct{}, len(ranked))
	df := make(map[string]int, len(stems))
	for i, rc := range ranked {
		present[i] = contentStems(rc.chunk.NormalizedContent)
		for _, stem := range stems {
			if _, ok := present[i][stem]; ok {
				df[stem]++
			}
		}
	}

	n := float64(len(ranked))
	idf := make(map[string]float64, len(stems))
	for _, stem := range stems {
		idf[stem] = math.Log((n+1)/(float64(df[stem])+1)) + 1
	}

	for i := range ranked {
		for _, stem := range stems {
			if _, ok := present[i][stem]; ok {
				ranked[i].lexical += idf[stem]
			}
		}
	}
}

// validateRequest ensures search request is valid
func validateRequest(req *SearchRequest) error {
	if req.Query == "" && len(req.Embedding) == 0 {
		return fmt.Errorf("query cannot be empty")
	}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}

	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	if req.Threshold < -1 || req.Threshold > 1 {
		return fmt.Errorf("threshold must be within [-1, 1], got %v", req.Threshold)
	}

	if req.CacheTTL == 0 {
		req.CacheTTL = DefaultCacheTTL
	}

	return nil
}

// checkCache looks up a cached response; nil on miss or expiry
func (s *Searcher) checkCache(hash [32]byte) *SearchResponse {
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()
	return response
}

// storeInCache saves a deep copy of the response
func (s *Searcher) storeInCache(hash [32]byte, ttl time.Duration, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(ttl),
	}

	s.cacheMu.Lock()
	s.cache.Add(hash, entry)
	s.cacheMu.Unlock()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}

	dst := *src
	dst.QueryStems = append([]string(nil), src.QueryStems...)
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, result := range src.Results {
		dst.Results[i] = result
		dst.Results[i].DocumentTags = append([]string(nil), result.DocumentTags...)
	}
	return &dst
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(req SearchRequest) [32]byte {
	h := sha256.New()
	h.Write([]byte(req.Query))
	h.Write([]byte{0})

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(req.Limit))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(req.Threshold))
	h.Write(buf[:])
	h.Write(storage.SerializeVector(req.Embedding))

	// Filters with stable serialization
	if req.Filters != nil {
		if data, err := json.Marshal(req.Filters); err == nil {
			h.Write([]byte("|filters:"))
			h.Write(data)
		}
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// InvalidateCache drops every cached response. The store changes as a
// whole on sync, so there is nothing finer to invalidate.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}
