package types

// SearchResult represents a single search result with relevance information
type SearchResult struct {
	// Identification
	ChunkID    string
	DocumentID string
	Rank       int // Position in result set (1-based)

	// Scoring
	RelevanceScore float64 // Fused RRF score, normalized to [0,1]
	Similarity     float64 // Raw cosine similarity from the vector stage
	LexicalScore   float64 // Sum of IDF weights of matched query terms
	EmbedRank      int
	LexicalRank    int

	// Metadata
	DocumentTitle string
	DocumentTags  []string
	HeadingPath   string
	Content       string
	TagOnly       bool
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.ChunkID == "" {
		return ErrInvalidChunkID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.RelevanceScore < 0 || sr.RelevanceScore > 1 {
		return ErrInvalidRelevanceScore
	}

	if sr.DocumentID == "" {
		return ErrMissingDocumentID
	}

	if sr.Content == "" {
		return ErrEmptyContent
	}

	return nil
}
