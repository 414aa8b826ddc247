// Package searcher implements hybrid retrieval over indexed note chunks.
//
// A search runs in two stages:
//
//  1. Vector recall: cosine similarity between the query embedding and
//     every chunk passing the filters. The top K = max(160, 8*limit)
//     chunks become the candidate set and get an embedding rank.
//  2. Lexical precision: the query is normalized, stop words are dropped,
//     and the remaining words are stemmed with the Snowball English
//     stemmer. Each candidate scores the sum of smoothed IDF weights,
//     ln((N+1)/(df+1)) + 1, of the query stems it contains, with N and df
//     counted over the candidates only. Candidates get a lexical rank,
//     ties broken by similarity.
//
// The ranks are fused with weighted reciprocal rank fusion:
//
//	score = (0.45/(60+lexicalRank) + 0.55/(60+embedRank)) * 61
//
// Equal values share a rank, so the fused score only depends on rank
// order. The similarity threshold filters on raw cosine similarity after
// fusion, never on the fused score.
//
// # Caching
//
// Responses are cached in an LRU keyed by query, limit, threshold,
// filters and any supplied embedding. The indexer purges the cache after
// every sync through InvalidateCache.
//
// # Basic Usage
//
//	s := searcher.NewSearcher(gateway, "notes", true, emb)
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query:     "tomato planting schedule",
//	    Limit:     10,
//	    Threshold: 0.2,
//	    UseCache:  true,
//	})
package searcher
