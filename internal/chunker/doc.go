// Package chunker splits markdown notes into chunks for embedding and search.
//
// A note is parsed with goldmark. The chunker walks the top-level blocks
// keeping a stack of the headings seen so far:
//
//   - a heading pops every stacked heading of the same or deeper level,
//     pushes itself and opens a new chunk carrying the heading trail
//     ("# Project > ## Notes")
//   - any other block contributes the whitespace-separated tokens of its
//     source span to the current chunk
//   - a chunk that reaches the token budget is closed and continued by a
//     successor with the same heading trail
//
// Empty chunks are dropped. Every document ends with exactly one tag-only
// chunk holding the title and tags, so a note is findable by its tags even
// when its body says nothing about them.
//
// Chunk content is the tokens joined by single spaces: joining a heading's
// chunks in order reproduces the whitespace-normalized text of its span.
//
// # Usage
//
//	c := chunker.New(chunker.DefaultTokenBudget)
//	chunks := c.ChunkDocument(chunker.Document{
//	    ID:      note.UUID,
//	    Title:   note.Name,
//	    Tags:    note.Tags,
//	    Content: []byte(markdown),
//	})
package chunker
