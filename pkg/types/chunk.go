package types

import (
	"crypto/sha256"
	"errors"
	"strings"
)

// Chunk is one bounded slice of a note produced by the content splitter
type Chunk struct {
	// Identification
	Ordinal int

	// Content
	Content     string
	HeadingPath string // "# Title > ## Section", empty before the first heading
	TokenCount  int
	ContentHash [32]byte

	// TagOnly marks the single per-document chunk holding only title and tags
	TagOnly bool
}

// ValidateContent checks if the chunk content is valid
func (c *Chunk) ValidateContent() error {
	if strings.TrimSpace(c.Content) == "" {
		return errors.New("chunk content cannot be empty")
	}
	if c.Ordinal < 0 {
		return errors.New("ordinal must not be negative")
	}
	return nil
}

// ComputeTokenCount counts whitespace-separated tokens
func (c *Chunk) ComputeTokenCount() int {
	c.TokenCount = len(strings.Fields(c.Content))
	return c.TokenCount
}

// ComputeContentHash computes the SHA-256 hash of the chunk content
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Content))
}

// EmbeddingText is the text sent to the embedding provider: the heading
// trail gives a body chunk the context of the section it came from.
func (c *Chunk) EmbeddingText(title string) string {
	var b strings.Builder
	if title != "" && !c.TagOnly {
		b.WriteString(title)
		b.WriteString("\n")
	}
	if c.HeadingPath != "" {
		b.WriteString(c.HeadingPath)
		b.WriteString("\n")
	}
	b.WriteString(c.Content)
	return b.String()
}
