package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteindex/noteindex/pkg/types"
)

func words(n int, prefix string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = prefix + strings.Repeat("x", i%3)
	}
	return strings.Join(parts, " ")
}

func bodyChunks(chunks []*types.Chunk) []*types.Chunk {
	var out []*types.Chunk
	for _, c := range chunks {
		if !c.TagOnly {
			out = append(out, c)
		}
	}
	return out
}

func TestChunkDocument_HeadingPaths(t *testing.T) {
	c := New(DefaultTokenBudget)
	md := `Intro line before headings.

# Project

Overview text.

## Tasks

- buy milk
- call bob

## Ideas

Something clever.

# Other

Closing words.
`
	chunks := c.ChunkDocument(Document{ID: "n1", Title: "Project", Tags: []string{"work"}, Content: []byte(md)})
	body := bodyChunks(chunks)
	require.Len(t, body, 5)

	assert.Equal(t, "", body[0].HeadingPath)
	assert.Equal(t, "Intro line before headings.", body[0].Content)
	assert.Equal(t, "# Project", body[1].HeadingPath)
	assert.Equal(t, "# Project > ## Tasks", body[2].HeadingPath)
	assert.Contains(t, body[2].Content, "buy milk")
	assert.Contains(t, body[2].Content, "call bob")
	assert.Equal(t, "# Project > ## Ideas", body[3].HeadingPath)
	assert.Equal(t, "# Other", body[4].HeadingPath)
	assert.Equal(t, "Closing words.", body[4].Content)
}

func TestChunkDocument_ExactlyOneTagChunk(t *testing.T) {
	c := New(DefaultTokenBudget)

	tests := []struct {
		name    string
		doc     Document
		content string
	}{
		{"with tags", Document{Title: "Groceries", Tags: []string{"home", "food"}, Content: []byte("milk")}, "Groceries\ntags: home, food"},
		{"without tags", Document{Title: "Groceries", Content: []byte("milk")}, "Groceries"},
		{"empty body", Document{Title: "Empty"}, "Empty"},
		{"no title", Document{Content: []byte("text")}, "Untitled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := c.ChunkDocument(tt.doc)
			var tagChunks []*types.Chunk
			for _, ch := range chunks {
				if ch.TagOnly {
					tagChunks = append(tagChunks, ch)
				}
			}
			require.Len(t, tagChunks, 1)
			assert.Equal(t, tt.content, tagChunks[0].Content)
			assert.Equal(t, "", tagChunks[0].HeadingPath)
			// The tag chunk is always last
			assert.Same(t, tagChunks[0], chunks[len(chunks)-1])
		})
	}
}

func TestChunkDocument_NoHeadings(t *testing.T) {
	c := New(DefaultTokenBudget)
	chunks := c.ChunkDocument(Document{Title: "Plain", Content: []byte("just one paragraph\n\nand another")})

	require.Len(t, chunks, 2)
	assert.Equal(t, "just one paragraph and another", chunks[0].Content)
	assert.Equal(t, "", chunks[0].HeadingPath)
	assert.True(t, chunks[1].TagOnly)
}

func TestChunkDocument_TokenBudget(t *testing.T) {
	c := New(MinTokenBudget)
	section := words(700, "w")
	md := "# Long\n\n" + section + "\n\n# Short\n\nsmall section\n"

	chunks := c.ChunkDocument(Document{Title: "Budget", Content: []byte(md)})
	body := bodyChunks(chunks)

	var long []string
	for _, ch := range body {
		assert.LessOrEqual(t, ch.TokenCount, MinTokenBudget)
		if ch.HeadingPath == "# Long" {
			long = append(long, ch.Content)
		}
	}

	// 700 tokens over a 260 budget: 260 + 260 + 180
	require.Len(t, long, 3)
	assert.Equal(t, strings.Join(strings.Fields(section), " "), strings.Join(long, " "))
	assert.Equal(t, "# Short", body[len(body)-1].HeadingPath)
}

func TestChunkDocument_EmptyHeadingsDropped(t *testing.T) {
	c := New(DefaultTokenBudget)
	md := "# A\n## B\n### C\n\nonly content\n"

	body := bodyChunks(c.ChunkDocument(Document{Title: "T", Content: []byte(md)}))
	require.Len(t, body, 1)
	assert.Equal(t, "# A > ## B > ### C", body[0].HeadingPath)
}

func TestChunkDocument_OrdinalsAreContiguous(t *testing.T) {
	c := New(DefaultTokenBudget)
	md := "# A\n\n# B\n\ntext b\n\n# C\n\n# D\n\ntext d\n"

	chunks := c.ChunkDocument(Document{Title: "T", Content: []byte(md)})
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ordinal)
		assert.NotEqual(t, [32]byte{}, ch.ContentHash)
	}
}

func TestChunkDocument_StackPopsSameLevel(t *testing.T) {
	c := New(DefaultTokenBudget)
	md := "## Deep first\n\none\n\n# Top\n\ntwo\n\n### Three\n\nthree\n"

	body := bodyChunks(c.ChunkDocument(Document{Title: "T", Content: []byte(md)}))
	require.Len(t, body, 3)
	assert.Equal(t, "## Deep first", body[0].HeadingPath)
	assert.Equal(t, "# Top", body[1].HeadingPath)
	assert.Equal(t, "# Top > ### Three", body[2].HeadingPath)
}

func TestChunkDocument_CodeAndTables(t *testing.T) {
	c := New(DefaultTokenBudget)
	md := "# Code\n\n```go\nfmt.Println(\"hi\")\n```\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"

	body := bodyChunks(c.ChunkDocument(Document{Title: "T", Content: []byte(md)}))
	require.Len(t, body, 1)
	assert.Contains(t, body[0].Content, `fmt.Println("hi")`)
	assert.Contains(t, body[0].Content, "1")
}

func TestNew_DefaultBudget(t *testing.T) {
	assert.Equal(t, DefaultTokenBudget, New(0).TokenBudget())
	assert.Equal(t, 300, New(300).TokenBudget())
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello, World!", "hello world"},
		{"  multiple   spaces\n\tand tabs ", "multiple spaces and tabs"},
		{"Café déjà-vu", "café déjà vu"},
		{"v2.0 release", "v2 0 release"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in))
	}
}

func BenchmarkChunkDocument(b *testing.B) {
	var sb strings.Builder
	for section := 0; section < 20; section++ {
		fmt.Fprintf(&sb, "# Section %d\n\n%s\n\n## Details\n\n%s\n\n", section, words(150, "alpha"), words(400, "beta"))
	}
	doc := Document{ID: "bench", Title: "Bench", Tags: []string{"a", "b"}, Content: []byte(sb.String())}
	c := New(DefaultTokenBudget)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if chunks := c.ChunkDocument(doc); len(chunks) == 0 {
			b.Fatal("no chunks")
		}
	}
}
