package chunker

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/noteindex/noteindex/pkg/types"
)

const (
	// DefaultTokenBudget is the target maximum token count per chunk
	DefaultTokenBudget = 300

	// MinTokenBudget and MaxTokenBudget bound configurable budgets
	MinTokenBudget = 260
	MaxTokenBudget = 360

	untitled = "Untitled"
)

// Document is a note handed to the chunker
type Document struct {
	ID      string
	Title   string
	Tags    []string
	Content []byte // markdown
}

// Chunker splits markdown notes into heading-scoped, budget-bounded chunks
type Chunker struct {
	parser goldmark.Markdown
	budget int
}

// New creates a Chunker. A non-positive budget selects DefaultTokenBudget.
func New(tokenBudget int) *Chunker {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	return &Chunker{
		parser: goldmark.New(
			goldmark.WithExtensions(extension.Table, extension.Strikethrough),
		),
		budget: tokenBudget,
	}
}

// TokenBudget returns the per-chunk token limit
func (c *Chunker) TokenBudget() int {
	return c.budget
}

// headingInfo is one entry of the heading stack
type headingInfo struct {
	level int
	text  string
}

// pending accumulates tokens for the chunk being built
type pending struct {
	headingPath string
	tokens      []string
}

// ChunkDocument splits doc into body chunks followed by exactly one
// tag-only chunk. Ordinals are assigned after empty chunks are dropped.
func (c *Chunker) ChunkDocument(doc Document) []*types.Chunk {
	var body []*pending

	if len(doc.Content) > 0 {
		root := c.parser.Parser().Parse(text.NewReader(doc.Content))
		body = c.buildChunks(root, doc.Content)
	}

	chunks := make([]*types.Chunk, 0, len(body)+1)
	for _, p := range body {
		if len(p.tokens) == 0 {
			continue
		}
		chunks = append(chunks, &types.Chunk{
			HeadingPath: p.headingPath,
			Content:     strings.Join(p.tokens, " "),
		})
	}
	chunks = append(chunks, &types.Chunk{
		Content: tagContent(doc.Title, doc.Tags),
		TagOnly: true,
	})

	for i, chunk := range chunks {
		chunk.Ordinal = i
		chunk.ComputeTokenCount()
		chunk.ComputeContentHash()
	}
	return chunks
}

// buildChunks walks the top-level blocks keeping a heading stack. Each
// heading opens a chunk; other blocks add their tokens to the current one.
func (c *Chunker) buildChunks(root ast.Node, source []byte) []*pending {
	var chunks []*pending
	var current *pending
	var stack []headingInfo

	open := func(path string) {
		current = &pending{headingPath: path}
		chunks = append(chunks, current)
	}

	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		if heading, ok := n.(*ast.Heading); ok {
			for len(stack) > 0 && stack[len(stack)-1].level >= heading.Level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, headingInfo{level: heading.Level, text: extractTextFromNode(heading, source)})
			open(buildHeadingPath(stack))
			continue
		}

		start, stop, ok := blockSpan(n, source)
		if !ok {
			continue
		}
		if current == nil {
			open("")
		}
		for _, token := range strings.Fields(string(source[start:stop])) {
			if len(current.tokens) >= c.budget {
				open(current.headingPath)
			}
			current.tokens = append(current.tokens, token)
		}
	}

	return chunks
}

// blockSpan returns the byte range covered by the line and text segments
// of n and its descendants
func blockSpan(n ast.Node, source []byte) (int, int, bool) {
	start, stop := -1, -1
	extend := func(s, e int) {
		if s < 0 || e > len(source) || s >= e {
			return
		}
		if start == -1 || s < start {
			start = s
		}
		if e > stop {
			stop = e
		}
	}

	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if node.Type() == ast.TypeBlock {
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				extend(seg.Start, seg.Stop)
			}
		}
		if t, ok := node.(*ast.Text); ok {
			extend(t.Segment.Start, t.Segment.Stop)
		}
		return ast.WalkContinue, nil
	})

	return start, stop, start != -1
}

// buildHeadingPath builds a heading path string from the heading stack.
// Format: "# Heading1 > ## Heading2 > ### Heading3"
func buildHeadingPath(stack []headingInfo) string {
	if len(stack) == 0 {
		return ""
	}

	parts := make([]string, len(stack))
	for i, h := range stack {
		parts[i] = fmt.Sprintf("%s %s", strings.Repeat("#", h.level), h.text)
	}
	return strings.Join(parts, " > ")
}

// extractTextFromNode extracts text content from a node and its children
func extractTextFromNode(n ast.Node, source []byte) string {
	var b strings.Builder

	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(source))
			if v.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(b.String())
}

// tagContent renders the tag-only chunk
func tagContent(title string, tags []string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = untitled
	}
	if len(tags) == 0 {
		return title
	}
	return title + "\ntags: " + strings.Join(tags, ", ")
}
