package mcp

import (
	"context"
	"errors"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/noteindex/noteindex/internal/embedder"
	"github.com/noteindex/noteindex/internal/host"
	"github.com/noteindex/noteindex/internal/indexer"
	"github.com/noteindex/noteindex/internal/reference"
	"github.com/noteindex/noteindex/internal/sandbox"
	"github.com/noteindex/noteindex/internal/searcher"
	"github.com/noteindex/noteindex/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "noteindex"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Deps are the components the tools operate on. Fetcher may be nil, in
// which case search_reference reports the dataset as unavailable.
type Deps struct {
	Gateway    *storage.Gateway
	Collection string
	Persistent bool

	Indexer  *indexer.Indexer
	Searcher *searcher.Searcher
	Embedder embedder.Embedder

	Tasks   host.TaskSource
	Sandbox *sandbox.Sandbox

	Fetcher   *reference.Fetcher
	Reference reference.Source

	Logger *zap.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp  *server.MCPServer
	deps Deps
	log  *zap.Logger
}

// NewServer creates a new MCP server instance
func NewServer(deps Deps) (*Server, error) {
	if deps.Gateway == nil || deps.Indexer == nil || deps.Searcher == nil || deps.Embedder == nil {
		return nil, errors.New("gateway, indexer, searcher and embedder are required")
	}
	if deps.Tasks == nil || deps.Sandbox == nil {
		return nil, errors.New("task source and sandbox are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:  mcpServer,
		deps: deps,
		log:  logger.With(zap.String("component", "mcp")),
	}
	s.registerTools()
	return s, nil
}

// Serve runs the MCP protocol on stdio until ctx is cancelled or stdin
// closes
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("MCP server ready, listening on stdio")
	stdio := server.NewStdioServer(s.mcp)
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(syncNotesTool(), s.handleSyncNotes)
	s.mcp.AddTool(searchNotesTool(), s.handleSearchNotes)
	s.mcp.AddTool(searchReferenceTool(), s.handleSearchReference)
	s.mcp.AddTool(queryTasksTool(), s.handleQueryTasks)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
