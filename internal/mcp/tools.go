package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/noteindex/noteindex/internal/embedder"
	"github.com/noteindex/noteindex/internal/indexer"
	"github.com/noteindex/noteindex/internal/reference"
	"github.com/noteindex/noteindex/internal/searcher"
	"github.com/noteindex/noteindex/internal/storage"
	"github.com/noteindex/noteindex/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams        = -32602 // Invalid method parameters
	ErrorCodeInternalError        = -32603 // Internal JSON-RPC error
	ErrorCodeSyncFailed           = -32002 // Sync run ended with an error
	ErrorCodeNotIndexed           = -32003 // No notes indexed yet
	ErrorCodeEmptyQuery           = -32004 // Query parameter is empty
	ErrorCodeQueryRejected        = -32005 // Task query failed sandbox validation
	ErrorCodeReferenceUnavailable = -32006 // Reference dataset missing or incompatible
)

// maxReportedErrors caps per-document errors echoed in a sync response
const maxReportedErrors = 5

// handleSyncNotes handles the sync_notes tool invocation
func (s *Server) handleSyncNotes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	confirmCost, err := boolParam(args, "confirm_cost", false)
	if err != nil {
		return nil, err
	}
	allowNonDurable, err := boolParam(args, "allow_non_durable", false)
	if err != nil {
		return nil, err
	}

	stats, err := s.deps.Indexer.Sync(ctx, indexer.StaticConfirmer{
		AllowCost:       confirmCost,
		AllowNonDurable: allowNonDurable,
	})
	if err != nil {
		data := map[string]interface{}{"error": err.Error()}
		if stats != nil {
			data["run_id"] = stats.RunID
			data["shared_run"] = stats.Shared
		}
		return nil, newMCPError(ErrorCodeSyncFailed, indexer.UserMessage(err), data)
	}

	if stats.Outcome == indexer.OutcomeDeclined {
		response := map[string]interface{}{
			"outcome":         stats.Outcome,
			"reason":          stats.DeclineReason,
			"documents_dirty": stats.DocumentsDirty,
			"chunks_created":  stats.ChunksCreated,
			"estimated_cost":  stats.EstimatedCost,
			"shared_run":      stats.Shared,
		}
		switch stats.DeclineReason {
		case indexer.DeclineCost:
			response["hint"] = "call sync_notes again with confirm_cost=true to proceed"
		case indexer.DeclineNonDurable:
			response["hint"] = "call sync_notes again with allow_non_durable=true to proceed"
		}
		if stats.Shared {
			response["note"] = "this result came from a sync already in progress; its confirmations applied"
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	response := map[string]interface{}{
		"outcome":           stats.Outcome,
		"run_id":            stats.RunID,
		"documents_listed":  stats.DocumentsListed,
		"documents_indexed": stats.DocumentsIndexed,
		"documents_resumed": stats.DocumentsResumed,
		"documents_failed":  stats.DocumentsFailed,
		"chunks_written":    stats.ChunksWritten,
		"chunks_failed":     stats.ChunksFailed,
		"orphans_deleted":   stats.OrphansDeleted,
		"schema_reset":      stats.SchemaReset,
		"identity_reset":    stats.IdentityReset,
		"duration_ms":       stats.Duration.Milliseconds(),
		"shared_run":        stats.Shared,
	}

	if len(stats.ErrorMessages) > 0 {
		// Include first few errors
		errorCount := len(stats.ErrorMessages)
		if errorCount > maxReportedErrors {
			response["errors"] = stats.ErrorMessages[:maxReportedErrors]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchNotes handles the search_notes tool invocation
func (s *Server) handleSearchNotes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query, err := queryParam(args, "query")
	if err != nil {
		return nil, err
	}
	limit, err := limitParam(args)
	if err != nil {
		return nil, err
	}
	threshold, err := floatParam(args, "threshold", 0)
	if err != nil {
		return nil, err
	}
	if threshold < -1 || threshold > 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "threshold must be between -1 and 1", map[string]interface{}{
			"param": "threshold",
			"value": threshold,
		})
	}
	filters, err := filtersParam(args)
	if err != nil {
		return nil, err
	}

	snap, err := s.storeStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to open note index", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if snap.status.Counts.Rows == 0 {
		return nil, newMCPError(ErrorCodeNotIndexed, "notes not indexed; run sync_notes first", nil)
	}

	resp, err := s.deps.Searcher.Search(ctx, searcher.SearchRequest{
		Query:     query,
		Limit:     limit,
		Threshold: threshold,
		Filters:   filters,
		UseCache:  true,
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]interface{}{
			"rank":       r.Rank,
			"note_id":    r.DocumentID,
			"chunk_id":   r.ChunkID,
			"title":      r.DocumentTitle,
			"heading":    r.HeadingPath,
			"tags":       r.DocumentTags,
			"content":    r.Content,
			"relevance":  r.RelevanceScore,
			"similarity": r.Similarity,
		})
	}

	response := map[string]interface{}{
		"query":         query,
		"total_results": resp.TotalResults,
		"candidates":    resp.Candidates,
		"cache_hit":     resp.CacheHit,
		"duration_ms":   resp.Duration.Milliseconds(),
		"results":       results,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchReference handles the search_reference tool invocation
func (s *Server) handleSearchReference(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	query, err := queryParam(args, "query")
	if err != nil {
		return nil, err
	}
	limit, err := limitParam(args)
	if err != nil {
		return nil, err
	}

	if s.deps.Fetcher == nil {
		return nil, newMCPError(ErrorCodeReferenceUnavailable, "reference documentation is not configured", nil)
	}
	src := s.deps.Reference
	if src.Provider == "" {
		src.Provider = s.deps.Embedder.Provider()
	}

	ds, err := s.deps.Fetcher.Ensure(ctx, src)
	if err != nil {
		s.log.Warn("reference dataset unavailable", zap.Error(err))
		return nil, newMCPError(ErrorCodeReferenceUnavailable, "reference documentation is unavailable", map[string]interface{}{
			"error": err.Error(),
		})
	}

	emb, err := s.deps.Embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
		Text: query,
		Kind: embedder.KindQuery,
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to embed query", map[string]interface{}{
			"error": err.Error(),
		})
	}

	found, err := ds.Search(ctx, emb.Vector, limit)
	if errors.Is(err, reference.ErrDimensionMismatch) {
		return nil, newMCPError(ErrorCodeReferenceUnavailable, "reference documentation was built for another embedding model", map[string]interface{}{
			"provider": src.Provider,
			"version":  src.Version,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "reference search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := make([]map[string]interface{}, 0, len(found))
	for _, r := range found {
		results = append(results, map[string]interface{}{
			"rank":       r.Rank,
			"id":         r.ID,
			"title":      r.Title,
			"url":        r.URL,
			"content":    r.Content,
			"similarity": r.Similarity,
		})
	}
	response := map[string]interface{}{
		"query":         query,
		"version":       ds.Version(),
		"total_results": len(results),
		"results":       results,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleQueryTasks handles the query_tasks tool invocation
func (s *Server) handleQueryTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	query, err := queryParam(args, "sql")
	if err != nil {
		return nil, err
	}

	count, err := s.deps.Sandbox.Rebuild(ctx, s.deps.Tasks)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to load tasks", map[string]interface{}{
			"error": err.Error(),
		})
	}

	result, err := s.deps.Sandbox.Query(ctx, query)
	var rejected *types.QueryRejectedError
	if errors.As(err, &rejected) {
		return nil, newMCPError(ErrorCodeQueryRejected, rejected.Error(), map[string]interface{}{
			"rule":   rejected.Rule,
			"detail": rejected.Detail,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "task query failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"columns":    result.Columns,
		"rows":       result.Rows,
		"row_count":  len(result.Rows),
		"truncated":  result.Truncated,
		"task_count": count,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.storeStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	status := snap.status
	store := map[string]interface{}{
		"documents":            status.Counts.Documents,
		"chunks":               status.Counts.Rows,
		"schema_version":       status.SchemaVersion,
		"last_embedding_model": status.LastEmbeddingModel,
		"last_plugin_identity": status.LastPluginIdentity,
		"embedding_dimension":  status.EmbeddingDimension,
		"size_mb":              fmt.Sprintf("%.2f", status.SizeMB),
		"build_mode":           status.BuildMode,
	}
	if !status.LastSyncTime.IsZero() {
		store["last_sync_time"] = status.LastSyncTime.Format(time.RFC3339)
	}

	response := map[string]interface{}{
		"indexed":         status.Counts.Rows > 0,
		"collection":      s.deps.Collection,
		"persistent":      s.deps.Persistent,
		"durable":         snap.durable,
		"sync_running":    s.deps.Indexer.Running(),
		"embedding_model": embedder.Identity(s.deps.Embedder),
		"store":           store,
	}

	// The in-process run is fresher than the persisted one, which only
	// records completed runs
	if last, ok := s.deps.Indexer.LastRun(); ok {
		response["last_run"] = last
	} else if snap.lastRun != "" {
		response["last_run"] = json.RawMessage(snap.lastRun)
	}
	if at := s.deps.Sandbox.RebuiltAt(); !at.IsZero() {
		response["tasks_snapshot_at"] = at.Format(time.RFC3339)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

type statusSnapshot struct {
	status  *storage.StoreStatus
	lastRun string // persisted statistics of the last completed sync
	durable bool
}

// storeStatus opens the configured collection and reads its statistics
func (s *Server) storeStatus(ctx context.Context) (*statusSnapshot, error) {
	gw := s.deps.Gateway
	gw.Lock()
	defer gw.Unlock()

	store, err := gw.Acquire(ctx, s.deps.Collection, s.deps.Persistent)
	if err != nil {
		return nil, err
	}
	status, err := store.Status(ctx)
	if err != nil {
		return nil, err
	}
	lastRun, _, err := store.GetConfig(ctx, storage.ConfigLastRunStats)
	if err != nil {
		return nil, err
	}
	return &statusSnapshot{status: status, lastRun: lastRun, durable: gw.Durable(ctx)}, nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// arguments returns the call's argument object; a call without arguments
// yields an empty one
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

func invalidParam(key string, reason string) error {
	return newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("invalid %s parameter", key), map[string]interface{}{
		"param":  key,
		"reason": reason,
	})
}

// queryParam extracts a required, non-blank string parameter
func queryParam(args map[string]interface{}, key string) (string, error) {
	query, _ := args[key].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return "", newMCPError(ErrorCodeEmptyQuery, key+" parameter is required and cannot be empty", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return query, nil
}

func limitParam(args map[string]interface{}) (int, error) {
	limit, err := intParam(args, "limit", searcher.DefaultLimit)
	if err != nil {
		return 0, err
	}
	if limit < 1 || limit > searcher.MaxLimit {
		return 0, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}
	return limit, nil
}

// boolParam extracts a boolean parameter with a default value
func boolParam(args map[string]interface{}, key string, defaultValue bool) (bool, error) {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultValue, nil
	}
	b, err := cast.ToBoolE(val)
	if err != nil {
		return false, invalidParam(key, err.Error())
	}
	return b, nil
}

// intParam extracts an integer parameter with a default value
func intParam(args map[string]interface{}, key string, defaultValue int) (int, error) {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultValue, nil
	}
	n, err := cast.ToIntE(val)
	if err != nil {
		return 0, invalidParam(key, err.Error())
	}
	return n, nil
}

// floatParam extracts a number parameter with a default value
func floatParam(args map[string]interface{}, key string, defaultValue float64) (float64, error) {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultValue, nil
	}
	f, err := cast.ToFloat64E(val)
	if err != nil {
		return 0, invalidParam(key, err.Error())
	}
	return f, nil
}

// filtersParam maps the optional filters object onto store filters. Absent
// flags leave that attribute unconstrained.
func filtersParam(args map[string]interface{}) (*storage.ChunkFilters, error) {
	raw, ok := args["filters"]
	if !ok || raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, invalidParam("filters", "must be an object")
	}

	filters := &storage.ChunkFilters{}
	flags := map[string]**bool{
		"archived":       &filters.Archived,
		"published":      &filters.Published,
		"shared_by_me":   &filters.SharedByMe,
		"shared_with_me": &filters.SharedWithMe,
		"task_list":      &filters.TaskList,
	}
	for key, dst := range flags {
		val, ok := obj[key]
		if !ok || val == nil {
			continue
		}
		b, err := cast.ToBoolE(val)
		if err != nil {
			return nil, invalidParam("filters."+key, err.Error())
		}
		*dst = &b
	}

	var err error
	if val, ok := obj["tags"]; ok && val != nil {
		if filters.Tags, err = cast.ToStringSliceE(val); err != nil {
			return nil, invalidParam("filters.tags", err.Error())
		}
	}
	if val, ok := obj["note_ids"]; ok && val != nil {
		if filters.DocumentIDs, err = cast.ToStringSliceE(val); err != nil {
			return nil, invalidParam("filters.note_ids", err.Error())
		}
	}
	if filters.ExcludeTags, err = boolParam(obj, "exclude_tag_chunks", false); err != nil {
		return nil, err
	}
	return filters, nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}
