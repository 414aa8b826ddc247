package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// syncNotesTool returns the tool definition for sync_notes
func syncNotesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "sync_notes",
		Description: "Index notes changed since the last sync so they can be searched",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"confirm_cost": map[string]interface{}{
					"type":        "boolean",
					"description": "Proceed even when the estimated embedding cost exceeds the configured threshold",
					"default":     false,
				},
				"allow_non_durable": map[string]interface{}{
					"type":        "boolean",
					"description": "Proceed even when the store cannot persist across restarts",
					"default":     false,
				},
			},
		},
	}
}

// searchNotesTool returns the tool definition for search_notes
func searchNotesTool() mcp.Tool {
	flag := func(description string) map[string]interface{} {
		return map[string]interface{}{
			"type":        "boolean",
			"description": description,
		}
	}
	return mcp.Tool{
		Name:        "search_notes",
		Description: "Search indexed notes with a natural language or keyword query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"threshold": map[string]interface{}{
					"type":        "number",
					"description": "Minimum cosine similarity of returned chunks (-1.0-1.0)",
					"default":     0.0,
					"minimum":     -1.0,
					"maximum":     1.0,
				},
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Optional filters to narrow search",
					"properties": map[string]interface{}{
						"archived":       flag("Only archived (true) or unarchived (false) notes"),
						"published":      flag("Only published (true) or unpublished (false) notes"),
						"shared_by_me":   flag("Only notes the user shares (true) or does not share (false)"),
						"shared_with_me": flag("Only notes shared with the user (true) or not (false)"),
						"task_list":      flag("Only notes that do (true) or do not (false) contain tasks"),
						"tags": map[string]interface{}{
							"type":        "array",
							"description": "Only notes carrying at least one of these tags",
							"items":       map[string]interface{}{"type": "string"},
						},
						"note_ids": map[string]interface{}{
							"type":        "array",
							"description": "Only these notes",
							"items":       map[string]interface{}{"type": "string"},
						},
						"exclude_tag_chunks": flag("Skip the per-note tag summary chunks"),
					},
				},
			},
			Required: []string{"query"},
		},
	}
}

// searchReferenceTool returns the tool definition for search_reference
func searchReferenceTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_reference",
		Description: "Search the bundled reference documentation by meaning",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What to look for in the reference documentation",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"query"},
		},
	}
}

// queryTasksTool returns the tool definition for query_tasks
func queryTasksTool() mcp.Tool {
	return mcp.Tool{
		Name: "query_tasks",
		Description: "Run one read-only SQL query against a fresh snapshot of the user's tasks. " +
			"Table: tasks(uuid, note_uuid, domain_uuid, domain_name, content, important, urgent, score, " +
			"start_at, end_at, completed_at, dismissed_at, hide_until, created_at). " +
			"Timestamps are UTC 'YYYY-MM-DD HH:MM:SS' text or NULL. At most 500 rows are returned.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sql": map[string]interface{}{
					"type":        "string",
					"description": "A single SELECT, WITH or VALUES statement over the tasks table",
				},
			},
			Required: []string{"sql"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics, the last sync run and the embedding model in use",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
