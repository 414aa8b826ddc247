// Package mcp implements the Model Context Protocol (MCP) server for noteindex.
//
// The MCP server exposes five tools to chat assistants:
//   - sync_notes: Index notes changed since the last sync
//   - search_notes: Hybrid search over the indexed notes
//   - search_reference: Vector search over the bundled reference documentation
//   - query_tasks: Read-only SQL over a fresh snapshot of the user's tasks
//   - get_status: Index statistics and the last sync run
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only; all logging goes to stderr.
//
// # Tool: sync_notes
//
//	Request:
//	{
//	  "name": "sync_notes",
//	  "arguments": {"confirm_cost": false, "allow_non_durable": false}
//	}
//
//	Response:
//	{
//	  "outcome": "done",
//	  "documents_indexed": 12,
//	  "documents_resumed": 0,
//	  "chunks_written": 57,
//	  "orphans_deleted": 1,
//	  "duration_ms": 840
//	}
//
// A run whose estimated embedding cost exceeds the configured threshold, or
// that would write to a store that cannot survive a restart, stops before
// embedding anything and answers with "outcome": "declined", the reason and
// a hint naming the flag that lets the next call proceed.
//
// # Tool: search_notes
//
//	Request:
//	{
//	  "name": "search_notes",
//	  "arguments": {
//	    "query": "what did I plant in the raised beds",
//	    "limit": 5,
//	    "threshold": 0.2,
//	    "filters": {"archived": false, "tags": ["home"]}
//	  }
//	}
//
// Results carry the note and chunk ids, the heading path, the fused
// relevance score and the raw cosine similarity.
//
// # Tool: query_tasks
//
//	Request:
//	{
//	  "name": "query_tasks",
//	  "arguments": {
//	    "sql": "SELECT content FROM tasks WHERE completed_at IS NULL AND important"
//	  }
//	}
//
// The task snapshot is rebuilt before each call. Statements that write, read
// any table but tasks, or touch virtual tables are refused with
// ErrorCodeQueryRejected and the name of the violated rule.
//
// # Error Handling
//
// Errors are returned as *MCPError with JSON-RPC style codes:
//   - -32602: Invalid parameters
//   - -32603: Internal error
//   - -32002: Sync run failed
//   - -32003: Notes not indexed yet
//   - -32004: Empty query
//   - -32005: Task query rejected
//   - -32006: Reference documentation unavailable
package mcp
