package storage

import (
	"context"
	"time"
)

// Store defines the interface for persisting and querying indexed note chunks
type Store interface {
	// Schema operations
	EnsureSchema(ctx context.Context) error
	CheckVersionAndMaybeReset(ctx context.Context, version string) (bool, error)
	Reset(ctx context.Context) error
	Checkpoint(ctx context.Context) error

	// Chunk operations
	PutMany(ctx context.Context, chunks []*NoteChunk) (*PutResult, error)
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
	DeleteByDocumentIDs(ctx context.Context, documentIDs []string) (int, error)
	DeleteNotInIDs(ctx context.Context, documentIDs []string) (int, error)
	DocumentStamps(ctx context.Context, documentIDs []string) (map[string]string, error)

	// Config operations
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error

	// Search operations
	SearchVector(ctx context.Context, vector []float32, limit int, filters *ChunkFilters) ([]ScoredChunk, error)

	// Status operations
	Count(ctx context.Context) (*Counts, error)
	Status(ctx context.Context) (*StoreStatus, error)

	Close() error
}

// Config keys used by the engine
const (
	ConfigSchemaVersion      = "schema_version"
	ConfigLastSyncTime       = "last_sync_time"
	ConfigLastPluginIdentity = "last_plugin_identity"
	ConfigLastEmbeddingModel = "last_embedding_model"
	ConfigEmbeddingDimension = "embedding_dimension"
	ConfigLastRunStats       = "last_run_stats"
)

// Flags are the boolean note attributes carried on every chunk for filtering
type Flags struct {
	Archived     bool `json:"archived"`
	Published    bool `json:"published"`
	SharedByMe   bool `json:"shared_by_me"`
	SharedWithMe bool `json:"shared_with_me"`
	TaskList     bool `json:"task_list"`
}

// NoteChunk is the persisted unit of retrieval
type NoteChunk struct {
	ID                string    `validate:"required"`
	DocumentID        string    `validate:"required"`
	Ordinal           int       `validate:"gte=0"`
	ContentPart       string    `validate:"required"`
	Embedding         []float32 `validate:"required,min=1"`
	HeadingPath       string
	DocumentTitle     string
	DocumentTags      []string
	NormalizedContent string
	TagOnly           bool
	SourceUpdated     string
	Flags             Flags
}

// PutResult summarizes a bulk write. Per-item failures are only counted.
type PutResult struct {
	Attempted int
	Written   int
	Failed    int
}

// ChunkFilters narrows the vector stage. Nil pointer fields do not filter.
type ChunkFilters struct {
	Archived     *bool
	Published    *bool
	SharedByMe   *bool
	SharedWithMe *bool
	TaskList     *bool
	Tags         []string // chunk must carry at least one of these tags
	DocumentIDs  []string
	ExcludeTags  bool // exclude tag-only chunks
}

// ScoredChunk is a Stage-1 candidate
type ScoredChunk struct {
	Chunk      *NoteChunk
	Similarity float64
}

// Counts reports store cardinalities
type Counts struct {
	Documents int // approximate: one tag-only chunk per document
	Rows      int
}

// StoreStatus contains statistics about the open collection
type StoreStatus struct {
	Counts             Counts
	SchemaVersion      string
	LastSyncTime       time.Time
	LastEmbeddingModel string
	LastPluginIdentity string
	EmbeddingDimension int
	SizeMB             float64
	BuildMode          string
}
