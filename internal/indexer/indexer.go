package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/noteindex/noteindex/internal/chunker"
	"github.com/noteindex/noteindex/internal/embedder"
	"github.com/noteindex/noteindex/internal/host"
	"github.com/noteindex/noteindex/internal/metrics"
	"github.com/noteindex/noteindex/internal/storage"
	"github.com/noteindex/noteindex/pkg/types"
)

const (
	// DefaultBatchSize is the number of documents embedded and committed together
	DefaultBatchSize = 20

	// DefaultPluginIdentity identifies the chunking pipeline; changing it
	// invalidates every stored chunk
	DefaultPluginIdentity = "noteindex/1"
)

var errSchedulerClosed = errors.New("scheduler closed")

// Reasons recorded in Statistics.DeclineReason
const (
	DeclineNonDurable = "storage is not durable"
	DeclineCost       = "estimated cost not confirmed"
)

// Outcome is how a sync run ended
type Outcome string

const (
	OutcomeDone     Outcome = "done"
	OutcomeDeclined Outcome = "declined"
	OutcomeError    Outcome = "error"
)

// Indexer coordinates the sync pipeline: delta -> chunk -> embed -> store
type Indexer struct {
	gateway   *storage.Gateway
	notes     host.NoteSource
	embedder  embedder.Embedder
	chunker   *chunker.Chunker
	scheduler *Scheduler
	cfg       Config

	logger   *zap.Logger
	metrics  *metrics.Metrics
	progress ProgressReporter

	flight  singleflight.Group
	running RunLock

	mu    sync.Mutex
	hooks []func(*Statistics)
	last  *Statistics
}

// Config contains configuration for the indexer
type Config struct {
	Collection     string  // collection name handed to the gateway
	Persistent     bool    // file-backed collection
	BatchSize      int     // documents per batch (default: 20)
	TokenBudget    int     // splitter token budget (default: chunker.DefaultTokenBudget)
	CostThreshold  float64 // estimates above this need confirmation; <= 0 never asks
	CostPerChunk   float64 // estimated provider cost of one chunk
	PluginIdentity string  // default: DefaultPluginIdentity
	SchemaVersion  string  // default: storage.CurrentSchemaVersion
}

// Statistics contains statistics about one sync run
type Statistics struct {
	RunID            string        `json:"run_id"`
	Outcome          Outcome       `json:"outcome"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	SchemaReset      bool          `json:"schema_reset"`
	IdentityReset    bool          `json:"identity_reset"`
	DocumentsListed  int           `json:"documents_listed"`
	DocumentsDirty   int           `json:"documents_dirty"`
	DocumentsResumed int           `json:"documents_resumed"`
	DocumentsIndexed int           `json:"documents_indexed"`
	DocumentsFailed  int           `json:"documents_failed"`
	ChunksCreated    int           `json:"chunks_created"`
	ChunksWritten    int           `json:"chunks_written"`
	ChunksFailed     int           `json:"chunks_failed"`
	OrphansDeleted   int           `json:"orphans_deleted"`
	Batches          int           `json:"batches"`
	EstimatedCost    float64       `json:"estimated_cost"`
	DeclineReason    string        `json:"decline_reason,omitempty"`
	Shared           bool          `json:"shared,omitempty"`
	Cursor           string        `json:"cursor,omitempty"`
	Error            string        `json:"error,omitempty"`
	ErrorMessages    []string      `json:"error_messages,omitempty"`
}

// Option configures an Indexer
type Option func(*Indexer)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(idx *Indexer) {
		if logger != nil {
			idx.logger = logger
		}
	}
}

// WithMetrics records every run in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(idx *Indexer) { idx.metrics = m }
}

// WithProgress sends state transitions to r
func WithProgress(r ProgressReporter) Option {
	return func(idx *Indexer) { idx.progress = r }
}

// New creates a new Indexer instance
func New(gateway *storage.Gateway, notes host.NoteSource, emb embedder.Embedder, cfg Config, opts ...Option) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PluginIdentity == "" {
		cfg.PluginIdentity = DefaultPluginIdentity
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = storage.CurrentSchemaVersion
	}

	idx := &Indexer{
		gateway:   gateway,
		notes:     notes,
		embedder:  emb,
		chunker:   chunker.New(cfg.TokenBudget),
		scheduler: NewScheduler(),
		cfg:       cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = idx.logger.With(zap.String("component", "indexer"))
	return idx
}

// OnComplete registers fn to run after every sync that may have changed
// the store
func (idx *Indexer) OnComplete(fn func(*Statistics)) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.hooks = append(idx.hooks, fn)
}

// Running reports whether a sync is in flight
func (idx *Indexer) Running() bool {
	return idx.running.Held()
}

// LastRun returns the statistics of the most recent run in this process
func (idx *Indexer) LastRun() (Statistics, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.last == nil {
		return Statistics{}, false
	}
	return *idx.last, true
}

// Close stops the background scheduler
func (idx *Indexer) Close() {
	idx.scheduler.Close()
}

// Sync brings the store up to date with the host's notes. Only one run is
// active at a time: concurrent callers wait for and share the in-flight
// run's result, including its confirmation decisions. Such results are
// copies marked Shared. A declined prompt ends the run with OutcomeDeclined
// and a nil error.
func (idx *Indexer) Sync(ctx context.Context, confirm Confirmer) (*Statistics, error) {
	v, err, shared := idx.flight.Do("sync", func() (interface{}, error) {
		return idx.run(ctx, confirm)
	})
	stats, _ := v.(*Statistics)
	if shared && stats != nil {
		idx.logger.Debug("sync result shared between callers", zap.String("run_id", stats.RunID))
		copied := *stats
		copied.Shared = true
		stats = &copied
	}
	return stats, err
}

func (idx *Indexer) run(ctx context.Context, confirm Confirmer) (*Statistics, error) {
	if !idx.running.TryAcquire() {
		return nil, errors.New("sync already running")
	}
	defer idx.running.Release()

	if confirm == nil {
		confirm = StaticConfirmer{}
	}

	stats := &Statistics{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	r := &syncRun{
		idx:     idx,
		stats:   stats,
		confirm: confirm,
		logger:  idx.logger.With(zap.String("run_id", stats.RunID)),
	}

	err := r.execute(ctx)
	stats.Duration = time.Since(stats.StartedAt)

	if err != nil {
		stats.Outcome = OutcomeError
		stats.Error = err.Error()
		r.logger.Error("sync failed", zap.Error(err))
		r.report(StateError, UserMessage(err), 0, 0)
	}

	idx.metrics.ObserveSync(string(stats.Outcome), stats.Duration, stats.ChunksWritten, stats.ChunksFailed, stats.OrphansDeleted)

	idx.mu.Lock()
	snapshot := *stats
	idx.last = &snapshot
	hooks := append([]func(*Statistics){}, idx.hooks...)
	idx.mu.Unlock()

	if stats.Outcome != OutcomeDeclined {
		for _, hook := range hooks {
			hook(stats)
		}
	}

	if err != nil {
		return stats, fmt.Errorf("sync %s: %w", stats.RunID, err)
	}
	return stats, nil
}

// syncRun holds the state of one pass through the state machine
type syncRun struct {
	idx     *Indexer
	stats   *Statistics
	confirm Confirmer
	logger  *zap.Logger
}

func (r *syncRun) report(state State, message string, done, total int) {
	r.logger.Debug("sync state", zap.String("state", string(state)), zap.String("message", message))
	if r.idx.progress != nil {
		r.idx.progress.Report(Progress{
			RunID:        r.stats.RunID,
			State:        state,
			Message:      message,
			BatchesDone:  done,
			BatchesTotal: total,
		})
	}
}

func (r *syncRun) decline(reason string) {
	r.stats.Outcome = OutcomeDeclined
	r.stats.DeclineReason = reason
	r.logger.Info("sync declined", zap.String("reason", reason))
	r.report(StateDone, "sync cancelled: "+reason, 0, 0)
}

func (r *syncRun) execute(ctx context.Context) error {
	idx := r.idx
	r.report(StateStart, "starting sync", 0, 0)

	idx.gateway.Lock()
	defer idx.gateway.Unlock()

	store, err := idx.gateway.Acquire(ctx, idx.cfg.Collection, idx.cfg.Persistent)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrInitialization, err)
	}

	if !idx.gateway.Durable(ctx) {
		ok, err := r.confirm.ConfirmNoDurability(ctx)
		if err != nil {
			return fmt.Errorf("durability confirmation: %w", err)
		}
		if !ok {
			r.decline(DeclineNonDurable)
			return nil
		}
	}

	r.report(StateCheckpointInitial, "", 0, 0)
	if err := store.Checkpoint(ctx); err != nil {
		return fmt.Errorf("initial checkpoint: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	reset, err := store.CheckVersionAndMaybeReset(ctx, idx.cfg.SchemaVersion)
	if err != nil {
		return err
	}
	r.stats.SchemaReset = reset

	r.report(StateResetIfStale, "", 0, 0)
	if err := r.resetIfStale(ctx, store); err != nil {
		return err
	}

	r.report(StateDelta, "finding changed notes", 0, 0)
	notes, err := idx.notes.ListNotes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list notes: %w", err)
	}
	r.stats.DocumentsListed = len(notes)

	since, err := r.cursor(ctx, store)
	if err != nil {
		return err
	}
	docs, err := r.delta(ctx, store, notes, since)
	if err != nil {
		return err
	}

	r.report(StateBatchInit, fmt.Sprintf("preparing %d notes", len(docs)), 0, 0)
	batches, err := r.prepareBatches(ctx, docs)
	if err != nil {
		return err
	}
	r.stats.Batches = len(batches)

	if len(batches) > 0 {
		r.report(StateCostConfirm, "", 0, len(batches))
		ok, err := r.confirmCost(ctx, batches)
		if err != nil {
			return err
		}
		if !ok {
			r.decline(DeclineCost)
			return nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.sanitizeOrphans(gctx, store, notes)
	})
	g.Go(func() error {
		return r.batchLoop(gctx, store, batches)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	return r.finalize(ctx, store, docs)
}

// resetIfStale empties the store when it was built with another embedding
// model or pipeline, so vectors from different spaces are never compared
func (r *syncRun) resetIfStale(ctx context.Context, store storage.Store) error {
	model := embedder.Identity(r.idx.embedder)

	storedModel, hasModel, err := store.GetConfig(ctx, storage.ConfigLastEmbeddingModel)
	if err != nil {
		return err
	}
	storedPlugin, hasPlugin, err := store.GetConfig(ctx, storage.ConfigLastPluginIdentity)
	if err != nil {
		return err
	}

	if (hasModel && storedModel != model) || (hasPlugin && storedPlugin != r.idx.cfg.PluginIdentity) {
		r.logger.Info("embedding identity changed, resetting store",
			zap.String("stored_model", storedModel),
			zap.String("model", model),
			zap.String("stored_plugin", storedPlugin),
			zap.String("plugin", r.idx.cfg.PluginIdentity))
		if err := store.Reset(ctx); err != nil {
			return err
		}
		r.stats.IdentityReset = true
	}
	return nil
}

func (r *syncRun) sanitizeOrphans(ctx context.Context, store storage.Store, notes []host.Note) error {
	ids := make([]string, len(notes))
	for i, n := range notes {
		ids[i] = n.UUID
	}

	return r.idx.scheduler.Do(ctx, func(ctx context.Context) error {
		r.report(StateSanitizeOrphans, "", 0, 0)
		deleted, err := store.DeleteNotInIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("failed to remove deleted notes: %w", err)
		}
		r.stats.OrphansDeleted = deleted
		if deleted > 0 {
			r.logger.Info("removed chunks of deleted notes", zap.Int("chunks", deleted))
		}
		return nil
	})
}

func (r *syncRun) advanceIdentity(ctx context.Context, store storage.Store) error {
	if err := store.SetConfig(ctx, storage.ConfigLastPluginIdentity, r.idx.cfg.PluginIdentity); err != nil {
		return err
	}
	return store.SetConfig(ctx, storage.ConfigLastEmbeddingModel, embedder.Identity(r.idx.embedder))
}

func (r *syncRun) finalize(ctx context.Context, store storage.Store, docs []*docWork) error {
	r.report(StateFinalize, "", r.stats.Batches, r.stats.Batches)

	if err := r.advanceIdentity(ctx, store); err != nil {
		return err
	}
	if cursor, ok := finalCursor(docs); ok {
		r.stats.Cursor = cursor.UTC().Format(time.RFC3339Nano)
		if err := store.SetConfig(ctx, storage.ConfigLastSyncTime, r.stats.Cursor); err != nil {
			return err
		}
	}

	r.stats.Outcome = OutcomeDone
	r.stats.Duration = time.Since(r.stats.StartedAt)
	if data, err := json.Marshal(r.stats); err == nil {
		if err := store.SetConfig(ctx, storage.ConfigLastRunStats, string(data)); err != nil {
			return err
		}
	}

	if err := store.Checkpoint(ctx); err != nil {
		return fmt.Errorf("final checkpoint: %w", err)
	}

	r.logger.Info("sync complete",
		zap.Int("documents", r.stats.DocumentsIndexed),
		zap.Int("resumed", r.stats.DocumentsResumed),
		zap.Int("chunks", r.stats.ChunksWritten),
		zap.Int("orphans", r.stats.OrphansDeleted))
	r.report(StateDone, fmt.Sprintf("indexed %d notes", r.stats.DocumentsIndexed), r.stats.Batches, r.stats.Batches)
	return nil
}

// UserMessage turns a run error into a short message for the progress channel
func UserMessage(err error) string {
	switch {
	case errors.Is(err, types.ErrInitialization):
		return "sync failed: storage unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "sync cancelled"
	case errors.Is(err, types.ErrTotalBatchFailure):
		return "sync failed: notes could not be saved"
	case errors.Is(err, embedder.ErrProviderFailed):
		return "sync failed: embedding provider unavailable"
	default:
		return "sync failed"
	}
}
