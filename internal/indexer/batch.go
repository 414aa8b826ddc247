package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noteindex/noteindex/internal/chunker"
	"github.com/noteindex/noteindex/internal/embedder"
	"github.com/noteindex/noteindex/internal/host"
	"github.com/noteindex/noteindex/internal/storage"
)

// batch is a fixed number of documents embedded and committed together.
// A document never spans two batches.
type batch struct {
	index int
	docs  []*docWork
}

func (b *batch) chunkCount() int {
	n := 0
	for _, d := range b.docs {
		n += len(d.chunks)
	}
	return n
}

// ChunkID returns the stable id of a document's chunk
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s#%d", documentID, ordinal)
}

// prepareBatches fetches and splits every pending document before anything
// is persisted, so the cost estimate covers the whole run. Fetch failures
// are recorded and skipped.
func (r *syncRun) prepareBatches(ctx context.Context, docs []*docWork) ([]*batch, error) {
	var pending []*docWork
	for _, d := range docs {
		if d.resumed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		content, err := r.idx.notes.NoteContent(ctx, d.note.UUID)
		if err != nil {
			d.failed = true
			r.stats.DocumentsFailed++
			r.stats.ErrorMessages = append(r.stats.ErrorMessages, fmt.Sprintf("%s: %v", d.note.UUID, err))
			r.logger.Warn("failed to fetch note content", zap.String("note", d.note.UUID), zap.Error(err))
			continue
		}

		d.chunks, d.texts = r.idx.buildChunks(d.note, content)
		r.stats.ChunksCreated += len(d.chunks)
		pending = append(pending, d)
	}

	size := r.idx.cfg.BatchSize
	var batches []*batch
	for i := 0; i < len(pending); i += size {
		end := i + size
		if end > len(pending) {
			end = len(pending)
		}
		batches = append(batches, &batch{index: len(batches), docs: pending[i:end]})
	}
	return batches, nil
}

// buildChunks splits a note and maps the pieces onto stored chunks
func (idx *Indexer) buildChunks(n host.Note, content string) ([]*storage.NoteChunk, []string) {
	pieces := idx.chunker.ChunkDocument(chunker.Document{
		ID:      n.UUID,
		Title:   n.Name,
		Tags:    n.Tags,
		Content: []byte(content),
	})

	flags := storage.Flags{
		Archived:     n.Archived,
		Published:    n.Published,
		SharedByMe:   n.SharedByMe,
		SharedWithMe: n.SharedWithMe,
		TaskList:     n.HasTasks,
	}

	chunks := make([]*storage.NoteChunk, len(pieces))
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		chunks[i] = &storage.NoteChunk{
			ID:                ChunkID(n.UUID, p.Ordinal),
			DocumentID:        n.UUID,
			Ordinal:           p.Ordinal,
			ContentPart:       p.Content,
			HeadingPath:       p.HeadingPath,
			DocumentTitle:     n.Name,
			DocumentTags:      n.Tags,
			NormalizedContent: chunker.Normalize(p.HeadingPath + " " + p.Content),
			TagOnly:           p.TagOnly,
			SourceUpdated:     n.Updated,
			Flags:             flags,
		}
		texts[i] = p.EmbeddingText(n.Name)
	}
	return chunks, texts
}

func (r *syncRun) confirmCost(ctx context.Context, batches []*batch) (bool, error) {
	estimate := CostEstimate{Threshold: r.idx.cfg.CostThreshold}
	for _, b := range batches {
		estimate.Documents += len(b.docs)
		estimate.Chunks += b.chunkCount()
	}
	estimate.Cost = float64(estimate.Chunks) * r.idx.cfg.CostPerChunk
	r.stats.EstimatedCost = estimate.Cost

	if estimate.Threshold <= 0 || estimate.Cost <= estimate.Threshold {
		return true, nil
	}

	r.logger.Info("sync cost above threshold, asking for confirmation",
		zap.Int("chunks", estimate.Chunks),
		zap.Float64("cost", estimate.Cost),
		zap.Float64("threshold", estimate.Threshold))
	ok, err := r.confirm.ConfirmCost(ctx, estimate)
	if err != nil {
		return false, fmt.Errorf("cost confirmation: %w", err)
	}
	return ok, nil
}

// batchLoop processes batches in order on the background scheduler,
// checking for cancellation between batches
func (r *syncRun) batchLoop(ctx context.Context, store storage.Store, batches []*batch) error {
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled before batch %d: %w", b.index, err)
		}
		err := r.idx.scheduler.Do(ctx, func(ctx context.Context) error {
			return r.processBatch(ctx, store, b, len(batches))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *syncRun) processBatch(ctx context.Context, store storage.Store, b *batch, total int) error {
	r.report(StateEmbed, fmt.Sprintf("embedding batch %d of %d", b.index+1, total), b.index, total)
	if err := r.embedBatch(ctx, b); err != nil {
		return err
	}

	r.report(StatePersist, "", b.index, total)
	var chunks []*storage.NoteChunk
	for _, d := range b.docs {
		chunks = append(chunks, d.chunks...)
	}
	res, err := store.PutMany(ctx, chunks)
	if res != nil {
		r.stats.ChunksWritten += res.Written
		r.stats.ChunksFailed += res.Failed
	}
	if err != nil {
		return fmt.Errorf("failed to persist batch %d: %w", b.index, err)
	}
	r.stats.DocumentsIndexed += len(b.docs)

	r.report(StateAdvanceCursor, "", b.index+1, total)
	if err := r.advanceIdentity(ctx, store); err != nil {
		return fmt.Errorf("failed to advance cursor after batch %d: %w", b.index, err)
	}

	r.logger.Debug("batch committed",
		zap.Int("batch", b.index),
		zap.Int("documents", len(b.docs)),
		zap.Int("written", res.Written),
		zap.Int("failed", res.Failed))
	return nil
}

// embedBatch fills in the embeddings of every chunk in b, splitting the
// request at the provider's batch limit
func (r *syncRun) embedBatch(ctx context.Context, b *batch) error {
	var texts []string
	var targets []*storage.NoteChunk
	for _, d := range b.docs {
		texts = append(texts, d.texts...)
		targets = append(targets, d.chunks...)
	}

	for start := 0; start < len(texts); start += embedder.MaxBatchSize {
		end := start + embedder.MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		resp, err := r.idx.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
			Texts: texts[start:end],
			Kind:  embedder.KindPassage,
		})
		if err != nil {
			return fmt.Errorf("failed to embed batch %d: %w", b.index, err)
		}
		if len(resp.Embeddings) != end-start {
			return fmt.Errorf("failed to embed batch %d: %w: got %d embeddings for %d texts",
				b.index, embedder.ErrProviderFailed, len(resp.Embeddings), end-start)
		}
		for i, emb := range resp.Embeddings {
			targets[start+i].Embedding = emb.Vector
		}
	}
	return nil
}
