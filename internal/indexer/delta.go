package indexer

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noteindex/noteindex/internal/host"
	"github.com/noteindex/noteindex/internal/storage"
)

// docWork tracks one dirty note through a run
type docWork struct {
	note    host.Note
	updated time.Time
	hasTime bool

	resumed bool // already committed by an interrupted run
	failed  bool // content could not be fetched

	chunks []*storage.NoteChunk
	texts  []string // embedding input, parallel to chunks
}

// cursor returns the last sync time, or the zero time when the store has
// never completed a run
func (r *syncRun) cursor(ctx context.Context, store storage.Store) (time.Time, error) {
	value, ok, err := store.GetConfig(ctx, storage.ConfigLastSyncTime)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		r.logger.Warn("unparsable sync cursor, starting from epoch", zap.String("value", value))
		return time.Time{}, nil
	}
	return t, nil
}

// delta returns the dirty notes in chronological order of their update
// stamp, unparsable stamps last. Notes whose complete chunk set already
// carries the current update stamp are marked resumed and will not be
// re-embedded.
func (r *syncRun) delta(ctx context.Context, store storage.Store, notes []host.Note, since time.Time) ([]*docWork, error) {
	var docs []*docWork
	for _, n := range notes {
		if !isDirty(n, since) {
			continue
		}
		d := &docWork{note: n}
		d.updated, d.hasTime = host.ParseTime(n.Updated)
		docs = append(docs, d)
	}
	sortChronologically(docs)
	r.stats.DocumentsDirty = len(docs)

	if len(docs) == 0 {
		return docs, nil
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.note.UUID
	}
	stamps, err := store.DocumentStamps(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if stamp, ok := stamps[d.note.UUID]; ok && d.note.Updated != "" && stamp == d.note.Updated {
			d.resumed = true
			r.stats.DocumentsResumed++
		}
	}

	r.logger.Info("delta computed",
		zap.Time("since", since),
		zap.Int("listed", len(notes)),
		zap.Int("dirty", len(docs)),
		zap.Int("resumed", r.stats.DocumentsResumed))
	return docs, nil
}

// isDirty reports whether n was created or updated strictly after since.
// A stamp that cannot be parsed makes the note dirty, as does a note with
// no stamps at all.
func isDirty(n host.Note, since time.Time) bool {
	seen := false
	for _, stamp := range []string{n.Created, n.Updated} {
		if stamp == "" {
			continue
		}
		seen = true
		t, ok := host.ParseTime(stamp)
		if !ok || t.After(since) {
			return true
		}
	}
	return !seen
}

func sortChronologically(docs []*docWork) {
	sort.SliceStable(docs, func(a, b int) bool {
		da, db := docs[a], docs[b]
		if da.hasTime != db.hasTime {
			return da.hasTime
		}
		if !da.updated.Equal(db.updated) {
			return da.updated.Before(db.updated)
		}
		return da.note.UUID < db.note.UUID
	})
}

// finalCursor is the update stamp of the chronologically last document
// processed without a gap: documents after a failed fetch stay dirty for
// the next run.
func finalCursor(docs []*docWork) (time.Time, bool) {
	var cursor time.Time
	advanced := false
	for _, d := range docs {
		if d.failed {
			break
		}
		if d.hasTime {
			cursor = d.updated
			advanced = true
		}
	}
	return cursor, advanced
}
