// Package indexer keeps the note store in step with the host application.
//
// A sync run walks a fixed state machine:
//
//	Start -> CheckpointInitial -> ResetIfStale -> Delta -> BatchLoop -> Finalize -> Done
//	                                                       (concurrently: SanitizeOrphans)
//
// Every transition is logged and sent to the optional ProgressReporter. Any
// failure moves the run to the error state, releases the gateway lock, and
// returns the wrapped error together with the run's Statistics.
//
// # Basic Usage
//
//	idx := indexer.New(gateway, vault, emb, indexer.Config{
//	    Collection: "notes",
//	    Persistent: true,
//	    BatchSize:  20,
//	})
//	defer idx.Close()
//
//	stats, err := idx.Sync(ctx, indexer.StaticConfirmer{AllowCost: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("indexed %d notes (%d resumed)\n", stats.DocumentsIndexed, stats.DocumentsResumed)
//
// # Delta and Resumability
//
// A note is dirty when its created or updated stamp is strictly after the
// stored last_sync_time, or when a stamp cannot be parsed. The cursor only
// advances after a run completes, to the update stamp of the
// chronologically last processed note.
//
// Each chunk records the update stamp it was built from. A rerun after an
// interrupted sync skips dirty notes whose stored chunks already carry
// their current stamp, so committed batches are never embedded twice.
//
// # Identity Reset
//
// The embedding model identity (provider/model@dimension) and the plugin
// identity are stored after every committed batch. When either differs
// from the running configuration the store is emptied and the cursor falls
// back to the epoch, so vectors from different spaces are never compared.
//
// # Confirmation
//
// Two prompts can stop a run before anything is written: a store that is
// not durable (in memory, or without a write-ahead log) and an estimated
// embedding cost above Config.CostThreshold. The estimate covers every
// batch of the run. Declining ends the run with OutcomeDeclined and no
// error.
//
// # Scheduling
//
// Only one run is active at a time; concurrent Sync calls share the
// in-flight run's result. Batches and orphan cleanup execute on a single
// background worker that yields before each task, and the context is
// checked between batches.
package indexer
