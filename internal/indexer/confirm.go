package indexer

import "context"

// CostEstimate describes the embedding work a sync run is about to do
type CostEstimate struct {
	Documents int     `json:"documents"`
	Chunks    int     `json:"chunks"`
	Cost      float64 `json:"cost"`
	Threshold float64 `json:"threshold"`
}

// Confirmer asks the user before expensive or non-durable work. A false
// answer aborts the run cleanly; an error aborts it as a failure.
type Confirmer interface {
	ConfirmCost(ctx context.Context, estimate CostEstimate) (bool, error)
	ConfirmNoDurability(ctx context.Context) (bool, error)
}

// StaticConfirmer answers every prompt with fixed decisions, for callers
// that collected consent up front (tool arguments, configuration)
type StaticConfirmer struct {
	AllowCost       bool
	AllowNonDurable bool
}

func (c StaticConfirmer) ConfirmCost(context.Context, CostEstimate) (bool, error) {
	return c.AllowCost, nil
}

func (c StaticConfirmer) ConfirmNoDurability(context.Context) (bool, error) {
	return c.AllowNonDurable, nil
}

// State is a step of the sync state machine
type State string

const (
	StateStart             State = "start"
	StateCheckpointInitial State = "checkpoint_initial"
	StateResetIfStale      State = "reset_if_stale"
	StateDelta             State = "delta"
	StateBatchInit         State = "batch_init"
	StateCostConfirm       State = "cost_confirm"
	StateEmbed             State = "embed"
	StatePersist           State = "persist"
	StateAdvanceCursor     State = "advance_cursor"
	StateSanitizeOrphans   State = "sanitize_orphans"
	StateFinalize          State = "finalize"
	StateDone              State = "done"
	StateError             State = "error"
)

// Progress is one user-visible update from a running sync
type Progress struct {
	RunID        string
	State        State
	Message      string
	BatchesDone  int
	BatchesTotal int
}

// ProgressReporter receives progress updates. Implementations must not block.
type ProgressReporter interface {
	Report(p Progress)
}

// ProgressFunc adapts a function to ProgressReporter
type ProgressFunc func(p Progress)

func (f ProgressFunc) Report(p Progress) {
	f(p)
}
