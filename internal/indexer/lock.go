package indexer

import "sync/atomic"

// RunLock marks a sync run as in flight using atomic operations. Waiting
// callers join the running sync through singleflight; the lock only makes
// the state observable without blocking.
type RunLock struct {
	state atomic.Int32 // 0 = idle, 1 = running
}

// TryAcquire attempts to mark a run as started without blocking.
// Returns true if no other run held the lock.
func (l *RunLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release marks the run as finished.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *RunLock) Release() {
	l.state.Store(0)
}

// Held reports whether a run is in flight
func (l *RunLock) Held() bool {
	return l.state.Load() == 1
}
