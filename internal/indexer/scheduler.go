package indexer

import (
	"context"
	"runtime"
	"sync"
)

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Scheduler runs long work on a single background worker. The worker yields
// the processor before every task so interactive goroutines (searches,
// status calls) get scheduled between batches.
type Scheduler struct {
	tasks chan task
	quit  chan struct{}
	once  sync.Once
	stop  sync.Once
	wg    sync.WaitGroup
}

// NewScheduler creates an idle scheduler. The worker starts on first use.
func NewScheduler() *Scheduler {
	return &Scheduler{
		tasks: make(chan task),
		quit:  make(chan struct{}),
	}
}

func (s *Scheduler) start() {
	s.once.Do(func() {
		s.wg.Add(1)
		go s.loop()
	})
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case t := <-s.tasks:
			runtime.Gosched()
			t.done <- t.fn(t.ctx)
		}
	}
}

// Do runs fn on the worker and waits for it. A task that was handed to the
// worker always runs to completion; ctx only aborts the wait for a free
// worker, and fn is expected to observe ctx itself.
func (s *Scheduler) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case <-s.quit:
		return errSchedulerClosed
	default:
	}
	s.start()
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return errSchedulerClosed
	case s.tasks <- t:
	}
	return <-t.done
}

// Close stops the worker after the current task
func (s *Scheduler) Close() {
	s.stop.Do(func() { close(s.quit) })
	s.wg.Wait()
}
