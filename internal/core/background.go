package core

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const queuePerWorker = 64

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Background runs best-effort side effects after a primary write has
// committed. Tasks are queued to a fixed set of workers; Go never blocks,
// and a task is dropped when the queue is full. Task failures and panics
// are logged, never returned.
type Background struct {
	mu      sync.RWMutex
	closed  bool
	queue   chan task
	workers errgroup.Group
	pending sync.WaitGroup
	timeout time.Duration
}

func NewBackground(workers int) *Background {
	return newBackground(workers, queuePerWorker*max(workers, 1))
}

func newBackground(workers, depth int) *Background {
	if workers <= 0 {
		workers = 1
	}
	b := &Background{queue: make(chan task, depth), timeout: 10 * time.Second}
	for i := 0; i < workers; i++ {
		b.workers.Go(b.work)
	}
	return b
}

// Go schedules fn with its own timeout, detached from the request context.
// It reports whether the task was queued.
func (b *Background) Go(name string, fn func(ctx context.Context) error) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		log.Printf("Background task %s dropped: runner closed", name)
		return false
	}
	b.pending.Add(1)
	select {
	case b.queue <- task{name: name, fn: fn}:
		return true
	default:
		b.pending.Done()
		log.Printf("Background task %s dropped: queue full", name)
		return false
	}
}

// Wait blocks until every queued task has finished.
func (b *Background) Wait() {
	b.pending.Wait()
}

// Close stops accepting tasks, drains the queue and stops the workers.
func (b *Background) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	_ = b.workers.Wait()
}

func (b *Background) work() error {
	for t := range b.queue {
		b.run(t)
		b.pending.Done()
	}
	return nil
}

func (b *Background) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Background task %s panicked: %v", t.name, r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := t.fn(ctx); err != nil {
		log.Printf("Background task %s failed: %v", t.name, err)
	}
}
