package workerpool

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/deskbridge/internal/logging"
)

var log = logging.L("workerpool")

var (
	ErrStopped   = errors.New("worker pool stopped")
	ErrQueueFull = errors.New("worker pool queue full")
)

// Task is a unit of work. The context is cancelled when the pool shuts
// down, so long tasks can bail out early.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed set of goroutines fed by a bounded queue.
// With a single worker, tasks run in submission order.
type Pool struct {
	name      string
	queue     chan Task
	wg        sync.WaitGroup
	mu        sync.RWMutex
	accepting bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc

	completed atomic.Uint64
	rejected  atomic.Uint64
	panics    atomic.Uint64
}

// Stats is a point-in-time view of the pool counters.
type Stats struct {
	Queued    int    `json:"queued"`
	Completed uint64 `json:"completed"`
	Rejected  uint64 `json:"rejected"`
	Panics    uint64 `json:"panics"`
}

// New starts a pool with the given number of workers and queue capacity.
func New(name string, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:      name,
		queue:     make(chan Task, queueSize),
		ctx:       ctx,
		cancel:    cancel,
		accepting: true,
	}

	for i := 0; i < workers; i++ {
		go p.worker()
	}

	log.Debug("worker pool started", "pool", name, "workers", workers, "queueSize", queueSize)
	return p
}

// Submit enqueues a task without blocking.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.accepting {
		return ErrStopped
	}

	// Add before enqueue so Shutdown never observes a queued task it
	// is not waiting for.
	p.wg.Add(1)
	select {
	case p.queue <- task:
		return nil
	default:
		p.wg.Done()
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// Context is cancelled when Shutdown returns. Tasks still queued after a
// drain timeout run with it already cancelled.
func (p *Pool) Context() context.Context {
	return p.ctx
}

func (p *Pool) Stats() Stats {
	return Stats{
		Queued:    len(p.queue),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
		Panics:    p.panics.Load(),
	}
}

// Shutdown stops accepting tasks and waits for queued work to finish or
// for ctx to expire, whichever comes first. Safe to call more than once.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	p.accepting = false
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug("worker pool drained", "pool", p.name)
	case <-ctx.Done():
		log.Warn("worker pool drain timed out", "pool", p.name, "queued", len(p.queue))
	}

	p.cancel()
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
}

func (p *Pool) worker() {
	for task := range p.queue {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			log.Error("task panicked", "pool", p.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task(p.ctx)
	p.completed.Add(1)
}
