// Package workerpool provides a fixed worker-goroutine pool for
// background tasks in the sample cmd/ binaries. cmd/entropysync-server
// starts and stops one; no code in the repository submits tasks to it,
// so batch flushes, NACK tracker cleanup and catalog archival do not
// run through it. pkg/batch and pkg/session never import it, so the
// protocol core stays free of any particular executor.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Task is a unit of work submitted to the pool.
type Task func()

// Pool runs a fixed number of worker goroutines pulling from a single
// buffered task queue. When the queue is full, Submit drops the task
// rather than spawning unbounded goroutines or blocking the caller.
type Pool struct {
	workerCount int
	taskQueue   chan Task
	ctx         context.Context
	wg          sync.WaitGroup
	dropped     atomic.Int64
	logger      zerolog.Logger
	onPanic     func()
}

// Config tunes a Pool.
type Config struct {
	WorkerCount int
	QueueSize   int
	Logger      zerolog.Logger
	// OnPanic, if set, is invoked after a recovered task panic — a
	// hook for the caller's own metrics counter. May be nil.
	OnPanic func()
}

// New builds a Pool. Call Start before Submit.
func New(cfg Config) *Pool {
	return &Pool{
		workerCount: cfg.WorkerCount,
		taskQueue:   make(chan Task, cfg.QueueSize),
		logger:      cfg.Logger,
		onPanic:     cfg.OnPanic,
	}
}

// Start launches the worker goroutines. ctx cancellation drains
// in-flight tasks and stops workers from pulling new ones.
func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.runTask(task)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("worker task panic recovered")
			if p.onPanic != nil {
				p.onPanic()
			}
		}
	}()
	task()
}

// Submit enqueues task for asynchronous execution. If the queue is
// full, the task is dropped and the dropped-task counter increments;
// Submit never blocks the caller.
func (p *Pool) Submit(task Task) {
	select {
	case p.taskQueue <- task:
	default:
		p.dropped.Add(1)
	}
}

// Stop closes the task queue and blocks until every worker drains it
// and exits. Safe to call once; a second call panics on close of a
// closed channel, matching the teacher's documented contract.
func (p *Pool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}

// DroppedTasks returns the total number of tasks dropped because the
// queue was full.
func (p *Pool) DroppedTasks() int64 {
	return p.dropped.Load()
}

// QueueDepth returns the number of tasks currently buffered.
func (p *Pool) QueueDepth() int {
	return len(p.taskQueue)
}

// QueueCapacity returns the queue's buffer capacity.
func (p *Pool) QueueCapacity() int {
	return cap(p.taskQueue)
}
