package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestPool(t *testing.T, workers, queueSize int) (*Pool, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p := New(Config{WorkerCount: workers, QueueSize: queueSize, Logger: zerolog.Nop()})
	p.Start(ctx)
	return p, cancel
}

func TestSubmitExecutesTasks(t *testing.T) {
	t.Parallel()
	p, cancel := newTestPool(t, 4, 16)
	defer cancel()

	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			count.Add(1)
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tasks to execute")
	}

	if got := count.Load(); got != 100 {
		t.Errorf("expected 100 tasks executed, got %d", got)
	}
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	p := New(Config{WorkerCount: 1, QueueSize: 1, Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.Submit(func() { <-block })
	time.Sleep(20 * time.Millisecond) // let the single worker pick it up
	p.Submit(func() {})               // occupies the only queue slot
	p.Submit(func() {})               // should be dropped

	close(block)
	if got := p.DroppedTasks(); got != 1 {
		t.Errorf("expected exactly 1 dropped task, got %d", got)
	}
}

func TestRunTaskRecoversPanic(t *testing.T) {
	t.Parallel()
	var panicked atomic.Bool
	p := New(Config{WorkerCount: 1, QueueSize: 4, Logger: zerolog.Nop(), OnPanic: func() { panicked.Store(true) }})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	p.Submit(func() {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait()
	time.Sleep(10 * time.Millisecond) // defer in runTask runs after the task func returns/panics

	if !panicked.Load() {
		t.Error("expected OnPanic hook to fire after a recovered task panic")
	}
}

func TestQueueDepthAndCapacity(t *testing.T) {
	t.Parallel()
	p, cancel := newTestPool(t, 1, 8)
	defer cancel()
	if got := p.QueueCapacity(); got != 8 {
		t.Errorf("QueueCapacity() = %d, want 8", got)
	}
	if got := p.QueueDepth(); got != 0 {
		t.Errorf("QueueDepth() = %d, want 0", got)
	}
}
