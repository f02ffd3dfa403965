package slotpool

import (
	"sync"
	"testing"

	"github.com/adred-codev/entropysync/pkg/netcode"
)

func TestAllocateAndRelease(t *testing.T) {
	t.Parallel()
	p := New[int](4)

	h := p.Allocate(func() int { return 42 })
	if h.Failed() {
		t.Fatalf("allocate failed: %v", h.Code)
	}
	if p.ActiveCount() != 1 {
		t.Errorf("expected active count 1, got %d", p.ActiveCount())
	}
	if !p.Valid(h.Value) {
		t.Error("expected handle to be valid immediately after allocate")
	}

	rel := p.Release(h.Value, nil)
	if rel.Failed() {
		t.Fatalf("release failed: %v", rel.Code)
	}
	if p.ActiveCount() != 0 {
		t.Errorf("expected active count 0 after release, got %d", p.ActiveCount())
	}
	if p.Valid(h.Value) {
		t.Error("expected handle to be invalid after release")
	}
}

func TestGenerationInvalidatesStaleHandle(t *testing.T) {
	t.Parallel()
	p := New[int](1)

	h1 := p.Allocate(func() int { return 1 })
	if h1.Failed() {
		t.Fatalf("allocate failed: %v", h1.Code)
	}
	if rel := p.Release(h1.Value, nil); rel.Failed() {
		t.Fatalf("release failed: %v", rel.Code)
	}

	h2 := p.Allocate(func() int { return 2 })
	if h2.Failed() {
		t.Fatalf("second allocate failed: %v", h2.Code)
	}
	if h2.Value.Index() != h1.Value.Index() {
		t.Fatalf("expected slot reuse at same index, got %d vs %d", h2.Value.Index(), h1.Value.Index())
	}
	if p.Valid(h1.Value) {
		t.Error("stale handle from before reuse must be invalid")
	}
	if !p.Valid(h2.Value) {
		t.Error("fresh handle must be valid")
	}
}

func TestExhaustion(t *testing.T) {
	t.Parallel()
	p := New[int](2)

	r1 := p.Allocate(func() int { return 0 })
	r2 := p.Allocate(func() int { return 0 })
	if r1.Failed() || r2.Failed() {
		t.Fatalf("expected first two allocations to succeed")
	}

	r3 := p.Allocate(func() int { return 0 })
	if !r3.Failed() || r3.Code != netcode.ResourceLimitExceeded {
		t.Fatalf("expected ResourceLimitExceeded, got %v", r3.Code)
	}
}

func TestAccessRejectsStaleHandle(t *testing.T) {
	t.Parallel()
	p := New[int](1)

	h := p.Allocate(func() int { return 7 })
	p.Release(h.Value, nil)

	res := p.Access(h.Value, func(v *int) netcode.Result[struct{}] {
		*v = 99
		return netcode.OkEmpty()
	})
	if !res.Failed() {
		t.Error("expected Access on stale handle to fail")
	}
}

func TestAccessValue(t *testing.T) {
	t.Parallel()
	p := New[int](1)
	h := p.Allocate(func() int { return 10 })

	res := AccessValue(p, h.Value, func(v *int) netcode.Result[int] {
		return netcode.Ok(*v * 2)
	})
	if res.Failed() {
		t.Fatalf("AccessValue failed: %v", res.Code)
	}
	if res.Value != 20 {
		t.Errorf("expected 20, got %d", res.Value)
	}
}

func TestForEachTryLockSkipsHeldSlot(t *testing.T) {
	t.Parallel()
	p := New[int](3)
	h1 := p.Allocate(func() int { return 1 })
	h2 := p.Allocate(func() int { return 2 })
	h3 := p.Allocate(func() int { return 3 })
	_ = h3

	var wg sync.WaitGroup
	blockUntil := make(chan struct{})
	locked := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Access(h1.Value, func(v *int) netcode.Result[struct{}] {
			close(locked)
			<-blockUntil
			return netcode.OkEmpty()
		})
	}()

	// Wait until the goroutine holds h1's slot lock; it keeps holding
	// it until blockUntil is closed, so every pass below must skip h1.
	<-locked
	visited := make(map[uint32]bool)
	for i := 0; i < 3; i++ {
		p.ForEachTryLock(func(h Handle[int], v *int) {
			visited[h.Index()] = true
		})
	}
	close(blockUntil)
	wg.Wait()

	if !visited[h2.Value.Index()] {
		t.Error("expected unlocked slot to be visited")
	}
	if visited[h1.Value.Index()] {
		t.Error("expected slot held by a concurrent Access to be skipped")
	}
}

func TestConcurrentAllocateRelease(t *testing.T) {
	t.Parallel()
	p := New[int](64)
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h := p.Allocate(func() int { return j })
				if h.Failed() {
					continue
				}
				p.Release(h.Value, nil)
			}
		}()
	}
	wg.Wait()

	if p.ActiveCount() != 0 {
		t.Errorf("expected active count 0 after churn, got %d", p.ActiveCount())
	}
}
