// Package slotpool implements the generation-stamped, lock-free slot
// allocator that backs both the connection manager and the session
// manager. A Pool owns a fixed-capacity array of slots; a Handle
// addresses a slot by (owner, index, generation) and is detectably
// stale in O(1) without ever blocking.
//
// The free list is a Treiber stack: its head is a single atomic 64-bit
// word packed as (tag:32, index:32). Every successful push or pop
// increments the tag, defeating ABA on the index half of the word.
package slotpool

import (
	"sync"
	"sync/atomic"

	"github.com/adred-codev/entropysync/pkg/netcode"
)

const sentinel uint32 = 0xFFFFFFFF

func pack(tag, index uint32) uint64 {
	return uint64(tag)<<32 | uint64(index)
}

func unpack(word uint64) (tag, index uint32) {
	return uint32(word >> 32), uint32(word)
}

// Handle addresses a slot-allocated resource of type T. Handles are
// freely copyable; copies share identity (owner, index, generation),
// never ownership. The zero Handle is always invalid.
type Handle[T any] struct {
	owner      *Pool[T]
	index      uint32
	generation uint32
}

// Index returns the slot index this handle addresses.
func (h Handle[T]) Index() uint32 { return h.index }

// Generation returns the generation this handle was stamped with.
func (h Handle[T]) Generation() uint32 { return h.generation }

// Valid reports whether the handle still refers to a live, allocated
// slot. Never blocks; safe against concurrent Release.
func (h Handle[T]) Valid() bool {
	if h.owner == nil {
		return false
	}
	return h.owner.Valid(h)
}

type slot[T any] struct {
	generation atomic.Uint32
	nextFree   atomic.Uint32
	mu         sync.Mutex
	occupied   bool
	resource   T
}

// Pool is a bounded-capacity, thread-safe allocator of generation
// stamped handles. Slots never move once the Pool is constructed.
type Pool[T any] struct {
	slots       []slot[T]
	head        atomic.Uint64
	activeCount atomic.Int64
	capacity    int
}

// New builds a Pool with the given fixed capacity. Typical capacities
// in this library run 64-2048.
func New[T any](capacity int) *Pool[T] {
	if capacity <= 0 {
		capacity = 1
	}
	p := &Pool[T]{
		slots:    make([]slot[T], capacity),
		capacity: capacity,
	}
	for i := 0; i < capacity; i++ {
		p.slots[i].generation.Store(1)
		if i == capacity-1 {
			p.slots[i].nextFree.Store(sentinel)
		} else {
			p.slots[i].nextFree.Store(uint32(i + 1))
		}
	}
	p.head.Store(pack(0, 0))
	return p
}

// Capacity returns the fixed slot count this pool was built with.
func (p *Pool[T]) Capacity() int { return p.capacity }

// ActiveCount returns the number of currently allocated slots.
func (p *Pool[T]) ActiveCount() int64 { return p.activeCount.Load() }

// popFree pops the free-list head, returning (index, true) on success
// or (0, false) if the pool is exhausted.
func (p *Pool[T]) popFree() (uint32, bool) {
	for {
		old := p.head.Load()
		tag, idx := unpack(old)
		if idx == sentinel {
			return 0, false
		}
		next := p.slots[idx].nextFree.Load()
		newWord := pack(tag+1, next)
		if p.head.CompareAndSwap(old, newWord) {
			return idx, true
		}
	}
}

// pushFree pushes index back onto the free list.
func (p *Pool[T]) pushFree(index uint32) {
	for {
		old := p.head.Load()
		tag, idx := unpack(old)
		p.slots[index].nextFree.Store(idx)
		newWord := pack(tag+1, index)
		if p.head.CompareAndSwap(old, newWord) {
			return
		}
	}
}

// Allocate pops a free slot, installs the resource returned by init,
// and returns a Handle stamped with the slot's current generation.
// Fails with ResourceLimitExceeded if the pool is full.
func (p *Pool[T]) Allocate(init func() T) netcode.Result[Handle[T]] {
	idx, ok := p.popFree()
	if !ok {
		return netcode.Err[Handle[T]](netcode.ResourceLimitExceeded, "slot pool exhausted")
	}

	s := &p.slots[idx]
	s.mu.Lock()
	s.resource = init()
	s.occupied = true
	gen := s.generation.Load()
	s.mu.Unlock()

	p.activeCount.Add(1)
	return netcode.Ok(Handle[T]{owner: p, index: idx, generation: gen})
}

// Valid checks (owner, index, generation) without blocking or taking
// any lock: the generation read is an atomic acquire, so a stale
// generation simply yields invalid, never a use-after-free, because
// slots never move.
func (p *Pool[T]) Valid(h Handle[T]) bool {
	if h.owner != p {
		return false
	}
	if h.index >= uint32(p.capacity) {
		return false
	}
	return p.slots[h.index].generation.Load() == h.generation
}

// Release destroys the installed resource (via destroy, which may be
// nil) and invalidates the handle by incrementing the slot's
// generation before returning the index to the free list.
func (p *Pool[T]) Release(h Handle[T], destroy func(*T)) netcode.Result[struct{}] {
	if !p.Valid(h) {
		return netcode.ErrEmpty(netcode.InvalidParameter, "stale or foreign handle")
	}

	s := &p.slots[h.index]
	s.mu.Lock()
	if !s.occupied || s.generation.Load() != h.generation {
		s.mu.Unlock()
		return netcode.ErrEmpty(netcode.InvalidParameter, "stale handle")
	}
	if destroy != nil {
		destroy(&s.resource)
	}
	var zero T
	s.resource = zero
	s.occupied = false
	s.generation.Add(1)
	s.mu.Unlock()

	p.pushFree(h.index)
	p.activeCount.Add(-1)
	return netcode.OkEmpty()
}

// Access validates the handle, takes the slot mutex for the duration
// of fn, and re-checks the generation under the lock to guard against
// a release racing between validation and lock acquisition. Per-slot
// operations serialize; operations against different slots proceed in
// parallel.
func (p *Pool[T]) Access(h Handle[T], fn func(*T) netcode.Result[struct{}]) netcode.Result[struct{}] {
	if !p.Valid(h) {
		return netcode.ErrEmpty(netcode.InvalidParameter, "invalid handle")
	}
	s := &p.slots[h.index]
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.occupied || s.generation.Load() != h.generation {
		return netcode.ErrEmpty(netcode.ConnectionClosed, "slot released")
	}
	return fn(&s.resource)
}

// AccessValue is Access for operations that also produce a value.
func AccessValue[T, R any](p *Pool[T], h Handle[T], fn func(*T) netcode.Result[R]) netcode.Result[R] {
	if !p.Valid(h) {
		return netcode.Err[R](netcode.InvalidParameter, "invalid handle")
	}
	s := &p.slots[h.index]
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.occupied || s.generation.Load() != h.generation {
		return netcode.Err[R](netcode.ConnectionClosed, "slot released")
	}
	return fn(&s.resource)
}

// ForEachTryLock visits every currently-occupied slot, skipping (best
// effort) any whose mutex is already held. This is the primitive
// behind schema-advertisement fan-out: a slow callback on one session
// must not block delivery to the rest.
func (p *Pool[T]) ForEachTryLock(fn func(h Handle[T], res *T)) {
	for i := range p.slots {
		s := &p.slots[i]
		if !s.mu.TryLock() {
			continue
		}
		if s.occupied {
			h := Handle[T]{owner: p, index: uint32(i), generation: s.generation.Load()}
			fn(h, &s.resource)
		}
		s.mu.Unlock()
	}
}
