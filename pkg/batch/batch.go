// Package batch implements the property-update batcher: a dedup map
// keyed by opaque property hash, flushed periodically by a caller
// supplied scheduler (this package never starts its own goroutine or
// timer) onto the unreliable channel of a session.
package batch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/adred-codev/entropysync/pkg/netcode"
	"github.com/adred-codev/entropysync/pkg/property"
	"github.com/adred-codev/entropysync/pkg/wire"
)

// DefaultIntervalMs is the base batch interval: 16ms, 60Hz.
const DefaultIntervalMs = 16

// MaxDynamicIntervalMs bounds how far the interval backs off under
// sustained backpressure: 100ms, 10Hz.
const MaxDynamicIntervalMs = 100

// DefaultMaxPendingBatches is how many batches may be in flight (sent
// but not yet acknowledged by the transport accepting them) before
// processBatch starts dropping instead of queuing further.
const DefaultMaxPendingBatches = 3

// Sender is the narrow interface a Batcher needs from whatever session
// or connection it batches updates for. Kept minimal so this package
// never imports pkg/session, avoiding an import cycle the other
// direction.
type Sender interface {
	SendPropertyUpdateBatch(msg wire.PropertyUpdateBatchMsg) netcode.Result[struct{}]
}

type pendingUpdate struct {
	value     property.Value
	timestamp time.Time
}

// Stats mirrors a Batcher's lifetime counters, safe to read
// concurrently with Flush via GetStats.
type Stats struct {
	TotalBatchesSent     uint64
	TotalUpdatesSent     uint64
	BatchesDropped       uint64
	UpdatesDeduped       uint64
	AverageBatchSize     uint32
	CurrentBatchInterval uint32
}

// Batcher accumulates property updates keyed by hash and flushes them
// as a single PropertyUpdateBatch message. Nothing in this type drives
// its own scheduling: a caller-supplied worker pool or ticker must
// call ProcessBatch (or Flush, its alias) at the desired cadence.
type Batcher struct {
	sender Sender

	mu      sync.Mutex
	pending map[property.Hash]pendingUpdate

	baseIntervalMs uint32
	dynamicMs      atomic.Uint32
	sequence       atomic.Uint32

	maxPendingBatches uint32
	pendingBatches    atomic.Uint32

	statsMu sync.Mutex
	stats   Stats
}

// New builds a Batcher sending through sender, with the given base
// interval in milliseconds (0 selects DefaultIntervalMs).
func New(sender Sender, batchIntervalMs uint32) *Batcher {
	if batchIntervalMs == 0 {
		batchIntervalMs = DefaultIntervalMs
	}
	b := &Batcher{
		sender:            sender,
		pending:           make(map[property.Hash]pendingUpdate),
		baseIntervalMs:    batchIntervalMs,
		maxPendingBatches: DefaultMaxPendingBatches,
	}
	b.dynamicMs.Store(batchIntervalMs)
	return b
}

// SetMaxPendingBatches overrides DefaultMaxPendingBatches.
func (b *Batcher) SetMaxPendingBatches(n uint32) {
	if n == 0 {
		n = 1
	}
	b.maxPendingBatches = n
}

// UpdateProperty records hash's latest value, overwriting any value
// already pending for the same hash before the next flush.
func (b *Batcher) UpdateProperty(hash property.Hash, value property.Value) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.pending[hash]; exists {
		b.statsMu.Lock()
		b.stats.UpdatesDeduped++
		b.statsMu.Unlock()
	}
	b.pending[hash] = pendingUpdate{value: value, timestamp: time.Now()}
}

// SetBatchInterval changes the base interval; the dynamic interval is
// reset to match immediately.
func (b *Batcher) SetBatchInterval(ms uint32) {
	b.baseIntervalMs = ms
	b.dynamicMs.Store(ms)
}

// BatchInterval returns the currently active (possibly backed-off)
// interval in milliseconds. A caller-driven scheduler should read this
// before each sleep to track backpressure adjustments.
func (b *Batcher) BatchInterval() uint32 { return b.dynamicMs.Load() }

// PendingCount returns the number of distinct properties awaiting the
// next flush.
func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// GetStats returns a snapshot of the batcher's lifetime counters.
func (b *Batcher) GetStats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	s := b.stats
	s.CurrentBatchInterval = b.dynamicMs.Load()
	return s
}

// Flush is an alias for ProcessBatch, named for callers that want to
// force an immediate send (e.g. on session teardown) without waiting
// for the next scheduled tick.
func (b *Batcher) Flush() netcode.Result[struct{}] {
	return b.ProcessBatch()
}

// ProcessBatch drains pending updates and sends them as a single
// PropertyUpdateBatch message. A caller-supplied scheduler (worker
// pool, ticker, whatever the host application already uses) must
// invoke this periodically; the batcher never schedules itself.
//
// Under backpressure (MaxPendingBatches already in flight) the drained
// batch is dropped rather than queued, and the dynamic interval backs
// off. When the system is caught up, the interval decays back toward
// the base by 1ms per successful flush.
func (b *Batcher) ProcessBatch() netcode.Result[struct{}] {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return netcode.OkEmpty()
	}
	drained := b.pending
	b.pending = make(map[property.Hash]pendingUpdate)
	b.mu.Unlock()

	if b.pendingBatches.Load() >= b.maxPendingBatches {
		b.statsMu.Lock()
		b.stats.BatchesDropped++
		b.statsMu.Unlock()
		b.backOff()
		return netcode.ErrEmpty(netcode.ResourceLimitExceeded, "batch dropped under backpressure")
	}

	b.pendingBatches.Add(1)

	updates := make([]wire.BatchedUpdate, 0, len(drained))
	for hash, pu := range drained {
		updates = append(updates, wire.BatchedUpdate{Hash: hash, Value: pu.value})
	}

	msg := wire.PropertyUpdateBatchMsg{
		TimestampMicros: time.Now().UnixMicro(),
		Sequence:        b.sequence.Add(1),
		Updates:         updates,
	}

	res := b.sender.SendPropertyUpdateBatch(msg)
	if res.Failed() {
		b.pendingBatches.Add(^uint32(0))
		return res
	}

	b.statsMu.Lock()
	b.stats.TotalBatchesSent++
	b.stats.TotalUpdatesSent += uint64(len(updates))
	if b.stats.TotalBatchesSent > 0 {
		b.stats.AverageBatchSize = uint32(b.stats.TotalUpdatesSent / b.stats.TotalBatchesSent)
	}
	b.statsMu.Unlock()

	// Decrement before the decay check: this call's own in-flight
	// count must not mask a successful drain back to zero pending.
	if b.pendingBatches.Add(^uint32(0)) == 0 {
		b.decay()
	}

	return netcode.OkEmpty()
}

// backOff doubles the dynamic interval, capped at MaxDynamicIntervalMs.
func (b *Batcher) backOff() {
	for {
		cur := b.dynamicMs.Load()
		next := cur * 2
		if next > MaxDynamicIntervalMs {
			next = MaxDynamicIntervalMs
		}
		if b.dynamicMs.CompareAndSwap(cur, next) {
			b.statsMu.Lock()
			b.stats.CurrentBatchInterval = next
			b.statsMu.Unlock()
			return
		}
	}
}

// decay relaxes the dynamic interval back toward the base by 1ms,
// never going below it.
func (b *Batcher) decay() {
	for {
		cur := b.dynamicMs.Load()
		if cur <= b.baseIntervalMs {
			return
		}
		next := cur - 1
		if next < b.baseIntervalMs {
			next = b.baseIntervalMs
		}
		if b.dynamicMs.CompareAndSwap(cur, next) {
			return
		}
	}
}
