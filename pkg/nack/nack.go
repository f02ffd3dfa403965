// Package nack implements the optional, per-session-manager feedback
// path for unknown component schemas: a rate-limited policy deciding
// whether to notify the sending peer, and a rate-limited log path that
// runs regardless of whether NACKs themselves are enabled.
//
// Neither type is a process-wide singleton. Each session.Manager
// constructs its own Policy and Tracker, so two managers in the same
// process (e.g. a test harness running client and server in one
// binary) never share rate-limiting state.
package nack

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Policy controls whether unknown-schema NACKs are sent at all. An
// unknown schema is always counted and always logged (subject to its
// own rate limit); this only gates whether a SchemaNack message goes
// out over the wire.
//
// All fields are accessed through atomics so the policy can be tuned
// from a control goroutine while session goroutines read it on every
// message without taking a lock.
//
// Only Enabled is consulted when sending: the min-interval, burst and
// log-interval values are stored and readable, but no rate limiter
// applies them, and there is no burst allowance. Tracker rate-limits
// with the intervals from its own TrackerConfig.
type Policy struct {
	enabled       atomic.Bool
	minIntervalMs atomic.Uint32
	burst         atomic.Uint32
	logIntervalMs atomic.Uint32
}

// NewPolicy builds a Policy with the defaults: NACKs disabled,
// MinInterval 1000ms, Burst 1, and LogInterval 5000ms.
func NewPolicy() *Policy {
	p := &Policy{}
	p.minIntervalMs.Store(1000)
	p.burst.Store(1)
	p.logIntervalMs.Store(5000)
	return p
}

func (p *Policy) Enabled() bool          { return p.enabled.Load() }
func (p *Policy) Enable()                { p.enabled.Store(true) }
func (p *Policy) Disable()               { p.enabled.Store(false) }
func (p *Policy) MinInterval() time.Duration {
	return time.Duration(p.minIntervalMs.Load()) * time.Millisecond
}
func (p *Policy) SetMinInterval(d time.Duration) {
	p.minIntervalMs.Store(uint32(d.Milliseconds()))
}
func (p *Policy) Burst() uint32      { return p.burst.Load() }
func (p *Policy) SetBurst(b uint32)  { p.burst.Store(b) }
func (p *Policy) LogInterval() time.Duration {
	return time.Duration(p.logIntervalMs.Load()) * time.Millisecond
}
func (p *Policy) SetLogInterval(d time.Duration) {
	p.logIntervalMs.Store(uint32(d.Milliseconds()))
}

type record struct {
	last  time.Time
	count uint64
}

// Tracker applies per-schema rate limiting to outbound SchemaNack
// messages, and separately to the unknown-schema log line, using two
// independently configured intervals so a high-volume unknown schema
// floods neither the peer nor the log.
type Tracker struct {
	mu                sync.Mutex
	minInterval       time.Duration
	maxTrackedSchemas int
	nackRecords       map[[16]byte]*record
	totalNacksSent    uint64

	logMu        sync.Mutex
	logInterval  time.Duration
	logRecords   map[[16]byte]time.Time
}

// TrackerConfig tunes Tracker. Zero values fall back to the defaults
// below.
type TrackerConfig struct {
	MinInterval       time.Duration // default 1000ms
	MaxTrackedSchemas int           // default 1000
	LogInterval       time.Duration // default 5000ms
}

// NewTracker builds a Tracker from the given config, applying defaults
// for any zero field.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 1000 * time.Millisecond
	}
	if cfg.MaxTrackedSchemas <= 0 {
		cfg.MaxTrackedSchemas = 1000
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = 5000 * time.Millisecond
	}
	return &Tracker{
		minInterval:       cfg.MinInterval,
		maxTrackedSchemas: cfg.MaxTrackedSchemas,
		nackRecords:       make(map[[16]byte]*record),
		logInterval:       cfg.LogInterval,
		logRecords:        make(map[[16]byte]time.Time),
	}
}

// ShouldSendNack reports whether enough time has passed since the last
// NACK sent for this schema hash. A schema never seen before always
// yields true.
func (t *Tracker) ShouldSendNack(hash [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.nackRecords[hash]
	if !ok {
		return true
	}
	return time.Since(rec.last) >= t.minInterval
}

// RecordNackSent marks a NACK as sent for hash, updating its last-sent
// timestamp and, if the configured cap is exceeded, pruning the oldest
// tracked schemas down to 75% of the cap.
func (t *Tracker) RecordNackSent(hash [16]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if rec, ok := t.nackRecords[hash]; ok {
		rec.last = now
		rec.count++
	} else {
		t.nackRecords[hash] = &record{last: now, count: 1}
	}
	t.totalNacksSent++

	if len(t.nackRecords) > t.maxTrackedSchemas {
		t.pruneOldest()
	}
}

// pruneOldest removes the oldest entries down to 75% of
// maxTrackedSchemas. Caller must hold t.mu.
func (t *Tracker) pruneOldest() {
	type entry struct {
		hash [16]byte
		last time.Time
	}
	entries := make([]entry, 0, len(t.nackRecords))
	for h, rec := range t.nackRecords {
		entries = append(entries, entry{hash: h, last: rec.last})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].last.Before(entries[j].last) })

	target := t.maxTrackedSchemas * 3 / 4
	toRemove := len(entries) - target
	for i := 0; i < toRemove; i++ {
		delete(t.nackRecords, entries[i].hash)
	}
}

// TotalNacksSent returns the lifetime count of NACKs recorded.
func (t *Tracker) TotalNacksSent() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalNacksSent
}

// UniqueSchemas returns the number of distinct schemas currently
// tracked.
func (t *Tracker) UniqueSchemas() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nackRecords)
}

// Clear discards the NACK records and resets TotalNacksSent. The
// ShouldLog records are kept.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nackRecords = make(map[[16]byte]*record)
	t.totalNacksSent = 0
}

// ShouldLog applies the separate, longer-lived logging interval: it
// governs the "unknown schema" log line independent of whether NACKs
// are enabled, so a misbehaving peer doesn't spam logs even with
// SchemaNack disabled entirely.
func (t *Tracker) ShouldLog(hash [16]byte) bool {
	t.logMu.Lock()
	defer t.logMu.Unlock()

	last, ok := t.logRecords[hash]
	if !ok {
		t.logRecords[hash] = time.Now()
		return true
	}
	if time.Since(last) >= t.logInterval {
		t.logRecords[hash] = time.Now()
		return true
	}
	return false
}
