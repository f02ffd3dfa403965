package listener

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AcceptLimiterConfig tunes NewAcceptLimiter. Zero fields fall back to
// the defaults noted alongside each.
type AcceptLimiterConfig struct {
	PerRemoteBurst int           // default 10
	PerRemoteRate  float64       // default 1.0/sec
	PerRemoteTTL   time.Duration // default 5m
	GlobalBurst    int           // default 300
	GlobalRate     float64       // default 50.0/sec
}

type remoteEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// AcceptLimiter is a two-level token-bucket admission gate in front of
// Listener.Adopt: a global bucket bounds total inbound connection rate,
// and a per-remote-address bucket bounds any single peer's share of it.
// Modeled on the teacher's ConnectionRateLimiter, minus its logging and
// metrics hooks — those belong to the caller's ambient stack, not this
// package.
type AcceptLimiter struct {
	mu      sync.Mutex
	entries map[string]*remoteEntry

	perRemoteBurst int
	perRemoteRate  float64
	ttl            time.Duration

	global *rate.Limiter

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewAcceptLimiter builds an AcceptLimiter and starts its background
// cleanup of stale per-remote entries. Call Stop when the listener
// shuts down.
func NewAcceptLimiter(cfg AcceptLimiterConfig) *AcceptLimiter {
	if cfg.PerRemoteBurst == 0 {
		cfg.PerRemoteBurst = 10
	}
	if cfg.PerRemoteRate == 0 {
		cfg.PerRemoteRate = 1.0
	}
	if cfg.PerRemoteTTL == 0 {
		cfg.PerRemoteTTL = 5 * time.Minute
	}
	if cfg.GlobalBurst == 0 {
		cfg.GlobalBurst = 300
	}
	if cfg.GlobalRate == 0 {
		cfg.GlobalRate = 50.0
	}

	l := &AcceptLimiter{
		entries:        make(map[string]*remoteEntry),
		perRemoteBurst: cfg.PerRemoteBurst,
		perRemoteRate:  cfg.PerRemoteRate,
		ttl:            cfg.PerRemoteTTL,
		global:         rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		stopCleanup:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a connection attempt from remoteAddr may
// proceed: the global bucket is checked first (cheap, no map lookup),
// then the per-remote bucket.
func (l *AcceptLimiter) Allow(remoteAddr string) bool {
	if !l.global.Allow() {
		return false
	}
	return l.remoteLimiter(remoteAddr).Allow()
}

func (l *AcceptLimiter) remoteLimiter(remoteAddr string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[remoteAddr]; ok {
		e.lastAccess = time.Now()
		return e.limiter
	}
	lim := rate.NewLimiter(rate.Limit(l.perRemoteRate), l.perRemoteBurst)
	l.entries[remoteAddr] = &remoteEntry{limiter: lim, lastAccess: time.Now()}
	return lim
}

func (l *AcceptLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *AcceptLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for addr, e := range l.entries {
		if now.Sub(e.lastAccess) > l.ttl {
			delete(l.entries, addr)
		}
	}
}

// Stop halts the background cleanup goroutine.
func (l *AcceptLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}
