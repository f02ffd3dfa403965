// Package listener implements the blocking acceptor that adopts newly
// established transports into a conn.Manager and hands connection
// handles to callers one at a time via Accept. An optional token-bucket
// rate limiter gates how fast a burst of inbound connections can drain
// into the connection manager.
package listener

import (
	"sync"

	"github.com/adred-codev/entropysync/pkg/conn"
	"github.com/adred-codev/entropysync/pkg/netcode"
	"github.com/adred-codev/entropysync/pkg/transport"
)

// Listener adopts transports as they reach transport.StateConnected
// and serves them to Accept callers in FIFO order. Close unblocks every
// pending and future Accept with a failed Result instead of a zero
// Handle, so callers can't mistake shutdown for a valid connection.
type Listener struct {
	manager *conn.Manager

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []conn.Handle
	closed bool

	limiter *AcceptLimiter
}

// New builds a Listener that adopts connections into manager. limiter
// may be nil to accept without rate limiting.
func New(manager *conn.Manager, limiter *AcceptLimiter) *Listener {
	l := &Listener{manager: manager, limiter: limiter}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Adopt installs t into the connection manager and, once t reaches
// StateConnected, enqueues its handle for Accept. The per-remote-address
// key is used only for rate limiting, never for routing or identity.
func (l *Listener) Adopt(t transport.Transport, remoteAddr string) netcode.Result[conn.Handle] {
	if l.limiter != nil && !l.limiter.Allow(remoteAddr) {
		return netcode.Err[conn.Handle](netcode.ResourceLimitExceeded, "connection rate limit exceeded")
	}

	h := l.manager.Open(t)
	if h.Failed() {
		return h
	}

	t.SetStateCallback(func(st transport.State) {
		if st == transport.StateConnected {
			l.enqueue(h.Value)
		}
	})
	if res := l.manager.Connect(h.Value); res.Failed() {
		l.manager.Close(h.Value)
		return netcode.Err[conn.Handle](res.Code, res.Message)
	}
	// Both transport backends complete Connect synchronously with no
	// further state transition to observe, so check directly rather
	// than rely solely on the callback firing later.
	if l.manager.GetState(h.Value) == transport.StateConnected {
		l.enqueue(h.Value)
	}
	return h
}

func (l *Listener) enqueue(h conn.Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.queue = append(l.queue, h)
	l.cond.Signal()
}

// Accept blocks until a connection reaches StateConnected or the
// Listener is closed. A closed Listener yields a failed Result with
// code ConnectionClosed, never a zero Handle masquerading as valid.
func (l *Listener) Accept() netcode.Result[conn.Handle] {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.queue) == 0 && !l.closed {
		l.cond.Wait()
	}
	if l.closed {
		return netcode.Err[conn.Handle](netcode.ConnectionClosed, "listener closed")
	}
	h := l.queue[0]
	l.queue = l.queue[1:]
	return netcode.Ok(h)
}

// Close stops accepting new connections and wakes every blocked and
// future Accept caller.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.cond.Broadcast()
}
