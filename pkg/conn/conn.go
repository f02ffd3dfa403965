// Package conn manages the pool of live transports behind a generic
// slotpool.Pool, giving every connection a generation-stamped Handle
// that is the primary API for connect/send/disconnect operations,
// mirroring the handle-delegates-to-manager pattern used across the
// rest of this library.
package conn

import (
	"github.com/adred-codev/entropysync/pkg/netcode"
	"github.com/adred-codev/entropysync/pkg/slotpool"
	"github.com/adred-codev/entropysync/pkg/transport"
)

// Handle addresses one managed connection. It is freely copyable and
// detectably stale once the underlying slot is released.
type Handle = slotpool.Handle[transport.Transport]

// Manager owns a fixed-capacity pool of transports. A Handle obtained
// from Open is the only way callers interact with a connection; the
// Manager never exposes the underlying transport.Transport directly,
// so every operation goes through the slot's generation check.
type Manager struct {
	pool *slotpool.Pool[transport.Transport]
}

// New builds a Manager with room for capacity simultaneous
// connections. Typical capacities run from a handful (a test client)
// to several thousand (a server accepting many peers).
func New(capacity int) *Manager {
	return &Manager{pool: slotpool.New[transport.Transport](capacity)}
}

// Open installs an already-constructed transport (e.g. a
// transport.Local or transport.Remote obtained elsewhere) and returns
// a Handle for it. The Manager does not dial or accept on the
// caller's behalf — that stays the responsibility of pkg/listener on
// the accept side, or the caller directly for outbound connections.
func (m *Manager) Open(t transport.Transport) netcode.Result[Handle] {
	return m.pool.Allocate(func() transport.Transport { return t })
}

// Capacity returns the fixed number of connections this Manager can
// hold simultaneously.
func (m *Manager) Capacity() int { return m.pool.Capacity() }

// ActiveCount returns the number of currently open connections.
func (m *Manager) ActiveCount() int64 { return m.pool.ActiveCount() }

// Valid reports whether h still refers to an open connection.
func (m *Manager) Valid(h Handle) bool { return m.pool.Valid(h) }

// Connect calls the underlying transport's Connect.
func (m *Manager) Connect(h Handle) netcode.Result[struct{}] {
	return m.pool.Access(h, func(t *transport.Transport) netcode.Result[struct{}] {
		return (*t).Connect()
	})
}

// Disconnect calls the underlying transport's Disconnect without
// freeing the slot; the handle remains valid until Close.
func (m *Manager) Disconnect(h Handle) netcode.Result[struct{}] {
	return m.pool.Access(h, func(t *transport.Transport) netcode.Result[struct{}] {
		return (*t).Disconnect()
	})
}

// Close disconnects (if still connected) and returns the slot to the
// free list. After Close, h.Valid() reports false.
func (m *Manager) Close(h Handle) netcode.Result[struct{}] {
	return m.pool.Release(h, func(t *transport.Transport) {
		(*t).Disconnect()
	})
}

// Send writes frame over the reliable channel.
func (m *Manager) Send(h Handle, frame []byte) netcode.Result[struct{}] {
	return m.pool.Access(h, func(t *transport.Transport) netcode.Result[struct{}] {
		return (*t).Send(frame)
	})
}

// TrySend is the non-blocking variant of Send.
func (m *Manager) TrySend(h Handle, frame []byte) netcode.Result[struct{}] {
	return m.pool.Access(h, func(t *transport.Transport) netcode.Result[struct{}] {
		return (*t).TrySend(frame)
	})
}

// SendUnreliable writes frame over the unreliable channel.
func (m *Manager) SendUnreliable(h Handle, frame []byte) netcode.Result[struct{}] {
	return m.pool.Access(h, func(t *transport.Transport) netcode.Result[struct{}] {
		return (*t).SendUnreliable(frame)
	})
}

// IsConnected reports whether h's transport currently reports
// StateConnected.
func (m *Manager) IsConnected(h Handle) bool {
	res := slotpool.AccessValue(m.pool, h, func(t *transport.Transport) netcode.Result[bool] {
		return netcode.Ok((*t).GetState() == transport.StateConnected)
	})
	return res.IsOK() && res.Value
}

// GetState returns h's transport state, or StateDisconnected if the
// handle is no longer valid.
func (m *Manager) GetState(h Handle) transport.State {
	res := slotpool.AccessValue(m.pool, h, func(t *transport.Transport) netcode.Result[transport.State] {
		return netcode.Ok((*t).GetState())
	})
	if res.Failed() {
		return transport.StateDisconnected
	}
	return res.Value
}

// GetStats returns h's transport statistics.
func (m *Manager) GetStats(h Handle) netcode.Result[transport.Stats] {
	return slotpool.AccessValue(m.pool, h, func(t *transport.Transport) netcode.Result[transport.Stats] {
		return netcode.Ok((*t).GetStats())
	})
}

// GetType returns h's transport backend type.
func (m *Manager) GetType(h Handle) transport.Type {
	res := slotpool.AccessValue(m.pool, h, func(t *transport.Transport) netcode.Result[transport.Type] {
		return netcode.Ok((*t).GetType())
	})
	if res.Failed() {
		return transport.TypeLocal
	}
	return res.Value
}

// SetMessageCallback registers cb on h's underlying transport.
func (m *Manager) SetMessageCallback(h Handle, cb transport.MessageCallback) netcode.Result[struct{}] {
	return m.pool.Access(h, func(t *transport.Transport) netcode.Result[struct{}] {
		(*t).SetMessageCallback(cb)
		return netcode.OkEmpty()
	})
}

// SetStateCallback registers cb on h's underlying transport.
func (m *Manager) SetStateCallback(h Handle, cb transport.StateCallback) netcode.Result[struct{}] {
	return m.pool.Access(h, func(t *transport.Transport) netcode.Result[struct{}] {
		(*t).SetStateCallback(cb)
		return netcode.OkEmpty()
	})
}

// ForEach visits every currently-open connection's handle, skipping
// (best effort) any whose slot is momentarily locked by a concurrent
// operation. Used by broadcast-style operations in pkg/session.
func (m *Manager) ForEach(fn func(h Handle)) {
	m.pool.ForEachTryLock(func(h Handle, t *transport.Transport) {
		fn(h)
	})
}
