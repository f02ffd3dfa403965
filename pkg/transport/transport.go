// Package transport abstracts the byte pipe a session rides on top
// of, so pkg/session never hard-codes a WebSocket, a loopback channel
// pair, or anything else. Two backends are provided: Local, an
// in-process channel pair for tests and same-process client/server
// wiring, and Remote, a real WebSocket connection.
package transport

import (
	"github.com/adred-codev/entropysync/pkg/netcode"
)

// Type identifies which backend a Transport is.
type Type uint8

const (
	TypeLocal Type = iota
	TypeRemote
)

func (t Type) String() string {
	switch t {
	case TypeLocal:
		return "local"
	case TypeRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// State mirrors the lifecycle a Transport moves through, independent
// of the protocol-level session state machine layered on top of it in
// pkg/session.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats carries the byte/message counters a transport backend
// maintains for diagnostics; session.Session exposes a superset of
// this that also tracks protocol-level sequencing.
type Stats struct {
	BytesSent       uint64
	BytesReceived   uint64
	MessagesSent    uint64
	MessagesReceived uint64
}

// MessageCallback is invoked once per complete, framed payload
// received from the peer. It runs on the transport's own read
// goroutine; callbacks that block delay delivery of subsequent
// messages on the same transport only.
type MessageCallback func(payload []byte)

// StateCallback is invoked whenever the transport's connection state
// changes.
type StateCallback func(s State)

// Transport is the narrow send/receive/lifecycle surface pkg/conn and
// pkg/session depend on. Every method is safe for concurrent use.
type Transport interface {
	// Connect establishes the underlying connection. For a server-side
	// accepted connection this is a no-op; it exists for symmetry with
	// the client dial path.
	Connect() netcode.Result[struct{}]

	// Disconnect tears the connection down gracefully, flushing
	// nothing further to the peer.
	Disconnect() netcode.Result[struct{}]

	// Send writes a pre-framed payload over the reliable channel,
	// blocking if the underlying backend needs to.
	Send(frame []byte) netcode.Result[struct{}]

	// SendUnreliable writes a pre-framed payload over the unreliable
	// channel, where the backend supports that distinction (Remote
	// maps it onto a best-effort, droppable send path; Local treats it
	// identically to Send since a same-process channel never drops).
	SendUnreliable(frame []byte) netcode.Result[struct{}]

	// TrySend is the non-blocking variant of Send: it returns
	// WouldBlock immediately rather than waiting for buffer space.
	TrySend(frame []byte) netcode.Result[struct{}]

	SetMessageCallback(cb MessageCallback)
	SetStateCallback(cb StateCallback)

	GetStats() Stats
	GetType() Type
	GetState() State
}
