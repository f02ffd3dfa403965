package transport

import (
	"sync"
	"sync/atomic"

	"github.com/adred-codev/entropysync/pkg/netcode"
)

// localBufferSize bounds each direction of a Local pair. When it is
// full, TrySend fails WouldBlock, while Send and SendUnreliable block
// until the peer's read loop frees space or the transport is
// disconnected.
const localBufferSize = 1024

// Local is an in-process transport backed by a buffered Go channel in
// each direction. NewLocalPair builds two Local instances already
// wired to each other, useful for same-process client/server tests
// and for embedding a server inside a client process without opening
// a real socket.
type Local struct {
	out chan []byte
	in  chan []byte

	state   atomic.Uint32
	onMsg   atomic.Value // MessageCallback
	onState atomic.Value // StateCallback

	stopOnce sync.Once
	stopCh   chan struct{}

	stats Stats
	mu    sync.Mutex
}

// NewLocalPair builds two connected Local transports: messages sent on
// a are delivered to b, and vice versa.
func NewLocalPair() (a, b *Local) {
	ab := make(chan []byte, localBufferSize)
	ba := make(chan []byte, localBufferSize)
	a = &Local{out: ab, in: ba, stopCh: make(chan struct{})}
	b = &Local{out: ba, in: ab, stopCh: make(chan struct{})}
	a.state.Store(uint32(StateConnected))
	b.state.Store(uint32(StateConnected))
	go a.readLoop()
	go b.readLoop()
	return a, b
}

func (l *Local) readLoop() {
	for {
		select {
		case payload, ok := <-l.in:
			if !ok {
				return
			}
			l.mu.Lock()
			l.stats.MessagesReceived++
			l.stats.BytesReceived += uint64(len(payload))
			l.mu.Unlock()
			if cb, ok := l.onMsg.Load().(MessageCallback); ok && cb != nil {
				cb(payload)
			}
		case <-l.stopCh:
			return
		}
	}
}

func (l *Local) Connect() netcode.Result[struct{}] {
	return netcode.OkEmpty()
}

func (l *Local) Disconnect() netcode.Result[struct{}] {
	l.stopOnce.Do(func() {
		l.state.Store(uint32(StateClosed))
		close(l.stopCh)
		if cb, ok := l.onState.Load().(StateCallback); ok && cb != nil {
			cb(StateClosed)
		}
	})
	return netcode.OkEmpty()
}

func (l *Local) send(frame []byte) netcode.Result[struct{}] {
	if State(l.state.Load()) != StateConnected {
		return netcode.ErrEmpty(netcode.ConnectionClosed, "local transport not connected")
	}
	select {
	case l.out <- frame:
		l.mu.Lock()
		l.stats.MessagesSent++
		l.stats.BytesSent += uint64(len(frame))
		l.mu.Unlock()
		return netcode.OkEmpty()
	case <-l.stopCh:
		return netcode.ErrEmpty(netcode.ConnectionClosed, "local transport closed")
	}
}

func (l *Local) Send(frame []byte) netcode.Result[struct{}]            { return l.send(frame) }
func (l *Local) SendUnreliable(frame []byte) netcode.Result[struct{}]  { return l.send(frame) }

func (l *Local) TrySend(frame []byte) netcode.Result[struct{}] {
	if State(l.state.Load()) != StateConnected {
		return netcode.ErrEmpty(netcode.ConnectionClosed, "local transport not connected")
	}
	select {
	case l.out <- frame:
		l.mu.Lock()
		l.stats.MessagesSent++
		l.stats.BytesSent += uint64(len(frame))
		l.mu.Unlock()
		return netcode.OkEmpty()
	default:
		return netcode.ErrEmpty(netcode.WouldBlock, "local transport buffer full")
	}
}

func (l *Local) SetMessageCallback(cb MessageCallback) { l.onMsg.Store(cb) }
func (l *Local) SetStateCallback(cb StateCallback)     { l.onState.Store(cb) }

func (l *Local) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Local) GetType() Type   { return TypeLocal }
func (l *Local) GetState() State { return State(l.state.Load()) }
