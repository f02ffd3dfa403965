package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/adred-codev/entropysync/pkg/netcode"
)

// remoteSendBuffer bounds the outbound queue feeding the write pump,
// mirroring the bounded per-client buffer the server side of the
// original WebSocket stack uses to detect a slow peer instead of
// growing memory unbounded.
const remoteSendBuffer = 1024

// WriteDeadline bounds a single frame write; a peer that can't keep up
// within this window is treated as failed rather than stalling the
// write pump indefinitely.
var WriteDeadline = 10 * time.Second

// Remote is a WebSocket-backed Transport. Wrap an already-upgraded
// net.Conn (server side, after ws.UpgradeHTTP) with NewRemoteServer, or
// dial a peer with NewRemoteClient.
type Remote struct {
	conn     net.Conn
	isServer bool

	state   atomic.Uint32
	onMsg   atomic.Value
	onState atomic.Value

	sendCh   chan []byte
	stopOnce sync.Once
	stopCh   chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

// NewRemoteServer wraps a net.Conn obtained from ws.UpgradeHTTP on the
// accepting side. The caller owns upgrading the HTTP request; this
// type only owns the frame pump once the connection is live.
func NewRemoteServer(conn net.Conn) *Remote {
	return newRemote(conn, true)
}

// NewRemoteClient dials addr (a ws:// or wss:// URL) and returns a
// connected Remote, or a failed Result if the dial or handshake fails.
func NewRemoteClient(addr string) netcode.Result[*Remote] {
	conn, _, _, err := ws.Dial(nil, addr)
	if err != nil {
		return netcode.Err[*Remote](netcode.ConnectionClosed, "dial failed: "+err.Error())
	}
	return netcode.Ok(newRemote(conn, false))
}

func newRemote(conn net.Conn, isServer bool) *Remote {
	r := &Remote{
		conn:     conn,
		isServer: isServer,
		sendCh:   make(chan []byte, remoteSendBuffer),
		stopCh:   make(chan struct{}),
	}
	r.state.Store(uint32(StateConnected))
	go r.readLoop()
	go r.writeLoop()
	return r
}

func (r *Remote) readLoop() {
	defer r.Disconnect()
	for {
		var payload []byte
		var err error
		if r.isServer {
			payload, _, err = wsutil.ReadClientData(r.conn)
		} else {
			payload, _, err = wsutil.ReadServerData(r.conn)
		}
		if err != nil {
			return
		}

		r.statsMu.Lock()
		r.stats.MessagesReceived++
		r.stats.BytesReceived += uint64(len(payload))
		r.statsMu.Unlock()

		if cb, ok := r.onMsg.Load().(MessageCallback); ok && cb != nil {
			cb(payload)
		}
	}
}

func (r *Remote) writeLoop() {
	for {
		select {
		case frame := <-r.sendCh:
			r.conn.SetWriteDeadline(time.Now().Add(WriteDeadline))
			var err error
			if r.isServer {
				err = wsutil.WriteServerMessage(r.conn, ws.OpBinary, frame)
			} else {
				err = wsutil.WriteClientMessage(r.conn, ws.OpBinary, frame)
			}
			if err != nil {
				r.Disconnect()
				return
			}
			r.statsMu.Lock()
			r.stats.MessagesSent++
			r.stats.BytesSent += uint64(len(frame))
			r.statsMu.Unlock()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Remote) Connect() netcode.Result[struct{}] { return netcode.OkEmpty() }

func (r *Remote) Disconnect() netcode.Result[struct{}] {
	r.stopOnce.Do(func() {
		r.state.Store(uint32(StateClosed))
		close(r.stopCh)
		r.conn.Close()
		if cb, ok := r.onState.Load().(StateCallback); ok && cb != nil {
			cb(StateClosed)
		}
	})
	return netcode.OkEmpty()
}

// Send queues frame on the reliable channel. The two channels are
// distinguished by the caller (pkg/session routes PropertyUpdateBatch
// through SendUnreliable); both share the same underlying WebSocket
// ordered stream here since a single TCP connection has no notion of
// a truly unreliable sub-channel — a dropped update is a batcher-level
// design choice, not a transport-level one.
func (r *Remote) Send(frame []byte) netcode.Result[struct{}] {
	if State(r.state.Load()) != StateConnected {
		return netcode.ErrEmpty(netcode.ConnectionClosed, "transport not connected")
	}
	select {
	case r.sendCh <- frame:
		return netcode.OkEmpty()
	case <-r.stopCh:
		return netcode.ErrEmpty(netcode.ConnectionClosed, "transport closed")
	}
}

func (r *Remote) SendUnreliable(frame []byte) netcode.Result[struct{}] {
	return r.TrySend(frame)
}

func (r *Remote) TrySend(frame []byte) netcode.Result[struct{}] {
	if State(r.state.Load()) != StateConnected {
		return netcode.ErrEmpty(netcode.ConnectionClosed, "transport not connected")
	}
	select {
	case r.sendCh <- frame:
		return netcode.OkEmpty()
	default:
		return netcode.ErrEmpty(netcode.WouldBlock, "send buffer full")
	}
}

func (r *Remote) SetMessageCallback(cb MessageCallback) { r.onMsg.Store(cb) }
func (r *Remote) SetStateCallback(cb StateCallback)     { r.onState.Store(cb) }

func (r *Remote) GetStats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

func (r *Remote) GetType() Type   { return TypeRemote }
func (r *Remote) GetState() State { return State(r.state.Load()) }
