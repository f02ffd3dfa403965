// Package session implements the protocol state machine layered over
// a raw transport: handshake gating, reliable/unreliable routing,
// sequence and loss accounting, schema fan-out, and the unknown-schema
// NACK path. Manager (in manager.go) owns a pool of Sessions the same
// way pkg/conn owns a pool of transports.
package session

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adred-codev/entropysync/pkg/batch"
	"github.com/adred-codev/entropysync/pkg/nack"
	"github.com/adred-codev/entropysync/pkg/netcode"
	"github.com/adred-codev/entropysync/pkg/property"
	"github.com/adred-codev/entropysync/pkg/schema"
	"github.com/adred-codev/entropysync/pkg/transport"
	"github.com/adred-codev/entropysync/pkg/wire"
)

// State enumerates the session machine's lifecycle.
type State uint8

const (
	StateNew State = iota
	StateHandshakeSent
	StateHandshakeComplete
	StateActive
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHandshakeSent:
		return "handshake_sent"
	case StateHandshakeComplete:
		return "handshake_complete"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Callbacks groups every protocol-message callback a caller may
// install on a Session. Every field is optional; a nil callback simply
// drops that message kind after accounting. Callbacks run on the
// transport's receive goroutine with the Session's own dispatch mutex
// held, so they must be brief; the owning Manager's slot mutex is not
// held while they run.
type Callbacks struct {
	OnHandshake           func(clientType, clientID string)
	OnEntityCreated       func(msg wire.EntityCreatedMsg)
	OnEntityDestroyed     func(msg wire.EntityDestroyedMsg)
	OnPropertyUpdateBatch func(msg wire.PropertyUpdateBatchMsg)
	OnSceneSnapshotChunk  func(msg wire.SceneSnapshotChunkMsg)
	OnSchemaAdvertisement func(msg wire.SchemaAdvertisementMsg)
	OnSchemaNack          func(msg wire.SchemaNackMsg)
	OnRegisterSchema      func(msg wire.RegisterSchemaMsg) netcode.Result[struct{}]
	OnQueryPublicSchemas  func() []schema.Schema
	OnPublishSchema       func(msg wire.PublishSchemaMsg) netcode.Result[struct{}]
	OnUnpublishSchema     func(msg wire.UnpublishSchemaMsg) netcode.Result[struct{}]
	OnHeartbeat           func(msg wire.HeartbeatMsg)
	OnError               func(code netcode.Code, message string)
}

// Config bundles the collaborators a Session needs beyond the raw
// transport it wraps. PropertyRegistry and SchemaRegistry are optional
// diagnostic/fan-out aids; NackPolicy and NackTracker are required but
// expected to be shared across every Session a Manager owns (never a
// package-level singleton — see DESIGN.md).
type Config struct {
	PropertyRegistry *property.Registry
	SchemaRegistry   *schema.Registry
	NackPolicy       *nack.Policy
	NackTracker      *nack.Tracker
	BatchIntervalMs  uint32
}

// Session wraps a transport.Transport with the protocol state machine:
// handshake gating, send routing, sequence/loss accounting, and
// protocol message dispatch. A Session never starts its own goroutine;
// it reacts to the transport's message/state callbacks and to direct
// calls from the caller or a Manager.
type Session struct {
	id   string
	conn transport.Transport

	propertyRegistry *property.Registry
	schemaRegistry   *schema.Registry
	nackPolicy       *nack.Policy
	nackTracker      *nack.Tracker

	state atomic.Uint32

	nextSendSequence     atomic.Uint32
	lastReceivedSequence atomic.Uint32

	duplicatePacketsReceived uint64
	packetLossEvents         uint64
	sequenceUpdateFailures   uint64
	unknownSchemaDrops       uint64
	preHandshakeDrops        uint64

	countersMu sync.Mutex

	clientType string
	clientID   string

	cbMu sync.RWMutex
	cb   Callbacks

	mu sync.Mutex // serializes dispatch of received messages; sends do not take it

	batchingEnabled atomic.Bool
	batcher         *batch.Batcher
}

const maxSequenceCASRetries = 8

// New wraps conn with the protocol state machine. cfg's NackPolicy and
// NackTracker must be non-nil; callers building sessions directly
// (rather than through a Manager) are responsible for sharing one pair
// of them across every Session in the process that should rate-limit
// together.
func New(conn transport.Transport, cfg Config) *Session {
	s := &Session{
		id:               generateSessionID(),
		conn:             conn,
		propertyRegistry: cfg.PropertyRegistry,
		schemaRegistry:   cfg.SchemaRegistry,
		nackPolicy:       cfg.NackPolicy,
		nackTracker:      cfg.NackTracker,
	}
	s.state.Store(uint32(StateNew))
	s.batcher = batch.New(s, cfg.BatchIntervalMs)
	return s
}

// SetBatchingEnabled toggles whether property updates routed through
// UpdateProperty are accumulated by the embedded batcher. Disabling
// does not flush any updates already pending; call FlushPropertyUpdates
// first if that's needed.
func (s *Session) SetBatchingEnabled(enabled bool) { s.batchingEnabled.Store(enabled) }

// IsBatchingEnabled reports the current SetBatchingEnabled setting.
func (s *Session) IsBatchingEnabled() bool { return s.batchingEnabled.Load() }

// UpdateProperty records a property value with the embedded batcher
// when batching is enabled; otherwise it sends a single-update batch
// immediately. Either way the update travels on the unreliable channel
// once flushed.
func (s *Session) UpdateProperty(hash property.Hash, value property.Value) netcode.Result[struct{}] {
	if s.batchingEnabled.Load() {
		s.batcher.UpdateProperty(hash, value)
		return netcode.OkEmpty()
	}
	return s.SendPropertyUpdateBatch(wire.PropertyUpdateBatchMsg{
		TimestampMicros: time.Now().UnixMicro(),
		Updates:         []wire.BatchedUpdate{{Hash: hash, Value: value}},
	})
}

// FlushPropertyUpdates forces the embedded batcher to send its pending
// updates immediately, e.g. on session teardown.
func (s *Session) FlushPropertyUpdates() netcode.Result[struct{}] {
	return s.batcher.Flush()
}

// PropertyBatchStats mirrors the embedded batcher's lifetime counters.
func (s *Session) PropertyBatchStats() batch.Stats { return s.batcher.GetStats() }

// PendingPropertyUpdateCount returns the number of distinct properties
// awaiting the embedded batcher's next flush.
func (s *Session) PendingPropertyUpdateCount() int { return s.batcher.PendingCount() }

// ProcessPropertyBatch drains and sends the embedded batcher's pending
// updates. A caller-supplied scheduler (internal/workerpool or a
// ticker) must invoke this periodically for batching to take effect;
// the session never schedules its own flush.
func (s *Session) ProcessPropertyBatch() netcode.Result[struct{}] {
	return s.batcher.ProcessBatch()
}

func generateSessionID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "session-" + time.Now().Format("150405.000000000")
	}
	return "session-" + hex.EncodeToString(buf[:])
}

// SessionID returns the session's diagnostic identifier.
func (s *Session) SessionID() string { return s.id }

// State returns the session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// IsHandshakeComplete reports whether the peer's Handshake has been
// received and processed.
func (s *Session) IsHandshakeComplete() bool {
	st := s.State()
	return st == StateHandshakeComplete || st == StateActive
}

// SetCallbacks installs the full callback set, replacing any prior
// registration.
func (s *Session) SetCallbacks(cb Callbacks) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.cb = cb
}

// Attach wires this Session's dispatch into conn's message and state
// callbacks. Callers constructing a Session directly (outside a
// Manager, which does this automatically) must call Attach before any
// message will be delivered.
func (s *Session) Attach() {
	s.conn.SetMessageCallback(func(payload []byte) { s.onMessageReceived(payload) })
	s.conn.SetStateCallback(func(st transport.State) { s.onTransportStateChanged(st) })
}

func (s *Session) onTransportStateChanged(st transport.State) {
	switch st {
	case transport.StateConnected:
		// Connected is reached only once the handshake completes;
		// a bare transport-level connect does not advance past New.
	case transport.StateDisconnected, transport.StateClosed:
		if s.State() != StateFailed {
			s.state.Store(uint32(StateClosed))
		}
	case transport.StateConnecting:
	}
}

// Connect opens the underlying transport. It does not by itself
// perform the protocol handshake; call PerformHandshake afterward.
func (s *Session) Connect() netcode.Result[struct{}] {
	return s.conn.Connect()
}

// Disconnect flushes the embedded batcher's pending property updates
// once, then tears down the underlying transport without releasing
// any slot a Manager may hold for this session.
func (s *Session) Disconnect() netcode.Result[struct{}] {
	s.batcher.Flush()
	s.state.Store(uint32(StateClosing))
	res := s.conn.Disconnect()
	s.state.Store(uint32(StateClosed))
	return res
}

// PerformHandshake sends a Handshake message on the reliable channel
// and moves the session into HandshakeSent. It does not block for the
// peer's reply; completion is observed via the OnHandshake callback
// (or IsHandshakeComplete polling).
func (s *Session) PerformHandshake(clientType, clientID string) netcode.Result[struct{}] {
	s.clientType = clientType
	s.clientID = clientID
	s.state.Store(uint32(StateHandshakeSent))
	return s.sendReliable(wire.Message{
		Kind:      wire.KindHandshake,
		Handshake: wire.HandshakeMsg{ClientType: clientType, ClientID: clientID},
	})
}

// sendReliable bumps the local send-sequence counter and frames/sends
// msg on the reliable channel. The counter is not written into the
// frame; the peer's loss accounting reads PropertyUpdateBatch sequence
// numbers only.
func (s *Session) sendReliable(msg wire.Message) netcode.Result[struct{}] {
	if !s.handshakeGateOK(msg.Kind) {
		return netcode.ErrEmpty(netcode.HandshakeFailed, "handshake not complete")
	}
	s.nextSendSequence.Add(1)
	frame, err := wire.FrameMessage(msg)
	if err != nil {
		return netcode.ErrEmpty(netcode.SerializationFailed, err.Error())
	}
	return s.conn.Send(frame)
}

// sendUnreliable frames/sends msg on the best-effort channel.
func (s *Session) sendUnreliable(msg wire.Message) netcode.Result[struct{}] {
	if !s.handshakeGateOK(msg.Kind) {
		return netcode.ErrEmpty(netcode.HandshakeFailed, "handshake not complete")
	}
	frame, err := wire.FrameMessage(msg)
	if err != nil {
		return netcode.ErrEmpty(netcode.SerializationFailed, err.Error())
	}
	return s.conn.SendUnreliable(frame)
}

// handshakeGateOK reports whether msg of this kind may be sent given
// the current state: Handshake itself is always allowed (it's what
// drives HandshakeSent), everything else requires a completed
// handshake.
func (s *Session) handshakeGateOK(k wire.Kind) bool {
	if k == wire.KindHandshake {
		return true
	}
	return s.IsHandshakeComplete()
}

// route sends msg on the channel its Kind specifies.
func (s *Session) route(msg wire.Message) netcode.Result[struct{}] {
	if msg.Kind.Reliable() {
		return s.sendReliable(msg)
	}
	return s.sendUnreliable(msg)
}

func (s *Session) SendEntityCreated(msg wire.EntityCreatedMsg) netcode.Result[struct{}] {
	return s.route(wire.Message{Kind: wire.KindEntityCreated, EntityCreated: msg})
}

func (s *Session) SendEntityDestroyed(msg wire.EntityDestroyedMsg) netcode.Result[struct{}] {
	return s.route(wire.Message{Kind: wire.KindEntityDestroyed, EntityDestroyed: msg})
}

// SendPropertyUpdateBatch implements batch.Sender, letting a
// batch.Batcher flush directly through this session's unreliable
// channel.
func (s *Session) SendPropertyUpdateBatch(msg wire.PropertyUpdateBatchMsg) netcode.Result[struct{}] {
	return s.route(wire.Message{Kind: wire.KindPropertyUpdateBatch, PropertyUpdateBatch: msg})
}

func (s *Session) SendSceneSnapshotChunk(msg wire.SceneSnapshotChunkMsg) netcode.Result[struct{}] {
	return s.route(wire.Message{Kind: wire.KindSceneSnapshotChunk, SceneSnapshotChunk: msg})
}

func (s *Session) SendSchemaAdvertisement(msg wire.SchemaAdvertisementMsg) netcode.Result[struct{}] {
	return s.route(wire.Message{Kind: wire.KindSchemaAdvertisement, SchemaAdvertisement: msg})
}

func (s *Session) SendRegisterSchema(msg wire.RegisterSchemaMsg) netcode.Result[struct{}] {
	return s.route(wire.Message{Kind: wire.KindRegisterSchema, RegisterSchema: msg})
}

func (s *Session) SendQueryPublicSchemas() netcode.Result[struct{}] {
	return s.route(wire.Message{Kind: wire.KindQueryPublicSchemas})
}

func (s *Session) SendPublishSchema(msg wire.PublishSchemaMsg) netcode.Result[struct{}] {
	return s.route(wire.Message{Kind: wire.KindPublishSchema, PublishSchema: msg})
}

func (s *Session) SendUnpublishSchema(msg wire.UnpublishSchemaMsg) netcode.Result[struct{}] {
	return s.route(wire.Message{Kind: wire.KindUnpublishSchema, UnpublishSchema: msg})
}

func (s *Session) SendHeartbeat() netcode.Result[struct{}] {
	return s.route(wire.Message{Kind: wire.KindHeartbeat, Heartbeat: wire.HeartbeatMsg{Timestamp: time.Now().UnixMicro()}})
}

// sendSchemaNack is advisory: policy-gated, rate-limited, and never
// surfaces a failure to the caller of HandleUnknownSchema — a dropped
// NACK just means the peer keeps using the unknown schema until it
// times out on its own end.
func (s *Session) sendSchemaNack(typeHash schema.TypeHash, reason string) {
	if s.nackPolicy == nil || !s.nackPolicy.Enabled() {
		return
	}
	if s.nackTracker == nil || !s.nackTracker.ShouldSendNack(typeHash) {
		return
	}
	msg := wire.Message{
		Kind: wire.KindSchemaNack,
		SchemaNack: wire.SchemaNackMsg{
			TypeHash:  typeHash,
			Reason:    reason,
			Timestamp: time.Now().UnixMicro(),
		},
	}
	if res := s.sendReliable(msg); res.IsOK() {
		s.nackTracker.RecordNackSent(typeHash)
	}
}

// updateReceivedSequence applies seq to lastReceivedSequence with a
// bounded CAS loop, classifying the update as duplicate, in-order, or
// lossy (a gap). Exhausting the CAS budget bumps
// sequenceUpdateFailures but never fails the caller — the message
// itself is still dispatched.
func (s *Session) updateReceivedSequence(seq uint32) {
	for i := 0; i < maxSequenceCASRetries; i++ {
		last := s.lastReceivedSequence.Load()
		if seq <= last && last != 0 {
			s.bumpCounter(&s.duplicatePacketsReceived)
			return
		}
		gap := seq - last
		if last != 0 && gap > 1 {
			s.countersMu.Lock()
			s.packetLossEvents += uint64(gap - 1)
			s.countersMu.Unlock()
		}
		if s.lastReceivedSequence.CompareAndSwap(last, seq) {
			return
		}
	}
	s.bumpCounter(&s.sequenceUpdateFailures)
}

func (s *Session) bumpCounter(counter *uint64) {
	s.countersMu.Lock()
	*counter++
	s.countersMu.Unlock()
}

// onMessageReceived is the transport's message callback: strip the
// 4-byte length prefix, deserialize, then dispatch under s.mu so
// received messages are handled one at a time.
func (s *Session) onMessageReceived(frame []byte) {
	payload, err := wire.ReadFrame(bytes.NewReader(frame))
	if err != nil {
		s.emitError(netcode.DeserializationFailed, err.Error())
		return
	}
	msg, err := wire.Decode(payload)
	if err != nil {
		s.emitError(netcode.DeserializationFailed, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatch(msg)
}

func (s *Session) emitError(code netcode.Code, message string) {
	s.cbMu.RLock()
	cb := s.cb.OnError
	s.cbMu.RUnlock()
	if cb != nil {
		cb(code, message)
	}
}

// dispatch routes a decoded message to its callback, gating everything
// except Handshake on handshake completion per the pre-handshake
// invariant: non-handshake messages received before completion are
// counted and dropped, never NACKed.
func (s *Session) dispatch(msg wire.Message) {
	if msg.Kind != wire.KindHandshake && !s.IsHandshakeComplete() {
		s.bumpCounter(&s.preHandshakeDrops)
		return
	}

	s.cbMu.RLock()
	cb := s.cb
	s.cbMu.RUnlock()

	switch msg.Kind {
	case wire.KindHandshake:
		s.clientType = msg.Handshake.ClientType
		s.clientID = msg.Handshake.ClientID
		s.state.Store(uint32(StateHandshakeComplete))
		if cb.OnHandshake != nil {
			cb.OnHandshake(msg.Handshake.ClientType, msg.Handshake.ClientID)
		}

	case wire.KindEntityCreated:
		if cb.OnEntityCreated != nil {
			cb.OnEntityCreated(msg.EntityCreated)
		}

	case wire.KindEntityDestroyed:
		if cb.OnEntityDestroyed != nil {
			cb.OnEntityDestroyed(msg.EntityDestroyed)
		}

	case wire.KindPropertyUpdateBatch:
		s.updateReceivedSequence(msg.PropertyUpdateBatch.Sequence)
		if cb.OnPropertyUpdateBatch != nil {
			cb.OnPropertyUpdateBatch(msg.PropertyUpdateBatch)
		}

	case wire.KindSceneSnapshotChunk:
		if cb.OnSceneSnapshotChunk != nil {
			cb.OnSceneSnapshotChunk(msg.SceneSnapshotChunk)
		}

	case wire.KindSchemaAdvertisement:
		if s.schemaRegistry != nil {
			if _, ok := s.schemaRegistry.Lookup(msg.SchemaAdvertisement.TypeHash); !ok {
				s.schemaRegistry.Register(schema.Schema{
					TypeHash: msg.SchemaAdvertisement.TypeHash,
					AppID:    msg.SchemaAdvertisement.AppID,
					Name:     msg.SchemaAdvertisement.ComponentName,
					Version:  msg.SchemaAdvertisement.SchemaVersion,
				})
			}
		}
		if cb.OnSchemaAdvertisement != nil {
			cb.OnSchemaAdvertisement(msg.SchemaAdvertisement)
		}

	case wire.KindSchemaNack:
		if cb.OnSchemaNack != nil {
			cb.OnSchemaNack(msg.SchemaNack)
		}

	case wire.KindRegisterSchema:
		s.handleRegisterSchema(msg.RegisterSchema, cb)

	case wire.KindQueryPublicSchemas:
		s.handleQueryPublicSchemas(cb)

	case wire.KindPublishSchema:
		s.handlePublishSchema(msg.PublishSchema, cb)

	case wire.KindUnpublishSchema:
		s.handleUnpublishSchema(msg.UnpublishSchema, cb)

	case wire.KindHeartbeat:
		if cb.OnHeartbeat != nil {
			cb.OnHeartbeat(msg.Heartbeat)
		}

	default:
		s.emitError(netcode.InvalidMessage, "unknown message kind")
	}
}

func (s *Session) handleRegisterSchema(msg wire.RegisterSchemaMsg, cb Callbacks) {
	if s.schemaRegistry != nil {
		s.schemaRegistry.Register(schema.Schema{
			TypeHash:   msg.TypeHash,
			AppID:      msg.AppID,
			Name:       msg.ComponentName,
			Version:    msg.SchemaVersion,
			Visibility: msg.Visibility,
		})
	}
	if cb.OnRegisterSchema != nil {
		cb.OnRegisterSchema(msg)
	}
}

func (s *Session) handleQueryPublicSchemas(cb Callbacks) {
	var schemas []schema.Schema
	if cb.OnQueryPublicSchemas != nil {
		schemas = cb.OnQueryPublicSchemas()
	} else if s.schemaRegistry != nil {
		schemas = s.schemaRegistry.QueryPublic()
	}
	for _, sc := range schemas {
		s.SendSchemaAdvertisement(wire.SchemaAdvertisementMsg{
			TypeHash:      sc.TypeHash,
			AppID:         sc.AppID,
			ComponentName: sc.Name,
			SchemaVersion: sc.Version,
		})
	}
}

func (s *Session) handlePublishSchema(msg wire.PublishSchemaMsg, cb Callbacks) {
	if s.schemaRegistry != nil {
		s.schemaRegistry.Publish(msg.TypeHash)
	}
	if cb.OnPublishSchema != nil {
		cb.OnPublishSchema(msg)
	}
}

func (s *Session) handleUnpublishSchema(msg wire.UnpublishSchemaMsg, cb Callbacks) {
	if s.schemaRegistry != nil {
		s.schemaRegistry.Unpublish(msg.TypeHash)
	}
	if cb.OnUnpublishSchema != nil {
		cb.OnUnpublishSchema(msg)
	}
}

// HandleUnknownSchema records an incoming reference to typeHash that
// could not be resolved against the schema registry: it increments the
// diagnostic counter, consults the log rate limiter, and — if the
// NACK policy is enabled and the tracker says one is due — sends a
// SchemaNack. Callers (typically EntityCreated handling upstream of
// this package) invoke this instead of silently dropping the message.
func (s *Session) HandleUnknownSchema(typeHash schema.TypeHash, reason string) {
	s.bumpCounter(&s.unknownSchemaDrops)
	if s.nackTracker != nil && s.nackTracker.ShouldLog(typeHash) {
		// OnError is the only log-shaped hook this package exposes;
		// a caller with internal/logging wired in renders this as a
		// rate-limited warning rather than a hard failure.
		s.emitError(netcode.UnknownProperty, reason)
	}
	s.sendSchemaNack(typeHash, reason)
}

// Stats mirrors ConnectionStats via the wrapped transport.
func (s *Session) Stats() transport.Stats { return s.conn.GetStats() }

// DuplicatePacketCount, PacketLossEventCount, SequenceUpdateFailureCount,
// UnknownSchemaDropCount, and PreHandshakeDropCount expose the
// session's diagnostic counters.
func (s *Session) DuplicatePacketCount() uint64 {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	return s.duplicatePacketsReceived
}

func (s *Session) PacketLossEventCount() uint64 {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	return s.packetLossEvents
}

func (s *Session) SequenceUpdateFailureCount() uint64 {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	return s.sequenceUpdateFailures
}

func (s *Session) UnknownSchemaDropCount() uint64 {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	return s.unknownSchemaDrops
}

func (s *Session) PreHandshakeDropCount() uint64 {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	return s.preHandshakeDrops
}

func (s *Session) ClientType() string { return s.clientType }
func (s *Session) ClientID() string   { return s.clientID }
