package session

import (
	"github.com/adred-codev/entropysync/pkg/nack"
	"github.com/adred-codev/entropysync/pkg/netcode"
	"github.com/adred-codev/entropysync/pkg/property"
	"github.com/adred-codev/entropysync/pkg/schema"
	"github.com/adred-codev/entropysync/pkg/slotpool"
	"github.com/adred-codev/entropysync/pkg/transport"
	"github.com/adred-codev/entropysync/pkg/wire"
)

// Handle addresses one managed session.
type Handle = slotpool.Handle[*Session]

// ManagerConfig tunes a Manager's construction. SchemaRegistry is
// optional; when set, the Manager subscribes to its publish/unpublish
// signals and fans them out to every handshake-complete session it
// owns. PropertyRegistry is likewise optional and purely diagnostic.
// NackPolicy/NackTracker, if left nil, are built fresh by NewManager — one
// Policy and one Tracker per Manager, never shared process-wide.
type ManagerConfig struct {
	SchemaRegistry   *schema.Registry
	PropertyRegistry *property.Registry
	NackPolicy       *nack.Policy
	NackTracker      *nack.Tracker
	BatchIntervalMs  uint32
}

// Manager owns a fixed-capacity pool of Sessions, mirroring
// pkg/conn.Manager's handle-delegates-to-manager pattern. It also owns
// the schema-advertisement fan-out: every session it manages gets
// notified of every schema publish/unpublish that happens on its
// configured registry.
type Manager struct {
	pool *slotpool.Pool[*Session]
	cfg  ManagerConfig
}

// NewManager builds a Manager with room for capacity simultaneous sessions.
func NewManager(capacity int, cfg ManagerConfig) *Manager {
	if cfg.NackPolicy == nil {
		cfg.NackPolicy = nack.NewPolicy()
	}
	if cfg.NackTracker == nil {
		cfg.NackTracker = nack.NewTracker(nack.TrackerConfig{})
	}
	m := &Manager{
		pool: slotpool.New[*Session](capacity),
		cfg:  cfg,
	}
	if cfg.SchemaRegistry != nil {
		cfg.SchemaRegistry.OnPublish(m.fanOutPublish)
		cfg.SchemaRegistry.OnUnpublish(m.fanOutUnpublish)
	}
	return m
}

// Open wraps conn in a new Session, attaches its callbacks, and
// returns a Handle. cb is installed before Attach so no message can
// race ahead of callback registration.
func (m *Manager) Open(conn transport.Transport, cb Callbacks) netcode.Result[Handle] {
	return m.pool.Allocate(func() *Session {
		s := New(conn, Config{
			PropertyRegistry: m.cfg.PropertyRegistry,
			SchemaRegistry:   m.cfg.SchemaRegistry,
			NackPolicy:       m.cfg.NackPolicy,
			NackTracker:      m.cfg.NackTracker,
			BatchIntervalMs:  m.cfg.BatchIntervalMs,
		})
		s.SetCallbacks(cb)
		s.Attach()
		return s
	})
}

// Capacity returns the fixed number of sessions this Manager can hold.
func (m *Manager) Capacity() int { return m.pool.Capacity() }

// ActiveCount returns the number of currently open sessions.
func (m *Manager) ActiveCount() int64 { return m.pool.ActiveCount() }

// Valid reports whether h still refers to an open session.
func (m *Manager) Valid(h Handle) bool { return m.pool.Valid(h) }

// Close disconnects the session's transport and releases its slot.
func (m *Manager) Close(h Handle) netcode.Result[struct{}] {
	return m.pool.Release(h, func(s **Session) {
		(*s).Disconnect()
	})
}

// Get returns the underlying *Session for h, or an InvalidParameter
// failure if h is stale. The returned pointer must not be retained
// past the caller's current operation: it offers no protection
// against a concurrent Close invalidating the slot.
func (m *Manager) Get(h Handle) netcode.Result[*Session] {
	return slotpool.AccessValue(m.pool, h, func(s **Session) netcode.Result[*Session] {
		return netcode.Ok(*s)
	})
}

// ForEach visits every currently-open session's handle, best-effort
// skipping any whose slot is momentarily locked.
func (m *Manager) ForEach(fn func(h Handle, s *Session)) {
	m.pool.ForEachTryLock(func(h Handle, s **Session) {
		fn(h, *s)
	})
}

// fanOutPublish sends a SchemaAdvertisement to every handshake-complete
// session when sc is published. Iteration uses try-lock per slot so a
// slow session cannot block delivery to the rest; a session whose lock
// is held is simply skipped for this round.
func (m *Manager) fanOutPublish(sc schema.Schema) {
	msg := wire.SchemaAdvertisementMsg{
		TypeHash:      sc.TypeHash,
		AppID:         sc.AppID,
		ComponentName: sc.Name,
		SchemaVersion: sc.Version,
	}
	m.ForEach(func(_ Handle, s *Session) {
		if s.IsHandshakeComplete() {
			s.SendSchemaAdvertisement(msg)
		}
	})
}

// fanOutUnpublish is symmetric with fanOutPublish: it sends an
// UnpublishSchema message carrying sc's type hash to every
// handshake-complete session, with the same try-lock skipping.
func (m *Manager) fanOutUnpublish(sc schema.Schema) {
	msg := wire.UnpublishSchemaMsg{TypeHash: sc.TypeHash}
	m.ForEach(func(_ Handle, s *Session) {
		if s.IsHandshakeComplete() {
			s.SendUnpublishSchema(msg)
		}
	})
}
