// Package catalog mirrors schema-registry and scene-snapshot events
// onto external systems for audit and offline analytics. Both sinks
// here are strictly one-way and fire-and-forget: neither is ever
// consulted to resolve an unknown schema, route a message, or decide
// which node owns a session. Losing connectivity to NATS or Kafka
// degrades observability only, never the live session path.
package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/adred-codev/entropysync/pkg/schema"
)

// Subjects builds the NATS subject names the Bridge publishes to.
// Mirrors the teacher's Subjects builder pattern in pkg/nats.
type Subjects struct {
	Prefix string // defaults to "entropysync.catalog" when empty
}

func (s Subjects) prefix() string {
	if s.Prefix == "" {
		return "entropysync.catalog"
	}
	return s.Prefix
}

func (s Subjects) Published(appID string) string {
	return fmt.Sprintf("%s.%s.published", s.prefix(), appID)
}

func (s Subjects) Unpublished(appID string) string {
	return fmt.Sprintf("%s.%s.unpublished", s.prefix(), appID)
}

// event is the JSON payload published for every publish/unpublish.
type event struct {
	TypeHash   string    `json:"type_hash"`
	AppID      string    `json:"app_id"`
	Name       string    `json:"name"`
	Version    uint32    `json:"version"`
	Visibility string    `json:"visibility"`
	Action     string    `json:"action"`
	ObservedAt time.Time `json:"observed_at"`
}

// BridgeConfig configures Bridge's NATS connection. Reconnect tuning
// mirrors the teacher's pkg/nats Client.Config.
type BridgeConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
	Subjects        Subjects
	// OnError receives connection/publish errors; nil discards them.
	OnError func(error)
}

// Bridge mirrors schema.Registry publish/unpublish events onto NATS
// subjects. Subscribe it to a registry with Attach.
type Bridge struct {
	conn     *nats.Conn
	subjects Subjects
	onErr    func(error)
}

// NewBridge connects to NATS and returns a Bridge ready to Attach to a
// schema registry.
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxPingsOut == 0 {
		cfg.MaxPingsOut = 3
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 20 * time.Second
	}

	b := &Bridge{subjects: cfg.Subjects, onErr: cfg.OnError}

	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			b.reportErr(err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: connect to nats: %w", err)
	}
	b.conn = conn
	return b, nil
}

func (b *Bridge) reportErr(err error) {
	if b.onErr != nil {
		b.onErr(err)
	}
}

// Attach subscribes Bridge to a schema registry's publish/unpublish
// events so every future event mirrors to NATS automatically. Past
// events are not replayed.
func (b *Bridge) Attach(reg *schema.Registry) {
	reg.OnPublish(func(s schema.Schema) { b.publish(s, "published", b.subjects.Published(s.AppID)) })
	reg.OnUnpublish(func(s schema.Schema) { b.publish(s, "unpublished", b.subjects.Unpublished(s.AppID)) })
}

func (b *Bridge) publish(s schema.Schema, action, subject string) {
	visibility := "private"
	if s.Visibility == schema.Public {
		visibility = "public"
	}
	ev := event{
		TypeHash:   fmt.Sprintf("%x", s.TypeHash),
		AppID:      s.AppID,
		Name:       s.Name,
		Version:    s.Version,
		Visibility: visibility,
		Action:     action,
		ObservedAt: time.Now(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		b.reportErr(fmt.Errorf("catalog: marshal event: %w", err))
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.reportErr(fmt.Errorf("catalog: publish to %s: %w", subject, err))
	}
}

// Close drains outstanding publishes and closes the NATS connection.
func (b *Bridge) Close() {
	if b.conn == nil {
		return
	}
	b.conn.Close()
}
