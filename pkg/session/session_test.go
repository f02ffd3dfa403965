package session

import (
	"testing"
	"time"

	"github.com/adred-codev/entropysync/pkg/nack"
	"github.com/adred-codev/entropysync/pkg/property"
	"github.com/adred-codev/entropysync/pkg/schema"
	"github.com/adred-codev/entropysync/pkg/transport"
	"github.com/adred-codev/entropysync/pkg/wire"
)

func newTestPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	ta, tb := transport.NewLocalPair()
	cfg := Config{NackPolicy: nack.NewPolicy(), NackTracker: nack.NewTracker(nack.TrackerConfig{})}
	a := New(ta, cfg)
	b := New(tb, cfg)
	a.Attach()
	b.Attach()
	return a, b
}

func TestHandshakeCompletesOnReceivingSide(t *testing.T) {
	t.Parallel()
	a, b := newTestPair(t)

	gotOnB := make(chan struct{ clientType, clientID string }, 1)
	b.SetCallbacks(Callbacks{OnHandshake: func(ct, ci string) {
		gotOnB <- struct{ clientType, clientID string }{ct, ci}
	}})

	if res := a.PerformHandshake("client", "abc123"); res.Failed() {
		t.Fatalf("handshake send failed: %v", res.Code)
	}
	if a.State() != StateHandshakeSent {
		t.Errorf("expected HandshakeSent, got %s", a.State())
	}

	select {
	case got := <-gotOnB:
		if got.clientType != "client" || got.clientID != "abc123" {
			t.Errorf("unexpected handshake payload: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handshake on b")
	}
	if !b.IsHandshakeComplete() {
		t.Error("expected b's handshake to be complete")
	}
}

func TestNonHandshakeMessageBeforeCompleteIsDroppedAndCounted(t *testing.T) {
	t.Parallel()
	a, b := newTestPair(t)

	// Force a's state to allow sending as if handshake were complete,
	// without b ever seeing a Handshake message.
	a.state.Store(uint32(StateHandshakeComplete))

	got := make(chan struct{}, 1)
	b.SetCallbacks(Callbacks{OnEntityDestroyed: func(wire.EntityDestroyedMsg) { got <- struct{}{} }})

	if res := a.SendEntityDestroyed(wire.EntityDestroyedMsg{EntityID: 7}); res.Failed() {
		t.Fatalf("send failed: %v", res.Code)
	}

	select {
	case <-got:
		t.Fatal("expected entity-destroyed callback to be suppressed before handshake completes on b")
	case <-time.After(100 * time.Millisecond):
	}
	if b.PreHandshakeDropCount() != 1 {
		t.Errorf("expected 1 pre-handshake drop, got %d", b.PreHandshakeDropCount())
	}
}

func TestSendRoutingChannels(t *testing.T) {
	t.Parallel()
	a, b := newTestPair(t)
	a.state.Store(uint32(StateHandshakeComplete))
	b.state.Store(uint32(StateHandshakeComplete))

	gotEntity := make(chan struct{}, 1)
	gotBatch := make(chan wire.PropertyUpdateBatchMsg, 1)
	b.SetCallbacks(Callbacks{
		OnEntityCreated:       func(wire.EntityCreatedMsg) { gotEntity <- struct{}{} },
		OnPropertyUpdateBatch: func(m wire.PropertyUpdateBatchMsg) { gotBatch <- m },
	})

	if res := a.SendEntityCreated(wire.EntityCreatedMsg{EntityID: 1, AppID: "app"}); res.Failed() {
		t.Fatalf("entity created send failed: %v", res.Code)
	}
	if res := a.SendPropertyUpdateBatch(wire.PropertyUpdateBatchMsg{Sequence: 1}); res.Failed() {
		t.Fatalf("batch send failed: %v", res.Code)
	}

	select {
	case <-gotEntity:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for entity created")
	}
	select {
	case m := <-gotBatch:
		if m.Sequence != 1 {
			t.Errorf("expected sequence 1, got %d", m.Sequence)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch")
	}
}

func TestUpdatePropertyBatchesWhenEnabled(t *testing.T) {
	t.Parallel()
	a, b := newTestPair(t)
	a.state.Store(uint32(StateHandshakeComplete))
	b.state.Store(uint32(StateHandshakeComplete))
	a.SetBatchingEnabled(true)

	got := make(chan wire.PropertyUpdateBatchMsg, 1)
	b.SetCallbacks(Callbacks{OnPropertyUpdateBatch: func(m wire.PropertyUpdateBatchMsg) { got <- m }})

	var hash property.Hash
	hash[0] = 1
	a.UpdateProperty(hash, property.Int32Value(42))
	a.UpdateProperty(hash, property.Int32Value(43)) // dedup: overwrite, not a second pending entry

	if n := a.PendingPropertyUpdateCount(); n != 1 {
		t.Fatalf("expected 1 pending update, got %d", n)
	}

	if res := a.ProcessPropertyBatch(); res.Failed() {
		t.Fatalf("process batch failed: %v", res.Code)
	}

	select {
	case m := <-got:
		if len(m.Updates) != 1 || m.Updates[0].Value.Int32 != 43 {
			t.Errorf("unexpected batch contents: %+v", m.Updates)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batched update")
	}

	stats := a.PropertyBatchStats()
	if stats.TotalBatchesSent != 1 || stats.UpdatesDeduped != 1 {
		t.Errorf("unexpected batch stats: %+v", stats)
	}
}

func TestSequenceAccounting(t *testing.T) {
	t.Parallel()
	a, _ := newTestPair(t)

	a.updateReceivedSequence(1)
	a.updateReceivedSequence(2)
	if a.PacketLossEventCount() != 0 {
		t.Errorf("expected no loss for contiguous sequence, got %d", a.PacketLossEventCount())
	}

	a.updateReceivedSequence(5) // gap of 3 - 1 = 2
	if a.PacketLossEventCount() != 2 {
		t.Errorf("expected 2 loss events from gap, got %d", a.PacketLossEventCount())
	}

	a.updateReceivedSequence(5) // duplicate (not greater than last)
	if a.DuplicatePacketCount() != 1 {
		t.Errorf("expected 1 duplicate, got %d", a.DuplicatePacketCount())
	}
}

func TestHandleUnknownSchemaSendsNackWhenEnabled(t *testing.T) {
	t.Parallel()
	a, b := newTestPair(t)
	a.state.Store(uint32(StateHandshakeComplete))
	b.state.Store(uint32(StateHandshakeComplete))
	a.nackPolicy.Enable()

	got := make(chan wire.SchemaNackMsg, 1)
	b.SetCallbacks(Callbacks{OnSchemaNack: func(m wire.SchemaNackMsg) { got <- m }})

	var hash schema.TypeHash
	hash[0] = 0xAB
	a.HandleUnknownSchema(hash, "schema not found")

	select {
	case m := <-got:
		if m.TypeHash != hash {
			t.Errorf("unexpected nack type hash: %v", m.TypeHash)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for schema nack")
	}
	if a.UnknownSchemaDropCount() != 1 {
		t.Errorf("expected 1 unknown schema drop, got %d", a.UnknownSchemaDropCount())
	}
}

func TestHandleUnknownSchemaSkipsNackWhenDisabled(t *testing.T) {
	t.Parallel()
	a, b := newTestPair(t)
	a.state.Store(uint32(StateHandshakeComplete))
	b.state.Store(uint32(StateHandshakeComplete))
	// policy starts disabled by default

	got := make(chan wire.SchemaNackMsg, 1)
	b.SetCallbacks(Callbacks{OnSchemaNack: func(m wire.SchemaNackMsg) { got <- m }})

	var hash schema.TypeHash
	hash[0] = 0xCD
	a.HandleUnknownSchema(hash, "schema not found")

	select {
	case <-got:
		t.Fatal("expected no nack to be sent while policy disabled")
	case <-time.After(100 * time.Millisecond):
	}
	if a.UnknownSchemaDropCount() != 1 {
		t.Errorf("expected 1 unknown schema drop, got %d", a.UnknownSchemaDropCount())
	}
}

func TestQueryPublicSchemasRespondsViaRegistry(t *testing.T) {
	t.Parallel()
	reg := schema.NewRegistry()
	th := schema.TypeHash{1}
	reg.Register(schema.Schema{TypeHash: th, AppID: "app", Name: "Transform", Version: 1, Visibility: schema.Public})
	reg.Publish(th)

	ta, tb := transport.NewLocalPair()
	cfg := Config{NackPolicy: nack.NewPolicy(), NackTracker: nack.NewTracker(nack.TrackerConfig{})}
	a := New(ta, cfg)
	b := New(tb, Config{SchemaRegistry: reg, NackPolicy: cfg.NackPolicy, NackTracker: cfg.NackTracker})
	a.Attach()
	b.Attach()
	a.state.Store(uint32(StateHandshakeComplete))
	b.state.Store(uint32(StateHandshakeComplete))

	got := make(chan wire.SchemaAdvertisementMsg, 1)
	a.SetCallbacks(Callbacks{OnSchemaAdvertisement: func(m wire.SchemaAdvertisementMsg) { got <- m }})

	if res := a.SendQueryPublicSchemas(); res.Failed() {
		t.Fatalf("query send failed: %v", res.Code)
	}

	select {
	case m := <-got:
		if m.TypeHash != th || m.ComponentName != "Transform" {
			t.Errorf("unexpected advertisement: %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for schema advertisement response")
	}
}
