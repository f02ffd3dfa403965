package session

import (
	"bytes"
	"testing"
	"time"

	"github.com/adred-codev/entropysync/pkg/schema"
	"github.com/adred-codev/entropysync/pkg/transport"
	"github.com/adred-codev/entropysync/pkg/wire"
)

func TestManagerOpenAndClose(t *testing.T) {
	t.Parallel()
	ta, tb := transport.NewLocalPair()
	defer tb.Disconnect()

	m := NewManager(4, ManagerConfig{})
	h := m.Open(ta, Callbacks{})
	if h.Failed() {
		t.Fatalf("open failed: %v", h.Code)
	}
	if !m.Valid(h.Value) {
		t.Fatal("expected handle valid after open")
	}
	if m.ActiveCount() != 1 {
		t.Errorf("expected active count 1, got %d", m.ActiveCount())
	}

	if res := m.Close(h.Value); res.Failed() {
		t.Fatalf("close failed: %v", res.Code)
	}
	if m.Valid(h.Value) {
		t.Error("expected handle invalid after close")
	}
	if m.ActiveCount() != 0 {
		t.Errorf("expected active count 0 after close, got %d", m.ActiveCount())
	}
}

func TestManagerSchemaFanOutOnPublish(t *testing.T) {
	t.Parallel()
	reg := schema.NewRegistry()
	m := NewManager(4, ManagerConfig{SchemaRegistry: reg})

	ta, tb := transport.NewLocalPair()
	defer tb.Disconnect()
	h := m.Open(ta, Callbacks{})
	if h.Failed() {
		t.Fatalf("open failed: %v", h.Code)
	}
	sres := m.Get(h.Value)
	if sres.Failed() {
		t.Fatalf("get failed: %v", sres.Code)
	}
	sres.Value.state.Store(uint32(StateHandshakeComplete))

	got := make(chan wire.SchemaAdvertisementMsg, 1)
	tb.SetMessageCallback(func(frame []byte) {
		payload, err := wire.ReadFrame(bytes.NewReader(frame))
		if err != nil {
			t.Errorf("read frame failed: %v", err)
			return
		}
		msg, err := wire.Decode(payload)
		if err != nil {
			t.Errorf("decode failed: %v", err)
			return
		}
		if msg.Kind == wire.KindSchemaAdvertisement {
			got <- msg.SchemaAdvertisement
		}
	})

	th := schema.TypeHash{9}
	reg.Register(schema.Schema{TypeHash: th, AppID: "app", Name: "Health", Version: 2, Visibility: schema.Public})
	reg.Publish(th)

	select {
	case m := <-got:
		if m.TypeHash != th || m.ComponentName != "Health" {
			t.Errorf("unexpected advertisement: %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for schema advertisement fan-out")
	}
}

func TestManagerForEachVisitsSessionBeforeHandshake(t *testing.T) {
	t.Parallel()
	m := NewManager(4, ManagerConfig{})

	ta, tb := transport.NewLocalPair()
	defer tb.Disconnect()
	h := m.Open(ta, Callbacks{})
	if h.Failed() {
		t.Fatalf("open failed: %v", h.Code)
	}

	visited := 0
	m.ForEach(func(_ Handle, s *Session) {
		visited++
		if s.IsHandshakeComplete() {
			t.Error("expected fresh session to not report handshake complete")
		}
	})
	if visited != 1 {
		t.Errorf("expected to visit 1 session, visited %d", visited)
	}
}
