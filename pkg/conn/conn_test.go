package conn

import (
	"testing"
	"time"

	"github.com/adred-codev/entropysync/pkg/transport"
)

func TestOpenConnectSendClose(t *testing.T) {
	t.Parallel()
	a, b := transport.NewLocalPair()
	defer b.Disconnect()

	m := New(4)
	h := m.Open(a)
	if h.Failed() {
		t.Fatalf("open failed: %v", h.Code)
	}
	if !m.Valid(h.Value) {
		t.Fatal("expected handle to be valid after open")
	}

	if res := m.Connect(h.Value); res.Failed() {
		t.Fatalf("connect failed: %v", res.Code)
	}
	if !m.IsConnected(h.Value) {
		t.Error("expected connection to be connected")
	}

	received := make(chan []byte, 1)
	b.SetMessageCallback(func(payload []byte) { received <- payload })

	if res := m.Send(h.Value, []byte("hi")); res.Failed() {
		t.Fatalf("send failed: %v", res.Code)
	}
	select {
	case msg := <-received:
		if string(msg) != "hi" {
			t.Errorf("expected %q, got %q", "hi", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	if res := m.Close(h.Value); res.Failed() {
		t.Fatalf("close failed: %v", res.Code)
	}
	if m.Valid(h.Value) {
		t.Error("expected handle to be invalid after close")
	}
	if m.ActiveCount() != 0 {
		t.Errorf("expected active count 0 after close, got %d", m.ActiveCount())
	}
}

func TestOperationsOnInvalidHandleFail(t *testing.T) {
	t.Parallel()
	a, b := transport.NewLocalPair()
	defer b.Disconnect()

	m := New(1)
	h := m.Open(a)
	m.Close(h.Value)

	if res := m.Send(h.Value, []byte("x")); !res.Failed() {
		t.Error("expected send on released handle to fail")
	}
	if res := m.Connect(h.Value); !res.Failed() {
		t.Error("expected connect on released handle to fail")
	}
	if m.GetState(h.Value) != transport.StateDisconnected {
		t.Errorf("expected disconnected state for invalid handle, got %s", m.GetState(h.Value))
	}
}

func TestForEachVisitsOpenConnections(t *testing.T) {
	t.Parallel()
	a1, b1 := transport.NewLocalPair()
	a2, b2 := transport.NewLocalPair()
	defer b1.Disconnect()
	defer b2.Disconnect()

	m := New(4)
	h1 := m.Open(a1)
	h2 := m.Open(a2)

	visited := map[uint32]bool{}
	m.ForEach(func(h Handle) { visited[h.Index()] = true })

	if !visited[h1.Value.Index()] || !visited[h2.Value.Index()] {
		t.Errorf("expected both connections to be visited, got %+v", visited)
	}
}
