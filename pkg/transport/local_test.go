package transport

import (
	"testing"
	"time"

	"github.com/adred-codev/entropysync/pkg/netcode"
)

func TestLocalPairDeliversBothDirections(t *testing.T) {
	t.Parallel()
	a, b := NewLocalPair()
	defer a.Disconnect()
	defer b.Disconnect()

	gotOnB := make(chan []byte, 1)
	b.SetMessageCallback(func(payload []byte) { gotOnB <- payload })

	gotOnA := make(chan []byte, 1)
	a.SetMessageCallback(func(payload []byte) { gotOnA <- payload })

	if res := a.Send([]byte("hello")); res.Failed() {
		t.Fatalf("send failed: %v", res.Code)
	}
	select {
	case msg := <-gotOnB:
		if string(msg) != "hello" {
			t.Errorf("expected %q, got %q", "hello", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message on b")
	}

	if res := b.Send([]byte("world")); res.Failed() {
		t.Fatalf("send failed: %v", res.Code)
	}
	select {
	case msg := <-gotOnA:
		if string(msg) != "world" {
			t.Errorf("expected %q, got %q", "world", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message on a")
	}
}

func TestLocalDisconnectFailsSubsequentSend(t *testing.T) {
	t.Parallel()
	a, b := NewLocalPair()
	defer b.Disconnect()

	a.Disconnect()
	if res := a.Send([]byte("x")); !res.Failed() {
		t.Error("expected send after disconnect to fail")
	}
	if a.GetState() != StateClosed {
		t.Errorf("expected state closed, got %s", a.GetState())
	}
}

func TestLocalTrySendFailsWhenBufferFull(t *testing.T) {
	t.Parallel()
	a, b := NewLocalPair()
	defer a.Disconnect()
	defer b.Disconnect()

	// b's message callback blocks until the test ends, so b's read
	// loop stops draining after the first message and a's outbound
	// buffer (bounded by localBufferSize) fills, forcing backpressure.
	release := make(chan struct{})
	defer close(release)
	b.SetMessageCallback(func([]byte) { <-release })

	var lastErr netcode.Result[struct{}]
	for i := 0; i < localBufferSize+10; i++ {
		lastErr = a.TrySend([]byte{byte(i)})
		if lastErr.Failed() {
			break
		}
	}
	if !lastErr.Failed() {
		t.Error("expected TrySend to eventually report WouldBlock under sustained backpressure")
	}
}

func TestLocalStatsTrackBytesAndMessages(t *testing.T) {
	t.Parallel()
	a, b := NewLocalPair()
	defer a.Disconnect()
	defer b.Disconnect()

	done := make(chan struct{})
	b.SetMessageCallback(func(payload []byte) { close(done) })
	a.Send([]byte("abc"))
	<-done
	time.Sleep(10 * time.Millisecond)

	statsA := a.GetStats()
	if statsA.MessagesSent != 1 || statsA.BytesSent != 3 {
		t.Errorf("unexpected sender stats: %+v", statsA)
	}
	statsB := b.GetStats()
	if statsB.MessagesReceived != 1 || statsB.BytesReceived != 3 {
		t.Errorf("unexpected receiver stats: %+v", statsB)
	}
}
