package websocket

import (
	"encoding/json"
	"sync"
	"testing"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errWriteFailed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeConn) received() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Envelope, 0, len(f.frames))
	for _, raw := range f.frames {
		var e Envelope
		if err := json.Unmarshal(raw, &e); err == nil {
			out = append(out, e)
		}
	}
	return out
}

type writeError struct{}

func (writeError) Error() string { return "write failed" }

var errWriteFailed = writeError{}

func TestJoinBroadcastLeave(t *testing.T) {
	hub := NewHub()
	connA, connB := &fakeConn{}, &fakeConn{}
	hub.Register("a", connA, "")
	hub.Register("b", connB, "")

	if count := hub.Join("a", "ticket-1"); count != 1 {
		t.Errorf("expected 1 subscriber, got %d", count)
	}
	if count := hub.Join("b", "ticket-1"); count != 2 {
		t.Errorf("expected 2 subscribers, got %d", count)
	}

	delivered := hub.Broadcast("ticket-1", "new-message", map[string]any{"content": "oi"})
	if delivered != 2 {
		t.Errorf("expected 2 recipients, got %d", delivered)
	}

	hub.Leave("b", "ticket-1")
	delivered = hub.Broadcast("ticket-1", "new-message", nil)
	if delivered != 1 {
		t.Errorf("expected 1 recipient after leave, got %d", delivered)
	}

	got := connA.received()
	if len(got) != 2 || got[0].Event != "new-message" || got[0].TicketID != "ticket-1" {
		t.Errorf("unexpected frames for a: %+v", got)
	}
	if len(connB.received()) != 1 {
		t.Errorf("b should have exactly one frame, got %d", len(connB.received()))
	}
}

func TestBroadcastWithoutSubscribersIsNoop(t *testing.T) {
	hub := NewHub()
	if delivered := hub.Broadcast("nobody-home", "new-message", nil); delivered != 0 {
		t.Errorf("expected 0 recipients, got %d", delivered)
	}
}

func TestJoinUnknownTicketIsAccepted(t *testing.T) {
	hub := NewHub()
	hub.Register("a", &fakeConn{}, "")

	// Tickets may be joined before they exist in the store.
	if count := hub.Join("a", "not-yet-created"); count != 1 {
		t.Errorf("expected join to succeed, got count %d", count)
	}
}

func TestDisconnectPrunesEverything(t *testing.T) {
	hub := NewHub()
	hub.Register("a", &fakeConn{}, "")
	hub.Join("a", "ticket-1")
	hub.Join("a", "ticket-2")

	hub.Disconnect("a")

	stats := hub.Stats()
	if stats.Connections != 0 || stats.Tickets != 0 || stats.Subscriptions != 0 {
		t.Errorf("expected empty hub, got %+v", stats)
	}
}

func TestLeavePrunesEmptyTicketSet(t *testing.T) {
	hub := NewHub()
	hub.Register("a", &fakeConn{}, "")
	hub.Join("a", "ticket-1")
	hub.Leave("a", "ticket-1")

	if stats := hub.Stats(); stats.Tickets != 0 {
		t.Errorf("expected idle ticket to be garbage collected, got %+v", stats)
	}
}

func TestFailedWriteEvictsConnection(t *testing.T) {
	hub := NewHub()
	broken := &fakeConn{fail: true}
	hub.Register("broken", broken, "")
	hub.Join("broken", "ticket-1")

	if delivered := hub.Broadcast("ticket-1", "new-message", nil); delivered != 0 {
		t.Errorf("expected 0 delivered, got %d", delivered)
	}
	if stats := hub.Stats(); stats.Connections != 0 {
		t.Errorf("expected broken connection evicted, got %+v", stats)
	}
}

func TestSendTargetsOneConnection(t *testing.T) {
	hub := NewHub()
	connA, connB := &fakeConn{}, &fakeConn{}
	hub.Register("a", connA, "")
	hub.Register("b", connB, "")
	hub.Join("a", "ticket-1")
	hub.Join("b", "ticket-1")

	if err := hub.Send("a", "messages-loaded", "ticket-1", nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(connA.received()) != 1 {
		t.Errorf("a expected one frame, got %d", len(connA.received()))
	}
	if len(connB.received()) != 0 {
		t.Errorf("b expected no frames, got %d", len(connB.received()))
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n%26))
			hub.Register(id, &fakeConn{}, "")
			hub.Join(id, "ticket-1")
			hub.Broadcast("ticket-1", "new-message", nil)
			hub.Disconnect(id)
		}(i)
	}
	wg.Wait()

	if stats := hub.Stats(); stats.Subscriptions != 0 {
		t.Errorf("expected no residual subscriptions, got %+v", stats)
	}
}
