package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
)

type written struct {
	kind int
	data []byte
}

// fakeConn blocks reads until closed and records writes.
type fakeConn struct {
	writes    chan written
	closed    chan struct{}
	closeOnce sync.Once
	writeErr  error
}

func newFakeConn(buffer int) *fakeConn {
	return &fakeConn{
		writes: make(chan written, buffer),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) SetReadLimit(int64) {}
func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) SetPongHandler(func(appData string) error) {}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("connection closed")
}

func (c *fakeConn) WriteMessage(kind int, data []byte) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	select {
	case c.writes <- written{kind: kind, data: data}:
	case <-c.closed:
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) next(t *testing.T) written {
	t.Helper()
	select {
	case w := <-c.writes:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("no message written")
		return written{}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test")
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	waitFor(t, h.IsRunning)
	return h, cancel
}

func TestHub_BroadcastToClients(t *testing.T) {
	h, cancel := startHub(t)
	defer cancel()

	a, b := newFakeConn(4), newFakeConn(4)
	go NewClient(h, a).Run()
	go NewClient(h, b).Run()
	waitFor(t, func() bool { return h.ClientCount() == 2 })

	if err := h.BroadcastJSON(map[string]float64{"fps": 30}); err != nil {
		t.Fatalf("BroadcastJSON: %v", err)
	}
	for _, c := range []*fakeConn{a, b} {
		w := c.next(t)
		if w.kind != websocket.TextMessage || string(w.data) != `{"fps":30}` {
			t.Errorf("got kind=%d data=%s", w.kind, w.data)
		}
	}

	h.BroadcastBinary([]byte{0xff, 0xd8})
	if w := a.next(t); w.kind != websocket.BinaryMessage || len(w.data) != 2 {
		t.Errorf("got kind=%d len=%d, want binary frame", w.kind, len(w.data))
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	h, cancel := startHub(t)
	defer cancel()

	conn := newFakeConn(1)
	done := make(chan struct{})
	go func() {
		NewClient(h, conn).Run()
		close(done)
	}()
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	conn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after close")
	}
	waitFor(t, func() bool { return h.ClientCount() == 0 })
}

func TestHub_DropsSlowClient(t *testing.T) {
	h, cancel := startHub(t)
	defer cancel()

	// Writes block forever, so the client queue fills.
	slow := newFakeConn(0)
	go NewClient(h, slow).Run()
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	for i := 0; i < 4*DefaultQueueSize && h.ClientCount() > 0; i++ {
		h.BroadcastBinary([]byte{byte(i)})
		time.Sleep(time.Millisecond)
	}
	waitFor(t, func() bool { return h.ClientCount() == 0 })
	slow.Close()
}

func TestHub_BroadcastWithoutRunDoesNotBlock(t *testing.T) {
	h := New("idle")
	for i := 0; i < DefaultQueueSize+5; i++ {
		h.BroadcastBinary(nil)
	}
	if h.Dropped() != 5 {
		t.Errorf("Dropped = %d, want 5", h.Dropped())
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	h, cancel := startHub(t)

	conn := newFakeConn(4)
	done := make(chan struct{})
	go func() {
		NewClient(h, conn).Run()
		close(done)
	}()
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	cancel()
	if w := conn.next(t); w.kind != websocket.CloseMessage {
		t.Errorf("got kind=%d, want close frame", w.kind)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not exit after hub shutdown")
	}
	if h.IsRunning() {
		t.Error("hub still running")
	}

	// Clients arriving after shutdown exit immediately.
	late := newFakeConn(4)
	lateDone := make(chan struct{})
	go func() {
		NewClient(h, late).Run()
		close(lateDone)
	}()
	select {
	case <-lateDone:
	case <-time.After(2 * time.Second):
		t.Fatal("late client blocked on a stopped hub")
	}
}
