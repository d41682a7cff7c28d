package connmgr

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rivet-gg/pegboard-runner/internal/protocol"
)

// fakeConn is an in-memory Conn used to drive Manager without a real
// socket. Reads are served from a channel; writes are recorded.
type fakeConn struct {
	mu      sync.Mutex
	reads   chan fakeRead
	writes  [][]byte
	closed  bool
}

type fakeRead struct {
	kind int
	data []byte
	err  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan fakeRead, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	r, ok := <-c.reads
	if !ok {
		return 0, nil, websocket.ErrCloseSent
	}
	return r.kind, r.data, r.err
}

func (c *fakeConn) WriteMessage(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *fakeConn) WriteControl(kind int, data []byte, deadline time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.reads)
	}
	return nil
}

func (c *fakeConn) pushFrame(t *testing.T, msg protocol.ToClient) {
	t.Helper()
	buf, err := protocol.EncodeToClient(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	c.reads <- fakeRead{kind: websocket.BinaryMessage, data: buf}
}

func TestManagerDeliversDecodedFrames(t *testing.T) {
	conn := newFakeConn()
	dialed := make(chan struct{}, 1)

	frames := make(chan protocol.ToClient, 4)
	m := New("ws://example/test", nil, Callbacks{
		OnOpen:  func() {},
		OnFrame: func(msg protocol.ToClient) { frames <- msg },
		OnClose: func(err error) {},
	})
	m.Dial = func(ctx context.Context, url string, header http.Header) (Conn, error) {
		dialed <- struct{}{}
		return conn, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	<-dialed
	conn.pushFrame(t, protocol.ToClientInit{RunnerID: "r1", LastEventIdx: -1})

	select {
	case msg := <-frames:
		init, ok := msg.(protocol.ToClientInit)
		if !ok || init.RunnerID != "r1" {
			t.Fatalf("unexpected frame: %#v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decoded frame")
	}
}

func TestManagerReconnectsAfterClose(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	opens := make(chan struct{}, 8)

	m := New("ws://example/test", nil, Callbacks{
		OnOpen:  func() { opens <- struct{}{} },
		OnFrame: func(protocol.ToClient) {},
		OnClose: func(err error) {},
	})
	m.backoff.Initial = time.Millisecond
	m.backoff.Max = 5 * time.Millisecond

	m.Dial = func(ctx context.Context, url string, header http.Header) (Conn, error) {
		mu.Lock()
		dials++
		n := dials
		mu.Unlock()
		conn := newFakeConn()
		if n == 1 {
			// Close immediately to force a reconnect.
			go func() {
				time.Sleep(10 * time.Millisecond)
				_ = conn.Close()
			}()
		}
		return conn, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	first := <-opens
	_ = first
	select {
	case <-opens:
	case <-time.After(time.Second):
		t.Fatal("expected a second open after reconnect")
	}
}

func TestManagerSendReturnsFalseWhenDisconnected(t *testing.T) {
	m := New("ws://example/test", nil, Callbacks{})
	if m.Send(protocol.ToServerPing{TS: 1}) {
		t.Fatal("expected Send to fail with no open connection")
	}
	if m.Connected() {
		t.Fatal("expected Connected to report false with no open connection")
	}
}
