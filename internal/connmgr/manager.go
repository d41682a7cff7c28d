// Package connmgr maintains the control WebSocket: dialing, signalling
// the caller on open so it can send the init handshake, ping/ack-commands
// timers, exponential backoff reconnection, and delivering decoded
// frames back to the runner core.
//
// Manager runs its own read pump and timer goroutines; it never
// touches runner state directly. Every callback it invokes is
// expected to marshal itself onto the runner's serialized core loop
// (typically by wrapping the callback in a call to the runner's Post
// function) before reading or writing anything shared.
package connmgr

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rivet-gg/pegboard-runner/internal/protocol"
)

// PingInterval and AckCommandsInterval are the control channel's
// keepalive and command-acknowledgment cadences.
const (
	PingInterval         = time.Second
	AckCommandsInterval  = 5 * time.Minute
)

// Conn is the subset of *websocket.Conn the manager needs. Tests
// substitute a fake implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens a websocket connection. The default wraps
// gorilla/websocket; tests supply a fake.
type Dialer func(ctx context.Context, url string, header http.Header) (Conn, error)

// DefaultDialer dials with gorilla/websocket's package-level dialer.
func DefaultDialer(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Callbacks are invoked by the manager's own goroutines. See the
// package doc comment: implementations must hop back onto the
// runner's serialized core loop before touching shared state.
type Callbacks struct {
	// OnOpen fires once the socket is open, before the init frame is
	// sent by the caller (the manager does not build ToServerInit
	// itself since only the runner core knows the current handshake
	// fields).
	OnOpen func()
	// OnFrame fires for every successfully decoded inbound frame.
	OnFrame func(protocol.ToClient)
	// OnClose fires when the socket closes or fails to dial, with the
	// triggering error. It is not called once Run's ctx is cancelled.
	OnClose func(err error)
	// GetLastCommandIdx supplies the value for the periodic
	// ToServerAckCommands frame. Called from the manager's own timer
	// goroutine; must be safe for concurrent reads (e.g. an atomic
	// snapshot maintained by the core loop).
	GetLastCommandIdx func() int64
}

// Manager owns the control WebSocket's connect/reconnect loop.
type Manager struct {
	URL    string
	Header http.Header
	Dial   Dialer
	CB     Callbacks

	backoff *Backoff
	connCh  chan Conn // holds the current live connection; empty when disconnected
}

// New constructs a Manager. Dial defaults to DefaultDialer if nil.
func New(url string, header http.Header, cb Callbacks) *Manager {
	return &Manager{
		URL:     url,
		Header:  header,
		Dial:    DefaultDialer,
		CB:      cb,
		backoff: NewBackoff(),
		connCh:  make(chan Conn, 1),
	}
}

// Run dials, reconnecting with backoff, until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.setConn(nil)
	for ctx.Err() == nil {
		conn, err := m.Dial(ctx, m.URL, m.Header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.CB.OnClose(err)
			if !m.sleepBackoff(ctx) {
				return
			}
			continue
		}

		m.backoff.Reset()
		m.setConn(conn)
		m.CB.OnOpen()

		stopTimers := m.startTimers(ctx, conn)
		closeErr := m.readLoop(conn)
		stopTimers()

		m.setConn(nil)
		if ctx.Err() != nil {
			return
		}
		m.CB.OnClose(closeErr)
		if !m.sleepBackoff(ctx) {
			return
		}
	}
}

func (m *Manager) startTimers(ctx context.Context, conn Conn) func() {
	timerCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-timerCtx.Done():
				return
			case <-ticker.C:
				m.send(conn, protocol.ToServerPing{TS: time.Now().UnixMilli()})
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(AckCommandsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-timerCtx.Done():
				return
			case <-ticker.C:
				if m.CB.GetLastCommandIdx == nil {
					continue
				}
				idx := m.CB.GetLastCommandIdx()
				if idx < 0 {
					continue
				}
				m.send(conn, protocol.ToServerAckCommands{LastCommandIdx: idx})
			}
		}
	}()
	return cancel
}

func (m *Manager) send(conn Conn, msg protocol.ToServer) {
	buf, err := protocol.EncodeToServer(msg)
	if err != nil {
		slog.Error("connmgr: failed to encode outbound frame", "err", err)
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		slog.Debug("connmgr: write failed, will be caught by read loop", "err", err)
	}
}

func (m *Manager) readLoop(conn Conn) error {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		msg, err := protocol.DecodeToClient(data)
		if err != nil {
			slog.Error("connmgr: invalid frame from pegboard", "err", err)
			continue
		}
		m.CB.OnFrame(msg)
	}
}

func (m *Manager) sleepBackoff(ctx context.Context) bool {
	d := m.backoff.Next()
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) setConn(c Conn) {
	select {
	case old := <-m.connCh:
		_ = old // drain
	default:
	}
	if c != nil {
		m.connCh <- c
	}
}

// Send writes msg to the currently open socket, if any. Returns false
// if there is no open connection (the caller — typically the KV
// broker's Sender — should hold the request for the next Flush).
func (m *Manager) Send(msg protocol.ToServer) bool {
	var conn Conn
	select {
	case conn = <-m.connCh:
		m.connCh <- conn
	default:
		return false
	}
	buf, err := protocol.EncodeToServer(msg)
	if err != nil {
		slog.Error("connmgr: failed to encode outbound frame", "err", err)
		return false
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		slog.Debug("connmgr: send failed, will be caught by read loop", "err", err)
		return false
	}
	return true
}

// Connected reports whether the control socket is currently open.
func (m *Manager) Connected() bool {
	var conn Conn
	select {
	case conn = <-m.connCh:
		m.connCh <- conn
	default:
		return false
	}
	return conn != nil
}

// Close sends a normal-closure control frame and closes the socket.
// The ToServerStopping data frame itself is sent by the caller via
// Send before calling Close.
func (m *Manager) Close() error {
	var conn Conn
	select {
	case conn = <-m.connCh:
	default:
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(1000, "Stopping"), time.Now().Add(time.Second))
	return conn.Close()
}
