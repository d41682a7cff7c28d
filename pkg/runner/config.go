// Package runner is the embeddable Pegboard Runner Core: it connects a
// local actor host to Pegboard, starts and stops actors on command,
// forwards inbound traffic through a Tunnel, and brokers KV storage
// requests on behalf of hosted actors.
package runner

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rivet-gg/pegboard-runner/internal/config"
	"github.com/rivet-gg/pegboard-runner/internal/connmgr"
	"github.com/rivet-gg/pegboard-runner/internal/protocol"
	"github.com/rivet-gg/pegboard-runner/internal/tunnel"
)

// Callbacks are the embedder's hooks into actor lifecycle and traffic
// dispatch. None are required; a nil Fetch/WebSocket means the runner
// has no inbound HTTP/WebSocket surface for actors.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func()
	OnShutdown     func()
	OnActorStart   func(ctx context.Context, actorID string, generation int64, cfg protocol.ActorConfig) error
	OnActorStop    func(ctx context.Context, actorID string, generation int64) error
	Fetch          func(actorID string, w http.ResponseWriter, r *http.Request)
	WebSocket      func(actorID string, conn *websocket.Conn)
}

// Config bundles everything needed to construct a Runner: the
// file/flag-driven Options, code-level Callbacks, the external Tunnel,
// and ambient collaborators (logger, dialer override for tests).
type Config struct {
	Options   config.Options
	Callbacks Callbacks
	Tunnel    tunnel.Tunnel // nil defaults to tunnel.Noop{}

	Logger *slog.Logger // nil defaults to slog.Default()

	// Dial overrides the control WebSocket dialer; nil uses
	// connmgr.DefaultDialer. Exposed for tests.
	Dial connmgr.Dialer
}
