// Package tunnel declares the contract between the runner core and
// the external Tunnel collaborator. The Tunnel itself — the
// HTTP/WebSocket multiplexing machinery — is out of scope for this
// repository; it is always supplied by the embedder.
package tunnel

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// Tunnel is the external, black-box collaborator that multiplexes
// inbound HTTP/WebSocket traffic to hosted actors. Start must
// complete before the control WebSocket opens; first-attempt failure
// is fatal to the runner's Start.
type Tunnel interface {
	Start(ctx context.Context) error
	RegisterActor(ctx context.Context, actorID string, generation int64) error
	UnregisterActor(ctx context.Context, actorID string) error
}

// Dispatcher is implemented by the runner and invoked by the Tunnel
// for traffic addressed to a hosted actor. The runner looks actorID
// up in its registry before delegating to the embedder's fetch/
// websocket callbacks.
type Dispatcher interface {
	Fetch(actorID string, w http.ResponseWriter, r *http.Request)
	WebSocket(actorID string, conn *websocket.Conn)
}

// Noop is a Tunnel that does nothing; useful in tests and for
// embedders that host actors reachable only via KV/control-channel
// traffic, with no inbound HTTP/WebSocket surface.
type Noop struct{}

func (Noop) Start(ctx context.Context) error                                   { return nil }
func (Noop) RegisterActor(ctx context.Context, actorID string, gen int64) error { return nil }
func (Noop) UnregisterActor(ctx context.Context, actorID string) error         { return nil }
