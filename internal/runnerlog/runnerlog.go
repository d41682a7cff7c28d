// Package runnerlog is a thin wrapper over log/slog that attaches the
// handful of structured fields every runner log line benefits from:
// runner_id, actor_id, generation, conn_state, correlation_id. It does
// not introduce a logging library of its own; slog is used directly.
package runnerlog

import (
	"log/slog"

	"github.com/google/uuid"
)

// New returns a base logger writing to handler, or slog.Default()'s
// handler if handler is nil.
func New(handler slog.Handler) *slog.Logger {
	if handler == nil {
		return slog.Default()
	}
	return slog.New(handler)
}

// WithRunner returns a logger with runner_id attached. Call once after
// the init handshake latches the server-assigned id.
func WithRunner(log *slog.Logger, runnerID string) *slog.Logger {
	return log.With("runner_id", runnerID)
}

// WithActor returns a logger with actor_id and generation attached,
// for lifecycle and dispatch log lines scoped to one actor.
func WithActor(log *slog.Logger, actorID string, generation int64) *slog.Logger {
	return log.With("actor_id", actorID, "generation", generation)
}

// WithConnState returns a logger with conn_state attached, for
// connection-manager log lines where the current state is relevant.
func WithConnState(log *slog.Logger, state int64) *slog.Logger {
	return log.With("conn_state", state)
}

// NewCorrelationID generates a fresh id for tying together the log
// lines of a single external call (a KV request, a dispatched fetch)
// from submission through completion.
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a logger with correlation_id attached.
func WithCorrelationID(log *slog.Logger, correlationID string) *slog.Logger {
	return log.With("correlation_id", correlationID)
}
