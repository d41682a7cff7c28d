// Package registry implements the runner's actor registry: the
// in-memory map of live ActorInstances, lifecycle callback invocation,
// and the state/intent events those transitions emit.
//
// Like journal.Journal and kvbroker.Broker, a Registry is owned
// exclusively by the runner's serialized core loop. Lifecycle
// callbacks run on their own goroutines; their outcome is handed back
// to the core loop through the Post function supplied at
// construction, never by touching Registry fields directly.
package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/rivet-gg/pegboard-runner/internal/protocol"
)

// Instance is one live actor tracked by the registry.
type Instance struct {
	ActorID    string
	Generation int64
	Config     protocol.ActorConfig
	Asleep     bool
}

// Unregisterer is the subset of the Tunnel contract the registry
// needs: telling the tunnel an actor is gone so it can force-close
// the actor's tracked connections.
type Unregisterer interface {
	UnregisterActor(ctx context.Context, actorID string) error
}

// Callbacks are the user-supplied actor lifecycle hooks.
type Callbacks struct {
	OnActorStart func(ctx context.Context, actorID string, generation int64, config protocol.ActorConfig) error
	OnActorStop  func(ctx context.Context, actorID string, generation int64) error
}

// Config bundles a Registry's dependencies.
type Config struct {
	Callbacks       Callbacks
	Tunnel          Unregisterer // may be nil
	CallbackTimeout time.Duration
	// Post schedules fn to run on the runner's serialized core loop.
	// Registry methods called from within Post's fn are safe; calling
	// them directly from another goroutine is not.
	Post func(fn func())
	// Emit hands an event to the journal/protocol pipeline. It is a
	// no-op once the runner has begun shutting down.
	Emit func(protocol.Event)
}

// Registry owns the live actor map.
type Registry struct {
	cfg          Config
	instances    map[string]*Instance
	shuttingDown bool
}

func New(cfg Config) *Registry {
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = 30 * time.Second
	}
	return &Registry{cfg: cfg, instances: make(map[string]*Instance)}
}

// Len reports the number of live actors, for telemetry.
func (r *Registry) Len() int { return len(r.instances) }

// SetShuttingDown stops new StartActor calls from taking effect.
// Emit's own guard governs whether new events reach the wire.
func (r *Registry) SetShuttingDown(v bool) { r.shuttingDown = v }

// StartActor brings up a new ActorInstance and asynchronously invokes
// on_actor_start. A start for an actor_id already present overwrites
// it, preserving server-driven truth.
func (r *Registry) StartActor(actorID string, generation int64, cfg protocol.ActorConfig) {
	if r.shuttingDown {
		slog.Debug("ignoring start_actor received during shutdown", "actor_id", actorID)
		return
	}
	if _, exists := r.instances[actorID]; exists {
		slog.Warn("start_actor for already-registered actor_id; overwriting", "actor_id", actorID, "generation", generation)
	}
	r.instances[actorID] = &Instance{ActorID: actorID, Generation: generation, Config: cfg}
	r.cfg.Emit(protocol.ActorStateUpdate{ActorID: actorID, Generation: generation, State: protocol.ActorStateRunning{}})

	onStart := r.cfg.Callbacks.OnActorStart
	if onStart == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CallbackTimeout)
		defer cancel()
		err := onStart(ctx, actorID, generation, cfg)
		r.cfg.Post(func() {
			if err != nil {
				slog.Error("on_actor_start failed; stopping actor", "actor_id", actorID, "generation", generation, "err", err)
				r.StopActor(actorID, generation)
			}
		})
	}()
}

// StopActor removes the ActorInstance, tells the tunnel to unregister
// it, and asynchronously invokes on_actor_stop. The stopped event is
// emitted after the callback attempt regardless of its outcome: a
// callback failure is logged, but the stop event still goes out.
func (r *Registry) StopActor(actorID string, generation int64) {
	inst, ok := r.instances[actorID]
	if !ok || inst.Generation != generation {
		slog.Debug("stop_actor for unknown or stale actor", "actor_id", actorID, "generation", generation)
		return
	}
	delete(r.instances, actorID)

	if r.cfg.Tunnel != nil {
		if err := r.cfg.Tunnel.UnregisterActor(context.Background(), actorID); err != nil {
			slog.Warn("tunnel unregister_actor failed", "actor_id", actorID, "err", err)
		}
	}

	onStop := r.cfg.Callbacks.OnActorStop
	go func() {
		var err error
		if onStop != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CallbackTimeout)
			defer cancel()
			err = onStop(ctx, actorID, generation)
		}
		if err != nil {
			slog.Error("on_actor_stop failed", "actor_id", actorID, "generation", generation, "err", err)
		}
		r.cfg.Post(func() {
			r.cfg.Emit(protocol.ActorStateUpdate{
				ActorID:    actorID,
				Generation: generation,
				State:      protocol.ActorStateStopped{Code: protocol.StopCodeOk, Message: "stopped"},
			})
		})
	}()
}

// SleepActor records the actor's intent to sleep. The instance stays
// registered and addressable; only the server's own CommandStopActor
// evicts it after this point.
func (r *Registry) SleepActor(actorID string, generation int64) {
	inst, ok := r.instances[actorID]
	if !ok || inst.Generation != generation {
		slog.Debug("sleep_actor for unknown or stale actor", "actor_id", actorID, "generation", generation)
		return
	}
	inst.Asleep = true
	r.cfg.Emit(protocol.ActorIntent{ActorID: actorID, Generation: generation, Intent: protocol.ActorIntentSleep{}})
}

// SetAlarm emits an ActorSetAlarm event. Passing a nil alarmTS clears
// any previously set alarm.
func (r *Registry) SetAlarm(actorID string, generation int64, alarmTS *int64) {
	r.cfg.Emit(protocol.ActorSetAlarm{ActorID: actorID, Generation: generation, AlarmTS: alarmTS})
}

// BulkTeardown stops every currently registered actor, exactly as if
// each had received a CommandStopActor. Used when the runner-lost
// timer fires.
func (r *Registry) BulkTeardown() {
	for actorID, inst := range r.instances {
		r.StopActor(actorID, inst.Generation)
	}
}

// Get returns the instance for actorID, if any.
func (r *Registry) Get(actorID string) (*Instance, bool) {
	inst, ok := r.instances[actorID]
	return inst, ok
}

// ActorIDs returns the currently registered actor ids. Used by callers
// that maintain a cross-goroutine mirror of the live set (e.g. for
// Tunnel dispatch lookups off the core loop).
func (r *Registry) ActorIDs() []string {
	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	return ids
}
