package runner

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// Fetch implements tunnel.Dispatcher. It is invoked by the Tunnel on
// its own goroutine for inbound HTTP traffic addressed to actorID; the
// Runner checks the actor is currently known before delegating to the
// embedder's Fetch callback.
func (r *Runner) Fetch(actorID string, w http.ResponseWriter, req *http.Request) {
	if !r.isLiveActor(actorID) {
		http.Error(w, "unknown actor", http.StatusNotFound)
		return
	}
	if r.cfg.Callbacks.Fetch == nil {
		http.Error(w, "no fetch handler configured", http.StatusNotImplemented)
		return
	}
	r.cfg.Callbacks.Fetch(actorID, w, req)
}

// WebSocket implements tunnel.Dispatcher for inbound WebSocket traffic.
func (r *Runner) WebSocket(actorID string, conn *websocket.Conn) {
	if !r.isLiveActor(actorID) {
		_ = conn.Close()
		return
	}
	if r.cfg.Callbacks.WebSocket == nil {
		_ = conn.Close()
		return
	}
	r.cfg.Callbacks.WebSocket(actorID, conn)
}

// isLiveActor is a thread-safe, eventually-consistent mirror of the
// registry's actor set: Fetch/WebSocket run on the Tunnel's own
// goroutines, outside the core loop, so they cannot call
// registry.Get directly. liveActors is written only from the core
// loop (syncLiveActors, after every core-loop step) and read from any
// goroutine — a sync.Map,
// matching the same "atomic snapshot for cross-goroutine reads"
// policy used by the telemetry gauges.
func (r *Runner) isLiveActor(actorID string) bool {
	_, ok := r.liveActors.Load(actorID)
	return ok
}

// SleepActor records actor code's intent to sleep: the instance stays
// registered and addressable until the server sends CommandStopActor.
// Safe to call from any goroutine.
func (r *Runner) SleepActor(actorID string, generation int64) {
	r.Post(func() { r.registry.SleepActor(actorID, generation) })
}

// SetAlarm schedules (or, with alarmTS nil, clears) a wake-up alarm for
// the actor. Safe to call from any goroutine.
func (r *Runner) SetAlarm(actorID string, generation int64, alarmTS *int64) {
	r.Post(func() { r.registry.SetAlarm(actorID, generation, alarmTS) })
}

// ClearAlarm is SetAlarm(actorID, generation, nil).
func (r *Runner) ClearAlarm(actorID string, generation int64) {
	r.SetAlarm(actorID, generation, nil)
}
