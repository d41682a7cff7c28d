package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rivet-gg/pegboard-runner/internal/audit"
	"github.com/rivet-gg/pegboard-runner/internal/connmgr"
	"github.com/rivet-gg/pegboard-runner/internal/journal"
	"github.com/rivet-gg/pegboard-runner/internal/kvbroker"
	"github.com/rivet-gg/pegboard-runner/internal/protocol"
	"github.com/rivet-gg/pegboard-runner/internal/registry"
	"github.com/rivet-gg/pegboard-runner/internal/runnerlog"
	"github.com/rivet-gg/pegboard-runner/internal/telemetry"
	"github.com/rivet-gg/pegboard-runner/internal/tunnel"
)

// ConnState mirrors the runner's connection state.
type ConnState int64

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	ShuttingDown
)

var ErrAlreadyStarted = errors.New("runner: Start called more than once")

// Runner is the Pegboard Runner Core. Create one with New and call
// Start; all further interaction happens through the Callbacks
// supplied at construction and the KV/actor methods below.
//
// Every mutable field not explicitly marked atomic is owned
// exclusively by the core loop goroutine started by Start. Other
// goroutines — the connmgr read pump and timers, actor lifecycle
// callback goroutines, KV callers — communicate with it only by
// posting closures onto actions.
type Runner struct {
	cfg Config
	log *slog.Logger

	actions    chan func()
	started    atomic.Bool
	runCtx     context.Context // cancelled to stop the core loop
	cancel     context.CancelFunc
	connCtx    context.Context // child of runCtx; cancelled first, to stop connmgr reconnecting during the shutdown grace period
	connCancel context.CancelFunc
	doneWg     sync.WaitGroup

	conn     *connmgr.Manager
	registry *registry.Registry
	journal  *journal.Journal
	kv       *kvbroker.Broker
	audit    *audit.Log
	metrics  http.Handler

	// liveActors mirrors the registry's key set for lock-free reads
	// from Dispatcher methods (see dispatch.go); written only from the
	// core loop.
	liveActors sync.Map

	runnerID            string
	state               ConnState
	reconnectAttempt    int
	lastCommandIdx      int64
	runnerLostThreshold *time.Duration
	runnerLostTimer     *time.Timer
	gotInit             bool

	// Snapshots read from outside the core loop by telemetry's scrape
	// goroutine; written only from the core loop.
	atomicConnState      atomic.Int64
	atomicLastCommandIdx atomic.Int64
	atomicJournalDepth   atomic.Int64
	atomicPendingKv      atomic.Int64
	atomicRegistrySize   atomic.Int64
}

// New constructs a Runner from cfg. It performs no I/O.
func New(cfg Config) *Runner {
	if cfg.Tunnel == nil {
		cfg.Tunnel = tunnel.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Runner{
		cfg:            cfg,
		log:            cfg.Logger,
		actions:        make(chan func(), 256),
		lastCommandIdx: -1,
	}
	r.atomicLastCommandIdx.Store(-1)
	r.journal = journal.New()
	r.registry = registry.New(registry.Config{
		Callbacks: registry.Callbacks{
			OnActorStart: cfg.Callbacks.OnActorStart,
			OnActorStop:  cfg.Callbacks.OnActorStop,
		},
		Tunnel:          cfg.Tunnel,
		CallbackTimeout: cfg.Options.CallbackTimeout,
		Post:            r.Post,
		Emit:            r.emit,
	})
	r.kv = kvbroker.New(r.sendKvRequest)
	return r
}

// sendKvRequest adapts sendToServer to kvbroker.Sender's narrower
// signature.
func (r *Runner) sendKvRequest(req protocol.ToServerKvRequest) bool {
	return r.sendToServer(req)
}

// Post schedules fn to run on the core loop. Safe to call from any
// goroutine, including from within the core loop itself (though
// direct calls are preferred there).
func (r *Runner) Post(fn func()) {
	select {
	case r.actions <- fn:
	case <-r.runCtx.Done():
	}
}

// Start brings the Tunnel up, opens the control WebSocket, and begins
// the core loop. May be called only once; returns ErrAlreadyStarted on
// a second call. A first-attempt Tunnel failure is fatal and Start
// returns its error without opening the control socket.
func (r *Runner) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if err := r.cfg.Options.Validate(); err != nil {
		r.started.Store(false)
		return err
	}

	r.runCtx, r.cancel = context.WithCancel(ctx)
	r.connCtx, r.connCancel = context.WithCancel(r.runCtx)

	if err := r.cfg.Tunnel.Start(r.runCtx); err != nil {
		r.started.Store(false)
		r.cancel()
		return fmt.Errorf("runner: tunnel start: %w", err)
	}

	if r.cfg.Options.Audit.Driver == "sqlite" {
		al, err := audit.Open(r.cfg.Options.Audit.Path)
		if err != nil {
			r.log.Warn("audit spool disabled: open failed", "err", err)
		} else {
			r.audit = al
		}
	}

	url, err := connmgr.ControlURL(r.cfg.Options.ControlEndpoint(), r.cfg.Options.Namespace, r.cfg.Options.RunnerKey)
	if err != nil {
		r.started.Store(false)
		r.cancel()
		return err
	}
	header := http.Header{}
	header.Set("x-rivet-target", "runner")

	r.conn = connmgr.New(url, header, connmgr.Callbacks{
		OnOpen:            func() { r.Post(r.handleOpen) },
		OnFrame:           func(msg protocol.ToClient) { r.Post(func() { r.handleFrame(msg) }) },
		OnClose:           func(err error) { r.Post(func() { r.handleClose(err) }) },
		GetLastCommandIdx: func() int64 { return r.atomicLastCommandIdx.Load() },
	})
	if r.cfg.Dial != nil {
		r.conn.Dial = r.cfg.Dial
	}

	if r.cfg.Options.Metrics.Enabled {
		handler, err := telemetry.InitMeterProvider(r.runCtx, r.cfg.Options.RunnerName)
		if err != nil {
			r.log.Warn("metrics provider init failed", "err", err)
		} else {
			r.metrics = handler
			if err := telemetry.InitMetrics(r.runCtx, r); err != nil {
				r.log.Warn("metrics init failed", "err", err)
			}
		}
	}

	r.doneWg.Add(2)
	go func() { defer r.doneWg.Done(); r.conn.Run(r.connCtx) }()
	go func() { defer r.doneWg.Done(); r.coreLoop() }()

	return nil
}

// Shutdown performs the graceful shutdown sequence: send
// ToServerStopping, close the socket with 1000/"Stopping", reject all
// pending KV requests, stop every registered actor, wait the full
// ShutdownGracePeriod (default 10s, cut short only by ctx), invoke
// OnShutdown, and stop the core loop. The wait is a fixed delay: it
// does not track whether the OnActorStop calls started by the
// teardown have finished. Idempotent: a second call is a no-op.
func (r *Runner) Shutdown(ctx context.Context) error {
	if !r.started.Load() {
		return nil
	}
	done := make(chan struct{})
	already := false
	r.Post(func() {
		defer close(done)
		if r.state == ShuttingDown {
			already = true
			return
		}
		r.setState(ShuttingDown)
		r.registry.SetShuttingDown(true)
		r.sendToServer(protocol.ToServerStopping{})
		if r.conn != nil {
			_ = r.conn.Close()
		}
		r.connCancel() // stop connmgr from reconnecting during the grace period below
		r.kv.Shutdown()
		r.registry.BulkTeardown()
	})
	select {
	case <-done:
	case <-r.runCtx.Done():
		// The core loop has already exited: an earlier Shutdown finished.
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	if already {
		return nil
	}

	grace := r.cfg.Options.ShutdownGracePeriod
	if grace <= 0 {
		grace = 10 * time.Second
	}
	select {
	case <-time.After(grace):
	case <-ctx.Done():
	}

	if r.cfg.Callbacks.OnShutdown != nil {
		r.cfg.Callbacks.OnShutdown()
	}

	r.cancel()
	r.doneWg.Wait()
	_ = r.audit.Close()
	return nil
}

// MetricsHandler returns the Prometheus scrape handler, or nil if
// metrics were never initialized (see internal/cli/run.go for wiring).
func (r *Runner) MetricsHandler() http.Handler { return r.metrics }

// --- telemetry.GaugeSource ---

func (r *Runner) ConnState() int64         { return r.atomicConnState.Load() }
func (r *Runner) JournalDepth() int64      { return r.atomicJournalDepth.Load() }
func (r *Runner) PendingKvRequests() int64 { return r.atomicPendingKv.Load() }
func (r *Runner) RegistrySize() int64      { return r.atomicRegistrySize.Load() }

func (r *Runner) coreLoop() {
	pruneTicker := time.NewTicker(journal.PruneInterval)
	defer pruneTicker.Stop()
	sweepTicker := time.NewTicker(kvbroker.SweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-r.runCtx.Done():
			return
		case fn := <-r.actions:
			fn()
			r.refreshSnapshots()
		case now := <-pruneTicker.C:
			r.journal.Prune(now)
			r.refreshSnapshots()
		case now := <-sweepTicker.C:
			r.kv.Sweep(now)
			r.refreshSnapshots()
		}
	}
}

func (r *Runner) refreshSnapshots() {
	r.atomicConnState.Store(int64(r.state))
	r.atomicLastCommandIdx.Store(r.lastCommandIdx)
	r.atomicJournalDepth.Store(int64(r.journal.Len()))
	r.atomicPendingKv.Store(int64(r.kv.PendingCount()))
	r.atomicRegistrySize.Store(int64(r.registry.Len()))
	r.syncLiveActors()
}

// syncLiveActors rebuilds the cross-goroutine liveActors mirror to
// match the registry's current key set (see dispatch.go).
func (r *Runner) syncLiveActors() {
	current := make(map[string]struct{}, r.registry.Len())
	for _, id := range r.registry.ActorIDs() {
		current[id] = struct{}{}
		r.liveActors.Store(id, struct{}{})
	}
	r.liveActors.Range(func(key, _ any) bool {
		id := key.(string)
		if _, ok := current[id]; !ok {
			r.liveActors.Delete(id)
		}
		return true
	})
}

func (r *Runner) setState(s ConnState) {
	r.state = s
	r.atomicConnState.Store(int64(s))
}

// handleOpen runs on the core loop when the control socket opens: it
// resets reconnect bookkeeping, cancels any armed runner-lost timer,
// and sends the init handshake.
func (r *Runner) handleOpen() {
	if r.state == ShuttingDown {
		return
	}
	r.setState(Connecting)
	r.reconnectAttempt = 0
	if r.runnerLostTimer != nil {
		r.runnerLostTimer.Stop()
		r.runnerLostTimer = nil
	}

	var lastCommandIdx *int64
	if r.lastCommandIdx >= 0 {
		v := r.lastCommandIdx
		lastCommandIdx = &v
	}
	prepop := make(map[string]protocol.PrepopulateActor, len(r.cfg.Options.PrepopulateActorNames))
	for name, pa := range r.cfg.Options.PrepopulateActorNames {
		prepop[name] = protocol.PrepopulateActor{Metadata: pa.Metadata}
	}
	r.sendToServer(protocol.ToServerInit{
		Name:                  r.cfg.Options.RunnerName,
		Version:               r.cfg.Options.Version,
		TotalSlots:            r.cfg.Options.TotalSlots,
		LastCommandIdx:        lastCommandIdx,
		PrepopulateActorNames: prepop,
		Metadata:              r.cfg.Options.Metadata,
	})
	r.kv.Flush()
}

func (r *Runner) handleClose(err error) {
	if r.state == ShuttingDown {
		return
	}
	wasConnected := r.state == Connected
	r.setState(Disconnected)
	r.gotInit = false
	telemetry.RecordReconnectAttempt(r.runCtx)
	r.reconnectAttempt++

	if wasConnected && r.cfg.Callbacks.OnDisconnected != nil {
		r.cfg.Callbacks.OnDisconnected()
	}

	if r.runnerLostThreshold != nil && r.runnerLostTimer == nil {
		threshold := *r.runnerLostThreshold
		r.runnerLostTimer = time.AfterFunc(threshold, func() {
			r.Post(func() {
				r.log.Warn("runner lost threshold exceeded; tearing down all actors")
				r.registry.BulkTeardown()
				r.runnerLostTimer = nil
			})
		})
	}
}

func (r *Runner) handleFrame(msg protocol.ToClient) {
	switch m := msg.(type) {
	case protocol.ToClientInit:
		r.handleInit(m)
	case protocol.ToClientCommands:
		r.handleCommands(m)
	case protocol.ToClientAckEvents:
		// Reserved: journal truncation on ack is not implemented; time-
		// based pruning is the only retention mechanism.
		r.log.Debug("ack_events received; ignored (time-based pruning only)", "last_event_idx", m.LastEventIdx)
	case protocol.ToClientKvResponse:
		r.kv.Resolve(m.RequestID, m.Data)
	}
}

func (r *Runner) handleInit(m protocol.ToClientInit) {
	if r.gotInit {
		r.log.Warn("duplicate init frame on same connection; ignoring")
		return
	}
	r.gotInit = true
	r.runnerID = m.RunnerID
	r.log = runnerlog.WithRunner(r.cfg.Logger, m.RunnerID)
	if m.Metadata != nil && m.Metadata.RunnerLostThresholdMS != nil {
		d := time.Duration(*m.Metadata.RunnerLostThresholdMS) * time.Millisecond
		r.runnerLostThreshold = &d
	}
	r.setState(Connected)

	replay := r.journal.Replay(m.LastEventIdx)
	if len(replay) > 0 {
		r.sendToServer(protocol.ToServerEvents{Events: replay})
	}

	if r.cfg.Callbacks.OnConnected != nil {
		r.cfg.Callbacks.OnConnected()
	}
}

func (r *Runner) handleCommands(m protocol.ToClientCommands) {
	for _, cw := range m.Commands {
		if cw.Index <= r.lastCommandIdx {
			continue // already applied; server may resend after reconnect
		}
		switch c := cw.Inner.(type) {
		case protocol.CommandStartActor:
			r.registry.StartActor(c.ActorID, c.Generation, c.Config)
			if err := r.cfg.Tunnel.RegisterActor(r.runCtx, c.ActorID, c.Generation); err != nil {
				r.log.Warn("tunnel register_actor failed", "actor_id", c.ActorID, "err", err)
			}
		case protocol.CommandStopActor:
			r.registry.StopActor(c.ActorID, c.Generation)
		}
		r.lastCommandIdx = cw.Index
		r.atomicLastCommandIdx.Store(r.lastCommandIdx)
	}
}

// emit appends ev to the journal and sends it immediately in its own
// single-event batch. Refused once shutdown has begun.
func (r *Runner) emit(ev protocol.Event) {
	if r.state == ShuttingDown {
		r.log.Debug("event suppressed during shutdown", "event", fmt.Sprintf("%T", ev))
		return
	}
	wrapper := r.journal.Append(ev, time.Now())
	r.sendToServer(protocol.ToServerEvents{Events: []protocol.EventWrapper{wrapper}})
	r.recordAudit(wrapper)
}

func (r *Runner) recordAudit(w protocol.EventWrapper) {
	if r.audit == nil {
		return
	}
	kind := fmt.Sprintf("%T", w.Inner)
	actorID := ""
	switch e := w.Inner.(type) {
	case protocol.ActorStateUpdate:
		actorID = e.ActorID
	case protocol.ActorIntent:
		actorID = e.ActorID
	case protocol.ActorSetAlarm:
		actorID = e.ActorID
	}
	if err := r.audit.RecordEvent(r.runCtx, w.Index, kind, actorID, "", time.Now()); err != nil {
		r.log.Debug("audit record failed", "err", err)
	}
}

// sendToServer is the single outbound sink every emitter routes
// through: it refuses to send once shutting down (except the stopping
// frame itself) and delegates to the connection manager otherwise.
func (r *Runner) sendToServer(msg protocol.ToServer) bool {
	if r.state == ShuttingDown {
		if _, ok := msg.(protocol.ToServerStopping); !ok {
			return false
		}
	}
	if r.conn == nil {
		return false
	}
	return r.conn.Send(msg)
}
