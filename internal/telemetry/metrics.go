package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initOnce sync.Once

	reconnectAttemptsCounter metric.Int64Counter
	kvRequestDuration        metric.Float64Histogram

	connStateGauge    metric.Int64ObservableGauge
	journalDepthGauge metric.Int64ObservableGauge
	pendingKvGauge    metric.Int64ObservableGauge
	registrySizeGauge metric.Int64ObservableGauge
)

// GaugeSource supplies point-in-time values for the runner's
// observable gauges. The runner core loop is the sole writer of the
// underlying state; implementations must expose it via atomic reads
// since the metrics SDK invokes this from its own scrape goroutine,
// outside the core loop.
type GaugeSource interface {
	ConnState() int64
	JournalDepth() int64
	PendingKvRequests() int64
	RegistrySize() int64
}

// InitMetrics creates the runner's instruments and registers the
// observable-gauge callback against src. Safe to call multiple times;
// only the first call takes effect. Call after InitMeterProvider.
func InitMetrics(ctx context.Context, src GaugeSource) error {
	var err error
	initOnce.Do(func() {
		m := Meter()

		reconnectAttemptsCounter, err = m.Int64Counter(
			"pegboard_runner_reconnect_attempts_total",
			metric.WithDescription("Total control-channel reconnect attempts"),
		)
		if err != nil {
			return
		}
		kvRequestDuration, err = m.Float64Histogram(
			"pegboard_runner_kv_request_duration_seconds",
			metric.WithDescription("KV request round-trip latency in seconds"),
		)
		if err != nil {
			return
		}
		connStateGauge, err = m.Int64ObservableGauge(
			"pegboard_runner_connection_state",
			metric.WithDescription("Control channel state: 0=disconnected 1=connecting 2=connected 3=shutting_down"),
		)
		if err != nil {
			return
		}
		journalDepthGauge, err = m.Int64ObservableGauge(
			"pegboard_runner_journal_depth",
			metric.WithDescription("Number of event journal entries currently retained"),
		)
		if err != nil {
			return
		}
		pendingKvGauge, err = m.Int64ObservableGauge(
			"pegboard_runner_kv_pending_requests",
			metric.WithDescription("Number of KV requests awaiting a response"),
		)
		if err != nil {
			return
		}
		registrySizeGauge, err = m.Int64ObservableGauge(
			"pegboard_runner_registry_actors",
			metric.WithDescription("Number of actors currently tracked by the registry"),
		)
		if err != nil {
			return
		}

		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			if src == nil {
				return nil
			}
			o.ObserveInt64(connStateGauge, src.ConnState())
			o.ObserveInt64(journalDepthGauge, src.JournalDepth())
			o.ObserveInt64(pendingKvGauge, src.PendingKvRequests())
			o.ObserveInt64(registrySizeGauge, src.RegistrySize())
			return nil
		}, connStateGauge, journalDepthGauge, pendingKvGauge, registrySizeGauge)
	})
	return err
}

// RecordReconnectAttempt increments the reconnect attempt counter.
func RecordReconnectAttempt(ctx context.Context) {
	if reconnectAttemptsCounter != nil {
		reconnectAttemptsCounter.Add(ctx, 1)
	}
}

// RecordKvLatency records how long a KV operation took to resolve.
func RecordKvLatency(ctx context.Context, op string, d time.Duration) {
	if kvRequestDuration != nil {
		kvRequestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(AttrKvOp.String(op)))
	}
}
