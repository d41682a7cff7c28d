package runner

import (
	"context"
	"errors"
	"time"

	"github.com/rivet-gg/pegboard-runner/internal/kvbroker"
	"github.com/rivet-gg/pegboard-runner/internal/protocol"
	"github.com/rivet-gg/pegboard-runner/internal/runnerlog"
	"github.com/rivet-gg/pegboard-runner/internal/telemetry"
)

// ErrRunnerStopped is returned by the KV methods below when the
// runner's core loop exits before the call is scheduled or resolved.
var ErrRunnerStopped = errors.New("runner: stopped")

// KvGet resolves the values for keys owned by actorID, in requested
// order; an element is nil if the server did not return that key.
func (r *Runner) KvGet(ctx context.Context, actorID string, keys [][]byte) ([][]byte, error) {
	start := time.Now()
	correlationID := runnerlog.NewCorrelationID()
	reqID, res, err := postAndAwait(r, ctx, func() (uint32, <-chan kvbroker.GetResult) {
		return r.kv.Get(actorID, keys)
	})
	outcome := err
	if outcome == nil {
		outcome = res.Err
	}
	r.recordKvOutcome(ctx, correlationID, reqID, actorID, "get", outcome, start)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Values, nil
}

// KvListAll lists every key/value pair owned by actorID.
func (r *Runner) KvListAll(ctx context.Context, actorID string, reverse *bool, limit *uint64) ([]kvbroker.KvPair, error) {
	return r.kvList(ctx, actorID, protocol.KvListQueryAll{}, reverse, limit)
}

// KvListRange lists pairs with keys between start and end. The
// exclusive flag is passed to the server unchanged; the server decides
// how it bounds the range.
func (r *Runner) KvListRange(ctx context.Context, actorID string, start, end []byte, exclusive bool, reverse *bool, limit *uint64) ([]kvbroker.KvPair, error) {
	return r.kvList(ctx, actorID, protocol.KvListQueryRange{Start: start, End: end, Exclusive: exclusive}, reverse, limit)
}

// KvListPrefix lists pairs whose key starts with prefix.
func (r *Runner) KvListPrefix(ctx context.Context, actorID string, prefix []byte, reverse *bool, limit *uint64) ([]kvbroker.KvPair, error) {
	return r.kvList(ctx, actorID, protocol.KvListQueryPrefix{Key: prefix}, reverse, limit)
}

func (r *Runner) kvList(ctx context.Context, actorID string, query protocol.KvListQuery, reverse *bool, limit *uint64) ([]kvbroker.KvPair, error) {
	start := time.Now()
	correlationID := runnerlog.NewCorrelationID()
	reqID, res, err := postAndAwait(r, ctx, func() (uint32, <-chan kvbroker.ListResult) {
		return r.kv.List(actorID, query, reverse, limit)
	})
	outcome := err
	if outcome == nil {
		outcome = res.Err
	}
	r.recordKvOutcome(ctx, correlationID, reqID, actorID, "list", outcome, start)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Pairs, nil
}

// KvPut writes keys/values for actorID. len(keys) must equal len(values).
func (r *Runner) KvPut(ctx context.Context, actorID string, keys, values [][]byte) error {
	return r.kvAck(ctx, actorID, "put", func() (uint32, <-chan error) { return r.kv.Put(actorID, keys, values) })
}

// KvDelete removes keys for actorID.
func (r *Runner) KvDelete(ctx context.Context, actorID string, keys [][]byte) error {
	return r.kvAck(ctx, actorID, "delete", func() (uint32, <-chan error) { return r.kv.Delete(actorID, keys) })
}

// KvDrop removes all KV state for actorID.
func (r *Runner) KvDrop(ctx context.Context, actorID string) error {
	return r.kvAck(ctx, actorID, "drop", func() (uint32, <-chan error) { return r.kv.Drop(actorID) })
}

func (r *Runner) kvAck(ctx context.Context, actorID, op string, submit func() (uint32, <-chan error)) error {
	start := time.Now()
	correlationID := runnerlog.NewCorrelationID()
	reqID, res, err := postAndAwait(r, ctx, submit)
	outcome := err
	if outcome == nil {
		outcome = res
	}
	r.recordKvOutcome(ctx, correlationID, reqID, actorID, op, outcome, start)
	if err != nil {
		return err
	}
	return res
}

// recordKvOutcome records the outcome of a completed KV call to the
// telemetry latency histogram and, if enabled, the local audit spool.
// Never escalates a recording failure to the caller.
func (r *Runner) recordKvOutcome(ctx context.Context, correlationID string, requestID uint32, actorID, op string, outcome error, start time.Time) {
	d := time.Since(start)
	telemetry.RecordKvLatency(ctx, op, d)
	log := runnerlog.WithCorrelationID(r.log, correlationID)
	if outcome != nil {
		log.Debug("kv request failed", "actor_id", actorID, "op", op, "request_id", requestID, "err", outcome)
	} else {
		log.Debug("kv request completed", "actor_id", actorID, "op", op, "request_id", requestID, "duration", d)
	}
	if r.audit == nil {
		return
	}
	errMsg := ""
	if outcome != nil {
		errMsg = outcome.Error()
	}
	if err := r.audit.RecordKvOutcome(r.runCtx, requestID, actorID, op, outcome == nil, errMsg, d, time.Now()); err != nil {
		log.Debug("audit kv outcome record failed", "err", err)
	}
}

// submission carries a broker-assigned request id alongside its result
// channel through a single channel send, so the id reaches the calling
// goroutine via the same happens-before edge as the channel itself
// instead of through a separately-written closure variable.
type submission[T any] struct {
	id uint32
	ch <-chan T
}

// postAndAwait schedules submit on the core loop (obtaining its request
// id and result channel there, since kvbroker.Broker is core-loop-owned)
// and then blocks the calling goroutine — off the core loop — until
// either that channel resolves, ctx is cancelled, or the runner itself
// stops.
func postAndAwait[T any](r *Runner, ctx context.Context, submit func() (uint32, <-chan T)) (uint32, T, error) {
	var zero T
	subCh := make(chan submission[T], 1)
	r.Post(func() {
		id, ch := submit()
		subCh <- submission[T]{id: id, ch: ch}
	})

	select {
	case sub := <-subCh:
		select {
		case res := <-sub.ch:
			return sub.id, res, nil
		case <-ctx.Done():
			return sub.id, zero, ctx.Err()
		case <-r.runCtx.Done():
			return sub.id, zero, ErrRunnerStopped
		}
	case <-ctx.Done():
		return 0, zero, ctx.Err()
	case <-r.runCtx.Done():
		return 0, zero, ErrRunnerStopped
	}
}
