// Package kvbroker implements the runner's KV request/response
// multiplexer: request id assignment, a pending-request table that
// survives disconnects, expiration of stale requests, and server-key
// reordering for kv_get.
//
// Like journal.Journal, a Broker is owned exclusively by the runner's
// serialized core loop. Submitting a request and resolving a response
// must both happen from that loop; only the per-call completion
// channel crosses to another goroutine.
package kvbroker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rivet-gg/pegboard-runner/internal/protocol"
)

// ExpireAfter is how long a request may sit unanswered before it is
// rejected with ErrTimeout.
const ExpireAfter = 30 * time.Second

// SweepInterval is how often the runner core loop should call Sweep.
const SweepInterval = 15 * time.Second

var (
	ErrTimeout      = errors.New("kvbroker: request timed out")
	ErrShuttingDown = errors.New("kvbroker: connection closed during shutdown")
)

// Sender delivers a KV request frame over the control socket. It
// returns false if the socket is not currently open, in which case
// the broker holds the request for the next Flush.
type Sender func(protocol.ToServerKvRequest) bool

type entry struct {
	requestID uint32
	actorID   string
	data      protocol.KvRequestData
	sent      bool
	timestamp time.Time
	finish    func(data protocol.KvResponseData, err error)
}

// Broker owns the pending KV request table.
type Broker struct {
	nextRequestID uint32
	pending       map[uint32]*entry
	order         []uint32
	send          Sender
}

// KvPair is one key/value pair returned by a list operation.
type KvPair struct {
	Key   []byte
	Value []byte
}

// GetResult is the outcome of a Get call. Values is positional: the
// i-th element corresponds to the i-th requested key, or nil if the
// server did not return that key.
type GetResult struct {
	Values [][]byte
	Err    error
}

// ListResult is the outcome of a List call.
type ListResult struct {
	Pairs []KvPair
	Err   error
}

func New(send Sender) *Broker {
	return &Broker{pending: make(map[uint32]*entry), send: send}
}

// PendingCount reports the number of unresolved requests, for
// telemetry.
func (b *Broker) PendingCount() int { return len(b.pending) }

func (b *Broker) submit(actorID string, data protocol.KvRequestData, finish func(protocol.KvResponseData, error)) uint32 {
	id := b.nextRequestID
	b.nextRequestID++
	e := &entry{
		requestID: id,
		actorID:   actorID,
		data:      data,
		timestamp: time.Now(),
		finish:    finish,
	}
	b.pending[id] = e
	b.order = append(b.order, id)
	if b.send(protocol.ToServerKvRequest{ActorID: actorID, RequestID: id, Data: data}) {
		e.sent = true
	}
	return id
}

// Get requests the values for keys owned by actorID. The returned
// request id is for caller-side correlation (e.g. audit logging); the
// broker itself only needs it internally.
func (b *Broker) Get(actorID string, keys [][]byte) (uint32, <-chan GetResult) {
	out := make(chan GetResult, 1)
	id := b.submit(actorID, protocol.KvGetRequest{Keys: keys}, func(data protocol.KvResponseData, err error) {
		if err != nil {
			out <- GetResult{Err: err}
			return
		}
		resp, ok := data.(protocol.KvGetResponse)
		if !ok {
			out <- GetResult{Err: fmt.Errorf("kvbroker: unexpected response %T for get", data)}
			return
		}
		// Each requested key, including a repeated one, resolves
		// independently to the server's first matching value; later
		// duplicates of a key in the response are ignored.
		values := make(map[string][]byte, len(resp.Keys))
		seen := make(map[string]bool, len(resp.Keys))
		for i, k := range resp.Keys {
			ks := string(k)
			if seen[ks] {
				continue
			}
			seen[ks] = true
			if i < len(resp.Values) {
				values[ks] = resp.Values[i]
			}
		}
		result := make([][]byte, len(keys))
		for i, k := range keys {
			result[i] = values[string(k)]
		}
		out <- GetResult{Values: result}
	})
	return id, out
}

// List requests key/value pairs matching query.
func (b *Broker) List(actorID string, query protocol.KvListQuery, reverse *bool, limit *uint64) (uint32, <-chan ListResult) {
	out := make(chan ListResult, 1)
	id := b.submit(actorID, protocol.KvListRequest{Query: query, Reverse: reverse, Limit: limit}, func(data protocol.KvResponseData, err error) {
		if err != nil {
			out <- ListResult{Err: err}
			return
		}
		resp, ok := data.(protocol.KvListResponse)
		if !ok {
			out <- ListResult{Err: fmt.Errorf("kvbroker: unexpected response %T for list", data)}
			return
		}
		n := len(resp.Keys)
		if len(resp.Values) < n {
			n = len(resp.Values)
		}
		pairs := make([]KvPair, n)
		for i := 0; i < n; i++ {
			pairs[i] = KvPair{Key: resp.Keys[i], Value: resp.Values[i]}
		}
		out <- ListResult{Pairs: pairs}
	})
	return id, out
}

// Put writes keys/values for actorID.
func (b *Broker) Put(actorID string, keys, values [][]byte) (uint32, <-chan error) {
	return b.ackCall(actorID, protocol.KvPutRequest{Keys: keys, Values: values}, "put")
}

// Delete removes keys for actorID.
func (b *Broker) Delete(actorID string, keys [][]byte) (uint32, <-chan error) {
	return b.ackCall(actorID, protocol.KvDeleteRequest{Keys: keys}, "delete")
}

// Drop removes all KV state for actorID.
func (b *Broker) Drop(actorID string) (uint32, <-chan error) {
	return b.ackCall(actorID, protocol.KvDropRequest{}, "drop")
}

func (b *Broker) ackCall(actorID string, data protocol.KvRequestData, op string) (uint32, <-chan error) {
	out := make(chan error, 1)
	id := b.submit(actorID, data, func(data protocol.KvResponseData, err error) {
		if err != nil {
			out <- err
			return
		}
		if _, ok := data.(protocol.KvAck); !ok {
			out <- fmt.Errorf("kvbroker: unexpected response %T for %s", data, op)
			return
		}
		out <- nil
	})
	return id, out
}

// Resolve delivers a server response to the matching pending request.
// An unknown request_id is logged and dropped.
func (b *Broker) Resolve(requestID uint32, data protocol.KvResponseData) {
	e, ok := b.pending[requestID]
	if !ok {
		slog.Warn("kv response for unknown request_id", "request_id", requestID)
		return
	}
	b.remove(requestID)
	if errResp, ok := data.(protocol.KvErrorResponse); ok {
		e.finish(nil, fmt.Errorf("kvbroker: server error: %s", errResp.Message))
		return
	}
	e.finish(data, nil)
}

// Flush resends every not-yet-sent pending request, in original
// insertion order. Call after the control socket (re)opens.
func (b *Broker) Flush() {
	for _, id := range b.order {
		e, ok := b.pending[id]
		if !ok || e.sent {
			continue
		}
		if b.send(protocol.ToServerKvRequest{ActorID: e.actorID, RequestID: e.requestID, Data: e.data}) {
			e.sent = true
			e.timestamp = time.Now()
		}
	}
}

// Sweep rejects, with ErrTimeout, every pending request whose
// timestamp is older than ExpireAfter as of now.
func (b *Broker) Sweep(now time.Time) {
	var expired []uint32
	for id, e := range b.pending {
		if now.Sub(e.timestamp) > ExpireAfter {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		e := b.pending[id]
		b.remove(id)
		e.finish(nil, ErrTimeout)
	}
}

// Shutdown rejects every pending request (sent or not) with
// ErrShuttingDown.
func (b *Broker) Shutdown() {
	for id, e := range b.pending {
		delete(b.pending, id)
		e.finish(nil, ErrShuttingDown)
	}
	b.order = nil
}

func (b *Broker) remove(id uint32) {
	delete(b.pending, id)
	for i, oid := range b.order {
		if oid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}
