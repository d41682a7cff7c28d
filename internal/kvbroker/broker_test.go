package kvbroker

import (
	"testing"
	"time"

	"github.com/rivet-gg/pegboard-runner/internal/protocol"
)

func TestGetReordersToRequestedKeyOrder(t *testing.T) {
	var sent []protocol.ToServerKvRequest
	b := New(func(req protocol.ToServerKvRequest) bool {
		sent = append(sent, req)
		return true
	})

	_, ch := b.Get("a1", [][]byte{[]byte("k1"), []byte("k2"), []byte("k3")})
	if len(sent) != 1 {
		t.Fatalf("expected 1 sent request, got %d", len(sent))
	}
	req := sent[0].Data.(protocol.KvGetRequest)
	if len(req.Keys) != 3 {
		t.Fatalf("expected 3 keys sent, got %d", len(req.Keys))
	}

	// Server responds out of order and omits k2.
	b.Resolve(sent[0].RequestID, protocol.KvGetResponse{
		Keys:   [][]byte{[]byte("k3"), []byte("k1")},
		Values: [][]byte{[]byte("v3"), []byte("v1")},
	})

	res := <-ch
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if string(res.Values[0]) != "v1" || res.Values[1] != nil || string(res.Values[2]) != "v3" {
		t.Fatalf("got %v, %v, %v", res.Values[0], res.Values[1], res.Values[2])
	}
}

func TestGetDuplicateRequestedKeysResolveIndependently(t *testing.T) {
	var sent protocol.ToServerKvRequest
	b := New(func(req protocol.ToServerKvRequest) bool {
		sent = req
		return true
	})
	_, ch := b.Get("a1", [][]byte{[]byte("k1"), []byte("k1")})
	b.Resolve(sent.RequestID, protocol.KvGetResponse{
		Keys:   [][]byte{[]byte("k1")},
		Values: [][]byte{[]byte("v1")},
	})
	res := <-ch
	if string(res.Values[0]) != "v1" || string(res.Values[1]) != "v1" {
		t.Fatalf("expected both duplicate keys to resolve to v1, got %v", res.Values)
	}
}

func TestUnsentRequestsFlushOnReconnect(t *testing.T) {
	open := false
	var flushed []protocol.ToServerKvRequest
	b := New(func(req protocol.ToServerKvRequest) bool {
		if open {
			flushed = append(flushed, req)
		}
		return open
	})

	_, _ = b.Put("a1", [][]byte{[]byte("k")}, [][]byte{[]byte("v")})
	if b.PendingCount() != 1 {
		t.Fatalf("expected 1 pending request while closed")
	}

	open = true
	b.Flush()
	if len(flushed) != 1 {
		t.Fatalf("expected flush to resend the queued request, got %d sends", len(flushed))
	}
}

func TestSweepTimesOutStaleRequests(t *testing.T) {
	b := New(func(protocol.ToServerKvRequest) bool { return true })
	_, ch := b.Delete("a1", [][]byte{[]byte("k")})

	b.Sweep(time.Now().Add(ExpireAfter + time.Second))

	err := <-ch
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if b.PendingCount() != 0 {
		t.Fatalf("expected pending table empty after sweep, got %d", b.PendingCount())
	}
}

func TestShutdownRejectsAllPending(t *testing.T) {
	b := New(func(protocol.ToServerKvRequest) bool { return false })
	_, ch1 := b.Drop("a1")
	_, ch2 := b.Drop("a2")

	b.Shutdown()

	if err := <-ch1; err != ErrShuttingDown {
		t.Fatalf("ch1: expected ErrShuttingDown, got %v", err)
	}
	if err := <-ch2; err != ErrShuttingDown {
		t.Fatalf("ch2: expected ErrShuttingDown, got %v", err)
	}
}

func TestResolveUnknownRequestIDIsIgnored(t *testing.T) {
	b := New(func(protocol.ToServerKvRequest) bool { return true })
	// Should not panic even though nothing is pending.
	b.Resolve(999, protocol.KvAck{})
}

func TestServerErrorRejectsCaller(t *testing.T) {
	var sent protocol.ToServerKvRequest
	b := New(func(req protocol.ToServerKvRequest) bool {
		sent = req
		return true
	})
	_, ch := b.Drop("a1")
	b.Resolve(sent.RequestID, protocol.KvErrorResponse{Message: "actor not found"})
	if err := <-ch; err == nil {
		t.Fatal("expected error from server error response")
	}
}
