package connmgr

import "testing"

func TestBackoffCapsAtMax(t *testing.T) {
	b := NewBackoff()
	b.Jitter = false
	var last int64
	for i := 0; i < 20; i++ {
		d := b.Next()
		if int64(d) > int64(b.Max) {
			t.Fatalf("attempt %d exceeded cap: %v > %v", i, d, b.Max)
		}
		last = int64(d)
	}
	if last != int64(b.Max) {
		t.Fatalf("expected backoff to saturate at Max, got %v", last)
	}
}

func TestBackoffResetRestartsFromInitial(t *testing.T) {
	b := NewBackoff()
	b.Jitter = false
	b.Next()
	b.Next()
	b.Reset()
	if got := b.Next(); got != b.Initial {
		t.Fatalf("expected first delay after reset to equal Initial, got %v", got)
	}
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	b := NewBackoff()
	for i := 0; i < 50; i++ {
		d := b.Next()
		if d < 0 || d > b.Max {
			t.Fatalf("jittered delay out of bounds: %v", d)
		}
	}
}
