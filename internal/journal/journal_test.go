package journal

import (
	"testing"
	"time"

	"github.com/rivet-gg/pegboard-runner/internal/protocol"
)

func TestAppendAssignsDenseIndices(t *testing.T) {
	j := New()
	now := time.Now()
	for i := 0; i < 5; i++ {
		w := j.Append(protocol.ActorIntent{ActorID: "a", Generation: 1, Intent: protocol.ActorIntentSleep{}}, now)
		if w.Index != int64(i) {
			t.Fatalf("entry %d got index %d", i, w.Index)
		}
	}
	if j.NextIndex() != 5 {
		t.Fatalf("NextIndex = %d, want 5", j.NextIndex())
	}
}

func TestReplayReturnsOnlyNewerEntries(t *testing.T) {
	j := New()
	now := time.Now()
	for i := 0; i < 5; i++ {
		j.Append(protocol.ActorIntent{ActorID: "a", Generation: 1, Intent: protocol.ActorIntentSleep{}}, now)
	}
	got := j.Replay(2)
	if len(got) != 2 {
		t.Fatalf("Replay(2) len = %d, want 2", len(got))
	}
	if got[0].Index != 3 || got[1].Index != 4 {
		t.Fatalf("Replay(2) indices = %d,%d, want 3,4", got[0].Index, got[1].Index)
	}
}

func TestReplayAllWhenNoPriorEvents(t *testing.T) {
	j := New()
	now := time.Now()
	j.Append(protocol.ActorIntent{ActorID: "a", Generation: 1, Intent: protocol.ActorIntentSleep{}}, now)
	got := j.Replay(-1)
	if len(got) != 1 {
		t.Fatalf("Replay(-1) len = %d, want 1", len(got))
	}
}

func TestPruneDropsOldEntries(t *testing.T) {
	j := New()
	old := time.Now().Add(-Retention - time.Minute)
	recent := time.Now()
	j.Append(protocol.ActorIntent{ActorID: "a", Generation: 1, Intent: protocol.ActorIntentSleep{}}, old)
	j.Append(protocol.ActorIntent{ActorID: "b", Generation: 1, Intent: protocol.ActorIntentSleep{}}, recent)

	j.Prune(time.Now())

	if j.Len() != 1 {
		t.Fatalf("Len after prune = %d, want 1", j.Len())
	}
	// NextIndex must never decrease even though history was pruned.
	if j.NextIndex() != 2 {
		t.Fatalf("NextIndex after prune = %d, want 2", j.NextIndex())
	}
}

func TestPruneNoOpWhenNothingExpired(t *testing.T) {
	j := New()
	now := time.Now()
	j.Append(protocol.ActorIntent{ActorID: "a", Generation: 1, Intent: protocol.ActorIntentSleep{}}, now)
	j.Prune(now)
	if j.Len() != 1 {
		t.Fatalf("Len after no-op prune = %d, want 1", j.Len())
	}
}
