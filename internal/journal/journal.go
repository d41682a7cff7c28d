// Package journal implements the runner's event journal: monotonic
// index assignment, a time-bounded history buffer, and replay of
// unacknowledged entries after a reconnect.
//
// A Journal is owned exclusively by the runner's serialized core
// loop; like the rest of the core it carries no internal locking.
package journal

import (
	"time"

	"github.com/rivet-gg/pegboard-runner/internal/protocol"
)

// Retention is how long a history entry survives before Prune drops
// it.
const Retention = 5 * time.Minute

// PruneInterval is how often the runner core loop should call Prune.
const PruneInterval = 60 * time.Second

type entry struct {
	index     int64
	event     protocol.Event
	timestamp time.Time
}

// Journal assigns event indices and retains recent history for replay.
type Journal struct {
	nextIndex int64
	history   []entry
}

func New() *Journal {
	return &Journal{}
}

// Append assigns the next index to ev, records it in history, and
// returns the wrapper ready to hand to the protocol handler.
func (j *Journal) Append(ev protocol.Event, now time.Time) protocol.EventWrapper {
	idx := j.nextIndex
	j.nextIndex++
	j.history = append(j.history, entry{index: idx, event: ev, timestamp: now})
	return protocol.EventWrapper{Index: idx, Inner: ev}
}

// NextIndex reports the index that will be assigned to the next
// appended event. Never decreases.
func (j *Journal) NextIndex() int64 { return j.nextIndex }

// Len reports the number of entries currently retained.
func (j *Journal) Len() int { return len(j.history) }

// Prune drops history entries older than Retention as of now.
func (j *Journal) Prune(now time.Time) {
	cutoff := now.Add(-Retention)
	i := 0
	for ; i < len(j.history); i++ {
		if j.history[i].timestamp.After(cutoff) {
			break
		}
	}
	if i == 0 {
		return
	}
	remaining := make([]entry, len(j.history)-i)
	copy(remaining, j.history[i:])
	j.history = remaining
}

// Replay returns, in ascending index order, every retained entry with
// index strictly greater than lastEventIdx. Used on reconnect to
// resend the exact gap the server is missing. A lastEventIdx of -1
// replays the whole retained history.
func (j *Journal) Replay(lastEventIdx int64) []protocol.EventWrapper {
	var out []protocol.EventWrapper
	for _, e := range j.history {
		if e.index > lastEventIdx {
			out = append(out, protocol.EventWrapper{Index: e.index, Inner: e.event})
		}
	}
	return out
}
