package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/contagion/internal/engine"
)

// Replication states reported by the API.
const (
	StatePending  = "pending"
	StateRunning  = "running"
	StateComplete = "complete"
	StateFailed   = "failed"
)

// ReplicationStatus is the live view of one replication.
type ReplicationStatus struct {
	Number    int                `json:"replication"`
	Seed      int64              `json:"seed"`
	State     string             `json:"state"`
	Days      int                `json:"days_recorded"`
	Latest    *engine.DailyCount `json:"latest,omitempty"`
	ElapsedMS int64              `json:"elapsed_ms,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Event is one message on the live stream.
type Event struct {
	Type         string              `json:"type"` // snapshot | started | day | finished
	Replication  int                 `json:"replication,omitempty"`
	Seed         int64               `json:"seed,omitempty"`
	Count        *engine.DailyCount  `json:"count,omitempty"`
	NewExposed   int                 `json:"new_exposed,omitempty"`
	Error        string              `json:"error,omitempty"`
	Replications []ReplicationStatus `json:"replications,omitempty"`
}

// Tracker is an engine.Observer that keeps per-replication progress and
// fans events out to stream subscribers.
type Tracker struct {
	RunID     string
	Params    engine.Params
	BaseSeed  int64
	StartedAt time.Time

	mu      sync.RWMutex
	status  []ReplicationStatus
	history [][]engine.DailyCount

	subMu  sync.Mutex
	subs   map[uint64]chan []byte
	nextID uint64
}

// NewTracker prepares a tracker for replications seeded base+0 .. base+n-1.
func NewTracker(runID string, p engine.Params, baseSeed int64, replications int) *Tracker {
	t := &Tracker{
		RunID:     runID,
		Params:    p,
		BaseSeed:  baseSeed,
		StartedAt: time.Now().UTC(),
		status:    make([]ReplicationStatus, replications),
		history:   make([][]engine.DailyCount, replications),
		subs:      make(map[uint64]chan []byte),
	}
	for k := range t.status {
		t.status[k] = ReplicationStatus{Number: k + 1, Seed: baseSeed + int64(k), State: StatePending}
	}
	return t
}

func (t *Tracker) valid(index int) bool { return index >= 0 && index < len(t.status) }

// ReplicationStarted marks replication index running and announces it.
// Indexes outside the run are ignored.
func (t *Tracker) ReplicationStarted(index int, seed int64) {
	if !t.valid(index) {
		return
	}
	t.mu.Lock()
	t.status[index].State = StateRunning
	t.status[index].Seed = seed
	t.history[index] = make([]engine.DailyCount, 0, t.Params.Days)
	t.mu.Unlock()
	t.broadcast(Event{Type: "started", Replication: index + 1, Seed: seed})
}

// DayRecorded appends one census to the replication's history and streams it.
func (t *Tracker) DayRecorded(index int, count engine.DailyCount, stats engine.StepStats) {
	if !t.valid(index) {
		return
	}
	t.mu.Lock()
	t.history[index] = append(t.history[index], count)
	st := &t.status[index]
	st.Days = len(t.history[index])
	latest := count
	st.Latest = &latest
	t.mu.Unlock()
	t.broadcast(Event{Type: "day", Replication: index + 1, Count: &count, NewExposed: stats.Exposures()})
}

// ReplicationFinished records the outcome and elapsed time of a replication.
func (t *Tracker) ReplicationFinished(res engine.ReplicationResult) {
	if !t.valid(res.Index) {
		return
	}
	ev := Event{Type: "finished", Replication: res.Number(), Seed: res.Seed}
	t.mu.Lock()
	st := &t.status[res.Index]
	st.ElapsedMS = res.Elapsed.Milliseconds()
	if res.Err != nil {
		st.State = StateFailed
		st.Error = res.Err.Error()
		ev.Error = st.Error
	} else {
		st.State = StateComplete
	}
	t.mu.Unlock()
	t.broadcast(ev)
}

// Statuses returns a copy of every replication's status.
func (t *Tracker) Statuses() []ReplicationStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ReplicationStatus, len(t.status))
	copy(out, t.status)
	return out
}

// Replication returns the status and recorded days of a 1-based replication.
func (t *Tracker) Replication(number int) (ReplicationStatus, []engine.DailyCount, bool) {
	index := number - 1
	if !t.valid(index) {
		return ReplicationStatus{}, nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	days := make([]engine.DailyCount, len(t.history[index]))
	copy(days, t.history[index])
	return t.status[index], days, true
}

// Subscribe registers a stream listener. The channel receives encoded
// events; a subscriber that falls behind loses events rather than stalling
// the simulation.
func (t *Tracker) Subscribe() (uint64, <-chan []byte) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	t.nextID++
	ch := make(chan []byte, 256)
	t.subs[t.nextID] = ch
	return t.nextID, ch
}

// Unsubscribe removes a listener and closes its channel.
func (t *Tracker) Unsubscribe(id uint64) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	if ch, ok := t.subs[id]; ok {
		delete(t.subs, id)
		close(ch)
	}
}

func (t *Tracker) broadcast(ev Event) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	if len(t.subs) == 0 {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		slog.Error("encode stream event", "error", err)
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- b:
		default:
		}
	}
}

// Snapshot encodes the current status of all replications as an event.
func (t *Tracker) Snapshot() ([]byte, error) {
	return json.Marshal(Event{Type: "snapshot", Replications: t.Statuses()})
}
