package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/talgya/contagion/internal/entropy"
)

type memorySink struct {
	mu      sync.Mutex
	got     map[int]ReplicationResult
	failFor int // 0-based index whose write fails; -1 for none
}

func newMemorySink(failFor int) *memorySink {
	return &memorySink{got: map[int]ReplicationResult{}, failFor: failFor}
}

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) WriteReplication(_ context.Context, res ReplicationResult) error {
	if res.Index == s.failFor {
		return errors.New("disk full")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got[res.Index] = res
	return nil
}

type countingObserver struct {
	mu       sync.Mutex
	started  map[int]int64
	days     map[int]int
	finished map[int]bool
}

func newCountingObserver() *countingObserver {
	return &countingObserver{started: map[int]int64{}, days: map[int]int{}, finished: map[int]bool{}}
}

func (o *countingObserver) ReplicationStarted(index int, seed int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started[index] = seed
}

func (o *countingObserver) DayRecorded(index int, _ DailyCount, _ StepStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.days[index]++
}

func (o *countingObserver) ReplicationFinished(res ReplicationResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished[res.Index] = true
}

func testRunner(workers int, sinks ...Sink) *Runner {
	p := smallParams()
	p.Days = 40
	return &Runner{
		Params:       p,
		BaseSeed:     1000,
		Replications: 4,
		Workers:      workers,
		Sinks:        sinks,
	}
}

func TestRunner_SeedsAndOrder(t *testing.T) {
	sink := newMemorySink(-1)
	obs := newCountingObserver()
	r := testRunner(2, sink)
	r.Observers = []Observer{obs}

	results, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("results=%d want 4", len(results))
	}
	for k, res := range results {
		if res.Index != k || res.Seed != 1000+int64(k) || res.Number() != k+1 {
			t.Fatalf("result %d: index=%d seed=%d number=%d", k, res.Index, res.Seed, res.Number())
		}
		if len(res.Days) != r.Params.Days {
			t.Fatalf("result %d: %d days want %d", k, len(res.Days), r.Params.Days)
		}
		if _, ok := sink.got[k]; !ok {
			t.Fatalf("sink never received replication %d", k)
		}
		if obs.started[k] != res.Seed || obs.days[k] != r.Params.Days || !obs.finished[k] {
			t.Fatalf("observer saw seed=%d days=%d finished=%v for %d", obs.started[k], obs.days[k], obs.finished[k], k)
		}
	}
}

func TestRunner_ParallelMatchesSequential(t *testing.T) {
	seq, err := testRunner(1).Run(context.Background())
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}
	par, err := testRunner(4).Run(context.Background())
	if err != nil {
		t.Fatalf("parallel: %v", err)
	}
	for k := range seq {
		for d := range seq[k].Days {
			if seq[k].Days[d] != par[k].Days[d] {
				t.Fatalf("replication %d day %d: %+v vs %+v", k, d, seq[k].Days[d], par[k].Days[d])
			}
		}
	}
}

func TestRunner_SinkFailureIsolated(t *testing.T) {
	sink := newMemorySink(1)
	results, err := testRunner(3, sink).Run(context.Background())
	if err == nil {
		t.Fatalf("expected error from failing sink")
	}
	if !strings.Contains(err.Error(), "replication 2") || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err=%q does not name the failed replication", err)
	}
	for k, res := range results {
		if k == 1 {
			if res.Err == nil {
				t.Fatalf("replication 2 should carry the sink error")
			}
			continue
		}
		if res.Err != nil {
			t.Fatalf("replication %d failed: %v", k+1, res.Err)
		}
		if _, ok := sink.got[k]; !ok {
			t.Fatalf("replication %d not persisted", k+1)
		}
	}
}

func TestRunner_RejectsBeforeSimulating(t *testing.T) {
	sink := newMemorySink(-1)
	r := testRunner(1, sink)
	r.Params.Population = 0
	if _, err := r.Run(context.Background()); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("err=%v want ErrInvalidParams", err)
	}
	r = testRunner(1, sink)
	r.Replications = 0
	if _, err := r.Run(context.Background()); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("err=%v want ErrInvalidParams", err)
	}
	if len(sink.got) != 0 {
		t.Fatalf("sink received %d results from rejected runs", len(sink.got))
	}
}

func TestRunner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := newMemorySink(-1)
	results, err := testRunner(2, sink).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	for _, res := range results {
		if res.Err == nil {
			t.Fatalf("replication %d completed under a cancelled context", res.Number())
		}
	}
	if len(sink.got) != 0 {
		t.Fatalf("cancelled replications were persisted")
	}
}

func TestRunner_RejectsSeedsOutsideRange(t *testing.T) {
	sink := newMemorySink(-1)
	for _, base := range []int64{-1, entropy.MaxSeed - 2, 1 << 33} {
		r := testRunner(1, sink)
		r.BaseSeed = base
		var pe *ParamError
		if _, err := r.Run(context.Background()); !errors.As(err, &pe) || pe.Field != "base_seed" {
			t.Fatalf("base=%d: err=%v want base_seed ParamError", base, err)
		}
	}
	if len(sink.got) != 0 {
		t.Fatalf("sink received %d results from rejected runs", len(sink.got))
	}
}
