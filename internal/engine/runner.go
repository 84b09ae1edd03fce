package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/contagion/internal/entropy"
)

// ReplicationResult is the outcome of one replication.
type ReplicationResult struct {
	Index   int           `json:"index"` // 0-based; seed = base seed + Index
	Seed    int64         `json:"seed"`
	Days    []DailyCount  `json:"days"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Err     error         `json:"-"`
}

// Number is the 1-based replication number used in file names.
func (r ReplicationResult) Number() int { return r.Index + 1 }

// Sink persists finished replications. Sinks are called from several
// replication goroutines at once.
type Sink interface {
	Name() string
	WriteReplication(ctx context.Context, res ReplicationResult) error
}

// Observer follows replications while they run. Methods are called from
// replication goroutines and must be safe for concurrent use.
type Observer interface {
	ReplicationStarted(index int, seed int64)
	DayRecorded(index int, count DailyCount, stats StepStats)
	ReplicationFinished(res ReplicationResult)
}

// Runner executes independent replications of one parameter set.
type Runner struct {
	Params       Params
	BaseSeed     int64
	Replications int
	Workers      int // concurrent replications; <= 0 means GOMAXPROCS

	ProgressEvery int // log a progress line every N days; 0 disables

	Sinks     []Sink
	Observers []Observer
}

// Run executes all replications and returns their results in index order.
// Parameters are validated before any agent is created. A replication whose
// simulation or persistence fails does not stop the others; every failure is
// returned, joined.
func (r *Runner) Run(ctx context.Context) ([]ReplicationResult, error) {
	if err := r.Params.Validate(); err != nil {
		return nil, err
	}
	if r.Replications <= 0 {
		return nil, &ParamError{Field: "replications", Reason: fmt.Sprintf("must be positive, got %d", r.Replications)}
	}
	if err := checkSeedRange(r.BaseSeed, r.Replications); err != nil {
		return nil, err
	}

	workers := r.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > r.Replications {
		workers = r.Replications
	}

	slog.Info("replications starting",
		"replications", r.Replications,
		"workers", workers,
		"base_seed", r.BaseSeed,
		"population", r.Params.Population,
		"grid_size", r.Params.GridSize,
		"days", r.Params.Days,
		"rng", r.Params.RNG.String(),
		"infection_pressure", r.Params.Pressure.String(),
	)

	results := make([]ReplicationResult, r.Replications)
	var g errgroup.Group
	g.SetLimit(workers)
	for k := 0; k < r.Replications; k++ {
		g.Go(func() error {
			results[k] = r.RunReplication(ctx, k)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("replication %d (seed %d): %w", res.Number(), res.Seed, res.Err))
		}
	}
	return results, errors.Join(errs...)
}

// RunReplication simulates replication index and hands the result to every
// sink. The first sink failure aborts the remaining sinks for this
// replication only.
func (r *Runner) RunReplication(ctx context.Context, index int) ReplicationResult {
	res := ReplicationResult{Index: index, Seed: r.BaseSeed + int64(index)}
	for _, o := range r.Observers {
		o.ReplicationStarted(index, res.Seed)
	}

	start := time.Now()
	res.Err = r.simulate(ctx, &res)
	res.Elapsed = time.Since(start)

	if res.Err == nil {
		for _, sink := range r.Sinks {
			if err := sink.WriteReplication(ctx, res); err != nil {
				res.Err = fmt.Errorf("%s: %w", sink.Name(), err)
				break
			}
		}
	}

	if res.Err != nil {
		slog.Error("replication failed", "replication", res.Number(), "seed", res.Seed, "error", res.Err)
	} else {
		last := res.Days[len(res.Days)-1]
		slog.Info("replication finished",
			"replication", res.Number(),
			"seed", res.Seed,
			"elapsed", res.Elapsed.Round(time.Millisecond),
			"S", last.Susceptible, "E", last.Exposed, "I", last.Infectious, "R", last.Recovered,
		)
	}
	for _, o := range r.Observers {
		o.ReplicationFinished(res)
	}
	return res
}

// checkSeedRange rejects base seeds whose replications base..base+n-1 would
// leave the range a Stream accepts.
func checkSeedRange(base int64, replications int) error {
	if err := entropy.CheckSeed(base); err != nil {
		return &ParamError{Field: "base_seed", Reason: err.Error()}
	}
	if err := entropy.CheckSeed(base + int64(replications) - 1); err != nil {
		return &ParamError{Field: "base_seed", Reason: fmt.Sprintf("%d replications from %d: %v", replications, base, err)}
	}
	return nil
}

func (r *Runner) simulate(ctx context.Context, res *ReplicationResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sim, err := NewSimulation(r.Params, res.Seed)
	if err != nil {
		return err
	}
	res.Days = make([]DailyCount, 0, r.Params.Days)

	return sim.Run(ctx, func(c DailyCount, stats StepStats) error {
		res.Days = append(res.Days, c)
		for _, o := range r.Observers {
			o.DayRecorded(res.Index, c, stats)
		}
		if r.ProgressEvery > 0 && (c.Day+1)%r.ProgressEvery == 0 {
			slog.Info("replication progress",
				"replication", res.Number(),
				"day", c.Day+1,
				"S", c.Susceptible, "E", c.Exposed, "I", c.Infectious, "R", c.Recovered,
				"new_exposed", stats.Exposures(),
			)
		}
		return nil
	})
}
