// Package engine provides the daily simulation loop, the SEIRS transition
// rule and the replication runner.
package engine

import (
	"context"
	"fmt"

	"github.com/talgya/contagion/internal/agents"
	"github.com/talgya/contagion/internal/entropy"
	"github.com/talgya/contagion/internal/world"
)

// DailyCount is the census of one day of one replication.
type DailyCount struct {
	Day         int `json:"day"`
	Susceptible int `json:"s"`
	Exposed     int `json:"e"`
	Infectious  int `json:"i"`
	Recovered   int `json:"r"`
}

// Total returns the population covered by the census.
func (c DailyCount) Total() int {
	return c.Susceptible + c.Exposed + c.Infectious + c.Recovered
}

// StepStats counts the transitions of one day, by the status left.
type StepStats struct {
	Transitions [agents.NumStatuses]int
}

// Exposures is the number of susceptible agents exposed during the day.
func (s StepStats) Exposures() int { return s.Transitions[agents.Susceptible] }

// Onsets is the number of exposed agents that became infectious.
func (s StepStats) Onsets() int { return s.Transitions[agents.Exposed] }

// Recoveries is the number of infectious agents that recovered.
func (s StepStats) Recoveries() int { return s.Transitions[agents.Infectious] }

// Waned is the number of recovered agents that lost immunity.
func (s StepStats) Waned() int { return s.Transitions[agents.Recovered] }

// Simulation is one replication's complete state. It is not safe for
// concurrent use; parallelism happens across simulations.
type Simulation struct {
	Params Params
	Grid   world.Grid
	Agents []agents.Agent
	Index  *world.Index
	Day    int // days completed

	recorded int // rows handed to Run's record

	rng     *entropy.Stream
	spawner *agents.Spawner
	order   []int
	live    func(id int) bool
}

// NewSimulation validates p and creates the initial population from seed.
// Nothing is allocated for invalid parameters.
func NewSimulation(p Params, seed int64) (*Simulation, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	rng, err := entropy.New(p.RNG, seed)
	if err != nil {
		return nil, fmt.Errorf("rng: %w", err)
	}

	grid := world.NewGrid(p.GridSize)
	spawner := agents.NewSpawner(rng)
	pop := spawner.SpawnPopulation(agents.SpawnConfig{
		Population:        p.Population,
		InitialInfectious: p.InitialInfectious,
		Grid:              grid,
		LatencyMean:       p.LatencyMean,
		InfectiousMean:    p.InfectiousMean,
		ImmunityMean:      p.ImmunityMean,
	})

	s := &Simulation{
		Params:  p,
		Grid:    grid,
		Agents:  pop,
		Index:   world.NewIndex(grid, p.ContactRadius, p.Population),
		rng:     rng,
		spawner: spawner,
		order:   make([]int, p.Population),
	}
	s.live = func(id int) bool { return s.Agents[id].Status == agents.Infectious }
	return s, nil
}

// Seed returns the seed the simulation was created with.
func (s *Simulation) Seed() int64 { return s.rng.Seed() }

// Census tallies the current population, labelled with the current day.
func (s *Simulation) Census() DailyCount {
	counts := agents.Count(s.Agents)
	return DailyCount{
		Day:         s.Day,
		Susceptible: counts[agents.Susceptible],
		Exposed:     counts[agents.Exposed],
		Infectious:  counts[agents.Infectious],
		Recovered:   counts[agents.Recovered],
	}
}

// Step simulates one day: relocate everyone, rebuild the index (freezing
// who is infectious), shuffle the update order, then apply the transition
// rule agent by agent. Later agents see earlier agents' new statuses in the
// store, but neighbourhood counts come from the frozen index.
func (s *Simulation) Step() StepStats {
	s.spawner.Relocate(s.Agents, s.Grid)
	s.Index.Rebuild(len(s.Agents), func(i int) (world.Coord, bool) {
		return s.Agents[i].Position, s.Agents[i].Status == agents.Infectious
	})

	for i := range s.order {
		s.order[i] = i
	}
	s.rng.Shuffle(s.order)

	var stats StepStats
	lambda := s.Params.ForceOfInfection
	for _, id := range s.order {
		a := &s.Agents[id]
		from := a.Status
		ni := 0
		if from == agents.Susceptible {
			ni = s.infectiousNeighbors(id)
		}
		if Advance(a, lambda, ni, s.rng) {
			stats.Transitions[from]++
		}
	}

	s.Day++
	return stats
}

func (s *Simulation) infectiousNeighbors(id int) int {
	if s.Params.Pressure == PressureLive {
		return s.Index.CountMatching(id, s.live)
	}
	return s.Index.CountFlagged(id)
}

// Run emits the remaining rows. Before each day's step the census is passed
// to record, so day d's row is the population at the start of day d and day
// 0 is the initial population. The step after the last row is never taken,
// so a run of Params.Days rows performs Params.Days-1 steps. There is no
// early stop: a run always covers Params.Days unless ctx is cancelled or
// record fails.
func (s *Simulation) Run(ctx context.Context, record func(DailyCount, StepStats) error) error {
	var last StepStats
	for s.recorded < s.Params.Days {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.recorded > s.Day {
			last = s.Step()
		}
		if err := record(s.Census(), last); err != nil {
			return err
		}
		s.recorded++
	}
	return nil
}
