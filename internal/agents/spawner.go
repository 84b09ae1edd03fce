// Initial population: compartments, residence durations and positions.

package agents

import (
	"github.com/talgya/contagion/internal/entropy"
	"github.com/talgya/contagion/internal/world"
)

// SpawnConfig controls initial population generation.
type SpawnConfig struct {
	Population        int
	InitialInfectious int // the first InitialInfectious agents start Infectious
	Grid              world.Grid

	LatencyMean    float64
	InfectiousMean float64
	ImmunityMean   float64
}

// Spawner creates the agents of one run from that run's stream.
type Spawner struct {
	rng *entropy.Stream
}

// NewSpawner creates a spawner drawing from rng.
func NewSpawner(rng *entropy.Stream) *Spawner {
	return &Spawner{rng: rng}
}

// SpawnPopulation creates cfg.Population agents. Each agent draws, in order,
// its latency, infectious and immunity durations and then its position, so
// the stream is consumed identically whatever the initial status.
func (s *Spawner) SpawnPopulation(cfg SpawnConfig) []Agent {
	pop := make([]Agent, cfg.Population)
	for i := range pop {
		status := Susceptible
		if i < cfg.InitialInfectious {
			status = Infectious
		}
		pop[i] = Agent{
			Status:     status,
			Latency:    s.rng.NegExponential(cfg.LatencyMean),
			Infectious: s.rng.NegExponential(cfg.InfectiousMean),
			Immunity:   s.rng.NegExponential(cfg.ImmunityMean),
		}
		pop[i].Position = cfg.Grid.Random(s.rng)
	}
	return pop
}

// Relocate gives every agent a fresh uniform cell, independent of where it
// was. This is a mixing model, not a random walk.
func (s *Spawner) Relocate(pop []Agent, g world.Grid) {
	for i := range pop {
		pop[i].Position = g.Random(s.rng)
	}
}
