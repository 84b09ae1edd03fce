package agents

import (
	"testing"

	"github.com/talgya/contagion/internal/entropy"
	"github.com/talgya/contagion/internal/world"
)

func testSpawnConfig() SpawnConfig {
	return SpawnConfig{
		Population:        500,
		InitialInfectious: 7,
		Grid:              world.NewGrid(20),
		LatencyMean:       3,
		InfectiousMean:    7,
		ImmunityMean:      365,
	}
}

func TestSpawnPopulation_InitialCompartments(t *testing.T) {
	rng, _ := entropy.New(entropy.MT19937, 1000)
	pop := NewSpawner(rng).SpawnPopulation(testSpawnConfig())

	if len(pop) != 500 {
		t.Fatalf("len=%d want 500", len(pop))
	}
	for i, a := range pop {
		want := Susceptible
		if i < 7 {
			want = Infectious
		}
		if a.Status != want {
			t.Fatalf("agent %d status=%s want %s", i, a.Status, want)
		}
		if a.TimeInStatus != 0 {
			t.Fatalf("agent %d starts with time %d", i, a.TimeInStatus)
		}
		if a.Latency <= 0 || a.Infectious <= 0 || a.Immunity <= 0 {
			t.Fatalf("agent %d has non-positive duration: %+v", i, a)
		}
		if !world.NewGrid(20).Contains(a.Position) {
			t.Fatalf("agent %d off grid at %v", i, a.Position)
		}
	}
	counts := Count(pop)
	if counts[Infectious] != 7 || counts[Susceptible] != 493 {
		t.Fatalf("counts=%v", counts)
	}
}

func TestSpawnPopulation_DurationsVaryPerAgent(t *testing.T) {
	rng, _ := entropy.New(entropy.MT19937, 5)
	pop := NewSpawner(rng).SpawnPopulation(testSpawnConfig())
	distinct := map[float64]bool{}
	for _, a := range pop {
		distinct[a.Latency] = true
	}
	if len(distinct) < len(pop)/2 {
		t.Fatalf("only %d distinct latencies across %d agents", len(distinct), len(pop))
	}
}

func TestSpawnPopulation_Reproducible(t *testing.T) {
	a, _ := entropy.New(entropy.PCG, 99)
	b, _ := entropy.New(entropy.PCG, 99)
	p1 := NewSpawner(a).SpawnPopulation(testSpawnConfig())
	p2 := NewSpawner(b).SpawnPopulation(testSpawnConfig())
	for i := range p1 {
		if p1[i] != p2[i] {
			t.Fatalf("agent %d differs: %+v vs %+v", i, p1[i], p2[i])
		}
	}
}

func TestRelocate_StaysOnGrid(t *testing.T) {
	rng, _ := entropy.New(entropy.MT19937, 11)
	sp := NewSpawner(rng)
	cfg := testSpawnConfig()
	pop := sp.SpawnPopulation(cfg)
	before := make([]world.Coord, len(pop))
	for i := range pop {
		before[i] = pop[i].Position
	}
	sp.Relocate(pop, cfg.Grid)
	moved := 0
	for i := range pop {
		if !cfg.Grid.Contains(pop[i].Position) {
			t.Fatalf("agent %d off grid at %v", i, pop[i].Position)
		}
		if pop[i].Position != before[i] {
			moved++
		}
	}
	if moved < len(pop)/2 {
		t.Fatalf("only %d of %d agents moved", moved, len(pop))
	}
}

func TestStatus_CycleAndNames(t *testing.T) {
	s := Susceptible
	letters := ""
	for i := 0; i < NumStatuses; i++ {
		letters += s.Letter()
		s = s.Next()
	}
	if letters != "SEIR" || s != Susceptible {
		t.Fatalf("cycle=%q ends at %s", letters, s)
	}
}

func TestAgent_SetStatusResetsCounter(t *testing.T) {
	a := Agent{Status: Exposed, TimeInStatus: 4, Latency: 2, Infectious: 5}
	if a.Residence() != 2 {
		t.Fatalf("exposed residence=%v", a.Residence())
	}
	a.SetStatus(Infectious)
	if a.TimeInStatus != 0 || a.Residence() != 5 {
		t.Fatalf("after SetStatus: %+v", a)
	}
}
