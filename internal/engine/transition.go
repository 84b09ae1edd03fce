package engine

import (
	"math"

	"github.com/talgya/contagion/internal/agents"
)

// UniformSource yields uniform draws in [0, 1).
type UniformSource interface {
	Uniform() float64
}

// InfectionProbability is the daily chance that a susceptible agent with
// infectiousNeighbors infectious neighbours becomes exposed: 1 - exp(-λ·Ni).
func InfectionProbability(lambda float64, infectiousNeighbors int) float64 {
	if infectiousNeighbors <= 0 {
		return 0
	}
	return 1.0 - math.Exp(-lambda*float64(infectiousNeighbors))
}

// Advance applies one day of the SEIRS rule to a. The counter is incremented
// first; then a susceptible agent with infectious neighbours is exposed with
// InfectionProbability, and any other agent moves on once its counter reaches
// its own residence duration. A uniform is drawn only for susceptible agents
// with at least one infectious neighbour. Reports whether the status changed.
func Advance(a *agents.Agent, lambda float64, infectiousNeighbors int, rng UniformSource) bool {
	a.TimeInStatus++

	switch a.Status {
	case agents.Susceptible:
		if infectiousNeighbors == 0 {
			return false
		}
		if rng.Uniform() < InfectionProbability(lambda, infectiousNeighbors) {
			a.SetStatus(agents.Exposed)
			return true
		}
	case agents.Exposed, agents.Infectious, agents.Recovered:
		if float64(a.TimeInStatus) >= a.Residence() {
			a.SetStatus(a.Status.Next())
			return true
		}
	}
	return false
}
