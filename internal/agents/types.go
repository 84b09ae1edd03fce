// Package agents provides the agent record and the initial population.
// An agent's identifier is its position in the population slice; the slice
// is created once per run and never grows or shrinks.
package agents

import (
	"fmt"

	"github.com/talgya/contagion/internal/world"
)

// Status is an agent's epidemiological compartment.
type Status uint8

const (
	Susceptible Status = iota
	Exposed
	Infectious
	Recovered
)

// NumStatuses is the number of compartments.
const NumStatuses = 4

// String returns the compartment name.
func (s Status) String() string {
	switch s {
	case Susceptible:
		return "Susceptible"
	case Exposed:
		return "Exposed"
	case Infectious:
		return "Infectious"
	case Recovered:
		return "Recovered"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Letter returns the one-letter column name used in reports.
func (s Status) Letter() string {
	switch s {
	case Susceptible:
		return "S"
	case Exposed:
		return "E"
	case Infectious:
		return "I"
	case Recovered:
		return "R"
	default:
		return "?"
	}
}

// Next returns the compartment that follows s in the SEIRS cycle.
func (s Status) Next() Status {
	return (s + 1) % NumStatuses
}

// Agent is one simulated individual.
type Agent struct {
	Status       Status `json:"status"`
	TimeInStatus int    `json:"time_in_status"` // days since the last status change

	// Residence durations in days, drawn once at creation.
	Latency    float64 `json:"latency"`    // Exposed → Infectious
	Infectious float64 `json:"infectious"` // Infectious → Recovered
	Immunity   float64 `json:"immunity"`   // Recovered → Susceptible

	Position world.Coord `json:"position"`
}

// SetStatus moves the agent to s and restarts its counter.
func (a *Agent) SetStatus(s Status) {
	a.Status = s
	a.TimeInStatus = 0
}

// Residence returns how long the agent stays in its current status before
// leaving it on its own. Susceptible agents only leave through exposure, so
// their residence is reported as zero.
func (a *Agent) Residence() float64 {
	switch a.Status {
	case Exposed:
		return a.Latency
	case Infectious:
		return a.Infectious
	case Recovered:
		return a.Immunity
	default:
		return 0
	}
}

// Count tallies the population per status.
func Count(pop []Agent) [NumStatuses]int {
	var counts [NumStatuses]int
	for i := range pop {
		counts[pop[i].Status]++
	}
	return counts
}
