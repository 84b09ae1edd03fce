package engine

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/talgya/contagion/internal/entropy"
)

// ErrInvalidParams is wrapped by every parameter validation failure.
var ErrInvalidParams = errors.New("invalid simulation parameters")

// ParamError describes one rejected parameter.
type ParamError struct {
	Field  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ParamError) Unwrap() error { return ErrInvalidParams }

// PressureMode selects which agent statuses a neighbourhood count sees.
type PressureMode uint8

const (
	// PressureSnapshot counts agents that were Infectious when the day's
	// index was built. Agents turning Infectious during the pass start
	// contributing the next day.
	PressureSnapshot PressureMode = iota
	// PressureLive reads statuses from the store during the pass, as the C
	// and Python reference programs do. This is a behaviour change relative to
	// the snapshot rule and exists for cross-validation only.
	PressureLive
)

// String returns the configuration name of the mode.
func (m PressureMode) String() string {
	switch m {
	case PressureSnapshot:
		return "snapshot"
	case PressureLive:
		return "live"
	default:
		return fmt.Sprintf("pressure(%d)", uint8(m))
	}
}

// ParsePressureMode maps a configuration name to a PressureMode.
func ParsePressureMode(name string) (PressureMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "snapshot":
		return PressureSnapshot, nil
	case "live":
		return PressureLive, nil
	default:
		return 0, fmt.Errorf("unknown infection pressure mode %q", name)
	}
}

// Params fully determines a run together with its seed.
type Params struct {
	Population        int
	GridSize          int
	Days              int
	InitialInfectious int
	ContactRadius     int // 1 = Moore neighbourhood

	LatencyMean      float64 // days
	InfectiousMean   float64 // days
	ImmunityMean     float64 // days
	ForceOfInfection float64 // λ in p = 1 - exp(-λ·Ni)

	Pressure PressureMode
	RNG      entropy.Algorithm
}

// DefaultParams returns the reference model's constants.
func DefaultParams() Params {
	return Params{
		Population:        20000,
		GridSize:          300,
		Days:              730,
		InitialInfectious: 20,
		ContactRadius:     1,
		LatencyMean:       3,
		InfectiousMean:    7,
		ImmunityMean:      365,
		ForceOfInfection:  0.5,
		Pressure:          PressureSnapshot,
		RNG:               entropy.MT19937,
	}
}

// Validate rejects parameter sets that cannot produce a run. All problems are
// reported at once.
func (p Params) Validate() error {
	var errs []error
	reject := func(field, format string, args ...any) {
		errs = append(errs, &ParamError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if p.Population <= 0 {
		reject("population", "must be positive, got %d", p.Population)
	}
	if p.GridSize <= 0 {
		reject("grid_size", "must be positive, got %d", p.GridSize)
	}
	if p.Days <= 0 {
		reject("days", "must be positive, got %d", p.Days)
	}
	if p.ContactRadius <= 0 {
		reject("contact_radius", "must be positive, got %d", p.ContactRadius)
	} else if p.GridSize > 0 && 2*p.ContactRadius+1 > p.GridSize {
		reject("grid_size", "grid of side %d too small for contact radius %d", p.GridSize, p.ContactRadius)
	}
	switch {
	case p.InitialInfectious < 0:
		reject("initial_infectious", "must not be negative, got %d", p.InitialInfectious)
	case p.Population > 0 && p.InitialInfectious > p.Population:
		reject("initial_infectious", "%d exceeds population %d", p.InitialInfectious, p.Population)
	case p.GridSize > 0 && p.InitialInfectious > p.GridSize*p.GridSize:
		reject("initial_infectious", "grid of %d cells too small for %d initial infectious", p.GridSize*p.GridSize, p.InitialInfectious)
	}

	means := []struct {
		field string
		v     float64
	}{
		{"latency_mean", p.LatencyMean},
		{"infectious_mean", p.InfectiousMean},
		{"immunity_mean", p.ImmunityMean},
	}
	for _, m := range means {
		if !(m.v > 0) || math.IsInf(m.v, 0) {
			reject(m.field, "must be a positive finite number of days, got %v", m.v)
		}
	}
	if !(p.ForceOfInfection >= 0) || math.IsInf(p.ForceOfInfection, 0) {
		reject("force_of_infection", "must be a non-negative finite rate, got %v", p.ForceOfInfection)
	}
	if p.Pressure != PressureSnapshot && p.Pressure != PressureLive {
		reject("infection_pressure", "unknown mode %d", p.Pressure)
	}
	if p.RNG != entropy.MT19937 && p.RNG != entropy.PCG {
		reject("rng", "unknown algorithm %d", p.RNG)
	}
	return errors.Join(errs...)
}
