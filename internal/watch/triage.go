package watch

import (
	"github.com/talgya/contagion/internal/engine"
)

// Phases of an epidemic curve.
const (
	PhaseSeeding   = "SEEDING"
	PhaseGrowing   = "GROWING"
	PhaseDeclining = "DECLINING"
	PhaseEndemic   = "ENDEMIC"
	PhaseExtinct   = "EXTINCT"
)

// trendWindow is how many days back a trend compares against.
const trendWindow = 7

// Curve follows one replication's daily counts and derives diagnostics.
// Runs on the client, deterministic from the stream alone.
type Curve struct {
	PeakInfectious int
	PeakDay        int
	ExtinctDay     int // -1 while E+I > 0
	Phase          string

	recent []int // last trendWindow+1 infectious counts, oldest first
}

// NewCurve returns a curve with no observations.
func NewCurve() *Curve {
	return &Curve{ExtinctDay: -1, Phase: PhaseSeeding}
}

// Observe records one census and reports whether the phase changed.
func (c *Curve) Observe(d engine.DailyCount) bool {
	if d.Infectious > c.PeakInfectious {
		c.PeakInfectious = d.Infectious
		c.PeakDay = d.Day
	}
	c.recent = append(c.recent, d.Infectious)
	if len(c.recent) > trendWindow+1 {
		c.recent = c.recent[1:]
	}

	prev := c.Phase
	switch {
	case d.Exposed+d.Infectious == 0:
		if c.ExtinctDay < 0 {
			c.ExtinctDay = d.Day
		}
		c.Phase = PhaseExtinct
	case len(c.recent) <= trendWindow:
		// Too early for a trend.
	default:
		c.ExtinctDay = -1
		c.Phase = trend(c.recent[0], c.recent[len(c.recent)-1])
	}
	return c.Phase != prev
}

// trend classifies the change from then to now. Changes within 10% of the
// earlier value count as endemic.
func trend(then, now int) string {
	band := then / 10
	if band < 1 {
		band = 1
	}
	switch {
	case now > then+band:
		return PhaseGrowing
	case now < then-band:
		return PhaseDeclining
	default:
		return PhaseEndemic
	}
}
