package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/talgya/contagion/internal/engine"
)

func TestCollector_FollowsRunner(t *testing.T) {
	p := engine.DefaultParams()
	p.Population = 200
	p.GridSize = 10
	p.Days = 25
	p.InitialInfectious = 10

	c := NewCollector()
	r := &engine.Runner{Params: p, BaseSeed: 1000, Replications: 2, Workers: 2, Observers: []engine.Observer{c}}
	results, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := testutil.ToFloat64(c.days); got != 50 {
		t.Fatalf("days=%v want 50", got)
	}
	if got := testutil.ToFloat64(c.running); got != 0 {
		t.Fatalf("running=%v want 0", got)
	}
	if got := testutil.ToFloat64(c.outcomes.WithLabelValues("ok")); got != 2 {
		t.Fatalf("ok outcomes=%v want 2", got)
	}

	last := results[1].Days[p.Days-1]
	if got := testutil.ToFloat64(c.compartment.WithLabelValues("2", "S")); got != float64(last.Susceptible) {
		t.Fatalf("S gauge=%v want %d", got, last.Susceptible)
	}
	sum := 0.0
	for _, s := range []string{"S", "E", "I", "R"} {
		sum += testutil.ToFloat64(c.compartment.WithLabelValues("1", s))
	}
	if sum != float64(p.Population) {
		t.Fatalf("gauges sum to %v want %d", sum, p.Population)
	}
}

func TestCollector_FailedReplication(t *testing.T) {
	c := NewCollector()
	c.ReplicationStarted(0, 1000)
	c.ReplicationFinished(engine.ReplicationResult{Index: 0, Seed: 1000, Err: errors.New("disk full")})
	if got := testutil.ToFloat64(c.outcomes.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed=%v want 1", got)
	}
	if got := testutil.ToFloat64(c.running); got != 0 {
		t.Fatalf("running=%v want 0", got)
	}
}

func TestCollector_Transitions(t *testing.T) {
	c := NewCollector()
	var st engine.StepStats
	st.Transitions = [4]int{3, 2, 1, 0}
	c.DayRecorded(0, engine.DailyCount{Susceptible: 10}, st)
	if got := testutil.ToFloat64(c.transitions.WithLabelValues("exposure")); got != 3 {
		t.Fatalf("exposure=%v want 3", got)
	}
	if got := testutil.ToFloat64(c.transitions.WithLabelValues("recovery")); got != 1 {
		t.Fatalf("recovery=%v want 1", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.DayRecorded(0, engine.DailyCount{Susceptible: 10}, engine.StepStats{})
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "contagion_days_simulated_total 1") {
		t.Fatalf("metrics body missing counter:\n%s", body)
	}
}
