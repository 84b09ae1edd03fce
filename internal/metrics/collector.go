// Package metrics exports replication progress as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/contagion/internal/agents"
	"github.com/talgya/contagion/internal/engine"
)

const namespace = "contagion"

// Collector is an engine.Observer that records progress on its own
// registry. Prometheus metric types are safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	days        prometheus.Counter
	running     prometheus.Gauge
	compartment *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	duration    prometheus.Histogram
}

// transitionLabels is indexed by the status an agent leaves.
var transitionLabels = [agents.NumStatuses]string{"exposure", "onset", "recovery", "waning"}

// NewCollector creates the metrics and registers them with a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		days: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "days_simulated_total",
			Help:      "Simulated days across all replications.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replications_running",
			Help:      "Replications currently simulating.",
		}),
		compartment: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "compartment_agents",
			Help:      "Agents per status in the latest census of each replication.",
		}, []string{"replication", "status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Status transitions by kind.",
		}, []string{"kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replications_total",
			Help:      "Finished replications by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "replication_duration_seconds",
			Help:      "Wall time of finished replications.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
	c.registry.MustRegister(c.days, c.running, c.compartment, c.transitions, c.outcomes, c.duration)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ReplicationStarted(int, int64) {
	c.running.Inc()
}

func (c *Collector) DayRecorded(index int, count engine.DailyCount, stats engine.StepStats) {
	c.days.Inc()
	rep := strconv.Itoa(index + 1)
	c.compartment.WithLabelValues(rep, "S").Set(float64(count.Susceptible))
	c.compartment.WithLabelValues(rep, "E").Set(float64(count.Exposed))
	c.compartment.WithLabelValues(rep, "I").Set(float64(count.Infectious))
	c.compartment.WithLabelValues(rep, "R").Set(float64(count.Recovered))
	for from, n := range stats.Transitions {
		if n > 0 {
			c.transitions.WithLabelValues(transitionLabels[from]).Add(float64(n))
		}
	}
}

func (c *Collector) ReplicationFinished(res engine.ReplicationResult) {
	c.running.Dec()
	if res.Err != nil {
		c.outcomes.WithLabelValues("failed").Inc()
		return
	}
	c.outcomes.WithLabelValues("ok").Inc()
	c.duration.Observe(res.Elapsed.Seconds())
}
