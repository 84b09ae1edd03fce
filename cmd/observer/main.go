// Command observer follows a running contagion instance through its
// observation API and logs how each replication's epidemic curve develops.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/contagion/internal/api"
	"github.com/talgya/contagion/internal/watch"
)

// errRunDone ends the stream once every replication has finished.
var errRunDone = errors.New("run finished")

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	apiURL := envOrDefault("CONTAGION_API_URL", "http://localhost:8080")
	slog.Info("contagion observer starting", "api_url", apiURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("waiting for contagion API...")
	if err := waitForAPI(ctx, apiURL); err != nil {
		slog.Error("API not reachable", "error", err)
		os.Exit(1)
	}

	client := watch.NewClient(apiURL)
	snap, err := client.Observe(ctx)
	if err != nil {
		slog.Error("observation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("run observed",
		"run_id", snap.Status.RunID,
		"replications", snap.Status.Replications,
		"population", humanize.Comma(int64(snap.Status.Population)),
		"days", snap.Status.Days,
		"pressure", snap.Status.InfectionPressure,
		"rng", snap.Status.RNG,
	)
	if snap.Status.Done() {
		slog.Info("run already finished", "complete", snap.Status.Complete, "failed", snap.Status.Failed)
		return
	}

	f := newFollower()
	err = client.Follow(ctx, f.handle)
	switch {
	case errors.Is(err, errRunDone):
		slog.Info("all replications finished", "complete", f.complete, "failed", f.failed)
	case err != nil:
		slog.Error("stream failed", "error", err)
		os.Exit(1)
	default:
		fmt.Println("Observer stopped.")
	}
}

// follower keeps one curve per replication.
type follower struct {
	curves   map[int]*watch.Curve
	total    int
	complete int
	failed   int
}

func newFollower() *follower {
	return &follower{curves: make(map[int]*watch.Curve)}
}

func (f *follower) handle(ev api.Event) error {
	switch ev.Type {
	case "snapshot":
		f.total = len(ev.Replications)
		for _, st := range ev.Replications {
			switch st.State {
			case api.StateComplete:
				f.complete++
			case api.StateFailed:
				f.failed++
			}
		}
	case "started":
		f.curves[ev.Replication] = watch.NewCurve()
		slog.Info("replication started", "replication", ev.Replication, "seed", ev.Seed)
	case "day":
		c, ok := f.curves[ev.Replication]
		if !ok {
			// Joined mid-replication.
			c = watch.NewCurve()
			f.curves[ev.Replication] = c
		}
		if ev.Count != nil && c.Observe(*ev.Count) {
			slog.Info("phase change",
				"replication", ev.Replication,
				"day", ev.Count.Day,
				"phase", c.Phase,
				"exposed", ev.Count.Exposed,
				"infectious", ev.Count.Infectious,
			)
		}
	case "finished":
		if ev.Error != "" {
			f.failed++
			slog.Warn("replication failed", "replication", ev.Replication, "error", ev.Error)
		} else {
			f.complete++
			if c, ok := f.curves[ev.Replication]; ok {
				slog.Info("replication finished",
					"replication", ev.Replication,
					"peak_infectious", c.PeakInfectious,
					"peak_day", c.PeakDay,
					"extinct_day", c.ExtinctDay,
					"final_phase", c.Phase,
				)
			}
		}
		delete(f.curves, ev.Replication)
		if f.total > 0 && f.complete+f.failed >= f.total {
			return errRunDone
		}
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// waitForAPI polls the status endpoint with exponential backoff until it
// responds. Gives up after 5 minutes.
func waitForAPI(ctx context.Context, apiURL string) error {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second
	deadline := time.Now().Add(5 * time.Minute)

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/api/v1/status", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				slog.Info("contagion API is ready")
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("API did not become ready within 5 minutes")
		}
		slog.Info("contagion API not ready, retrying...", "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
