package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/contagion/internal/engine"
	"github.com/talgya/contagion/internal/metrics"
	"github.com/talgya/contagion/internal/persistence"
)

func smallParams() engine.Params {
	p := engine.DefaultParams()
	p.Population = 150
	p.GridSize = 10
	p.Days = 20
	p.InitialInfectious = 5
	return p
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestTracker_FollowsRunner(t *testing.T) {
	p := smallParams()
	tr := NewTracker("run-1", p, 1000, 3)
	r := &engine.Runner{Params: p, BaseSeed: 1000, Replications: 3, Workers: 3, Observers: []engine.Observer{tr}}
	results, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, st := range tr.Statuses() {
		if st.State != StateComplete || st.Days != p.Days || st.Latest == nil {
			t.Fatalf("status=%+v", st)
		}
	}
	st, days, ok := tr.Replication(2)
	if !ok || st.Seed != 1001 || len(days) != p.Days {
		t.Fatalf("replication 2: ok=%v status=%+v days=%d", ok, st, len(days))
	}
	for d := range days {
		if days[d] != results[1].Days[d] {
			t.Fatalf("day %d: %+v vs %+v", d, days[d], results[1].Days[d])
		}
	}
	if _, _, ok := tr.Replication(4); ok {
		t.Fatalf("replication 4 should not exist")
	}
}

func TestTracker_FailedReplication(t *testing.T) {
	tr := NewTracker("run-1", smallParams(), 7, 1)
	tr.ReplicationStarted(0, 7)
	tr.ReplicationFinished(engine.ReplicationResult{Index: 0, Seed: 7, Err: errors.New("disk full")})
	st := tr.Statuses()[0]
	if st.State != StateFailed || st.Error != "disk full" {
		t.Fatalf("status=%+v", st)
	}
}

func TestServer_Endpoints(t *testing.T) {
	p := smallParams()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	run, err := db.StartRun(context.Background(), p, 1000, 2)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	tr := NewTracker(run.ID, p, 1000, 2)
	collector := metrics.NewCollector()
	r := &engine.Runner{
		Params: p, BaseSeed: 1000, Replications: 2,
		Sinks:     []engine.Sink{run},
		Observers: []engine.Observer{tr, collector},
	}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	s := &Server{Tracker: tr, Metrics: collector.Handler(), DB: db}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var status map[string]any
	if code := getJSON(t, srv.URL+"/api/v1/status", &status); code != http.StatusOK {
		t.Fatalf("status code=%d", code)
	}
	if status["run_id"] != run.ID || status["complete"].(float64) != 2 || status["rng"] != "mt19937" {
		t.Fatalf("status=%v", status)
	}

	var detail struct {
		Status ReplicationStatus   `json:"status"`
		Days   []engine.DailyCount `json:"days"`
	}
	if code := getJSON(t, srv.URL+"/api/v1/replications/1", &detail); code != http.StatusOK {
		t.Fatalf("detail code=%d", code)
	}
	if detail.Status.Number != 1 || len(detail.Days) != p.Days || detail.Days[0].Total() != p.Population {
		t.Fatalf("detail=%+v", detail.Status)
	}
	if code := getJSON(t, srv.URL+"/api/v1/replications/9", nil); code != http.StatusNotFound {
		t.Fatalf("missing replication code=%d", code)
	}
	if code := getJSON(t, srv.URL+"/api/v1/replications/x", nil); code != http.StatusBadRequest {
		t.Fatalf("bad replication code=%d", code)
	}

	var runs []persistence.RunRecord
	if code := getJSON(t, srv.URL+"/api/v1/runs", &runs); code != http.StatusOK || len(runs) != 1 {
		t.Fatalf("runs code=%d len=%d", code, len(runs))
	}
	var stored []engine.DailyCount
	if code := getJSON(t, srv.URL+"/api/v1/runs/"+run.ID+"/replications/2", &stored); code != http.StatusOK {
		t.Fatalf("stored code=%d", code)
	}
	if len(stored) != p.Days {
		t.Fatalf("stored days=%d want %d", len(stored), p.Days)
	}
	if code := getJSON(t, srv.URL+"/api/v1/runs/unknown", nil); code != http.StatusNotFound {
		t.Fatalf("unknown run code=%d", code)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics code=%d", resp.StatusCode)
	}
}

func TestServer_RunsWithoutDatabase(t *testing.T) {
	s := &Server{Tracker: NewTracker("r", smallParams(), 1, 1)}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	if code := getJSON(t, srv.URL+"/api/v1/runs", nil); code != http.StatusNotFound {
		t.Fatalf("code=%d want 404", code)
	}
	if code := getJSON(t, srv.URL+"/metrics", nil); code != http.StatusNotFound {
		t.Fatalf("metrics without collector code=%d want 404", code)
	}
}

func TestServer_Stream(t *testing.T) {
	tr := NewTracker("run-1", smallParams(), 1000, 2)
	s := &Server{Tracker: tr}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() Event {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		return ev
	}

	snap := read()
	if snap.Type != "snapshot" || len(snap.Replications) != 2 || snap.Replications[0].State != StatePending {
		t.Fatalf("snapshot=%+v", snap)
	}

	tr.ReplicationStarted(1, 1001)
	tr.DayRecorded(1, engine.DailyCount{Day: 0, Susceptible: 145, Infectious: 5}, engine.StepStats{})
	tr.ReplicationFinished(engine.ReplicationResult{Index: 1, Seed: 1001})

	started := read()
	if started.Type != "started" || started.Replication != 2 || started.Seed != 1001 {
		t.Fatalf("started=%+v", started)
	}
	day := read()
	if day.Type != "day" || day.Count == nil || day.Count.Susceptible != 145 {
		t.Fatalf("day=%+v", day)
	}
	if fin := read(); fin.Type != "finished" || fin.Error != "" {
		t.Fatalf("finished=%+v", fin)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	h := RateLimitMiddleware(rl, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h(rec, req)
		codes[i] = rec.Code
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Fatalf("429 without Retry-After")
		}
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes=%v", codes)
	}

	// A different client has its own budget.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil)
	req.Header.Set("X-Forwarded-For", "192.168.1.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("forwarded client code=%d", rec.Code)
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	if !rl.Allow("a") || rl.Allow("a") {
		t.Fatalf("expected one request per window")
	}
	if got := rl.RetryAfter("a"); got != 61 {
		t.Fatalf("retry after=%d want 61", got)
	}
	now = now.Add(time.Minute)
	if !rl.Allow("a") {
		t.Fatalf("window did not reset")
	}
}

func TestTracker_IgnoresUnknownReplications(t *testing.T) {
	tr := NewTracker("run-1", smallParams(), 1000, 1)
	_, events := tr.Subscribe()
	tr.ReplicationStarted(3, 1003)
	tr.DayRecorded(-1, engine.DailyCount{Susceptible: 150}, engine.StepStats{})
	tr.ReplicationFinished(engine.ReplicationResult{Index: 1, Seed: 1001})

	if st := tr.Statuses(); len(st) != 1 || st[0].State != StatePending || st[0].Days != 0 {
		t.Fatalf("statuses=%+v", st)
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s", ev)
	default:
	}
}
