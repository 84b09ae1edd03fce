// Package api provides the HTTP API for observing a run while it executes.
// All endpoints are read-only. The live stream is a WebSocket carrying JSON
// events; it is rate limited per client and capped in connections.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/contagion/internal/persistence"
)

const (
	maxStreamConns = 16
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
)

// Server serves run progress over HTTP.
type Server struct {
	Tracker *Tracker
	Metrics http.Handler    // optional /metrics handler
	DB      *persistence.DB // optional; enables the runs endpoints
	Addr    string

	StreamLimiter *RateLimiter // nil = 30 connections per minute per IP

	streamConns atomic.Int32
	upgrader    websocket.Upgrader
}

// Handler builds the request router.
func (s *Server) Handler() http.Handler {
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	limiter := s.StreamLimiter
	if limiter == nil {
		limiter = NewRateLimiter(30, time.Minute)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/replications", s.handleReplications)
	mux.HandleFunc("GET /api/v1/replications/{k}", s.handleReplicationDetail)
	mux.HandleFunc("GET /api/v1/runs", s.handleRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleRunDetail)
	mux.HandleFunc("GET /api/v1/runs/{id}/replications/{k}", s.handleStoredReplication)
	mux.HandleFunc("GET /api/v1/stream", RateLimitMiddleware(limiter, s.handleStream))
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics)
	}
	return corsMiddleware(mux)
}

// Start serves the API until ctx is cancelled. Listener errors are logged.
func (s *Server) Start(ctx context.Context) {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", s.Addr, "metrics", s.Metrics != nil, "results_db", s.DB != nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// corsMiddleware adds CORS headers for allowed dashboard origins.
// CONTAGION_CORS_ORIGINS holds a comma-separated list; localhost dev servers
// are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CONTAGION_CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	t := s.Tracker
	statuses := t.Statuses()
	done, failed, daysRecorded := 0, 0, 0
	for _, st := range statuses {
		switch st.State {
		case StateComplete:
			done++
		case StateFailed:
			failed++
		}
		daysRecorded += st.Days
	}

	status := map[string]any{
		"run_id":             t.RunID,
		"started_at":         t.StartedAt.Format(time.RFC3339),
		"uptime_seconds":     int(time.Since(t.StartedAt).Seconds()),
		"base_seed":          t.BaseSeed,
		"replications":       len(statuses),
		"complete":           done,
		"failed":             failed,
		"days_recorded":      daysRecorded,
		"population":         t.Params.Population,
		"grid_size":          t.Params.GridSize,
		"days":               t.Params.Days,
		"initial_infectious": t.Params.InitialInfectious,
		"contact_radius":     t.Params.ContactRadius,
		"force_of_infection": t.Params.ForceOfInfection,
		"infection_pressure": t.Params.Pressure.String(),
		"rng":                t.Params.RNG.String(),
	}
	writeJSON(w, status)
}

func (s *Server) handleReplications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Tracker.Statuses())
}

func (s *Server) handleReplicationDetail(w http.ResponseWriter, r *http.Request) {
	k, err := strconv.Atoi(r.PathValue("k"))
	if err != nil {
		http.Error(w, "invalid replication number", http.StatusBadRequest)
		return
	}
	st, days, ok := s.Tracker.Replication(k)
	if !ok {
		http.Error(w, "replication not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"status": st, "days": days})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "results database disabled", http.StatusNotFound)
		return
	}
	runs, err := s.DB.Runs(r.Context())
	if err != nil {
		slog.Error("list runs", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "results database disabled", http.StatusNotFound)
		return
	}
	run, err := s.DB.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, persistence.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("get run", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleStoredReplication(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "results database disabled", http.StatusNotFound)
		return
	}
	k, err := strconv.Atoi(r.PathValue("k"))
	if err != nil || k < 1 {
		http.Error(w, "invalid replication number", http.StatusBadRequest)
		return
	}
	days, err := s.DB.LoadDailyCounts(r.Context(), r.PathValue("id"), k-1)
	if err != nil {
		slog.Error("load daily counts", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(days) == 0 {
		http.Error(w, "replication not found", http.StatusNotFound)
		return
	}
	writeJSON(w, days)
}

// handleStream upgrades to a WebSocket, sends a snapshot of all
// replications and then every tracker event until either side closes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	current := s.streamConns.Add(1)
	defer s.streamConns.Add(-1)
	if current > maxStreamConns {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	subID, events := s.Tracker.Subscribe()
	defer s.Tracker.Unsubscribe(subID)

	snap, err := s.Tracker.Snapshot()
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, snap); err != nil {
		return
	}

	// Reader: the stream is one-way, so only control frames and close
	// detection matter.
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case b, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
