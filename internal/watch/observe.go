// Package watch is a client for the observation API. It polls run status
// and follows the live WebSocket stream.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/contagion/internal/api"
)

// RunStatus mirrors GET /api/v1/status.
type RunStatus struct {
	RunID             string  `json:"run_id"`
	StartedAt         string  `json:"started_at"`
	UptimeSeconds     int     `json:"uptime_seconds"`
	BaseSeed          int64   `json:"base_seed"`
	Replications      int     `json:"replications"`
	Complete          int     `json:"complete"`
	Failed            int     `json:"failed"`
	DaysRecorded      int     `json:"days_recorded"`
	Population        int     `json:"population"`
	GridSize          int     `json:"grid_size"`
	Days              int     `json:"days"`
	InitialInfectious int     `json:"initial_infectious"`
	ContactRadius     int     `json:"contact_radius"`
	ForceOfInfection  float64 `json:"force_of_infection"`
	InfectionPressure string  `json:"infection_pressure"`
	RNG               string  `json:"rng"`
}

// Done reports whether every replication has finished.
func (s RunStatus) Done() bool { return s.Complete+s.Failed >= s.Replications }

// Snapshot holds one observation of a run.
type Snapshot struct {
	Status       RunStatus               `json:"status"`
	Replications []api.ReplicationStatus `json:"replications"`
}

// Client fetches run state from the API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// NewClient creates a Client targeting the given API base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		Dialer: websocket.DefaultDialer,
	}
}

// Observe fetches the status and replication endpoints.
func (c *Client) Observe(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	if err := c.fetchJSON(ctx, "/api/v1/status", &snap.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	if err := c.fetchJSON(ctx, "/api/v1/replications", &snap.Replications); err != nil {
		return nil, fmt.Errorf("fetch replications: %w", err)
	}
	return snap, nil
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (c *Client) fetchJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// streamURL maps http(s)://host to ws(s)://host/api/v1/stream.
func (c *Client) streamURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/stream"
	return u.String(), nil
}

// Follow reads stream events and passes each to handle until ctx is
// cancelled, the server closes the stream, or handle returns an error.
// A normal close returns nil.
func (c *Client) Follow(ctx context.Context, handle func(api.Event) error) error {
	target, err := c.streamURL()
	if err != nil {
		return err
	}
	conn, _, err := c.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		var ev api.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		if err := handle(ev); err != nil {
			return err
		}
	}
}
