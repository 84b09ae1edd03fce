// Package report renders epidemic curves for finished replications.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/talgya/contagion/internal/blob"
	"github.com/talgya/contagion/internal/engine"
)

// Default image size in pixels.
const (
	DefaultWidth  = 1024
	DefaultHeight = 512
)

var compartmentColors = [4]drawing.Color{
	{R: 31, G: 119, B: 180, A: 255}, // S
	{R: 255, G: 165, B: 0, A: 255},  // E
	chart.ColorRed,                  // I
	chart.ColorGreen,                // R
}

var compartmentNames = [4]string{"Susceptible", "Exposed", "Infectious", "Recovered"}

// ChartKey names the curve image for a 1-based replication number.
func ChartKey(number int) string {
	return fmt.Sprintf("replication_%d.png", number)
}

// RenderCurves draws S, E, I and R against day as a PNG.
func RenderCurves(w io.Writer, title string, days []engine.DailyCount, width, height int) error {
	if len(days) == 0 {
		return fmt.Errorf("no days to plot")
	}
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}

	xs := make([]float64, len(days))
	ys := make([][]float64, 4)
	for c := range ys {
		ys[c] = make([]float64, len(days))
	}
	for i, d := range days {
		xs[i] = float64(d.Day)
		ys[0][i] = float64(d.Susceptible)
		ys[1][i] = float64(d.Exposed)
		ys[2][i] = float64(d.Infectious)
		ys[3][i] = float64(d.Recovered)
	}

	series := make([]chart.Series, 0, 4)
	for c := range ys {
		series = append(series, chart.ContinuousSeries{
			Name:    compartmentNames[c],
			XValues: xs,
			YValues: ys[c],
			Style: chart.Style{
				StrokeColor: compartmentColors[c],
				StrokeWidth: 2.0,
			},
		})
	}

	// Fixed ranges keep single-day runs drawable.
	xMax := xs[len(xs)-1]
	if xMax < 1 {
		xMax = 1
	}
	graph := chart.Chart{
		Title:  title,
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:  "Day",
			Range: &chart.ContinuousRange{Min: 0, Max: xMax},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%d", int(v.(float64)))
			},
		},
		YAxis: chart.YAxis{
			Name:  "Agents",
			Range: &chart.ContinuousRange{Min: 0, Max: float64(days[0].Total())},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%d", int(v.(float64)))
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// ChartSink stores one curve image per replication.
type ChartSink struct {
	Store  blob.Store
	Width  int
	Height int
}

func (s *ChartSink) Name() string { return "chart" }

func (s *ChartSink) WriteReplication(ctx context.Context, res engine.ReplicationResult) error {
	var buf bytes.Buffer
	title := fmt.Sprintf("Replication %d (seed %d)", res.Number(), res.Seed)
	if err := RenderCurves(&buf, title, res.Days, s.Width, s.Height); err != nil {
		return err
	}
	key := ChartKey(res.Number())
	if _, err := s.Store.Put(ctx, key, bytes.NewReader(buf.Bytes()), blob.PutOptions{ContentType: "image/png"}); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}
