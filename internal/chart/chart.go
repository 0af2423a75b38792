// Package chart draws the three PNG charts embedded in the energy report.
package chart

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"go.uber.org/zap"

	"github.com/TobiSchelling/energyreport/internal/energy"
)

// Chart file names, referenced by the report template and by mail Content-IDs.
const (
	EnergyFile = "charged_vs_drained_plot.png"
	StressFile = "stress_level.png"
	SleepFile  = "sleep_statistics.png"
)

// Set lists the paths of one run's rendered charts.
type Set struct {
	Energy string
	Stress string
	Sleep  string
}

// Paths returns the chart paths in report order.
func (s Set) Paths() []string {
	return []string{s.Energy, s.Stress, s.Sleep}
}

var (
	colorPositive = drawing.Color{R: 46, G: 160, B: 67, A: 255}
	colorNegative = drawing.Color{R: 214, G: 39, B: 40, A: 255}
)

// Renderer writes charts into an output directory.
type Renderer struct {
	dir    string
	width  int
	height int
	logger *zap.Logger
}

// NewRenderer creates a chart renderer writing into dir.
func NewRenderer(dir string, width, height int, logger *zap.Logger) *Renderer {
	if width <= 0 {
		width = 1000
	}
	if height <= 0 {
		height = 600
	}
	return &Renderer{dir: dir, width: width, height: height, logger: logger}
}

// Render draws the energy, stress and sleep charts for records.
func (r *Renderer) Render(records []energy.DailyRecord) (Set, error) {
	if len(records) == 0 {
		return Set{}, energy.ErrEmptyWindow
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return Set{}, fmt.Errorf("creating chart directory: %w", err)
	}

	dates := make([]time.Time, len(records))
	for i, rec := range records {
		dates[i] = rec.Date
	}
	pick := func(f func(energy.DailyRecord) int) []float64 {
		out := make([]float64, len(records))
		for i, rec := range records {
			out[i] = float64(f(rec))
		}
		return out
	}

	markers := dayMarkers(records)

	set := Set{
		Energy: filepath.Join(r.dir, EnergyFile),
		Stress: filepath.Join(r.dir, StressFile),
		Sleep:  filepath.Join(r.dir, SleepFile),
	}

	plots := []struct {
		path   string
		title  string
		yName  string
		series []line
	}{
		{set.Energy, "Charged vs Drained", "Value", []line{
			{"Charged", pick(func(d energy.DailyRecord) int { return d.Charged })},
			{"Drained", pick(func(d energy.DailyRecord) int { return d.Drained })},
		}},
		{set.Stress, "Stress Level Statistics", "Stress Level", []line{
			{"Average Stress Level", pick(func(d energy.DailyRecord) int { return d.AvgStressLevel })},
			{"Max Stress Level", pick(func(d energy.DailyRecord) int { return d.MaxStressLevel })},
		}},
		{set.Sleep, "Sleep Statistics", "Sleep Statistics (Seconds)", []line{
			{"Sleep Seconds", pick(func(d energy.DailyRecord) int { return d.SleepSeconds })},
			{"Deep Sleep Seconds", pick(func(d energy.DailyRecord) int { return d.DeepSleepSeconds })},
			{"Light Sleep Seconds", pick(func(d energy.DailyRecord) int { return d.LightSleepSeconds })},
			{"REM Sleep Seconds", pick(func(d energy.DailyRecord) int { return d.RemSleepSeconds })},
			{"Awake Sleep Seconds", pick(func(d energy.DailyRecord) int { return d.AwakeSleepSeconds })},
		}},
	}

	for _, p := range plots {
		if err := r.draw(p.path, p.title, p.yName, dates, p.series, markers); err != nil {
			return Set{}, err
		}
	}
	return set, nil
}

type line struct {
	name   string
	values []float64
}

// marker series flag each day green (positive) or red (negative) at the
// height of its larger energy value.
type markerSeries struct {
	name   string
	color  drawing.Color
	dates  []time.Time
	values []float64
}

func dayMarkers(records []energy.DailyRecord) []markerSeries {
	pos := markerSeries{name: "Positive day", color: colorPositive}
	neg := markerSeries{name: "Negative day", color: colorNegative}
	for _, rec := range records {
		height := float64(max(rec.Charged, rec.Drained))
		if rec.Negative() {
			neg.dates = append(neg.dates, rec.Date)
			neg.values = append(neg.values, height)
		} else {
			pos.dates = append(pos.dates, rec.Date)
			pos.values = append(pos.values, height)
		}
	}
	var out []markerSeries
	for _, m := range []markerSeries{pos, neg} {
		if len(m.dates) > 0 {
			out = append(out, m)
		}
	}
	return out
}

func (r *Renderer) draw(path, title, yName string, dates []time.Time, lines []line, markers []markerSeries) error {
	var series []gochart.Series
	yMax := 0.0
	for _, l := range lines {
		series = append(series, gochart.TimeSeries{
			Name:    l.name,
			XValues: dates,
			YValues: l.values,
			Style:   gochart.Style{StrokeWidth: 2, DotWidth: 3},
		})
		for _, v := range l.values {
			yMax = max(yMax, v)
		}
	}
	for _, m := range markers {
		series = append(series, gochart.TimeSeries{
			Name:    m.name,
			XValues: m.dates,
			YValues: m.values,
			Style: gochart.Style{
				StrokeColor: drawing.ColorTransparent,
				DotColor:    m.color.WithAlpha(90),
				DotWidth:    7,
			},
		})
		for _, v := range m.values {
			yMax = max(yMax, v)
		}
	}

	graph := gochart.Chart{
		Title:  title,
		Width:  r.width,
		Height: r.height,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: gochart.XAxis{
			Name:           "Date",
			ValueFormatter: gochart.TimeDateValueFormatter,
			Range:          timeRange(dates),
			GridMajorStyle: gochart.Style{StrokeColor: drawing.ColorFromHex("dddddd"), StrokeWidth: 1},
		},
		YAxis: gochart.YAxis{
			Name:           yName,
			Range:          &gochart.ContinuousRange{Min: 0, Max: niceMax(yMax)},
			GridMajorStyle: gochart.Style{StrokeColor: drawing.ColorFromHex("dddddd"), StrokeWidth: 1},
		},
		Series: series,
	}
	graph.Elements = []gochart.Renderable{gochart.Legend(&graph)}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating chart %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	if err := graph.Render(gochart.PNG, f); err != nil {
		return fmt.Errorf("rendering chart %s: %w", filepath.Base(path), err)
	}
	if info, err := f.Stat(); err == nil {
		r.logger.Debug("Chart written",
			zap.String("file", filepath.Base(path)),
			zap.String("size", humanize.Bytes(uint64(info.Size()))),
		)
	}
	return f.Close()
}

// timeRange pads a single-day window so the axis never has zero width.
func timeRange(dates []time.Time) *gochart.ContinuousRange {
	start, end := dates[0], dates[len(dates)-1]
	if !end.After(start) {
		start = start.AddDate(0, 0, -1)
		end = end.AddDate(0, 0, 1)
	}
	return &gochart.ContinuousRange{
		Min: gochart.TimeToFloat64(start),
		Max: gochart.TimeToFloat64(end),
	}
}

func niceMax(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v * 1.1
}
