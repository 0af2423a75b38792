// Package report assembles the energy report context and renders it to HTML.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/TobiSchelling/energyreport/internal/energy"
	"github.com/TobiSchelling/energyreport/internal/sleepcodes"
)

//go:embed templates/*.html
var templateFS embed.FS

// DefaultTemplate is the built-in report layout.
const DefaultTemplate = "energy_report.html"

// Charts holds the file names of the three chart images as the report
// references them.
type Charts struct {
	Energy string
	Stress string
	Sleep  string
}

// ChartFiles builds Charts from chart paths, keeping only the file names so
// the report can sit next to its images.
func ChartFiles(energyPath, stressPath, sleepPath string) Charts {
	return Charts{
		Energy: filepath.Base(energyPath),
		Stress: filepath.Base(stressPath),
		Sleep:  filepath.Base(sleepPath),
	}
}

// Context is everything the report template can show.
type Context struct {
	GeneratedAt time.Time
	Start       string
	End         string
	Days        int

	TotalCharged int
	TotalDrained int
	NetEnergy    int
	Trend        string

	NegativeCount int
	PositiveCount int
	NegativeDays  []energy.DailyRecord
	PositiveDays  []energy.DailyRecord
	WorstWeekday  string

	EnergyChart string
	StressChart string
	SleepChart  string

	Advice template.HTML
}

// Assemble composes the rendering context. It computes nothing beyond
// copying the summary, narrative and chart names into place.
func Assemble(summary *energy.WindowSummary, advice template.HTML, charts Charts, generatedAt time.Time) Context {
	return Context{
		GeneratedAt:   generatedAt,
		Start:         summary.Start.Format(energy.DateLayout),
		End:           summary.End.Format(energy.DateLayout),
		Days:          summary.Days,
		TotalCharged:  summary.TotalCharged,
		TotalDrained:  summary.TotalDrained,
		NetEnergy:     summary.NetEnergy,
		Trend:         summary.TrendLabel,
		NegativeCount: len(summary.NegativeDays),
		PositiveCount: len(summary.PositiveDays),
		NegativeDays:  summary.NegativeDays,
		PositiveDays:  summary.PositiveDays,
		WorstWeekday:  summary.WorstWeekday,
		EnergyChart:   charts.Energy,
		StressChart:   charts.Stress,
		SleepChart:    charts.Sleep,
		Advice:        advice,
	}
}

// Renderer renders a Context with a named html/template.
type Renderer struct {
	tmpl *template.Template
}

var funcMap = template.FuncMap{
	"comma":    func(n int) string { return humanize.Comma(int64(n)) },
	"duration": formatDuration,
	"feedback": sleepcodes.ExplainFeedback,
	"insight":  sleepcodes.ExplainInsight,
	"weekday":  func(t time.Time) string { return t.Weekday().String() },
	"date":     func(t time.Time) string { return t.Format(energy.DateLayout) },
}

// NewRenderer parses the template at path, or the built-in layout when path
// is empty.
func NewRenderer(path string) (*Renderer, error) {
	if path == "" {
		tmpl, err := template.New(DefaultTemplate).Funcs(funcMap).ParseFS(templateFS, "templates/"+DefaultTemplate)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", DefaultTemplate, err)
		}
		return &Renderer{tmpl: tmpl}, nil
	}

	tmpl, err := template.New(filepath.Base(path)).Funcs(funcMap).ParseFiles(path)
	if err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", path, err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render executes the template into memory.
func (r *Renderer) Render(c Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, c); err != nil {
		return nil, fmt.Errorf("rendering report: %w", err)
	}
	return buf.Bytes(), nil
}

// Write stores a rendered report, creating the directory if needed.
func Write(path string, html []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, html, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// formatDuration renders seconds as "7h 05m".
func formatDuration(seconds int) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %02dm", h, m)
}
