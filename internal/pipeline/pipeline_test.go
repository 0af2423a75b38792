package pipeline

import (
	"context"
	"errors"
	"html/template"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TobiSchelling/energyreport/internal/chart"
	"github.com/TobiSchelling/energyreport/internal/energy"
	"github.com/TobiSchelling/energyreport/internal/garmin"
	"github.com/TobiSchelling/energyreport/internal/mail"
)

type fakeSource struct {
	authErr error
	battery []map[string]any
	fetched []string
}

func (f *fakeSource) Authenticate(ctx context.Context) error { return f.authErr }

func (f *fakeSource) BodyBattery(ctx context.Context, start, end string) ([]map[string]any, error) {
	f.fetched = append(f.fetched, "battery "+start+".."+end)
	return f.battery, nil
}

func (f *fakeSource) Sleep(ctx context.Context, date string) (map[string]any, error) {
	f.fetched = append(f.fetched, "sleep "+date)
	return map[string]any{"dailySleepDTO": map[string]any{
		"sleepTimeSeconds":   25200,
		"deepSleepSeconds":   5400,
		"lightSleepSeconds":  14400,
		"remSleepSeconds":    5400,
		"awakeSleepSeconds":  600,
		"sleepScoreFeedback": "POSITIVE_DEEP",
		"sleepScoreInsight":  "NONE",
	}}, nil
}

func (f *fakeSource) Stress(ctx context.Context, date string) (map[string]any, error) {
	f.fetched = append(f.fetched, "stress "+date)
	return map[string]any{"avgStressLevel": 30, "maxStressLevel": 90}, nil
}

type fakeNarrator struct {
	err   error
	calls int
}

func (f *fakeNarrator) Narrate(ctx context.Context, s *energy.WindowSummary, recs []energy.DailyRecord) (template.HTML, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return template.HTML("Go to bed <b>earlier</b>."), nil
}

type fakeCharts struct {
	dir   string
	calls int
}

func (f *fakeCharts) Render(records []energy.DailyRecord) (chart.Set, error) {
	f.calls++
	set := chart.Set{
		Energy: filepath.Join(f.dir, chart.EnergyFile),
		Stress: filepath.Join(f.dir, chart.StressFile),
		Sleep:  filepath.Join(f.dir, chart.SleepFile),
	}
	for _, p := range set.Paths() {
		if err := os.WriteFile(p, []byte("png"), 0o644); err != nil {
			return chart.Set{}, err
		}
	}
	return set, nil
}

type fakeMailer struct {
	sent []*mail.Message
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, msg *mail.Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

type fixture struct {
	source   *fakeSource
	narrator *fakeNarrator
	charts   *fakeCharts
	mailer   *fakeMailer
	pipeline *Pipeline
	report   string
}

func newFixture(t *testing.T, sendMail bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		source: &fakeSource{battery: []map[string]any{
			{"date": "2024-01-02", "charged": 90, "drained": 40},
			{"date": "2024-01-01", "charged": 50, "drained": 80},
		}},
		narrator: &fakeNarrator{},
		charts:   &fakeCharts{dir: dir},
		mailer:   &fakeMailer{},
		report:   filepath.Join(dir, "energy_report.html"),
	}
	f.pipeline = New(f.source, f.narrator, f.charts, f.mailer, Options{
		WindowDays: 1,
		ReportPath: f.report,
		SendMail:   sendMail,
		From:       "reports@example.com",
		To:         []string{"me@example.com"},
		Subject:    "Energy Report",
	}, zap.NewNop())
	f.pipeline.now = func() time.Time { return time.Date(2024, 1, 2, 6, 30, 0, 0, time.UTC) }
	return f
}

func stepNames(r *Result) []string {
	var names []string
	for _, s := range r.Steps {
		names = append(names, s.Name)
	}
	return names
}

func TestWindow(t *testing.T) {
	f := newFixture(t, false)
	f.pipeline.opts.WindowDays = 30
	start, end := f.pipeline.Window()
	assert.Equal(t, "2023-12-03", start.Format(energy.DateLayout))
	assert.Equal(t, "2024-01-02", end.Format(energy.DateLayout))
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t, true)

	r := f.pipeline.Run(context.Background())
	require.NoError(t, r.Err())
	assert.Equal(t, []string{"Authenticate", "Fetch", "Summarize", "Narrate", "Charts", "Report", "Mail"}, stepNames(r))
	assert.Equal(t, "2024-01-01", r.Start)
	assert.Equal(t, "2024-01-02", r.End)
	assert.Equal(t, f.report, r.ReportPath)
	assert.Contains(t, r.Steps[2].Summary, "Net Positive")
	assert.Equal(t, "battery 2024-01-01..2024-01-02", f.source.fetched[0])

	html, err := os.ReadFile(f.report)
	require.NoError(t, err)
	assert.Contains(t, string(html), "Go to bed <b>earlier</b>.")
	assert.Contains(t, string(html), `src="stress_level.png"`)

	require.Len(t, f.mailer.sent, 1)
	msg := f.mailer.sent[0]
	assert.Equal(t, []string{"me@example.com"}, msg.To)
	assert.Equal(t, html, msg.HTML)
	require.Len(t, msg.Images, 3)
	assert.Equal(t, chart.EnergyFile, msg.Images[0].Name)
}

func TestRunWithoutMail(t *testing.T) {
	f := newFixture(t, false)

	r := f.pipeline.Run(context.Background())
	require.NoError(t, r.Err())
	assert.Empty(t, f.mailer.sent)
	assert.Contains(t, r.Steps[len(r.Steps)-1].Summary, "Skipped")
	assert.FileExists(t, f.report)
}

func TestRunAuthenticationFailureFetchesNothing(t *testing.T) {
	f := newFixture(t, true)
	f.source.authErr = garmin.ErrAuthentication

	r := f.pipeline.Run(context.Background())
	require.Error(t, r.Err())
	assert.True(t, errors.Is(r.Err(), garmin.ErrAuthentication))
	assert.Equal(t, []string{"Authenticate"}, stepNames(r))
	assert.Empty(t, f.source.fetched)
	assert.Empty(t, r.ReportPath)
}

func TestRunNarrationFailureSendsNothing(t *testing.T) {
	f := newFixture(t, true)
	f.narrator.err = errors.New("provider down")

	r := f.pipeline.Run(context.Background())
	require.Error(t, r.Err())
	assert.Contains(t, r.Err().Error(), "provider down")
	assert.Equal(t, 1, f.narrator.calls)
	assert.Zero(t, f.charts.calls)
	assert.Empty(t, f.mailer.sent)
	assert.NoFileExists(t, f.report)
}

func TestRunMissingFieldAborts(t *testing.T) {
	f := newFixture(t, true)
	f.source.battery = []map[string]any{{"date": "2024-01-01", "charged": 50}}

	r := f.pipeline.Run(context.Background())
	require.Error(t, r.Err())
	assert.True(t, errors.Is(r.Err(), energy.ErrMissingField))
	assert.Zero(t, f.narrator.calls)
	assert.NoFileExists(t, f.report)
}

func TestRunMissingDateFetchesNoDay(t *testing.T) {
	for name, entry := range map[string]map[string]any{
		"absent": {"charged": 10, "drained": 20},
		"null":   {"date": nil, "charged": 10, "drained": 20},
		"empty":  {"date": "", "charged": 10, "drained": 20},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, true)
			f.source.battery = []map[string]any{entry}

			r := f.pipeline.Run(context.Background())
			require.Error(t, r.Err())
			assert.True(t, errors.Is(r.Err(), energy.ErrMissingField))

			var fe *energy.FieldError
			require.True(t, errors.As(r.Err(), &fe))
			assert.Equal(t, "date", fe.Field)

			assert.Equal(t, []string{"battery 2024-01-01..2024-01-02"}, f.source.fetched,
				"no sleep or stress request without a date")
			assert.Zero(t, f.narrator.calls)
		})
	}
}

func TestRunEmptyWindow(t *testing.T) {
	f := newFixture(t, true)
	f.source.battery = nil

	r := f.pipeline.Run(context.Background())
	assert.True(t, errors.Is(r.Err(), energy.ErrEmptyWindow))
	assert.Equal(t, []string{"Authenticate", "Fetch", "Summarize"}, stepNames(r))
}

func TestRunSkipsDuplicateDates(t *testing.T) {
	f := newFixture(t, false)
	f.source.battery = append(f.source.battery, map[string]any{"date": "2024-01-01", "charged": 1, "drained": 1})

	r := f.pipeline.Run(context.Background())
	require.NoError(t, r.Err())
	assert.Equal(t, "Aggregated 2 days", r.Steps[1].Summary)
}

func TestRunMailFailure(t *testing.T) {
	f := newFixture(t, true)
	f.mailer.err = errors.New("relay denied")

	r := f.pipeline.Run(context.Background())
	require.Error(t, r.Err())
	assert.Equal(t, "Mail", r.Steps[len(r.Steps)-1].Name)
	assert.Empty(t, r.ReportPath)
}

func TestDryRun(t *testing.T) {
	f := newFixture(t, true)

	r := f.pipeline.DryRun()
	assert.Len(t, r.Steps, 7)
	for _, s := range r.Steps {
		assert.Contains(t, s.Summary, "[dry-run]")
		assert.NoError(t, s.Err)
	}
	assert.Empty(t, f.source.fetched)
	assert.Zero(t, f.narrator.calls)
	assert.NoFileExists(t, f.report)
}
