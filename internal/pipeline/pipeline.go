package pipeline

import (
	"context"
	"fmt"
	"html/template"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/TobiSchelling/energyreport/internal/chart"
	"github.com/TobiSchelling/energyreport/internal/config"
	"github.com/TobiSchelling/energyreport/internal/energy"
	"github.com/TobiSchelling/energyreport/internal/garmin"
	"github.com/TobiSchelling/energyreport/internal/llm"
	"github.com/TobiSchelling/energyreport/internal/mail"
	"github.com/TobiSchelling/energyreport/internal/narrative"
	"github.com/TobiSchelling/energyreport/internal/report"
)

// FitnessSource supplies the three per-day wellness feeds.
type FitnessSource interface {
	Authenticate(ctx context.Context) error
	BodyBattery(ctx context.Context, start, end string) ([]map[string]any, error)
	Sleep(ctx context.Context, date string) (map[string]any, error)
	Stress(ctx context.Context, date string) (map[string]any, error)
}

// Narrator turns a summarized window into report-ready advice.
type Narrator interface {
	Narrate(ctx context.Context, summary *energy.WindowSummary, records []energy.DailyRecord) (template.HTML, error)
}

// ChartRenderer draws the report charts and returns their paths.
type ChartRenderer interface {
	Render(records []energy.DailyRecord) (chart.Set, error)
}

// Mailer delivers the finished report.
type Mailer interface {
	Send(ctx context.Context, msg *mail.Message) error
}

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Start      string
	End        string
	ReportPath string
	Steps      []StepResult
}

// Err returns the error of the step that stopped the run, if any.
func (r *Result) Err() error {
	for _, s := range r.Steps {
		if s.Err != nil {
			return fmt.Errorf("%s: %w", s.Name, s.Err)
		}
	}
	return nil
}

// Options control one run.
type Options struct {
	WindowDays   int
	ReportPath   string
	TemplatePath string

	SendMail bool
	From     string
	To       []string
	Subject  string
}

// StepCount is the number of steps in a full run.
const StepCount = 7

// Pipeline orchestrates the 7-step report generation.
type Pipeline struct {
	source   FitnessSource
	narrator Narrator
	charts   ChartRenderer
	mailer   Mailer
	opts     Options
	logger   *zap.Logger

	now func() time.Time
}

// New creates a pipeline from its collaborators. mailer may be nil when
// opts.SendMail is false.
func New(source FitnessSource, narrator Narrator, charts ChartRenderer, mailer Mailer, opts Options, logger *zap.Logger) *Pipeline {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 30
	}
	return &Pipeline{
		source:   source,
		narrator: narrator,
		charts:   charts,
		mailer:   mailer,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// NewFromConfig wires the Garmin client, LLM provider, chart renderer and
// SMTP sender described by cfg. Stored Garmin tokens are loaded here and an
// expired OAuth2 token is renewed, so an unusable token fails before anything
// is fetched.
func NewFromConfig(ctx context.Context, cfg *config.Config, sendMail bool, logger *zap.Logger) (*Pipeline, error) {
	store, err := garmin.LoadTokens(cfg.Garmin.TokenDir, cfg.Garmin.TokenBase64File)
	if err != nil {
		return nil, err
	}
	exchanger := garmin.NewExchanger(cfg.Garmin.BaseURL, cfg.Garmin.ConsumerURL, garmin.Consumer{
		Key:    cfg.Garmin.ConsumerKey,
		Secret: cfg.Garmin.ConsumerSecret,
	}, cfg.Garmin.Timeout, logger)
	token, err := store.Token(ctx, exchanger, time.Now())
	if err != nil {
		return nil, err
	}
	source := garmin.NewClient(cfg.Garmin.BaseURL, cfg.Garmin.Timeout, token, logger)

	provider, err := llm.CreateProvider(llm.Options{
		Provider:    cfg.Narrative.Provider,
		Model:       cfg.Narrative.Model,
		APIKey:      cfg.Secrets.OpenAIAPIKey,
		BaseURL:     cfg.Narrative.BaseURL,
		OllamaURL:   cfg.Narrative.OllamaURL,
		Temperature: cfg.Narrative.Temperature,
	}, logger)
	if err != nil {
		return nil, err
	}
	narrator := narrative.NewBuilder(provider, cfg.Narrative.MaxTokens, cfg.Narrative.Format, logger)

	charts := chart.NewRenderer(cfg.GetOutputDir(), cfg.Chart.Width, cfg.Chart.Height, logger)

	var mailer Mailer
	if sendMail {
		s := cfg.Secrets
		mailer = mail.NewSender(s.SMTPServer, cfg.Mail.SMTPPort, s.SMTPUser, s.SMTPPassword,
			cfg.Mail.UseTLS, cfg.Mail.UseSSL, logger)
	}

	return New(source, narrator, charts, mailer, Options{
		WindowDays:   cfg.WindowDays,
		ReportPath:   cfg.ReportPath(),
		TemplatePath: config.ExpandHome(cfg.Output.Template),
		SendMail:     sendMail,
		From:         cfg.Secrets.FromAddress,
		To:           cfg.Secrets.To,
		Subject:      cfg.Mail.Subject,
	}, logger), nil
}

// Window returns the first and last date of the report window: today and the
// WindowDays days before it.
func (p *Pipeline) Window() (time.Time, time.Time) {
	now := p.now()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return end.AddDate(0, 0, -p.opts.WindowDays), end
}

// run carries the values handed from one step to the next.
type run struct {
	start, end string
	records    []energy.DailyRecord
	summary    *energy.WindowSummary
	advice     template.HTML
	charts     chart.Set
	html       []byte
}

// Run executes the full pipeline. The first failing step ends the run; no
// report is written and no mail is sent after a failure.
func (p *Pipeline) Run(ctx context.Context) *Result {
	start, end := p.Window()
	st := &run{start: start.Format(energy.DateLayout), end: end.Format(energy.DateLayout)}
	r := &Result{Start: st.start, End: st.end}

	steps := []func(context.Context, *run) StepResult{
		p.runAuthenticate,
		p.runFetch,
		p.runSummarize,
		p.runNarrate,
		p.runCharts,
		p.runReport,
		p.runMail,
	}
	for _, step := range steps {
		res := step(ctx, st)
		r.Steps = append(r.Steps, res)
		if res.Err != nil {
			return r
		}
	}
	r.ReportPath = p.opts.ReportPath
	return r
}

// DryRun shows what would be done without executing.
func (p *Pipeline) DryRun() *Result {
	start, end := p.Window()
	r := &Result{Start: start.Format(energy.DateLayout), End: end.Format(energy.DateLayout)}
	days := p.opts.WindowDays + 1

	add := func(name, summary string) {
		r.Steps = append(r.Steps, StepResult{Name: name, Summary: "[dry-run] " + summary})
	}
	add("Authenticate", "Would verify the stored Garmin Connect token")
	add("Fetch", fmt.Sprintf("Would fetch body battery for %s..%s and %d sleep and stress days", r.Start, r.End, days))
	add("Summarize", fmt.Sprintf("Would summarize up to %d days", days))
	add("Narrate", "Would request one narrative from the LLM provider")
	add("Charts", fmt.Sprintf("Would draw %s, %s and %s", chart.EnergyFile, chart.StressFile, chart.SleepFile))
	add("Report", "Would write "+p.opts.ReportPath)
	if p.opts.SendMail {
		add("Mail", fmt.Sprintf("Would email %d recipient(s)", len(p.opts.To)))
	} else {
		add("Mail", "Email disabled")
	}
	return r
}

func (p *Pipeline) runAuthenticate(ctx context.Context, _ *run) StepResult {
	p.logger.Info("Step 1/7: Authenticating...")
	if err := p.source.Authenticate(ctx); err != nil {
		return StepResult{Name: "Authenticate", Err: err}
	}
	return StepResult{Name: "Authenticate", Summary: "Garmin Connect token accepted"}
}

// runFetch drives the per-date loop: each body battery entry names the date
// whose sleep and stress data are fetched and merged with it.
func (p *Pipeline) runFetch(ctx context.Context, st *run) StepResult {
	p.logger.Info("Step 2/7: Fetching wellness data...",
		zap.String("start", st.start), zap.String("end", st.end))

	battery, err := p.source.BodyBattery(ctx, st.start, st.end)
	if err != nil {
		return StepResult{Name: "Fetch", Err: err}
	}

	seen := make(map[string]bool, len(battery))
	for _, entry := range battery {
		date, err := batteryDate(entry)
		if err != nil {
			return StepResult{Name: "Fetch", Err: err}
		}
		if seen[date] {
			p.logger.Warn("Duplicate body battery entry", zap.String("date", date))
			continue
		}
		seen[date] = true

		sleep, err := p.source.Sleep(ctx, date)
		if err != nil {
			return StepResult{Name: "Fetch", Err: fmt.Errorf("sleep for %s: %w", date, err)}
		}
		stress, err := p.source.Stress(ctx, date)
		if err != nil {
			return StepResult{Name: "Fetch", Err: fmt.Errorf("stress for %s: %w", date, err)}
		}

		rec, err := energy.Aggregate(entry, sleep, stress)
		if err != nil {
			return StepResult{Name: "Fetch", Err: err}
		}
		st.records = append(st.records, rec)
		p.logger.Debug("Aggregated day", zap.String("date", rec.Day()),
			zap.Int("charged", rec.Charged), zap.Int("drained", rec.Drained))
	}

	slices.SortFunc(st.records, func(a, b energy.DailyRecord) int {
		return a.Date.Compare(b.Date)
	})
	return StepResult{
		Name:    "Fetch",
		Summary: fmt.Sprintf("Aggregated %d days", len(st.records)),
	}
}

// batteryDate reads the date a body battery entry describes. It is checked
// before any per-day request is made.
func batteryDate(entry map[string]any) (string, error) {
	if raw, ok := entry["date"]; ok && raw != nil {
		if date, err := cast.ToStringE(raw); err == nil && date != "" {
			return date, nil
		}
	}
	return "", &energy.FieldError{Source: "body battery", Field: "date", Err: energy.ErrMissingField}
}

func (p *Pipeline) runSummarize(_ context.Context, st *run) StepResult {
	p.logger.Info("Step 3/7: Summarizing window...")
	summary, err := energy.Summarize(st.records)
	if err != nil {
		return StepResult{Name: "Summarize", Err: err}
	}
	st.summary = summary
	return StepResult{
		Name: "Summarize",
		Summary: fmt.Sprintf("%s (net %s): %d negative, %d positive days, worst weekday %s",
			summary.TrendLabel, humanize.Comma(int64(summary.NetEnergy)),
			len(summary.NegativeDays), len(summary.PositiveDays), summary.WorstWeekday),
	}
}

func (p *Pipeline) runNarrate(ctx context.Context, st *run) StepResult {
	p.logger.Info("Step 4/7: Generating narrative...")
	advice, err := p.narrator.Narrate(ctx, st.summary, st.records)
	if err != nil {
		return StepResult{Name: "Narrate", Err: err}
	}
	st.advice = advice
	return StepResult{
		Name:    "Narrate",
		Summary: fmt.Sprintf("Narrative of %d characters", len(advice)),
	}
}

func (p *Pipeline) runCharts(_ context.Context, st *run) StepResult {
	p.logger.Info("Step 5/7: Drawing charts...")
	set, err := p.charts.Render(st.records)
	if err != nil {
		return StepResult{Name: "Charts", Err: err}
	}
	st.charts = set
	return StepResult{
		Name:    "Charts",
		Summary: fmt.Sprintf("Drew %d charts", len(set.Paths())),
	}
}

// runReport renders into memory and writes the file only once rendering
// has succeeded.
func (p *Pipeline) runReport(_ context.Context, st *run) StepResult {
	p.logger.Info("Step 6/7: Rendering report...")
	renderer, err := report.NewRenderer(p.opts.TemplatePath)
	if err != nil {
		return StepResult{Name: "Report", Err: err}
	}

	files := report.ChartFiles(st.charts.Energy, st.charts.Stress, st.charts.Sleep)
	html, err := renderer.Render(report.Assemble(st.summary, st.advice, files, p.now()))
	if err != nil {
		return StepResult{Name: "Report", Err: err}
	}
	if err := report.Write(p.opts.ReportPath, html); err != nil {
		return StepResult{Name: "Report", Err: err}
	}
	st.html = html
	return StepResult{
		Name:    "Report",
		Summary: fmt.Sprintf("Wrote %s (%s)", p.opts.ReportPath, humanize.Bytes(uint64(len(html)))),
	}
}

func (p *Pipeline) runMail(ctx context.Context, st *run) StepResult {
	if !p.opts.SendMail || p.mailer == nil {
		return StepResult{Name: "Mail", Summary: "Skipped (email disabled)"}
	}
	p.logger.Info("Step 7/7: Sending email...")

	images, err := mail.LoadImages(st.charts.Paths()...)
	if err != nil {
		return StepResult{Name: "Mail", Err: err}
	}
	msg := &mail.Message{
		From:    p.opts.From,
		To:      p.opts.To,
		Subject: p.opts.Subject,
		HTML:    st.html,
		Images:  images,
	}
	if err := p.mailer.Send(ctx, msg); err != nil {
		return StepResult{Name: "Mail", Err: err}
	}
	return StepResult{
		Name:    "Mail",
		Summary: fmt.Sprintf("Sent to %d recipient(s)", len(p.opts.To)),
	}
}
