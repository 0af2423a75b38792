// Package narrative asks the language model for advice on the energy window
// and turns the answer into report markup.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/energyreport/internal/energy"
	"github.com/TobiSchelling/energyreport/internal/llm"
	"github.com/TobiSchelling/energyreport/internal/sleepcodes"
)

// ErrEmptyNarrative is returned when the model answers with no text.
var ErrEmptyNarrative = errors.New("narrative generator returned no text")

const systemPrompt = "You are an expert sleep, stress and health expert. You spend all your time analyzing sleep and stress data and how it influences the energy level of people. You will analyse the following data to provide an advice on how to improve daily positive energy balances."

const analysisPrompt = `Analyse the energy balance data from %s to %s. Body battery charged and drained, sleep, and stress levels. Also include the sleep insights and sleep feedback so you can identify which factors cause negative energy balance and which factors cause a positive day.

Summary:
Total charged: %d
Total drained: %d
Net energy: %d (%s)
Negative days: %d
Positive days: %d
Weekday with most negative days: %s

Dates: %s
Charged: %s
Drained: %s
Sleep (seconds): %s
Avg Stress Level: %s
Sleep feedback: %s
Sleep insight: %s
`

// Request is the single prompt sent to the generator.
type Request struct {
	System string
	Prompt string
}

// BuildRequest serializes the summary and the per-day series into one prompt.
func BuildRequest(summary *energy.WindowSummary, records []energy.DailyRecord) Request {
	n := len(records)
	dates := make([]string, 0, n)
	charged := make([]string, 0, n)
	drained := make([]string, 0, n)
	sleep := make([]string, 0, n)
	stress := make([]string, 0, n)
	feedback := make([]string, 0, n)
	insight := make([]string, 0, n)

	for _, r := range records {
		dates = append(dates, r.Day())
		charged = append(charged, strconv.Itoa(r.Charged))
		drained = append(drained, strconv.Itoa(r.Drained))
		sleep = append(sleep, strconv.Itoa(r.SleepSeconds))
		stress = append(stress, strconv.Itoa(r.AvgStressLevel))
		feedback = append(feedback, sleepcodes.ExplainFeedback(r.SleepFeedbackCode))
		insight = append(insight, sleepcodes.ExplainInsight(r.SleepInsightCode))
	}

	prompt := fmt.Sprintf(analysisPrompt,
		summary.Start.Format(energy.DateLayout), summary.End.Format(energy.DateLayout),
		summary.TotalCharged, summary.TotalDrained, summary.NetEnergy, summary.TrendLabel,
		len(summary.NegativeDays), len(summary.PositiveDays), summary.WorstWeekday,
		strings.Join(dates, ", "),
		strings.Join(charged, ", "),
		strings.Join(drained, ", "),
		strings.Join(sleep, ", "),
		strings.Join(stress, ", "),
		strings.Join(feedback, ", "),
		strings.Join(insight, ", "),
	)

	return Request{System: systemPrompt, Prompt: prompt}
}

// Builder produces the narrative section of the report.
type Builder struct {
	provider  llm.Provider
	maxTokens int
	format    string
	logger    *zap.Logger
}

// NewBuilder creates a narrative builder. format is "markers" or "markdown".
func NewBuilder(provider llm.Provider, maxTokens int, format string, logger *zap.Logger) *Builder {
	if maxTokens <= 0 {
		maxTokens = 1200
	}
	return &Builder{provider: provider, maxTokens: maxTokens, format: format, logger: logger}
}

// Narrate makes one generator call and returns the formatted advice. Any
// failure is returned as is; there is no fallback text.
func (b *Builder) Narrate(ctx context.Context, summary *energy.WindowSummary, records []energy.DailyRecord) (template.HTML, error) {
	if b.provider == nil {
		return "", fmt.Errorf("generating narrative: %w", llm.ErrNotConfigured)
	}

	req := BuildRequest(summary, records)
	b.logger.Debug("Requesting narrative",
		zap.String("provider", b.provider.Name()),
		zap.Int("prompt_chars", len(req.Prompt)),
	)

	text, err := b.provider.Generate(ctx, req.System, req.Prompt, b.maxTokens)
	if err != nil {
		return "", fmt.Errorf("generating narrative: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyNarrative
	}

	if b.format == "markdown" {
		return FormatMarkdown(text)
	}
	return FormatMarkers(text), nil
}
