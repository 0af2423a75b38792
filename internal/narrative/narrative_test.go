package narrative

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TobiSchelling/energyreport/internal/energy"
)

// mockProvider implements llm.Provider for testing.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Generate(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	args := m.Called(ctx, system, prompt, maxTokens)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) IsConfigured() bool { return true }

func (m *mockProvider) Name() string { return "mock" }

func window(t *testing.T) ([]energy.DailyRecord, *energy.WindowSummary) {
	t.Helper()
	d1, _ := time.Parse(energy.DateLayout, "2024-01-01")
	d2, _ := time.Parse(energy.DateLayout, "2024-01-02")
	records := []energy.DailyRecord{
		{Date: d1, Charged: 50, Drained: 80, SleepSeconds: 25200, AvgStressLevel: 41,
			SleepFeedbackCode: "NEGATIVE_NOT_RESTORATIVE", SleepInsightCode: "NEGATIVE_STRESSFUL_DAY"},
		{Date: d2, Charged: 90, Drained: 40, SleepSeconds: 30600, AvgStressLevel: 22,
			SleepFeedbackCode: "POSITIVE_DEEP", SleepInsightCode: "BRAND_NEW_INSIGHT"},
	}
	summary, err := energy.Summarize(records)
	require.NoError(t, err)
	return records, summary
}

func TestBuildRequest(t *testing.T) {
	records, summary := window(t)
	req := BuildRequest(summary, records)

	assert.Contains(t, req.System, "sleep, stress and health expert")
	p := req.Prompt
	assert.Contains(t, p, "from 2024-01-01 to 2024-01-02")
	assert.Contains(t, p, "Dates: 2024-01-01, 2024-01-02")
	assert.Contains(t, p, "Charged: 50, 90")
	assert.Contains(t, p, "Drained: 80, 40")
	assert.Contains(t, p, "Sleep (seconds): 25200, 30600")
	assert.Contains(t, p, "Avg Stress Level: 41, 22")
	assert.Contains(t, p, "Net energy: 20 (Net Positive)")
	assert.Contains(t, p, "Weekday with most negative days: Monday")
	assert.Contains(t, p, "Sleep is observed to be non-restorative")
	assert.Contains(t, p, "Sleep is negatively affected by a stressful day")
	assert.Contains(t, p, "BRAND_NEW_INSIGHT", "unknown codes pass through")
	assert.NotContains(t, p, "NEGATIVE_NOT_RESTORATIVE", "known codes are explained")
}

func TestNarrateMakesOneCall(t *testing.T) {
	records, summary := window(t)
	provider := &mockProvider{}
	provider.On("Generate", mock.Anything, mock.AnythingOfType("string"),
		mock.MatchedBy(func(p string) bool { return strings.Contains(p, "Charged: 50, 90") }), 1200).
		Return("**Rest** more.\nMove daily.", nil).Once()

	b := NewBuilder(provider, 1200, "markers", zap.NewNop())
	out, err := b.Narrate(context.Background(), summary, records)
	require.NoError(t, err)

	assert.Equal(t, "<b>Rest</b> more.<br>Move daily.", string(out))
	provider.AssertExpectations(t)
	provider.AssertNumberOfCalls(t, "Generate", 1)
}

func TestNarrateMarkdownFormat(t *testing.T) {
	records, summary := window(t)
	provider := &mockProvider{}
	provider.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("**Rest** more.", nil)

	b := NewBuilder(provider, 0, "markdown", zap.NewNop())
	out, err := b.Narrate(context.Background(), summary, records)
	require.NoError(t, err)
	assert.Contains(t, string(out), "<strong>Rest</strong>")
	provider.AssertCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything, 1200)
}

func TestNarrateFailureHasNoFallback(t *testing.T) {
	records, summary := window(t)
	boom := errors.New("rate limited")
	provider := &mockProvider{}
	provider.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", boom).Once()

	b := NewBuilder(provider, 1200, "markers", zap.NewNop())
	out, err := b.Narrate(context.Background(), summary, records)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Empty(t, out)
	provider.AssertNumberOfCalls(t, "Generate", 1)
}

func TestNarrateEmptyResponse(t *testing.T) {
	records, summary := window(t)
	provider := &mockProvider{}
	provider.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("  \n", nil)

	b := NewBuilder(provider, 1200, "markers", zap.NewNop())
	_, err := b.Narrate(context.Background(), summary, records)
	assert.ErrorIs(t, err, ErrEmptyNarrative)
}

func TestNarrateWithoutProvider(t *testing.T) {
	records, summary := window(t)
	b := NewBuilder(nil, 1200, "markers", zap.NewNop())
	_, err := b.Narrate(context.Background(), summary, records)
	assert.Error(t, err)
}
