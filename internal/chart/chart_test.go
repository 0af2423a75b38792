package chart

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TobiSchelling/energyreport/internal/energy"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

func records(n int) []energy.DailyRecord {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]energy.DailyRecord, n)
	for i := range out {
		out[i] = energy.DailyRecord{
			Date:              start.AddDate(0, 0, i),
			Charged:           40 + i*7%50,
			Drained:           60 - i*3%40,
			SleepSeconds:      25000 + i*300,
			DeepSleepSeconds:  5000,
			LightSleepSeconds: 14000,
			RemSleepSeconds:   5000,
			AwakeSleepSeconds: 1000 + i*300,
			AvgStressLevel:    30 + i%10,
			MaxStressLevel:    90 - i%10,
		}
	}
	return out
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngSignature), "%s is not a PNG", filepath.Base(path))
}

func TestRenderWritesThreeCharts(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer(dir, 800, 400, zap.NewNop())

	set, err := r.Render(records(31))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, EnergyFile), set.Energy)
	assert.Equal(t, filepath.Join(dir, StressFile), set.Stress)
	assert.Equal(t, filepath.Join(dir, SleepFile), set.Sleep)
	for _, p := range set.Paths() {
		assertPNG(t, p)
	}
}

func TestRenderSingleDay(t *testing.T) {
	dir := t.TempDir()
	set, err := NewRenderer(dir, 0, 0, zap.NewNop()).Render(records(1))
	require.NoError(t, err)
	assertPNG(t, set.Energy)
}

func TestRenderAllZeroValues(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := []energy.DailyRecord{{Date: start}, {Date: start.AddDate(0, 0, 1)}}

	set, err := NewRenderer(t.TempDir(), 0, 0, zap.NewNop()).Render(recs)
	require.NoError(t, err)
	assertPNG(t, set.Sleep)
}

func TestRenderEmptyWindow(t *testing.T) {
	_, err := NewRenderer(t.TempDir(), 0, 0, zap.NewNop()).Render(nil)
	assert.ErrorIs(t, err, energy.ErrEmptyWindow)
}

func TestDayMarkers(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := []energy.DailyRecord{
		{Date: start, Charged: 80, Drained: 20},
		{Date: start.AddDate(0, 0, 1), Charged: 20, Drained: 80},
		{Date: start.AddDate(0, 0, 2), Charged: 50, Drained: 50},
	}
	m := dayMarkers(recs)
	require.Len(t, m, 2)
	assert.Equal(t, "Positive day", m[0].name)
	assert.Equal(t, []float64{80, 50}, m[0].values, "balanced days count as positive")
	assert.Equal(t, "Negative day", m[1].name)
	assert.Equal(t, []float64{80}, m[1].values)
}
