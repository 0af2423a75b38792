package energy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, date string, charged, drained int) DailyRecord {
	t.Helper()
	d, err := time.Parse(DateLayout, date)
	require.NoError(t, err)
	return DailyRecord{Date: d, Charged: charged, Drained: drained}
}

func TestSummarizeTwoDayWindow(t *testing.T) {
	day1 := day(t, "2024-01-01", 50, 80)
	day2 := day(t, "2024-01-02", 90, 40)

	s, err := Summarize([]DailyRecord{day1, day2})
	require.NoError(t, err)

	assert.Equal(t, 140, s.TotalCharged)
	assert.Equal(t, 120, s.TotalDrained)
	assert.Equal(t, 20, s.NetEnergy)
	assert.Equal(t, TrendPositive, s.TrendLabel)
	assert.Equal(t, []DailyRecord{day1}, s.NegativeDays)
	assert.Equal(t, []DailyRecord{day2}, s.PositiveDays)
	assert.Equal(t, "Monday", s.WorstWeekday) // 2024-01-01 was a Monday
	assert.Equal(t, 2, s.Days)
	assert.Equal(t, day1.Date, s.Start)
	assert.Equal(t, day2.Date, s.End)
}

func TestSummarizeEmptyWindow(t *testing.T) {
	s, err := Summarize(nil)
	assert.ErrorIs(t, err, ErrEmptyWindow)
	assert.Nil(t, s)

	_, err = Summarize([]DailyRecord{})
	assert.ErrorIs(t, err, ErrEmptyWindow)
}

func TestSummarizeTrendBoundary(t *testing.T) {
	s, err := Summarize([]DailyRecord{day(t, "2024-01-03", 60, 60)})
	require.NoError(t, err)
	assert.Equal(t, 0, s.NetEnergy)
	assert.Equal(t, TrendPositive, s.TrendLabel, "zero net is positive")
	assert.Len(t, s.PositiveDays, 1, "equal charged and drained is a positive day")
	assert.Empty(t, s.NegativeDays)
	assert.Equal(t, NoWeekday, s.WorstWeekday)

	s, err = Summarize([]DailyRecord{day(t, "2024-01-03", 59, 60)})
	require.NoError(t, err)
	assert.Equal(t, -1, s.NetEnergy)
	assert.Equal(t, TrendNegative, s.TrendLabel)
	assert.Equal(t, "Wednesday", s.WorstWeekday)
}

func TestWorstWeekdayTieBreak(t *testing.T) {
	// 2024-01-03 is a Wednesday, 2024-01-08 a Monday: one negative day each.
	records := []DailyRecord{
		day(t, "2024-01-03", 10, 50),
		day(t, "2024-01-04", 70, 20),
		day(t, "2024-01-08", 10, 50),
	}
	s, err := Summarize(records)
	require.NoError(t, err)
	assert.Equal(t, "Monday", s.WorstWeekday)
}

func TestWorstWeekdaySundayIsLastIndex(t *testing.T) {
	// Sunday 2024-01-07 and Saturday 2024-01-06 tie; Saturday has the lower index.
	records := []DailyRecord{
		day(t, "2024-01-06", 10, 50),
		day(t, "2024-01-07", 10, 50),
	}
	s, err := Summarize(records)
	require.NoError(t, err)
	assert.Equal(t, "Saturday", s.WorstWeekday)

	// Two Sundays beat one Saturday.
	records = append(records, day(t, "2024-01-14", 0, 1))
	s, err = Summarize(records)
	require.NoError(t, err)
	assert.Equal(t, "Sunday", s.WorstWeekday)
}

func TestSummarizeProperties(t *testing.T) {
	start, _ := time.Parse(DateLayout, "2024-02-01")
	var records []DailyRecord
	for i := 0; i < 31; i++ {
		records = append(records, DailyRecord{
			Date:    start.AddDate(0, 0, i),
			Charged: (i * 37) % 100,
			Drained: (i * 53) % 100,
		})
	}

	s, err := Summarize(records)
	require.NoError(t, err)

	assert.Equal(t, s.TotalCharged-s.TotalDrained, s.NetEnergy)
	assert.Equal(t, s.NetEnergy >= 0, s.TrendLabel == TrendPositive)
	assert.Equal(t, len(records), len(s.NegativeDays)+len(s.PositiveDays))

	seen := make(map[string]int)
	for _, r := range s.NegativeDays {
		assert.True(t, r.Charged < r.Drained)
		seen[r.Day()]++
	}
	for _, r := range s.PositiveDays {
		assert.True(t, r.Charged >= r.Drained)
		seen[r.Day()]++
	}
	for _, r := range records {
		assert.Equal(t, 1, seen[r.Day()], "record %s must appear in exactly one partition", r.Day())
	}

	for i := 1; i < len(s.NegativeDays); i++ {
		assert.True(t, s.NegativeDays[i-1].Date.Before(s.NegativeDays[i].Date), "partitions keep chronological order")
	}

	again, err := Summarize(records)
	require.NoError(t, err)
	assert.Equal(t, s, again)
}
