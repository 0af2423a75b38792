package energy

import (
	"errors"
	"time"
)

const (
	TrendPositive = "Net Positive"
	TrendNegative = "Net Negative"

	// NoWeekday is reported as the worst weekday when no day was negative.
	NoWeekday = "N/A"
)

// ErrEmptyWindow is returned when there are no records to summarize.
var ErrEmptyWindow = errors.New("no daily records in window")

// weekdays is indexed Monday=0 .. Sunday=6.
var weekdays = [7]time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// WindowSummary holds the statistics derived from one window of records.
type WindowSummary struct {
	Start time.Time
	End   time.Time
	Days  int

	TotalCharged int
	TotalDrained int
	NetEnergy    int
	TrendLabel   string

	NegativeDays []DailyRecord
	PositiveDays []DailyRecord
	WorstWeekday string
}

// Summarize computes totals, the negative/positive partition and the
// weekday on which negative days occur most often. Records must be in
// chronological order; the partitions keep that order.
func Summarize(records []DailyRecord) (*WindowSummary, error) {
	if len(records) == 0 {
		return nil, ErrEmptyWindow
	}

	s := &WindowSummary{
		Start:        records[0].Date,
		End:          records[len(records)-1].Date,
		Days:         len(records),
		NegativeDays: []DailyRecord{},
		PositiveDays: []DailyRecord{},
	}

	for _, r := range records {
		s.TotalCharged += r.Charged
		s.TotalDrained += r.Drained
		if r.Negative() {
			s.NegativeDays = append(s.NegativeDays, r)
		} else {
			s.PositiveDays = append(s.PositiveDays, r)
		}
	}

	s.NetEnergy = s.TotalCharged - s.TotalDrained
	s.TrendLabel = TrendPositive
	if s.NetEnergy < 0 {
		s.TrendLabel = TrendNegative
	}
	s.WorstWeekday = worstWeekday(s.NegativeDays)

	return s, nil
}

// worstWeekday returns the most frequent weekday among days, preferring the
// earliest weekday (Monday first) on ties.
func worstWeekday(days []DailyRecord) string {
	if len(days) == 0 {
		return NoWeekday
	}

	var counts [7]int
	for _, d := range days {
		counts[mondayIndex(d.Date.Weekday())]++
	}

	best := 0
	for i := 1; i < len(counts); i++ {
		if counts[i] > counts[best] {
			best = i
		}
	}
	return weekdays[best].String()
}

func mondayIndex(w time.Weekday) int {
	return (int(w) + 6) % 7
}
