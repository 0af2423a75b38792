package energy

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// DateLayout is the ISO date format used by the fitness provider.
const DateLayout = "2006-01-02"

// ErrMissingField is wrapped by FieldError when a required field is absent or null.
var ErrMissingField = errors.New("missing required field")

// DailyRecord is the merged view of one calendar day.
type DailyRecord struct {
	Date time.Time

	Charged int
	Drained int

	SleepSeconds      int
	DeepSleepSeconds  int
	LightSleepSeconds int
	RemSleepSeconds   int
	AwakeSleepSeconds int

	SleepFeedbackCode string
	SleepInsightCode  string

	AvgStressLevel int
	MaxStressLevel int
}

// Day returns the record date as YYYY-MM-DD.
func (r DailyRecord) Day() string {
	return r.Date.Format(DateLayout)
}

// Negative reports whether more energy was drained than charged.
func (r DailyRecord) Negative() bool {
	return r.Charged < r.Drained
}

// FieldError describes a required provider field that could not be read.
type FieldError struct {
	Source string // "body battery", "sleep" or "stress"
	Date   string
	Field  string
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s data for %s: field %q: %v", e.Source, e.Date, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Aggregate merges the three per-date provider responses into one record.
// battery is a body-battery daily entry ({date, charged, drained}), sleep is
// the daily sleep response containing dailySleepDTO, stress is the daily
// stress response. The inputs must describe the same date; any absent field
// is an error.
func Aggregate(battery, sleep, stress map[string]any) (DailyRecord, error) {
	var rec DailyRecord

	rawDate, err := field(battery, "body battery", "", "date")
	if err != nil {
		return rec, err
	}
	day, err := cast.ToStringE(rawDate)
	if err != nil {
		return rec, &FieldError{Source: "body battery", Field: "date", Err: err}
	}
	rec.Date, err = time.Parse(DateLayout, day)
	if err != nil {
		return rec, &FieldError{Source: "body battery", Date: day, Field: "date", Err: err}
	}

	b := reader{source: "body battery", date: day, m: battery}
	rec.Charged = b.intField("charged")
	rec.Drained = b.intField("drained")
	if b.err != nil {
		return rec, b.err
	}

	dto, err := field(sleep, "sleep", day, "dailySleepDTO")
	if err != nil {
		return rec, err
	}
	dtoMap, err := cast.ToStringMapE(dto)
	if err != nil {
		return rec, &FieldError{Source: "sleep", Date: day, Field: "dailySleepDTO", Err: err}
	}
	s := reader{source: "sleep", date: day, m: dtoMap}
	rec.SleepSeconds = s.intField("sleepTimeSeconds")
	rec.DeepSleepSeconds = s.intField("deepSleepSeconds")
	rec.LightSleepSeconds = s.intField("lightSleepSeconds")
	rec.RemSleepSeconds = s.intField("remSleepSeconds")
	rec.AwakeSleepSeconds = s.intField("awakeSleepSeconds")
	rec.SleepFeedbackCode = s.stringField("sleepScoreFeedback")
	rec.SleepInsightCode = s.stringField("sleepScoreInsight")
	if s.err != nil {
		return rec, s.err
	}

	st := reader{source: "stress", date: day, m: stress}
	rec.AvgStressLevel = st.intField("avgStressLevel")
	rec.MaxStressLevel = st.intField("maxStressLevel")
	if st.err != nil {
		return rec, st.err
	}

	return rec, nil
}

// reader pulls typed fields out of a decoded JSON object and keeps the
// first failure.
type reader struct {
	source string
	date   string
	m      map[string]any
	err    error
}

func (r *reader) intField(key string) int {
	if r.err != nil {
		return 0
	}
	v, err := field(r.m, r.source, r.date, key)
	if err != nil {
		r.err = err
		return 0
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		r.err = &FieldError{Source: r.source, Date: r.date, Field: key, Err: err}
		return 0
	}
	return n
}

func (r *reader) stringField(key string) string {
	if r.err != nil {
		return ""
	}
	v, err := field(r.m, r.source, r.date, key)
	if err != nil {
		r.err = err
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		r.err = &FieldError{Source: r.source, Date: r.date, Field: key, Err: err}
		return ""
	}
	return s
}

func field(m map[string]any, source, date, key string) (any, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, &FieldError{Source: source, Date: date, Field: key, Err: ErrMissingField}
	}
	return v, nil
}
