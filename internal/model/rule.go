package model

import (
	"fmt"
	"strings"
	"time"
)

type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqYearly  Frequency = "yearly"
)

// DefaultSeriesCap bounds how many occurrences a single series may ever
// generate when the rule does not set its own cap.
const DefaultSeriesCap = 100

// RecurrenceRule describes how a series repeats.
//
// DaysOfWeek only applies to weekly rules: when set, generated dates are
// snapped forward to the next date whose weekday is in the set.
type RecurrenceRule struct {
	Frequency  Frequency
	Interval   int
	DaysOfWeek []time.Weekday
	EndDate    Date // zero value = no end date
	Count      int  // generation cap; 0 = DefaultSeriesCap
}

func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(strings.ToLower(strings.TrimSpace(s))) {
	case FreqDaily:
		return FreqDaily, nil
	case FreqWeekly:
		return FreqWeekly, nil
	case FreqMonthly:
		return FreqMonthly, nil
	case FreqYearly:
		return FreqYearly, nil
	default:
		return "", fmt.Errorf("unknown frequency %q", s)
	}
}

func (r RecurrenceRule) Validate() error {
	if _, err := ParseFrequency(string(r.Frequency)); err != nil {
		return err
	}
	if r.Interval < 1 {
		return fmt.Errorf("interval must be >= 1, got %d", r.Interval)
	}
	for _, wd := range r.DaysOfWeek {
		if wd < time.Sunday || wd > time.Saturday {
			return fmt.Errorf("invalid weekday %d", int(wd))
		}
	}
	if r.Count < 0 {
		return fmt.Errorf("count must be >= 0, got %d", r.Count)
	}
	return nil
}

// EffectiveCount returns the generation cap for this rule.
func (r RecurrenceRule) EffectiveCount() int {
	if r.Count > 0 {
		return r.Count
	}
	return DefaultSeriesCap
}

// MatchesWeekday reports whether d's weekday is allowed by the rule.
// An empty day set allows every weekday.
func (r RecurrenceRule) MatchesWeekday(d Date) bool {
	if len(r.DaysOfWeek) == 0 {
		return true
	}
	wd := d.Weekday()
	for _, want := range r.DaysOfWeek {
		if wd == want {
			return true
		}
	}
	return false
}
