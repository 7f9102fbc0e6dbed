package icsfeed

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"hearthd/internal/model"
)

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// MapRule converts a domain recurrence rule to an RRULE anchored at dtstart.
//
// Weekly rules with a day-of-week set use BYDAY, which lets calendar
// consumers re-derive the occurrences the engine materializes.
func MapRule(rule model.RecurrenceRule, dtstart time.Time) (*rrule.RRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	opt := rrule.ROption{
		Interval: rule.Interval,
		Dtstart:  dtstart,
	}
	// COUNT and UNTIL are mutually exclusive in RFC 5545; an end date wins.
	if rule.Count > 0 && rule.EndDate.IsZero() {
		opt.Count = rule.Count
	}
	switch rule.Frequency {
	case model.FreqDaily:
		opt.Freq = rrule.DAILY
	case model.FreqWeekly:
		opt.Freq = rrule.WEEKLY
		for _, wd := range rule.DaysOfWeek {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
		}
	case model.FreqMonthly:
		opt.Freq = rrule.MONTHLY
	case model.FreqYearly:
		opt.Freq = rrule.YEARLY
	default:
		return nil, fmt.Errorf("unmapped frequency %q", rule.Frequency)
	}
	if !rule.EndDate.IsZero() {
		// UNTIL is inclusive of the whole end date.
		opt.Until = rule.EndDate.Midnight(dtstart.Location()).Add(24*time.Hour - time.Second)
	}
	return rrule.NewRRule(opt)
}
