package recur

import (
	"errors"
	"fmt"

	"hearthd/internal/model"
)

// ErrInvalidRule marks a recurrence rule the expander cannot process.
// Callers treat it as permanent: the series is skipped, never retried.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// maxSteps bounds the cursor walk for a single series. A weekly rule with a
// day set that never matches, or a far-future horizon with a tiny interval,
// must not spin forever.
const maxSteps = 10000

// Expand computes the new occurrence dates for one series, in ascending
// order, up to horizon.
//
// The cursor starts at the latest of the anchor date and any already-existing
// instance date, so repeated runs pick up where the last one stopped.
// Candidate dates that already exist are skipped (idempotence against
// overlapping runs) but still count toward the series generation cap; the cap
// covers the series' lifetime total, so already-materialized instances count
// too.
func Expand(s model.Series, existing map[model.Date]bool, horizon model.Date) ([]model.Date, error) {
	rule := s.Rule
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if s.Anchor.IsZero() {
		return nil, fmt.Errorf("%w: series %s has no anchor date", ErrInvalidRule, s.ID)
	}

	cursor := s.Anchor
	for d := range existing {
		if d.After(cursor) {
			cursor = d
		}
	}

	limit := rule.EffectiveCount()
	total := len(existing)

	var out []model.Date
	for steps := 0; steps < maxSteps; steps++ {
		if total >= limit {
			break
		}

		next, err := step(cursor, rule)
		if err != nil {
			return nil, err
		}
		if !next.After(cursor) {
			// A step that fails to advance would loop forever.
			return nil, fmt.Errorf("%w: rule does not advance from %s", ErrInvalidRule, cursor)
		}
		cursor = next

		if cursor.After(horizon) {
			break
		}
		if !rule.EndDate.IsZero() && cursor.After(rule.EndDate) {
			break
		}

		// Already materialized: skip the date but spend the cap slot.
		total++
		if existing[cursor] {
			continue
		}
		out = append(out, cursor)
	}
	return out, nil
}

// step advances the cursor by one frequency x interval stride. For weekly
// rules with a day-of-week set, the result is snapped forward to the next
// allowed weekday.
func step(d model.Date, rule model.RecurrenceRule) (model.Date, error) {
	switch rule.Frequency {
	case model.FreqDaily:
		return d.AddDays(rule.Interval), nil
	case model.FreqWeekly:
		next := d.AddDays(7 * rule.Interval)
		return snapToWeekday(next, rule), nil
	case model.FreqMonthly:
		return d.AddMonths(rule.Interval), nil
	case model.FreqYearly:
		return d.AddYears(rule.Interval), nil
	default:
		return model.Date{}, fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, rule.Frequency)
	}
}

// snapToWeekday moves d forward (at most six days) to the next date whose
// weekday is in the rule's day set. With no day set, d is returned as-is.
func snapToWeekday(d model.Date, rule model.RecurrenceRule) model.Date {
	if len(rule.DaysOfWeek) == 0 {
		return d
	}
	for i := 0; i < 7; i++ {
		cand := d.AddDays(i)
		if rule.MatchesWeekday(cand) {
			return cand
		}
	}
	return d
}
