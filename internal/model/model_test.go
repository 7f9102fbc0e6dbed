package model

import (
	"testing"
	"time"
)

func TestDateArithmetic(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		got  Date
		want Date
	}{
		{"add days", NewDate(2024, 1, 30).AddDays(3), NewDate(2024, 2, 2)},
		{"add days across year", NewDate(2023, 12, 30).AddDays(5), NewDate(2024, 1, 4)},
		{"add month normalizes", NewDate(2024, 1, 31).AddMonths(1), NewDate(2024, 3, 2)},
		{"add month plain", NewDate(2024, 4, 15).AddMonths(2), NewDate(2024, 6, 15)},
		{"add year from leap day", NewDate(2024, 2, 29).AddYears(1), NewDate(2025, 3, 1)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.got != tt.want {
				t.Fatalf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	t.Parallel()
	d, err := ParseDate("2024-03-01")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	if d != NewDate(2024, 3, 1) {
		t.Fatalf("got %s", d)
	}
	if _, err := ParseDate("01-03-2024"); err == nil {
		t.Fatal("expected error for wrong layout")
	}
}

func TestDateOrdering(t *testing.T) {
	t.Parallel()
	a, b := NewDate(2024, 2, 29), NewDate(2024, 3, 1)
	if !a.Before(b) || b.Before(a) || !b.After(a) {
		t.Fatal("ordering broken")
	}
	if !a.Equal(a) {
		t.Fatal("Equal broken")
	}
}

func TestRuleValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		rule    RecurrenceRule
		wantErr bool
	}{
		{"valid daily", RecurrenceRule{Frequency: FreqDaily, Interval: 1}, false},
		{"valid weekly with days", RecurrenceRule{Frequency: FreqWeekly, Interval: 2, DaysOfWeek: []time.Weekday{time.Monday, time.Friday}}, false},
		{"zero interval", RecurrenceRule{Frequency: FreqDaily}, true},
		{"unknown frequency", RecurrenceRule{Frequency: "hourly", Interval: 1}, true},
		{"negative count", RecurrenceRule{Frequency: FreqDaily, Interval: 1, Count: -1}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.rule.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMatchesWeekdayEmptySetAllowsAll(t *testing.T) {
	t.Parallel()
	rule := RecurrenceRule{Frequency: FreqWeekly, Interval: 1}
	for day := 0; day < 7; day++ {
		if !rule.MatchesWeekday(NewDate(2024, 1, 1).AddDays(day)) {
			t.Fatalf("day offset %d rejected by empty day set", day)
		}
	}
}

func TestSubjectStartAt(t *testing.T) {
	t.Parallel()
	loc := time.UTC

	timed := Subject{Date: NewDate(2024, 3, 1), TimeOfDay: "18:00"}
	if got, want := timed.StartAt(loc), time.Date(2024, 3, 1, 18, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("timed StartAt = %v, want %v", got, want)
	}

	// All-day starts at local midnight even when a time of day is set.
	allDay := Subject{Date: NewDate(2024, 3, 1), TimeOfDay: "18:00", AllDay: true}
	if got, want := allDay.StartAt(loc), time.Date(2024, 3, 1, 0, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("all-day StartAt = %v, want %v", got, want)
	}

	// Unparseable time falls back to midnight.
	bad := Subject{Date: NewDate(2024, 3, 1), TimeOfDay: "6pm"}
	if got, want := bad.StartAt(loc), time.Date(2024, 3, 1, 0, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("bad time StartAt = %v, want %v", got, want)
	}
}

func TestNewInstanceSnapshotsSeries(t *testing.T) {
	t.Parallel()
	s := Series{
		ID: "s1", Kind: KindEvent, Title: "Swim class", Location: "Pool",
		Assignee: "kids", TimeOfDay: "16:00", LeadMinutes: 45,
		Anchor: NewDate(2024, 1, 1),
		Rule:   RecurrenceRule{Frequency: FreqWeekly, Interval: 1},
	}
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	inst := NewInstance("i1", s, NewDate(2024, 1, 8), now)

	if inst.SeriesID != "s1" || inst.Date != NewDate(2024, 1, 8) {
		t.Fatalf("identity fields wrong: %+v", inst)
	}
	if inst.Title != s.Title || inst.Location != s.Location || inst.LeadMinutes != s.LeadMinutes {
		t.Fatalf("snapshot fields wrong: %+v", inst)
	}
	if inst.Completed {
		t.Fatal("new instance must not be completed")
	}
}

func TestBudgetBuckets(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		budget Budget
		bucket int
	}{
		{"82 percent", Budget{Limit: 100, Spent: 82}, 80},
		{"86 percent", Budget{Limit: 100, Spent: 86}, 80},
		{"91 percent", Budget{Limit: 100, Spent: 91}, 90},
		{"exactly 100", Budget{Limit: 200, Spent: 200}, 100},
		{"overspent", Budget{Limit: 100, Spent: 130}, 130},
		{"zero limit never alerts", Budget{Limit: 0, Spent: 50}, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.budget.AlertBucket(); got != tt.bucket {
				t.Fatalf("AlertBucket = %d, want %d", got, tt.bucket)
			}
		})
	}
}
