package icsfeed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hearthd/internal/model"
	"hearthd/internal/storage"
	logx "hearthd/pkg/logx"
)

func TestMapRule(t *testing.T) {
	t.Parallel()
	dtstart := time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		rule     model.RecurrenceRule
		contains []string
	}{
		{
			name:     "daily",
			rule:     model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1},
			contains: []string{"FREQ=DAILY"},
		},
		{
			name: "weekly with byday",
			rule: model.RecurrenceRule{
				Frequency:  model.FreqWeekly,
				Interval:   2,
				DaysOfWeek: []time.Weekday{time.Monday, time.Friday},
			},
			contains: []string{"FREQ=WEEKLY", "INTERVAL=2", "BYDAY=MO,FR"},
		},
		{
			name:     "monthly with count",
			rule:     model.RecurrenceRule{Frequency: model.FreqMonthly, Interval: 1, Count: 12},
			contains: []string{"FREQ=MONTHLY", "COUNT=12"},
		},
		{
			name: "yearly with end date",
			rule: model.RecurrenceRule{
				Frequency: model.FreqYearly,
				Interval:  1,
				EndDate:   model.NewDate(2026, 12, 31),
			},
			contains: []string{"FREQ=YEARLY", "UNTIL=20261231T235959Z"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := MapRule(tt.rule, dtstart)
			if err != nil {
				t.Fatalf("MapRule: %v", err)
			}
			got := r.String()
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Fatalf("rule %q missing %q", got, want)
				}
			}
		})
	}
}

func TestMapRuleRejectsInvalidRule(t *testing.T) {
	t.Parallel()
	bad := model.RecurrenceRule{Frequency: "fortnightly", Interval: 1}
	if _, err := MapRule(bad, time.Now()); err == nil {
		t.Fatal("invalid rule accepted")
	}
}

func seedSeries(t *testing.T, store storage.Store) {
	t.Helper()
	ctx := context.Background()
	s := model.Series{
		ID:        "swim-1",
		Kind:      model.KindEvent,
		Title:     "Swim class",
		Location:  "Pool",
		Anchor:    model.NewDate(2024, 1, 1),
		TimeOfDay: "16:00",
		Rule: model.RecurrenceRule{
			Frequency:  model.FreqWeekly,
			Interval:   1,
			DaysOfWeek: []time.Weekday{time.Monday},
		},
	}
	if err := store.UpsertSeries(ctx, s); err != nil {
		t.Fatalf("UpsertSeries: %v", err)
	}
	// A completed occurrence should surface as an EXDATE.
	inst := model.Instance{
		ID: "swim-1-jan8", SeriesID: "swim-1", Kind: model.KindEvent,
		Date: model.NewDate(2024, 1, 8), Title: "Swim class",
		TimeOfDay: "16:00", Completed: true,
	}
	if err := store.InsertInstance(ctx, inst); err != nil {
		t.Fatalf("InsertInstance: %v", err)
	}
}

func TestBuildFeed(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	seedSeries(t, store)

	f := New(store, logx.Nop(), time.UTC, "Test Household")
	body, err := f.Build(context.Background(), time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"X-WR-CALNAME:Test Household",
		"SUMMARY:Swim class",
		"LOCATION:Pool",
		"RRULE:",
		"FREQ=WEEKLY",
		"EXDATE:20240108T160000Z",
		"END:VCALENDAR",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("feed missing %q:\n%s", want, body)
		}
	}
}

func TestBuildSkipsUnmappableSeries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	seedSeries(t, store)

	bad := model.Series{
		ID: "bad", Kind: model.KindTask, Title: "broken",
		Anchor: model.NewDate(2024, 1, 1),
		Rule:   model.RecurrenceRule{Frequency: "fortnightly", Interval: 1},
	}
	if err := store.UpsertSeries(ctx, bad); err != nil {
		t.Fatalf("UpsertSeries: %v", err)
	}

	f := New(store, logx.Nop(), time.UTC, "")
	body, err := f.Build(ctx, time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Contains(body, "broken") {
		t.Fatal("unmappable series leaked into the feed")
	}
	if !strings.Contains(body, "Swim class") {
		t.Fatal("good series missing from the feed")
	}
}

func TestWriteFileIsAtomic(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	seedSeries(t, store)

	dir := t.TempDir()
	path := filepath.Join(dir, "feed", "household.ics")
	f := New(store, logx.Nop(), time.UTC, "")

	if err := f.WriteFile(context.Background(), time.Now(), path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	if !strings.Contains(string(b), "BEGIN:VCALENDAR") {
		t.Fatal("written file is not a calendar")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}
