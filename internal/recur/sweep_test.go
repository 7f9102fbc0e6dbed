package recur

import (
	"context"
	"fmt"
	"testing"
	"time"

	"hearthd/internal/model"
	"hearthd/internal/reminder"
	"hearthd/internal/storage"
	logx "hearthd/pkg/logx"
)

func testIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestSweepMaterializesInstancesAndReminders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	newID := testIDs()

	s := model.Series{
		ID:          "chores-1",
		Kind:        model.KindTask,
		Title:       "Take out trash",
		Anchor:      d(2024, 1, 1),
		TimeOfDay:   "18:00",
		LeadMinutes: 30,
		Rule:        model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1},
	}
	if err := store.UpsertSeries(ctx, s); err != nil {
		t.Fatalf("UpsertSeries: %v", err)
	}

	sched := reminder.NewScheduler(store, time.UTC, newID)
	sw := NewSweeper(store, sched, nil, logx.Nop(), 5*24*time.Hour, 0, newID)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rep, err := sw.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Series != 1 || rep.SeriesFailed != 0 || rep.SeriesSkipped != 0 {
		t.Fatalf("unexpected report: %s", rep)
	}
	// Horizon is now+5d = Jan 6; occurrences Jan 2..6.
	if rep.Instances != 5 {
		t.Fatalf("Instances = %d, want 5", rep.Instances)
	}

	dates, err := store.ListInstanceDates(ctx, s.ID)
	if err != nil {
		t.Fatalf("ListInstanceDates: %v", err)
	}
	if len(dates) != 5 {
		t.Fatalf("stored %d instance dates, want 5", len(dates))
	}

	// Every instance got a lead reminder.
	due, err := store.ListDueUnsentReminders(ctx, now.Add(6*24*time.Hour))
	if err != nil {
		t.Fatalf("ListDueUnsentReminders: %v", err)
	}
	if len(due) != 5 {
		t.Fatalf("%d reminder schedules, want 5", len(due))
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	newID := testIDs()

	s := model.Series{
		ID:     "meals-1",
		Kind:   model.KindMeal,
		Title:  "Pasta night",
		Anchor: d(2024, 1, 1),
		AllDay: true,
		Rule:   model.RecurrenceRule{Frequency: model.FreqWeekly, Interval: 1},
	}
	if err := store.UpsertSeries(ctx, s); err != nil {
		t.Fatalf("UpsertSeries: %v", err)
	}

	sw := NewSweeper(store, nil, nil, logx.Nop(), 30*24*time.Hour, 0, newID)
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	first, err := sw.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("first Sweep: %v", err)
	}
	if first.Instances == 0 {
		t.Fatal("first sweep materialized nothing")
	}

	second, err := sw.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if second.Instances != 0 {
		t.Fatalf("second sweep materialized %d instances, want 0", second.Instances)
	}
}

func TestSweepIsolatesBadSeries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	newID := testIDs()

	bad := model.Series{
		ID:     "bad",
		Kind:   model.KindTask,
		Title:  "broken",
		Anchor: d(2024, 1, 1),
		Rule:   model.RecurrenceRule{Frequency: "fortnightly", Interval: 1},
	}
	good := model.Series{
		ID:     "good",
		Kind:   model.KindTask,
		Title:  "works",
		Anchor: d(2024, 1, 1),
		Rule:   model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1},
	}
	for _, s := range []model.Series{bad, good} {
		if err := store.UpsertSeries(ctx, s); err != nil {
			t.Fatalf("UpsertSeries(%s): %v", s.ID, err)
		}
	}

	sw := NewSweeper(store, nil, nil, logx.Nop(), 3*24*time.Hour, 0, newID)
	rep, err := sw.Sweep(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.SeriesSkipped != 1 {
		t.Fatalf("SeriesSkipped = %d, want 1", rep.SeriesSkipped)
	}
	if rep.Instances == 0 {
		t.Fatal("good series did not expand")
	}

	dates, err := store.ListInstanceDates(ctx, good.ID)
	if err != nil {
		t.Fatalf("ListInstanceDates: %v", err)
	}
	if len(dates) == 0 {
		t.Fatal("no instances for good series")
	}
}
