package reminder

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"hearthd/internal/model"
	"hearthd/internal/storage"
	logx "hearthd/pkg/logx"
)

type recordingNotifier struct {
	sent []model.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n model.Notification) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func testIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestFireAt(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		sub  model.Subject
		lead int
		want time.Time
	}{
		{
			name: "timed",
			sub:  model.Subject{Date: model.NewDate(2024, 3, 1), TimeOfDay: "18:00"},
			lead: 30,
			want: time.Date(2024, 3, 1, 17, 30, 0, 0, time.UTC),
		},
		{
			name: "all-day crosses midnight into leap day",
			sub:  model.Subject{Date: model.NewDate(2024, 3, 1), AllDay: true},
			lead: 30,
			want: time.Date(2024, 2, 29, 23, 30, 0, 0, time.UTC),
		},
		{
			name: "all-day without time of day",
			sub:  model.Subject{Date: model.NewDate(2024, 6, 10), AllDay: true},
			lead: 60,
			want: time.Date(2024, 6, 9, 23, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := FireAt(tt.sub, tt.lead, time.UTC)
			if !got.Equal(tt.want) {
				t.Fatalf("FireAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduleReplacesUnsent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	sched := NewScheduler(store, time.UTC, testIDs())

	sub := model.Subject{
		ID:        "inst-1",
		Kind:      model.KindEvent,
		Title:     "Dentist",
		Date:      model.NewDate(2024, 3, 1),
		TimeOfDay: "18:00",
	}

	if _, err := sched.Schedule(ctx, sub, 30); err != nil {
		t.Fatalf("first Schedule: %v", err)
	}
	// Re-schedule after an edit: the old unsent row must be replaced.
	sub.TimeOfDay = "19:00"
	rs, err := sched.Schedule(ctx, sub, 30)
	if err != nil {
		t.Fatalf("second Schedule: %v", err)
	}
	want := time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)
	if !rs.FireAt.Equal(want) {
		t.Fatalf("FireAt = %v, want %v", rs.FireAt, want)
	}

	due, err := store.ListDueUnsentReminders(ctx, want.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListDueUnsentReminders: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("%d unsent rows, want 1", len(due))
	}
}

func TestScheduleRejectsZeroLead(t *testing.T) {
	t.Parallel()
	sched := NewScheduler(storage.NewMemory(), time.UTC, testIDs())
	if _, err := sched.Schedule(context.Background(), model.Subject{ID: "x"}, 0); err == nil {
		t.Fatal("expected error for zero lead")
	}
}

func TestDispatchSweepSendsDueReminders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	newID := testIDs()
	now := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)

	inst := model.Instance{
		ID:        "inst-1",
		SeriesID:  "series-1",
		Kind:      model.KindTask,
		Date:      model.NewDate(2024, 3, 1),
		Title:     "Water plants",
		TimeOfDay: "18:30",
	}
	if err := store.InsertInstance(ctx, inst); err != nil {
		t.Fatalf("InsertInstance: %v", err)
	}

	sched := NewScheduler(store, time.UTC, newID)
	if _, err := sched.Schedule(ctx, inst.Subject(), 30); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	notif := &recordingNotifier{}
	disp := NewDispatcher(store, notif, nil, logx.Nop(), time.UTC, time.Second, newID)

	rep, err := disp.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Due != 1 || rep.Sent != 1 || rep.Failed != 0 {
		t.Fatalf("unexpected report: %s", rep)
	}
	if len(notif.sent) != 1 {
		t.Fatalf("%d notifications, want 1", len(notif.sent))
	}
	if notif.sent[0].Title != "Task due: Water plants" {
		t.Fatalf("title = %q", notif.sent[0].Title)
	}

	// The row is terminal; a second sweep finds nothing.
	rep, err = disp.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if rep.Due != 0 {
		t.Fatalf("second sweep Due = %d, want 0", rep.Due)
	}
}

func TestDispatchSkipsFutureReminders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	newID := testIDs()

	inst := model.Instance{
		ID: "inst-1", SeriesID: "s", Kind: model.KindEvent,
		Date: model.NewDate(2024, 3, 2), Title: "Party", TimeOfDay: "20:00",
	}
	if err := store.InsertInstance(ctx, inst); err != nil {
		t.Fatalf("InsertInstance: %v", err)
	}
	sched := NewScheduler(store, time.UTC, newID)
	if _, err := sched.Schedule(ctx, inst.Subject(), 30); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	notif := &recordingNotifier{}
	disp := NewDispatcher(store, notif, nil, logx.Nop(), time.UTC, time.Second, newID)

	rep, err := disp.Sweep(ctx, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Due != 0 || len(notif.sent) != 0 {
		t.Fatalf("future reminder dispatched: %s", rep)
	}
}

func TestDispatchConsumesOrphanedRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	newID := testIDs()
	now := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)

	// Schedule whose subject was deleted after it was written.
	rs := model.ReminderSchedule{
		ID: "orphan", SubjectID: "gone", SubjectKind: model.KindTask,
		Kind: KindLead, FireAt: now.Add(-time.Minute),
	}
	if err := store.InsertReminderSchedule(ctx, rs); err != nil {
		t.Fatalf("InsertReminderSchedule: %v", err)
	}

	notif := &recordingNotifier{}
	disp := NewDispatcher(store, notif, nil, logx.Nop(), time.UTC, time.Second, newID)

	rep, err := disp.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Skipped != 1 || rep.Sent != 0 {
		t.Fatalf("unexpected report: %s", rep)
	}

	// Consumed: it does not come back.
	rep, err = disp.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if rep.Due != 0 {
		t.Fatalf("orphan row came back: %s", rep)
	}
}

func TestDispatchFailureLeavesRowPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	newID := testIDs()
	now := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)

	inst := model.Instance{
		ID: "inst-1", SeriesID: "s", Kind: model.KindMeal,
		Date: model.NewDate(2024, 3, 1), Title: "Dinner prep", TimeOfDay: "17:00",
	}
	if err := store.InsertInstance(ctx, inst); err != nil {
		t.Fatalf("InsertInstance: %v", err)
	}
	sched := NewScheduler(store, time.UTC, newID)
	if _, err := sched.Schedule(ctx, inst.Subject(), 30); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	notif := &recordingNotifier{err: errors.New("sink down")}
	disp := NewDispatcher(store, notif, nil, logx.Nop(), time.UTC, time.Second, newID)

	rep, err := disp.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Failed != 1 || rep.Sent != 0 {
		t.Fatalf("unexpected report: %s", rep)
	}

	// Delivery recovers: the same row is retried and sent.
	notif.err = nil
	rep, err = disp.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("retry Sweep: %v", err)
	}
	if rep.Sent != 1 {
		t.Fatalf("retry report: %s", rep)
	}
}
