package reminder

import (
	"context"
	"fmt"
	"time"

	"hearthd/internal/model"
	"hearthd/internal/storage"
)

// KindLead is the reminder kind for lead-time reminders ("30 minutes before
// start"). Threshold alerts are not persisted and have their own kinds.
const KindLead = "lead"

// FireAt derives the fire time for a subject: start minus lead. For all-day
// subjects the start is local midnight, so the reminder lands on the evening
// before when the lead crosses the day boundary.
func FireAt(sub model.Subject, leadMinutes int, loc *time.Location) time.Time {
	return sub.StartAt(loc).Add(-time.Duration(leadMinutes) * time.Minute)
}

// Scheduler persists reminder schedules for items with a configured lead time.
type Scheduler struct {
	store storage.Store
	loc   *time.Location
	newID func() string
}

func NewScheduler(store storage.Store, loc *time.Location, newID func() string) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{store: store, loc: loc, newID: newID}
}

// Schedule replaces any unsent schedule for the subject with a freshly
// computed one. Sent schedules are left untouched (historical record).
//
// fireAt is fully deterministic from the subject's start and the lead, so
// re-scheduling after an edit always converges on the same row.
func (s *Scheduler) Schedule(ctx context.Context, sub model.Subject, leadMinutes int) (model.ReminderSchedule, error) {
	if leadMinutes <= 0 {
		return model.ReminderSchedule{}, fmt.Errorf("lead minutes must be > 0, got %d", leadMinutes)
	}
	if err := s.store.InvalidateReminderSchedules(ctx, sub.ID); err != nil {
		return model.ReminderSchedule{}, fmt.Errorf("invalidate schedules for %s: %w", sub.ID, err)
	}
	rs := model.ReminderSchedule{
		ID:          s.newID(),
		SubjectID:   sub.ID,
		SubjectKind: sub.Kind,
		Kind:        KindLead,
		FireAt:      FireAt(sub, leadMinutes, s.loc),
		CreatedAt:   time.Now(),
	}
	if err := s.store.InsertReminderSchedule(ctx, rs); err != nil {
		return model.ReminderSchedule{}, fmt.Errorf("insert schedule for %s: %w", sub.ID, err)
	}
	return rs, nil
}
