package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hearthd/internal/eventbus"
	"hearthd/internal/model"
	"hearthd/internal/storage"
	logx "hearthd/pkg/logx"
)

// Notifier delivers a rendered notification. Implemented by the notify
// pipeline; best-effort from the dispatcher's point of view.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// Report aggregates one sweep's per-item outcomes so callers can observe
// failures without parsing logs.
type Report struct {
	Due     int
	Sent    int
	Failed  int
	Skipped int // orphaned rows (subject no longer exists)
}

func (r Report) String() string {
	return fmt.Sprintf("due=%d sent=%d failed=%d skipped=%d", r.Due, r.Sent, r.Failed, r.Skipped)
}

// Dispatcher sweeps due, unsent reminder schedules and emits notifications.
type Dispatcher struct {
	store       storage.Store
	notifier    Notifier
	bus         eventbus.Bus
	log         logx.Logger
	loc         *time.Location
	itemTimeout time.Duration
	newID       func() string
}

func NewDispatcher(store storage.Store, notifier Notifier, bus eventbus.Bus, log logx.Logger, loc *time.Location, itemTimeout time.Duration, newID func() string) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	if itemTimeout <= 0 {
		itemTimeout = 10 * time.Second
	}
	return &Dispatcher{
		store:       store,
		notifier:    notifier,
		bus:         bus,
		log:         log,
		loc:         loc,
		itemTimeout: itemTimeout,
		newID:       newID,
	}
}

// Sweep processes every schedule with fireAt <= now, oldest first. Item
// failures are isolated: one bad row never aborts the rest of the batch.
func (d *Dispatcher) Sweep(ctx context.Context, now time.Time) (Report, error) {
	var rep Report

	rows, err := d.store.ListDueUnsentReminders(ctx, now)
	if err != nil {
		return rep, fmt.Errorf("list due reminders: %w", err)
	}
	rep.Due = len(rows)

	for _, rs := range rows {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		switch err := d.dispatchOne(ctx, rs); {
		case err == nil:
			rep.Sent++
		case errors.Is(err, storage.ErrNotFound):
			// Subject was deleted after the schedule was written. Consume the
			// row so it doesn't come back every minute.
			rep.Skipped++
			d.log.Warn("reminder subject gone, consuming schedule",
				logx.String("schedule", rs.ID), logx.String("subject", rs.SubjectID))
			if merr := d.store.MarkReminderSent(ctx, rs.ID); merr != nil {
				d.log.Error("mark orphan schedule sent", logx.String("schedule", rs.ID), logx.Err(merr))
			}
		default:
			rep.Failed++
			d.log.Error("reminder dispatch failed, will retry next sweep",
				logx.String("schedule", rs.ID), logx.String("subject", rs.SubjectID), logx.Err(err))
			if d.bus != nil {
				d.bus.Publish(eventbus.Event{Topic: eventbus.TopicReminderFailed, Payload: rs.ID})
			}
		}
	}
	return rep, nil
}

// dispatchOne renders and delivers a single reminder, then marks it sent.
//
// Deliver-then-mark is deliberate: a crash in between re-sends on the next
// sweep (at-least-once) instead of silently losing the reminder. Each item is
// bounded by its own timeout so one slow store or sink call cannot stall the
// whole sweep.
func (d *Dispatcher) dispatchOne(ctx context.Context, rs model.ReminderSchedule) error {
	ictx, cancel := context.WithTimeout(ctx, d.itemTimeout)
	defer cancel()

	// Fresh read: the subject may have been edited since the schedule was
	// written, and the message should show current title/time/location.
	sub, err := d.store.GetSubject(ictx, rs.SubjectKind, rs.SubjectID)
	if err != nil {
		return err
	}

	n := d.render(sub, rs)
	if err := d.notifier.Notify(ictx, n); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	if err := d.store.MarkReminderSent(ictx, rs.ID); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Topic: eventbus.TopicReminderSent, Payload: rs.ID})
	}
	return nil
}

func (d *Dispatcher) render(sub model.Subject, rs model.ReminderSchedule) model.Notification {
	var b strings.Builder
	b.WriteString(sub.Date.String())
	if !sub.AllDay && sub.TimeOfDay != "" {
		b.WriteString(" ")
		b.WriteString(sub.TimeOfDay)
	}
	if sub.Location != "" {
		b.WriteString(" @ ")
		b.WriteString(sub.Location)
	}

	title := sub.Title
	switch sub.Kind {
	case model.KindEvent:
		title = "Upcoming event: " + sub.Title
	case model.KindTask:
		title = "Task due: " + sub.Title
	case model.KindMeal:
		title = "Meal: " + sub.Title
	}

	return model.Notification{
		ID:        d.newID(),
		Title:     title,
		Body:      b.String(),
		Category:  "reminder",
		RelatedID: sub.ID,
		CreatedAt: time.Now(),
	}
}
