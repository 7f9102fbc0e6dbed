package threshold

import (
	"context"
	"fmt"
	"time"

	"hearthd/internal/eventbus"
	"hearthd/internal/model"
	"hearthd/internal/reminder"
	"hearthd/internal/storage"
	logx "hearthd/pkg/logx"
)

// Condition kinds. These never become ReminderSchedule rows; dedup is the
// cache's job.
const (
	KindTaskDueSoon     = "task_due_1h"
	KindTaskDueTomorrow = "task_due_tomorrow"
	KindEventSoon       = "event_soon"
	KindMealPrep        = "meal_prep"
	KindBudget          = "budget"
)

const (
	// taskDueWindow: a task "due in 1 hour" means due within the next rolling
	// hour (0 <= start-now <= 1h), not at an exact hour mark.
	taskDueWindow = time.Hour

	eventSoonWindow = 30 * time.Minute

	// budgetAlertFloor: buckets below this never alert.
	budgetAlertFloor = 80
)

// Report aggregates one threshold sweep.
type Report struct {
	Checked int
	Alerts  int
	Deduped int
	Failed  int
}

func (r Report) String() string {
	return fmt.Sprintf("checked=%d alerts=%d deduped=%d failed=%d", r.Checked, r.Alerts, r.Deduped, r.Failed)
}

// Checker sweeps proximity and budget-threshold conditions.
type Checker struct {
	store    storage.Store
	notifier reminder.Notifier
	cache    *Cache
	bus      eventbus.Bus
	log      logx.Logger
	loc      *time.Location
	epoch    time.Duration
	newID    func() string
}

func NewChecker(store storage.Store, notifier reminder.Notifier, cache *Cache, bus eventbus.Bus, log logx.Logger, loc *time.Location, epoch time.Duration, newID func() string) *Checker {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	if epoch <= 0 {
		epoch = 24 * time.Hour
	}
	return &Checker{
		store:    store,
		notifier: notifier,
		cache:    cache,
		bus:      bus,
		log:      log,
		loc:      loc,
		epoch:    epoch,
		newID:    newID,
	}
}

// SweepItems runs the task/event/meal proximity checks.
func (c *Checker) SweepItems(ctx context.Context, now time.Time) (Report, error) {
	var rep Report
	today := model.DateOf(now.In(c.loc))
	tomorrow := today.AddDays(1)

	// Tasks: due within the next rolling hour, and due tomorrow.
	tasks, err := c.store.ListUpcomingSubjects(ctx, model.KindTask, today, tomorrow)
	if err != nil {
		rep.Failed++
		c.log.Error("list upcoming tasks", logx.Err(err))
	} else {
		for _, sub := range tasks {
			rep.Checked++
			start := sub.StartAt(c.loc)
			lead := start.Sub(now)
			if !sub.AllDay && lead >= 0 && lead <= taskDueWindow {
				c.fire(ctx, &rep, now, KindTaskDueSoon, sub.ID, "",
					"Task due soon: "+sub.Title,
					fmt.Sprintf("Due at %s", start.Format("15:04")))
			}
			if sub.Date == tomorrow {
				c.fire(ctx, &rep, now, KindTaskDueTomorrow, sub.ID, "",
					"Task due tomorrow: "+sub.Title, sub.Date.String())
			}
		}
	}

	// Events: starting within 30 minutes.
	events, err := c.store.ListUpcomingSubjects(ctx, model.KindEvent, today, today)
	if err != nil {
		rep.Failed++
		c.log.Error("list upcoming events", logx.Err(err))
	} else {
		for _, sub := range events {
			rep.Checked++
			start := sub.StartAt(c.loc)
			lead := start.Sub(now)
			if !sub.AllDay && lead >= 0 && lead <= eventSoonWindow {
				body := fmt.Sprintf("Starts at %s", start.Format("15:04"))
				if sub.Location != "" {
					body += " @ " + sub.Location
				}
				c.fire(ctx, &rep, now, KindEventSoon, sub.ID, "",
					"Event starting soon: "+sub.Title, body)
			}
		}
	}

	// Meals: prep reminder for today's planned meals.
	meals, err := c.store.ListUpcomingSubjects(ctx, model.KindMeal, today, today)
	if err != nil {
		rep.Failed++
		c.log.Error("list today's meals", logx.Err(err))
	} else {
		for _, sub := range meals {
			rep.Checked++
			c.fire(ctx, &rep, now, KindMealPrep, sub.ID, "",
				"Meal prep due: "+sub.Title, sub.Date.String())
		}
	}

	return rep, nil
}

// SweepBudgets alerts on 80/90/100% bucket crossings for the current period.
func (c *Checker) SweepBudgets(ctx context.Context, now time.Time) (Report, error) {
	var rep Report
	period := now.In(c.loc).Format("2006-01")

	budgets, err := c.store.ListBudgets(ctx, period)
	if err != nil {
		rep.Failed++
		return rep, fmt.Errorf("list budgets for %s: %w", period, err)
	}

	for _, b := range budgets {
		rep.Checked++
		bucket := b.AlertBucket()
		if bucket < budgetAlertFloor {
			continue
		}
		// One alert per (budget, bucket) per epoch: 82% then 86% both land
		// in bucket 80 and only the first fires; 91% opens bucket 90.
		c.fire(ctx, &rep, now, KindBudget, b.ID, fmt.Sprintf("%d", bucket),
			fmt.Sprintf("Budget alert: %s at %d%%", b.Name, bucket),
			fmt.Sprintf("Spent %.2f of %.2f", b.Spent, b.Limit))
	}
	return rep, nil
}

// fire emits a single deduplicated alert.
func (c *Checker) fire(ctx context.Context, rep *Report, now time.Time, kind, subjectID, bucket, title, body string) {
	key := Key(kind, subjectID, bucket)
	if !c.cache.Allow(ctx, key, now, now.Add(c.epoch)) {
		rep.Deduped++
		return
	}

	n := model.Notification{
		ID:        c.newID(),
		Title:     title,
		Body:      body,
		Category:  kind,
		RelatedID: subjectID,
		CreatedAt: now,
	}
	if err := c.notifier.Notify(ctx, n); err != nil {
		rep.Failed++
		c.log.Error("threshold alert delivery failed",
			logx.String("kind", kind), logx.String("subject", subjectID), logx.Err(err))
		// Release the key so the condition retries next sweep.
		c.cache.Forget(ctx, key)
		return
	}
	rep.Alerts++
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Topic: eventbus.TopicThresholdAlert, Payload: key})
	}
}
