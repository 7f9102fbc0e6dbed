package recur

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hearthd/internal/eventbus"
	"hearthd/internal/model"
	"hearthd/internal/reminder"
	"hearthd/internal/storage"
	logx "hearthd/pkg/logx"
)

// sweepKinds is the set of item families with recurring roots.
var sweepKinds = []model.ItemKind{model.KindTask, model.KindEvent, model.KindMeal}

// Report aggregates one expansion sweep. A series is either fully processed,
// skipped (malformed rule), or failed (store error); one bad series never
// aborts the batch.
type Report struct {
	Series        int
	SeriesSkipped int
	SeriesFailed  int
	Instances     int
	DupDates      int // dates lost to the storage uniqueness constraint
}

func (r Report) String() string {
	return fmt.Sprintf("series=%d skipped=%d failed=%d instances=%d dup=%d",
		r.Series, r.SeriesSkipped, r.SeriesFailed, r.Instances, r.DupDates)
}

// Sweeper materializes future instances for every recurring root.
type Sweeper struct {
	store      storage.Store
	sched      *reminder.Scheduler
	bus        eventbus.Bus
	log        logx.Logger
	horizon    time.Duration
	defaultCap int
	newID      func() string
}

func NewSweeper(store storage.Store, sched *reminder.Scheduler, bus eventbus.Bus, log logx.Logger, horizon time.Duration, defaultCap int, newID func() string) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	if horizon <= 0 {
		horizon = 90 * 24 * time.Hour
	}
	if defaultCap <= 0 {
		defaultCap = model.DefaultSeriesCap
	}
	return &Sweeper{store: store, sched: sched, bus: bus, log: log, horizon: horizon, defaultCap: defaultCap, newID: newID}
}

// Sweep expands all recurring roots of all kinds up to now + horizon.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Report, error) {
	var rep Report
	horizon := model.DateOf(now.Add(s.horizon))

	for _, kind := range sweepKinds {
		roots, err := s.store.ListRecurringRoots(ctx, kind)
		if err != nil {
			// Listing failed for the whole kind; other kinds still run.
			rep.SeriesFailed++
			s.log.Error("list recurring roots", logx.String("kind", string(kind)), logx.Err(err))
			continue
		}
		for _, root := range roots {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.Series++
			created, dups, err := s.expandOne(ctx, root, horizon, now)
			rep.Instances += created
			rep.DupDates += dups
			switch {
			case err == nil:
			case errors.Is(err, ErrInvalidRule):
				rep.SeriesSkipped++
				s.log.Warn("skipping series with malformed rule",
					logx.String("series", root.ID), logx.Err(err))
			default:
				rep.SeriesFailed++
				s.log.Error("series expansion failed",
					logx.String("series", root.ID), logx.Err(err))
			}
		}
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Topic: eventbus.TopicExpandReport, Payload: rep})
	}
	return rep, nil
}

// expandOne materializes the missing occurrences of a single series and
// schedules their lead reminders.
func (s *Sweeper) expandOne(ctx context.Context, root model.Series, horizon model.Date, now time.Time) (created, dups int, err error) {
	existing, err := s.store.ListInstanceDates(ctx, root.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("list instance dates: %w", err)
	}

	// Rules without their own count inherit the configured cap.
	if root.Rule.Count == 0 {
		root.Rule.Count = s.defaultCap
	}

	dates, err := Expand(root, existing, horizon)
	if err != nil {
		return 0, 0, err
	}

	for _, date := range dates {
		inst := model.NewInstance(s.newID(), root, date, now)
		if err := s.store.InsertInstance(ctx, inst); err != nil {
			if errors.Is(err, storage.ErrDuplicateInstance) {
				// A concurrent run won the race; the constraint is the real
				// idempotence guarantee, this counter just makes it visible.
				dups++
				continue
			}
			return created, dups, fmt.Errorf("insert instance %s: %w", date, err)
		}
		created++

		if root.LeadMinutes > 0 && s.sched != nil {
			if _, err := s.sched.Schedule(ctx, inst.Subject(), root.LeadMinutes); err != nil {
				// The instance exists; a missing reminder is recoverable and
				// should not fail the series.
				s.log.Error("schedule reminder for new instance",
					logx.String("instance", inst.ID), logx.Err(err))
			}
		}
	}
	return created, dups, nil
}
