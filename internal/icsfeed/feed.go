// Package icsfeed renders the household schedule as an ICS calendar file so
// phones and wall displays can subscribe to it.
package icsfeed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	ics "github.com/arran4/golang-ical"

	"hearthd/internal/model"
	"hearthd/internal/storage"
	logx "hearthd/pkg/logx"
)

const defaultCalendarName = "Household"

var feedKinds = []model.ItemKind{model.KindEvent, model.KindMeal, model.KindTask}

// Feed builds and writes the calendar export.
type Feed struct {
	store storage.Store
	log   logx.Logger
	loc   *time.Location
	name  string
}

func New(store storage.Store, log logx.Logger, loc *time.Location, name string) *Feed {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	if name == "" {
		name = defaultCalendarName
	}
	return &Feed{store: store, log: log, loc: loc, name: name}
}

// Build renders every recurring series as one VEVENT carrying its RRULE.
// Completed occurrences become EXDATEs so they disappear from subscribed
// calendars.
func (f *Feed) Build(ctx context.Context, now time.Time) (string, error) {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//hearthd//calendar feed//EN")
	cal.SetXWRCalName(f.name)
	cal.SetXWRTimezone(f.loc.String())

	var events int
	for _, kind := range feedKinds {
		roots, err := f.store.ListRecurringRoots(ctx, kind)
		if err != nil {
			return "", fmt.Errorf("list %s roots: %w", kind, err)
		}
		for _, root := range roots {
			if err := f.addSeries(ctx, cal, root, now); err != nil {
				// One unmappable series should not break the whole feed.
				f.log.Warn("series left out of feed",
					logx.String("series", root.ID), logx.Err(err))
				continue
			}
			events++
		}
	}

	f.log.Debug("feed built", logx.Int("events", events))
	return cal.Serialize(), nil
}

func (f *Feed) addSeries(ctx context.Context, cal *ics.Calendar, root model.Series, now time.Time) error {
	start := model.Subject{
		Date:      root.Anchor,
		TimeOfDay: root.TimeOfDay,
		AllDay:    root.AllDay,
	}.StartAt(f.loc)

	r, err := MapRule(root.Rule, start)
	if err != nil {
		return err
	}

	ev := cal.AddEvent(root.ID + "@hearthd")
	ev.SetDtStampTime(now)
	ev.SetSummary(root.Title)
	if root.Location != "" {
		ev.SetLocation(root.Location)
	}
	if root.Notes != "" {
		ev.SetDescription(root.Notes)
	}
	if root.AllDay {
		ev.SetAllDayStartAt(start)
		ev.SetAllDayEndAt(start.Add(24 * time.Hour))
	} else {
		ev.SetStartAt(start)
		ev.SetEndAt(start.Add(time.Hour))
	}
	ev.AddRrule(r.String())

	done, err := f.store.ListCompletedDates(ctx, root.ID)
	if err != nil {
		return fmt.Errorf("list completed dates: %w", err)
	}
	for _, d := range done {
		ex := model.Subject{Date: d, TimeOfDay: root.TimeOfDay, AllDay: root.AllDay}.StartAt(f.loc)
		ev.AddProperty(ics.ComponentPropertyExdate, ex.UTC().Format("20060102T150405Z"))
	}
	return nil
}

// WriteFile builds the feed and atomically replaces the file at path.
func (f *Feed) WriteFile(ctx context.Context, now time.Time, path string) error {
	body, err := f.Build(ctx, now)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	f.log.Info("calendar feed written", logx.String("path", path), logx.Int("bytes", len(body)))
	return nil
}
