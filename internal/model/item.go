package model

import (
	"time"
)

// ItemKind distinguishes the household item families the engine sweeps over.
type ItemKind string

const (
	KindTask  ItemKind = "task"
	KindEvent ItemKind = "event"
	KindMeal  ItemKind = "meal"
)

// Series is a recurring root item. It has no parent; every Instance generated
// from it references it as parent.
//
// The static fields (Title..LeadMinutes) are snapshotted into each Instance at
// expansion time. Editing a Series later does not rewrite already-generated
// Instances.
type Series struct {
	ID       string
	Kind     ItemKind
	Title    string
	Notes    string
	Location string
	Assignee string

	// Anchor is the date of the first occurrence (the root item itself).
	Anchor Date

	// TimeOfDay is "HH:MM" for timed items; ignored when AllDay is set.
	TimeOfDay string
	AllDay    bool

	// LeadMinutes > 0 means each occurrence gets a reminder this many minutes
	// before its start.
	LeadMinutes int

	Rule RecurrenceRule
}

// Instance is one concrete occurrence of a Series, independently mutable
// after creation.
type Instance struct {
	ID       string
	SeriesID string
	Kind     ItemKind
	Date     Date

	Title    string
	Notes    string
	Location string
	Assignee string

	TimeOfDay   string
	AllDay      bool
	LeadMinutes int

	Completed bool
	CreatedAt time.Time
}

// Subject is the read-model the reminder paths use: a fresh, minimal view of
// a task/event/meal at dispatch time.
type Subject struct {
	ID        string
	Kind      ItemKind
	Title     string
	Date      Date
	TimeOfDay string
	AllDay    bool
	Location  string
}

// StartAt returns the concrete start instant of the subject in loc.
// All-day subjects start at local midnight.
func (s Subject) StartAt(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	base := s.Date.Midnight(loc)
	if s.AllDay || s.TimeOfDay == "" {
		return base
	}
	t, err := time.Parse("15:04", s.TimeOfDay)
	if err != nil {
		return base
	}
	return base.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
}

// Subject returns the reminder read-model view of an instance.
func (i Instance) Subject() Subject {
	return Subject{
		ID:        i.ID,
		Kind:      i.Kind,
		Title:     i.Title,
		Date:      i.Date,
		TimeOfDay: i.TimeOfDay,
		AllDay:    i.AllDay,
		Location:  i.Location,
	}
}

// NewInstance materializes one occurrence of s on date, snapshotting the
// series' static fields.
func NewInstance(id string, s Series, date Date, now time.Time) Instance {
	return Instance{
		ID:          id,
		SeriesID:    s.ID,
		Kind:        s.Kind,
		Date:        date,
		Title:       s.Title,
		Notes:       s.Notes,
		Location:    s.Location,
		Assignee:    s.Assignee,
		TimeOfDay:   s.TimeOfDay,
		AllDay:      s.AllDay,
		LeadMinutes: s.LeadMinutes,
		CreatedAt:   now,
	}
}
