package storage

import (
	"context"
	"errors"
	"time"

	"hearthd/internal/model"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")

	// ErrDuplicateInstance is returned by InsertInstance when an instance for
	// (series_id, date) already exists.
	ErrDuplicateInstance = errors.New("instance already exists for this series and date")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-memory store (nothing survives a restart)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API consumed by the engine sweeps.
//
// All operations take a context; the sweeps bound each item's work with a
// per-item timeout, so a slow store call cannot block a whole sweep.
type Store interface {
	// Recurrence expansion.
	ListRecurringRoots(ctx context.Context, kind model.ItemKind) ([]model.Series, error)
	ListInstanceDates(ctx context.Context, seriesID string) (map[model.Date]bool, error)
	ListCompletedDates(ctx context.Context, seriesID string) ([]model.Date, error)
	InsertInstance(ctx context.Context, inst model.Instance) error
	UpsertSeries(ctx context.Context, s model.Series) error

	// Reminder schedules.
	InsertReminderSchedule(ctx context.Context, rs model.ReminderSchedule) error
	InvalidateReminderSchedules(ctx context.Context, subjectID string) error
	ListDueUnsentReminders(ctx context.Context, now time.Time) ([]model.ReminderSchedule, error)
	MarkReminderSent(ctx context.Context, id string) error
	GetSubject(ctx context.Context, kind model.ItemKind, id string) (model.Subject, error)

	// Threshold sweeps.
	ListUpcomingSubjects(ctx context.Context, kind model.ItemKind, from, to model.Date) ([]model.Subject, error)
	ListBudgets(ctx context.Context, period string) ([]model.Budget, error)
	UpsertBudget(ctx context.Context, b model.Budget) error

	// In-app notification records.
	InsertNotification(ctx context.Context, n model.Notification) error

	// Threshold dedup persistence (restart safety; best-effort).
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}
