package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"hearthd/internal/model"
)

// memoryStore is a mutex-guarded in-memory Store.
//
// It backs tests and throwaway runs; nothing survives a restart, including
// dedup state (so threshold conditions may re-fire after a restart, which is
// the documented behavior of the non-persisted dedup cache).
type memoryStore struct {
	mu sync.Mutex

	series    map[string]model.Series
	instances map[string]model.Instance
	reminders map[string]model.ReminderSchedule
	budgets   map[string]model.Budget
	notifs    []model.Notification
	dedup     map[string]time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		series:    map[string]model.Series{},
		instances: map[string]model.Instance{},
		reminders: map[string]model.ReminderSchedule{},
		budgets:   map[string]model.Budget{},
		dedup:     map[string]time.Time{},
	}
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) UpsertSeries(ctx context.Context, s model.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[s.ID] = s
	return nil
}

func (m *memoryStore) ListRecurringRoots(ctx context.Context, kind model.ItemKind) ([]model.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Series
	for _, s := range m.series {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) ListInstanceDates(ctx context.Context, seriesID string) (map[model.Date]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[model.Date]bool{}
	for _, inst := range m.instances {
		if inst.SeriesID == seriesID {
			out[inst.Date] = true
		}
	}
	return out, nil
}

func (m *memoryStore) ListCompletedDates(ctx context.Context, seriesID string) ([]model.Date, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Date
	for _, inst := range m.instances {
		if inst.SeriesID == seriesID && inst.Completed {
			out = append(out, inst.Date)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *memoryStore) InsertInstance(ctx context.Context, inst model.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.instances {
		if other.SeriesID == inst.SeriesID && other.Date == inst.Date {
			return ErrDuplicateInstance
		}
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now()
	}
	m.instances[inst.ID] = inst
	return nil
}

func (m *memoryStore) InsertReminderSchedule(ctx context.Context, rs model.ReminderSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = time.Now()
	}
	m.reminders[rs.ID] = rs
	return nil
}

func (m *memoryStore) InvalidateReminderSchedules(ctx context.Context, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rs := range m.reminders {
		if rs.SubjectID == subjectID && !rs.Sent {
			delete(m.reminders, id)
		}
	}
	return nil
}

func (m *memoryStore) ListDueUnsentReminders(ctx context.Context, now time.Time) ([]model.ReminderSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ReminderSchedule
	for _, rs := range m.reminders {
		if !rs.Sent && !rs.FireAt.After(now) {
			out = append(out, rs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func (m *memoryStore) MarkReminderSent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.reminders[id]
	if !ok || rs.Sent {
		return nil
	}
	rs.Sent = true
	m.reminders[id] = rs
	return nil
}

func (m *memoryStore) GetSubject(ctx context.Context, kind model.ItemKind, id string) (model.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[id]; ok {
		return inst.Subject(), nil
	}
	if s, ok := m.series[id]; ok {
		return model.Subject{
			ID:        s.ID,
			Kind:      s.Kind,
			Title:     s.Title,
			Date:      s.Anchor,
			TimeOfDay: s.TimeOfDay,
			AllDay:    s.AllDay,
			Location:  s.Location,
		}, nil
	}
	return model.Subject{}, ErrNotFound
}

func (m *memoryStore) ListUpcomingSubjects(ctx context.Context, kind model.ItemKind, from, to model.Date) ([]model.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inRange := func(d model.Date) bool { return !d.Before(from) && !d.After(to) }

	var out []model.Subject
	for _, inst := range m.instances {
		if inst.Kind == kind && !inst.Completed && inRange(inst.Date) {
			out = append(out, inst.Subject())
		}
	}
	for _, s := range m.series {
		if s.Kind == kind && inRange(s.Anchor) {
			out = append(out, model.Subject{
				ID:        s.ID,
				Kind:      s.Kind,
				Title:     s.Title,
				Date:      s.Anchor,
				TimeOfDay: s.TimeOfDay,
				AllDay:    s.AllDay,
				Location:  s.Location,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memoryStore) ListBudgets(ctx context.Context, period string) ([]model.Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Budget
	for _, b := range m.budgets {
		if b.Period == period {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryStore) UpsertBudget(ctx context.Context, b model.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budgets[b.ID] = b
	return nil
}

func (m *memoryStore) InsertNotification(ctx context.Context, n model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	m.notifs = append(m.notifs, n)
	return nil
}

func (m *memoryStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key != "" {
		m.dedup[key] = until
	}
	return nil
}

func (m *memoryStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.dedup[key]
	return until, ok, nil
}
