package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"hearthd/internal/model"
	logx "hearthd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- series / instances ----

func (s *sqliteStore) UpsertSeries(ctx context.Context, sr model.Series) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO series(id, kind, title, notes, location, assignee, anchor, time_of_day, all_day, lead_minutes, freq, interval, days_of_week, end_date, count)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   kind=excluded.kind, title=excluded.title, notes=excluded.notes,
		   location=excluded.location, assignee=excluded.assignee,
		   anchor=excluded.anchor, time_of_day=excluded.time_of_day,
		   all_day=excluded.all_day, lead_minutes=excluded.lead_minutes,
		   freq=excluded.freq, interval=excluded.interval,
		   days_of_week=excluded.days_of_week, end_date=excluded.end_date,
		   count=excluded.count`,
		sr.ID, string(sr.Kind), sr.Title, nullStr(sr.Notes), nullStr(sr.Location), nullStr(sr.Assignee),
		sr.Anchor.String(), nullStr(sr.TimeOfDay), boolInt(sr.AllDay), sr.LeadMinutes,
		string(sr.Rule.Frequency), sr.Rule.Interval, nullStr(encodeWeekdays(sr.Rule.DaysOfWeek)),
		nullStr(dateStr(sr.Rule.EndDate)), sr.Rule.Count,
	)
	return err
}

func (s *sqliteStore) ListRecurringRoots(ctx context.Context, kind model.ItemKind) ([]model.Series, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, title, notes, location, assignee, anchor, time_of_day, all_day, lead_minutes, freq, interval, days_of_week, end_date, count
		 FROM series WHERE kind = ? ORDER BY id`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Series
	for rows.Next() {
		var (
			sr                            model.Series
			k, anchor                     string
			notes, loc, asg, tod, dow, ed sql.NullString
			allDay                        int
			freq                          string
		)
		if err := rows.Scan(&sr.ID, &k, &sr.Title, &notes, &loc, &asg, &anchor, &tod, &allDay,
			&sr.LeadMinutes, &freq, &sr.Rule.Interval, &dow, &ed, &sr.Rule.Count); err != nil {
			return nil, err
		}
		sr.Kind = model.ItemKind(k)
		sr.Notes = notes.String
		sr.Location = loc.String
		sr.Assignee = asg.String
		sr.TimeOfDay = tod.String
		sr.AllDay = allDay != 0
		sr.Rule.Frequency = model.Frequency(freq)
		if a, err := model.ParseDate(anchor); err == nil {
			sr.Anchor = a
		}
		sr.Rule.DaysOfWeek = decodeWeekdays(dow.String)
		if ed.Valid && ed.String != "" {
			if d, err := model.ParseDate(ed.String); err == nil {
				sr.Rule.EndDate = d
			}
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListInstanceDates(ctx context.Context, seriesID string) (map[model.Date]bool, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT date FROM instances WHERE series_id = ?`, seriesID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[model.Date]bool{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		d, err := model.ParseDate(raw)
		if err != nil {
			continue
		}
		out[d] = true
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListCompletedDates(ctx context.Context, seriesID string) ([]model.Date, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT date FROM instances WHERE series_id = ? AND completed = 1 ORDER BY date`, seriesID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Date
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		if d, derr := model.ParseDate(raw); derr == nil {
			out = append(out, d)
		}
	}
	return out, rows.Err()
}

func (s *sqliteStore) InsertInstance(ctx context.Context, inst model.Instance) error {
	if err := s.ready(); err != nil {
		return err
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instances(id, series_id, kind, date, title, notes, location, assignee, time_of_day, all_day, lead_minutes, completed, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		inst.ID, inst.SeriesID, string(inst.Kind), inst.Date.String(), inst.Title,
		nullStr(inst.Notes), nullStr(inst.Location), nullStr(inst.Assignee),
		nullStr(inst.TimeOfDay), boolInt(inst.AllDay), inst.LeadMinutes,
		boolInt(inst.Completed), inst.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateInstance
	}
	return err
}

// ---- reminder schedules ----

func (s *sqliteStore) InsertReminderSchedule(ctx context.Context, rs model.ReminderSchedule) error {
	if err := s.ready(); err != nil {
		return err
	}
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_schedules(id, subject_id, subject_kind, kind, fire_at, sent, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		rs.ID, rs.SubjectID, string(rs.SubjectKind), rs.Kind,
		rs.FireAt.UnixMilli(), boolInt(rs.Sent), rs.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// InvalidateReminderSchedules removes unsent schedules for a subject.
// Sent rows are kept as a historical record.
func (s *sqliteStore) InvalidateReminderSchedules(ctx context.Context, subjectID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM reminder_schedules WHERE subject_id = ? AND sent = 0`, subjectID)
	return err
}

func (s *sqliteStore) ListDueUnsentReminders(ctx context.Context, now time.Time) ([]model.ReminderSchedule, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject_id, subject_kind, kind, fire_at, sent, created_at
		 FROM reminder_schedules
		 WHERE sent = 0 AND fire_at <= ?
		 ORDER BY fire_at ASC`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ReminderSchedule
	for rows.Next() {
		var (
			rs      model.ReminderSchedule
			sk      string
			fire    int64
			sent    int
			created string
		)
		if err := rows.Scan(&rs.ID, &rs.SubjectID, &sk, &rs.Kind, &fire, &sent, &created); err != nil {
			return nil, err
		}
		rs.SubjectKind = model.ItemKind(sk)
		rs.FireAt = time.UnixMilli(fire)
		rs.Sent = sent != 0
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rs.CreatedAt = t
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// MarkReminderSent flips sent to true. The WHERE clause keeps the transition
// monotonic: an already-sent row is never touched again.
func (s *sqliteStore) MarkReminderSent(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminder_schedules SET sent = 1 WHERE id = ? AND sent = 0`, id)
	return err
}

func (s *sqliteStore) GetSubject(ctx context.Context, kind model.ItemKind, id string) (model.Subject, error) {
	if err := s.ready(); err != nil {
		return model.Subject{}, err
	}
	var (
		sub      model.Subject
		k, date  string
		tod, loc sql.NullString
		allDay   int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, title, date, time_of_day, all_day, location FROM instances WHERE id = ?`, id).
		Scan(&sub.ID, &k, &sub.Title, &date, &tod, &allDay, &loc)
	if errors.Is(err, sql.ErrNoRows) {
		// Roots are subjects too; their date is the anchor.
		err = s.db.QueryRowContext(ctx,
			`SELECT id, kind, title, anchor, time_of_day, all_day, location FROM series WHERE id = ?`, id).
			Scan(&sub.ID, &k, &sub.Title, &date, &tod, &allDay, &loc)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subject{}, ErrNotFound
	}
	if err != nil {
		return model.Subject{}, err
	}
	sub.Kind = model.ItemKind(k)
	sub.TimeOfDay = tod.String
	sub.AllDay = allDay != 0
	sub.Location = loc.String
	if d, derr := model.ParseDate(date); derr == nil {
		sub.Date = d
	}
	_ = kind // subject ids are globally unique; kind is advisory
	return sub, nil
}

// ---- threshold reads ----

func (s *sqliteStore) ListUpcomingSubjects(ctx context.Context, kind model.ItemKind, from, to model.Date) ([]model.Subject, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, title, date, time_of_day, all_day, location
		 FROM instances
		 WHERE kind = ? AND completed = 0 AND date >= ? AND date <= ?
		 UNION ALL
		 SELECT id, kind, title, anchor, time_of_day, all_day, location
		 FROM series
		 WHERE kind = ? AND anchor >= ? AND anchor <= ?
		 ORDER BY date`,
		string(kind), from.String(), to.String(),
		string(kind), from.String(), to.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Subject
	for rows.Next() {
		var (
			sub      model.Subject
			k, date  string
			tod, loc sql.NullString
			allDay   int
		)
		if err := rows.Scan(&sub.ID, &k, &sub.Title, &date, &tod, &allDay, &loc); err != nil {
			return nil, err
		}
		sub.Kind = model.ItemKind(k)
		sub.TimeOfDay = tod.String
		sub.AllDay = allDay != 0
		sub.Location = loc.String
		if d, derr := model.ParseDate(date); derr == nil {
			sub.Date = d
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListBudgets(ctx context.Context, period string) ([]model.Budget, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, spend_limit, spent, period FROM budgets WHERE period = ? ORDER BY name`, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Budget
	for rows.Next() {
		var b model.Budget
		if err := rows.Scan(&b.ID, &b.Name, &b.Limit, &b.Spent, &b.Period); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertBudget(ctx context.Context, b model.Budget) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budgets(id, name, spend_limit, spent, period) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, spend_limit=excluded.spend_limit,
		   spent=excluded.spent, period=excluded.period`,
		b.ID, b.Name, b.Limit, b.Spent, b.Period)
	return err
}

// ---- notifications ----

func (s *sqliteStore) InsertNotification(ctx context.Context, n model.Notification) error {
	if err := s.ready(); err != nil {
		return err
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(id, recipient, title, body, category, related_id, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		n.ID, nullStr(n.Recipient), n.Title, nullStr(n.Body), nullStr(n.Category),
		nullStr(n.RelatedID), n.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// ---- dedup ----

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if err := s.ready(); err != nil {
		return time.Time{}, false, err
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now)
	return err
}

// ---- helpers ----

func (s *sqliteStore) ready() error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func dateStr(d model.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func encodeWeekdays(days []time.Weekday) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, 0, len(days))
	for _, wd := range days {
		parts = append(parts, strconv.Itoa(int(wd)))
	}
	return strings.Join(parts, ",")
}

func decodeWeekdays(raw string) []time.Weekday {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []time.Weekday
	for _, p := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 6 {
			continue
		}
		out = append(out, time.Weekday(n))
	}
	return out
}
