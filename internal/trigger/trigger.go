// Package trigger owns the cron surface of the engine: periodic sweeps,
// daily jobs, and one-shot catch-up runs, all in the household timezone.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "hearthd/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Amsterdam"
}

// runState tracks whether a job is already in-flight. Sweeps are
// skip-if-running: a slow sweep must never stack a second copy behind it.
type runState struct {
	mu       sync.Mutex
	inflight bool
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}

type jobDef struct {
	name    string
	spec    string
	timeout time.Duration
	run     func(ctx context.Context) error
	entryID cron.EntryID
	state   *runState
}

// JobInfo is a diagnostic view of one registered job.
type JobInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

// Service wraps robfig/cron with named jobs, per-run timeouts, an
// overlap-skip guard, and panic recovery.
type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	parser cron.Parser
	loc    *time.Location

	c    *cron.Cron
	defs []jobDef

	// one-shot timers (runtime only, not persisted)
	tmu    sync.Mutex
	timers map[string]*time.Timer

	baseCtx context.Context
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		timers: map[string]*time.Timer{},
	}
}

func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locationLocked()
}

func (s *Service) locationLocked() *time.Location {
	if s.loc != nil {
		return s.loc
	}
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		s.loc = time.Local
		return s.loc
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to local", logx.String("tz", tz), logx.Err(err))
		loc = time.Local
	}
	s.loc = loc
	return s.loc
}

// AddPeriodic registers a job that runs every `every`.
func (s *Service) AddPeriodic(name string, every, timeout time.Duration, run func(ctx context.Context) error) error {
	if every <= 0 {
		return fmt.Errorf("interval for %s must be positive", name)
	}
	return s.AddCron(name, "@every "+every.String(), timeout, run)
}

// AddDaily registers a job that runs every day at HH:MM in the service
// timezone.
func (s *Service) AddDaily(name, at string, timeout time.Duration, run func(ctx context.Context) error) error {
	t, err := time.Parse("15:04", strings.TrimSpace(at))
	if err != nil {
		return fmt.Errorf("daily time for %s: %w", name, err)
	}
	spec := fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour())
	return s.AddCron(name, spec, timeout, run)
}

// AddCron registers a cron-spec job. Registering an existing name replaces it.
func (s *Service) AddCron(name, spec string, timeout time.Duration, run func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(name) == "" {
		return errors.New("job name required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("parse spec %q for %s: %w", spec, name, err)
	}

	s.removeLocked(name)
	s.defs = append(s.defs, jobDef{
		name:    name,
		spec:    spec,
		timeout: timeout,
		run:     run,
		state:   &runState{},
	})
	if s.c != nil {
		return s.registerLocked(&s.defs[len(s.defs)-1])
	}
	return nil
}

// AddOnce fires run once after delay. Used for the startup catch-up sweep.
func (s *Service) AddOnce(name string, delay, timeout time.Duration, run func(ctx context.Context) error) {
	if delay < 0 {
		delay = 0
	}
	state := &runState{}

	s.tmu.Lock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
	}
	s.timers[name] = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		delete(s.timers, name)
		s.tmu.Unlock()
		s.execute(name, timeout, state, run)
	})
	s.tmu.Unlock()
}

// Remove deregisters a job by name.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	s.removeLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
	s.tmu.Unlock()
}

// Start begins triggering. Idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if !s.cfg.Enabled {
		return
	}
	s.baseCtx = ctx

	loc := s.locationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		if err := s.registerLocked(&s.defs[i]); err != nil {
			s.log.Error("job register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("trigger started", logx.String("tz", loc.String()), logx.Int("jobs", len(s.defs)))
}

// Stop halts triggering and waits for running jobs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	s.tmu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("trigger stopped")
}

// Jobs returns a snapshot of registered jobs with next/prev fire times.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := JobInfo{Name: d.name, Spec: d.spec}
		if s.c != nil {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) registerLocked(d *jobDef) error {
	name, timeout, state, run := d.name, d.timeout, d.state, d.run
	id, err := s.c.AddFunc(d.spec, func() {
		s.execute(name, timeout, state, run)
	})
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func (s *Service) removeLocked(name string) {
	for i := range s.defs {
		if s.defs[i].name == name {
			if s.c != nil {
				s.c.Remove(s.defs[i].entryID)
			}
			s.defs = append(s.defs[:i], s.defs[i+1:]...)
			return
		}
	}
}

func (s *Service) execute(name string, timeout time.Duration, state *runState, run func(ctx context.Context) error) {
	if !state.tryAcquire() {
		s.log.Warn("job still running, skipping tick", logx.String("name", name))
		return
	}
	defer state.release()

	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}

	ctx := base
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(base, timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", logx.String("name", name), logx.Any("panic", r))
		}
	}()

	err := run(ctx)
	took := time.Since(start)
	switch {
	case err == nil:
		s.log.Debug("job finished", logx.String("name", name), logx.Duration("took", took))
	case errors.Is(err, context.Canceled):
		s.log.Debug("job canceled", logx.String("name", name), logx.Duration("took", took))
	default:
		s.log.Error("job failed", logx.String("name", name), logx.Duration("took", took), logx.Err(err))
	}
}
