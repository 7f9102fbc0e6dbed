// Package app wires the engine together: config, logging, storage, the
// notification pipeline, and the sweeps on their triggers.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hearthd/internal/config"
	"hearthd/internal/eventbus"
	"hearthd/internal/icsfeed"
	"hearthd/internal/notify"
	"hearthd/internal/notify/telegram"
	"hearthd/internal/recur"
	"hearthd/internal/reminder"
	rtsup "hearthd/internal/runtime/supervisor"
	"hearthd/internal/storage"
	"hearthd/internal/threshold"
	"hearthd/internal/trigger"
	logx "hearthd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	notif *notify.Service
	trig  *trigger.Service

	loc      *time.Location
	settings engineSettings

	sweeper    *recur.Sweeper
	dispatcher *reminder.Dispatcher
	checker    *threshold.Checker
	cache      *threshold.Cache
	feed       *icsfeed.Feed
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}

	settings, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	// Delivery sinks: the in-app feed always, the family chat when configured.
	sinks := []notify.Sink{notify.NewStoreSink(store)}
	if cfg.Telegram != nil && cfg.Telegram.Enabled {
		tg, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, ChatID: cfg.Telegram.ChatID})
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sinks = append(sinks, tg)
	}

	ncfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notify.New(ncfg, sinks, log.With(logx.String("comp", "notify")), bus)

	trig := trigger.New(trigger.Config{Enabled: true, Timezone: cfg.Timezone},
		log.With(logx.String("comp", "trigger")))

	newID := uuid.NewString

	cache := threshold.NewCache(store, log.With(logx.String("comp", "threshold")))
	sched := reminder.NewScheduler(store, loc, newID)
	sweeper := recur.NewSweeper(store, sched, bus,
		log.With(logx.String("comp", "recur")), settings.Horizon, settings.SeriesCap, newID)
	dispatcher := reminder.NewDispatcher(store, notif, bus,
		log.With(logx.String("comp", "reminder")), loc, settings.ItemTimeout, newID)
	checker := threshold.NewChecker(store, notif, cache, bus,
		log.With(logx.String("comp", "threshold")), loc, settings.DedupEpoch, newID)

	var feed *icsfeed.Feed
	if cfg.ICSFeed != nil && cfg.ICSFeed.Enabled {
		feed = icsfeed.New(store, log.With(logx.String("comp", "icsfeed")), loc, cfg.ICSFeed.Name)
	}

	return &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		notif:      notif,
		trig:       trig,
		loc:        loc,
		settings:   settings,
		sweeper:    sweeper,
		dispatcher: dispatcher,
		checker:    checker,
		cache:      cache,
		feed:       feed,
	}, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := loadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
		if _, err := mapEngineConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifyConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	a.notif.Start(a.sup.Context())

	if err := a.registerJobs(); err != nil {
		return err
	}
	a.trig.Start(a.sup.Context())

	// Catch up immediately after boot: expand first so the dispatch pass sees
	// schedules for anything that came due while the process was down.
	a.trig.AddOnce("startup.catchup", 0, 0, func(c context.Context) error {
		now := time.Now()
		if rep, err := a.sweeper.Sweep(c, now); err != nil {
			a.log.Error("startup expansion failed", logx.Err(err))
		} else {
			a.log.Info("startup expansion done", logx.String("report", rep.String()))
		}
		rep, err := a.dispatcher.Sweep(c, time.Now())
		if err != nil {
			return err
		}
		a.log.Info("startup dispatch done", logx.String("report", rep.String()))
		return nil
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(newCfg)
			}
		}
	})

	// Event log tap for debugging; components subscribe themselves for real work.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("topic", e.Topic), logx.Time("at", e.At))
			}
		}
	})

	a.log.Info("started",
		logx.String("tz", a.loc.String()),
		logx.Duration("horizon", a.settings.Horizon))
	return nil
}

func (a *App) registerJobs() error {
	s := a.settings

	if err := a.trig.AddPeriodic("recur.sweep", s.ExpandEvery, 0, func(c context.Context) error {
		rep, err := a.sweeper.Sweep(c, time.Now())
		if err == nil {
			a.log.Info("expansion sweep", logx.String("report", rep.String()))
		}
		return err
	}); err != nil {
		return err
	}

	if err := a.trig.AddPeriodic("reminder.dispatch", s.DispatchEvery, 0, func(c context.Context) error {
		rep, err := a.dispatcher.Sweep(c, time.Now())
		if err == nil && rep.Due > 0 {
			a.log.Info("dispatch sweep", logx.String("report", rep.String()))
		}
		return err
	}); err != nil {
		return err
	}

	if err := a.trig.AddPeriodic("threshold.items", s.ThresholdEvery, 0, func(c context.Context) error {
		rep, err := a.checker.SweepItems(c, time.Now())
		if err == nil && rep.Alerts > 0 {
			a.log.Info("threshold sweep", logx.String("report", rep.String()))
		}
		return err
	}); err != nil {
		return err
	}

	if err := a.trig.AddPeriodic("threshold.budgets", s.BudgetEvery, 0, func(c context.Context) error {
		rep, err := a.checker.SweepBudgets(c, time.Now())
		if err == nil && rep.Alerts > 0 {
			a.log.Info("budget sweep", logx.String("report", rep.String()))
		}
		return err
	}); err != nil {
		return err
	}

	if err := a.trig.AddPeriodic("threshold.epoch", s.DedupEpoch, 0, func(c context.Context) error {
		n := a.cache.Clear()
		a.log.Debug("threshold epoch rolled", logx.Int("cleared", n))
		return nil
	}); err != nil {
		return err
	}

	if a.feed != nil {
		cfg := a.cfgm.Get()
		at := "03:30"
		path := ""
		if cfg != nil && cfg.ICSFeed != nil {
			path = cfg.ICSFeed.Path
			if strings.TrimSpace(cfg.ICSFeed.WriteAt) != "" {
				at = cfg.ICSFeed.WriteAt
			}
		}
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("ics_feed.path is required when the feed is enabled")
		}
		if err := a.trig.AddDaily("icsfeed.write", at, time.Minute, func(c context.Context) error {
			return a.feed.WriteFile(c, time.Now(), path)
		}); err != nil {
			return err
		}
		// Publish once at startup too, so a fresh install has a feed file.
		a.trig.AddOnce("icsfeed.initial", 5*time.Second, time.Minute, func(c context.Context) error {
			return a.feed.WriteFile(c, time.Now(), path)
		})
	}
	return nil
}

// applyConfig applies the hot-reloadable subset of a validated config:
// logging and the notify pipeline. Storage, timezone, and cadence changes
// need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(mapLoggingConfig(cfg))

	if ncfg, err := mapNotifyConfig(cfg); err == nil {
		a.notif.Apply(ncfg)
	}

	if es, err := mapEngineConfig(cfg); err == nil && es != a.settings {
		a.log.Warn("engine cadence changed; restart required for changes to take effect")
	}
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")

	// Triggers first so no new sweeps start, then drain the notify queue.
	a.trig.Stop(ctx)
	a.notif.Stop(ctx)

	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
