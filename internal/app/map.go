package app

import (
	"fmt"
	"strings"
	"time"

	"hearthd/internal/config"
	"hearthd/internal/notify"
	"hearthd/internal/storage"
	logx "hearthd/pkg/logx"
)

// engineSettings is the parsed form of config.EngineConfig.
type engineSettings struct {
	Horizon        time.Duration
	SeriesCap      int
	ExpandEvery    time.Duration
	DispatchEvery  time.Duration
	ThresholdEvery time.Duration
	BudgetEvery    time.Duration
	DedupEpoch     time.Duration
	ItemTimeout    time.Duration
}

func mapEngineConfig(cfg *config.Config) (engineSettings, error) {
	var (
		es  engineSettings
		err error
	)
	e := cfg.Engine
	if es.Horizon, err = config.ParseDurationOrDefault("engine.horizon", e.Horizon, 90*24*time.Hour); err != nil {
		return es, err
	}
	if es.ExpandEvery, err = config.ParseDurationOrDefault("engine.expand_every", e.ExpandEvery, 24*time.Hour); err != nil {
		return es, err
	}
	if es.DispatchEvery, err = config.ParseDurationOrDefault("engine.dispatch_every", e.DispatchEvery, time.Minute); err != nil {
		return es, err
	}
	if es.ThresholdEvery, err = config.ParseDurationOrDefault("engine.threshold_every", e.ThresholdEvery, 15*time.Minute); err != nil {
		return es, err
	}
	if es.BudgetEvery, err = config.ParseDurationOrDefault("engine.budget_every", e.BudgetEvery, 24*time.Hour); err != nil {
		return es, err
	}
	if es.DedupEpoch, err = config.ParseDurationOrDefault("engine.dedup_epoch", e.DedupEpoch, 24*time.Hour); err != nil {
		return es, err
	}
	if es.ItemTimeout, err = config.ParseDurationOrDefault("engine.item_timeout", e.ItemTimeout, 10*time.Second); err != nil {
		return es, err
	}
	if e.SeriesCap < 0 {
		return es, fmt.Errorf("engine.series_cap must be >= 0")
	}
	es.SeriesCap = e.SeriesCap
	return es, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		// Nothing survives a restart without storage; default to memory so a
		// bare config still runs.
		return storage.Config{Driver: "memory"}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	if cfg.Notify == nil {
		return notify.Config{Enabled: true}, nil
	}
	n := cfg.Notify
	base, err := config.ParseDurationField("notify.retry_base", n.RetryBase)
	if err != nil {
		return notify.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notify.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notify.Config{}, err
	}
	window, err := config.ParseDurationField("notify.dedup_window", n.DedupWindow)
	if err != nil {
		return notify.Config{}, err
	}
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
		return notify.Config{}, fmt.Errorf("notify: negative values are not allowed")
	}
	return notify.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupWindow:     window,
		DedupMaxEntries: n.DedupMaxEntries,
	}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}
