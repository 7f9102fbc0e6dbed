package config

// Config is the full daemon configuration, parsed from YAML or JSON.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	// Timezone is the household IANA timezone, e.g. "Europe/Amsterdam".
	// All-day times and daily jobs resolve against it.
	Timezone string `json:"timezone"`

	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Engine  EngineConfig   `json:"engine"`
	Notify  *NotifyConfig  `json:"notify,omitempty"`

	Telegram *TelegramConfig `json:"telegram,omitempty"`
	ICSFeed  *ICSFeedConfig  `json:"ics_feed,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./hearthd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// EngineConfig controls the expansion/dispatch/threshold cadences.
//
// Defaults (when fields are omitted/zero):
//   - horizon: "2160h" (90 days)
//   - series_cap: 100
//   - expand_every: "24h"
//   - dispatch_every: "1m"
//   - threshold_every: "15m"
//   - budget_every: "24h"
//   - dedup_epoch: "24h"
//   - item_timeout: "10s"
type EngineConfig struct {
	Horizon        string `json:"horizon,omitempty"`
	SeriesCap      int    `json:"series_cap,omitempty"`
	ExpandEvery    string `json:"expand_every,omitempty"`
	DispatchEvery  string `json:"dispatch_every,omitempty"`
	ThresholdEvery string `json:"threshold_every,omitempty"`
	BudgetEvery    string `json:"budget_every,omitempty"`
	DedupEpoch     string `json:"dedup_epoch,omitempty"`
	ItemTimeout    string `json:"item_timeout,omitempty"`
}

// NotifyConfig controls the async notification pipeline.
// If the whole section is omitted, notifications default to enabled.
type NotifyConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chat_id"`
}

// ICSFeedConfig controls the calendar feed exporter.
type ICSFeedConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	Name    string `json:"name,omitempty"`     // calendar display name
	WriteAt string `json:"write_at,omitempty"` // daily HH:MM, default "03:30"
	Horizon string `json:"horizon,omitempty"`  // defaults to engine.horizon
}
