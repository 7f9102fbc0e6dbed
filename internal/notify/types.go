package notify

import (
	"context"
	"time"

	"hearthd/internal/model"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Sink is one delivery target (in-app store, family chat push, ...).
// Delivery is best-effort: a sink error is logged and never reaches the
// reminder state machine.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n model.Notification) error
}

type HistoryItem struct {
	At    time.Time
	Title string
}

// DeliveryEvent is the bus payload for notification lifecycle events.
type DeliveryEvent struct {
	ID       string    `json:"id"`
	Category string    `json:"category"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
