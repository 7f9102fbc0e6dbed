package threshold

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"hearthd/internal/storage"
	logx "hearthd/pkg/logx"
)

// Key builds the composite dedup key for a threshold condition.
// bucket is optional ("" for conditions without one).
func Key(kind, subjectID, bucket string) string {
	if bucket == "" {
		return kind + "|" + subjectID
	}
	return kind + "|" + subjectID + "|" + bucket
}

// Cache suppresses re-firing of a threshold condition within one epoch.
//
// It is an explicit object owned by the app and passed into the checker; no
// package-level state. The in-memory set is cleared on a fixed cadence (the
// epoch). When a store is attached, keys are also written there with their
// expiry, so a process restart inside an epoch does not re-fire conditions;
// without a store, the restart-duplicate is a documented limitation.
type Cache struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> suppressed until

	store storage.Store // optional; nil disables persistence
	log   logx.Logger
}

func NewCache(store storage.Store, log logx.Logger) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{entries: map[string]time.Time{}, store: store, log: log}
}

// Allow reports whether the condition may fire now, and if so records it as
// fired until `until`. The check-and-record is atomic with respect to other
// Allow calls.
func (c *Cache) Allow(ctx context.Context, key string, now, until time.Time) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}

	c.mu.Lock()
	if exp, ok := c.entries[key]; ok && now.Before(exp) {
		c.mu.Unlock()
		return false
	}
	c.entries[key] = until
	c.mu.Unlock()

	if c.store != nil {
		// Persisted check: survives restarts. Store errors fail open; a rare
		// duplicate beats a silently suppressed alert.
		if exp, ok, err := c.store.GetDedup(ctx, key); err != nil {
			c.log.Warn("dedup read failed", logx.String("key", key), logx.Err(err))
		} else if ok && now.Before(exp) {
			return false
		}
		if err := c.store.PutDedup(ctx, key, until); err != nil {
			c.log.Warn("dedup write failed", logx.String("key", key), logx.Err(err))
		}
	}
	return true
}

// Forget releases a key recorded by Allow, so a condition whose alert failed
// to deliver can retry on the next sweep instead of staying suppressed for
// the rest of the epoch.
func (c *Cache) Forget(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	if c.store != nil {
		if err := c.store.PutDedup(ctx, key, time.Time{}); err != nil {
			c.log.Warn("dedup release failed", logx.String("key", key), logx.Err(err))
		}
	}
}

// Clear drops the in-memory epoch state so still-true conditions can fire
// again. Persisted entries expire on their own.
func (c *Cache) Clear() int {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = map[string]time.Time{}
	c.mu.Unlock()
	return n
}

// Len reports the number of tracked conditions (diagnostics).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) String() string {
	return fmt.Sprintf("threshold.Cache(%d keys)", c.Len())
}
