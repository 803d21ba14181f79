package handler

import (
	"sync"
	"time"

	"github.com/cortexhq/cortex/internal/events"
)

// idempotencyTTL bounds how long a repeated /agent/answer with the same
// idempotency key replays the identical cached result instead of
// re-running the engine.
const idempotencyTTL = 10 * time.Minute

type idempotencyEntry struct {
	result  events.FinalPayload
	storedAt time.Time
}

// idempotencyCache is a process-wide, mutex-guarded map from idempotency
// key to the terminal result last produced for it — the same small
// in-process map shape internal/approval.Store uses for its own pending
// set, sized for a single process rather than a distributed cache.
type idempotencyCache struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

func newIdempotencyCache() *idempotencyCache {
	return &idempotencyCache{entries: make(map[string]idempotencyEntry)}
}

func (c *idempotencyCache) get(key string) (events.FinalPayload, bool) {
	if key == "" {
		return events.FinalPayload{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.storedAt) > idempotencyTTL {
		return events.FinalPayload{}, false
	}
	return e.result, true
}

func (c *idempotencyCache) put(key string, result events.FinalPayload) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = idempotencyEntry{result: result, storedAt: time.Now()}
	if len(c.entries) > 10000 {
		c.sweepLocked()
	}
}

func (c *idempotencyCache) sweepLocked() {
	now := time.Now()
	for k, e := range c.entries {
		if now.Sub(e.storedAt) > idempotencyTTL {
			delete(c.entries, k)
		}
	}
}
