// Package track deduplicates incoming order events and filters historical
// replay. The tracker is process-local and non-persisted; after a restart
// the watermark alone prevents re-replication of history delivered on a
// fresh subscription.
package track

import (
	"sync"
	"time"
)

const (
	// defaultWatermarkBuffer tolerates clock skew between local time and
	// venue event ordering.
	defaultWatermarkBuffer = 30 * time.Second

	// defaultRetention bounds the seen-set: an orderId is never reprocessed
	// within this window, and entries older than it are evicted.
	defaultRetention = 24 * time.Hour
)

// Tracker is the per-session dedup set plus the service-start watermark.
// It is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	seen      map[string]time.Time // orderID -> first seen
	watermark time.Time
	retention time.Duration
}

// New creates a Tracker whose watermark is set to now minus the given skew
// buffer, and whose seen-set retains order IDs for the given window. Zero
// values select the defaults (30s buffer, 24h retention).
func New(watermarkBuffer, retention time.Duration) *Tracker {
	if watermarkBuffer <= 0 {
		watermarkBuffer = defaultWatermarkBuffer
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Tracker{
		seen:      make(map[string]time.Time),
		watermark: time.Now().UTC().Add(-watermarkBuffer),
		retention: retention,
	}
}

// ShouldProcess reports whether the event is new and current: false when
// the orderID was already marked, or when the event timestamp predates the
// watermark (historical replay from a (re)subscribe).
func (t *Tracker) ShouldProcess(orderID string, ts time.Time) bool {
	if ts.Before(t.watermark) {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, dup := t.seen[orderID]
	return !dup
}

// MarkProcessed records the orderID so subsequent deliveries are rejected.
// It must be called before fan-out begins so a rapid duplicate delivery
// cannot double-dispatch.
func (t *Tracker) MarkProcessed(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[orderID] = time.Now()
}

// Watermark returns the replay cutoff timestamp.
func (t *Tracker) Watermark() time.Time {
	return t.watermark
}

// Count returns the number of currently tracked order IDs.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// Cleanup evicts entries older than the retention window. Call periodically
// to keep the seen-set bounded.
func (t *Tracker) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.retention)
	for id, at := range t.seen {
		if at.Before(cutoff) {
			delete(t.seen, id)
		}
	}
}
