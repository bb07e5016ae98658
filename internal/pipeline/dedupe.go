package pipeline

import (
	"sync"
	"time"
)

// dedupeTTL is how long a platform event ID is remembered. Slack redelivers
// unacked events for a few minutes at most.
const dedupeTTL = 5 * time.Minute

// Deduper is an in-memory idempotence store keyed on platform event IDs.
type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

// NewDeduper creates a deduper with the given TTL (dedupeTTL when <= 0).
func NewDeduper(ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = dedupeTTL
	}
	return &Deduper{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

// Seen reports whether the event ID was already processed within the TTL,
// and marks it. Expired entries are pruned on the way through.
func (d *Deduper) Seen(eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, id)
		}
	}

	if _, ok := d.seen[eventID]; ok {
		return true
	}
	d.seen[eventID] = now
	return false
}
