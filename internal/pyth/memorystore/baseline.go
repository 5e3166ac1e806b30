package memorystore

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBaselineWindow is the length of the percent-change window.
const DefaultBaselineWindow = 24 * time.Hour

// BaselineTracker holds the day-start price per asset. An asset without an
// entry is in the NoBaseline state; an entry older than the window is replaced
// by the next observation. Expiry is lazy: nothing changes until Observe.
type BaselineTracker struct {
	window time.Duration

	mu   sync.Mutex
	data map[string]Baseline
}

func NewBaselineTracker(window time.Duration) *BaselineTracker {
	if window <= 0 {
		window = DefaultBaselineWindow
	}
	return &BaselineTracker{
		window: window,
		data:   make(map[string]Baseline),
	}
}

func (t *BaselineTracker) Window() time.Duration {
	return t.window
}

// Observe applies an observation at now and returns the baseline in effect
// afterwards, plus whether it was (re)set by this call.
func (t *BaselineTracker) Observe(assetID string, price decimal.Decimal, now time.Time) (Baseline, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.data[assetID]
	if ok && !t.expired(current, now) {
		return current, false
	}

	current = Baseline{Price: price, Timestamp: now}
	t.data[assetID] = current
	return current, true
}

// Get returns the stored baseline without checking its age.
func (t *BaselineTracker) Get(assetID string) (Baseline, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.data[assetID]
	return b, ok
}

// Expired reports whether b no longer covers now.
func (t *BaselineTracker) Expired(b Baseline, now time.Time) bool {
	return t.expired(b, now)
}

// Restore installs a baseline as-is, typically loaded from durable storage.
func (t *BaselineTracker) Restore(assetID string, b Baseline) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[assetID] = b
}

// All returns a copy of every baseline keyed by asset id.
func (t *BaselineTracker) All() map[string]Baseline {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Baseline, len(t.data))
	for id, b := range t.data {
		out[id] = b
	}
	return out
}

func (t *BaselineTracker) expired(b Baseline, now time.Time) bool {
	return now.Sub(b.Timestamp) >= t.window
}
