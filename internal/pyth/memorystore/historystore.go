package memorystore

import (
	"sync"
)

// DefaultHistoryCapacity is used when a store is built with a non-positive cap.
const DefaultHistoryCapacity = 300

// HistoryStore keeps the most recent samples per asset in fixed-capacity rings.
type HistoryStore struct {
	capacity int

	globalMu sync.RWMutex
	data     map[string]*assetHistory
}

type assetHistory struct {
	mu   sync.Mutex
	ring *ring
}

func NewHistoryStore(capacity int) *HistoryStore {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &HistoryStore{
		capacity: capacity,
		data:     make(map[string]*assetHistory),
	}
}

func (s *HistoryStore) Capacity() int {
	return s.capacity
}

// Add appends a sample, evicting the oldest one when the window is full.
func (s *HistoryStore) Add(assetID string, sample PriceSample) {
	h := s.history(assetID)

	// Per-asset locking
	h.mu.Lock()
	h.ring.push(sample)
	h.mu.Unlock()
}

// Replace swaps the asset's window for samples, keeping only the newest
// Capacity() of them. Used when restoring from durable storage.
func (s *HistoryStore) Replace(assetID string, samples []PriceSample) {
	r := newRing(s.capacity)
	for _, sample := range samples {
		r.push(sample)
	}

	// swap the ring, not the window, so a concurrent Add holding h is kept
	h := s.history(assetID)
	h.mu.Lock()
	h.ring = r
	h.mu.Unlock()
}

// Get returns the full window, oldest first. Never nil.
func (s *HistoryStore) Get(assetID string) []PriceSample {
	return s.Last(assetID, 0)
}

// Last returns the newest n samples, oldest first; n <= 0 returns everything.
func (s *HistoryStore) Last(assetID string, n int) []PriceSample {
	s.globalMu.RLock()
	h, ok := s.data[assetID]
	s.globalMu.RUnlock()
	if !ok {
		return []PriceSample{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ring.last(n)
}

// GetAll returns a copy of every window keyed by asset id.
func (s *HistoryStore) GetAll() map[string][]PriceSample {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	result := make(map[string][]PriceSample, len(s.data))
	for id, h := range s.data {
		h.mu.Lock()
		result[id] = h.ring.last(0)
		h.mu.Unlock()
	}
	return result
}

// CountAll returns the total number of samples stored across all assets.
func (s *HistoryStore) CountAll() int {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	total := 0
	for _, h := range s.data {
		h.mu.Lock()
		total += h.ring.len()
		h.mu.Unlock()
	}
	return total
}

func (s *HistoryStore) history(assetID string) *assetHistory {
	// Fast path: shared lock only
	s.globalMu.RLock()
	h, ok := s.data[assetID]
	s.globalMu.RUnlock()
	if ok {
		return h
	}

	// Need to initialize new asset window (exclusive lock)
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	if h, ok = s.data[assetID]; !ok {
		h = &assetHistory{ring: newRing(s.capacity)}
		s.data[assetID] = h
	}
	return h
}
