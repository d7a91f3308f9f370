package utils

import (
	"sync"
	"time"
)

// SlidingWindow counts events inside a trailing time window. Hits are pruned
// on every operation, so an empty window costs nothing to keep around.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	hits   []time.Time
}

func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{window: window}
}

func (w *SlidingWindow) Add(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	w.hits = append(w.hits, now)
	return len(w.hits)
}

func (w *SlidingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	return len(w.hits)
}

// Clear drops all recorded hits. Called after a window trips a threshold so
// the same burst cannot re-trigger immediately.
func (w *SlidingWindow) Clear() {
	w.mu.Lock()
	w.hits = nil
	w.mu.Unlock()
}

func (w *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for _, hit := range w.hits {
		if hit.After(cutoff) {
			break
		}
		idx++
	}
	w.hits = w.hits[idx:]
}
