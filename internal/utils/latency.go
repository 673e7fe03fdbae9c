package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a fixed ring of recent ingest-pipeline durations so
// the telemetry service can log percentiles without a histogram per call
// site. The oldest observation rolls off as new samples arrive.
type LatencyTracker struct {
	mu    sync.RWMutex
	buf   []time.Duration
	next  int
	count int
}

// NewLatencyTracker creates a tracker remembering the last maxSize durations.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{buf: make([]time.Duration, maxSize)}
}

// Observe records how long one pipeline pass took.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf[l.next] = d
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
}

// Percentile returns the duration at percentile p (0-100) over the retained
// observations, or zero when none have been recorded.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	sorted := l.sorted()
	if len(sorted) == 0 {
		return 0
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	idx := int((p / 100.0) * float64(len(sorted)-1))
	return sorted[idx]
}

// Count reports how many observations the ring currently holds.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

func (l *LatencyTracker) sorted() []time.Duration {
	l.mu.RLock()
	out := make([]time.Duration, l.count)
	copy(out, l.buf[:l.count])
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
