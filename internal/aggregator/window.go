package aggregator

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/greenflowstack/greenflow-engine/internal/models"
)

// window holds the bounded trailing sequence of samples for one metric.
// All access goes through its own mutex; unrelated metrics never contend.
type window struct {
	mu         sync.Mutex
	metric     models.Metric
	retention  time.Duration
	maxSamples int
	skew       time.Duration
	now        func() time.Time

	samples  []models.Sample
	snapshot models.AggregateSnapshot
	hasSnap  bool
}

func newWindow(metric models.Metric, retention time.Duration, maxSamples int, skew time.Duration) *window {
	return &window{
		metric:     metric,
		retention:  retention,
		maxSamples: maxSamples,
		skew:       skew,
		now:        time.Now,
		samples:    make([]models.Sample, 0, maxSamples),
		snapshot:   models.AggregateSnapshot{Metric: metric},
	}
}

// add appends a sample, evicts expired entries, and recomputes statistics.
// Samples arriving more than the skew tolerance behind the earliest retained
// point are rejected to protect the statistics from badly out-of-order data.
func (w *window) add(sample models.Sample) (models.AggregateSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.samples) > 0 {
		earliest := w.samples[0].Timestamp
		if sample.Timestamp.Before(earliest.Add(-w.skew)) {
			return models.AggregateSnapshot{}, &InvalidSampleError{
				Metric: sample.Metric,
				Reason: "timestamp too far behind window",
			}
		}
	}

	w.insertOrdered(sample)
	w.evict()
	w.recompute()

	return w.snapshot, nil
}

// insertOrdered keeps the window sorted by timestamp. The common case is an
// in-order append; mild stragglers within the skew tolerance walk back from
// the tail.
func (w *window) insertOrdered(sample models.Sample) {
	n := len(w.samples)
	if n == 0 || !sample.Timestamp.Before(w.samples[n-1].Timestamp) {
		w.samples = append(w.samples, sample)
		return
	}
	idx := sort.Search(n, func(i int) bool {
		return w.samples[i].Timestamp.After(sample.Timestamp)
	})
	w.samples = append(w.samples, models.Sample{})
	copy(w.samples[idx+1:], w.samples[idx:])
	w.samples[idx] = sample
}

// evict drops samples older than the retention duration, then enforces the
// hard count cap. The cutoff is anchored to the wall clock so a stalled feed
// drains the window instead of freezing it; a sample timestamped ahead of the
// clock moves the anchor forward. Reports whether anything was dropped.
func (w *window) evict() bool {
	if len(w.samples) == 0 {
		return false
	}
	ref := w.now()
	if newest := w.samples[len(w.samples)-1].Timestamp; newest.After(ref) {
		ref = newest
	}
	cutoff := ref.Add(-w.retention)
	drop := 0
	for drop < len(w.samples) && w.samples[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if over := len(w.samples) - drop - w.maxSamples; over > 0 {
		drop += over
	}
	if drop > 0 {
		remaining := len(w.samples) - drop
		copy(w.samples, w.samples[drop:])
		w.samples = w.samples[:remaining]
	}
	return drop > 0
}

func (w *window) recompute() {
	n := len(w.samples)
	snap := models.AggregateSnapshot{Metric: w.metric, Count: n}
	if n == 0 {
		w.snapshot = snap
		w.hasSnap = true
		return
	}

	values := make([]float64, n)
	sum := 0.0
	for i, s := range w.samples {
		values[i] = s.Value
		sum += s.Value
	}
	mean := sum / float64(n)

	variance := 0.0
	if n > 1 {
		for _, v := range values {
			d := v - mean
			variance += d * d
		}
		variance /= float64(n - 1)
	}

	sort.Float64s(values)
	p25, p75 := quartiles(values)

	snap.Mean = mean
	snap.StdDev = math.Sqrt(variance)
	snap.P25 = p25
	snap.P75 = p75
	snap.WindowStart = w.samples[0].Timestamp
	snap.WindowEnd = w.samples[n-1].Timestamp

	w.snapshot = snap
	w.hasSnap = true
}

// latest re-applies retention before answering so readers never see a
// snapshot built over expired samples.
func (w *window) latest() (models.AggregateSnapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.evict() {
		w.recompute()
	}
	return w.snapshot, w.hasSnap
}

func (w *window) series() []models.Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.evict() {
		w.recompute()
	}
	out := make([]models.Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// quartiles returns (Q1, Q3) as the medians of the lower and upper halves,
// excluding the middle element for odd-length input. A single value is its
// own quartile on both sides.
func quartiles(sorted []float64) (float64, float64) {
	n := len(sorted)
	if n == 0 {
		return 0, 0
	}
	if n == 1 {
		return sorted[0], sorted[0]
	}
	mid := n / 2
	upperStart := mid
	if n%2 == 1 {
		upperStart = mid + 1
	}
	return median(sorted[:mid]), median(sorted[upperStart:])
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
