package aggregator

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/greenflowstack/greenflow-engine/internal/models"
)

// InvalidSampleError reports a sample rejected before it reached a window.
// The sample is dropped; ingestion of other samples continues.
type InvalidSampleError struct {
	Metric models.Metric
	Reason string
}

func (e *InvalidSampleError) Error() string {
	return fmt.Sprintf("invalid sample for metric %q: %s", e.Metric, e.Reason)
}

// Options bound every per-metric window owned by the aggregator.
type Options struct {
	Retention     time.Duration
	MaxSamples    int
	SkewTolerance time.Duration
}

// Aggregator exclusively owns all window state. Writes to one metric are
// serialized by that metric's window; snapshots leave as value copies.
type Aggregator struct {
	logger *slog.Logger
	opts   Options

	mu      sync.RWMutex
	windows map[models.Metric]*window
}

// New constructs an Aggregator with the supplied bounds.
func New(logger *slog.Logger, opts Options) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Retention <= 0 {
		opts.Retention = 10 * time.Minute
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	if opts.SkewTolerance < 0 {
		opts.SkewTolerance = 0
	}
	return &Aggregator{
		logger:  logger,
		opts:    opts,
		windows: make(map[models.Metric]*window),
	}
}

// Ingest appends a sample to its metric's window and returns the recomputed
// snapshot. Rejects non-finite values and samples behind the skew tolerance.
func (a *Aggregator) Ingest(sample models.Sample) (models.AggregateSnapshot, error) {
	if sample.Metric == "" {
		return models.AggregateSnapshot{}, &InvalidSampleError{Reason: "metric is required"}
	}
	if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		return models.AggregateSnapshot{}, &InvalidSampleError{Metric: sample.Metric, Reason: "value is not finite"}
	}
	if sample.Timestamp.IsZero() {
		return models.AggregateSnapshot{}, &InvalidSampleError{Metric: sample.Metric, Reason: "timestamp is required"}
	}

	snap, err := a.windowFor(sample.Metric).add(sample)
	if err != nil {
		a.logger.Debug("sample rejected",
			slog.String("metric", string(sample.Metric)),
			slog.String("source", sample.SourceID),
			slog.Any("error", err))
		return models.AggregateSnapshot{}, err
	}
	return snap, nil
}

// Snapshot returns the latest aggregate for a metric, if one exists.
func (a *Aggregator) Snapshot(metric models.Metric) (models.AggregateSnapshot, bool) {
	a.mu.RLock()
	w, ok := a.windows[metric]
	a.mu.RUnlock()
	if !ok {
		return models.AggregateSnapshot{}, false
	}
	return w.latest()
}

// Series returns a copy of the retained samples for a metric, oldest first.
func (a *Aggregator) Series(metric models.Metric) []models.Sample {
	a.mu.RLock()
	w, ok := a.windows[metric]
	a.mu.RUnlock()
	if !ok {
		return nil
	}
	return w.series()
}

func (a *Aggregator) windowFor(metric models.Metric) *window {
	a.mu.RLock()
	w, ok := a.windows[metric]
	a.mu.RUnlock()
	if ok {
		return w
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok = a.windows[metric]; ok {
		return w
	}
	w = newWindow(metric, a.opts.Retention, a.opts.MaxSamples, a.opts.SkewTolerance)
	a.windows[metric] = w
	return w
}
