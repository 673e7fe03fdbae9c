package aggregator

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/greenflowstack/greenflow-engine/internal/models"
)

func co2Sample(ts time.Time, value float64) models.Sample {
	return models.Sample{Metric: models.MetricCO2, Value: value, Timestamp: ts, SourceID: "sensor-1"}
}

func TestIngestComputesStatistics(t *testing.T) {
	agg := New(nil, Options{Retention: 10 * time.Minute, MaxSamples: 100, SkewTolerance: 30 * time.Second})

	start := time.Now().Add(-5 * time.Minute)
	values := []float64{400, 410, 420, 430, 440}
	var snap models.AggregateSnapshot
	var err error
	for i, v := range values {
		snap, err = agg.Ingest(co2Sample(start.Add(time.Duration(i)*time.Second), v))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if snap.Count != 5 {
		t.Fatalf("expected count 5, got %d", snap.Count)
	}
	if snap.Mean != 420 {
		t.Fatalf("expected mean 420, got %v", snap.Mean)
	}
	// Sample stddev of an arithmetic sequence with step 10.
	if math.Abs(snap.StdDev-15.811) > 0.01 {
		t.Fatalf("unexpected stddev: %v", snap.StdDev)
	}
	if snap.P25 != 405 || snap.P75 != 435 {
		t.Fatalf("unexpected quartiles: p25=%v p75=%v", snap.P25, snap.P75)
	}
}

func TestRetentionEvictsOldSamples(t *testing.T) {
	agg := New(nil, Options{Retention: time.Minute, MaxSamples: 1000, SkewTolerance: time.Second})

	start := time.Now().Add(-3 * time.Minute)
	for i := 0; i < 180; i++ {
		if _, err := agg.Ingest(co2Sample(start.Add(time.Duration(i)*time.Second), 420)); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	snap, ok := agg.Snapshot(models.MetricCO2)
	if !ok {
		t.Fatalf("expected snapshot")
	}
	if got := snap.WindowEnd.Sub(snap.WindowStart); got > time.Minute {
		t.Fatalf("window spans %v, exceeds retention", got)
	}
	// One sample per second over a one-minute window.
	if snap.Count == 0 || snap.Count > 61 {
		t.Fatalf("expected 1..61 retained samples, got %d", snap.Count)
	}
}

func TestIngestDropsAlreadyExpiredSamples(t *testing.T) {
	agg := New(nil, Options{Retention: 10 * time.Minute, MaxSamples: 100, SkewTolerance: 30 * time.Second})

	start := time.Now().Add(-30 * time.Minute)
	for i := 0; i < 5; i++ {
		if _, err := agg.Ingest(co2Sample(start.Add(time.Duration(i)*time.Second), 420)); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	snap, _ := agg.Snapshot(models.MetricCO2)
	if snap.Count != 0 {
		t.Fatalf("expired samples retained: count=%d window=[%v, %v]", snap.Count, snap.WindowStart, snap.WindowEnd)
	}
	if series := agg.Series(models.MetricCO2); len(series) != 0 {
		t.Fatalf("expired samples served by Series: %d", len(series))
	}
}

func TestReadPathEvictsWhenFeedStalls(t *testing.T) {
	w := newWindow(models.MetricCO2, 10*time.Minute, 100, 30*time.Second)
	base := time.Now()
	w.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		if _, err := w.add(co2Sample(base.Add(time.Duration(i)*time.Second), 420)); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if snap, _ := w.latest(); snap.Count != 5 {
		t.Fatalf("expected 5 samples before stall, got %d", snap.Count)
	}

	// The feed stops; the clock keeps moving past retention.
	w.now = func() time.Time { return base.Add(30 * time.Minute) }

	snap, ok := w.latest()
	if !ok {
		t.Fatalf("expected snapshot after drain")
	}
	if snap.Count != 0 {
		t.Fatalf("stalled window still holds %d samples", snap.Count)
	}
	if series := w.series(); len(series) != 0 {
		t.Fatalf("stalled window still serves %d samples", len(series))
	}
}

func TestReadPathRecomputesAfterPartialExpiry(t *testing.T) {
	w := newWindow(models.MetricCO2, 10*time.Minute, 100, 30*time.Second)
	base := time.Now()
	w.now = func() time.Time { return base }

	if _, err := w.add(co2Sample(base.Add(-9*time.Minute), 900)); err != nil {
		t.Fatalf("add old: %v", err)
	}
	if _, err := w.add(co2Sample(base, 420)); err != nil {
		t.Fatalf("add new: %v", err)
	}

	// Five minutes later only the newer sample is inside retention.
	w.now = func() time.Time { return base.Add(5 * time.Minute) }

	snap, _ := w.latest()
	if snap.Count != 1 {
		t.Fatalf("expected 1 sample after partial expiry, got %d", snap.Count)
	}
	if snap.Mean != 420 {
		t.Fatalf("stats not recomputed after expiry: mean=%v", snap.Mean)
	}
}

func TestSingleSampleQuartilesEqualValue(t *testing.T) {
	agg := New(nil, Options{Retention: 10 * time.Minute, MaxSamples: 100, SkewTolerance: time.Second})

	snap, err := agg.Ingest(co2Sample(time.Now(), 437))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.P25 != 437 || snap.P75 != 437 {
		t.Fatalf("single-sample quartiles should equal the value, got p25=%v p75=%v", snap.P25, snap.P75)
	}
}

func TestMaxSamplesBoundsWindow(t *testing.T) {
	agg := New(nil, Options{Retention: time.Hour, MaxSamples: 50, SkewTolerance: time.Second})

	start := time.Now().Add(-30 * time.Minute)
	for i := 0; i < 500; i++ {
		if _, err := agg.Ingest(co2Sample(start.Add(time.Duration(i)*time.Second), float64(i))); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	snap, _ := agg.Snapshot(models.MetricCO2)
	if snap.Count != 50 {
		t.Fatalf("expected window capped at 50, got %d", snap.Count)
	}
}

func TestRejectsTooSkewedSample(t *testing.T) {
	agg := New(nil, Options{Retention: 10 * time.Minute, MaxSamples: 100, SkewTolerance: 30 * time.Second})

	now := time.Now()
	for i := 0; i < 5; i++ {
		if _, err := agg.Ingest(co2Sample(now.Add(time.Duration(i)*time.Second), 420)); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	_, err := agg.Ingest(co2Sample(now.Add(-5*time.Minute), 420))
	var invalid *InvalidSampleError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidSampleError, got %v", err)
	}

	// Rejection must not disturb the window.
	snap, _ := agg.Snapshot(models.MetricCO2)
	if snap.Count != 5 {
		t.Fatalf("expected 5 samples after rejection, got %d", snap.Count)
	}
}

func TestAcceptsStragglerWithinSkew(t *testing.T) {
	agg := New(nil, Options{Retention: 10 * time.Minute, MaxSamples: 100, SkewTolerance: 30 * time.Second})

	now := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := agg.Ingest(co2Sample(now.Add(time.Duration(i)*time.Second), 420)); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	// Ten seconds behind the newest point but ahead of earliest-skew.
	if _, err := agg.Ingest(co2Sample(now.Add(-10*time.Second), 425)); err != nil {
		t.Fatalf("expected straggler accepted, got %v", err)
	}

	series := agg.Series(models.MetricCO2)
	for i := 1; i < len(series); i++ {
		if series[i].Timestamp.Before(series[i-1].Timestamp) {
			t.Fatalf("window out of timestamp order at %d", i)
		}
	}
}

func TestRejectsNonFiniteValue(t *testing.T) {
	agg := New(nil, Options{})
	_, err := agg.Ingest(co2Sample(time.Now(), math.NaN()))
	var invalid *InvalidSampleError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidSampleError for NaN, got %v", err)
	}
}

func TestMetricsAreIsolated(t *testing.T) {
	agg := New(nil, Options{Retention: 10 * time.Minute, MaxSamples: 100, SkewTolerance: time.Second})

	now := time.Now()
	if _, err := agg.Ingest(co2Sample(now, 420)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := agg.Ingest(models.Sample{Metric: models.MetricAQI, Value: 80, Timestamp: now}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	co2, _ := agg.Snapshot(models.MetricCO2)
	aqi, _ := agg.Snapshot(models.MetricAQI)
	if co2.Count != 1 || aqi.Count != 1 {
		t.Fatalf("expected independent windows, got co2=%d aqi=%d", co2.Count, aqi.Count)
	}
	if co2.Mean == aqi.Mean {
		t.Fatalf("expected distinct means across metrics")
	}
}
