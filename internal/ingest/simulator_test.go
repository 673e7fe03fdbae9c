package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/greenflowstack/greenflow-engine/internal/models"
)

type recordingSink struct {
	mu      sync.Mutex
	samples []models.Sample
}

func (r *recordingSink) Ingest(_ context.Context, sample models.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample)
	return nil
}

func (r *recordingSink) snapshot() []models.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Sample(nil), r.samples...)
}

func TestSimulatorEmitsAllMetricsPerCity(t *testing.T) {
	sink := &recordingSink{}
	sim := NewSimulator(nil, sink, Options{
		Interval: 5 * time.Millisecond,
		Cities:   []string{"delhi", "berlin"},
		Seed:     1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	sim.Run(ctx)

	samples := sink.snapshot()
	if len(samples) == 0 {
		t.Fatalf("simulator emitted nothing")
	}

	seen := make(map[string]map[models.Metric]bool)
	for _, s := range samples {
		if s.Timestamp.IsZero() {
			t.Fatalf("sample missing timestamp")
		}
		if seen[s.SourceID] == nil {
			seen[s.SourceID] = make(map[models.Metric]bool)
		}
		seen[s.SourceID][s.Metric] = true
	}
	for _, source := range []string{"sim-delhi", "sim-berlin"} {
		metrics := seen[source]
		if !metrics[models.MetricCO2] || !metrics[models.MetricAQI] || !metrics[models.MetricTemperature] {
			t.Fatalf("source %s missing metrics: %v", source, metrics)
		}
	}
}

func TestSimulatorValuesStayInBand(t *testing.T) {
	sink := &recordingSink{}
	sim := NewSimulator(nil, sink, Options{
		Interval:    time.Millisecond,
		Cities:      []string{"delhi"},
		SpikeChance: 0.5,
		Seed:        42,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	sim.Run(ctx)

	for _, s := range sink.snapshot() {
		switch s.Metric {
		case models.MetricCO2:
			if s.Value < 350 || s.Value > 1200 {
				t.Fatalf("co2 %.1f out of band", s.Value)
			}
		case models.MetricAQI:
			if s.Value < 15 || s.Value > 400 {
				t.Fatalf("aqi %.1f out of band", s.Value)
			}
		case models.MetricTemperature:
			if s.Value < 10 || s.Value > 48 {
				t.Fatalf("temperature %.1f out of band", s.Value)
			}
		}
	}
}

func TestSimulatorStopsOnCancel(t *testing.T) {
	sink := &recordingSink{}
	sim := NewSimulator(nil, sink, Options{Interval: time.Millisecond, Seed: 7})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sim.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("simulator did not stop on cancel")
	}
}
