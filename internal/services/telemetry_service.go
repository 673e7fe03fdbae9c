package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/greenflowstack/greenflow-engine/internal/aggregator"
	"github.com/greenflowstack/greenflow-engine/internal/alerting"
	"github.com/greenflowstack/greenflow-engine/internal/detector"
	"github.com/greenflowstack/greenflow-engine/internal/dispatch"
	"github.com/greenflowstack/greenflow-engine/internal/engine"
	"github.com/greenflowstack/greenflow-engine/internal/metrics"
	"github.com/greenflowstack/greenflow-engine/internal/models"
	"github.com/greenflowstack/greenflow-engine/internal/store"
	"github.com/greenflowstack/greenflow-engine/internal/utils"
)

// Options tune facade behaviour independent of the component options.
type Options struct {
	PersistTimeout time.Duration
}

// TelemetryService is the single entry point the transport layer talks to.
// One Ingest call drives the whole pipeline: window update, anomaly
// evaluation, alert gating, risk and forecast recomputation, fan-out.
type TelemetryService struct {
	logger    *slog.Logger
	agg       *aggregator.Aggregator
	det       *detector.Detector
	alerts    *alerting.Manager
	engine    *engine.Engine
	hub       *dispatch.Hub
	store     store.Store
	latencies *utils.LatencyTracker
	opts      Options

	wg sync.WaitGroup
}

// NewTelemetryService wires the pipeline stages together.
func NewTelemetryService(
	logger *slog.Logger,
	agg *aggregator.Aggregator,
	det *detector.Detector,
	alerts *alerting.Manager,
	eng *engine.Engine,
	hub *dispatch.Hub,
	st store.Store,
	opts Options,
) *TelemetryService {
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		st = store.NoopStore{}
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 2 * time.Second
	}
	return &TelemetryService{
		logger:    logger,
		agg:       agg,
		det:       det,
		alerts:    alerts,
		engine:    eng,
		hub:       hub,
		store:     st,
		latencies: utils.NewLatencyTracker(1024),
		opts:      opts,
	}
}

// Ingest processes one telemetry sample through the full pipeline. Rejected
// samples return the aggregator's error; everything downstream of acceptance
// is best-effort and never fails the call.
func (s *TelemetryService) Ingest(ctx context.Context, sample models.Sample) error {
	start := time.Now()

	snap, err := s.agg.Ingest(sample)
	if err != nil {
		metrics.IncSampleRejected(string(sample.Metric))
		return err
	}
	metrics.IncSampleIngested(string(sample.Metric))

	if flag := s.det.Evaluate(snap, sample); flag != nil {
		for _, method := range flag.Methods {
			metrics.IncAnomaly(string(method))
		}
		s.logger.Debug("anomaly flagged",
			slog.String("metric", string(flag.Metric)),
			slog.Float64("value", sample.Value),
			slog.Float64("z_score", flag.ZScore))
		if alert := s.alerts.Process(*flag); alert != nil {
			metrics.IncAlertFired(alert.Type)
		} else {
			metrics.IncAlertSuppressed()
		}
	}

	for _, alert := range s.alerts.EvaluateThresholds(sample) {
		metrics.IncAlertFired(alert.Type)
	}

	score := s.engine.Recompute()
	metrics.SetRiskScore(score.Value)

	s.persistAggregateAsync(snap)

	duration := time.Since(start)
	s.latencies.Observe(duration)
	metrics.ObserveIngest(duration)
	if count := s.latencies.Count(); count >= 100 && count%500 == 0 {
		s.logger.Info("ingest latency",
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Int("samples", count))
	}
	return nil
}

// persistAggregateAsync mirrors the latest snapshot to the store without
// holding up ingestion. Storage failures are logged and swallowed.
func (s *TelemetryService) persistAggregateAsync(snap models.AggregateSnapshot) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.PersistTimeout)
		defer cancel()
		if err := s.store.PersistAggregate(ctx, snap); err != nil {
			s.logger.Warn("aggregate persistence failed",
				slog.String("metric", string(snap.Metric)),
				slog.Any("error", err))
		}
	}()
}

// CurrentRisk returns the latest composite risk score.
func (s *TelemetryService) CurrentRisk() models.RiskScore {
	return s.engine.CurrentRisk()
}

// CurrentForecast returns the latest CO2 forecast.
func (s *TelemetryService) CurrentForecast() models.ForecastResult {
	return s.engine.CurrentForecast()
}

// Simulate runs a what-if projection against the live baseline.
func (s *TelemetryService) Simulate(req models.SimulationRequest) (models.SimulationResult, error) {
	return s.engine.Simulate(req)
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *TelemetryService) RecentAlerts(limit int) []models.Alert {
	return s.alerts.Recent(limit)
}

// Subscribe registers a live event subscriber.
func (s *TelemetryService) Subscribe() *dispatch.Subscription {
	return s.hub.Subscribe()
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *TelemetryService) Unsubscribe(sub *dispatch.Subscription) {
	s.hub.Unsubscribe(sub)
}

// LatencyP95 reports the current p95 ingest latency.
func (s *TelemetryService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

// Drain waits for in-flight persistence work; called during shutdown.
func (s *TelemetryService) Drain() {
	s.wg.Wait()
	s.alerts.Flush()
}
