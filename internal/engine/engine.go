package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/greenflowstack/greenflow-engine/internal/aggregator"
	"github.com/greenflowstack/greenflow-engine/internal/dispatch"
	"github.com/greenflowstack/greenflow-engine/internal/models"
)

// AnomalyCounter reports how many anomaly alert types are currently active.
// Satisfied by the alert manager.
type AnomalyCounter interface {
	ActiveCount() int
}

// Options bundle the engine's tunables.
type Options struct {
	Risk            RiskModel
	Forecaster      Forecaster
	RefreshInterval time.Duration
}

// Engine derives risk scores and forecasts from the aggregator's snapshots
// and pushes fresh results to the dispatch hub the moment they are computed.
// It owns no window state: every computation reads immutable snapshots.
type Engine struct {
	logger    *slog.Logger
	agg       *aggregator.Aggregator
	hub       *dispatch.Hub
	anomalies AnomalyCounter
	risk      RiskModel
	forecast  Forecaster
	simulator Simulator
	refresh   time.Duration
}

// New constructs the risk and forecast engine. The hub may be nil when no
// live push surface is wired; the counter may be nil before alerting exists.
func New(logger *slog.Logger, agg *aggregator.Aggregator, hub *dispatch.Hub, anomalies AnomalyCounter, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 30 * time.Second
	}
	return &Engine{
		logger:    logger,
		agg:       agg,
		hub:       hub,
		anomalies: anomalies,
		risk:      opts.Risk,
		forecast:  opts.Forecaster,
		simulator: NewSimulator(opts.Risk),
		refresh:   opts.RefreshInterval,
	}
}

// CurrentRisk scores the latest readings. Cold start is not an error: with
// no data yet the global baselines stand in, yielding a defined low score.
func (e *Engine) CurrentRisk() models.RiskScore {
	base := e.baseline()
	return e.risk.Score(base.CO2, base.AQI, base.AnomalyCount)
}

// CurrentForecast extrapolates the CO2 series. During cold start the result
// is marked unavailable rather than failing.
func (e *Engine) CurrentForecast() models.ForecastResult {
	return e.forecast.Forecast(models.MetricCO2, e.agg.Series(models.MetricCO2))
}

// Simulate runs a stateless what-if projection against the live baseline.
func (e *Engine) Simulate(req models.SimulationRequest) (models.SimulationResult, error) {
	return e.simulator.Simulate(e.baseline(), req)
}

// Recompute derives a fresh risk score and forecast and publishes both.
// Called after every accepted sample and by the periodic refresher.
func (e *Engine) Recompute() models.RiskScore {
	score := e.CurrentRisk()
	forecast := e.CurrentForecast()

	if e.hub != nil {
		e.hub.Publish(dispatch.Event{Kind: dispatch.EventRisk, Payload: score})
		if !forecast.Unavailable {
			e.hub.Publish(dispatch.Event{Kind: dispatch.EventForecast, Payload: forecast})
		}
	}
	return score
}

// Run recomputes on a fixed interval until the context is cancelled, so
// subscribers keep receiving state even when ingestion stalls.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("risk refresher stopped")
			return
		case <-ticker.C:
			score := e.Recompute()
			e.logger.Debug("periodic risk refresh",
				slog.Float64("value", score.Value),
				slog.String("level", string(score.Level)))
		}
	}
}

// baseline assembles the live readings a score or simulation starts from.
// Missing metrics fall back to the global baselines.
func (e *Engine) baseline() Baseline {
	base := Baseline{CO2: BaselineCO2, AQI: BaselineAQI}
	if snap, ok := e.agg.Snapshot(models.MetricCO2); ok && snap.Count > 0 {
		base.CO2 = snap.Mean
	}
	if snap, ok := e.agg.Snapshot(models.MetricAQI); ok && snap.Count > 0 {
		base.AQI = snap.Mean
	}
	if e.anomalies != nil {
		base.AnomalyCount = e.anomalies.ActiveCount()
	}
	return base
}
