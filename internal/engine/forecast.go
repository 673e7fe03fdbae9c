package engine

import (
	"time"

	"github.com/greenflowstack/greenflow-engine/internal/models"
)

// Forecaster extrapolates a metric's near-term trajectory with a
// least-squares linear fit over the current window. Deterministic: the same
// series always yields the same forecast.
type Forecaster struct {
	Horizon       time.Duration
	TrendEpsilon  float64 // minimum |slope| in units/second to call a trend
	VarianceScale float64 // variance penalty divisor in the confidence term
}

// NewForecaster builds a forecaster, filling unset fields with defaults.
func NewForecaster(horizon time.Duration, trendEpsilon, varianceScale float64) Forecaster {
	if horizon <= 0 {
		horizon = 30 * time.Minute
	}
	if trendEpsilon <= 0 {
		trendEpsilon = 0.005
	}
	if varianceScale <= 0 {
		varianceScale = 100
	}
	return Forecaster{Horizon: horizon, TrendEpsilon: trendEpsilon, VarianceScale: varianceScale}
}

// Forecast fits value against time over the series, oldest first, and
// projects the fit forward by the horizon. Fewer than two points is a cold
// start: the result is marked unavailable rather than being an error.
func (f Forecaster) Forecast(metric models.Metric, series []models.Sample) models.ForecastResult {
	result := models.ForecastResult{
		Metric:         metric,
		HorizonSeconds: f.Horizon.Seconds(),
		Trend:          models.TrendStable,
		ComputedAt:     time.Now().UTC(),
	}

	if len(series) < 2 {
		result.Unavailable = true
		if len(series) == 1 {
			result.CurrentValue = series[0].Value
			result.PredictedValue = series[0].Value
		}
		return result
	}

	origin := series[0].Timestamp
	n := float64(len(series))
	var sumX, sumY, sumXY, sumXX float64
	for _, s := range series {
		x := s.Timestamp.Sub(origin).Seconds()
		sumX += x
		sumY += s.Value
		sumXY += x * s.Value
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	var slope, intercept float64
	if denom != 0 {
		slope = (n*sumXY - sumX*sumY) / denom
		intercept = (sumY - slope*sumX) / n
	} else {
		// All samples share one timestamp; the best fit is a flat line.
		intercept = sumY / n
	}

	last := series[len(series)-1]
	lastX := last.Timestamp.Sub(origin).Seconds()
	result.CurrentValue = last.Value
	result.PredictedValue = slope*(lastX+f.Horizon.Seconds()) + intercept

	switch {
	case slope > f.TrendEpsilon:
		result.Trend = models.TrendIncreasing
	case slope < -f.TrendEpsilon:
		result.Trend = models.TrendDecreasing
	}

	mean := sumY / n
	var variance float64
	for _, s := range series {
		d := s.Value - mean
		variance += d * d
	}
	variance /= n
	result.Confidence = n / (n + 1 + variance/f.VarianceScale)

	return result
}
