package alerting

import (
	"github.com/greenflowstack/greenflow-engine/internal/models"
)

// ThresholdRule maps absolute metric levels to alert severities. Rules fire
// independently of the statistical detector: a slow drift past a hard limit
// never looks anomalous against its own window.
type ThresholdRule struct {
	Metric   models.Metric
	Low      float64
	Medium   float64
	High     float64
	Critical float64
	Type     string
	Unit     string
}

// DefaultRules returns the built-in threshold table for environmental
// telemetry.
func DefaultRules() []ThresholdRule {
	return []ThresholdRule{
		{Metric: models.MetricCO2, Low: 600, Medium: 700, High: 800, Critical: 950, Type: "co2_high", Unit: "ppm"},
		{Metric: models.MetricAQI, Low: 100, Medium: 150, High: 200, Critical: 300, Type: "aqi_high", Unit: "AQI"},
		{Metric: models.MetricTemperature, Low: 35, Medium: 38, High: 40, Critical: 45, Type: "temperature_high", Unit: "°C"},
	}
}

// classify returns the severity for a value, or false when below every cut.
func (r ThresholdRule) classify(value float64) (models.Severity, bool) {
	switch {
	case value >= r.Critical:
		return models.SeverityCritical, true
	case value >= r.High:
		return models.SeverityHigh, true
	case value >= r.Medium:
		return models.SeverityMedium, true
	case value >= r.Low:
		return models.SeverityLow, true
	default:
		return "", false
	}
}
