package engine

import (
	"math"
	"time"

	"github.com/greenflowstack/greenflow-engine/internal/models"
)

// Normalisation constants for the composite score. CO2 is scored by its
// deviation above the global atmospheric baseline, AQI and the anomaly count
// on absolute scales.
const (
	BaselineCO2 = 420.0
	BaselineAQI = 85.0

	co2Span     = 580.0 // 420ppm -> 0, 1000ppm -> 1
	aqiSpan     = 200.0
	anomalySpan = 4.0

	weightAQI     = 0.65
	weightCO2     = 0.25
	weightAnomaly = 0.10
)

// RiskModel turns current readings into a 0..100 composite score and a
// discrete safety level. The cut points are configuration, not constants;
// zero values fall back to the documented defaults.
type RiskModel struct {
	SafeThreshold     float64
	HighThreshold     float64
	CriticalThreshold float64
}

// NewRiskModel builds a model from the configured thresholds.
func NewRiskModel(safe, high, critical float64) RiskModel {
	if safe <= 0 {
		safe = 40
	}
	if high <= 0 {
		high = 55
	}
	if critical <= 0 {
		critical = 75
	}
	return RiskModel{SafeThreshold: safe, HighThreshold: high, CriticalThreshold: critical}
}

// Score computes the weighted composite of AQI, CO2 deviation from the
// global baseline, and the number of currently active anomalies. Monotonic
// in every input; always within [0,100].
func (m RiskModel) Score(co2, aqi float64, activeAnomalies int) models.RiskScore {
	nCO2 := clamp01((co2 - BaselineCO2) / co2Span)
	nAQI := clamp01(aqi / aqiSpan)
	nAnomaly := clamp01(float64(activeAnomalies) / anomalySpan)

	raw := (nAQI*weightAQI + nCO2*weightCO2 + nAnomaly*weightAnomaly) * 100.0
	value := math.Round(math.Max(0, math.Min(100, raw))*100) / 100

	level := m.Classify(value)
	return models.RiskScore{
		Value:          value,
		Level:          level,
		Recommendation: recommendationFor(level, co2),
		ComputedAt:     time.Now().UTC(),
	}
}

// Classify maps a continuous score onto the configured bands.
func (m RiskModel) Classify(value float64) models.RiskLevel {
	switch {
	case value < m.SafeThreshold:
		return models.RiskSafe
	case value < m.HighThreshold:
		return models.RiskModerate
	case value < m.CriticalThreshold:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

func recommendationFor(level models.RiskLevel, co2 float64) string {
	var rec string
	switch level {
	case models.RiskSafe:
		rec = "Air quality is excellent. Ideal conditions for outdoor activities and natural ventilation."
	case models.RiskModerate:
		rec = "Moderate risk detected. Sensitive individuals should limit prolonged outdoor exertion."
	case models.RiskHigh:
		rec = "Significant environmental stress. Close windows, activate air filtration, and reduce energy consumption."
	default:
		rec = "Hazardous conditions. Evacuate non-essential personnel, activate emergency HVAC protocols, and seek filtered environments."
	}
	if co2 > 800 {
		rec += " High CO2 alert: increase mechanical ventilation immediately."
	}
	return rec
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
