package models

import "time"

// Metric enumerates the environmental signals tracked by the engine.
type Metric string

const (
	MetricCO2         Metric = "co2"
	MetricAQI         Metric = "aqi"
	MetricTemperature Metric = "temperature"
)

// Sample is a single decoded telemetry reading. Immutable once created.
type Sample struct {
	Metric    Metric    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	SourceID  string    `json:"source_id"`
}

// AggregateSnapshot captures moving statistics over one metric's window.
// Snapshots are value copies; downstream consumers never share window state.
type AggregateSnapshot struct {
	Metric      Metric    `json:"metric"`
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"stddev"`
	P25         float64   `json:"p25"`
	P75         float64   `json:"p75"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// DetectionMethod identifies which statistical test flagged a sample.
type DetectionMethod string

const (
	MethodZScore DetectionMethod = "zscore"
	MethodIQR    DetectionMethod = "iqr"
)

// Severity captures impact levels for anomalies and alerts.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AnomalyFlag marks a statistically abnormal sample. Consumed and discarded
// by the alert manager.
type AnomalyFlag struct {
	Metric     Metric            `json:"metric"`
	Sample     Sample            `json:"sample"`
	Methods    []DetectionMethod `json:"methods"`
	ZScore     float64           `json:"z_score"`
	Severity   Severity          `json:"severity"`
	Message    string            `json:"message"`
	DetectedAt time.Time         `json:"detected_at"`
}

// FlaggedBy reports whether the given method contributed to the flag.
func (f AnomalyFlag) FlaggedBy(method DetectionMethod) bool {
	for _, m := range f.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Alert is a deduplicated, cooldown-gated notification.
type Alert struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Message         string    `json:"message"`
	Severity        Severity  `json:"severity"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	SuppressedCount int       `json:"suppressed_count"`
}

// RiskLevel is the discrete safety classification derived from a risk score.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "SAFE"
	RiskModerate RiskLevel = "MODERATE"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskScore is a fresh value object per computation; it carries no identity
// across recomputations.
type RiskScore struct {
	Value          float64   `json:"value"`
	Level          RiskLevel `json:"level"`
	Recommendation string    `json:"recommendation"`
	ComputedAt     time.Time `json:"computed_at"`
}

// Trend classifies the direction of a forecast slope.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// ForecastResult is a deterministic extrapolation over the current window.
// Unavailable is set during cold start instead of returning an error.
type ForecastResult struct {
	Metric         Metric    `json:"metric"`
	CurrentValue   float64   `json:"current_value"`
	PredictedValue float64   `json:"predicted_value"`
	HorizonSeconds float64   `json:"horizon_seconds"`
	Trend          Trend     `json:"trend"`
	Confidence     float64   `json:"confidence"`
	Unavailable    bool      `json:"unavailable,omitempty"`
	ComputedAt     time.Time `json:"computed_at"`
}

// SimulationRequest carries caller-supplied intervention percentages.
// Baseline overrides are optional; when absent the live baseline is used.
type SimulationRequest struct {
	TrafficReductionPct    float64  `json:"traffic_reduction_pct"`
	VentilationIncreasePct float64  `json:"ventilation_increase_pct"`
	IndustryReductionPct   float64  `json:"industry_reduction_pct"`
	BaselineCO2            *float64 `json:"baseline_co2,omitempty"`
	BaselineAQI            *float64 `json:"baseline_aqi,omitempty"`
}

// SimulationResult is the hypothetical adjusted outcome of a what-if run.
type SimulationResult struct {
	BaselineCO2     float64   `json:"baseline_co2"`
	NewCO2          float64   `json:"new_co2"`
	BaselineRisk    float64   `json:"baseline_risk"`
	NewRisk         float64   `json:"new_risk"`
	CO2ReductionPPM float64   `json:"co2_reduction_ppm"`
	CO2ReductionPct float64   `json:"co2_reduction_pct"`
	AlertLevel      RiskLevel `json:"alert_level"`
	Explanation     string    `json:"explanation"`
	ComputedAt      time.Time `json:"computed_at"`
}
