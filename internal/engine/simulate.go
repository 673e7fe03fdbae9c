package engine

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/greenflowstack/greenflow-engine/internal/models"
)

// Emission source shares of urban CO2 and the dilution cap for ventilation.
// Ventilation disperses local concentration rather than cutting emissions,
// so its effect is capped.
const (
	trafficCO2Share        = 0.27
	industryCO2Share       = 0.33
	maxVentilationDilution = 0.30

	// Diminishing-returns elasticity per lever.
	trafficSteepness     = 1.6
	ventilationSteepness = 1.2
	industrySteepness    = 1.8

	// AQI co-reduction per lever at full intervention.
	trafficAQICoeff     = 0.35
	industryAQICoeff    = 0.40
	ventilationAQICoeff = 0.20

	// Physical floors: urban CO2 never drops below the rural background and
	// AQI never reaches a perfect zero.
	co2Floor = 300.0
	aqiFloor = 10.0
)

// InvalidInterventionError rejects a simulation request whose levers are
// negative or not numeric. Values above 100 are clamped, not rejected.
type InvalidInterventionError struct {
	Field  string
	Reason string
}

func (e *InvalidInterventionError) Error() string {
	return fmt.Sprintf("invalid intervention %q: %s", e.Field, e.Reason)
}

// Baseline carries the live readings a simulation starts from.
type Baseline struct {
	CO2          float64
	AQI          float64
	AnomalyCount int
}

// Simulator runs stateless what-if projections. New values are scored with
// the same RiskModel as live data, so simulated and live risk never diverge
// in semantics.
type Simulator struct {
	risk RiskModel
}

// NewSimulator builds a simulator sharing the live risk model.
func NewSimulator(risk RiskModel) Simulator {
	return Simulator{risk: risk}
}

// Simulate applies the three intervention levers to the baseline and reports
// the hypothetical outcome. Pure: identical inputs yield identical output,
// and no shared state is touched.
func (s Simulator) Simulate(base Baseline, req models.SimulationRequest) (models.SimulationResult, error) {
	if err := validateLever("traffic_reduction_pct", req.TrafficReductionPct); err != nil {
		return models.SimulationResult{}, err
	}
	if err := validateLever("ventilation_increase_pct", req.VentilationIncreasePct); err != nil {
		return models.SimulationResult{}, err
	}
	if err := validateLever("industry_reduction_pct", req.IndustryReductionPct); err != nil {
		return models.SimulationResult{}, err
	}

	baseCO2 := ResolveBaseline(req.BaselineCO2, base.CO2, BaselineCO2)
	baseAQI := ResolveBaseline(req.BaselineAQI, base.AQI, BaselineAQI)

	t := math.Min(req.TrafficReductionPct, 100) / 100
	v := math.Min(req.VentilationIncreasePct, 100) / 100
	i := math.Min(req.IndustryReductionPct, 100) / 100

	effT := diminishing(t, trafficSteepness)
	effV := diminishing(v, ventilationSteepness)
	effI := diminishing(i, industrySteepness)

	trafficSaved := baseCO2 * trafficCO2Share * effT
	industrySaved := baseCO2 * industryCO2Share * effI
	ventilDiluted := baseCO2 * math.Min(effV, maxVentilationDilution)

	totalReduction := trafficSaved + industrySaved + ventilDiluted
	newCO2 := baseCO2
	if totalReduction > 0 {
		newCO2 = math.Max(co2Floor, baseCO2-totalReduction)
	}

	aqiReduction := baseAQI*trafficAQICoeff*effT +
		baseAQI*industryAQICoeff*effI +
		baseAQI*ventilationAQICoeff*effV
	newAQI := baseAQI
	if aqiReduction > 0 {
		newAQI = math.Max(aqiFloor, baseAQI-aqiReduction)
	}

	baselineRisk := s.risk.Score(baseCO2, baseAQI, base.AnomalyCount)
	newRisk := s.risk.Score(newCO2, newAQI, base.AnomalyCount)

	reductionPct := 0.0
	if baseCO2 > 0 {
		reductionPct = totalReduction / baseCO2 * 100
	}

	result := models.SimulationResult{
		BaselineCO2:     round2(baseCO2),
		NewCO2:          round2(newCO2),
		BaselineRisk:    baselineRisk.Value,
		NewRisk:         newRisk.Value,
		CO2ReductionPPM: round2(totalReduction),
		CO2ReductionPct: math.Round(reductionPct*10) / 10,
		AlertLevel:      newRisk.Level,
		ComputedAt:      time.Now().UTC(),
	}
	result.Explanation = buildExplanation(req, result, trafficSaved, industrySaved, ventilDiluted)
	return result, nil
}

// diminishing maps an intervention fraction [0,1] to an effective reduction
// fraction on a saturating curve. Full intervention never yields full
// reduction.
func diminishing(pct, steepness float64) float64 {
	if pct <= 0 {
		return 0
	}
	return 1 - math.Exp(-steepness*pct)
}

func validateLever(field string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return &InvalidInterventionError{Field: field, Reason: "must be a finite number"}
	}
	if value < 0 {
		return &InvalidInterventionError{Field: field, Reason: "must not be negative"}
	}
	return nil
}

func buildExplanation(req models.SimulationRequest, res models.SimulationResult, trafficSaved, industrySaved, ventilDiluted float64) string {
	var parts []string

	switch {
	case res.CO2ReductionPct >= 15:
		parts = append(parts, fmt.Sprintf("Significant improvement: %.1f%% CO2 reduction achieved.", res.CO2ReductionPct))
	case res.CO2ReductionPct >= 5:
		parts = append(parts, fmt.Sprintf("Meaningful reduction: %.1f%% CO2 cut projected.", res.CO2ReductionPct))
	case res.CO2ReductionPct > 0:
		parts = append(parts, fmt.Sprintf("Marginal improvement: %.1f%% CO2 reduction possible.", res.CO2ReductionPct))
	default:
		parts = append(parts, "No meaningful interventions applied.")
	}

	var sources []string
	if req.TrafficReductionPct > 0 {
		sources = append(sources, fmt.Sprintf("traffic reduction (-%.1f ppm)", trafficSaved))
	}
	if req.IndustryReductionPct > 0 {
		sources = append(sources, fmt.Sprintf("industrial cutback (-%.1f ppm)", industrySaved))
	}
	if req.VentilationIncreasePct > 0 {
		sources = append(sources, fmt.Sprintf("ventilation boost (-%.1f ppm dilution)", ventilDiluted))
	}
	if len(sources) > 0 {
		parts = append(parts, "Breakdown: "+strings.Join(sources, ", ")+".")
	}

	parts = append(parts, fmt.Sprintf("CO2 moves from %.1f to %.1f ppm.", res.BaselineCO2, res.NewCO2))

	riskDelta := res.BaselineRisk - res.NewRisk
	direction := "unchanged"
	if riskDelta > 0 {
		direction = "improved"
	}
	parts = append(parts, fmt.Sprintf("Risk score %s from %.1f to %.1f.", direction, res.BaselineRisk, res.NewRisk))

	switch res.AlertLevel {
	case models.RiskSafe:
		parts = append(parts, "City achieves SAFE status; outdoor activities are unrestricted.")
	case models.RiskModerate:
		parts = append(parts, "City status: MODERATE; sensitive groups should still take precautions.")
	case models.RiskHigh:
		parts = append(parts, "City status remains HIGH; sustained action needed over multiple days.")
	default:
		parts = append(parts, "City status still CRITICAL; intervention scale is insufficient, escalate immediately.")
	}

	return strings.Join(parts, " ")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
