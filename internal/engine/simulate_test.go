package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/greenflowstack/greenflow-engine/internal/models"
)

func testBaseline() Baseline {
	return Baseline{CO2: 480, AQI: 120, AnomalyCount: 0}
}

func TestSimulateIdentity(t *testing.T) {
	sim := NewSimulator(defaultModel())

	res, err := sim.Simulate(testBaseline(), models.SimulationRequest{})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if res.NewCO2 != res.BaselineCO2 {
		t.Fatalf("zero interventions changed CO2: %.2f -> %.2f", res.BaselineCO2, res.NewCO2)
	}
	if res.NewRisk != res.BaselineRisk {
		t.Fatalf("zero interventions changed risk: %.2f -> %.2f", res.BaselineRisk, res.NewRisk)
	}
	if res.CO2ReductionPPM != 0 || res.CO2ReductionPct != 0 {
		t.Fatalf("zero interventions reported a reduction: %+v", res)
	}
}

func TestSimulateIdempotent(t *testing.T) {
	sim := NewSimulator(defaultModel())
	req := models.SimulationRequest{
		TrafficReductionPct:    30,
		VentilationIncreasePct: 20,
		IndustryReductionPct:   10,
	}

	first, err := sim.Simulate(testBaseline(), req)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	second, err := sim.Simulate(testBaseline(), req)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	if first.NewCO2 != second.NewCO2 || first.NewRisk != second.NewRisk ||
		first.CO2ReductionPPM != second.CO2ReductionPPM || first.AlertLevel != second.AlertLevel {
		t.Fatalf("identical inputs diverged: %+v vs %+v", first, second)
	}
}

func TestSimulateReducesCO2AndRisk(t *testing.T) {
	sim := NewSimulator(defaultModel())
	req := models.SimulationRequest{TrafficReductionPct: 50, IndustryReductionPct: 50}

	res, err := sim.Simulate(testBaseline(), req)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if res.NewCO2 >= res.BaselineCO2 {
		t.Fatalf("interventions did not reduce CO2: %.2f -> %.2f", res.BaselineCO2, res.NewCO2)
	}
	if res.NewRisk > res.BaselineRisk {
		t.Fatalf("interventions increased risk: %.2f -> %.2f", res.BaselineRisk, res.NewRisk)
	}
	if res.Explanation == "" {
		t.Fatalf("explanation must not be empty")
	}
}

func TestSimulateRejectsNegativeLever(t *testing.T) {
	sim := NewSimulator(defaultModel())

	_, err := sim.Simulate(testBaseline(), models.SimulationRequest{TrafficReductionPct: -5})
	var invalid *InvalidInterventionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidInterventionError, got %v", err)
	}
	if invalid.Field != "traffic_reduction_pct" {
		t.Fatalf("error names field %q", invalid.Field)
	}
}

func TestSimulateRejectsNonFiniteLever(t *testing.T) {
	sim := NewSimulator(defaultModel())

	for _, bad := range []float64{math.NaN(), math.Inf(1)} {
		_, err := sim.Simulate(testBaseline(), models.SimulationRequest{IndustryReductionPct: bad})
		var invalid *InvalidInterventionError
		if !errors.As(err, &invalid) {
			t.Fatalf("expected InvalidInterventionError for %v, got %v", bad, err)
		}
	}
}

func TestSimulateClampsOversizedLever(t *testing.T) {
	sim := NewSimulator(defaultModel())

	capped, err := sim.Simulate(testBaseline(), models.SimulationRequest{TrafficReductionPct: 100})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	oversized, err := sim.Simulate(testBaseline(), models.SimulationRequest{TrafficReductionPct: 250})
	if err != nil {
		t.Fatalf("values above 100 must clamp, not fail: %v", err)
	}
	if oversized.NewCO2 != capped.NewCO2 {
		t.Fatalf("250%% should behave like 100%%: %.2f vs %.2f", oversized.NewCO2, capped.NewCO2)
	}
}

func TestSimulateDiminishingReturns(t *testing.T) {
	sim := NewSimulator(defaultModel())

	half, _ := sim.Simulate(testBaseline(), models.SimulationRequest{TrafficReductionPct: 50})
	full, _ := sim.Simulate(testBaseline(), models.SimulationRequest{TrafficReductionPct: 100})

	// Doubling the lever must help, but less than twice as much.
	if full.CO2ReductionPPM <= half.CO2ReductionPPM {
		t.Fatalf("full intervention should beat half: %.2f vs %.2f", full.CO2ReductionPPM, half.CO2ReductionPPM)
	}
	if full.CO2ReductionPPM >= 2*half.CO2ReductionPPM {
		t.Fatalf("returns must diminish: half=%.2f full=%.2f", half.CO2ReductionPPM, full.CO2ReductionPPM)
	}
}

func TestSimulateRespectsCO2Floor(t *testing.T) {
	sim := NewSimulator(defaultModel())
	base := Baseline{CO2: 320, AQI: 40}

	res, err := sim.Simulate(base, models.SimulationRequest{
		TrafficReductionPct:    100,
		VentilationIncreasePct: 100,
		IndustryReductionPct:   100,
	})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if res.NewCO2 < 300 {
		t.Fatalf("CO2 dropped below the physical floor: %.2f", res.NewCO2)
	}
}

func TestSimulateBaselineOverrides(t *testing.T) {
	sim := NewSimulator(defaultModel())
	co2 := 650.0
	aqi := 190.0

	res, err := sim.Simulate(testBaseline(), models.SimulationRequest{
		BaselineCO2: &co2,
		BaselineAQI: &aqi,
	})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if res.BaselineCO2 != 650 {
		t.Fatalf("override ignored, baseline CO2 = %.2f", res.BaselineCO2)
	}
}

func TestResolveBaseline(t *testing.T) {
	override := 777.0
	if got := ResolveBaseline(&override, 500, 420); got != 777 {
		t.Fatalf("override must win, got %.1f", got)
	}
	if got := ResolveBaseline(nil, 500, 420); got != 500 {
		t.Fatalf("live must beat default, got %.1f", got)
	}
	if got := ResolveBaseline(nil, 0, 420); got != 420 {
		t.Fatalf("default must stand in for missing data, got %.1f", got)
	}
}
