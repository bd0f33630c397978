package optimize

import (
	"testing"

	"github.com/regenheat/optimization-engine/pkg/models"
)

func surrogateVars() []models.DesignVariable {
	return []models.DesignVariable{
		{Name: "checker_height_m", Lower: 4, Upper: 12, Baseline: 6},
		{Name: "brick_thickness_mm", Lower: 40, Upper: 120, Baseline: 64},
	}
}

func TestSurrogateEvaluatorMetrics(t *testing.T) {
	ev := NewSurrogateEvaluator(surrogateVars())

	m, err := ev.Evaluate(map[string]float64{"checker_height_m": 6, "brick_thickness_mm": 64})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.FuelConsumptionMW <= 0 || m.CO2EmissionsKgH <= 0 || m.OperatingCostPerH <= 0 {
		t.Fatalf("expected positive metrics, got %+v", m)
	}
	if m.ThermalEfficiency < 0.30 || m.ThermalEfficiency > 0.95 {
		t.Fatalf("efficiency out of range: %v", m.ThermalEfficiency)
	}
	if m.PressureDropPa < 300 {
		t.Fatalf("expected pressure drop above static floor, got %v", m.PressureDropPa)
	}
}

func TestSurrogateRewardsSweetSpot(t *testing.T) {
	ev := NewSurrogateEvaluator(surrogateVars())

	// 70% of range: height 9.6 m, thickness 96 mm.
	sweet, err := ev.Evaluate(map[string]float64{"checker_height_m": 9.6, "brick_thickness_mm": 96})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	edge, err := ev.Evaluate(map[string]float64{"checker_height_m": 4, "brick_thickness_mm": 40})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sweet.ThermalEfficiency <= edge.ThermalEfficiency {
		t.Fatalf("expected sweet-spot efficiency %v > edge efficiency %v", sweet.ThermalEfficiency, edge.ThermalEfficiency)
	}
	if sweet.FuelConsumptionMW >= edge.FuelConsumptionMW {
		t.Fatalf("expected sweet-spot fuel %v < edge fuel %v", sweet.FuelConsumptionMW, edge.FuelConsumptionMW)
	}
}

func TestSurrogateMissingVariableFallsBackToBaseline(t *testing.T) {
	ev := NewSurrogateEvaluator(surrogateVars())

	full, err := ev.Evaluate(map[string]float64{"checker_height_m": 6, "brick_thickness_mm": 64})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	partial, err := ev.Evaluate(map[string]float64{"checker_height_m": 6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if full.ThermalEfficiency != partial.ThermalEfficiency {
		t.Fatalf("expected baseline fallback to match explicit baseline")
	}
}

func TestSurrogateRejectsEmptyVariables(t *testing.T) {
	ev := NewSurrogateEvaluator(nil)
	if _, err := ev.Evaluate(map[string]float64{}); err == nil {
		t.Fatalf("expected error for evaluator without variables")
	}
}
