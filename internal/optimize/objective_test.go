package optimize

import (
	"math"
	"testing"

	"github.com/regenheat/optimization-engine/pkg/models"
)

func sampleMetrics() *models.PerformanceMetrics {
	return &models.PerformanceMetrics{
		FuelConsumptionMW: 20.0,
		CO2EmissionsKgH:   4040.0,
		ThermalEfficiency: 0.85,
		PressureDropPa:    1200.0,
		OperatingCostPerH: 900.0,
	}
}

func TestObjectiveScores(t *testing.T) {
	tests := []struct {
		kind      models.ObjectiveKind
		want      float64
		minimizes bool
	}{
		{models.ObjectiveMinimizeFuel, 20.0, true},
		{models.ObjectiveMinimizeCO2, 4040.0, true},
		{models.ObjectiveMaximizeEfficiency, -0.85, false},
		{models.ObjectiveMinimizeCost, 900.0, true},
	}

	for _, tc := range tests {
		obj, err := NewObjectiveFunction(tc.kind, nil)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.kind, err)
		}
		if obj.Name() != string(tc.kind) {
			t.Fatalf("%s: unexpected name %q", tc.kind, obj.Name())
		}
		if obj.Direction() != tc.minimizes {
			t.Fatalf("%s: unexpected direction", tc.kind)
		}
		score, err := obj.Score(sampleMetrics())
		if err != nil {
			t.Fatalf("%s: score error: %v", tc.kind, err)
		}
		if score != tc.want {
			t.Fatalf("%s: expected score %v, got %v", tc.kind, tc.want, score)
		}
	}
}

func TestObjectiveNilMetrics(t *testing.T) {
	obj, err := NewObjectiveFunction(models.ObjectiveMinimizeFuel, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := obj.Score(nil); err == nil {
		t.Fatalf("expected error for nil metrics")
	}
}

func TestUnknownObjectiveKind(t *testing.T) {
	if _, err := NewObjectiveFunction("minimize_noise", nil); err == nil {
		t.Fatalf("expected error for unknown objective kind")
	}
}

func TestWeightedObjective(t *testing.T) {
	obj, err := NewObjectiveFunction(models.ObjectiveMultiObjective, map[models.ObjectiveKind]float64{
		models.ObjectiveMinimizeFuel:       0.5,
		models.ObjectiveMaximizeEfficiency: 2.0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	score, err := obj.Score(sampleMetrics())
	if err != nil {
		t.Fatalf("score error: %v", err)
	}
	want := 0.5*20.0 + 2.0*(-0.85)
	if math.Abs(score-want) > 1e-12 {
		t.Fatalf("expected weighted score %v, got %v", want, score)
	}
}

func TestWeightedObjectiveRejectsEmptyWeights(t *testing.T) {
	if _, err := NewWeightedObjective(nil); err == nil {
		t.Fatalf("expected error for empty weights")
	}
}

func TestWeightedObjectiveRejectsRecursiveWeight(t *testing.T) {
	_, err := NewWeightedObjective(map[models.ObjectiveKind]float64{
		models.ObjectiveMultiObjective: 1.0,
	})
	if err == nil {
		t.Fatalf("expected error for multi_objective weight")
	}
}
