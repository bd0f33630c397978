package optimize

import (
	"github.com/regenheat/optimization-engine/pkg/models"
)

// Evaluator is the injected physics model that scores a candidate design.
// It is treated as a pure, possibly slow, non-interruptible function: the
// runner never cancels an in-flight evaluation.
type Evaluator interface {
	Evaluate(point map[string]float64) (*models.PerformanceMetrics, error)
}

// EvaluatorFunc adapts a plain function to the Evaluator interface.
type EvaluatorFunc func(point map[string]float64) (*models.PerformanceMetrics, error)

func (f EvaluatorFunc) Evaluate(point map[string]float64) (*models.PerformanceMetrics, error) {
	return f(point)
}

// MetricValue resolves a metric constraint target against evaluated metrics.
// Targets use the wire names of PerformanceMetrics fields.
func MetricValue(m *models.PerformanceMetrics, target string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch target {
	case "fuel_consumption_mw":
		return m.FuelConsumptionMW, true
	case "co2_emissions_kg_h":
		return m.CO2EmissionsKgH, true
	case "thermal_efficiency":
		return m.ThermalEfficiency, true
	case "pressure_drop_pa":
		return m.PressureDropPa, true
	case "operating_cost_per_h":
		return m.OperatingCostPerH, true
	}
	return 0, false
}

// EvaluateConstraints checks a scenario's active constraints against a design
// point and its evaluated metrics. It returns the constraint values keyed by
// constraint name and whether every active constraint is satisfied within
// its tolerance. Constraints with an unresolvable target count as violated
// rather than silently passing.
func EvaluateConstraints(s *models.Scenario, point map[string]float64, m *models.PerformanceMetrics) (map[string]float64, bool) {
	values := make(map[string]float64, len(s.Constraints))
	feasible := true

	for _, c := range s.Constraints {
		if !c.Active {
			continue
		}

		var value float64
		var ok bool
		switch c.Kind {
		case models.ConstraintVariable:
			value, ok = point[c.Target]
		case models.ConstraintMetric:
			value, ok = MetricValue(m, c.Target)
		}
		if !ok {
			feasible = false
			continue
		}

		values[c.Name] = value
		if c.Min != nil && value < *c.Min-c.Tolerance {
			feasible = false
		}
		if c.Max != nil && value > *c.Max+c.Tolerance {
			feasible = false
		}
	}

	return values, feasible
}
