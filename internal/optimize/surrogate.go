package optimize

import (
	"github.com/regenheat/optimization-engine/pkg/models"
	"github.com/regenheat/optimization-engine/pkg/utils"
)

// SurrogateEvaluator is a smooth analytic stand-in for the regenerator
// physics model, used by the daemon's demo mode and by tests. Real
// deployments inject the full heat-transfer model through the same
// Evaluator interface.
//
// The model treats each variable's normalized position in its range as a
// packing factor: efficiency peaks when variables sit near 70% of range,
// while pressure drop grows with packing. Fuel demand follows efficiency,
// CO2 and cost follow fuel.
type SurrogateEvaluator struct {
	// FiringDemandMW is the furnace heat demand the regenerator serves.
	FiringDemandMW float64
	// EmissionFactorKgPerMWh converts fuel energy to CO2 mass.
	EmissionFactorKgPerMWh float64
	// FuelPricePerMWh feeds the operating-cost metric.
	FuelPricePerMWh float64

	vars []models.DesignVariable
}

// NewSurrogateEvaluator creates the demo evaluator for a scenario's
// variables with natural-gas defaults.
func NewSurrogateEvaluator(vars []models.DesignVariable) *SurrogateEvaluator {
	return &SurrogateEvaluator{
		FiringDemandMW:         38.0,
		EmissionFactorKgPerMWh: 202.0,
		FuelPricePerMWh:        42.0,
		vars:                   vars,
	}
}

func (e *SurrogateEvaluator) Evaluate(point map[string]float64) (*models.PerformanceMetrics, error) {
	if len(e.vars) == 0 {
		return nil, &InvalidMetricsError{Reason: "surrogate evaluator has no variables"}
	}

	// Mean normalized packing and mean squared distance from the sweet spot.
	var meanU, meanDist float64
	for _, v := range e.vars {
		x, ok := point[v.Name]
		if !ok {
			x = v.Baseline
		}
		span := v.Upper - v.Lower
		u := 0.0
		if span > 0 {
			u = utils.ClampFloat64((x-v.Lower)/span, 0, 1)
		}
		meanU += u
		d := u - 0.7
		meanDist += d * d
	}
	n := float64(len(e.vars))
	meanU /= n
	meanDist /= n

	efficiency := utils.ClampFloat64(0.92-0.45*meanDist, 0.30, 0.95)
	fuel := e.FiringDemandMW * (1.0 - 0.5*efficiency)
	pressureDrop := 300.0 + 1400.0*meanU

	return &models.PerformanceMetrics{
		FuelConsumptionMW: fuel,
		CO2EmissionsKgH:   fuel * e.EmissionFactorKgPerMWh,
		ThermalEfficiency: efficiency,
		PressureDropPa:    pressureDrop,
		OperatingCostPerH: fuel*e.FuelPricePerMWh + pressureDrop*0.05,
	}, nil
}
