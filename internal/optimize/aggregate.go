package optimize

import (
	"fmt"
	"time"

	"github.com/regenheat/optimization-engine/pkg/models"
	"github.com/regenheat/optimization-engine/pkg/utils"
)

// EconomicsParams are the site-level unit costs used to translate metric
// improvements into money. They come from daemon configuration, not from
// the scenario.
type EconomicsParams struct {
	FuelPricePerMWh       float64
	OperatingHoursPerYear float64
	RetrofitCost          float64
}

// RunInfo carries run-level facts the aggregator folds into the result.
type RunInfo struct {
	Iterations int
	Converged  bool
}

// Aggregator builds the final baseline-vs-optimized comparison for a
// completed job. It re-evaluates both designs through the same evaluator
// the run used, so the comparison is apples to apples even when the
// baseline was infeasible.
type Aggregator struct {
	evaluator Evaluator
	econ      EconomicsParams
}

// NewAggregator creates an aggregator bound to an evaluator and unit costs.
func NewAggregator(evaluator Evaluator, econ EconomicsParams) *Aggregator {
	return &Aggregator{evaluator: evaluator, econ: econ}
}

// Aggregate produces the immutable result set for a completed run.
func (a *Aggregator) Aggregate(s *models.Scenario, bestPoint map[string]float64, info RunInfo) (*models.ResultSet, error) {
	objective, err := NewObjectiveFunction(s.Objective, s.Weights)
	if err != nil {
		return nil, err
	}

	baselinePoint := s.BaselinePoint()
	baseline, err := a.evaluator.Evaluate(baselinePoint)
	if err != nil {
		return nil, fmt.Errorf("evaluate baseline: %w", err)
	}
	optimized, err := a.evaluator.Evaluate(bestPoint)
	if err != nil {
		return nil, fmt.Errorf("evaluate optimized: %w", err)
	}

	baseScore, err := objective.Score(baseline)
	if err != nil {
		return nil, err
	}
	optScore, err := objective.Score(optimized)
	if err != nil {
		return nil, err
	}

	feasibility := feasibilityScore(s, bestPoint, optimized)

	// JobID is stamped by the caller, which knows the owning job.
	return &models.ResultSet{
		BestPoint:          bestPoint,
		Baseline:           baseline,
		Optimized:          optimized,
		BaselineObjective:  baseScore,
		OptimizedObjective: optScore,
		Improvements:       improvements(baseline, optimized),
		Economics:          a.economics(baseline, optimized),
		FeasibilityScore:   feasibility,
		ConfidenceScore:    confidenceScore(info, feasibility),
		CreatedAtUnixMs:    time.Now().UnixMilli(),
	}, nil
}

// improvements reports the signed percent change of every metric.
func improvements(base, opt *models.PerformanceMetrics) map[string]float64 {
	return map[string]float64{
		"fuel_consumption_mw":  utils.PercentChange(base.FuelConsumptionMW, opt.FuelConsumptionMW),
		"co2_emissions_kg_h":   utils.PercentChange(base.CO2EmissionsKgH, opt.CO2EmissionsKgH),
		"thermal_efficiency":   utils.PercentChange(base.ThermalEfficiency, opt.ThermalEfficiency),
		"pressure_drop_pa":     utils.PercentChange(base.PressureDropPa, opt.PressureDropPa),
		"operating_cost_per_h": utils.PercentChange(base.OperatingCostPerH, opt.OperatingCostPerH),
	}
}

func (a *Aggregator) economics(base, opt *models.PerformanceMetrics) models.Economics {
	econ := models.Economics{
		FuelSavingsPct:  -utils.PercentChange(base.FuelConsumptionMW, opt.FuelConsumptionMW),
		CO2ReductionPct: -utils.PercentChange(base.CO2EmissionsKgH, opt.CO2EmissionsKgH),
	}

	annual := (base.FuelConsumptionMW - opt.FuelConsumptionMW) * a.econ.OperatingHoursPerYear * a.econ.FuelPricePerMWh
	econ.AnnualCostSavings = utils.Round(annual, 2)

	if a.econ.RetrofitCost > 0 && annual > 0 {
		econ.PaybackYears = utils.Round(a.econ.RetrofitCost/annual, 2)
	}
	return econ
}

// feasibilityScore is the fraction of active constraints the optimized
// design satisfies; 1.0 when the scenario has no active constraints.
func feasibilityScore(s *models.Scenario, point map[string]float64, m *models.PerformanceMetrics) float64 {
	active, satisfied := 0, 0
	for _, c := range s.Constraints {
		if !c.Active {
			continue
		}
		active++

		var value float64
		var ok bool
		switch c.Kind {
		case models.ConstraintVariable:
			value, ok = point[c.Target]
		case models.ConstraintMetric:
			value, ok = MetricValue(m, c.Target)
		}
		if !ok {
			continue
		}
		if c.Min != nil && value < *c.Min-c.Tolerance {
			continue
		}
		if c.Max != nil && value > *c.Max+c.Tolerance {
			continue
		}
		satisfied++
	}
	if active == 0 {
		return 1.0
	}
	return float64(satisfied) / float64(active)
}

// confidenceScore folds convergence and feasibility into one rough [0,1]
// indicator: converged feasible runs score 1.0, budget-exhausted runs are
// discounted, infeasibility pulls the score down proportionally.
func confidenceScore(info RunInfo, feasibility float64) float64 {
	score := 0.6
	if info.Converged {
		score = 1.0
	}
	return utils.Round(score*feasibility, 3)
}
