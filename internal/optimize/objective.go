package optimize

import (
	"fmt"
	"sort"

	"github.com/regenheat/optimization-engine/pkg/models"
)

// ObjectiveFunction scores an evaluated design point.
// Lower scores are better; maximization objectives negate their value.
type ObjectiveFunction interface {
	// Score computes the objective value from performance metrics.
	Score(m *models.PerformanceMetrics) (float64, error)

	// Name returns the name of the objective function.
	Name() string

	// Direction returns whether we're minimizing (true) or maximizing (false).
	Direction() bool
}

// NewObjectiveFunction creates an objective function for a scenario's
// objective kind. Weights are only consulted for multi_objective.
func NewObjectiveFunction(kind models.ObjectiveKind, weights map[models.ObjectiveKind]float64) (ObjectiveFunction, error) {
	switch kind {
	case models.ObjectiveMinimizeFuel:
		return &FuelObjective{}, nil
	case models.ObjectiveMinimizeCO2:
		return &CO2Objective{}, nil
	case models.ObjectiveMaximizeEfficiency:
		return &EfficiencyObjective{}, nil
	case models.ObjectiveMinimizeCost:
		return &CostObjective{}, nil
	case models.ObjectiveMultiObjective:
		return NewWeightedObjective(weights)
	default:
		return nil, &UnknownObjectiveError{Kind: string(kind)}
	}
}

// FuelObjective minimizes fuel consumption
type FuelObjective struct{}

func (o *FuelObjective) Name() string    { return string(models.ObjectiveMinimizeFuel) }
func (o *FuelObjective) Direction() bool { return true }

func (o *FuelObjective) Score(m *models.PerformanceMetrics) (float64, error) {
	if m == nil {
		return 0, &InvalidMetricsError{Reason: "metrics is nil"}
	}
	return m.FuelConsumptionMW, nil
}

// CO2Objective minimizes carbon output
type CO2Objective struct{}

func (o *CO2Objective) Name() string    { return string(models.ObjectiveMinimizeCO2) }
func (o *CO2Objective) Direction() bool { return true }

func (o *CO2Objective) Score(m *models.PerformanceMetrics) (float64, error) {
	if m == nil {
		return 0, &InvalidMetricsError{Reason: "metrics is nil"}
	}
	return m.CO2EmissionsKgH, nil
}

// EfficiencyObjective maximizes thermal efficiency
type EfficiencyObjective struct{}

func (o *EfficiencyObjective) Name() string    { return string(models.ObjectiveMaximizeEfficiency) }
func (o *EfficiencyObjective) Direction() bool { return false }

func (o *EfficiencyObjective) Score(m *models.PerformanceMetrics) (float64, error) {
	if m == nil {
		return 0, &InvalidMetricsError{Reason: "metrics is nil"}
	}
	// Maximization: negate so that lower is better.
	return -m.ThermalEfficiency, nil
}

// CostObjective minimizes hourly operating cost
type CostObjective struct{}

func (o *CostObjective) Name() string    { return string(models.ObjectiveMinimizeCost) }
func (o *CostObjective) Direction() bool { return true }

func (o *CostObjective) Score(m *models.PerformanceMetrics) (float64, error) {
	if m == nil {
		return 0, &InvalidMetricsError{Reason: "metrics is nil"}
	}
	return m.OperatingCostPerH, nil
}

// WeightedObjective combines single objectives into one minimization score.
// All sub-objectives already follow the lower-is-better convention, so the
// weighted sum needs no per-term direction handling.
type WeightedObjective struct {
	terms []weightedTerm
}

type weightedTerm struct {
	objective ObjectiveFunction
	weight    float64
}

// NewWeightedObjective builds a multi-objective score from kind weights.
func NewWeightedObjective(weights map[models.ObjectiveKind]float64) (*WeightedObjective, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("multi_objective requires at least one weight")
	}

	// Deterministic term order keeps scores reproducible across runs.
	kinds := make([]models.ObjectiveKind, 0, len(weights))
	for kind := range weights {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	w := &WeightedObjective{}
	for _, kind := range kinds {
		if kind == models.ObjectiveMultiObjective {
			return nil, fmt.Errorf("weights cannot reference multi_objective")
		}
		sub, err := NewObjectiveFunction(kind, nil)
		if err != nil {
			return nil, err
		}
		w.terms = append(w.terms, weightedTerm{objective: sub, weight: weights[kind]})
	}
	return w, nil
}

func (o *WeightedObjective) Name() string    { return string(models.ObjectiveMultiObjective) }
func (o *WeightedObjective) Direction() bool { return true }

func (o *WeightedObjective) Score(m *models.PerformanceMetrics) (float64, error) {
	if m == nil {
		return 0, &InvalidMetricsError{Reason: "metrics is nil"}
	}
	total := 0.0
	for _, term := range o.terms {
		score, err := term.objective.Score(m)
		if err != nil {
			return 0, err
		}
		total += term.weight * score
	}
	return total, nil
}

// UnknownObjectiveError indicates an unknown objective kind
type UnknownObjectiveError struct {
	Kind string
}

func (e *UnknownObjectiveError) Error() string {
	return "unknown objective kind: " + e.Kind
}

// InvalidMetricsError indicates invalid metrics for scoring
type InvalidMetricsError struct {
	Reason string
}

func (e *InvalidMetricsError) Error() string {
	return "invalid metrics: " + e.Reason
}
