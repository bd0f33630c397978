package optimize

import (
	"math"
	"math/rand"

	"github.com/regenheat/optimization-engine/pkg/models"
)

func init() {
	Register("random_search", func(vars []models.DesignVariable, start []float64, seed int64) (Algorithm, error) {
		return NewRandomSearch(vars, start, seed), nil
	})
}

// RandomSearch samples candidates uniformly within the variable bounds.
// It never exhausts on its own; the run's termination budget bounds it.
type RandomSearch struct {
	vars    []models.DesignVariable
	start   []float64
	started bool
	rng     *rand.Rand

	bestValue float64
}

// NewRandomSearch creates a uniform random search. The start point is
// proposed first so the baseline always appears in the ledger.
func NewRandomSearch(vars []models.DesignVariable, start []float64, seed int64) *RandomSearch {
	return &RandomSearch{
		vars:      vars,
		start:     clampPoint(start, vars),
		rng:       rand.New(rand.NewSource(seed)),
		bestValue: math.MaxFloat64,
	}
}

func (r *RandomSearch) Name() string { return "random_search" }

func (r *RandomSearch) Next() (point []float64, ok bool) {
	if !r.started {
		r.started = true
		return clonePoint(r.start), true
	}
	candidate := make([]float64, len(r.vars))
	for i, v := range r.vars {
		candidate[i] = v.Lower + r.rng.Float64()*(v.Upper-v.Lower)
	}
	return clampPoint(candidate, r.vars), true
}

func (r *RandomSearch) Observe(point []float64, value float64, feasible bool) {
	if feasible && value < r.bestValue {
		r.bestValue = value
	}
}
