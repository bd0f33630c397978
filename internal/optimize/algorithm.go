// Package optimize holds the pluggable optimization algorithms, objective
// scoring, convergence detection and result aggregation used by the job
// engine. Algorithms follow an ask/tell contract: the runner asks for the
// next candidate, evaluates it, and tells the algorithm the outcome.
package optimize

import (
	"fmt"
	"sort"
	"sync"

	"github.com/regenheat/optimization-engine/pkg/models"
	"github.com/regenheat/optimization-engine/pkg/utils"
)

// Algorithm proposes candidate design points within variable bounds.
// Implementations are single-goroutine: the runner drives one algorithm
// instance per job and never shares it.
type Algorithm interface {
	// Name returns the registered identifier of the algorithm.
	Name() string

	// Next returns the next candidate point, ordered as the scenario's
	// variable slice. ok is false once the algorithm has exhausted its search.
	Next() (point []float64, ok bool)

	// Observe reports the evaluated objective value for a point previously
	// returned by Next (minimization convention). Infeasible candidates are
	// reported with feasible=false; how to handle them is algorithm-internal.
	Observe(point []float64, value float64, feasible bool)
}

// Factory builds an algorithm for a scenario's variables, starting from the
// given point (ordered as vars). Seed feeds stochastic algorithms.
type Factory func(vars []models.DesignVariable, start []float64, seed int64) (Algorithm, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an algorithm available under the given identifier.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New builds a registered algorithm by identifier.
func New(name string, vars []models.DesignVariable, start []float64, seed int64) (Algorithm, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownAlgorithmError{Name: name}
	}
	if len(start) != len(vars) {
		return nil, fmt.Errorf("start point has %d values for %d variables", len(start), len(vars))
	}
	return factory(vars, start, seed)
}

// Names returns the registered algorithm identifiers, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownAlgorithmError indicates an unregistered algorithm identifier
type UnknownAlgorithmError struct {
	Name string
}

func (e *UnknownAlgorithmError) Error() string {
	return "unknown algorithm: " + e.Name
}

// clampPoint clamps every coordinate into its variable's bounds and snaps
// discrete variables onto their step grid.
func clampPoint(point []float64, vars []models.DesignVariable) []float64 {
	out := make([]float64, len(point))
	for i, v := range vars {
		x := utils.ClampFloat64(point[i], v.Lower, v.Upper)
		if v.Kind == models.VariableDiscrete {
			x = utils.ClampFloat64(utils.SnapToStep(x, v.Lower, v.Step), v.Lower, v.Upper)
		}
		out[i] = x
	}
	return out
}

func clonePoint(point []float64) []float64 {
	out := make([]float64, len(point))
	copy(out, point)
	return out
}

func pointsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PointToMap converts an ordered candidate vector into a named design point.
func PointToMap(vars []models.DesignVariable, point []float64) map[string]float64 {
	out := make(map[string]float64, len(vars))
	for i, v := range vars {
		out[v.Name] = point[i]
	}
	return out
}

// MapToPoint converts a named design point into the ordered vector form,
// falling back to the variable baseline for missing names.
func MapToPoint(vars []models.DesignVariable, point map[string]float64) []float64 {
	out := make([]float64, len(vars))
	for i, v := range vars {
		if x, ok := point[v.Name]; ok {
			out[i] = x
		} else {
			out[i] = v.Baseline
		}
	}
	return out
}
