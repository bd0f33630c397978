package optimize

import (
	"math"

	"github.com/regenheat/optimization-engine/pkg/models"
)

func init() {
	Register("hill_descent", func(vars []models.DesignVariable, start []float64, seed int64) (Algorithm, error) {
		return NewHillDescent(vars, start), nil
	})
}

// HillDescent is a deterministic coordinate-descent search. It evaluates the
// start point, then walks the 2n axis-aligned neighbors of the current point
// at the current step size, moves to the best improving feasible neighbor,
// and halves the step when a full sweep brings no improvement.
type HillDescent struct {
	vars    []models.DesignVariable
	current []float64
	step    []float64
	minStep []float64

	currentValue float64
	haveCurrent  bool
	started      bool
	exhausted    bool

	queue         [][]float64
	bestCand      []float64
	bestCandValue float64
}

// NewHillDescent creates a hill-descent search starting at the given point.
// The initial step is a quarter of each variable's range.
func NewHillDescent(vars []models.DesignVariable, start []float64) *HillDescent {
	h := &HillDescent{
		vars:          vars,
		current:       clampPoint(start, vars),
		step:          make([]float64, len(vars)),
		minStep:       make([]float64, len(vars)),
		bestCandValue: math.MaxFloat64,
	}
	for i, v := range vars {
		span := v.Upper - v.Lower
		h.step[i] = span * 0.25
		h.minStep[i] = span * 1e-6
		if v.Kind == models.VariableDiscrete && v.Step > 0 {
			if h.step[i] < v.Step {
				h.step[i] = v.Step
			}
			h.minStep[i] = v.Step
		}
	}
	return h
}

func (h *HillDescent) Name() string { return "hill_descent" }

func (h *HillDescent) Next() (point []float64, ok bool) {
	if h.exhausted {
		return nil, false
	}
	if !h.started {
		h.started = true
		return clonePoint(h.current), true
	}
	if !h.haveCurrent {
		// Start point proposed but not observed yet; nothing sensible to do.
		return nil, false
	}
	for len(h.queue) == 0 {
		if !h.advance() {
			return nil, false
		}
	}
	point = h.queue[0]
	h.queue = h.queue[1:]
	return point, true
}

func (h *HillDescent) Observe(point []float64, value float64, feasible bool) {
	if !h.haveCurrent && pointsEqual(point, h.current) {
		h.currentValue = value
		h.haveCurrent = true
		h.queue = h.neighbors()
		return
	}
	// Infeasible candidates are never adopted; the surrounding run still
	// records them for observability.
	if !feasible {
		return
	}
	if value < h.bestCandValue {
		h.bestCand = clonePoint(point)
		h.bestCandValue = value
	}
}

// advance consumes the finished sweep: move to the best improving neighbor,
// or halve the step when the sweep stalled. Returns false once step sizes
// collapse below their minimum.
func (h *HillDescent) advance() bool {
	if h.bestCand != nil && h.bestCandValue < h.currentValue {
		h.current = h.bestCand
		h.currentValue = h.bestCandValue
	} else {
		anyAbove := false
		for i := range h.step {
			h.step[i] /= 2
			if h.step[i] >= h.minStep[i] {
				anyAbove = true
			}
		}
		if !anyAbove {
			h.exhausted = true
			return false
		}
	}
	h.bestCand = nil
	h.bestCandValue = math.MaxFloat64
	h.queue = h.neighbors()
	if len(h.queue) == 0 {
		h.exhausted = true
		return false
	}
	return true
}

// neighbors generates the axis-aligned candidates around the current point,
// skipping moves that clamp back onto the current point.
func (h *HillDescent) neighbors() [][]float64 {
	out := make([][]float64, 0, 2*len(h.vars))
	for i := range h.vars {
		for _, dir := range []float64{1, -1} {
			candidate := clonePoint(h.current)
			candidate[i] += dir * h.step[i]
			candidate = clampPoint(candidate, h.vars)
			if !pointsEqual(candidate, h.current) {
				out = append(out, candidate)
			}
		}
	}
	return out
}
