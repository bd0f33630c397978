package optimize

import (
	"math"
	"testing"

	"github.com/regenheat/optimization-engine/pkg/models"
)

// quadratic1D is f(x) = (x-3)^2, minimized at x=3.
func quadratic1D(p []float64) float64 {
	d := p[0] - 3
	return d * d
}

func TestHillDescentProposesStartFirst(t *testing.T) {
	h := NewHillDescent(singleVar(), []float64{0})

	p, ok := h.Next()
	if !ok {
		t.Fatalf("expected first candidate")
	}
	if p[0] != 0 {
		t.Fatalf("expected start point 0, got %v", p[0])
	}
}

func TestHillDescentCandidateSequence(t *testing.T) {
	h := NewHillDescent(singleVar(), []float64{0})

	want := []float64{0, 2.5, 5, 0, 3.75}
	for i, expected := range want {
		p, ok := h.Next()
		if !ok {
			t.Fatalf("candidate %d: algorithm exhausted early", i+1)
		}
		if p[0] != expected {
			t.Fatalf("candidate %d: expected x=%v, got %v", i+1, expected, p[0])
		}
		h.Observe(p, quadratic1D(p), true)
	}
}

func TestHillDescentConverges(t *testing.T) {
	h := NewHillDescent(singleVar(), []float64{0})

	bestValue := math.MaxFloat64
	bestX := 0.0
	for i := 0; i < 500; i++ {
		p, ok := h.Next()
		if !ok {
			break
		}
		v := quadratic1D(p)
		h.Observe(p, v, true)
		if v < bestValue {
			bestValue = v
			bestX = p[0]
		}
	}

	if bestValue > 1e-3 {
		t.Fatalf("expected best value near 0, got %v", bestValue)
	}
	if math.Abs(bestX-3) > 0.05 {
		t.Fatalf("expected best point near 3, got %v", bestX)
	}
}

func TestHillDescentIgnoresInfeasibleCandidates(t *testing.T) {
	h := NewHillDescent(singleVar(), []float64{0})

	p, _ := h.Next()
	h.Observe(p, quadratic1D(p), true) // start x=0, f=9

	p, _ = h.Next()
	if p[0] != 2.5 {
		t.Fatalf("expected neighbor 2.5, got %v", p[0])
	}
	// Better value, but infeasible: must not be adopted.
	h.Observe(p, quadratic1D(p), false)

	// Had 2.5 been adopted, the next candidate would be 5 or 0. Instead the
	// sweep stalls, the step halves, and the next candidate is 1.25.
	p, ok := h.Next()
	if !ok {
		t.Fatalf("expected a candidate after the stalled sweep")
	}
	if p[0] != 1.25 {
		t.Fatalf("expected step to halve to 1.25, got %v", p[0])
	}
}

func TestHillDescentDiscreteStaysOnGrid(t *testing.T) {
	vars := []models.DesignVariable{
		{Name: "n", Lower: 0, Upper: 10, Baseline: 0, Kind: models.VariableDiscrete, Step: 1},
	}
	h := NewHillDescent(vars, []float64{0})

	for i := 0; i < 60; i++ {
		p, ok := h.Next()
		if !ok {
			break
		}
		if p[0] != math.Round(p[0]) {
			t.Fatalf("candidate off the step grid: %v", p[0])
		}
		h.Observe(p, quadratic1D(p), true)
	}
}

func TestHillDescentExhausts(t *testing.T) {
	vars := []models.DesignVariable{
		{Name: "n", Lower: 0, Upper: 4, Baseline: 0, Kind: models.VariableDiscrete, Step: 2},
	}
	h := NewHillDescent(vars, []float64{0})

	seen := 0
	for i := 0; i < 1000; i++ {
		p, ok := h.Next()
		if !ok {
			break
		}
		seen++
		h.Observe(p, quadratic1D(p), true)
	}
	if seen == 0 || seen == 1000 {
		t.Fatalf("expected discrete search to exhaust after a finite number of candidates, saw %d", seen)
	}

	if _, ok := h.Next(); ok {
		t.Fatalf("expected Next to keep returning false after exhaustion")
	}
}
