package optimize

import (
	"math"
	"testing"

	"github.com/regenheat/optimization-engine/pkg/models"
)

func planeVars() []models.DesignVariable {
	return []models.DesignVariable{
		{Name: "x", Lower: 0, Upper: 10, Baseline: 0},
		{Name: "y", Lower: 0, Upper: 10, Baseline: 0},
	}
}

// quadratic2D is f(x,y) = (x-3)^2 + (y-4)^2, minimized at (3,4).
func quadratic2D(p []float64) float64 {
	dx, dy := p[0]-3, p[1]-4
	return dx*dx + dy*dy
}

func TestNelderMeadInitialSimplex(t *testing.T) {
	nm := NewNelderMead(planeVars(), []float64{0, 0})

	// Three vertices for two dimensions: the start plus one 5%-range offset
	// per coordinate.
	want := [][]float64{{0, 0}, {0.5, 0}, {0, 0.5}}
	for i, expected := range want {
		p, ok := nm.Next()
		if !ok {
			t.Fatalf("vertex %d: expected a candidate", i)
		}
		if !pointsEqual(p, expected) {
			t.Fatalf("vertex %d: expected %v, got %v", i, expected, p)
		}
		nm.Observe(p, quadratic2D(p), true)
	}
}

func TestNelderMeadConverges(t *testing.T) {
	nm := NewNelderMead(planeVars(), []float64{0, 0})

	bestValue := math.MaxFloat64
	var bestPoint []float64
	for i := 0; i < 500; i++ {
		p, ok := nm.Next()
		if !ok {
			break
		}
		v := quadratic2D(p)
		nm.Observe(p, v, true)
		if v < bestValue {
			bestValue = v
			bestPoint = clonePoint(p)
		}
	}

	if bestValue > 1e-2 {
		t.Fatalf("expected best value near 0, got %v", bestValue)
	}
	if math.Abs(bestPoint[0]-3) > 0.2 || math.Abs(bestPoint[1]-4) > 0.2 {
		t.Fatalf("expected best point near (3,4), got %v", bestPoint)
	}
}

func TestNelderMeadRespectsBounds(t *testing.T) {
	nm := NewNelderMead(planeVars(), []float64{0, 0})

	for i := 0; i < 200; i++ {
		p, ok := nm.Next()
		if !ok {
			break
		}
		for j, x := range p {
			if x < 0 || x > 10 {
				t.Fatalf("candidate %d coordinate %d out of bounds: %v", i, j, x)
			}
		}
		nm.Observe(p, quadratic2D(p), true)
	}
}

func TestNelderMeadPenalizesInfeasible(t *testing.T) {
	nm := NewNelderMead(planeVars(), []float64{0, 0})

	// The region x > 2 is infeasible; the simplex should settle near the
	// feasible boundary instead of the unconstrained optimum at (3,4).
	bestFeasible := math.MaxFloat64
	var bestPoint []float64
	for i := 0; i < 500; i++ {
		p, ok := nm.Next()
		if !ok {
			break
		}
		v := quadratic2D(p)
		feasible := p[0] <= 2
		nm.Observe(p, v, feasible)
		if feasible && v < bestFeasible {
			bestFeasible = v
			bestPoint = clonePoint(p)
		}
	}

	if bestPoint == nil {
		t.Fatalf("expected at least one feasible candidate")
	}
	if bestPoint[0] > 2 {
		t.Fatalf("best feasible point violates x<=2: %v", bestPoint)
	}
	// f at the constrained optimum (2,4) is 1.
	if bestFeasible > 1.5 {
		t.Fatalf("expected constrained best near 1.0, got %v", bestFeasible)
	}
}
