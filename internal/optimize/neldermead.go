package optimize

import (
	"math"

	"github.com/regenheat/optimization-engine/pkg/models"
)

func init() {
	Register("nelder_mead", func(vars []models.DesignVariable, start []float64, seed int64) (Algorithm, error) {
		return NewNelderMead(vars, start), nil
	})
}

const (
	nmStageInit = iota
	nmStageReflect
	nmStageExpand
	nmStageContract
	nmStageShrink
)

type nmVertex struct {
	point []float64
	value float64
}

// NelderMead is a derivative-free downhill simplex search adapted to the
// ask/tell contract: each transformation step (reflect, expand, contract,
// shrink) is proposed as a candidate and resumed once its value is observed.
// Candidates are clamped into the variable bounds; infeasible observations
// are penalized so the simplex migrates back into the feasible region.
type NelderMead struct {
	vars []models.DesignVariable
	dim  int

	alpha float64
	gamma float64
	rho   float64
	sigma float64
	eps   float64

	stage   int
	simplex []nmVertex

	pendingInit [][]float64
	initIdx     int

	centroid  []float64
	reflected nmVertex
	outside   bool

	pendingShrink [][]float64
	shrinkIdx     int

	exhausted bool
}

// NewNelderMead creates a simplex search seeded at the start point, with one
// extra vertex per variable offset by 5% of its range.
func NewNelderMead(vars []models.DesignVariable, start []float64) *NelderMead {
	nm := &NelderMead{
		vars:  vars,
		dim:   len(vars),
		alpha: 1.0,
		gamma: 2.0,
		rho:   0.5,
		sigma: 0.5,
		eps:   1e-9,
	}
	base := clampPoint(start, vars)
	nm.pendingInit = append(nm.pendingInit, base)
	for i, v := range vars {
		offset := clonePoint(base)
		delta := (v.Upper - v.Lower) * 0.05
		if offset[i]+delta > v.Upper {
			delta = -delta
		}
		offset[i] += delta
		nm.pendingInit = append(nm.pendingInit, clampPoint(offset, vars))
	}
	return nm
}

func (nm *NelderMead) Name() string { return "nelder_mead" }

func (nm *NelderMead) Next() (point []float64, ok bool) {
	if nm.exhausted {
		return nil, false
	}

	switch nm.stage {
	case nmStageInit:
		if nm.initIdx >= len(nm.pendingInit) {
			return nil, false
		}
		p := nm.pendingInit[nm.initIdx]
		nm.initIdx++
		return clonePoint(p), true

	case nmStageReflect:
		if nm.diameter() < nm.eps {
			nm.exhausted = true
			return nil, false
		}
		nm.centroid = nm.bestCentroid()
		worst := nm.simplex[nm.dim].point
		xr := make([]float64, nm.dim)
		for i := range xr {
			xr[i] = nm.centroid[i] + nm.alpha*(nm.centroid[i]-worst[i])
		}
		nm.reflected = nmVertex{point: clampPoint(xr, nm.vars)}
		return clonePoint(nm.reflected.point), true

	case nmStageExpand:
		xe := make([]float64, nm.dim)
		for i := range xe {
			xe[i] = nm.centroid[i] + nm.gamma*(nm.reflected.point[i]-nm.centroid[i])
		}
		return clampPoint(xe, nm.vars), true

	case nmStageContract:
		worst := nm.simplex[nm.dim].point
		xc := make([]float64, nm.dim)
		for i := range xc {
			if nm.outside {
				xc[i] = nm.centroid[i] + nm.rho*(nm.reflected.point[i]-nm.centroid[i])
			} else {
				xc[i] = nm.centroid[i] - nm.rho*(nm.centroid[i]-worst[i])
			}
		}
		return clampPoint(xc, nm.vars), true

	case nmStageShrink:
		if nm.shrinkIdx >= len(nm.pendingShrink) {
			return nil, false
		}
		p := nm.pendingShrink[nm.shrinkIdx]
		return clonePoint(p), true
	}

	return nil, false
}

func (nm *NelderMead) Observe(point []float64, value float64, feasible bool) {
	eff := value
	if !feasible {
		eff = 1e12 + value
	}

	switch nm.stage {
	case nmStageInit:
		nm.simplex = append(nm.simplex, nmVertex{point: clonePoint(point), value: eff})
		if len(nm.simplex) == nm.dim+1 {
			nm.sortSimplex()
			nm.stage = nmStageReflect
		}

	case nmStageReflect:
		nm.reflected.value = eff
		switch {
		case eff < nm.simplex[0].value:
			nm.stage = nmStageExpand
		case eff < nm.simplex[nm.dim-1].value:
			nm.replaceWorst(nm.reflected)
			nm.stage = nmStageReflect
		default:
			nm.outside = eff < nm.simplex[nm.dim].value
			nm.stage = nmStageContract
		}

	case nmStageExpand:
		if eff < nm.reflected.value {
			nm.replaceWorst(nmVertex{point: clonePoint(point), value: eff})
		} else {
			nm.replaceWorst(nm.reflected)
		}
		nm.stage = nmStageReflect

	case nmStageContract:
		accept := eff < nm.simplex[nm.dim].value
		if nm.outside {
			accept = eff <= nm.reflected.value
		}
		if accept {
			nm.replaceWorst(nmVertex{point: clonePoint(point), value: eff})
			nm.stage = nmStageReflect
		} else {
			nm.beginShrink()
		}

	case nmStageShrink:
		nm.simplex[nm.shrinkIdx+1] = nmVertex{point: clonePoint(point), value: eff}
		nm.shrinkIdx++
		if nm.shrinkIdx >= len(nm.pendingShrink) {
			nm.sortSimplex()
			nm.stage = nmStageReflect
		}
	}
}

func (nm *NelderMead) beginShrink() {
	best := nm.simplex[0].point
	nm.pendingShrink = nm.pendingShrink[:0]
	for i := 1; i <= nm.dim; i++ {
		xi := make([]float64, nm.dim)
		for j := range xi {
			xi[j] = best[j] + nm.sigma*(nm.simplex[i].point[j]-best[j])
		}
		nm.pendingShrink = append(nm.pendingShrink, clampPoint(xi, nm.vars))
	}
	nm.shrinkIdx = 0
	nm.stage = nmStageShrink
}

func (nm *NelderMead) replaceWorst(v nmVertex) {
	nm.simplex[nm.dim] = v
	nm.sortSimplex()
}

func (nm *NelderMead) sortSimplex() {
	// Insertion sort keeps the simplex ordered best-first; dim+1 entries only.
	for i := 1; i < len(nm.simplex); i++ {
		for j := i; j > 0 && nm.simplex[j].value < nm.simplex[j-1].value; j-- {
			nm.simplex[j], nm.simplex[j-1] = nm.simplex[j-1], nm.simplex[j]
		}
	}
}

func (nm *NelderMead) bestCentroid() []float64 {
	c := make([]float64, nm.dim)
	for i := 0; i < nm.dim; i++ {
		for j := 0; j < nm.dim; j++ {
			c[j] += nm.simplex[i].point[j]
		}
	}
	for j := range c {
		c[j] /= float64(nm.dim)
	}
	return c
}

func (nm *NelderMead) diameter() float64 {
	max := 0.0
	best := nm.simplex[0].point
	for _, v := range nm.simplex[1:] {
		for j := range best {
			if d := math.Abs(v.point[j] - best[j]); d > max {
				max = d
			}
		}
	}
	return max
}
