// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package activeset

import (
	"math"
	"reflect"
	"testing"

	"github.com/curioloop/quadprog/sparse"
)

// boxQP builds a two variable box problem with a duplicated identity
// jacobian: 𝚖𝚒𝚗 ½‖x‖² - 2x₀ - 5x₁ over 0 ≤ x ≤ 4 and 0 ≤ 𝐈x ≤ 4.
// The optimum clips the unconstrained minimizer (2,5) at the upper
// bound of the second variable.
func boxQP() (*Problem, *Input) {
	p := &Problem{H: sparse.Diag(2), A: sparse.Diag(2)}
	in := &Input{
		H:   []float64{1, 1},
		G:   []float64{-2, -5},
		A:   []float64{1, 1},
		Ubx: []float64{4, 4},
		Uba: []float64{4, 4},
	}
	return p, in
}

func TestBoxConstrained(t *testing.T) {

	p, in := boxQP()
	s, e := p.New(nil)
	if e != nil {
		panic(e)
	}
	w := s.Init()
	r := s.Fit(in, w)

	wantX := []float64{2, 4}

	switch {
	case !r.OK || r.Status != Optimal:
		t.Fatal("TestBoxConstrained: Not Converge")
	case !almostEqual(r.X, wantX, 1e-10):
		t.Fatal("TestBoxConstrained: Bad Solution")
	case !almostEqual(r.F, -14.0, 1e-10):
		t.Fatal("TestBoxConstrained: Bad Objective")
	case r.LamX[0] != 0 || r.LamX[1] <= 0:
		t.Fatal("TestBoxConstrained: Bad Multiplier Signs")
	case r.NumIter > 5:
		t.Fatal("TestBoxConstrained: Too Many Iterations")
	}

	checkKKT(t, p, in, r)
}

func TestPureBounds(t *testing.T) {

	p := &Problem{H: sparse.Diag(2)}
	in := &Input{
		H:   []float64{1, 1},
		G:   []float64{-2, -5},
		Ubx: []float64{4, 4},
	}

	s, e := p.New(nil)
	if e != nil {
		panic(e)
	}
	r := s.Fit(in, s.Init())

	switch {
	case !r.OK:
		t.Fatal("TestPureBounds: Not Converge")
	case !almostEqual(r.X, []float64{2, 4}, 1e-10):
		t.Fatal("TestPureBounds: Bad Solution")
	case !almostEqual(r.LamX, []float64{0, 1}, 1e-10):
		t.Fatal("TestPureBounds: Bad Multipliers")
	case len(r.LamA) != 0:
		t.Fatal("TestPureBounds: Unexpected Constraint Multipliers")
	}
}

func TestEqualityConstraint(t *testing.T) {

	inf := math.Inf(1)

	// 𝚖𝚒𝚗 ½‖x‖² subject to x₀+x₁ = 1
	p := &Problem{H: sparse.Diag(2), A: sparse.Dense(1, 2)}
	in := &Input{
		H:   []float64{1, 1},
		A:   []float64{1, 1},
		Lbx: []float64{-inf, -inf},
		Ubx: []float64{inf, inf},
		Lba: []float64{1},
		Uba: []float64{1},
	}

	s, e := p.New(nil)
	if e != nil {
		panic(e)
	}
	r := s.Fit(in, s.Init())

	switch {
	case !r.OK:
		t.Fatal("TestEqualityConstraint: Not Converge")
	case !almostEqual(r.X, []float64{0.5, 0.5}, 1e-12):
		t.Fatal("TestEqualityConstraint: Bad Solution")
	case !almostEqual(r.F, 0.25, 1e-12):
		t.Fatal("TestEqualityConstraint: Bad Objective")
	case !almostEqual(r.LamA, []float64{-0.5}, 1e-12):
		t.Fatal("TestEqualityConstraint: Bad Multiplier")
	case r.NumIter > 2:
		t.Fatal("TestEqualityConstraint: Too Many Iterations")
	}

	checkKKT(t, p, in, r)
}

func TestUpperBlocking(t *testing.T) {

	// two upper bounds and one coupling row go active one by one
	p := &Problem{H: sparse.Diag(3), A: sparse.Dense(1, 3)}
	in := &Input{
		H:   []float64{2, 2, 2},
		G:   []float64{-2, -8, -6},
		A:   []float64{1, 1, 1},
		Ubx: []float64{2, 2, 2},
		Lba: []float64{math.Inf(-1)},
		Uba: []float64{5},
	}

	s, e := p.New(nil)
	if e != nil {
		panic(e)
	}
	r := s.Fit(in, s.Init())

	switch {
	case !r.OK:
		t.Fatal("TestUpperBlocking: Not Converge")
	case !almostEqual(r.X, []float64{1, 2, 2}, 1e-10):
		t.Fatal("TestUpperBlocking: Bad Solution")
	case !almostEqual(r.F, -21.0, 1e-10):
		t.Fatal("TestUpperBlocking: Bad Objective")
	case !almostEqual(r.LamX, []float64{0, 4, 2}, 1e-10):
		t.Fatal("TestUpperBlocking: Bad Bound Multipliers")
	case !almostEqual(r.LamA, []float64{0}, 1e-10):
		t.Fatal("TestUpperBlocking: Bad Constraint Multiplier")
	case r.NumIter > 5:
		t.Fatal("TestUpperBlocking: Too Many Iterations")
	}

	checkKKT(t, p, in, r)
}

func TestInfeasibleBounds(t *testing.T) {

	// lbx > ubx leaves no feasible point and no jacobian row to relieve it
	p := &Problem{H: sparse.Diag(1)}
	in := &Input{
		H:   []float64{1},
		Lbx: []float64{2},
		Ubx: []float64{1},
	}

	s, e := p.New(nil)
	if e != nil {
		panic(e)
	}
	r := s.Fit(in, s.Init())

	switch {
	case r.OK:
		t.Fatal("TestInfeasibleBounds: Unexpected Convergence")
	case r.Status != PrimalRestoreFailed:
		t.Fatal("TestInfeasibleBounds: Bad Status")
	case r.NumIter > 2:
		t.Fatal("TestInfeasibleBounds: Too Many Iterations")
	}
}

func TestZeroBudget(t *testing.T) {

	p, in := boxQP()
	p.Opts = NewOptions(WithMaxIterations(0))
	in.X0 = []float64{1, 1}

	s, e := p.New(nil)
	if e != nil {
		panic(e)
	}
	r := s.Fit(in, s.Init())

	switch {
	case r.OK:
		t.Fatal("TestZeroBudget: Unexpected Convergence")
	case r.Status != ExceedMaxIter:
		t.Fatal("TestZeroBudget: Bad Status")
	case r.NumIter != 0:
		t.Fatal("TestZeroBudget: Unexpected Iterations")
	case !almostEqual(r.X, []float64{1, 1}, 0):
		t.Fatal("TestZeroBudget: Initial Guess Changed")
	}
}

func TestDualRestoreFailure(t *testing.T) {

	// a degenerate variable bound overlapping a touching constraint:
	// once the bound is dropped to chase the dual residual, the zero-step
	// stall leaves no redundant constraint to deactivate
	p := &Problem{H: sparse.Diag(1), A: sparse.Dense(1, 1)}
	in := &Input{
		H:   []float64{1},
		G:   []float64{-4},
		A:   []float64{1},
		Lbx: []float64{1},
		Ubx: []float64{1},
		Lba: []float64{math.Inf(-1)},
		Uba: []float64{1},
		X0:  []float64{1},
	}

	s, e := p.New(nil)
	if e != nil {
		panic(e)
	}
	r := s.Fit(in, s.Init())

	switch {
	case r.OK:
		t.Fatal("TestDualRestoreFailure: Unexpected Convergence")
	case r.Status != DualRestoreFailed:
		t.Fatal("TestDualRestoreFailure: Bad Status")
	}
}

// checkKKT verifies feasibility, stationarity and complementarity of a
// converged result against the problem data.
func checkKKT(t *testing.T, p *Problem, in *Input, r *Result) {
	t.Helper()

	opts := p.Opts
	if opts == nil {
		opts = NewOptions()
	}
	prTol, duTol := opts.PrimalTolerance, opts.DualTolerance

	nx := p.H.Ncol
	na := 0
	if p.A != nil {
		na = p.A.Nrow
	}

	gk := make([]float64, na)
	if p.A != nil {
		sparse.MV(in.A, p.A, r.X, gk, false)
	}

	onBound := func(v, lb, ub float64, lam float64) bool {
		if lam < 0 {
			return math.Abs(v-lb) <= prTol
		}
		return math.Abs(v-ub) <= prTol
	}

	for i := 0; i < nx; i++ {
		lb, ub := bval(in.Lbx, i), bval(in.Ubx, i)
		if r.X[i] < lb-prTol || r.X[i] > ub+prTol {
			t.Fatalf("x[%d] = %g out of [%g,%g]", i, r.X[i], lb, ub)
		}
		if r.LamX[i] != 0 && !onBound(r.X[i], lb, ub, r.LamX[i]) {
			t.Fatalf("lamX[%d] = %g active off its bound", i, r.LamX[i])
		}
	}
	for i := 0; i < na; i++ {
		lb, ub := bval(in.Lba, i), bval(in.Uba, i)
		if gk[i] < lb-prTol || gk[i] > ub+prTol {
			t.Fatalf("(Ax)[%d] = %g out of [%g,%g]", i, gk[i], lb, ub)
		}
		if r.LamA[i] != 0 && !onBound(gk[i], lb, ub, r.LamA[i]) {
			t.Fatalf("lamA[%d] = %g active off its bound", i, r.LamA[i])
		}
	}

	grad := make([]float64, nx)
	copy(grad, in.G)
	sparse.MV(in.H, p.H, r.X, grad, false)
	if p.A != nil {
		sparse.MV(in.A, p.A, r.LamA, grad, true)
	}
	for i := 0; i < nx; i++ {
		if d := math.Abs(grad[i] + r.LamX[i]); d > duTol {
			t.Fatalf("stationarity residual %g at %d", d, i)
		}
	}
}

func almostEqual[T float64 | []float64](a, b T, tol float64) bool {
	equalWithinAbs := func(a, b float64) bool {
		return a == b || math.Abs(a-b) <= tol
	}
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Float64:
		return equalWithinAbs(any(a).(float64), any(b).(float64))
	case reflect.Slice:
		a, b := any(a).([]float64), any(b).([]float64)
		if len(a) != len(b) {
			return false
		}
		for i, a := range a {
			if !equalWithinAbs(a, b[i]) {
				return false
			}
		}
		return true
	default:
		panic("unknown type")
	}
}
