// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/curioloop/quadprog/activeset"
	"github.com/curioloop/quadprog/numdiff"
	"github.com/curioloop/quadprog/sparse"
)

// Bound represents the bounds for an optimization variable.
type Bound struct {
	Lower, Upper float64
}

// Evaluation evaluate the function and derivative for objective and constraints.
//   - Function : ℝⁿ → ℝ
//   - Derivative : ℝⁿ → ℝⁿ (partials of the function)
//
// When Derivative is nil the partials are approximated
// with finite differences over Function.
type Evaluation struct {
	Function   func(x []float64) (f float64)
	Derivative func(x []float64, d []float64)
}

// Constraint keeps a scalar function inside a range: lbc ≤ 𝒄(𝐱) ≤ ubc.
//   - an equality constraint is a range with Lower == Upper
//   - a NaN or infinite side leaves that side unbounded
type Constraint struct {
	Evaluation
	Bound
}

// Termination specifies the stopping criteria for the optimization algorithm.
type Termination struct {
	// The norm accuracy that determines the final solution.
	Accuracy float64
	// The iteration stop when the number of iteration exceeds limit.
	MaxIterations int
	// The maximum number of iterations in the QP sub-problem (0 for the solver default).
	QPIterations int
	// The iteration will stop when |𝒇ₖ| < 𝚏𝚝𝚘𝚕
	FEvalTolerance float64
	// The iteration will stop when |𝒇ₖ₊₁ - 𝒇ₖ| < 𝚍𝚏𝚝𝚘𝚕
	FDiffTolerance float64
	// The iteration will stop when |𝐱ₖ₊₁ - 𝐱ₖ| < 𝚍𝚡𝚝𝚘𝚕
	XDiffTolerance float64
}

// LineSearch specifies the options for the line-search.
type LineSearch struct {
	// if Exact is true then an exact line-search is performed,
	// otherwise an armijo-type line-search is used
	Exact bool
	// The step range for line-search: 0 < Alpha[Lower] < Alpha[Upper] ≤ 1
	Alpha *Bound
}

// Problem specifies the problem for SQP optimizer.
type Problem struct {
	N      int            // The problem dimension
	Stop   Termination    // Stop condition
	Line   LineSearch     // LineSearch option
	Object Evaluation     // Objective function 𝒇(𝐱) and gradient 𝒇′(𝐱)
	Cons   []Constraint   // Range constraints lbc ≤ 𝒄(𝐱) ≤ ubc and normals 𝒄′(𝐱)
	Bounds []Bound        // Optional bounds
	Diff   numdiff.Method // Difference method for the missing derivatives
}

// New creates a new SQP optimizer for given problem.
// The QP sub-problem optimizers are built here once,
// all workspaces share their symbolic analysis.
func (p *Problem) New() (optimizer *Optimizer, err error) {

	obj, cons, stop, line := p.Object, p.Cons, p.Stop, p.Line
	n, m := p.N, len(cons)

	bnd := p.Bounds
	if bnd == nil {
		bnd = make([]Bound, n)
		for i := range bnd {
			bnd[i].Upper = math.Inf(1)
			bnd[i].Lower = math.Inf(-1)
		}
	}

	const alfmin = 0.1
	if line.Alpha == nil {
		line.Alpha = &Bound{alfmin, one}
	} else {
		alpha := *line.Alpha
		if math.IsNaN(alpha.Lower) {
			alpha.Lower = alfmin
		}
		if math.IsNaN(alpha.Upper) {
			alpha.Upper = one
		}
		line.Alpha = &alpha
	}

	switch {
	case n <= 0:
		err = errors.New("problem dimension must greater than 0")
	case obj.Function == nil:
		err = errors.New("objective function is required")
	case stop.MaxIterations <= 0:
		err = errors.New("max iteration must greater than 1")
	case stop.QPIterations < 0:
		err = errors.New("qp iteration must not less than 0")
	case stop.Accuracy <= zero:
		err = errors.New("solution accuracy must not less than 0")
	case !math.IsNaN(stop.FEvalTolerance) && stop.FEvalTolerance < zero:
		err = errors.New("function eval tolerance must not less than 0")
	case !math.IsNaN(stop.FDiffTolerance) && stop.FDiffTolerance < zero:
		err = errors.New("function diff tolerance must not less than 0")
	case !math.IsNaN(stop.XDiffTolerance) && stop.XDiffTolerance < zero:
		err = errors.New("location diff tolerance must not less than 0")
	case p.Diff != numdiff.Forward && p.Diff != numdiff.Central:
		err = errors.New("unknown difference method")
	case line.Alpha.Lower < zero || line.Alpha.Upper > one || line.Alpha.Upper < line.Alpha.Lower:
		err = errors.New("line search alpha error")
	case len(bnd) != n:
		err = errors.New("bound size must equal to n")
	}

	for k, c := range cons {
		if c.Function == nil {
			err = errors.New(fmt.Sprintf("constraint error at %d", k))
			break
		}
	}

	bnd = slices.Repeat(bnd, 1)
	for k := range bnd {
		b := &bnd[k]
		if math.IsNaN(b.Lower) {
			b.Lower = math.Inf(-1)
		}
		if math.IsNaN(b.Upper) {
			b.Upper = math.Inf(1)
		}
		if b.Lower > b.Upper {
			err = errors.New(fmt.Sprintf("bound error at %d", k))
			break
		}
	}

	lbc, ubc := make([]float64, m), make([]float64, m)
	for k, c := range cons {
		l, u := c.Lower, c.Upper
		if math.IsNaN(l) {
			l = math.Inf(-1)
		}
		if math.IsNaN(u) {
			u = math.Inf(1)
		}
		if l > u {
			err = errors.New(fmt.Sprintf("constraint bound error at %d", k))
			break
		}
		lbc[k], ubc[k] = l, u
	}

	if err != nil {
		return
	}

	qtol := math.Min(1e-8, stop.Accuracy/ten)
	opts := []activeset.Option{
		activeset.WithPrimalTolerance(qtol),
		activeset.WithDualTolerance(qtol),
	}
	if stop.QPIterations > 0 {
		opts = append(opts, activeset.WithMaxIterations(stop.QPIterations))
	}

	var qp, qpx *activeset.Optimizer

	var ap *sparse.Pattern
	if m > 0 {
		ap = sparse.Dense(m, n)
	}
	qp, err = (&activeset.Problem{
		H:    sparse.Dense(n, n),
		A:    ap,
		Opts: activeset.NewOptions(opts...),
	}).New(nil)
	if err != nil {
		return
	}

	if m > 0 {
		qpx, err = (&activeset.Problem{
			H:    sparse.Dense(n+1, n+1),
			A:    sparse.Dense(m, n+1),
			Opts: activeset.NewOptions(opts...),
		}).New(nil)
		if err != nil {
			return
		}
	}

	optimizer = &Optimizer{
		sqpSpec{
			n: n, m: m,
			Problem: Problem{
				N:      n,
				Stop:   stop,
				Line:   line,
				Object: obj,
				Cons:   slices.Repeat(cons, 1),
				Bounds: bnd,
				Diff:   p.Diff,
			},
			lbc: lbc, ubc: ubc,
			qp: qp, qpx: qpx,
		},
	}

	return
}

// Optimizer implemented using the SQP algorithm.
type Optimizer struct {
	sqpSpec
}

// Workspace contains the state and context of the optimization process.
// Given problem dimension n and constraints number m,
// total work space is approximately float64[2×n² + m×n + 12×n + 5×m]
// plus the workspaces of the QP sub-problems.
type Workspace struct {
	n, m int
	sqpCtx
}

// Result contains the final result of the optimization process.
type Result struct {
	OK      bool      // Whether the optimization was converged.
	F       float64   // Final function value.
	X, G    []float64 // Final solution and gradient.
	Summary           // Optimization summary.
}

// Summary contains a summary of the optimization process.
type Summary struct {
	Status  sqpMode // Final task status after optimization.
	NumIter int     // Number of iterations performed.
}

// Init allocate the workspace for SQP optimizer.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
// But multiple workspaces could share one optimizer.
func (o *Optimizer) Init() *Workspace {
	w := new(Workspace)
	w.n, w.m = o.n, o.m

	n, m, n1 := w.n, w.m, w.n+1
	totwk := /*BFGS*/ n*n +
		/*RELAX*/ n1*n1 + m*n1 + 2*n1 +
		/*QP*/ 2*n1 + 2*m +
		/*SQP*/ 2*n + 2*m + 4*n1
	wrk := make([]float64, totwk)

	ih := n * n
	ia := ih + n1*n1
	ig := ia + m*n1
	ie := ig + n1
	id := ie + n1
	il := id + 2*n1
	ix := il + 2*m
	im := ix + n
	iy := im + 2*m
	is := iy + n1
	iw := is + 3*n1

	w.sqpCtx = sqpCtx{
		b:   wrk[:ih],
		hx:  wrk[ih:ia],
		ax:  wrk[ia:ig],
		gx:  wrk[ig:ie],
		ex:  wrk[ie:id],
		lbd: wrk[id : id+n1],
		ubd: wrk[id+n1 : il],
		lba: wrk[il : il+m],
		uba: wrk[il+m : ix],
		x0:  wrk[ix:im],
		mu:  wrk[im : im+m],
		r:   wrk[im+m : iy],
		lam: wrk[iy:is],
		s:   wrk[is : is+n1],
		u:   wrk[is+n1 : is+2*n1],
		v:   wrk[is+2*n1 : iw],
		dg:  wrk[iw:],
		qpw: o.qp.Init(),
	}
	if o.qpx != nil {
		w.qpxw = o.qpx.Init()
	}

	dbnd := make([]numdiff.Bound, n)
	for i, b := range o.Bounds {
		dbnd[i] = numdiff.Bound{b.Lower, b.Upper}
	}
	if fn := o.Object.Function; o.Object.Derivative == nil {
		w.diffObj = &numdiff.Spec{
			N: n, M: 1, Method: o.Diff, Bounds: dbnd,
			Object: func(x, y []float64) { y[0] = fn(x) },
		}
	}
	w.diffCons = make([]*numdiff.Spec, m)
	for j, c := range o.Cons {
		if fn := c.Function; c.Derivative == nil {
			w.diffCons[j] = &numdiff.Spec{
				N: n, M: 1, Method: o.Diff, Bounds: dbnd,
				Object: func(x, y []float64) { y[0] = fn(x) },
			}
		}
	}

	return w
}

// Fit runs the optimization process using the initial guess x and workspace w.
// The guess is moved inside the bounds when it violates them.
func (o *Optimizer) Fit(x []float64, w *Workspace) *Result {

	if len(x) != o.n {
		panic("initial x dimension not match spec")
	}

	if w.n != o.n || w.m != o.m {
		panic("workspace dimension not match spec")
	}

	loc := sqpLoc{
		x: slices.Repeat(x, 1),
		g: make([]float64, o.n),
		c: make([]float64, max(1, o.m)),
		a: make([]float64, o.m*o.n),
	}

	for i, b := range o.Bounds {
		if v := loc.x[i]; v < b.Lower {
			loc.x[i] = b.Lower
		} else if v > b.Upper {
			loc.x[i] = b.Upper
		}
	}

	solver := sqpSolver{
		optimizer: o,
		workspace: w,
		location:  &loc,
	}

	res := solver.mainLoop()
	return &Result{
		OK: res == OK,
		X:  loc.x, F: loc.f, G: loc.g,
		Summary: Summary{
			Status:  res,
			NumIter: w.iter,
		},
	}
}
