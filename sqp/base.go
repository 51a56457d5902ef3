// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"github.com/curioloop/quadprog/activeset"
	"github.com/curioloop/quadprog/numdiff"
)

const (
	zero = 0.0
	one  = 1.0
	ten  = 10.0
	hun  = 100.0
	eps  = float64(7)/3 - float64(4)/3 - 1.
)

type sqpMode int

const (
	OK sqpMode = iota
	// BadArgument evaluation panic or input dimension unacceptable.
	BadArgument
	// QPSubFailed the QP sub-problem solve failed.
	QPSubFailed
	// ConsIncompatible inequality constraints incompatible.
	ConsIncompatible
	// SearchNotDescent positive directional derivative for line-search.
	SearchNotDescent
	// SQPExceedMaxIter more than max iterations in SQP.
	SQPExceedMaxIter
)

func (m sqpMode) String() string {
	switch m {
	case OK:
		return "OK"
	case BadArgument:
		return "BadArgument"
	case QPSubFailed:
		return "QPSubFailed"
	case ConsIncompatible:
		return "ConsIncompatible"
	case SearchNotDescent:
		return "SearchNotDescent"
	case SQPExceedMaxIter:
		return "SQPExceedMaxIter"
	}
	return "Unknown"
}

const (
	// evalGrad evaluate derivatives for loc.g and loc.a
	evalGrad sqpMode = -1
	// evalFunc evaluate functions for loc.f and loc.c
	evalFunc sqpMode = -2
)

type sqpSpec struct {
	// the number of variables
	n int
	// the number of constraints
	m int
	Problem
	// normalized constraint ranges lbc ≤ 𝒄(𝐱) ≤ ubc
	lbc, ubc []float64 // m
	// QP optimizers for the m×n sub-problem and its m×(n+1) relaxation
	qp, qpx *activeset.Optimizer
}

type sqpLoc struct {
	f float64
	x []float64 // n
	c []float64 // 𝚖𝚊𝚡(1,m)
	g []float64 // n
	a []float64 // m × n column-wise dense
}

type sqpCtx struct {
	// solution accuracy for convergence.
	acc float64
	// relaxed tolerance for convergence.
	tol float64
	// line-search initial value of objective function.
	f0 float64
	// line-search initial value of merit function.
	t0 float64
	// line-search step length.
	alpha float64
	// line-search counter.
	line int
	// iteration counter.
	iter int
	// BFGS reset counter.
	reset int
	// SQP problem inconsistent state.
	bad bool
	// the initial location.
	x0 []float64 // n
	// the penalty weights of the general constraints.
	mu []float64 // m
	// the multipliers of the general constraints.
	r []float64 // m
	// the multipliers of the variable bounds (relaxation slack included).
	lam []float64 // n+1
	// the approximate hessian 𝐁 of the lagrangian column-wise dense.
	b []float64 // n×n
	// the QP direction 𝐝 with the relaxation slack 𝛅 behind.
	s []float64 // n+1
	u []float64 // n+1
	v []float64 // n+1
	// bound and range transfers for the QP sub-problem.
	lbd, ubd []float64 // n+1
	lba, uba []float64 // m
	// relaxation values: hessian, gradient, jacobian and start point.
	hx []float64 // (n+1)×(n+1)
	gx []float64 // n+1
	ax []float64 // m×(n+1)
	ex []float64 // n+1
	// scratch row for the constraint normals.
	dg []float64 // n
	// QP sub-problem workspaces.
	qpw, qpxw *activeset.Workspace
	// finite-difference fallbacks for the missing derivatives.
	diffObj  *numdiff.Spec
	diffCons []*numdiff.Spec
	fw       findWork
}
