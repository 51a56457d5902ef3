// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package activeset

import "github.com/curioloop/quadprog/sparse"

const (
	zero = 0.0
	one  = 1.0
	two  = 2.0
	// dmin smallest positive normal float64, used as the magnitude floor
	// that keeps an active multiplier from losing its sign.
	dmin = 0x1p-1022
)

const (
	defaultMaxIter = 1000
	defaultPrTol   = 1e-8
	defaultDuTol   = 1e-8
)

type qpMode int

const (
	// Optimal primal and dual tolerances met.
	Optimal qpMode = iota
	// PrimalRestoreFailed could not restore primal feasibility at a stalled iterate.
	PrimalRestoreFailed
	// DualRestoreFailed no redundant constraint found to relieve the dual residual.
	DualRestoreFailed
	// ExceedMaxIter more than max iterations for solving QP
	ExceedMaxIter
)

func (m qpMode) String() string {
	switch m {
	case Optimal:
		return "Optimal"
	case PrimalRestoreFailed:
		return "PrimalRestoreFailed"
	case DualRestoreFailed:
		return "DualRestoreFailed"
	case ExceedMaxIter:
		return "ExceedMaxIter"
	}
	return "Unknown"
}

// bndTag records which side of its bounds one variable or constraint
// is currently resting on. The numeric values double as the multiplier
// sign for the active sides.
type bndTag int8

const (
	tagLower bndTag = -1
	tagFree  bndTag = 0
	tagUpper bndTag = 1
)

type qpSpec struct {
	// the number of variables
	nx int
	// the number of linear constraints
	na int
	// problem patterns: hessian, jacobian and its transpose
	h, a, at *sparse.Pattern
	// KKT pattern and its diagonal-augmented companion
	kkt, kktd *sparse.Pattern
	// symbolic QR of the augmented KKT pattern
	symb   *sparse.SymbolicQR
	opts   Options
	logger Logger
}

type qpCtx struct {
	// iteration counter.
	iter int
	// objective value at the current point.
	fk float64
	// max primal and dual residuals with their blame indexes.
	pr, du         float64
	imaxpr, imaxdu int
	// whether the active set changed since the last factorization.
	newActive bool
	// KKT values and their masked working copy.
	kkt, kktd []float64 // nnz(kkt), nnz(kktd)
	// transposed jacobian values.
	atv []float64 // nnz(a)
	// current point and constraint values.
	xk []float64 // nx
	gk []float64 // na
	// multipliers for the simple bounds and the linear constraints.
	lamX []float64 // nx
	lamA []float64 // na
	// active-set tags for the simple bounds and the linear constraints.
	tagX []bndTag // nx
	tagA []bndTag // na
	// lagrangian gradient, then KKT residual, then primal-dual step.
	step []float64 // nx+na
	// sensitivities of the bound multipliers and constraint values.
	dlamX []float64 // nx
	dg    []float64 // na
	// blocking step lengths and the sides they flip to.
	blockTau  []float64 // nx+na
	blockSign []bndTag  // nx+na
	// QR factor values.
	v, r, beta []float64
	// dense scratch shared by factorization, solves and projection.
	w []float64 // max(nrow(V), nx+na)
	// column scratch for the jacobian transpose.
	iw []int // na
}
