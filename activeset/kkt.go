// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package activeset

import (
	"math"

	"github.com/curioloop/quadprog/sparse"
)

// assemble fills the base KKT values
//
//	⎡ 𝐇   𝐀ᵀ ⎤
//	⎣ 𝐀   𝟎  ⎦
//
// from the per-call hessian and jacobian values.
// The pattern is fixed, so this happens once per solve call.
func (s *qpSolver) assemble() {
	o, w, in := s.optimizer, s.workspace, s.input
	nx, na := o.nx, o.na

	sparse.Trans(in.A, o.a, w.atv, o.at, w.iw)
	sparse.SetSub(w.kkt, o.kkt, 0, nx, 0, nx, in.H)
	sparse.SetSub(w.kkt, o.kkt, nx, nx+na, 0, nx, in.A)
	sparse.SetSub(w.kkt, o.kkt, 0, nx, nx, nx+na, w.atv)
}

// evalCons refreshes the linear constraint values gk = 𝐀𝐱.
func (s *qpSolver) evalCons() {
	o, w, in := s.optimizer, s.workspace, s.input
	dzero(w.gk)
	sparse.MV(in.A, o.a, w.xk, w.gk, false)
}

// kktResidual turns step, holding the lagrangian gradient in its first
// nx entries, into the negated KKT residual of the current active set.
// Rows of active bounds measure the distance to their bound instead of
// the gradient, constraint rows measure the distance to the active side
// and are zero when inactive.
func (s *qpSolver) kktResidual() {
	o, w, in := s.optimizer, s.workspace, s.input
	nx, na := o.nx, o.na

	for i := 0; i < nx; i++ {
		switch w.tagX[i] {
		case tagLower:
			w.step[i] = w.xk[i] - bval(in.Lbx, i)
		case tagUpper:
			w.step[i] = w.xk[i] - bval(in.Ubx, i)
		}
	}

	dcopy(na, w.gk, 1, w.step[nx:], 1)
	for i := 0; i < na; i++ {
		switch w.tagA[i] {
		case tagFree:
			w.step[nx+i] = zero
		case tagLower:
			w.step[nx+i] -= bval(in.Lba, i)
		case tagUpper:
			w.step[nx+i] -= bval(in.Uba, i)
		}
	}

	dscal(nx+na, -one, w.step, 1)
}

// factorSolve projects the base KKT values onto the diagonal-augmented
// pattern, masks the columns of active bounds (unit diagonal) and
// inactive constraints (negative unit diagonal), refactorizes and
// solves the transposed system in place of the residual, yielding the
// primal step in step[:nx] and the constraint multiplier step in
// step[nx:]. Not-a-number components of a singular system are zeroed,
// the iteration carries on with the directions that remain.
func (s *qpSolver) factorSolve() {
	o, w := s.optimizer, s.workspace
	nx, na, dim := o.nx, o.na, o.nx+o.na

	sparse.Project(w.kkt, o.kkt, w.kktd, o.kktd, w.w)

	for c := 0; c < nx; c++ {
		if w.tagX[c] == tagFree {
			continue
		}
		for k := o.kktd.Colind[c]; k < o.kktd.Colind[c+1]; k++ {
			if o.kktd.Row[k] == c {
				w.kktd[k] = one
			} else {
				w.kktd[k] = zero
			}
		}
	}
	for c := 0; c < na; c++ {
		if w.tagA[c] != tagFree {
			continue
		}
		for k := o.kktd.Colind[nx+c]; k < o.kktd.Colind[nx+c+1]; k++ {
			if o.kktd.Row[k] == nx+c {
				w.kktd[k] = -one
			} else {
				w.kktd[k] = zero
			}
		}
	}

	o.symb.Factor(w.kktd, w.v, w.r, w.beta, w.w)
	o.symb.Solve(w.step, 1, true, w.v, w.r, w.beta, w.w)

	for i := 0; i < dim; i++ {
		if math.IsNaN(w.step[i]) {
			w.step[i] = zero
		}
	}

	s.sensitivities()
}

// sensitivities propagates the solved step through the problem data:
// dlamX = -(𝐇·dx + 𝐀ᵀ·dλa) is the bound multiplier response and
// dg = 𝐀·dx the constraint value response.
func (s *qpSolver) sensitivities() {
	o, w, in := s.optimizer, s.workspace, s.input
	nx := o.nx

	dzero(w.dlamX)
	sparse.MV(in.H, o.h, w.step[:nx], w.dlamX, false)
	sparse.MV(in.A, o.a, w.step[nx:], w.dlamX, true)
	dscal(nx, -one, w.dlamX, 1)

	dzero(w.dg)
	sparse.MV(in.A, o.a, w.step[:nx], w.dg, false)
}

// bval reads one bound entry, a nil slice stands for all zeros.
func bval(b []float64, i int) float64 {
	if b == nil {
		return zero
	}
	return b[i]
}
