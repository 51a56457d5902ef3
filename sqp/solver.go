// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"math"

	"github.com/curioloop/quadprog/activeset"
)

// sqpSolver solve NLP(general constrained NonLinear optimization Problem) with SQP(Sequential Quadratic Programming)
//
// minimize 𝒇(𝐱) subject to
//   - range constrains: lbcⱼ ≤ 𝒄ⱼ(𝐱) ≤ ubcⱼ  (j = 1 ··· m)
//   - boundaries: 𝒍ᵢ ≤ 𝐱ᵢ ≤ 𝒖ᵢ (i = 1 ··· n)
//
// where an equality constraint is a degenerate range with lbcⱼ = ubcⱼ.
//
// SQP decomposes NLP into a series of QP sub-problems,
// each of which solves a descent direction 𝐝 and step length 𝛂,
// and ensures that 𝒇(𝐱 + 𝛂𝐝) < 𝒇(𝐱) and the updated 𝐱 satisfies the constraints.
//
// # Direction
//
// The Lagrangian function of NLP is given by ℒ(𝐱,𝛌) = 𝒇(𝐱) + ∑𝛌ⱼ𝒄ⱼ(𝐱)
// where 𝛌ⱼ ≤ 0 when 𝒄ⱼ rests on its lower side and 𝛌ⱼ ≥ 0 on its upper side.
//
// A quadratic approximation of ℒ(𝐱,𝛌) at location 𝐱ᵏ is a standard form of QP problem:
//
// minimize ½ 𝐝ᵀ𝐁ᵏ𝐝 + 𝜵𝒇(𝐱ᵏ)𝐝 subject to
//   - lbcⱼ - 𝒄ⱼ(𝐱ᵏ) ≤ 𝜵𝒄ⱼ(𝐱ᵏ)𝐝 ≤ ubcⱼ - 𝒄ⱼ(𝐱ᵏ)  (j = 1 ··· m)
//   - 𝒍ᵢ - 𝐱ᵏᵢ ≤ 𝐝ᵢ ≤ 𝒖ᵢ - 𝐱ᵏᵢ  (i = 1 ··· n)
//
// With a symmetric Hessian approximation 𝐁ᵏ ≈ 𝜵²ℒ(𝐱ᵏ,𝛌ᵏ),
// the descent search direction 𝐝 is determined by above problem.
// Each sub-problem is handed to the active-set optimizer over a dense pattern,
// warm started with the multipliers of the previous iteration.
//
// # Inconsistent Constraints
//
// The constraints in QP might become inconsistent with original NLP during the iteration.
// To overcome this difficulty, an augmented QP relaxation with slack variable 𝛅 is introduced to ensure consistency.
//
// minimize ½ 𝐝ᵀ𝐁ᵏ𝐝 + 𝜵𝒇(𝐱ᵏ)𝐝 + ½𝛒𝛅² subject to
//   - lbcⱼ - 𝒄ⱼ(𝐱ᵏ) ≤ 𝜵𝒄ⱼ(𝐱ᵏ)𝐝 + 𝛅𝓼ⱼ ≤ ubcⱼ - 𝒄ⱼ(𝐱ᵏ)  (j = 1 ··· m)
//   - 0 ≤ 𝛅 ≤ 1
//   - 𝓼ⱼ = 𝚖𝚒𝚍[lbcⱼ, 𝒄ⱼ(𝐱ᵏ), ubcⱼ] - 𝒄ⱼ(𝐱ᵏ)
//
// where 10² ≤ 𝛒 ≤ 10⁷ is a constant to penalize the violation of the linear constraints
// and the shift 𝓼ⱼ moves a violated value back onto its nearest range side.
//
// The augmented direction is given by (n+1)-vector [𝐝 𝛅]ᵀ with initial value [0 ··· 0 1]ᵀ.
// Note that augmented QP is always feasible because 𝐝 = 0 and 𝛅 = 1 can satisfy its constraints trivially.
//
// # Step
//
// The step length 𝛂 is obtained by minimize merit function 𝞿(𝛂) = 𝟇(𝐱 + 𝛂𝐝)
// where 𝟇(𝐱;𝛒) is a non-differentiable function with L1 penalty 𝟇(𝐱;𝛒) = 𝒇(𝐱) + ∑𝛒ⱼ‖𝒄ⱼ(𝐱)‖₁
//
//	‖ 𝒄ⱼ(𝐱) ‖₁ = 𝚖𝚊𝚡[lbcⱼ-𝒄ⱼ(𝐱),0] + 𝚖𝚊𝚡[𝒄ⱼ(𝐱)-ubcⱼ,0]
//
// Maximize the penalty parameters 𝛒 iteratively could lead to optimal solution
//
//	𝛒ⱼᵏ⁺¹ = 𝚖𝚊𝚡[ ½(𝛒ⱼᵏ+|𝛌ⱼ|), |𝛌ⱼ| ] (j = 1 ··· m)
//
// where 𝛌ⱼ is the Lagrange multiplier of j-th constraint.
//
// The directional derivative of the merit function along the 𝐝 is given by:
//
//	𝜵𝞥(𝐝;𝐱ᵏ,𝛒ᵏ) = 𝜵𝒇(𝐱ᵏ)ᵀ𝐝 - (1 - 𝛅)∑𝛒ᵏⱼ‖𝒄ⱼ(𝐱ᵏ)‖₁
//
// Finally the step length 𝛂 is obtained by performing line-search along 𝜵𝞥 with Armijio condition:
//
//	𝞥(𝐱ᵏ+𝛂𝐝;𝛌,𝛒) - 𝞥(𝐱ᵏ;𝛌,𝛒) < η · 𝛂 · 𝜵𝞥(𝐝;𝐱ᵏ,𝛒ᵏ) (0<η<0.5)
//
// # Hessian Approximation
//
// The quasi-newton method BFGS is suitable for it only uses first-order information to approximate the hesse-matrix 𝐁 of Lagrangian function.
// In constrained optimization, 𝐁 > 0 is required to ensure convex. Hence a modified BFGS formula is used:
//   - 𝐁ᵏ⁺¹ = 𝐁ᵏ + 𝐪𝐪ᵀ/𝐬ᵀ𝐪 - 𝐁ᵏ𝐬𝐬ᵀ𝐁ᵏ/𝐬ᵀ𝐁ᵏ𝐬
//   - 𝐬 = 𝐱ᵏ⁺¹ - 𝐱ᵏ
//   - 𝐪 = 𝛉𝛈 + (1-𝛉)𝐁ᵏ𝐬
//   - 𝛈 = 𝜵ℒ(𝐱ᵏ⁺¹,𝛌ᵏ) - 𝜵ℒ(𝐱ᵏ,𝛌ᵏ)
//   - if 𝐬ᵀ𝛈 ≥ ⅕ 𝐬ᵀ𝐁ᵏ𝐬 : 𝛉 = 1
//   - otherwise : 𝛉 = ⅘ 𝐬ᵀ𝐁ᵏ𝐬 / (𝐬ᵀ𝐁ᵏ𝐬 - 𝐬ᵀ𝛈)
//
// The damping above keeps 𝐁 positive definite, so the matrix is stored as a
// plain symmetric array and handed to the QP sub-problem unfactored.
//
// # Convergence Criteria
//
// The KKT conditions cannot be satisfied within the required tolerance for many real-world problems due to its scale variance.
//
// Convergence is checked by the following three aspects:
//   - feasibility : the summation of violation in all the constraints.
//   - optimality : the decrease potential of the objective function and the weighted constraint infeasibility.
//   - step-length : the 2-norm of the descent direction.
//
// Below criteria are checked after obtaining the solution 𝐝 to the problem QP:
//   - C𝑣𝑖𝑜 = ∑‖𝒄ⱼ(𝐱ᵏ)‖₁
//   - C𝑜𝑝𝑡 = |𝜵𝒇(𝐱ᵏ)ᵀ𝐝| + ∑|𝛌ⱼ|×𝚍𝚒𝚜𝚝ⱼ
//
// where 𝚍𝚒𝚜𝚝ⱼ is the distance from 𝒄ⱼ(𝐱ᵏ) to the range side held by 𝛌ⱼ.
//
// Below criteria are checked after line-search found the step 𝛂:
//   - Ĉ𝑣𝑖𝑜 = ∑‖𝒄ⱼ(𝐱ᵏ + 𝛂𝐝)‖₁
//   - Ĉ𝑜𝑝𝑡 = |𝒇(𝐱ᵏ + 𝛂𝐝) - 𝒇(𝐱ᵏ)|
//   - Ĉ𝑠𝑡𝑝 = ‖𝐝‖₂
//
// # Reference
//
// Dieter Kraft: "A software package for sequential quadratic programming".
// DFVLR-FB 88-28, 1988
type sqpSolver struct {
	optimizer *Optimizer
	workspace *Workspace
	location  *sqpLoc
}

func (ss *sqpSolver) evalLoc(mode sqpMode) sqpMode {
	o, w, loc := ss.optimizer, &ss.workspace.sqpCtx, ss.location
	func() {
		defer func() {
			if r := recover(); r != nil {
				mode = BadArgument
			}
		}()
		switch mode {
		case evalFunc:
			loc.f = o.Object.Function(loc.x)
			for j, cons := range o.Cons {
				loc.c[j] = cons.Function(loc.x)
			}
		case evalGrad:
			for j, cons := range o.Cons {
				if d := cons.Derivative; d != nil {
					d(loc.x, w.dg)
				} else if err := w.diffCons[j].Gradient(loc.x, w.dg); err != nil {
					mode = BadArgument
					return
				}
				dcopy(o.n, w.dg, 1, loc.a[j:], o.m)
			}
			if d := o.Object.Derivative; d != nil {
				d(loc.x, loc.g)
			} else if err := w.diffObj.Gradient(loc.x, loc.g); err != nil {
				mode = BadArgument
				return
			}
		default:
			mode = BadArgument
			return
		}
		mode = OK
	}()
	return mode
}

func (ss *sqpSolver) initCtx() (mode sqpMode) {

	if mode = ss.evalLoc(evalFunc); mode != OK {
		return
	}
	if mode = ss.evalLoc(evalGrad); mode != OK {
		return
	}

	// Initialization for the first iteration
	s, c := &ss.optimizer.sqpSpec, &ss.workspace.sqpCtx
	c.acc = s.Stop.Accuracy
	c.tol = ten * c.acc
	c.iter = 0
	c.reset = 0
	dzero(c.s)
	dzero(c.mu)
	dzero(c.r)
	dzero(c.lam)
	return ss.resetBFGS()
}

func (ss *sqpSolver) resetBFGS() (mode sqpMode) {
	spec, ctx := &ss.optimizer.sqpSpec, &ss.workspace.sqpCtx
	ctx.reset++
	if ctx.reset > 5 {
		// Check relaxed convergence in case of positive directional derivative.
		_, mode = ss.checkConv(ctx.tol, SearchNotDescent)
	} else {
		// 𝐁 = 𝐈
		b, n := ctx.b, spec.n
		dzero(b)
		for i := 0; i < n; i++ {
			b[i*n+i] = one
		}
	}
	return mode
}

func (ss *sqpSolver) checkConv(tol float64, notConv sqpMode) (h3 float64, mode sqpMode) {
	spec := &ss.optimizer.sqpSpec
	lbc, ubc := spec.lbc, spec.ubc
	for j, c := range ss.location.c[:spec.m] {
		h3 += math.Max(lbc[j]-c, zero) + math.Max(c-ubc[j], zero)
	}
	if !ss.checkStop(h3, tol) {
		mode = notConv
	}
	return
}

func (ss *sqpSolver) checkStop(vio, tol float64) bool {
	spec, ctx, loc := &ss.optimizer.sqpSpec, &ss.workspace.sqpCtx, ss.location
	// Ĉ𝑣𝑖𝑜 = ∑‖𝒄ⱼ(𝐱ᵏ + 𝛂𝐝)‖₁
	if vio >= tol || ctx.bad || math.IsNaN(loc.f) {
		return false
	} else {
		stop := spec.Stop
		switch {
		case math.Abs(loc.f-ctx.f0) < tol: // Ĉ𝑜𝑝𝑡 = |𝒇(𝐱ᵏ + 𝛂𝐝) - 𝒇(𝐱ᵏ)|
			return true
		case dnrm2(spec.n, ctx.s, 1) < tol: // Ĉ𝑠𝑡𝑝 = ‖𝐝‖₂
			return true
		case stop.FEvalTolerance >= zero && math.Abs(loc.f) < stop.FEvalTolerance:
			return true
		case stop.FDiffTolerance >= zero && math.Abs(loc.f-ctx.f0) < stop.FDiffTolerance:
			return true
		case stop.XDiffTolerance >= zero:
			n, x, x0, u := spec.n, loc.x, ctx.x0, ctx.u
			dcopy(n, x, 1, u, 1)
			daxpy(n, -1, x0, 1, u, 1)
			return dnrm2(n, u, 1) < stop.XDiffTolerance
		}
		return false
	}
}

func (ss *sqpSolver) updateBFGS() (mode sqpMode) {

	// set loc.g = 𝜵𝒇(𝐱) and loc.a = 𝜵𝒄(𝐱)
	if mode = ss.evalLoc(evalGrad); mode != OK {
		return
	}

	// Update the Hessian approximation by modified BFGS formula
	spec, ctx, loc := &ss.optimizer.sqpSpec, &ss.workspace.sqpCtx, ss.location

	m, n := spec.m, spec.n
	u, r, v, b, s := ctx.u, ctx.r, ctx.v, ctx.b, ctx.s

	if n < 0 || n > len(v) || n > len(u) {
		panic("bound check error")
	}

	// 𝛈 = 𝜵ℒ(𝐱ᵏ⁺¹,𝛌ᵏ) - 𝜵ℒ(𝐱ᵏ,𝛌ᵏ)
	//   = [𝜵𝒇(𝐱ᵏ⁺¹) + 𝛌𝜵𝒄(𝐱ᵏ⁺¹)] - [𝜵𝒇(𝐱ᵏ) + 𝛌𝜵𝒄(𝐱ᵏ)]
	for i, g := range loc.g[:n] {
		u[i] = g + ddot(m, loc.a[i*m:], 1, r, 1) - v[i]
	}

	// 𝐁ᵏ𝐬
	dzero(v[:n])
	for j, d := range s[:n] {
		if d != zero {
			daxpy(n, d, b[j*n:], 1, v, 1)
		}
	}

	h1 := ddot(n, s, 1, u, 1) // 𝐬ᵀ𝛈
	h2 := ddot(n, s, 1, v, 1) // 𝐬ᵀ𝐁ᵏ𝐬
	h3 := 0.2 * h2
	if h1 < h3 {
		// 𝛉 =  ⅘ 𝐬ᵀ𝐁ᵏ𝐬 / (𝐬ᵀ𝐁ᵏ𝐬 - 𝐬ᵀ𝛈)
		h4 := (h2 - h3) / (h2 - h1)
		h1 = h3
		dscal(n, h4, u, 1)           // 𝛉𝛈
		daxpy(n, one-h4, v, 1, u, 1) // 𝛉𝛈 + (1-𝛉)𝐁ᵏ𝐬 = 𝐪
	}

	if h1 == zero || h2 == zero {
		mode = ss.resetBFGS()
		if ctx.reset > 5 {
			return
		}
	} else {
		// 𝐁ᵏ⁺¹ = 𝐁ᵏ + 𝐪𝐪ᵀ/𝐬ᵀ𝐪 - 𝐁ᵏ𝐬(𝐁ᵏ𝐬)ᵀ/𝐬ᵀ𝐁ᵏ𝐬
		for j := 0; j < n; j++ {
			col := b[j*n : (j+1)*n]
			qj, wj := u[j]/h1, v[j]/h2
			for i := range col {
				col[i] += u[i]*qj - v[i]*wj
			}
		}
	}

	return
}

// solveQP builds the QP sub-problem at the current location and solves it,
// falling back to the augmented relaxation when the linearized rows turn infeasible.
// On success ctx.s holds [𝐝 𝛅], ctx.r and ctx.lam hold the multipliers and h4 = 1 - 𝛅.
func (ss *sqpSolver) solveQP() (h4 float64, mode sqpMode) {

	spec, ctx, loc := &ss.optimizer.sqpSpec, &ss.workspace.sqpCtx, ss.location

	m, n, n1 := spec.m, spec.n, spec.n+1

	// Transfer bounds from 𝒍 ≤ 𝐱 ≤ 𝒖 to 𝒍 - 𝐱ᵏ ≤ 𝐝 ≤ 𝒖 - 𝐱ᵏ
	for i, b := range spec.Bounds {
		x := loc.x[i]
		ctx.lbd[i] = b.Lower - x // 𝐱ᵏ + 𝐝 ≥ 𝒍  →  𝐝 ≥ 𝒍 - 𝐱ᵏ
		ctx.ubd[i] = b.Upper - x // 𝐱ᵏ + 𝐝 ≤ 𝒖  →  𝐝 ≤ 𝒖 - 𝐱ᵏ
	}
	// Transfer ranges from lbc ≤ 𝒄 ≤ ubc to lbc - 𝒄(𝐱ᵏ) ≤ 𝜵𝒄(𝐱ᵏ)𝐝 ≤ ubc - 𝒄(𝐱ᵏ)
	for j, c := range loc.c[:m] {
		ctx.lba[j] = spec.lbc[j] - c
		ctx.uba[j] = spec.ubc[j] - c
	}

	h4, ctx.bad = one, false

	res := spec.qp.Fit(&activeset.Input{
		H: ctx.b, G: loc.g, A: loc.a,
		Lbx: ctx.lbd[:n], Ubx: ctx.ubd[:n],
		Lba: ctx.lba, Uba: ctx.uba,
		LamX0: ctx.lam[:n], LamA0: ctx.r,
	}, ctx.qpw)

	if res.OK {
		dcopy(n, res.X, 1, ctx.s, 1)
		ctx.s[n] = zero
		dcopy(n, res.LamX, 1, ctx.lam, 1)
		dcopy(m, res.LamA, 1, ctx.r, 1)
		return h4, OK
	}

	// The bound rows are always consistent since 𝐱ᵏ lies inside 𝒍 ≤ 𝐱 ≤ 𝒖,
	// only the linearized constraint rows can turn infeasible.
	if spec.qpx == nil || res.Status != activeset.PrimalRestoreFailed {
		return h4, QPSubFailed
	}

	// If it turns out that the original SQP problem is inconsistent,
	// set ctx.bad = true to prevent termination with convergence on this iteration,
	// even if the augmented problem was solved.
	ctx.bad = true

	// Form augmented QP relaxation.
	dzero(ctx.hx)
	for j := 0; j < n; j++ {
		dcopy(n, ctx.b[j*n:], 1, ctx.hx[j*n1:], 1)
	}
	ctx.hx[n1*n1-1] = hun // 𝛒 = 10²

	dcopy(n, loc.g, 1, ctx.gx, 1)
	ctx.gx[n] = zero

	copy(ctx.ax[:m*n], loc.a)
	for j, c := range loc.c[:m] {
		// 𝓼ⱼ = 𝚖𝚒𝚍[lbcⱼ, 𝒄ⱼ(𝐱ᵏ), ubcⱼ] - 𝒄ⱼ(𝐱ᵏ)
		s := zero
		if l := spec.lbc[j]; c < l {
			s = l - c
		} else if u := spec.ubc[j]; c > u {
			s = u - c
		}
		ctx.ax[n*m+j] = s
	}

	dzero(ctx.ex)                      // 𝐝 = 0
	ctx.ex[n] = one                    // 𝛅 = 1
	ctx.lbd[n], ctx.ubd[n] = zero, one // 0 ≤ 𝛅 ≤ 1

	for relax := 0; relax <= 5; relax++ {
		// Solve the m×(n+1) augmented problem
		resx := spec.qpx.Fit(&activeset.Input{
			H: ctx.hx, G: ctx.gx, A: ctx.ax,
			Lbx: ctx.lbd, Ubx: ctx.ubd,
			Lba: ctx.lba, Uba: ctx.uba,
			X0: ctx.ex, LamX0: ctx.lam, LamA0: ctx.r,
		}, ctx.qpxw)

		if !resx.OK {
			if resx.Status == activeset.PrimalRestoreFailed {
				ctx.hx[n1*n1-1] *= ten // 𝛒 = 𝛒 × 10
				continue
			}
			return h4, QPSubFailed
		}

		h4 = one - resx.X[n] // 1 - 𝛅
		dcopy(n1, resx.X, 1, ctx.s, 1)
		dcopy(n1, resx.LamX, 1, ctx.lam, 1)
		dcopy(m, resx.LamA, 1, ctx.r, 1)
		return h4, OK
	}

	return h4, ConsIncompatible
}

// SQP iteration to solve general nonlinear optimization problems.
func (ss *sqpSolver) mainLoop() (mode sqpMode) {

	loc := ss.location
	ctx := &ss.workspace.sqpCtx
	spec := &ss.optimizer.sqpSpec

	m, n := spec.m, spec.n
	lbc, ubc := spec.lbc, spec.ubc
	r, v, s := ctx.r, ctx.v, ctx.s

	mode = ss.initCtx()
	for mode == OK {

		if ctx.iter++; ctx.iter > spec.Stop.MaxIterations {
			ctx.iter--
			return SQPExceedMaxIter
		}

		// Solve the QP sub-problem to obtain 𝐝 and 𝛌
		// then set ctx.s = 𝐝 and ctx.r = 𝛌
		var h4 float64
		if h4, mode = ss.solveQP(); mode != OK {
			return
		}

		// Update multipliers for L1-test
		for i, g := range loc.g[:n] {
			// save ctx.v = 𝜵𝒇(𝐱ᵏ) + 𝛌𝜵𝒄(𝐱ᵏ) for BFGS update
			v[i] = g + ddot(m, loc.a[i*m:], 1, r, 1)
		}

		ctx.f0 = loc.f
		copy(ctx.x0, loc.x)

		gs := ddot(n, loc.g, 1, s, 1) // 𝜵𝒇(𝐱ᵏ)ᵀ𝐝
		h1 := math.Abs(gs)            // C𝑜𝑝𝑡 = |𝜵𝒇(𝐱ᵏ)ᵀ𝐝| + ∑|𝛌ⱼ|×𝚍𝚒𝚜𝚝ⱼ
		h2 := zero                    // C𝑣𝑖𝑜 = ∑‖𝒄ⱼ(𝐱ᵏ)‖₁
		for j, c := range loc.c[:m] {
			h2 += math.Max(lbc[j]-c, zero) + math.Max(c-ubc[j], zero) // ‖𝒄ⱼ(𝐱ᵏ)‖₁
			h3 := math.Abs(r[j])                                      // |𝛌ⱼ|
			if h3 > zero {
				// 𝚍𝚒𝚜𝚝ⱼ is measured to the range side held by 𝛌ⱼ
				b := lbc[j]
				if r[j] > zero {
					b = ubc[j]
				}
				h1 += h3 * math.Abs(c-b)
			}
			ctx.mu[j] = math.Max(h3, (ctx.mu[j]+h3)/2) // 𝛒ⱼᵏ⁺¹ = 𝚖𝚊𝚡[ ½(𝛒ⱼᵏ+|𝛌ⱼ|), |𝛌ⱼ| ]
		}

		// Check the convergence criteria for NLP problem,
		// stop if they are satisfied
		if h1 < ctx.acc && h2 < ctx.acc && !ctx.bad && !math.IsNaN(loc.f) {
			return OK
		}

		h1 = zero // ∑𝛒ᵏⱼ‖𝒄ⱼ(𝐱ᵏ)‖₁
		for j, c := range loc.c[:m] {
			h1 += ctx.mu[j] * (math.Max(lbc[j]-c, zero) + math.Max(c-ubc[j], zero))
		}

		// 𝞥(𝐱ᵏ;𝛒) = 𝒇(𝐱ᵏ) + 𝛒ᵏ‖𝒄(𝐱ᵏ)‖₁
		ctx.t0 = loc.f + h1

		// 𝜵𝞥 = 𝜵𝒇(𝐱ᵏ)ᵀ𝐝 - (1 - 𝛅)∑𝛒ᵏⱼ‖𝒄ⱼ(𝐱ᵏ)‖₁
		h3 := gs - h1*h4
		if h3 >= zero {
			// Reset the Hessian matrix when an ascent direction is generated.
			mode = ss.resetBFGS()
			if ctx.reset > 5 {
				return
			}
			continue
		}

		// Conduct the line search with the merit function to get a step length 𝛂,
		// set 𝐱ᵏ⁺¹ = 𝐱ᵏ + 𝛂𝐝 and evaluate 𝒇(𝐱ᵏ⁺¹), 𝒄ⱼ(𝐱ᵏ⁺¹).
		if spec.Line.Exact {
			ctx.line = int(findNoop)
			ss.exactSearch(math.NaN())
		} else {
			ctx.line = 0
			ctx.alpha = spec.Line.Alpha.Upper
			ss.inexactSearch()
			h3 *= ctx.alpha
		}

		for mode = evalFunc; mode == evalFunc; {
			mode = ss.lineSearch(&h3)
		}

		if mode == OK {
			return
		}

		// evaluate 𝜵𝒇(𝐱ᵏ⁺¹), 𝜵𝒄ⱼ(𝐱ᵏ⁺¹) and update BFGS
		if mode == evalGrad {
			mode = ss.updateBFGS()
		}
	}
	return
}

func (ss *sqpSolver) inexactSearch() {
	s, c, x := &ss.optimizer.sqpSpec, &ss.workspace.sqpCtx, ss.location.x
	c.line++
	dscal(s.n, c.alpha, c.s, 1) // 𝐬 = 𝐱ᵏ⁺¹ - 𝐱ᵏ = 𝛂𝐝
	dcopy(s.n, c.x0, 1, x, 1)
	daxpy(s.n, one, c.s, 1, x, 1) // 𝐱ᵏ⁺¹ = 𝐱ᵏ + 𝛂𝐝
	for i, v := range x {
		if b := s.Bounds[i]; v < b.Lower {
			x[i] = b.Lower
		} else if v > b.Upper {
			x[i] = b.Upper
		}
	}
}

func (ss *sqpSolver) exactSearch(t float64) (mode findMode) {
	s, c, x := &ss.optimizer.sqpSpec, &ss.workspace.sqpCtx, ss.location.x
	mode = findMode(c.line)
	if mode != findConv {
		c.alpha, mode = findMin(mode, &c.fw, t, c.tol, *s.Line.Alpha)
		c.line = int(mode)
		dcopy(s.n, c.x0, 1, x, 1)
		daxpy(s.n, c.alpha, c.s, 1, x, 1) // 𝐱 + 𝛂𝐝
		for i, v := range x {
			if b := s.Bounds[i]; v < b.Lower {
				x[i] = b.Lower
			} else if v > b.Upper {
				x[i] = b.Upper
			}
		}
	} else {
		dscal(s.n, c.alpha, c.s, 1) // 𝐬 = 𝐱ᵏ⁺¹ - 𝐱ᵏ = 𝛂𝐝
	}
	return
}

func (ss *sqpSolver) lineSearch(h3 *float64) (mode sqpMode) {

	if mode = ss.evalLoc(evalFunc); mode != OK {
		return
	}

	spec, ctx, loc := &ss.optimizer.sqpSpec, &ss.workspace.sqpCtx, ss.location

	// Functions at the current x
	m, lbc, ubc := spec.m, spec.lbc, spec.ubc

	// 𝞥(𝐱ᵏ+𝛂𝐝;𝛒) = 𝒇(𝐱ᵏ+𝛂𝐝) + 𝛒ᵏ‖𝒄(𝐱ᵏ+𝛂𝐝)‖₁
	t := loc.f
	for j, c := range loc.c[:m] {
		t += ctx.mu[j] * (math.Max(lbc[j]-c, zero) + math.Max(c-ubc[j], zero))
	}

	li := spec.Line
	// Ĉ𝑣𝑖𝑜 = ∑‖𝒄ⱼ(𝐱ᵏ + 𝛂𝐝)‖₁
	// Ĉ𝑜𝑝𝑡 = |𝒇(𝐱ᵏ + 𝛂𝐝) - 𝒇(𝐱ᵏ)|
	if h1 := t - ctx.t0; !li.Exact {
		if h1 <= *h3/10 || ctx.line > 10 {
			*h3, mode = ss.checkConv(ctx.acc, evalGrad)
		} else {
			al, au := li.Alpha.Lower, li.Alpha.Upper
			ctx.alpha = math.Min(math.Max(*h3/(2*(*h3-h1)), al), au)
			ss.inexactSearch()
			*h3 *= ctx.alpha
			mode = evalFunc
		}
	} else {
		if ss.exactSearch(t) == findConv {
			*h3, mode = ss.checkConv(ctx.acc, evalGrad)
		} else {
			mode = evalFunc
		}
	}
	return
}
