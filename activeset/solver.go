// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package activeset

import (
	"math"

	"github.com/curioloop/quadprog/sparse"
)

type qpSolver struct {
	optimizer *Optimizer
	workspace *Workspace
	input     *Input
}

// mainLoop drives the active-set iteration:
//
//	1. evaluate the lagrangian gradient and the feasibility residuals
//	2. when stalled without an active-set change, restore primal or dual feasibility
//	3. stop on convergence or an exhausted iteration budget
//	4. build the negated KKT residual of the current active set
//	5. refactorize the masked KKT system and solve for the full primal-dual step
//	6. find the largest step fraction that no bound or multiplier sign blocks
//	7. apply the step and flip the blocking tags
//
// The point and multipliers left in the workspace are always mutually
// consistent with fk, pr and du when the loop exits.
func (s *qpSolver) mainLoop() qpMode {
	o, w, in := s.optimizer, s.workspace, s.input

	if in.X0 != nil {
		dcopy(o.nx, in.X0, 1, w.xk, 1)
	} else {
		dzero(w.xk)
	}

	s.assemble()
	s.evalCons()
	s.seed()

	w.iter = 0
	w.newActive = true
	s.printInit()

	status := Optimal
	for {
		s.gradient()
		s.residuals()
		success := w.pr < o.opts.PrimalTolerance && w.du < o.opts.DualTolerance

		if !success && !w.newActive {
			// no progress possible with this active set, relieve the worst residual
			if w.pr >= o.opts.PrimalTolerance {
				if !s.restorePrimal() {
					status = PrimalRestoreFailed
					break
				}
			} else if !s.restoreDual() {
				status = DualRestoreFailed
				break
			}
			continue
		}

		s.printIter()

		if success {
			break
		}
		if w.iter >= o.opts.MaxIterations {
			status = ExceedMaxIter
			break
		}
		w.iter++
		w.newActive = false

		s.kktResidual()
		s.factorSolve()
		s.ratioApply()
	}

	s.printExit(status)
	return status
}

// seed classifies every bound against the initial point.
func (s *qpSolver) seed() {
	o, w, in := s.optimizer, s.workspace, s.input

	for i := 0; i < o.nx; i++ {
		lam := bval(in.LamX0, i)
		w.tagX[i], w.lamX[i] = seedBound(w.xk[i], bval(in.Lbx, i), bval(in.Ubx, i), lam)
	}
	for i := 0; i < o.na; i++ {
		lam := bval(in.LamA0, i)
		w.tagA[i], w.lamA[i] = seedBound(w.gk[i], bval(in.Lba, i), bval(in.Uba, i), lam)
	}
}

// seedBound picks the starting tag for one bound: a degenerate or
// violated bound starts active on its side with the warm multiplier
// clipped there, a value resting exactly on a bound keeps a warm
// multiplier that already carries the matching sign, anything else
// starts inactive.
func seedBound(v, lb, ub, lam float64) (bndTag, float64) {
	switch {
	case lb == ub:
		if v <= lb {
			return tagLower, math.Min(lam, -dmin)
		}
		return tagUpper, math.Max(lam, dmin)
	case v < lb:
		return tagLower, math.Min(lam, -dmin)
	case v > ub:
		return tagUpper, math.Max(lam, dmin)
	case v == lb && lam < zero:
		return tagLower, lam
	case v == ub && lam > zero:
		return tagUpper, lam
	}
	return tagFree, zero
}

// gradient refreshes the constraint values, the objective value and the
// lagrangian gradient ∇ₓℒ = 𝐠 + 𝐇𝐱 + 𝐀ᵀλa in step[:nx]. Active bound
// multipliers keep their sign while their magnitude follows the gradient.
func (s *qpSolver) gradient() {
	o, w, in := s.optimizer, s.workspace, s.input
	nx := o.nx

	s.evalCons()

	grad := w.step[:nx]
	if in.G != nil {
		dcopy(nx, in.G, 1, grad, 1)
	} else {
		dzero(grad)
	}
	sparse.MV(in.H, o.h, w.xk, grad, false)
	sparse.MV(in.A, o.a, w.lamA, grad, true)

	for i := 0; i < nx; i++ {
		switch w.tagX[i] {
		case tagLower:
			w.lamX[i] = math.Min(-grad[i], -dmin)
		case tagUpper:
			w.lamX[i] = math.Max(-grad[i], dmin)
		}
	}

	w.fk = sparse.Bilin(in.H, o.h, w.xk, w.xk) / two
	if in.G != nil {
		w.fk += ddot(nx, w.xk, 1, in.G, 1)
	}
}

// residuals computes the max primal bound violation over x and 𝐀𝐱 and
// the max dual stationarity violation over x, remembering which entry
// is to blame for each.
func (s *qpSolver) residuals() {
	o, w, in := s.optimizer, s.workspace, s.input
	nx, na := o.nx, o.na

	w.pr, w.imaxpr = zero, -1
	for i := 0; i < nx; i++ {
		if ub := bval(in.Ubx, i); w.xk[i] > ub+w.pr {
			w.pr, w.imaxpr = w.xk[i]-ub, i
		} else if lb := bval(in.Lbx, i); w.xk[i] < lb-w.pr {
			w.pr, w.imaxpr = lb-w.xk[i], i
		}
	}
	for i := 0; i < na; i++ {
		if ub := bval(in.Uba, i); w.gk[i] > ub+w.pr {
			w.pr, w.imaxpr = w.gk[i]-ub, nx+i
		} else if lb := bval(in.Lba, i); w.gk[i] < lb-w.pr {
			w.pr, w.imaxpr = lb-w.gk[i], nx+i
		}
	}

	grad := w.step[:nx]
	w.du, w.imaxdu = zero, -1
	for i := 0; i < nx; i++ {
		if d := math.Abs(grad[i] + w.lamX[i]); d > w.du {
			w.du, w.imaxdu = d, i
		}
	}
}

// restorePrimal activates the bound blamed for the primal residual on
// its violated side. Reports failure when that bound is already active,
// the active set then has no move left that could recover feasibility.
func (s *qpSolver) restorePrimal() bool {
	o, w, in := s.optimizer, s.workspace, s.input

	if i := w.imaxpr; i < o.nx {
		if w.tagX[i] != tagFree {
			return false
		}
		grad := w.step[:o.nx]
		switch {
		case w.xk[i] < bval(in.Lbx, i):
			w.tagX[i] = tagLower
			w.lamX[i] = math.Min(-grad[i], -dmin)
		case w.xk[i] > bval(in.Ubx, i):
			w.tagX[i] = tagUpper
			w.lamX[i] = math.Max(-grad[i], dmin)
		default:
			return false
		}
	} else {
		i -= o.nx
		if w.tagA[i] != tagFree {
			return false
		}
		switch {
		case w.gk[i] < bval(in.Lba, i):
			w.tagA[i] = tagLower
			w.lamA[i] = -dmin
		case w.gk[i] > bval(in.Uba, i):
			w.tagA[i] = tagUpper
			w.lamA[i] = dmin
		default:
			return false
		}
	}

	w.newActive = true
	return true
}

// restoreDual deactivates a constraint that can relieve the dual
// residual: among the active entries coupled to the blamed variable,
// pick the one with the largest coefficient whose multiplier pushes the
// residual in the right direction. The blamed variable's own bound
// counts as a unit coefficient. Reports failure when no candidate
// qualifies, a zero coefficient cannot relieve anything.
func (s *qpSolver) restoreDual() bool {
	o, w, in := s.optimizer, s.workspace, s.input

	grad := w.step[:o.nx]
	i := w.imaxdu
	// a positive left-hand side asks for a smaller multiplier
	negLHS := grad[i]+w.lamX[i] > zero

	best, ibest := zero, -1
	if w.tagX[i] != tagFree && negLHS == (w.lamX[i] > zero) {
		best, ibest = one, i
	}
	for k := o.a.Colind[i]; k < o.a.Colind[i+1]; k++ {
		r := o.a.Row[k]
		if w.tagA[r] == tagFree || math.Abs(in.A[k]) <= best {
			continue
		}
		if (negLHS == (in.A[k] > zero)) == (w.lamA[r] > zero) {
			best, ibest = math.Abs(in.A[k]), o.nx+r
		}
	}

	switch {
	case ibest < 0:
		return false
	case ibest < o.nx:
		w.tagX[ibest] = tagFree
		w.lamX[ibest] = zero
	default:
		w.tagA[ibest-o.nx] = tagFree
		w.lamA[ibest-o.nx] = zero
	}

	w.newActive = true
	return true
}

// ratioApply finds the largest fraction τ ∈ [0,1] of the solved step
// that neither lets an inactive bound cross its limit nor lets an
// active multiplier cross zero, then applies τ and flips the tags of
// every entry that blocked at exactly τ. A zero τ applies nothing and
// leaves the stall to the restoration path of the next pass.
func (s *qpSolver) ratioApply() {
	o, w, in := s.optimizer, s.workspace, s.input
	nx, na := o.nx, o.na

	tau := one
	dfill(w.blockTau, -one)

	for i := 0; i < nx; i++ {
		if w.tagX[i] == tagFree {
			lb, ub := bval(in.Lbx, i), bval(in.Ubx, i)
			trial := w.xk[i] + tau*w.step[i]
			if trial <= lb && w.xk[i] > lb {
				tau = (lb - w.xk[i]) / w.step[i]
				w.blockTau[i], w.blockSign[i] = tau, tagLower
			} else if trial >= ub && w.xk[i] < ub {
				tau = (ub - w.xk[i]) / w.step[i]
				w.blockTau[i], w.blockSign[i] = tau, tagUpper
			}
		} else {
			trial := w.lamX[i] + tau*w.dlamX[i]
			if (w.lamX[i] < zero && trial >= zero) || (w.lamX[i] > zero && trial <= zero) {
				tau = -w.lamX[i] / w.dlamX[i]
				w.blockTau[i], w.blockSign[i] = tau, tagFree
			}
		}
	}
	for i := 0; i < na; i++ {
		if w.tagA[i] == tagFree {
			lb, ub := bval(in.Lba, i), bval(in.Uba, i)
			trial := w.gk[i] + tau*w.dg[i]
			if trial < lb && w.gk[i] >= lb {
				tau = (lb - w.gk[i]) / w.dg[i]
				w.blockTau[nx+i], w.blockSign[nx+i] = tau, tagLower
			} else if trial > ub && w.gk[i] <= ub {
				tau = (ub - w.gk[i]) / w.dg[i]
				w.blockTau[nx+i], w.blockSign[nx+i] = tau, tagUpper
			}
		} else {
			trial := w.lamA[i] + tau*w.step[nx+i]
			if (w.lamA[i] > zero) != (trial > zero) {
				tau = -w.lamA[i] / w.step[nx+i]
				w.blockTau[nx+i], w.blockSign[nx+i] = tau, tagFree
			}
		}
	}

	log := o.logger
	if log.enable(LogVerbose) {
		log.log("Step size tau = %g\n", tau)
	}

	if tau == zero {
		return
	}

	daxpy(nx, tau, w.step, 1, w.xk, 1)

	// constraint multipliers advance along the step, their tags clamp the
	// sign and the blockers at exactly τ flip sides
	for i := 0; i < na; i++ {
		tag := w.tagA[i]
		if w.blockTau[nx+i] == tau {
			w.newActive = true
			tag = w.blockSign[nx+i]
			w.tagA[i] = tag
		}
		w.lamA[i] += tau * w.step[nx+i]
		switch tag {
		case tagLower:
			w.lamA[i] = math.Min(w.lamA[i], -dmin)
		case tagUpper:
			w.lamA[i] = math.Max(w.lamA[i], dmin)
		default:
			w.lamA[i] = zero
		}
	}

	// bound multipliers only flip here, the next gradient pass
	// recomputes the magnitude behind the placeholder sign
	for i := 0; i < nx; i++ {
		if w.blockTau[i] == tau {
			w.newActive = true
			w.tagX[i] = w.blockSign[i]
			w.lamX[i] = float64(w.blockSign[i])
		}
	}
}

func active(tags []bndTag) (n int) {
	for _, t := range tags {
		if t != tagFree {
			n++
		}
	}
	return
}

func logVec(log *Logger, name string, v []float64) {
	log.log("\n%s = ", name)
	for i, x := range v {
		log.log("%.2e ", x)
		if (i+1)%6 == 0 {
			log.log("\n     ")
		}
	}
	log.log("\n")
}

// printInit logs the problem shape before the first iteration.
func (s *qpSolver) printInit() {
	o, w := s.optimizer, s.workspace

	log := o.logger
	if log.enable(LogLast) {
		log.log("RUNNING THE ACTIVE-SET QP CODE\n")
		log.log("           * * *\n")
		log.log("NX = %d    NA = %d    NNZ(KKT) = %d\n", o.nx, o.na, o.kkt.NNZ())

		if log.enable(LogEval) {
			log.out("RUNNING THE ACTIVE-SET QP CODE\n\n")
			log.out("NX = %d    NA = %d\n", o.nx, o.na)
			log.out("\n   it   actx   acta       f         |pr|      |du|\n")

			if log.enable(LogVerbose) {
				logVec(&log, "X0", w.xk)
			}
		}
	}
}

// printIter logs the current iteration progress, including the objective
// value and both feasibility residuals.
func (s *qpSolver) printIter() {
	o, w := s.optimizer, s.workspace

	log := o.logger
	if log.enable(LogVerbose) {
		logVec(&log, "X ", w.xk)
		logVec(&log, "LX", w.lamX)
		logVec(&log, "LA", w.lamA)
	}
	if log.enable(LogEval) && w.iter%int(log.Level) == 0 {
		log.log("At iterate %5d    f= %12.5e    |pr|= %12.5e    |du|= %12.5e\n", w.iter, w.fk, w.pr, w.du)
		log.out("%5d %6d %6d %10.3e %9.2e %9.2e\n",
			w.iter, active(w.tagX), active(w.tagA), w.fk, w.pr, w.du)
	}
}

// printExit logs the final statistics and exit conditions of the solve process.
func (s *qpSolver) printExit(status qpMode) {
	o, w := s.optimizer, s.workspace

	log := o.logger
	if !log.enable(LogLast) {
		return
	}

	log.log("\n           * * *\n")
	log.log("\n   NX     Tit   Actx   Acta    |pr|      |du|          F\n")
	log.log("%5d %6d %6d %6d %9.2e %9.2e %12.5e\n",
		o.nx, w.iter, active(w.tagX), active(w.tagA), w.pr, w.du, w.fk)

	if log.enable(LogVerbose) {
		logVec(&log, "X ", w.xk)
	}

	var msg string
	switch status {
	case Optimal:
		msg = "CONVERGENCE: PRIMAL AND DUAL RESIDUALS WITHIN TOLERANCE"
	case PrimalRestoreFailed:
		msg = "ABNORMAL TERMINATION: PRIMAL FEASIBILITY RESTORATION FAILED"
	case DualRestoreFailed:
		msg = "ABNORMAL TERMINATION: DUAL FEASIBILITY RESTORATION FAILED"
	case ExceedMaxIter:
		msg = "STOP: TOTAL NO. of ITERATIONS REACHED LIMIT"
	default:
		msg = "UNKNOWN STATUS"
	}
	log.log("\n%s\n", msg)

	if status != Optimal {
		if w.pr >= o.opts.PrimalTolerance {
			log.log("\n WARNING: primal tolerance is not satisfied: |pr| = %9.2e\n", w.pr)
		}
		if w.du >= o.opts.DualTolerance {
			log.log("\n WARNING: dual tolerance is not satisfied: |du| = %9.2e\n", w.du)
		}
	}
}
