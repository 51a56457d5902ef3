// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"math"
)

var sqrtEps = math.Sqrt(eps)              // square root of machine precision
var invPhi2 = one / (math.Phi * math.Phi) //  golden section ratio

type findMode int

const (
	findNoop findMode = iota
	findInit
	findNext
	findConv
)

type findWork struct {
	a, b, d, e, p, q, r, u, v, w, x, m, fu, fv, fw, fx, tol1, tol2 float64
}

// Line-search without derivatives with combination of golden section and successive quadratic interpolation.
// findMin find the argument x where the function f(x) takes it's minimum of the interval ax, bx and
// return abscissa approximating the point where f(x) attains a minimum.
func findMin(
	m findMode,
	w *findWork,
	f float64, // function value at argMin which is to be brought in by reverse communication controlled by mode
	tol float64, // desired length of interval of uncertainty of final result
	alpha Bound, // bounds of the initial interval
) (argMin float64, mode findMode) {

	c := invPhi2
	ax, bx := alpha.Lower, alpha.Upper

	switch m {
	case findInit:
		// Main loop starts
		w.fx = f
		w.fv = w.fx
		w.fw = w.fv
	case findNext:
		w.fu = f
		// Update a, b, v, w, and x
		if u, x := w.u, w.x; w.fu > w.fx {
			if u < x {
				w.a = u
			}
			if u >= x {
				w.b = u
			}
			if w.fu <= w.fw || math.Abs(w.w-x) <= zero {
				w.v, w.fv = w.w, w.fw
				w.w, w.fw = w.u, w.fu
			} else if w.fu <= w.fv || math.Abs(w.v-x) <= zero || math.Abs(w.v-w.w) <= zero {
				w.v, w.fv = w.u, w.fu
			}
		} else {
			if u >= x {
				w.a = x
			}
			if u < x {
				w.b = x
			}
			w.v, w.fv = w.w, w.fw
			w.w, w.fw = w.x, w.fx
			w.x, w.fx = w.u, w.fu
		}
	default:
		// Initialization
		w.a, w.b = ax, bx
		w.e = zero
		w.v = w.a + c*(w.b-w.a)
		w.w, w.x = w.v, w.v
		return w.x, findInit
	}

	w.m = 0.5 * (w.a + w.b)
	w.tol1 = sqrtEps*math.Abs(w.x) + tol
	w.tol2 = 2 * w.tol1

	// Test for convergence
	if math.Abs(w.x-w.m) <= w.tol2-0.5*(w.b-w.a) {
		// End of main loop
		return w.x, findConv
	}

	// Parabolic interpolation or golden-section step
	r, q, p, d, e := zero, zero, zero, w.d, w.e
	if math.Abs(e) > w.tol1 {
		// Fit parabola
		fx, fw, fv := w.fx, w.fw, w.fv
		x, w, v := w.x, w.w, w.v
		r = (x - w) * (fx - fv)
		q = (x - v) * (fx - fw)
		p = (x-v)*q - (x-w)*r
		q = 2 * (q - r)
		if q > zero {
			p = -p
		}
		if q < zero {
			q = -q
		}
		r, e = e, d
	}
	w.r, w.q, w.p = r, q, p

	if a, b, x := w.a, w.b, w.x; math.Abs(p) >= 0.5*math.Abs(q*r) || p <= q*(a-x) || p >= q*(b-x) {
		// Golden-section step
		if x >= w.m {
			e = a - x
		} else {
			e = b - x
		}
		d = c * e
	} else {
		// Parabolic interpolation step
		if w.u-a < w.tol2 || b-w.u < w.tol2 {
			// Ensure not too close to bounds
			d = math.Copysign(w.tol1, w.m-x)
		} else {
			d = p / q
		}
	}

	// Ensure not too close to x
	if math.Abs(d) < w.tol1 {
		d = math.Copysign(w.tol1, d)
	}

	w.d, w.e = d, e
	w.u = w.x + w.d
	return w.u, findNext
}
