// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sparse

import (
	"math"
	"slices"
)

// SymbolicQR is the one-time structural analysis of a pattern for sparse
// Householder QR factorization A = Q·R with Q = H₀H₁···Hₙ₋₁.
//
// The analysis fixes everything that does not depend on numeric values:
//   - Prinv, the row permutation pairing each source row with the pivot
//     position of the column whose elimination consumes it first; columns
//     without a candidate row receive fictitious positions, so the factor
//     row count V.Nrow may exceed the source row count.
//   - Pc, the column ordering (natural; kept explicit so the numeric phase
//     and the solves never special-case it).
//   - V and R, the complete nonzero patterns of the Householder vectors
//     and the triangular factor, rows ascending in every column: each R
//     column ends with its diagonal, each V column starts with it.
//
// Numeric factorizations then run branch-free on exactly these patterns:
// no symbolic work, no allocation, bitwise deterministic for equal values.
//
// # Reference
//
// Timothy A. Davis: "Direct Methods for Sparse Linear Systems".
// SIAM, 2006 (the QR analysis of chapter 5)
type SymbolicQR struct {
	V, R  *Pattern // factor patterns, V.Nrow is the extended row count
	Prinv []int    // source row i lands at permuted position Prinv[i]
	Pc    []int    // factor column c holds source column Pc[c]

	src *Pattern
}

// QR analyzes the pattern for Householder QR factorization.
// Structurally singular input is not rejected: the numeric factors simply
// carry zero pivots and solves produce non-finite components.
func (sp *Pattern) QR() *SymbolicQR {
	n := sp.Ncol
	pc := make([]int, n)
	for i := range pc {
		pc[i] = i
	}
	parent := etree(sp, pc)
	prinv, leftmost, m2 := vcount(sp, pc, parent)

	vcolind := make([]int, n+1)
	rcolind := make([]int, n+1)
	vrow := make([]int, 0, 2*len(sp.Row)+n)
	rrow := make([]int, 0, 2*len(sp.Row)+n)
	w := make([]int, m2)
	for i := range w {
		w[i] = -1
	}
	s := make([]int, n)

	for k := 0; k < n; k++ {
		p1 := len(vrow)
		w[k] = k
		vrow = append(vrow, k)
		top := n
		for p := sp.Colind[pc[k]]; p < sp.Colind[pc[k]+1]; p++ {
			// climb the elimination tree from the leftmost column of this
			// row, collecting the unvisited part of the path to k
			i := leftmost[sp.Row[p]]
			path := 0
			for ; w[i] != k; i = parent[i] {
				s[path] = i
				w[i] = k
				path++
			}
			for path > 0 {
				path--
				top--
				s[top] = s[path]
			}
			if ip := prinv[sp.Row[p]]; ip > k && w[ip] < k {
				vrow = append(vrow, ip)
				w[ip] = k
			}
		}
		rbeg := len(rrow)
		for p := top; p < n; p++ {
			i := s[p]
			rrow = append(rrow, i)
			if parent[i] == k {
				// rows still pending in the child reflection carry over
				for q := vcolind[i]; q < vcolind[i+1]; q++ {
					if r := vrow[q]; w[r] < k {
						w[r] = k
						vrow = append(vrow, r)
					}
				}
			}
		}
		slices.Sort(rrow[rbeg:])
		rrow = append(rrow, k)
		slices.Sort(vrow[p1:])
		vcolind[k+1] = len(vrow)
		rcolind[k+1] = len(rrow)
	}

	return &SymbolicQR{
		V:     &Pattern{Nrow: m2, Ncol: n, Colind: vcolind, Row: vrow},
		R:     &Pattern{Nrow: m2, Ncol: n, Colind: rcolind, Row: rrow},
		Prinv: prinv,
		Pc:    pc,
		src:   sp,
	}
}

// etree builds the column elimination tree of AᵀA without forming AᵀA,
// for the column order pc.
func etree(sp *Pattern, pc []int) []int {
	m, n := sp.Nrow, sp.Ncol
	parent := make([]int, n)
	ancestor := make([]int, n)
	prev := make([]int, m)
	for i := range prev {
		prev[i] = -1
	}
	for k := 0; k < n; k++ {
		parent[k] = -1
		ancestor[k] = -1
		for p := sp.Colind[pc[k]]; p < sp.Colind[pc[k]+1]; p++ {
			r := sp.Row[p]
			for i := prev[r]; i != -1 && i < k; {
				next := ancestor[i]
				ancestor[i] = k
				if next == -1 {
					parent[i] = k
				}
				i = next
			}
			prev[r] = k
		}
	}
	return parent
}

// vcount assigns every source row to a pivot position by queueing rows on
// their leftmost column and migrating leftovers up the elimination tree.
func vcount(sp *Pattern, pc, parent []int) (prinv, leftmost []int, m2 int) {
	m, n := sp.Nrow, sp.Ncol
	prinv = make([]int, m)
	leftmost = make([]int, m)
	next := make([]int, m)
	head := make([]int, n)
	tail := make([]int, n)
	nque := make([]int, n)
	for k := range head {
		head[k], tail[k] = -1, -1
	}
	for i := range leftmost {
		leftmost[i] = -1
	}
	for k := n - 1; k >= 0; k-- {
		for p := sp.Colind[pc[k]]; p < sp.Colind[pc[k]+1]; p++ {
			leftmost[sp.Row[p]] = k
		}
	}
	for i := m - 1; i >= 0; i-- {
		prinv[i] = -1
		k := leftmost[i]
		if k == -1 {
			continue // row of an empty matrix slice, no pivot candidate
		}
		if nque[k] == 0 {
			tail[k] = i
		}
		nque[k]++
		next[i] = head[k]
		head[k] = i
	}
	m2 = m
	for k := 0; k < n; k++ {
		i := head[k]
		rest := -1
		if i < 0 {
			i = m2 // fictitious row keeps the pivot structure intact
			m2++
		} else {
			rest = next[i]
		}
		if i < m {
			prinv[i] = k
		}
		nque[k]--
		if nque[k] <= 0 {
			continue
		}
		if pa := parent[k]; pa != -1 {
			if nque[pa] == 0 {
				tail[pa] = tail[k]
			}
			next[tail[k]] = head[pa]
			head[pa] = rest
			nque[pa] += nque[k]
		}
	}
	k := n
	for i := 0; i < m; i++ {
		if prinv[i] < 0 {
			prinv[i] = k
			k++
		}
	}
	return prinv, leftmost, m2
}

// house builds a Householder reflection in place: on return x holds the
// reflection vector v with H = I − β·v·vᵀ annihilating x below the first
// component, and s = ‖x‖₂ is the surviving diagonal value.
func house(x []float64) (s, beta float64) {
	sigma := 0.0
	for _, v := range x[1:] {
		sigma += v * v
	}
	if sigma == 0 {
		s = math.Abs(x[0])
		if x[0] <= 0 {
			beta = 2
		}
		x[0] = 1
	} else {
		s = math.Sqrt(x[0]*x[0] + sigma)
		if x[0] <= 0 {
			x[0] -= s
		} else {
			x[0] = -sigma / (x[0] + s)
		}
		beta = -1 / (s * x[0])
	}
	return s, beta
}

// Factor computes the numeric factorization of the values a, laid out on
// the analyzed pattern. v, r and beta receive the Householder vectors, the
// triangular factor and the reflection scalings; w is dense scratch of
// length at least V.Nrow. Nothing is allocated.
func (s *SymbolicQR) Factor(a []float64, v, r, beta, w []float64) {
	sp, vp, rp := s.src, s.V, s.R
	n, m2 := sp.Ncol, vp.Nrow
	if len(a) < sp.NNZ() || len(v) < vp.NNZ() || len(r) < rp.NNZ() || len(beta) < n || len(w) < m2 {
		panic("bound check error")
	}
	x := w[:m2]
	for i := range x {
		x[i] = 0
	}
	for c := 0; c < n; c++ {
		for p := sp.Colind[s.Pc[c]]; p < sp.Colind[s.Pc[c]+1]; p++ {
			x[s.Prinv[sp.Row[p]]] = a[p]
		}
		// apply the published reflections in ascending pivot order,
		// harvesting the finished R entries as their rows settle
		kd := rp.Colind[c+1] - 1
		for k := rp.Colind[c]; k < kd; k++ {
			i := rp.Row[k]
			alpha := 0.0
			for p := vp.Colind[i]; p < vp.Colind[i+1]; p++ {
				alpha += v[p] * x[vp.Row[p]]
			}
			alpha *= beta[i]
			for p := vp.Colind[i]; p < vp.Colind[i+1]; p++ {
				x[vp.Row[p]] -= alpha * v[p]
			}
			r[k] = x[i]
			x[i] = 0
		}
		p1 := vp.Colind[c]
		for p := p1; p < vp.Colind[c+1]; p++ {
			v[p] = x[vp.Row[p]]
			x[vp.Row[p]] = 0
		}
		r[kd], beta[c] = house(v[p1:vp.Colind[c+1]])
	}
}

// Solve overwrites each right-hand side in x with the solution of A·z = b,
// or Aᵀ·z = b when trans is set. The analyzed matrix must be square and the
// right-hand sides are stored contiguously, stride Ncol. Singular systems
// do not fail fast: zero pivots surface as non-finite solution components
// and the caller decides their fate. w is scratch of length V.Nrow.
func (s *SymbolicQR) Solve(x []float64, nrhs int, trans bool, v, r, beta, w []float64) {
	sp, vp, rp := s.src, s.V, s.R
	n, m2 := sp.Ncol, vp.Nrow
	if sp.Nrow != n {
		panic("qr solve requires a square system")
	}
	if len(v) < vp.NNZ() || len(r) < rp.NNZ() || len(beta) < n || len(w) < m2 || len(x) < nrhs*n {
		panic("bound check error")
	}
	for rh := 0; rh < nrhs; rh++ {
		b := x[rh*n : (rh+1)*n]
		if trans {
			// Aᵀz = b  ⇔  z = Prinvᵀ·Q·R⁻ᵀ·Pcᵀ·b
			for c := 0; c < n; c++ {
				w[c] = b[s.Pc[c]]
			}
			for i := n; i < m2; i++ {
				w[i] = 0
			}
			for c := 0; c < n; c++ {
				kd := rp.Colind[c+1] - 1
				for k := rp.Colind[c]; k < kd; k++ {
					w[c] -= r[k] * w[rp.Row[k]]
				}
				w[c] /= r[kd]
			}
			for c := n - 1; c >= 0; c-- {
				alpha := 0.0
				for p := vp.Colind[c]; p < vp.Colind[c+1]; p++ {
					alpha += v[p] * w[vp.Row[p]]
				}
				alpha *= beta[c]
				for p := vp.Colind[c]; p < vp.Colind[c+1]; p++ {
					w[vp.Row[p]] -= alpha * v[p]
				}
			}
			for i := 0; i < n; i++ {
				b[i] = w[s.Prinv[i]]
			}
		} else {
			// Az = b  ⇔  z = Pc·R⁻¹·Qᵀ·Prinv·b
			for i := range w[:m2] {
				w[i] = 0
			}
			for i := 0; i < n; i++ {
				w[s.Prinv[i]] = b[i]
			}
			for c := 0; c < n; c++ {
				alpha := 0.0
				for p := vp.Colind[c]; p < vp.Colind[c+1]; p++ {
					alpha += v[p] * w[vp.Row[p]]
				}
				alpha *= beta[c]
				for p := vp.Colind[c]; p < vp.Colind[c+1]; p++ {
					w[vp.Row[p]] -= alpha * v[p]
				}
			}
			for c := n - 1; c >= 0; c-- {
				kd := rp.Colind[c+1] - 1
				w[c] /= r[kd]
				for k := rp.Colind[c]; k < kd; k++ {
					w[rp.Row[k]] -= r[k] * w[c]
				}
			}
			for c := 0; c < n; c++ {
				b[s.Pc[c]] = w[c]
			}
		}
	}
}
