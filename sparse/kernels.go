// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sparse

import (
	"golang.org/x/exp/constraints"
)

// The kernels below operate on (values, pattern) pairs and never allocate.
// Scratch slices are caller-owned so the same buffers can be reused across
// a solver's whole iteration history.

// SetSub writes the stream src into the entries of dst whose (row, column)
// position falls inside the half-open window [rbeg,rend)×[cbeg,cend).
// Entries are consumed in the pattern's column-major order, so src must be
// arranged the way the window is traversed: for a block that mirrors a
// smaller matrix, the smaller matrix's own compressed values qualify.
func SetSub[T constraints.Float](dst []T, sp *Pattern, rbeg, rend, cbeg, cend int, src []T) {
	if len(dst) < sp.NNZ() {
		panic("bound check error")
	}
	j := 0
	for c := cbeg; c < cend; c++ {
		for k := sp.Colind[c]; k < sp.Colind[c+1]; k++ {
			r := sp.Row[k]
			if r >= rend {
				break
			}
			if r >= rbeg {
				dst[k] = src[j]
				j++
			}
		}
	}
}

// FillSub assigns the constant v to every entry of dst inside the window
// [rbeg,rend)×[cbeg,cend).
func FillSub[T constraints.Float](dst []T, sp *Pattern, rbeg, rend, cbeg, cend int, v T) {
	if len(dst) < sp.NNZ() {
		panic("bound check error")
	}
	for c := cbeg; c < cend; c++ {
		for k := sp.Colind[c]; k < sp.Colind[c+1]; k++ {
			r := sp.Row[k]
			if r >= rend {
				break
			}
			if r >= rbeg {
				dst[k] = v
			}
		}
	}
}

// RowScal scales every entry of dst by the factor of its row, dst(r,c) *= d[r].
func RowScal[T constraints.Float](dst []T, sp *Pattern, d []T) {
	if len(dst) < sp.NNZ() || len(d) < sp.Nrow {
		panic("bound check error")
	}
	for k, r := range sp.Row {
		dst[k] *= d[r]
	}
}

// ColScal scales every entry of dst by the factor of its column, dst(r,c) *= d[c].
func ColScal[T constraints.Float](dst []T, sp *Pattern, d []T) {
	if len(dst) < sp.NNZ() || len(d) < sp.Ncol {
		panic("bound check error")
	}
	for c := 0; c < sp.Ncol; c++ {
		for k := sp.Colind[c]; k < sp.Colind[c+1]; k++ {
			dst[k] *= d[c]
		}
	}
}

// AddDiag adds d[c] to the structural diagonal entry of each column.
// Columns without a structural diagonal are skipped; build patterns with
// WithDiag when every diagonal must be addressable.
func AddDiag[T constraints.Float](dst []T, sp *Pattern, d []T) {
	if len(dst) < sp.NNZ() || len(d) < sp.Ncol {
		panic("bound check error")
	}
	for c := 0; c < sp.Ncol; c++ {
		for k := sp.Colind[c]; k < sp.Colind[c+1]; k++ {
			if sp.Row[k] == c {
				dst[k] += d[c]
				break
			}
		}
	}
}

// Project copies values between two patterns of the same shape wherever
// both share a structural position; positions of dst absent from src are
// zeroed. w is dense scratch of length at least the row count.
func Project[T constraints.Float](src []T, spSrc *Pattern, dst []T, spDst *Pattern, w []T) {
	if len(src) < spSrc.NNZ() || len(dst) < spDst.NNZ() || len(w) < spDst.Nrow {
		panic("bound check error")
	}
	for c := 0; c < spSrc.Ncol; c++ {
		for k := spDst.Colind[c]; k < spDst.Colind[c+1]; k++ {
			w[spDst.Row[k]] = 0
		}
		for k := spSrc.Colind[c]; k < spSrc.Colind[c+1]; k++ {
			w[spSrc.Row[k]] = src[k]
		}
		for k := spDst.Colind[c]; k < spDst.Colind[c+1]; k++ {
			dst[k] = w[spDst.Row[k]]
		}
	}
}

// Trans writes the values of src into transpose order: spDst must be
// spSrc.Transpose(). iw is scratch of length at least spDst.Ncol.
func Trans[T constraints.Float](src []T, spSrc *Pattern, dst []T, spDst *Pattern, iw []int) {
	if len(src) < spSrc.NNZ() || len(dst) < spSrc.NNZ() || len(iw) < spDst.Ncol {
		panic("bound check error")
	}
	copy(iw, spDst.Colind[:spDst.Ncol])
	for k, r := range spSrc.Row {
		dst[iw[r]] = src[k]
		iw[r]++
	}
}

// MV accumulates a sparse matrix-vector product, y += A·x, or y += Aᵀ·x
// when trans is set. No entry of y is cleared first.
func MV[T constraints.Float](a []T, sp *Pattern, x, y []T, trans bool) {
	if len(a) < sp.NNZ() {
		panic("bound check error")
	}
	if trans {
		if len(x) < sp.Nrow || len(y) < sp.Ncol {
			panic("bound check error")
		}
		for c := 0; c < sp.Ncol; c++ {
			for k := sp.Colind[c]; k < sp.Colind[c+1]; k++ {
				y[c] += a[k] * x[sp.Row[k]]
			}
		}
	} else {
		if len(x) < sp.Ncol || len(y) < sp.Nrow {
			panic("bound check error")
		}
		for c := 0; c < sp.Ncol; c++ {
			for k := sp.Colind[c]; k < sp.Colind[c+1]; k++ {
				y[sp.Row[k]] += a[k] * x[c]
			}
		}
	}
}

// Bilin evaluates the bilinear form xᵀ·A·y.
func Bilin[T constraints.Float](a []T, sp *Pattern, x, y []T) T {
	if len(a) < sp.NNZ() || len(x) < sp.Nrow || len(y) < sp.Ncol {
		panic("bound check error")
	}
	var ret T
	for c := 0; c < sp.Ncol; c++ {
		for k := sp.Colind[c]; k < sp.Colind[c+1]; k++ {
			ret += x[sp.Row[k]] * a[k] * y[c]
		}
	}
	return ret
}
