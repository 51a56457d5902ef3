// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sparse

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrShape indicates inconsistent or negative matrix dimensions.
	ErrShape = errors.New("sparse: invalid shape")
	// ErrPattern indicates a malformed compressed-column structure.
	ErrPattern = errors.New("sparse: malformed pattern")
	// ErrIndex indicates an entry outside the matrix dimensions.
	ErrIndex = errors.New("sparse: index out of range")
)

// Pattern is a compressed-column sparsity pattern.
//
// The nonzero positions of an m×n matrix are stored column by column:
// column c occupies Row[Colind[c]:Colind[c+1]], with row indices strictly
// ascending inside each column. Numeric values live apart from the
// structure, in flat []float64 slices ordered the same way, so a single
// pattern may serve many value arrays.
type Pattern struct {
	Nrow, Ncol int
	Colind     []int // column pointers, len Ncol+1
	Row        []int // row indices, len NNZ()
}

// New builds a pattern from raw compressed-column data and validates it.
// The slices are retained, not copied.
func New(nrow, ncol int, colind, row []int) (*Pattern, error) {
	switch {
	case nrow < 0 || ncol < 0:
		return nil, fmt.Errorf("%w: %d×%d", ErrShape, nrow, ncol)
	case len(colind) != ncol+1:
		return nil, fmt.Errorf("%w: column pointer length %d", ErrPattern, len(colind))
	case colind[0] != 0 || colind[ncol] != len(row):
		return nil, fmt.Errorf("%w: column pointer bounds", ErrPattern)
	}
	for c := 0; c < ncol; c++ {
		if colind[c] > colind[c+1] {
			return nil, fmt.Errorf("%w: column %d pointers not monotone", ErrPattern, c)
		}
	}
	for c := 0; c < ncol; c++ {
		for k := colind[c]; k < colind[c+1]; k++ {
			if r := row[k]; r < 0 || r >= nrow {
				return nil, fmt.Errorf("%w: (%d,%d)", ErrIndex, r, c)
			}
			if k > colind[c] && row[k-1] >= row[k] {
				return nil, fmt.Errorf("%w: column %d rows not ascending", ErrPattern, c)
			}
		}
	}
	return &Pattern{Nrow: nrow, Ncol: ncol, Colind: colind, Row: row}, nil
}

// Triplet is one matrix entry in coordinate form.
type Triplet struct {
	Row, Col int
	Val      float64
}

// FromTriplets compresses coordinate entries into a pattern and the
// matching value slice. Entries are sorted column-major first; duplicate
// positions are merged by summing their values.
func FromTriplets(nrow, ncol int, entries []Triplet) (*Pattern, []float64, error) {
	for _, e := range entries {
		if e.Row < 0 || e.Row >= nrow || e.Col < 0 || e.Col >= ncol {
			return nil, nil, fmt.Errorf("%w: (%d,%d)", ErrIndex, e.Row, e.Col)
		}
	}
	ts := slices.Clone(entries)
	slices.SortFunc(ts, func(a, b Triplet) int {
		if a.Col != b.Col {
			return a.Col - b.Col
		}
		return a.Row - b.Row
	})
	colind := make([]int, ncol+1)
	row := make([]int, 0, len(ts))
	val := make([]float64, 0, len(ts))
	lastR, lastC := -1, -1
	for _, e := range ts {
		if e.Col == lastC && e.Row == lastR {
			val[len(val)-1] += e.Val
			continue
		}
		for c := lastC + 1; c <= e.Col; c++ {
			colind[c] = len(row)
		}
		row = append(row, e.Row)
		val = append(val, e.Val)
		lastR, lastC = e.Row, e.Col
	}
	for c := lastC + 1; c <= ncol; c++ {
		colind[c] = len(row)
	}
	return &Pattern{Nrow: nrow, Ncol: ncol, Colind: colind, Row: row}, val, nil
}

// Dense returns the fully populated nrow×ncol pattern.
func Dense(nrow, ncol int) *Pattern {
	colind := make([]int, ncol+1)
	row := make([]int, nrow*ncol)
	for c := 0; c < ncol; c++ {
		colind[c+1] = (c + 1) * nrow
		for r := 0; r < nrow; r++ {
			row[c*nrow+r] = r
		}
	}
	return &Pattern{Nrow: nrow, Ncol: ncol, Colind: colind, Row: row}
}

// Diag returns the n×n identity pattern.
func Diag(n int) *Pattern {
	colind := make([]int, n+1)
	row := make([]int, n)
	for i := range row {
		colind[i+1] = i + 1
		row[i] = i
	}
	return &Pattern{Nrow: n, Ncol: n, Colind: colind, Row: row}
}

// NNZ reports the number of structural nonzeros.
func (sp *Pattern) NNZ() int { return len(sp.Row) }

// Transpose returns the pattern of the transposed matrix.
// The entry order of the result is the order Trans writes values in.
func (sp *Pattern) Transpose() *Pattern {
	colind := make([]int, sp.Nrow+1)
	for _, r := range sp.Row {
		colind[r+1]++
	}
	for c := 0; c < sp.Nrow; c++ {
		colind[c+1] += colind[c]
	}
	row := make([]int, len(sp.Row))
	pos := slices.Clone(colind[:sp.Nrow+1])
	for c := 0; c < sp.Ncol; c++ {
		for k := sp.Colind[c]; k < sp.Colind[c+1]; k++ {
			r := sp.Row[k]
			row[pos[r]] = c
			pos[r]++
		}
	}
	return &Pattern{Nrow: sp.Ncol, Ncol: sp.Nrow, Colind: colind, Row: row}
}

// KKT builds the pattern of the saddle-point matrix
//
//	⎡ H  Aᵀ ⎤
//	⎣ A  0  ⎦
//
// where H is the n×n Hessian pattern and A the m×n constraint Jacobian
// pattern. The (2,2) block is structurally empty; WithDiag restores the
// diagonal positions a factorization of the augmented system needs.
func KKT(h, a *Pattern) (*Pattern, error) {
	switch {
	case h.Nrow != h.Ncol:
		return nil, fmt.Errorf("%w: hessian %d×%d", ErrShape, h.Nrow, h.Ncol)
	case a.Ncol != h.Ncol:
		return nil, fmt.Errorf("%w: jacobian %d×%d against n=%d", ErrShape, a.Nrow, a.Ncol, h.Ncol)
	}
	nx, na := h.Ncol, a.Nrow
	at := a.Transpose()
	dim := nx + na
	colind := make([]int, dim+1)
	row := make([]int, 0, h.NNZ()+2*a.NNZ())
	for c := 0; c < nx; c++ {
		for k := h.Colind[c]; k < h.Colind[c+1]; k++ {
			row = append(row, h.Row[k])
		}
		for k := a.Colind[c]; k < a.Colind[c+1]; k++ {
			row = append(row, nx+a.Row[k])
		}
		colind[c+1] = len(row)
	}
	for c := 0; c < na; c++ {
		for k := at.Colind[c]; k < at.Colind[c+1]; k++ {
			row = append(row, at.Row[k])
		}
		colind[nx+c+1] = len(row)
	}
	return &Pattern{Nrow: dim, Ncol: dim, Colind: colind, Row: row}, nil
}

// WithDiag returns the union of a square pattern with the full diagonal.
func (sp *Pattern) WithDiag() *Pattern {
	n := sp.Ncol
	colind := make([]int, n+1)
	row := make([]int, 0, len(sp.Row)+n)
	for c := 0; c < n; c++ {
		k := sp.Colind[c]
		for ; k < sp.Colind[c+1] && sp.Row[k] < c; k++ {
			row = append(row, sp.Row[k])
		}
		row = append(row, c)
		if k < sp.Colind[c+1] && sp.Row[k] == c {
			k++
		}
		for ; k < sp.Colind[c+1]; k++ {
			row = append(row, sp.Row[k])
		}
		colind[c+1] = len(row)
	}
	return &Pattern{Nrow: sp.Nrow, Ncol: n, Colind: colind, Row: row}
}

// Index returns the storage position of entry (r,c), or -1 when the
// position is not structural. Intended for setup-time lookups only.
func (sp *Pattern) Index(r, c int) int {
	lo, hi := sp.Colind[c], sp.Colind[c+1]
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		switch {
		case sp.Row[mid] < r:
			lo = mid + 1
		case sp.Row[mid] > r:
			hi = mid
		default:
			return mid
		}
	}
	return -1
}
