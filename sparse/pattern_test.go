// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sparse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {

	_, err := New(-1, 2, []int{0, 0, 0}, nil)
	require.ErrorIs(t, err, ErrShape)

	_, err = New(2, 2, []int{0, 0}, nil)
	require.ErrorIs(t, err, ErrPattern)

	_, err = New(2, 2, []int{0, 1, 1}, []int{0, 1})
	require.ErrorIs(t, err, ErrPattern)

	_, err = New(2, 2, []int{0, 2, 1}, []int{0})
	require.ErrorIs(t, err, ErrPattern)

	_, err = New(2, 2, []int{0, 1, 2}, []int{0, 2})
	require.ErrorIs(t, err, ErrIndex)

	_, err = New(2, 2, []int{0, 2, 2}, []int{1, 0})
	require.ErrorIs(t, err, ErrPattern)

	sp, err := New(3, 2, []int{0, 2, 3}, []int{0, 2, 1})
	require.NoError(t, err)
	require.Equal(t, 3, sp.NNZ())
}

func TestFromTriplets(t *testing.T) {

	ts := []Triplet{
		{Row: 1, Col: 1, Val: 4},
		{Row: 0, Col: 0, Val: 1},
		{Row: 1, Col: 0, Val: 2},
		{Row: 1, Col: 1, Val: 1}, // duplicate of the first entry
		{Row: 0, Col: 2, Val: 3},
	}
	sp, val, err := FromTriplets(2, 3, ts)
	require.NoError(t, err)
	require.Equal(t, []int{0, 2, 3, 4}, sp.Colind)
	require.Equal(t, []int{0, 1, 1, 0}, sp.Row)
	require.Equal(t, []float64{1, 2, 5, 3}, val)

	_, _, err = FromTriplets(2, 3, []Triplet{{Row: 2, Col: 0, Val: 1}})
	require.ErrorIs(t, err, ErrIndex)

	empty, val, err := FromTriplets(2, 3, nil)
	require.NoError(t, err)
	require.Equal(t, []int{0, 0, 0, 0}, empty.Colind)
	require.Empty(t, val)
}

func TestTranspose(t *testing.T) {

	sp, err := New(3, 2, []int{0, 2, 3}, []int{0, 2, 1})
	require.NoError(t, err)

	tr := sp.Transpose()
	require.Equal(t, 2, tr.Nrow)
	require.Equal(t, 3, tr.Ncol)
	require.Equal(t, []int{0, 1, 2, 3}, tr.Colind)
	require.Equal(t, []int{0, 1, 0}, tr.Row)

	back := tr.Transpose()
	require.Equal(t, sp.Colind, back.Colind)
	require.Equal(t, sp.Row, back.Row)
}

func TestKKT(t *testing.T) {

	h, _, err := FromTriplets(2, 2, []Triplet{{Row: 0, Col: 0, Val: 1}, {Row: 1, Col: 1, Val: 1}})
	require.NoError(t, err)
	a, _, err := FromTriplets(1, 2, []Triplet{{Row: 0, Col: 0, Val: 1}, {Row: 0, Col: 1, Val: 1}})
	require.NoError(t, err)

	kkt, err := KKT(h, a)
	require.NoError(t, err)
	require.Equal(t, 3, kkt.Nrow)
	require.Equal(t, 3, kkt.Ncol)
	require.Equal(t, []int{0, 2, 4, 6}, kkt.Colind)
	require.Equal(t, []int{0, 2, 1, 2, 0, 1}, kkt.Row)

	_, err = KKT(a, a)
	require.ErrorIs(t, err, ErrShape)

	wide, _, err := FromTriplets(1, 3, []Triplet{{Row: 0, Col: 2, Val: 1}})
	require.NoError(t, err)
	_, err = KKT(h, wide)
	require.ErrorIs(t, err, ErrShape)
}

func TestWithDiag(t *testing.T) {

	sp, err := New(3, 3, []int{0, 1, 2, 3}, []int{1, 1, 0})
	require.NoError(t, err)

	wd := sp.WithDiag()
	require.Equal(t, []int{0, 2, 3, 5}, wd.Colind)
	require.Equal(t, []int{0, 1, 1, 0, 2}, wd.Row)

	// already complete diagonals are kept, not duplicated
	again := wd.WithDiag()
	require.Equal(t, wd.Colind, again.Colind)
	require.Equal(t, wd.Row, again.Row)
}

func TestIndex(t *testing.T) {

	sp, _, err := FromTriplets(3, 3, []Triplet{
		{Row: 0, Col: 0}, {Row: 2, Col: 0},
		{Row: 1, Col: 1},
		{Row: 0, Col: 2}, {Row: 2, Col: 2},
	})
	require.NoError(t, err)

	require.Equal(t, 0, sp.Index(0, 0))
	require.Equal(t, 1, sp.Index(2, 0))
	require.Equal(t, -1, sp.Index(1, 0))
	require.Equal(t, 2, sp.Index(1, 1))
	require.Equal(t, 4, sp.Index(2, 2))
	require.Equal(t, -1, sp.Index(1, 2))
}

func TestDenseDiag(t *testing.T) {

	d := Dense(2, 3)
	require.Equal(t, 6, d.NNZ())
	require.Equal(t, []int{0, 2, 4, 6}, d.Colind)
	require.Equal(t, []int{0, 1, 0, 1, 0, 1}, d.Row)

	i := Diag(3)
	require.Equal(t, []int{0, 1, 2, 3}, i.Colind)
	require.Equal(t, []int{0, 1, 2}, i.Row)
}
