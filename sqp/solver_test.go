// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/curioloop/quadprog/numdiff"
)

func rangeNLP() (Problem, []float64) {
	obj := Evaluation{
		Function: func(x []float64) float64 {
			return (x[0]-2)*(x[0]-2) + (x[1]-1)*(x[1]-1)
		},
		Derivative: func(x []float64, d []float64) {
			d[0], d[1] = 2*(x[0]-2), 2*(x[1]-1)
		},
	}
	cons := Constraint{
		Evaluation: Evaluation{
			Function: func(x []float64) float64 {
				return x[0] + x[1]
			},
			Derivative: func(x []float64, d []float64) {
				d[0], d[1] = 1, 1
			},
		},
		Bound: Bound{0, 1},
	}
	p := Problem{
		N:      2,
		Object: obj,
		Cons:   []Constraint{cons},
		Stop:   Termination{Accuracy: 1e-8, MaxIterations: 50},
	}
	return p, []float64{0, 0}
}

func TestResolveDeterminism(t *testing.T) {
	p, x := rangeNLP()
	s, err := p.New()
	require.NoError(t, err)

	w := s.Init()
	first := s.Fit(x, w)
	second := s.Fit(x, w)

	require.True(t, first.OK)
	require.Equal(t, first.X, second.X)
	require.Equal(t, first.G, second.G)
	require.Equal(t, first.F, second.F)
	require.Equal(t, first.NumIter, second.NumIter)
	require.Equal(t, first.Status, second.Status)
}

func TestWorkspaceReuse(t *testing.T) {
	p, x := rangeNLP()
	s, err := p.New()
	require.NoError(t, err)

	w := s.Init()
	r := s.Fit(x, w)
	require.True(t, r.OK)
	require.InDeltaSlice(t, []float64{1, 0}, r.X, 1e-6)

	// same instance, another guess on the far side of the range
	r = s.Fit([]float64{3, 3}, w)
	require.True(t, r.OK)
	require.InDeltaSlice(t, []float64{1, 0}, r.X, 1e-6)
}

func TestProblemValidation(t *testing.T) {
	obj := Evaluation{Function: func(x []float64) float64 { return x[0] * x[0] }}
	stop := Termination{Accuracy: 1e-8, MaxIterations: 100}

	_, err := (&Problem{Object: obj, Stop: stop}).New()
	require.EqualError(t, err, "problem dimension must greater than 0")

	_, err = (&Problem{N: 2, Stop: stop}).New()
	require.EqualError(t, err, "objective function is required")

	_, err = (&Problem{N: 2, Object: obj}).New()
	require.EqualError(t, err, "max iteration must greater than 1")

	_, err = (&Problem{N: 2, Object: obj, Stop: Termination{Accuracy: 1e-8, MaxIterations: 100, QPIterations: -1}}).New()
	require.EqualError(t, err, "qp iteration must not less than 0")

	_, err = (&Problem{N: 2, Object: obj, Stop: Termination{MaxIterations: 100}}).New()
	require.EqualError(t, err, "solution accuracy must not less than 0")

	_, err = (&Problem{N: 2, Object: obj, Stop: Termination{Accuracy: 1e-8, MaxIterations: 100, FEvalTolerance: -1}}).New()
	require.EqualError(t, err, "function eval tolerance must not less than 0")

	_, err = (&Problem{N: 2, Object: obj, Stop: Termination{Accuracy: 1e-8, MaxIterations: 100, FDiffTolerance: -1}}).New()
	require.EqualError(t, err, "function diff tolerance must not less than 0")

	_, err = (&Problem{N: 2, Object: obj, Stop: Termination{Accuracy: 1e-8, MaxIterations: 100, XDiffTolerance: -1}}).New()
	require.EqualError(t, err, "location diff tolerance must not less than 0")

	_, err = (&Problem{N: 2, Object: obj, Stop: stop, Diff: numdiff.Method(3)}).New()
	require.EqualError(t, err, "unknown difference method")

	_, err = (&Problem{N: 2, Object: obj, Stop: stop, Line: LineSearch{Alpha: &Bound{0.5, 0.1}}}).New()
	require.EqualError(t, err, "line search alpha error")

	_, err = (&Problem{N: 2, Object: obj, Stop: stop, Bounds: []Bound{{0, 1}}}).New()
	require.EqualError(t, err, "bound size must equal to n")

	_, err = (&Problem{N: 2, Object: obj, Stop: stop, Cons: []Constraint{{}}}).New()
	require.EqualError(t, err, "constraint error at 0")

	_, err = (&Problem{N: 2, Object: obj, Stop: stop, Bounds: []Bound{{0, 1}, {2, 1}}}).New()
	require.EqualError(t, err, "bound error at 1")

	_, err = (&Problem{N: 2, Object: obj, Stop: stop, Cons: []Constraint{{obj, Bound{2, 1}}}}).New()
	require.EqualError(t, err, "constraint bound error at 0")

	s, err := (&Problem{N: 2, Object: obj, Stop: stop}).New()
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestFitPanics(t *testing.T) {
	p, _ := rangeNLP()
	s, err := p.New()
	require.NoError(t, err)
	w := s.Init()

	require.PanicsWithValue(t, "initial x dimension not match spec", func() {
		s.Fit([]float64{1}, w)
	})

	other, err := (&Problem{
		N:      3,
		Object: Evaluation{Function: func(x []float64) float64 { return x[0] }},
		Stop:   Termination{Accuracy: 1e-8, MaxIterations: 10},
	}).New()
	require.NoError(t, err)
	require.PanicsWithValue(t, "workspace dimension not match spec", func() {
		other.Fit([]float64{1, 2, 3}, w)
	})
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "OK", OK.String())
	require.Equal(t, "BadArgument", BadArgument.String())
	require.Equal(t, "QPSubFailed", QPSubFailed.String())
	require.Equal(t, "ConsIncompatible", ConsIncompatible.String())
	require.Equal(t, "SearchNotDescent", SearchNotDescent.String())
	require.Equal(t, "SQPExceedMaxIter", SQPExceedMaxIter.String())
	require.Equal(t, "Unknown", sqpMode(42).String())
}
