// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package activeset

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/curioloop/quadprog/sparse"
)

func TestWarmStartIdempotence(t *testing.T) {
	p, in := boxQP()
	s, err := p.New(nil)
	require.NoError(t, err)

	w := s.Init()
	cold := s.Fit(in, w)
	require.True(t, cold.OK)

	in.X0, in.LamX0, in.LamA0 = cold.X, cold.LamX, cold.LamA
	warm := s.Fit(in, w)

	require.Equal(t, Optimal, warm.Status)
	require.LessOrEqual(t, warm.NumIter, 1)
	require.InDeltaSlice(t, cold.X, warm.X, 1e-10)
	require.InDelta(t, cold.F, warm.F, 1e-10)
}

func TestResolveDeterminism(t *testing.T) {
	p, in := boxQP()
	s, err := p.New(nil)
	require.NoError(t, err)

	w := s.Init()
	first := s.Fit(in, w)
	second := s.Fit(in, w)

	require.Equal(t, first.X, second.X)
	require.Equal(t, first.LamX, second.LamX)
	require.Equal(t, first.LamA, second.LamA)
	require.Equal(t, first.F, second.F)
	require.Equal(t, first.NumIter, second.NumIter)
}

func TestWorkspaceReuse(t *testing.T) {
	p, in := boxQP()
	s, err := p.New(nil)
	require.NoError(t, err)

	w := s.Init()
	r := s.Fit(in, w)
	require.True(t, r.OK)

	// same instance, new data: the interior optimum leaves every bound free
	in.G = []float64{-1, -1}
	r = s.Fit(in, w)
	require.True(t, r.OK)
	require.InDeltaSlice(t, []float64{1, 1}, r.X, 1e-10)
	require.Equal(t, []float64{0, 0}, r.LamX)
	require.Equal(t, []float64{0, 0}, r.LamA)
}

func TestLoggerOutput(t *testing.T) {
	var msg, out bytes.Buffer

	p, in := boxQP()
	s, err := p.New(&Logger{Level: LogEval, Msg: &msg, Out: &out})
	require.NoError(t, err)

	r := s.Fit(in, s.Init())
	require.True(t, r.OK)

	require.Contains(t, msg.String(), "RUNNING THE ACTIVE-SET QP CODE")
	require.Contains(t, msg.String(), "At iterate")
	require.Contains(t, msg.String(), "CONVERGENCE: PRIMAL AND DUAL RESIDUALS WITHIN TOLERANCE")
	require.Contains(t, out.String(), "actx")

	msg.Reset()
	s, err = p.New(&Logger{Level: LogVerbose, Msg: &msg, Out: &out})
	require.NoError(t, err)
	s.Fit(in, s.Init())
	require.Contains(t, msg.String(), "Step size tau")

	msg.Reset()
	out.Reset()
	s, err = p.New(&Logger{Level: LogNoop, Msg: &msg, Out: &out})
	require.NoError(t, err)
	s.Fit(in, s.Init())
	require.Zero(t, msg.Len())
	require.Zero(t, out.Len())
}

func TestProblemValidation(t *testing.T) {
	_, err := (&Problem{}).New(nil)
	require.EqualError(t, err, "hessian pattern is required")

	_, err = (&Problem{H: sparse.Dense(2, 3)}).New(nil)
	require.EqualError(t, err, "hessian pattern must be square")

	_, err = (&Problem{H: sparse.Diag(2), A: sparse.Dense(1, 3)}).New(nil)
	require.EqualError(t, err, "jacobian pattern width must equal to hessian dimension")

	_, err = (&Problem{H: sparse.Diag(2), Opts: NewOptions(WithMaxIterations(-1))}).New(nil)
	require.EqualError(t, err, "max iteration must not less than 0")

	_, err = (&Problem{H: sparse.Diag(2), Opts: NewOptions(WithPrimalTolerance(0))}).New(nil)
	require.EqualError(t, err, "primal tolerance must greater than 0")

	_, err = (&Problem{H: sparse.Diag(2), Opts: NewOptions(WithDualTolerance(-1))}).New(nil)
	require.EqualError(t, err, "dual tolerance must greater than 0")

	s, err := (&Problem{H: sparse.Diag(2), A: sparse.Dense(1, 2)}).New(nil)
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestOptionsDefaults(t *testing.T) {
	o := NewOptions()
	require.Equal(t, 1000, o.MaxIterations)
	require.Equal(t, 1e-8, o.PrimalTolerance)
	require.Equal(t, 1e-8, o.DualTolerance)

	o = NewOptions(WithMaxIterations(5), WithPrimalTolerance(1e-6), WithDualTolerance(1e-7))
	require.Equal(t, 5, o.MaxIterations)
	require.Equal(t, 1e-6, o.PrimalTolerance)
	require.Equal(t, 1e-7, o.DualTolerance)
}

func TestFitPanics(t *testing.T) {
	p, in := boxQP()
	s, err := p.New(nil)
	require.NoError(t, err)
	w := s.Init()

	require.PanicsWithValue(t, "hessian values dimension not match spec", func() {
		s.Fit(&Input{H: []float64{1}, A: in.A}, w)
	})
	require.PanicsWithValue(t, "jacobian values dimension not match spec", func() {
		s.Fit(&Input{H: in.H, A: []float64{1, 1, 1}}, w)
	})
	require.PanicsWithValue(t, "variable input dimension not match spec", func() {
		s.Fit(&Input{H: in.H, A: in.A, G: []float64{1}}, w)
	})
	require.PanicsWithValue(t, "constraint input dimension not match spec", func() {
		s.Fit(&Input{H: in.H, A: in.A, Lba: []float64{1, 2, 3}}, w)
	})

	other, err := (&Problem{H: sparse.Diag(3)}).New(nil)
	require.NoError(t, err)
	require.PanicsWithValue(t, "workspace dimension not match spec", func() {
		other.Fit(&Input{H: []float64{1, 1, 1}}, w)
	})
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "Optimal", Optimal.String())
	require.Equal(t, "PrimalRestoreFailed", PrimalRestoreFailed.String())
	require.Equal(t, "DualRestoreFailed", DualRestoreFailed.String())
	require.Equal(t, "ExceedMaxIter", ExceedMaxIter.String())
	require.True(t, strings.HasPrefix(qpMode(42).String(), "Unknown"))
}
