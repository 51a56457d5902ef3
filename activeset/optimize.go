// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package activeset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/curioloop/quadprog/sparse"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only one line at the last iteration
	LogLast LogLevel = 0
	// LogEval print also f and residuals every `level` iterations for any (0 < level < 101)
	LogEval LogLevel = 1
	// LogVerbose print details of every iteration including x and multipliers (level > 100)
	LogVerbose LogLevel = 101
)

// Logger handles logging output for the optimizer.
// Note the writers must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
	Out   io.Writer // Writer for output data.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

func (l *Logger) out(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Out, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Out, format)
	}
}

// Options specifies the stopping criteria for the solver.
type Options struct {
	// The iteration stop when the number of refinement steps exceeds limit.
	// Zero is a legal budget: the solver then only reports whether the
	// initial guess is already optimal.
	MaxIterations int
	// The max primal residual considered feasible:
	//   𝚖𝚊𝚡( 𝚍𝚒𝚜𝚝(lb ≤ xᵢ ≤ ub), 𝚍𝚒𝚜𝚝(lb ≤ (𝐀𝐱)ᵢ ≤ ub) ) ≤ 𝚙𝚛_𝚝𝚘𝚕
	PrimalTolerance float64
	// The max dual residual considered stationary:
	//   𝚖𝚊𝚡( |∇ₓℒᵢ + λᵢ| ) ≤ 𝚍𝚞_𝚝𝚘𝚕
	DualTolerance float64
}

// Option overrides a single field of Options.
type Option func(*Options)

func WithMaxIterations(n int) Option {
	return func(o *Options) { o.MaxIterations = n }
}

func WithPrimalTolerance(tol float64) Option {
	return func(o *Options) { o.PrimalTolerance = tol }
}

func WithDualTolerance(tol float64) Option {
	return func(o *Options) { o.DualTolerance = tol }
}

// NewOptions applies the given overrides on top of the default
// budget (1000 iterations) and tolerances (1e-8 primal and dual).
func NewOptions(opts ...Option) *Options {
	o := &Options{
		MaxIterations:   defaultMaxIter,
		PrimalTolerance: defaultPrTol,
		DualTolerance:   defaultDuTol,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Problem specifies the sparse structure of a quadratic program
//
//	𝚖𝚒𝚗 ½𝐱ᵀ𝐇𝐱 + 𝐠ᵀ𝐱   𝚜.𝚝.  lbx ≤ 𝐱 ≤ ubx,  lba ≤ 𝐀𝐱 ≤ uba
//
// where 𝐇 is symmetric with a full (both triangles) sparsity pattern.
// The numeric values are supplied per solve call via Input.
type Problem struct {
	H    *sparse.Pattern // Hessian pattern, nx × nx
	A    *sparse.Pattern // Constraint jacobian pattern, na × nx (nil for none)
	Opts *Options        // Optional stopping criteria
}

// Input carries the numeric values for one solve call.
// A nil slice stands for all zeros.
type Input struct {
	H []float64 // Hessian values in the pattern order of Problem.H
	G []float64 // Linear objective term, nx
	A []float64 // Jacobian values in the pattern order of Problem.A

	Lbx, Ubx []float64 // Bounds on x, nx
	Lba, Uba []float64 // Bounds on 𝐀𝐱, na

	X0    []float64 // Initial guess, nx
	LamX0 []float64 // Warm-start multipliers for the bounds on x, nx
	LamA0 []float64 // Warm-start multipliers for the linear constraints, na
}

// New creates a new active-set optimizer for given problem.
// The symbolic QR analysis of the KKT system happens here once,
// repeated solve calls reuse it.
func (p *Problem) New(logger *Logger) (optimizer *Optimizer, err error) {

	if logger == nil {
		logger = new(Logger)
		logger.Level = LogNoop
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}
	if logger.Out == nil {
		logger.Out = os.Stderr
	}

	h, a := p.H, p.A

	opts := p.Opts
	if opts == nil {
		opts = NewOptions()
	}

	switch {
	case h == nil:
		err = errors.New("hessian pattern is required")
	case h.Nrow != h.Ncol:
		err = errors.New("hessian pattern must be square")
	case a != nil && a.Ncol != h.Ncol:
		err = errors.New("jacobian pattern width must equal to hessian dimension")
	case opts.MaxIterations < 0:
		err = errors.New("max iteration must not less than 0")
	case opts.PrimalTolerance <= zero:
		err = errors.New("primal tolerance must greater than 0")
	case opts.DualTolerance <= zero:
		err = errors.New("dual tolerance must greater than 0")
	}
	if err != nil {
		return
	}

	if a == nil {
		a = &sparse.Pattern{Ncol: h.Ncol, Colind: make([]int, h.Ncol+1)}
	}

	kkt, err := sparse.KKT(h, a)
	if err != nil {
		return nil, err
	}
	kktd := kkt.WithDiag()

	optimizer = &Optimizer{
		qpSpec{
			nx: h.Ncol, na: a.Nrow,
			h: h, a: a, at: a.Transpose(),
			kkt: kkt, kktd: kktd,
			symb:   kktd.QR(),
			opts:   *opts,
			logger: *logger,
		},
	}
	return
}

// Optimizer implemented using a primal-dual active-set method.
type Optimizer struct {
	qpSpec
}

// Workspace contains the state and context of the solve process.
// Given nx variables, na constraints and dim = nx+na, total work space is
// approximately float64[nnz(kkt) + nnz(kktd) + nnz(A) + nnz(V) + nnz(R) + 7×dim].
type Workspace struct {
	nx, na int
	qpCtx
}

// Result contains the final result of the solve process.
type Result struct {
	OK         bool      // Whether the solve was converged.
	F          float64   // Final objective value.
	X          []float64 // Final solution.
	LamX, LamA []float64 // Final multipliers for the bounds and the constraints.
	Summary              // Solve summary.
}

// Summary contains a summary of the solve process.
type Summary struct {
	Status  qpMode  // Final status after solving.
	NumIter int     // Number of refinement steps performed.
	Pr, Du  float64 // Final max primal and dual residuals.
}

// Init allocate the workspace for the active-set optimizer.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
// But multiple workspaces could share one optimizer.
func (o *Optimizer) Init() *Workspace {
	w := new(Workspace)
	w.nx, w.na = o.nx, o.na

	nx, na, dim := o.nx, o.na, o.nx+o.na
	nkkt, nkktd, njac := o.kkt.NNZ(), o.kktd.NNZ(), o.a.NNZ()
	nv, nr, m2 := o.symb.V.NNZ(), o.symb.R.NNZ(), o.symb.V.Nrow

	totwk := nkkt + nkktd + njac + nv + nr + 6*dim + m2
	wrk := make([]float64, totwk)

	ik := 0
	id := ik + nkkt
	ia := id + nkktd
	iv := ia + njac
	ir := iv + nv
	ib := ir + nr
	ix := ib + dim
	is := ix + 3*nx
	ig := is + 2*dim
	iw := ig + 3*na

	w.qpCtx = qpCtx{
		kkt:  wrk[ik : ik+nkkt],
		kktd: wrk[id : id+nkktd],
		atv:  wrk[ia : ia+njac],
		v:    wrk[iv : iv+nv],
		r:    wrk[ir : ir+nr],
		beta: wrk[ib : ib+dim],

		xk:    wrk[ix : ix+nx],
		lamX:  wrk[ix+nx : ix+2*nx],
		dlamX: wrk[ix+2*nx : ix+3*nx],

		step:     wrk[is : is+dim],
		blockTau: wrk[is+dim : is+2*dim],

		gk:   wrk[ig : ig+na],
		lamA: wrk[ig+na : ig+2*na],
		dg:   wrk[ig+2*na : ig+3*na],

		w: wrk[iw:],

		tagX:      make([]bndTag, nx),
		tagA:      make([]bndTag, na),
		blockSign: make([]bndTag, dim),
		iw:        make([]int, na),
	}
	return w
}

// Fit solves the program given by in, reusing the workspace w.
func (o *Optimizer) Fit(in *Input, w *Workspace) *Result {

	if w.nx != o.nx || w.na != o.na {
		panic("workspace dimension not match spec")
	}

	switch {
	case len(in.H) != o.h.NNZ():
		panic("hessian values dimension not match spec")
	case len(in.A) != o.a.NNZ():
		panic("jacobian values dimension not match spec")
	case in.G != nil && len(in.G) != o.nx,
		in.X0 != nil && len(in.X0) != o.nx,
		in.Lbx != nil && len(in.Lbx) != o.nx,
		in.Ubx != nil && len(in.Ubx) != o.nx,
		in.LamX0 != nil && len(in.LamX0) != o.nx:
		panic("variable input dimension not match spec")
	case in.Lba != nil && len(in.Lba) != o.na,
		in.Uba != nil && len(in.Uba) != o.na,
		in.LamA0 != nil && len(in.LamA0) != o.na:
		panic("constraint input dimension not match spec")
	}

	solver := qpSolver{
		optimizer: o,
		workspace: w,
		input:     in,
	}

	status := solver.mainLoop()
	return &Result{
		OK:   status == Optimal,
		F:    w.fk,
		X:    slices.Repeat(w.xk, 1),
		LamX: slices.Repeat(w.lamX, 1),
		LamA: slices.Repeat(w.lamA, 1),
		Summary: Summary{
			Status:  status,
			NumIter: w.iter,
			Pr:      w.pr,
			Du:      w.du,
		},
	}
}
