package guide

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"bridgesim/diffusion"
	"bridgesim/gonumext"
	"bridgesim/noise"
	"bridgesim/observe"
	"bridgesim/sde"
)

// maxAbsLogWeight bounds the accumulated log-likelihood ratio. The bound only
// exists to catch silent overflow before it reaches NaN.
const maxAbsLogWeight = 1e8

// BridgeResult is the outcome of a guided forward pass: one trajectory per
// completed segment, the accumulated log-likelihood ratio, and a validity
// flag. A failed pass keeps the partial trajectories for diagnostics.
type BridgeResult struct {
	Trajectories       []*sde.Trajectory
	LogLikelihoodRatio float64
	Success            bool
	// Reason describes the failure when Success is false. It is diagnostic
	// state, never returned as an error: numerical divergence is an expected,
	// frequent outcome that callers handle by redrawing noise.
	Reason error
}

// NumericalInstabilityError describes a forward state or weight that became
// non-finite or left the sanity bound.
type NumericalInstabilityError struct {
	Time   float64
	Detail string
}

func (e *NumericalInstabilityError) Error() string {
	return fmt.Sprintf("guide: %s at t=%g", e.Detail, e.Time)
}

// ForwardGuide simulates all segments of a recording under the guided drift,
// in chronological order. The starting state is drawn from the recording's
// prior fused with the guiding term at the start. Simulation stops at the
// first failed segment; the result is then marked unsuccessful with the
// completed and partial trajectories retained.
func ForwardGuide(rec *observe.Recording, segments []Segment, gen *noise.Generator) (*BridgeResult, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("guide: no segments to simulate")
	}
	model := rec.Model()
	x0, err := StartingPoint(rec.Start(), segments[0].Terms[0], gen)
	if err != nil {
		return nil, err
	}

	res := &BridgeResult{Success: true}
	x := mat.Vector(x0)
	for _, seg := range segments {
		tr, llr, ok, err := ForwardGuideSegment(model, seg, x, gen)
		if err != nil {
			return nil, err
		}
		res.Trajectories = append(res.Trajectories, tr)
		res.LogLikelihoodRatio += llr
		if !ok {
			res.Success = false
			res.Reason = &NumericalInstabilityError{Time: tr.Time(tr.Len() - 1), Detail: "forward state or weight diverged"}
			return res, nil
		}
		x = tr.Last()
	}
	if math.Abs(res.LogLikelihoodRatio) > maxAbsLogWeight || math.IsNaN(res.LogLikelihoodRatio) {
		res.Success = false
		res.Reason = &NumericalInstabilityError{Time: segments[len(segments)-1].Obs.Time, Detail: "accumulated log weight out of bounds"}
	}
	return res, nil
}

// ForwardGuideSegment simulates one segment under the guided drift
//
//	b(t, x) + a(t, x) (F(t) - H(t) x)
//
// from x0, drawing fresh Wiener increments from gen, and returns the
// trajectory, the segment's log-likelihood ratio contribution, and whether
// the segment stayed numerically valid. Errors are reserved for structural
// misuse (dimension or grid mismatches); divergence is reported through the
// flag.
func ForwardGuideSegment(model *diffusion.Model, seg Segment, x0 mat.Vector, gen *noise.Generator) (*sde.Trajectory, float64, bool, error) {
	if gen.Dim() != model.NoiseDim() {
		return nil, 0, false, &diffusion.DimensionMismatchError{
			Op: "noise generator", WantRows: model.NoiseDim(), WantCols: 1, GotRows: gen.Dim(), GotCols: 1,
		}
	}
	if len(seg.Terms) != len(seg.Grid) {
		return nil, 0, false, fmt.Errorf("guide: segment has %d guiding terms for %d grid points", len(seg.Terms), len(seg.Grid))
	}
	dW, err := gen.Increments(seg.Grid)
	if err != nil {
		return nil, 0, false, err
	}

	// On the constant-diffusivity fast path sigma is evaluated once and the
	// weight's diffusivity trace term vanishes: such models are expected to
	// reuse sigma as the auxiliary diffusion coefficient.
	constDiff := model.ConstDiffusivity()
	var sigma mat.Matrix
	var a *mat.Dense
	if constDiff {
		if sigma, err = model.Diffusion(seg.Grid[0], x0); err != nil {
			return nil, 0, false, err
		}
		a = mat.NewDense(model.StateDim(), model.StateDim(), nil)
		a.Mul(sigma, sigma.T())
	}

	n := len(seg.Grid) - 1
	builder := sde.BuildTrajectory(n + 1)
	builder.Append(seg.Grid[0], x0)

	x := mat.VecDenseCopyOf(x0)
	var llr float64
	ok := true
	var corr, sw, diffDrift mat.VecDense
	for i := 0; i < n; i++ {
		t := seg.Grid[i]
		dt := seg.Grid[i+1] - t

		b, err := model.Drift(t, x)
		if err != nil {
			return nil, 0, false, err
		}
		if !constDiff {
			if sigma, err = model.Diffusion(t, x); err != nil {
				return nil, 0, false, err
			}
			a = mat.NewDense(model.StateDim(), model.StateDim(), nil)
			a.Mul(sigma, sigma.T())
		}

		r := seg.Terms[i].R(x)

		// Girsanov increment: (b - bt)^T r dt, plus the diffusivity trace
		// term when sigma varies with the state.
		diffDrift.SubVec(b, seg.Aux.Drift(t, x))
		llr += mat.Dot(&diffDrift, r) * dt
		if !constDiff {
			llr -= 0.5 * diffusivityTraceTerm(a, seg.Aux.Diffusivity(t), seg.Terms[i].H, r) * dt
		}

		x.AddScaledVec(x, dt, b)
		corr.MulVec(a, r)
		x.AddScaledVec(x, dt, &corr)
		sw.MulVec(sigma, dW.RowView(i))
		x.AddVec(x, &sw)
		builder.Append(seg.Grid[i+1], x)

		if !gonumext.AllFiniteVec(x) {
			ok = false
			break
		}
	}
	if math.IsNaN(llr) || math.IsInf(llr, 0) || math.Abs(llr) > maxAbsLogWeight {
		ok = false
	}
	return builder.Finish(), llr, ok, nil
}

// diffusivityTraceTerm evaluates tr[(a - at)(H - r r^T)].
func diffusivityTraceTerm(a, at, H *mat.Dense, r *mat.VecDense) float64 {
	var da, rr, w, prod mat.Dense
	da.Sub(a, at)
	rr.Outer(1, r, r)
	w.Sub(H, &rr)
	prod.Mul(&da, &w)
	return gonumext.Trace(&prod)
}

// StartingPoint draws the bridge's starting state. A degenerate prior uses
// its point exactly; a Gaussian prior (mean m0, covariance P0) is fused with
// the guiding term at the start and the state drawn from
//
//	N(L^-1 (P0^-1 m0 + F), L^-1),  L = P0^-1 + H.
func StartingPoint(prior observe.StartPrior, atStart Term, gen *noise.Generator) (*mat.VecDense, error) {
	if prior.Exact() {
		return mat.VecDenseCopyOf(prior.Point()), nil
	}
	d := prior.Dim()

	var p0inv mat.Dense
	if err := p0inv.Inverse(prior.Cov()); err != nil {
		return nil, fmt.Errorf("guide: start prior covariance not invertible: %w", err)
	}
	var lambda mat.Dense
	lambda.Add(&p0inv, atStart.H)
	var cov mat.Dense
	if err := cov.Inverse(&lambda); err != nil {
		return nil, fmt.Errorf("guide: fused start precision not invertible: %w", err)
	}

	var info, mean mat.VecDense
	info.MulVec(&p0inv, prior.Mean())
	info.AddVec(&info, atStart.F)
	mean.MulVec(&cov, &info)

	mu := make([]float64, d)
	for i := range mu {
		mu[i] = mean.AtVec(i)
	}
	normal, ok := distmv.NewNormal(mu, gonumext.Symmetrize(&cov), gen.Source())
	if !ok {
		return nil, fmt.Errorf("guide: fused start covariance not positive definite")
	}
	return mat.NewVecDense(d, normal.Rand(nil)), nil
}
