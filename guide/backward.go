// Package guide implements guided proposals for discretely observed
// diffusions: a backward information filter derives a time-dependent guiding
// term from the observations, and a forward pass simulates the process under
// the guided drift while accumulating a Girsanov-type log-likelihood ratio.
//
// The backward recursion is the ODE form of the guided-proposal filter
// (Schauer, van der Meulen & van Zanten, Bernoulli 2017; Mider, Schauer &
// van der Meulen 2021): with auxiliary drift B(t)x + beta(t) and auxiliary
// diffusivity at(t),
//
//	dH/dt = -B^T H - H B + H at H
//	dF/dt = -B^T F + H at F + H beta
//
// integrated backward on the forward grid, fusing H += L^T S^-1 L and
// F += L^T S^-1 v at each observation.
package guide

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"bridgesim/diffusion"
	"bridgesim/gonumext"
	"bridgesim/observe"
)

// Term is the guiding term at one grid point. The guided drift at state x is
// b(t, x) + a(t, x) (F - H x).
type Term struct {
	H *mat.Dense
	F *mat.VecDense
}

// R evaluates r = F - H x.
func (tm Term) R(x mat.Vector) *mat.VecDense {
	r := mat.NewVecDense(tm.F.Len(), nil)
	r.MulVec(tm.H, x)
	r.SubVec(tm.F, r)
	return r
}

// Segment couples one observation segment's grid with its auxiliary model
// and the guiding term at every grid point. Segments are plain values: a
// backward pass can be reused across repeated forward passes as long as the
// model parameters are unchanged.
type Segment struct {
	// Grid is the segment's time grid, ending at the observation time.
	Grid []float64
	// Obs is the observation at the segment's right endpoint.
	Obs observe.Observation
	// Aux is the linear model approximating the process on this segment.
	Aux *diffusion.LinearModel
	// Terms holds the guiding term at each grid point.
	Terms []Term
}

// SingularDiffusivityError reports an auxiliary diffusivity that is not
// invertible where the guiding term needs it.
type SingularDiffusivityError struct {
	Time float64
}

func (e *SingularDiffusivityError) Error() string {
	return fmt.Sprintf("guide: auxiliary diffusivity singular at t=%g", e.Time)
}

// DivergenceError reports a backward recursion that left the positive
// semi-definite cone, signalling model misspecification or a grid that is
// too coarse.
type DivergenceError struct {
	Time float64
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("guide: guiding term H not positive semi-definite at t=%g", e.Time)
}

// BackwardPass solves the guiding term for every segment of the recording on
// grids with the given step. Segments are returned in chronological order;
// the recursion itself runs from the last observation back to the recording
// start, each segment seeded by the fused state at its right endpoint.
func BackwardPass(rec *observe.Recording, step float64) ([]Segment, error) {
	model := rec.Model()
	if !model.HasAuxiliary() {
		return nil, fmt.Errorf("guide: model declares no auxiliary approximation")
	}
	grids, err := rec.SegmentGrids(step)
	if err != nil {
		return nil, err
	}
	obs := rec.Observations()
	d := model.StateDim()

	segments := make([]Segment, len(obs))

	// Carry of (H, F) from the already-solved later segment; the last
	// observation is seeded from zero.
	carryH := mat.NewDense(d, d, nil)
	carryF := mat.NewVecDense(d, nil)

	for i := len(obs) - 1; i >= 0; i-- {
		o := obs[i]
		aux, err := model.Auxiliary(o.Time, o.Value)
		if err != nil {
			return nil, err
		}
		if err := checkDiffusivity(aux, o.Time); err != nil {
			return nil, err
		}

		H, F, err := fuseObservation(carryH, carryF, o)
		if err != nil {
			return nil, err
		}
		if !positiveSemiDefinite(H) {
			return nil, &DivergenceError{Time: o.Time}
		}

		grid := grids[i]
		terms := make([]Term, len(grid))
		terms[len(grid)-1] = Term{H: H, F: F}
		for k := len(grid) - 2; k >= 0; k-- {
			prev := terms[k+1]
			nextH, nextF := stepBackward(aux, grid[k+1], grid[k], prev.H, prev.F)
			if !positiveSemiDefinite(nextH) {
				return nil, &DivergenceError{Time: grid[k]}
			}
			terms[k] = Term{H: nextH, F: nextF}
		}

		segments[i] = Segment{Grid: grid, Obs: o, Aux: aux, Terms: terms}
		carryH = terms[0].H
		carryF = terms[0].F
	}
	return segments, nil
}

// fuseObservation folds an observation into the carried guiding term:
// H + L^T S^-1 L and F + L^T S^-1 v.
func fuseObservation(carryH *mat.Dense, carryF *mat.VecDense, o observe.Observation) (*mat.Dense, *mat.VecDense, error) {
	var noiseInv mat.Dense
	if err := noiseInv.Inverse(o.Noise); err != nil {
		return nil, nil, fmt.Errorf("guide: observation noise covariance at t=%g not invertible: %w", o.Time, err)
	}
	d := carryF.Len()

	var ltSi mat.Dense // L^T S^-1
	ltSi.Mul(o.Operator.T(), &noiseInv)

	H := mat.NewDense(d, d, nil)
	H.Mul(&ltSi, o.Operator)
	H.Add(H, carryH)

	F := mat.NewVecDense(d, nil)
	F.MulVec(&ltSi, o.Value)
	F.AddVec(F, carryF)
	return H, F, nil
}

// stepBackward integrates the Riccati ODEs from time t1 back to t0 < t1.
// Near a tight observation H is of order S^-1 and the quadratic H at H term
// makes the ODE stiff, so the grid interval is substepped until the local
// update stays inside the explicit scheme's stability region. The stored
// guiding terms still live on the forward grid points only.
func stepBackward(aux *diffusion.LinearModel, t1, t0 float64, H *mat.Dense, F *mat.VecDense) (*mat.Dense, *mat.VecDense) {
	const target = 0.5
	const maxSub = 1 << 12

	h := t0 - t1 // negative
	stiffness := math.Abs(h) * (2*mat.Norm(aux.B(t1), 1) + mat.Norm(H, 1)*mat.Norm(aux.Diffusivity(t1), 1))
	nsub := 1
	if stiffness > target {
		nsub = int(math.Ceil(stiffness / target))
		if nsub > maxSub {
			nsub = maxSub
		}
	}

	sub := h / float64(nsub)
	t := t1
	for s := 0; s < nsub; s++ {
		H, F = rk4Step(aux, t, sub, H, F)
		t += sub
	}
	return H, F
}

// rk4Step advances the Riccati ODEs by one classic Runge-Kutta step of
// (signed) length h.
func rk4Step(aux *diffusion.LinearModel, t, h float64, H *mat.Dense, F *mat.VecDense) (*mat.Dense, *mat.VecDense) {
	k1H, k1F := riccatiDeriv(aux, t, H, F)
	k2H, k2F := riccatiDeriv(aux, t+h/2, addScaled(H, h/2, k1H), addScaledVec(F, h/2, k1F))
	k3H, k3F := riccatiDeriv(aux, t+h/2, addScaled(H, h/2, k2H), addScaledVec(F, h/2, k2F))
	k4H, k4F := riccatiDeriv(aux, t+h, addScaled(H, h, k3H), addScaledVec(F, h, k3F))

	d, _ := H.Dims()
	outH := mat.DenseCopyOf(H)
	outF := mat.VecDenseCopyOf(F)
	sumH := mat.NewDense(d, d, nil)
	sumH.Add(k2H, k3H)
	sumH.Scale(2, sumH)
	sumH.Add(sumH, k1H)
	sumH.Add(sumH, k4H)
	sumH.Scale(h/6, sumH)
	outH.Add(outH, sumH)

	sumF := mat.NewVecDense(d, nil)
	sumF.AddVec(k2F, k3F)
	sumF.ScaleVec(2, sumF)
	sumF.AddVec(sumF, k1F)
	sumF.AddVec(sumF, k4F)
	outF.AddScaledVec(outF, h/6, sumF)
	return outH, outF
}

// riccatiDeriv evaluates the forward-time derivatives of H and F.
func riccatiDeriv(aux *diffusion.LinearModel, t float64, H *mat.Dense, F *mat.VecDense) (*mat.Dense, *mat.VecDense) {
	d, _ := H.Dims()
	B := aux.B(t)
	at := aux.Diffusivity(t)
	beta := aux.Beta(t)

	var btH, hB, hAt, hAtH mat.Dense
	btH.Mul(B.T(), H)
	hB.Mul(H, B)
	hAt.Mul(H, at)
	hAtH.Mul(&hAt, H)

	// dH = H at H - B^T H - H B
	dH := mat.NewDense(d, d, nil)
	dH.Add(&btH, &hB)
	dH.Sub(&hAtH, dH)

	// dF = H at F + H beta - B^T F
	var btF, hAtF, hBeta mat.VecDense
	btF.MulVec(B.T(), F)
	hAtF.MulVec(&hAt, F)
	hBeta.MulVec(H, beta)

	dF := mat.NewVecDense(d, nil)
	dF.AddVec(&hAtF, &hBeta)
	dF.SubVec(dF, &btF)
	return dH, dF
}

// checkDiffusivity verifies the auxiliary diffusivity is usable at the
// segment's terminal time. The information-filter recursion never inverts
// at, so hypo-elliptic models with rank-deficient at are admitted; only a
// zero or non-finite diffusivity is rejected, since no bridge can be guided
// through it.
func checkDiffusivity(aux *diffusion.LinearModel, t float64) error {
	at := aux.Diffusivity(t)
	if !gonumext.AllFinite(at) {
		return &SingularDiffusivityError{Time: t}
	}
	if mat.Norm(at, 1) == 0 {
		return &SingularDiffusivityError{Time: t}
	}
	return nil
}

// positiveSemiDefinite checks the symmetric part of a against the PSD cone
// with a small relative tolerance. Cholesky is not usable here: H is rank
// deficient under partial observation.
func positiveSemiDefinite(a *mat.Dense) bool {
	s := gonumext.Symmetrize(a)
	var es mat.EigenSym
	if !es.Factorize(s, false) {
		return false
	}
	vals := es.Values(nil)
	scale := 1.0
	for _, v := range vals {
		if v > scale {
			scale = v
		}
	}
	for _, v := range vals {
		if v < -1e-9*scale {
			return false
		}
	}
	return true
}

func addScaled(a *mat.Dense, alpha float64, b *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(b)
	out.Scale(alpha, out)
	out.Add(out, a)
	return out
}

func addScaledVec(a *mat.VecDense, alpha float64, b *mat.VecDense) *mat.VecDense {
	out := mat.VecDenseCopyOf(a)
	out.AddScaledVec(out, alpha, b)
	return out
}
