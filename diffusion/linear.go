package diffusion

import (
	"gonum.org/v1/gonum/mat"
)

// LinearModel is the linear auxiliary process
//
// dXt(t) = (B(t) Xt(t) + Beta(t)) dt + Sigma(t) dW(t)
//
// used on one observation segment to derive the guiding term. It carries the
// segment's terminal time T and terminal target VT, and is immutable once
// built.
type LinearModel struct {
	// B evaluates the (state dim by state dim) drift matrix.
	B func(t float64) mat.Matrix
	// Beta evaluates the state dim drift offset.
	Beta func(t float64) mat.Vector
	// Sigma evaluates the (state dim by noise dim) diffusion coefficient.
	Sigma func(t float64) mat.Matrix
	// T is the right endpoint of the segment the model approximates.
	T float64
	// VT is the observed value the segment ends at.
	VT mat.Vector
}

// AuxiliaryFunc builds the linear approximation for a segment ending at time
// T with terminal target vT. Model authors supply one per model.
type AuxiliaryFunc func(T float64, vT mat.Vector) *LinearModel

// Drift evaluates B(t) x + Beta(t).
func (lm *LinearModel) Drift(t float64, x mat.Vector) *mat.VecDense {
	out := mat.NewVecDense(x.Len(), nil)
	out.MulVec(lm.B(t), x)
	out.AddVec(out, lm.Beta(t))
	return out
}

// Diffusivity evaluates the auxiliary diffusivity at(t) = Sigma Sigma^T.
func (lm *LinearModel) Diffusivity(t float64) *mat.Dense {
	s := lm.Sigma(t)
	r, _ := s.Dims()
	a := mat.NewDense(r, r, nil)
	a.Mul(s, s.T())
	return a
}
