// Package observe holds the observation-side data of a discretely observed
// diffusion: noisy linear observations, the prior on the starting point, and
// the Recording that ties them to a process model. All values are built once
// from raw data and read-only afterwards.
package observe

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"bridgesim/diffusion"
	"bridgesim/noise"
)

// Observation is one noisy linear observation
//
// v = L X(t) + eps,  eps ~ N(0, Noise)
//
// of the state at time Time.
type Observation struct {
	// Time is the observation timestamp.
	Time float64
	// Value is the observed vector v.
	Value *mat.VecDense
	// Operator is the observation matrix L (obs dim by state dim).
	Operator *mat.Dense
	// Noise is the observation noise covariance (obs dim by obs dim).
	Noise *mat.SymDense
}

// Dim returns the observation dimension.
func (o Observation) Dim() int { return o.Value.Len() }

// StartPrior is the prior on the starting state: either a Gaussian, or the
// degenerate "known exactly" case.
type StartPrior struct {
	exact bool
	point *mat.VecDense
	mean  *mat.VecDense
	cov   *mat.SymDense
}

// ExactStart marks the starting state as known exactly.
func ExactStart(x0 mat.Vector) StartPrior {
	return StartPrior{exact: true, point: mat.VecDenseCopyOf(x0)}
}

// GaussianStart places a Gaussian prior on the starting state.
func GaussianStart(mean mat.Vector, cov mat.Symmetric) StartPrior {
	n := cov.SymmetricDim()
	c := mat.NewSymDense(n, nil)
	c.CopySym(cov)
	return StartPrior{mean: mat.VecDenseCopyOf(mean), cov: c}
}

// Exact reports whether the starting state is known exactly.
func (p StartPrior) Exact() bool { return p.exact }

// Point returns the known starting state of a degenerate prior.
func (p StartPrior) Point() mat.Vector { return p.point }

// Mean returns the Gaussian prior mean.
func (p StartPrior) Mean() mat.Vector { return p.mean }

// Cov returns the Gaussian prior covariance.
func (p StartPrior) Cov() mat.Symmetric { return p.cov }

// Dim returns the state dimension the prior is declared over.
func (p StartPrior) Dim() int {
	if p.exact {
		return p.point.Len()
	}
	return p.mean.Len()
}

// Recording is one experimental unit: a process model, its starting time and
// starting-point prior, and the ordered noisy observations the bridge must
// approximately hit.
type Recording struct {
	model *diffusion.Model
	t0    float64
	start StartPrior
	obs   []Observation
}

// NewRecording validates the observation sequence against the model and
// returns the recording. Observation times must be strictly increasing and
// lie strictly after t0, and every operator and noise covariance must match
// the model's state dimension.
func NewRecording(model *diffusion.Model, t0 float64, start StartPrior, obs []Observation) (*Recording, error) {
	if model == nil {
		return nil, errors.New("observe: recording requires a model")
	}
	if len(obs) == 0 {
		return nil, errors.New("observe: recording requires at least one observation")
	}
	if start.Dim() != model.StateDim() {
		return nil, fmt.Errorf("observe: start prior dimension %d, model state dimension %d", start.Dim(), model.StateDim())
	}
	prev := t0
	for i, o := range obs {
		if o.Time <= prev {
			return nil, fmt.Errorf("observe: observation %d at t=%g does not lie strictly after t=%g", i, o.Time, prev)
		}
		prev = o.Time
		r, c := o.Operator.Dims()
		if r != o.Dim() || c != model.StateDim() {
			return nil, fmt.Errorf("observe: observation %d operator has shape (%d,%d), want (%d,%d)", i, r, c, o.Dim(), model.StateDim())
		}
		if n := o.Noise.SymmetricDim(); n != o.Dim() {
			return nil, fmt.Errorf("observe: observation %d noise covariance has order %d, want %d", i, n, o.Dim())
		}
	}
	own := make([]Observation, len(obs))
	copy(own, obs)
	return &Recording{model: model, t0: t0, start: start, obs: own}, nil
}

// Model returns the process model.
func (r *Recording) Model() *diffusion.Model { return r.model }

// T0 returns the starting time.
func (r *Recording) T0() float64 { return r.t0 }

// Start returns the starting-point prior.
func (r *Recording) Start() StartPrior { return r.start }

// Observations returns the observations in time order.
func (r *Recording) Observations() []Observation {
	out := make([]Observation, len(r.obs))
	copy(out, r.obs)
	return out
}

// SegmentGrids builds one time grid per observation segment: from t0 to the
// first observation, then between consecutive observations. Each grid is
// uniform with a step no larger than step, and its endpoints are the segment
// endpoints exactly.
func (r *Recording) SegmentGrids(step float64) ([][]float64, error) {
	if step <= 0 {
		return nil, fmt.Errorf("observe: step must be positive, got %g", step)
	}
	grids := make([][]float64, len(r.obs))
	left := r.t0
	for i, o := range r.obs {
		steps := int(math.Ceil((o.Time - left) / step))
		if steps < 1 {
			steps = 1
		}
		grids[i] = noise.UniformGrid(left, o.Time, steps)
		left = o.Time
	}
	return grids, nil
}
