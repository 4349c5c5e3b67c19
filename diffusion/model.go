// Package diffusion describes Ito diffusion processes
//
// dX(t) = b(t, X(t)) dt + sigma(t, X(t)) dW(t)
//
// through a validated configuration object. A Model is immutable once built;
// solvers and bridge simulators consume it without ever mutating it.
package diffusion

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DriftFunc evaluates the drift b(t, x). The returned vector must have the
// model's state dimension.
type DriftFunc func(t float64, x mat.Vector) mat.Vector

// DiffusionFunc evaluates the diffusion coefficient sigma(t, x). The returned
// matrix must be (state dim by noise dim).
type DiffusionFunc func(t float64, x mat.Vector) mat.Matrix

// Param is one named scalar parameter of a model. Parameters keep their
// declaration order.
type Param struct {
	Name  string
	Value float64
}

// Config holds the recognized fields of a model declaration. All fields are
// checked by New; a Config is never used directly after construction.
type Config struct {
	// StateDim is the dimension of the state vector X(t).
	StateDim int
	// NoiseDim is the dimension of the driving Wiener process W(t).
	NoiseDim int
	// Parameters are the model's named constants, in declaration order.
	Parameters []Param
	// Drift evaluates b(t, x).
	Drift DriftFunc
	// Diffusion evaluates sigma(t, x).
	Diffusion DiffusionFunc
	// ConstDiffusivity marks sigma as independent of (t, x). Solvers use it
	// to evaluate sigma once per run instead of once per step, and the bridge
	// simulator uses it to drop the diffusivity trace term from the weight.
	ConstDiffusivity bool
	// Linear marks the drift as linear in x.
	Linear bool
	// Auxiliary builds the linear approximation used for guided bridges.
	// Optional: models that are only ever forward-simulated can omit it.
	Auxiliary AuxiliaryFunc
}

// Model is an immutable diffusion process description.
type Model struct {
	stateDim  int
	noiseDim  int
	params    []Param
	drift     DriftFunc
	diffusion DiffusionFunc
	constDiff bool
	linear    bool
	auxiliary AuxiliaryFunc
}

// New validates cfg and returns the model it describes.
func New(cfg Config) (*Model, error) {
	if cfg.StateDim < 1 {
		return nil, fmt.Errorf("diffusion: state dimension must be positive, got %d", cfg.StateDim)
	}
	if cfg.NoiseDim < 1 {
		return nil, fmt.Errorf("diffusion: noise dimension must be positive, got %d", cfg.NoiseDim)
	}
	if cfg.Drift == nil {
		return nil, errors.New("diffusion: drift function is required")
	}
	if cfg.Diffusion == nil {
		return nil, errors.New("diffusion: diffusion function is required")
	}
	seen := make(map[string]bool, len(cfg.Parameters))
	for _, p := range cfg.Parameters {
		if seen[p.Name] {
			return nil, fmt.Errorf("diffusion: duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
	}
	params := make([]Param, len(cfg.Parameters))
	copy(params, cfg.Parameters)
	return &Model{
		stateDim:  cfg.StateDim,
		noiseDim:  cfg.NoiseDim,
		params:    params,
		drift:     cfg.Drift,
		diffusion: cfg.Diffusion,
		constDiff: cfg.ConstDiffusivity,
		linear:    cfg.Linear,
		auxiliary: cfg.Auxiliary,
	}, nil
}

// StateDim returns the dimension of the state vector.
func (m *Model) StateDim() int { return m.stateDim }

// NoiseDim returns the dimension of the driving Wiener process.
func (m *Model) NoiseDim() int { return m.noiseDim }

// ConstDiffusivity reports whether sigma is independent of (t, x).
func (m *Model) ConstDiffusivity() bool { return m.constDiff }

// Linear reports whether the drift is linear in the state.
func (m *Model) Linear() bool { return m.linear }

// Parameters returns the model parameters in declaration order.
func (m *Model) Parameters() []Param {
	out := make([]Param, len(m.params))
	copy(out, m.params)
	return out
}

// Param looks up a parameter by name.
func (m *Model) Param(name string) (float64, bool) {
	for _, p := range m.params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return 0, false
}

// Drift evaluates b(t, x) and checks the output dimension.
func (m *Model) Drift(t float64, x mat.Vector) (mat.Vector, error) {
	if x.Len() != m.stateDim {
		return nil, &DimensionMismatchError{Op: "drift input", WantRows: m.stateDim, WantCols: 1, GotRows: x.Len(), GotCols: 1}
	}
	b := m.drift(t, x)
	if b.Len() != m.stateDim {
		return nil, &DimensionMismatchError{Op: "drift output", WantRows: m.stateDim, WantCols: 1, GotRows: b.Len(), GotCols: 1}
	}
	return b, nil
}

// Diffusion evaluates sigma(t, x) and checks the output shape.
func (m *Model) Diffusion(t float64, x mat.Vector) (mat.Matrix, error) {
	if x.Len() != m.stateDim {
		return nil, &DimensionMismatchError{Op: "diffusion input", WantRows: m.stateDim, WantCols: 1, GotRows: x.Len(), GotCols: 1}
	}
	s := m.diffusion(t, x)
	r, c := s.Dims()
	if r != m.stateDim || c != m.noiseDim {
		return nil, &DimensionMismatchError{Op: "diffusion output", WantRows: m.stateDim, WantCols: m.noiseDim, GotRows: r, GotCols: c}
	}
	return s, nil
}

// Diffusivity evaluates a(t, x) = sigma sigma^T.
func (m *Model) Diffusivity(t float64, x mat.Vector) (*mat.Dense, error) {
	s, err := m.Diffusion(t, x)
	if err != nil {
		return nil, err
	}
	a := mat.NewDense(m.stateDim, m.stateDim, nil)
	a.Mul(s, s.T())
	return a, nil
}

// HasAuxiliary reports whether the model declares a linear auxiliary
// approximation for guided bridges.
func (m *Model) HasAuxiliary() bool { return m.auxiliary != nil }

// Auxiliary builds the linear model approximating the process on a segment
// ending at time T with terminal target vT.
func (m *Model) Auxiliary(T float64, vT mat.Vector) (*LinearModel, error) {
	if m.auxiliary == nil {
		return nil, errors.New("diffusion: model declares no auxiliary approximation")
	}
	return m.auxiliary(T, vT), nil
}

// DimensionMismatchError reports a drift, diffusion, or state vector whose
// shape disagrees with the model's declared dimensions.
type DimensionMismatchError struct {
	Op                 string
	WantRows, WantCols int
	GotRows, GotCols   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("diffusion: %s has shape (%d,%d), want (%d,%d)",
		e.Op, e.GotRows, e.GotCols, e.WantRows, e.WantCols)
}
