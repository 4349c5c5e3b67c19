// Package sde integrates stochastic differential equations on a fixed time
// grid with the Euler-Maruyama scheme
//
// x[i+1] = x[i] + b(t[i], x[i]) dt + sigma(t[i], x[i]) dW[i].
//
// There is no adaptive step-size control: the caller's grid density is the
// accuracy/cost trade-off.
package sde

import (
	"gonum.org/v1/gonum/mat"

	"bridgesim/diffusion"
	"bridgesim/noise"
)

// Integrate runs the Euler-Maruyama recursion for model starting at x0,
// consuming the pre-generated increments dW (one row per grid step). The
// result is a pure function of the inputs.
func Integrate(model *diffusion.Model, x0 mat.Vector, grid []float64, dW *mat.Dense) (*Trajectory, error) {
	if err := noise.ValidateGrid(grid); err != nil {
		return nil, err
	}
	if x0.Len() != model.StateDim() {
		return nil, &diffusion.DimensionMismatchError{
			Op: "starting state", WantRows: model.StateDim(), WantCols: 1, GotRows: x0.Len(), GotCols: 1,
		}
	}
	n := len(grid) - 1
	if r, c := dW.Dims(); r != n || c != model.NoiseDim() {
		return nil, &diffusion.DimensionMismatchError{
			Op: "noise increments", WantRows: n, WantCols: model.NoiseDim(), GotRows: r, GotCols: c,
		}
	}

	// Constant diffusivity admits a fast path: sigma is evaluated once.
	var sigma mat.Matrix
	if model.ConstDiffusivity() {
		s, err := model.Diffusion(grid[0], x0)
		if err != nil {
			return nil, err
		}
		sigma = s
	}

	tr := newTrajectory(n + 1)
	tr.append(grid[0], x0)

	x := mat.VecDenseCopyOf(x0)
	step := mat.NewVecDense(model.StateDim(), nil)
	for i := 0; i < n; i++ {
		t := grid[i]
		dt := grid[i+1] - t

		b, err := model.Drift(t, x)
		if err != nil {
			return nil, err
		}
		s := sigma
		if s == nil {
			s, err = model.Diffusion(t, x)
			if err != nil {
				return nil, err
			}
		}

		x.AddScaledVec(x, dt, b)
		step.MulVec(s, dW.RowView(i))
		x.AddVec(x, step)
		tr.append(grid[i+1], x)
	}
	return tr, nil
}
