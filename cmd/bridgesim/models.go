package main

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"bridgesim/diffusion"
)

// demoCatalog registers the models the CLI ships with. The engine itself
// carries no predefined models; anything here is demo material.
func demoCatalog() *diffusion.Catalog {
	c := diffusion.NewCatalog()
	must(c.Register("ornstein-uhlenbeck", ornsteinUhlenbeck))
	must(c.Register("pendulum", pendulum))
	return c
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func param(params map[string]float64, name string, fallback float64) float64 {
	if v, ok := params[name]; ok {
		return v
	}
	return fallback
}

// ornsteinUhlenbeck is the scalar mean-reverting process
//
//	dX = theta (mu - X) dt + sigma dW.
//
// The process is linear, so it serves as its own auxiliary model.
func ornsteinUhlenbeck(params map[string]float64) (*diffusion.Model, error) {
	theta := param(params, "theta", 1)
	mu := param(params, "mu", 0)
	sigma := param(params, "sigma", 1)
	if sigma <= 0 {
		return nil, errors.Errorf("ornstein-uhlenbeck: sigma must be positive, got %g", sigma)
	}

	dispersion := mat.NewDense(1, 1, []float64{sigma})
	return diffusion.New(diffusion.Config{
		StateDim: 1,
		NoiseDim: 1,
		Parameters: []diffusion.Param{
			{Name: "theta", Value: theta},
			{Name: "mu", Value: mu},
			{Name: "sigma", Value: sigma},
		},
		Drift: func(t float64, x mat.Vector) mat.Vector {
			return mat.NewVecDense(1, []float64{theta * (mu - x.AtVec(0))})
		},
		Diffusion: func(t float64, x mat.Vector) mat.Matrix {
			return dispersion
		},
		ConstDiffusivity: true,
		Linear:           true,
		Auxiliary: func(T float64, vT mat.Vector) *diffusion.LinearModel {
			return &diffusion.LinearModel{
				B:     func(t float64) mat.Matrix { return mat.NewDense(1, 1, []float64{-theta}) },
				Beta:  func(t float64) mat.Vector { return mat.NewVecDense(1, []float64{theta * mu}) },
				Sigma: func(t float64) mat.Matrix { return dispersion },
				T:     T,
				VT:    vT,
			}
		},
	})
}

// pendulum is the stochastically forced pendulum
//
//	dX1 = X2 dt
//	dX2 = -omega2 sin(X1) dt + sigma dW
//
// with the integrated-noise linearization as auxiliary model.
func pendulum(params map[string]float64) (*diffusion.Model, error) {
	omega2 := param(params, "omega2", 4)
	sigma := param(params, "sigma", 0.5)
	if sigma <= 0 {
		return nil, errors.Errorf("pendulum: sigma must be positive, got %g", sigma)
	}

	dispersion := mat.NewDense(2, 1, []float64{0, sigma})
	auxB := mat.NewDense(2, 2, []float64{0, 1, 0, 0})
	return diffusion.New(diffusion.Config{
		StateDim: 2,
		NoiseDim: 1,
		Parameters: []diffusion.Param{
			{Name: "omega2", Value: omega2},
			{Name: "sigma", Value: sigma},
		},
		Drift: func(t float64, x mat.Vector) mat.Vector {
			return mat.NewVecDense(2, []float64{
				x.AtVec(1),
				-omega2 * math.Sin(x.AtVec(0)),
			})
		},
		Diffusion: func(t float64, x mat.Vector) mat.Matrix {
			return dispersion
		},
		ConstDiffusivity: true,
		Auxiliary: func(T float64, vT mat.Vector) *diffusion.LinearModel {
			return &diffusion.LinearModel{
				B:     func(t float64) mat.Matrix { return auxB },
				Beta:  func(t float64) mat.Vector { return mat.NewVecDense(2, nil) },
				Sigma: func(t float64) mat.Matrix { return dispersion },
				T:     T,
				VT:    vT,
			}
		},
	})
}
