// Package noise generates discretized multivariate Wiener processes on a
// time grid. Randomness always comes from an injected source so that runs are
// reproducible and parallel workers can hold disjoint streams.
package noise

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// InvalidGridError reports a time grid with fewer than two points or
// non-increasing timestamps.
type InvalidGridError struct {
	Reason string
}

func (e *InvalidGridError) Error() string {
	return "noise: invalid time grid: " + e.Reason
}

// ValidateGrid checks that grid has at least two strictly increasing points.
func ValidateGrid(grid []float64) error {
	if len(grid) < 2 {
		return &InvalidGridError{Reason: fmt.Sprintf("need at least 2 points, got %d", len(grid))}
	}
	for i := 1; i < len(grid); i++ {
		if grid[i] <= grid[i-1] {
			return &InvalidGridError{Reason: fmt.Sprintf("not strictly increasing at index %d (%g after %g)", i, grid[i], grid[i-1])}
		}
	}
	return nil
}

// UniformGrid returns the grid of steps+1 equispaced points from t0 to t1.
func UniformGrid(t0, t1 float64, steps int) []float64 {
	grid := make([]float64, steps+1)
	h := (t1 - t0) / float64(steps)
	for i := range grid {
		grid[i] = t0 + float64(i)*h
	}
	grid[steps] = t1
	return grid
}

// Generator draws Wiener increments of a fixed dimension.
type Generator struct {
	dim    int
	src    rand.Source
	normal distuv.Normal
}

// NewGenerator returns a generator of dim-dimensional increments drawing
// from src.
func NewGenerator(dim int, src rand.Source) (*Generator, error) {
	if dim < 1 {
		return nil, fmt.Errorf("noise: dimension must be positive, got %d", dim)
	}
	return &Generator{
		dim:    dim,
		src:    src,
		normal: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}, nil
}

// Dim returns the increment dimension.
func (g *Generator) Dim() int { return g.dim }

// Source returns the underlying random source, so that other samplers can
// share the generator's stream.
func (g *Generator) Source() rand.Source { return g.src }

// Increments draws the independent increments dW_i ~ N(0, (t[i+1]-t[i]) I)
// for the given grid. Row i of the result is the increment over
// [grid[i], grid[i+1]].
func (g *Generator) Increments(grid []float64) (*mat.Dense, error) {
	if err := ValidateGrid(grid); err != nil {
		return nil, err
	}
	n := len(grid) - 1
	dw := mat.NewDense(n, g.dim, nil)
	for i := 0; i < n; i++ {
		sd := math.Sqrt(grid[i+1] - grid[i])
		for j := 0; j < g.dim; j++ {
			dw.Set(i, j, sd*g.normal.Rand())
		}
	}
	return dw, nil
}

// Path draws a Wiener path on the grid: row i is W(grid[i]), with
// W(grid[0]) = 0. The path is the cumulative sum of freshly drawn increments.
func (g *Generator) Path(grid []float64) (*mat.Dense, error) {
	dw, err := g.Increments(grid)
	if err != nil {
		return nil, err
	}
	n := len(grid)
	w := mat.NewDense(n, g.dim, nil)
	for i := 1; i < n; i++ {
		for j := 0; j < g.dim; j++ {
			w.Set(i, j, w.At(i-1, j)+dw.At(i-1, j))
		}
	}
	return w, nil
}
