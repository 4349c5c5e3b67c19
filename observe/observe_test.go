package observe

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"bridgesim/diffusion"
)

func testModel(t *testing.T) *diffusion.Model {
	t.Helper()
	m, err := diffusion.New(diffusion.Config{
		StateDim: 2,
		NoiseDim: 1,
		Drift: func(_ float64, x mat.Vector) mat.Vector {
			return mat.NewVecDense(2, []float64{x.AtVec(1), 0})
		},
		Diffusion: func(_ float64, _ mat.Vector) mat.Matrix {
			return mat.NewDense(2, 1, []float64{0, 1})
		},
		ConstDiffusivity: true,
	})
	require.NoError(t, err)
	return m
}

func obsAt(time float64) Observation {
	return Observation{
		Time:     time,
		Value:    mat.NewVecDense(1, []float64{0.5}),
		Operator: mat.NewDense(1, 2, []float64{1, 0}),
		Noise:    mat.NewSymDense(1, []float64{1e-4}),
	}
}

func TestNewRecordingValidation(t *testing.T) {
	model := testModel(t)
	start := ExactStart(mat.NewVecDense(2, nil))

	_, err := NewRecording(model, 0, start, nil)
	require.Error(t, err, "empty observation sequence")

	_, err = NewRecording(model, 0, start, []Observation{obsAt(1), obsAt(0.5)})
	require.Error(t, err, "non-increasing observation times")

	_, err = NewRecording(model, 1, start, []Observation{obsAt(1)})
	require.Error(t, err, "observation at t0")

	bad := obsAt(1)
	bad.Operator = mat.NewDense(1, 3, nil)
	_, err = NewRecording(model, 0, start, []Observation{bad})
	require.Error(t, err, "operator shape")

	bad = obsAt(1)
	bad.Noise = mat.NewSymDense(2, nil)
	_, err = NewRecording(model, 0, start, []Observation{bad})
	require.Error(t, err, "noise covariance order")

	_, err = NewRecording(model, 0, ExactStart(mat.NewVecDense(3, nil)), []Observation{obsAt(1)})
	require.Error(t, err, "prior dimension")

	rec, err := NewRecording(model, 0, start, []Observation{obsAt(1), obsAt(2)})
	require.NoError(t, err)
	require.Equal(t, 0.0, rec.T0())
	require.Len(t, rec.Observations(), 2)
}

func TestStartPrior(t *testing.T) {
	exact := ExactStart(mat.NewVecDense(2, []float64{1, 0}))
	require.True(t, exact.Exact())
	require.Equal(t, 2, exact.Dim())

	cov := mat.NewSymDense(2, []float64{5, 0, 0, 5})
	gauss := GaussianStart(mat.NewVecDense(2, nil), cov)
	require.False(t, gauss.Exact())
	require.Equal(t, 2, gauss.Dim())
	require.Equal(t, 5.0, gauss.Cov().At(0, 0))
}

func TestSegmentGrids(t *testing.T) {
	model := testModel(t)
	rec, err := NewRecording(model, 0, ExactStart(mat.NewVecDense(2, nil)),
		[]Observation{obsAt(1), obsAt(1.55)})
	require.NoError(t, err)

	_, err = rec.SegmentGrids(0)
	require.Error(t, err)

	grids, err := rec.SegmentGrids(0.1)
	require.NoError(t, err)
	require.Len(t, grids, 2)

	// Segment endpoints are hit exactly; steps never exceed the requested one.
	require.Equal(t, 0.0, grids[0][0])
	require.Equal(t, 1.0, grids[0][len(grids[0])-1])
	require.Equal(t, 1.0, grids[1][0])
	require.Equal(t, 1.55, grids[1][len(grids[1])-1])
	for _, grid := range grids {
		for i := 1; i < len(grid); i++ {
			require.LessOrEqual(t, grid[i]-grid[i-1], 0.1+1e-12)
		}
	}
}
