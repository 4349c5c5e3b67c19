package bridgesim

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"bridgesim/diffusion"
	"bridgesim/observe"
)

func ouModel(t *testing.T) *diffusion.Model {
	t.Helper()
	const (
		theta = 1.0
		sigma = 0.8
	)
	dispersion := mat.NewDense(1, 1, []float64{sigma})
	m, err := diffusion.New(diffusion.Config{
		StateDim: 1,
		NoiseDim: 1,
		Parameters: []diffusion.Param{
			{Name: "theta", Value: theta},
			{Name: "sigma", Value: sigma},
		},
		Drift: func(_ float64, x mat.Vector) mat.Vector {
			return mat.NewVecDense(1, []float64{-theta * x.AtVec(0)})
		},
		Diffusion:        func(_ float64, _ mat.Vector) mat.Matrix { return dispersion },
		ConstDiffusivity: true,
		Linear:           true,
		Auxiliary: func(T float64, vT mat.Vector) *diffusion.LinearModel {
			return &diffusion.LinearModel{
				B:     func(_ float64) mat.Matrix { return mat.NewDense(1, 1, []float64{-theta}) },
				Beta:  func(_ float64) mat.Vector { return mat.NewVecDense(1, nil) },
				Sigma: func(_ float64) mat.Matrix { return dispersion },
				T:     T,
				VT:    vT,
			}
		},
	})
	require.NoError(t, err)
	return m
}

func ouRecording(t *testing.T, v float64) *observe.Recording {
	t.Helper()
	rec, err := observe.NewRecording(ouModel(t), 0,
		observe.ExactStart(mat.NewVecDense(1, nil)),
		[]observe.Observation{
			{
				Time:     0.5,
				Value:    mat.NewVecDense(1, []float64{v}),
				Operator: mat.NewDense(1, 1, []float64{1}),
				Noise:    mat.NewSymDense(1, []float64{1e-2}),
			},
			{
				Time:     1,
				Value:    mat.NewVecDense(1, []float64{v / 2}),
				Operator: mat.NewDense(1, 1, []float64{1}),
				Noise:    mat.NewSymDense(1, []float64{1e-2}),
			},
		})
	require.NoError(t, err)
	return rec
}

func TestBatchSimulateAll(t *testing.T) {
	batch := NewBatch()
	ids := make(map[string]bool)
	for _, v := range []float64{0.3, -0.2, 0.7} {
		id := batch.Add(ouRecording(t, v))
		require.False(t, ids[id.String()], "duplicate recording id")
		ids[id.String()] = true
	}
	require.Equal(t, 3, batch.Len())

	results := batch.SimulateAll(0.01, 42, 2)
	require.Len(t, results, 3)
	for _, res := range results {
		require.NoError(t, res.Err)
		require.True(t, res.Bridge.Success)
		require.Len(t, res.Bridge.Trajectories, 2)
	}
}

// Results are keyed to per-recording streams: scheduling must not change
// them.
func TestBatchReproducibleAcrossWorkerCounts(t *testing.T) {
	build := func() *Batch {
		b := NewBatch()
		b.Add(ouRecording(t, 0.3))
		b.Add(ouRecording(t, -0.2))
		b.Add(ouRecording(t, 0.7))
		return b
	}

	serial := build().SimulateAll(0.01, 7, 1)
	parallel := build().SimulateAll(0.01, 7, 4)

	require.Equal(t, len(serial), len(parallel))
	for i := range serial {
		require.NoError(t, serial[i].Err)
		require.NoError(t, parallel[i].Err)
		require.Equal(t, serial[i].Bridge.LogLikelihoodRatio, parallel[i].Bridge.LogLikelihoodRatio,
			"recording %d diverged between worker counts", i)
	}
}

func TestBatchOneFailureDoesNotTouchOthers(t *testing.T) {
	batch := NewBatch()
	batch.Add(ouRecording(t, 0.3))

	// A recording whose model lacks an auxiliary approximation fails fatally.
	bare, err := diffusion.New(diffusion.Config{
		StateDim:  1,
		NoiseDim:  1,
		Drift:     func(_ float64, x mat.Vector) mat.Vector { return x },
		Diffusion: func(_ float64, _ mat.Vector) mat.Matrix { return mat.NewDense(1, 1, []float64{1}) },
	})
	require.NoError(t, err)
	rec, err := observe.NewRecording(bare, 0, observe.ExactStart(mat.NewVecDense(1, nil)),
		[]observe.Observation{{
			Time:     1,
			Value:    mat.NewVecDense(1, []float64{0.1}),
			Operator: mat.NewDense(1, 1, []float64{1}),
			Noise:    mat.NewSymDense(1, []float64{1e-2}),
		}})
	require.NoError(t, err)
	batch.Add(rec)

	results := batch.SimulateAll(0.01, 3, 2)
	require.NoError(t, results[0].Err)
	require.True(t, results[0].Bridge.Success)
	require.Error(t, results[1].Err)
	require.Nil(t, results[1].Bridge)
}
