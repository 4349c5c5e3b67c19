package guide

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"bridgesim/diffusion"
	"bridgesim/noise"
	"bridgesim/observe"
)

// The pendulum observed once through its position with tight noise must be
// bridged successfully in the vast majority of draws, with a finite weight.
func TestForwardGuidePendulum(t *testing.T) {
	const trials = 200
	model := pendulumModel(t)
	prior := observe.GaussianStart(mat.NewVecDense(2, nil), mat.NewSymDense(2, []float64{5, 0, 0, 5}))
	rec, err := observe.NewRecording(model, 0, prior,
		[]observe.Observation{singleObs(1, 0.95, 1e-4, []float64{1, 0})})
	require.NoError(t, err)

	segments, err := BackwardPass(rec, 0.01)
	require.NoError(t, err)

	successes := 0
	for trial := 0; trial < trials; trial++ {
		gen, err := noise.NewGenerator(1, rand.NewPCG(77, uint64(trial)))
		require.NoError(t, err)
		res, err := ForwardGuide(rec, segments, gen)
		require.NoError(t, err)
		if !res.Success {
			continue
		}
		successes++
		require.False(t, math.IsNaN(res.LogLikelihoodRatio))
		require.False(t, math.IsInf(res.LogLikelihoodRatio, 0))

		// The bridge must end near the observed position.
		last := res.Trajectories[0].Last()
		require.InDelta(t, 0.95, last.AtVec(0), 0.15)
	}
	require.GreaterOrEqual(t, successes, trials*95/100,
		"bridge success rate below 95%%: %d/%d", successes, trials)
}

func TestForwardGuideDeterminism(t *testing.T) {
	model := pendulumModel(t)
	prior := observe.GaussianStart(mat.NewVecDense(2, nil), mat.NewSymDense(2, []float64{5, 0, 0, 5}))
	rec, err := observe.NewRecording(model, 0, prior,
		[]observe.Observation{singleObs(1, 0.95, 1e-4, []float64{1, 0})})
	require.NoError(t, err)
	segments, err := BackwardPass(rec, 0.01)
	require.NoError(t, err)

	run := func() *BridgeResult {
		gen, err := noise.NewGenerator(1, rand.NewPCG(13, 37))
		require.NoError(t, err)
		res, err := ForwardGuide(rec, segments, gen)
		require.NoError(t, err)
		return res
	}

	a, b := run(), run()
	require.Equal(t, a.LogLikelihoodRatio, b.LogLikelihoodRatio)
	require.Equal(t, len(a.Trajectories), len(b.Trajectories))
	for s := range a.Trajectories {
		ta, tb := a.Trajectories[s], b.Trajectories[s]
		require.Equal(t, ta.Len(), tb.Len())
		for i := 0; i < ta.Len(); i++ {
			for j := 0; j < 2; j++ {
				require.Equal(t, ta.State(i).AtVec(j), tb.State(i).AtVec(j))
			}
		}
	}
}

// Composing StartingPoint with the single-segment entry point must replay the
// multi-segment run exactly on a one-observation recording.
func TestSingleSegmentConsistency(t *testing.T) {
	model := pendulumModel(t)
	prior := observe.GaussianStart(mat.NewVecDense(2, nil), mat.NewSymDense(2, []float64{5, 0, 0, 5}))
	rec, err := observe.NewRecording(model, 0, prior,
		[]observe.Observation{singleObs(1, 0.95, 1e-4, []float64{1, 0})})
	require.NoError(t, err)
	segments, err := BackwardPass(rec, 0.01)
	require.NoError(t, err)
	require.Len(t, segments, 1)

	genA, err := noise.NewGenerator(1, rand.NewPCG(5, 5))
	require.NoError(t, err)
	full, err := ForwardGuide(rec, segments, genA)
	require.NoError(t, err)

	genB, err := noise.NewGenerator(1, rand.NewPCG(5, 5))
	require.NoError(t, err)
	x0, err := StartingPoint(rec.Start(), segments[0].Terms[0], genB)
	require.NoError(t, err)
	tr, llr, ok, err := ForwardGuideSegment(model, segments[0], x0, genB)
	require.NoError(t, err)

	require.Equal(t, full.Success, ok)
	require.Equal(t, full.LogLikelihoodRatio, llr)
	fullTr := full.Trajectories[0]
	require.Equal(t, fullTr.Len(), tr.Len())
	for i := 0; i < tr.Len(); i++ {
		for j := 0; j < 2; j++ {
			require.Equal(t, fullTr.State(i).AtVec(j), tr.State(i).AtVec(j))
		}
	}
}

func TestStartingPointExact(t *testing.T) {
	gen, err := noise.NewGenerator(1, rand.NewPCG(1, 1))
	require.NoError(t, err)
	x0, err := StartingPoint(observe.ExactStart(mat.NewVecDense(2, []float64{1, 0})),
		Term{H: mat.NewDense(2, 2, nil), F: mat.NewVecDense(2, nil)}, gen)
	require.NoError(t, err)
	require.Equal(t, 1.0, x0.AtVec(0))
	require.Equal(t, 0.0, x0.AtVec(1))
}

// A divergent forward state must come back as a failed result, not an error,
// with the partial trajectory kept for diagnostics.
func TestForwardGuideDivergenceFlag(t *testing.T) {
	dispersion := mat.NewDense(1, 1, []float64{1})
	m, err := diffusion.New(diffusion.Config{
		StateDim: 1,
		NoiseDim: 1,
		Drift: func(_ float64, x mat.Vector) mat.Vector {
			v := x.AtVec(0)
			return mat.NewVecDense(1, []float64{1e100 * v * v * v})
		},
		Diffusion:        func(_ float64, _ mat.Vector) mat.Matrix { return dispersion },
		ConstDiffusivity: true,
		Auxiliary: func(T float64, vT mat.Vector) *diffusion.LinearModel {
			return &diffusion.LinearModel{
				B:     func(_ float64) mat.Matrix { return mat.NewDense(1, 1, nil) },
				Beta:  func(_ float64) mat.Vector { return mat.NewVecDense(1, nil) },
				Sigma: func(_ float64) mat.Matrix { return dispersion },
				T:     T,
				VT:    vT,
			}
		},
	})
	require.NoError(t, err)
	rec, err := observe.NewRecording(m, 0, observe.ExactStart(mat.NewVecDense(1, []float64{1})),
		[]observe.Observation{singleObs(1, 1, 1e-2, []float64{1})})
	require.NoError(t, err)
	segments, err := BackwardPass(rec, 0.01)
	require.NoError(t, err)

	gen, err := noise.NewGenerator(1, rand.NewPCG(8, 8))
	require.NoError(t, err)
	res, err := ForwardGuide(rec, segments, gen)
	require.NoError(t, err)

	require.False(t, res.Success)
	var inst *NumericalInstabilityError
	require.True(t, errors.As(res.Reason, &inst))
	require.Len(t, res.Trajectories, 1, "partial trajectory retained")
}

func TestForwardGuideSegmentGeneratorMismatch(t *testing.T) {
	model := pendulumModel(t)
	rec, err := observe.NewRecording(model, 0, observe.ExactStart(mat.NewVecDense(2, []float64{1, 0})),
		[]observe.Observation{singleObs(1, 0.95, 1e-4, []float64{1, 0})})
	require.NoError(t, err)
	segments, err := BackwardPass(rec, 0.01)
	require.NoError(t, err)

	gen, err := noise.NewGenerator(3, rand.NewPCG(1, 1))
	require.NoError(t, err)
	_, _, _, err = ForwardGuideSegment(model, segments[0], mat.NewVecDense(2, nil), gen)
	var dim *diffusion.DimensionMismatchError
	require.True(t, errors.As(err, &dim))
}
