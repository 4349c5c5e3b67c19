package sde

import (
	"gonum.org/v1/gonum/mat"

	"bridgesim/gonumext"
)

// Trajectory is a discretized sample path: strictly increasing timestamps
// paired with state vectors. It is read-only once the producing solver
// returns it.
type Trajectory struct {
	times  []float64
	states []*mat.VecDense
}

// Len returns the number of grid points in the trajectory.
func (tr *Trajectory) Len() int { return len(tr.times) }

// Time returns the i-th timestamp.
func (tr *Trajectory) Time(i int) float64 { return tr.times[i] }

// State returns the i-th state vector. Callers must not modify it.
func (tr *Trajectory) State(i int) mat.Vector { return tr.states[i] }

// Last returns the final state vector.
func (tr *Trajectory) Last() mat.Vector { return tr.states[len(tr.states)-1] }

// Times returns a copy of the timestamps.
func (tr *Trajectory) Times() []float64 {
	out := make([]float64, len(tr.times))
	copy(out, tr.times)
	return out
}

// Finite reports whether every state component is neither NaN nor Inf.
func (tr *Trajectory) Finite() bool {
	for _, x := range tr.states {
		if !gonumext.AllFiniteVec(x) {
			return false
		}
	}
	return true
}

func newTrajectory(n int) *Trajectory {
	return &Trajectory{
		times:  make([]float64, 0, n),
		states: make([]*mat.VecDense, 0, n),
	}
}

func (tr *Trajectory) append(t float64, x mat.Vector) {
	tr.times = append(tr.times, t)
	tr.states = append(tr.states, mat.VecDenseCopyOf(x))
}

// TrajectoryBuilder accumulates (time, state) points for a solver that steps
// a path itself. Finish hands ownership of the trajectory to the caller.
type TrajectoryBuilder struct {
	tr *Trajectory
}

// BuildTrajectory returns a builder with room for n points.
func BuildTrajectory(n int) *TrajectoryBuilder {
	return &TrajectoryBuilder{tr: newTrajectory(n)}
}

// Append records a point. The state is copied.
func (b *TrajectoryBuilder) Append(t float64, x mat.Vector) {
	b.tr.append(t, x)
}

// Finish returns the accumulated trajectory. The builder must not be used
// afterwards.
func (b *TrajectoryBuilder) Finish() *Trajectory {
	tr := b.tr
	b.tr = nil
	return tr
}
