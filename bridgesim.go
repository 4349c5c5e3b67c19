// Package bridgesim simulates diffusion bridges for discretely observed
// stochastic differential equations via guided proposals. The subpackages
// hold the engine (diffusion models, noise, the Euler-Maruyama solver, the
// observation scheme, and the guiding-term machinery); this package runs
// collections of independent recordings.
package bridgesim

import (
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"

	"bridgesim/guide"
	"bridgesim/noise"
	"bridgesim/observe"
)

// Batch is an insertion-only collection of independent recordings, e.g. one
// per experimental unit. Recordings share no mutable state, so a batch is
// simulated with one task per recording.
type Batch struct {
	ids  []uuid.UUID
	recs []*observe.Recording
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Add inserts a recording and returns the identifier its results are
// reported under.
func (b *Batch) Add(rec *observe.Recording) uuid.UUID {
	id := uuid.New()
	b.ids = append(b.ids, id)
	b.recs = append(b.recs, rec)
	return id
}

// Len returns the number of recordings.
func (b *Batch) Len() int { return len(b.recs) }

// Result is the outcome of simulating one recording. Err is set for fatal
// errors (bad grids, dimension mismatches, guiding-term divergence); a
// numerically failed but structurally sound run comes back in Bridge with
// Success false.
type Result struct {
	ID     uuid.UUID
	Bridge *guide.BridgeResult
	Err    error
}

// SimulateAll runs the backward and forward passes for every recording,
// using at most workers goroutines. Each recording draws from its own PCG
// stream derived from seed and the recording's position, so results are
// reproducible regardless of scheduling and one recording's failure never
// touches another.
func (b *Batch) SimulateAll(step float64, seed uint64, workers int) []Result {
	if workers < 1 {
		workers = 1
	}
	results := make([]Result, len(b.recs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = b.simulateOne(idx, step, seed)
			}
		}()
	}
	for idx := range b.recs {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()
	return results
}

func (b *Batch) simulateOne(idx int, step float64, seed uint64) Result {
	rec := b.recs[idx]
	res := Result{ID: b.ids[idx]}

	segments, err := guide.BackwardPass(rec, step)
	if err != nil {
		res.Err = err
		return res
	}
	gen, err := noise.NewGenerator(rec.Model().NoiseDim(), rand.NewPCG(seed, uint64(idx)))
	if err != nil {
		res.Err = err
		return res
	}
	bridge, err := guide.ForwardGuide(rec, segments, gen)
	if err != nil {
		res.Err = err
		return res
	}
	res.Bridge = bridge
	return res
}
