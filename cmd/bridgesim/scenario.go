package main

import (
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"bridgesim"
	"bridgesim/diffusion"
	"bridgesim/observe"
)

// Scenario is a YAML description of a batch run: one model from the catalog
// and any number of recordings to bridge.
type Scenario struct {
	// Model names a catalog entry and its parameter values.
	Model ModelSpec `yaml:"model"`
	// Step is the discretization step for every segment grid.
	Step float64 `yaml:"step"`
	// Seed feeds the per-recording random streams.
	Seed uint64 `yaml:"seed"`
	// Workers bounds the simulation worker pool. Zero means one.
	Workers int `yaml:"workers"`
	// Recordings are the independent experimental units.
	Recordings []RecordingSpec `yaml:"recordings"`
}

// ModelSpec selects a model from the catalog.
type ModelSpec struct {
	Name   string             `yaml:"name"`
	Params map[string]float64 `yaml:"params"`
}

// RecordingSpec describes one recording.
type RecordingSpec struct {
	// T0 is the starting time.
	T0 float64 `yaml:"t0"`
	// Start is the starting-point prior.
	Start StartSpec `yaml:"start"`
	// Observations are the noisy linear observations, in time order.
	Observations []ObservationSpec `yaml:"observations"`
}

// StartSpec is either an exact starting point or a Gaussian prior with a
// diagonal covariance.
type StartSpec struct {
	Exact     []float64 `yaml:"exact,omitempty"`
	Mean      []float64 `yaml:"mean,omitempty"`
	Variances []float64 `yaml:"variances,omitempty"`
}

// ObservationSpec is one observation with a diagonal noise covariance.
type ObservationSpec struct {
	Time      float64     `yaml:"time"`
	Value     []float64   `yaml:"value"`
	Operator  [][]float64 `yaml:"operator"`
	Variances []float64   `yaml:"variances"`
}

// LoadScenario reads and decodes a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading scenario %s", path)
	}
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, errors.Wrapf(err, "decoding scenario %s", path)
	}
	if sc.Step <= 0 {
		return nil, errors.Errorf("scenario %s: step must be positive, got %g", path, sc.Step)
	}
	if len(sc.Recordings) == 0 {
		return nil, errors.Errorf("scenario %s: no recordings", path)
	}
	return &sc, nil
}

// Build resolves the scenario against a catalog and assembles the batch.
func (sc *Scenario) Build(catalog *diffusion.Catalog) (*bridgesim.Batch, error) {
	model, err := catalog.Build(sc.Model.Name, sc.Model.Params)
	if err != nil {
		return nil, errors.Wrap(err, "building model")
	}
	batch := bridgesim.NewBatch()
	for i, rs := range sc.Recordings {
		start, err := rs.Start.prior()
		if err != nil {
			return nil, errors.Wrapf(err, "recording %d", i)
		}
		obs := make([]observe.Observation, len(rs.Observations))
		for j, spec := range rs.Observations {
			o, err := spec.observation()
			if err != nil {
				return nil, errors.Wrapf(err, "recording %d observation %d", i, j)
			}
			obs[j] = o
		}
		rec, err := observe.NewRecording(model, rs.T0, start, obs)
		if err != nil {
			return nil, errors.Wrapf(err, "recording %d", i)
		}
		batch.Add(rec)
	}
	return batch, nil
}

func (ss StartSpec) prior() (observe.StartPrior, error) {
	if len(ss.Exact) > 0 {
		return observe.ExactStart(mat.NewVecDense(len(ss.Exact), ss.Exact)), nil
	}
	if len(ss.Mean) == 0 || len(ss.Variances) != len(ss.Mean) {
		return observe.StartPrior{}, errors.New("start prior needs either exact, or mean with matching variances")
	}
	cov := mat.NewSymDense(len(ss.Mean), nil)
	for i, v := range ss.Variances {
		cov.SetSym(i, i, v)
	}
	return observe.GaussianStart(mat.NewVecDense(len(ss.Mean), ss.Mean), cov), nil
}

func (spec ObservationSpec) observation() (observe.Observation, error) {
	dim := len(spec.Value)
	if dim == 0 {
		return observe.Observation{}, errors.New("observation has no value")
	}
	if len(spec.Operator) != dim {
		return observe.Observation{}, errors.Errorf("operator has %d rows for a %d-dimensional value", len(spec.Operator), dim)
	}
	cols := len(spec.Operator[0])
	op := mat.NewDense(dim, cols, nil)
	for i, row := range spec.Operator {
		if len(row) != cols {
			return observe.Observation{}, errors.New("operator rows have unequal lengths")
		}
		op.SetRow(i, row)
	}
	if len(spec.Variances) != dim {
		return observe.Observation{}, errors.Errorf("got %d noise variances for a %d-dimensional value", len(spec.Variances), dim)
	}
	cov := mat.NewSymDense(dim, nil)
	for i, v := range spec.Variances {
		cov.SetSym(i, i, v)
	}
	return observe.Observation{
		Time:     spec.Time,
		Value:    mat.NewVecDense(dim, spec.Value),
		Operator: op,
		Noise:    cov,
	}, nil
}
