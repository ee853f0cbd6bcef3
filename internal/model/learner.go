package model

import "fmt"

// Learner is the capability contract shared by every base learner variant
// in the ensemble: fit on a labelled, weighted training fold, predict a
// positive-class probability, and serialise/deserialise for artifact
// persistence. A small variant type over concrete learners replaces what
// an inheritance hierarchy would express in an OO source.
type Learner interface {
	Fit(x [][]float64, y []float64, weights []float64) error
	PredictProba(x []float64) float64
	Kind() string
	MarshalState() ([]byte, error)
	UnmarshalState([]byte) error
}

// Hyperparameters bounds a base learner's tunable search space. Not every
// field applies to every learner kind; the trainer consults Kind() to
// know which fields are live.
type Hyperparameters struct {
	NumTrees     int
	MaxDepth     int
	MinLeaf      int
	LearningRate float64
	SubsampleFrac float64
}

// NewLearner constructs a zero-value learner of the given kind ready for
// Fit, or an error if kind is unrecognised.
func NewLearner(kind string, hp Hyperparameters) (Learner, error) {
	switch kind {
	case KindGBTShallow:
		return &GBT{hp: hp, variant: KindGBTShallow}, nil
	case KindGBTDeep:
		return &GBT{hp: hp, variant: KindGBTDeep}, nil
	case KindBagging:
		return &Bagging{hp: hp}, nil
	default:
		return nil, fmt.Errorf("model: unknown learner kind %q", kind)
	}
}

func toSamples(x [][]float64, y, weights []float64) []sample {
	rows := make([]sample, len(x))
	for i := range x {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		rows[i] = sample{x: x[i], y: y[i], w: w}
	}
	return rows
}
