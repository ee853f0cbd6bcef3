package train

import (
	"fmt"

	"github.com/surveillance/presurge/internal/model"
)

// trainResult bundles everything Trainer.Run needs to assemble and publish
// an artifact.
type trainResult struct {
	learners      [3]model.Learner
	kinds         [3]string
	weights       [3]float64
	threshold     float64
	trainAUC      float64
	validationAUC float64
	classRatio    float64
}

// trainOnExamples runs the full in-memory pipeline (split, resample,
// per-learner hyperparameter search, ensemble weight search, threshold
// optimisation) against a flat example set. Kept free of any Mongo/IO
// dependency so it can be exercised directly by tests with synthetic data.
func trainOnExamples(examples []Example, cfg Config, rng *RNG) (*trainResult, error) {
	train, val := timeOrderedSplit(examples, 0.8)
	if len(train) < 20 || len(val) < 5 {
		return nil, fmt.Errorf("train: not enough examples after split (train=%d val=%d)", len(train), len(val))
	}

	classRatio := positiveRatio(examples)

	resampled := Resample(train, ResampleConfig{MinRatio: cfg.ResampleMinRatio, MaxRatio: cfg.ResampleMaxRatio}, rng)

	kinds := [3]string{model.KindGBTShallow, model.KindGBTDeep, model.KindBagging}
	var learners [3]model.Learner
	var valScores [3][]float64

	valLabels := labelsOf(val)
	valX := xsOf(val)

	for i, kind := range kinds {
		best, bestAUC, err := searchLearner(kind, resampled, valX, valLabels, cfg.TrainingTrials, rng)
		if err != nil {
			return nil, fmt.Errorf("train: search %s: %w", kind, err)
		}
		learners[i] = best
		valScores[i] = scoreAll(best, valX)
		_ = bestAUC
	}

	weights := searchEnsembleWeights(valScores, valLabels)

	ensembleScores := make([]float64, len(val))
	for i := range val {
		var s float64
		for l := range learners {
			s += weights[l] * valScores[l][i]
		}
		ensembleScores[i] = s
	}
	validationAUC := AUC(valLabels, ensembleScores)

	trainScores := make([]float64, len(resampled))
	trainLabels := labelsOf(resampled)
	for i, ex := range resampled {
		var s float64
		for l := range learners {
			s += weights[l] * learners[l].PredictProba(ex.X)
		}
		trainScores[i] = s
	}
	trainAUC := AUC(trainLabels, trainScores)

	threshold := pickThreshold(valLabels, ensembleScores, cfg)

	return &trainResult{
		learners:      learners,
		kinds:         kinds,
		weights:       weights,
		threshold:     threshold,
		trainAUC:      trainAUC,
		validationAUC: validationAUC,
		classRatio:    classRatio,
	}, nil
}

// timeOrderedSplit splits examples (assumed already time-ordered) into a
// leading training fold and a trailing validation fold, never shuffling
// across the boundary.
func timeOrderedSplit(examples []Example, trainFrac float64) (train, val []Example) {
	n := int(float64(len(examples)) * trainFrac)
	if n < 1 {
		n = 1
	}
	if n > len(examples) {
		n = len(examples)
	}
	return examples[:n], examples[n:]
}

func positiveRatio(examples []Example) float64 {
	if len(examples) == 0 {
		return 0
	}
	var pos float64
	for _, e := range examples {
		if e.Y >= 0.5 {
			pos++
		}
	}
	return pos / float64(len(examples))
}

func labelsOf(examples []Example) []float64 {
	out := make([]float64, len(examples))
	for i, e := range examples {
		out[i] = e.Y
	}
	return out
}

func xsOf(examples []Example) [][]float64 {
	out := make([][]float64, len(examples))
	for i, e := range examples {
		out[i] = e.X
	}
	return out
}

func scoreAll(l model.Learner, xs [][]float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = l.PredictProba(x)
	}
	return out
}

func sampleTrial(kind string, rng *RNG) model.Hyperparameters {
	switch kind {
	case model.KindBagging:
		return model.Hyperparameters{
			NumTrees:      rng.IntRange(20, 150),
			MaxDepth:      rng.IntRange(2, 6),
			MinLeaf:       rng.IntRange(2, 10),
			SubsampleFrac: rng.UniformRange(0.5, 1.0),
		}
	default: // both GBT variants share a hyperparameter space; "shallow" vs
		// "deep" is realised by the candidate pool's depth range, not a
		// structural difference in the learner itself.
		maxDepth := rng.IntRange(2, 4)
		if kind == model.KindGBTDeep {
			maxDepth = rng.IntRange(4, 8)
		}
		return model.Hyperparameters{
			NumTrees:     rng.IntRange(20, 200),
			MaxDepth:     maxDepth,
			MinLeaf:      rng.IntRange(2, 10),
			LearningRate: rng.UniformRange(0.01, 0.3),
		}
	}
}

// searchLearner runs a bounded randomised hyperparameter search for one
// learner kind, fitting each trial on the resampled training fold and
// scoring by validation AUC, returning the best-performing fitted learner.
func searchLearner(kind string, train []Example, valX [][]float64, valLabels []float64, trials int, rng *RNG) (model.Learner, float64, error) {
	trainX := xsOf(train)
	trainY := labelsOf(train)
	trainW := make([]float64, len(train))
	for i, e := range train {
		trainW[i] = e.Weight
	}

	var best model.Learner
	bestAUC := -1.0

	for trial := 0; trial < trials; trial++ {
		hp := sampleTrial(kind, rng)
		learner, err := model.NewLearner(kind, hp)
		if err != nil {
			return nil, 0, err
		}
		if err := learner.Fit(trainX, trainY, trainW); err != nil {
			continue
		}
		scores := scoreAll(learner, valX)
		auc := AUC(valLabels, scores)
		if auc > bestAUC {
			bestAUC = auc
			best = learner
		}
	}
	if best == nil {
		return nil, 0, fmt.Errorf("no trial converged for %s", kind)
	}
	return best, bestAUC, nil
}

// searchEnsembleWeights grid-searches non-negative weight triples summing
// to 1 at 0.1 resolution, picking the triple maximising validation AUC.
func searchEnsembleWeights(valScores [3][]float64, valLabels []float64) [3]float64 {
	best := [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}
	bestAUC := -1.0

	const step = 1
	const resolution = 10 // 0.1 increments

	for a := 0; a <= resolution; a += step {
		for b := 0; a+b <= resolution; b += step {
			c := resolution - a - b
			w := [3]float64{float64(a) / resolution, float64(b) / resolution, float64(c) / resolution}

			combined := make([]float64, len(valLabels))
			for i := range valLabels {
				combined[i] = w[0]*valScores[0][i] + w[1]*valScores[1][i] + w[2]*valScores[2][i]
			}
			auc := AUC(valLabels, combined)
			if auc > bestAUC {
				bestAUC = auc
				best = w
			}
		}
	}
	return best
}

// pickThreshold chooses the decision threshold from the validation
// precision-recall curve per the configured strategy.
func pickThreshold(labels, scores []float64, cfg Config) float64 {
	candidates := candidateThresholdsFromScores(scores)
	if len(candidates) == 0 {
		return 0.5
	}

	switch cfg.ThresholdStrategy {
	case ThresholdPrecisionAtP:
		// Lowest threshold achieving precision >= target; candidates are
		// ascending, so the first qualifying (highest-recall) one wins.
		best := candidates[len(candidates)-1]
		found := false
		for _, th := range candidates {
			precision, _ := PrecisionRecallAt(labels, scores, th)
			if precision >= cfg.PrecisionTarget {
				best = th
				found = true
				break
			}
		}
		if !found {
			return candidates[len(candidates)-1]
		}
		return best

	default: // ThresholdF1Max
		best := 0.5
		bestF1 := -1.0
		for _, th := range candidates {
			precision, recall := PrecisionRecallAt(labels, scores, th)
			f1 := f1Score(precision, recall)
			if f1 > bestF1 {
				bestF1 = f1
				best = th
			}
		}
		return best
	}
}
