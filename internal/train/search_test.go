package train

import (
	"math/rand"
	"testing"
)

// syntheticExamples builds a linearly separable, mildly imbalanced,
// time-ordered example set: label = 1 iff x[0]+x[1] > threshold.
func syntheticExamples(n int, positiveFrac float64) []Example {
	r := rand.New(rand.NewSource(3))
	out := make([]Example, n)
	for i := 0; i < n; i++ {
		a := r.Float64()*2 - 1
		b := r.Float64()*2 - 1
		y := 0.0
		if a+b > (1 - 2*positiveFrac) {
			y = 1.0
		}
		out[i] = Example{X: []float64{a, b}, Y: y, Weight: 1}
	}
	return out
}

func TestTrainOnExamplesProducesUsableArtifactComponents(t *testing.T) {
	examples := syntheticExamples(400, 0.3)
	cfg := Config{
		TrainingTrials:     5,
		ThresholdStrategy:  ThresholdF1Max,
		ResampleMinRatio:   0.3,
		ResampleMaxRatio:   0.6,
		SampleDecayPerDay:  0.95,
		DriftAUCDropLimit:  0.05,
		ValidationAUCFloor: 0.02,
	}
	rng := NewRNG(11)

	result, err := trainOnExamples(examples, cfg, rng)
	if err != nil {
		t.Fatalf("trainOnExamples: %v", err)
	}

	if result.validationAUC < 0.6 {
		t.Fatalf("expected validation AUC well above chance on separable data, got %v", result.validationAUC)
	}

	var sum float64
	for _, w := range result.weights {
		if w < 0 {
			t.Fatalf("negative ensemble weight: %v", result.weights)
		}
		sum += w
	}
	if sum < 0.99 || sum > 1.01 {
		t.Fatalf("ensemble weights should sum to ~1, got %v", sum)
	}

	if result.threshold <= 0 || result.threshold >= 1 {
		t.Fatalf("threshold out of (0,1) range: %v", result.threshold)
	}
}

func TestTrainOnExamplesErrorsOnTooFewExamples(t *testing.T) {
	examples := syntheticExamples(10, 0.3)
	cfg := Config{TrainingTrials: 3}
	rng := NewRNG(1)

	if _, err := trainOnExamples(examples, cfg, rng); err == nil {
		t.Fatal("expected error for too-small example set")
	}
}

func TestPickThresholdF1MaxWithinRange(t *testing.T) {
	labels := []float64{0, 0, 1, 1, 1, 0, 1}
	scores := []float64{0.1, 0.2, 0.9, 0.8, 0.6, 0.3, 0.7}

	th := pickThreshold(labels, scores, Config{ThresholdStrategy: ThresholdF1Max})
	if th < 0.1 || th > 0.9 {
		t.Fatalf("threshold %v outside observed score range", th)
	}
}

func TestPickThresholdPrecisionTarget(t *testing.T) {
	labels := []float64{0, 0, 1, 1, 1, 0, 1}
	scores := []float64{0.1, 0.2, 0.9, 0.8, 0.6, 0.3, 0.7}

	th := pickThreshold(labels, scores, Config{ThresholdStrategy: ThresholdPrecisionAtP, PrecisionTarget: 0.9})
	precision, _ := PrecisionRecallAt(labels, scores, th)
	if precision < 0.9-1e-9 {
		t.Fatalf("expected precision >= target at chosen threshold, got %v at th=%v", precision, th)
	}
}
