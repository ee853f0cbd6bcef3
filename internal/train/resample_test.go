package train

import "testing"

func imbalancedExamples(nMajority, nMinority int) []Example {
	out := make([]Example, 0, nMajority+nMinority)
	for i := 0; i < nMajority; i++ {
		out = append(out, Example{X: []float64{float64(i)}, Y: 0, Weight: 1})
	}
	for i := 0; i < nMinority; i++ {
		out = append(out, Example{X: []float64{float64(i)}, Y: 1, Weight: 1})
	}
	return out
}

func countClasses(examples []Example) (majority, minority int) {
	for _, e := range examples {
		if e.Y >= 0.5 {
			minority++
		} else {
			majority++
		}
	}
	return
}

func TestResampleBringsRatioIntoRange(t *testing.T) {
	examples := imbalancedExamples(950, 50) // ratio 0.0526, far below floor
	rng := NewRNG(1)

	resampled := Resample(examples, ResampleConfig{MinRatio: 0.3, MaxRatio: 0.6}, rng)

	majority, minority := countClasses(resampled)
	ratio := float64(minority) / float64(majority)
	if ratio < 0.25 || ratio > 0.7 {
		t.Fatalf("expected resampled ratio roughly in [0.3,0.6], got %v (maj=%d min=%d)", ratio, majority, minority)
	}
}

func TestResampleNoOpWhenAlreadyBalanced(t *testing.T) {
	examples := imbalancedExamples(100, 45) // ratio 0.45, within range
	rng := NewRNG(1)

	resampled := Resample(examples, ResampleConfig{MinRatio: 0.3, MaxRatio: 0.6}, rng)

	if len(resampled) != len(examples) {
		t.Fatalf("expected no-op for already-balanced input, got %d vs %d", len(resampled), len(examples))
	}
}

func TestApplyTimeDecayWeightsRecentHigher(t *testing.T) {
	examples := []Example{{Weight: 0}, {Weight: 0}}
	daysAgo := []float64{0, 10}

	ApplyTimeDecay(examples, daysAgo, 0.95)

	if examples[0].Weight <= examples[1].Weight {
		t.Fatalf("expected more recent example to carry higher weight: %v vs %v", examples[0].Weight, examples[1].Weight)
	}
	if examples[0].Weight != 1 {
		t.Fatalf("expected zero-days-ago weight of 1, got %v", examples[0].Weight)
	}
}
