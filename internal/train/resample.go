package train

import "math"

// Example is one labelled training row: a feature vector, its binary
// label, and a sample weight (populated by time-decay weighting before
// resampling, since resampling duplicates/drops rows by weight-agnostic
// count but the weights travel along with each copy).
type Example struct {
	X      []float64
	Y      float64
	Weight float64
}

// ResampleConfig bounds the combined over/under-sampling applied to the
// training fold.
type ResampleConfig struct {
	MinRatio float64 // floor on minority:majority ratio after resampling
	MaxRatio float64 // ceiling on minority:majority ratio after resampling
}

// Resample applies combined minority over-sampling and majority
// under-sampling to reach a minority:majority ratio within
// [MinRatio, MaxRatio], never touching the validation fold (callers must
// only pass the training split). Already-balanced input in range is
// returned unchanged.
func Resample(examples []Example, cfg ResampleConfig, rng *RNG) []Example {
	if len(examples) == 0 {
		return examples
	}

	var minority, majority []Example
	for _, e := range examples {
		if e.Y >= 0.5 {
			minority = append(minority, e)
		} else {
			majority = append(majority, e)
		}
	}
	if len(minority) == 0 || len(majority) == 0 {
		return examples
	}
	// Minority is whichever class is smaller; swap labels conceptually if
	// the "positive" class happens to be the larger one.
	if len(minority) > len(majority) {
		minority, majority = majority, minority
	}

	ratio := float64(len(minority)) / float64(len(majority))
	if ratio >= cfg.MinRatio && ratio <= cfg.MaxRatio {
		return examples
	}

	target := cfg.MinRatio
	if target <= 0 {
		target = 0.5
	}
	if target > cfg.MaxRatio && cfg.MaxRatio > 0 {
		target = cfg.MaxRatio
	}

	// Over-sample the minority (duplicate with replacement) up to target
	// ratio, then lightly under-sample the majority down to the same
	// target if it's still far above it.
	wantMinority := int(float64(len(majority)) * target)
	oversampled := make([]Example, 0, wantMinority)
	for len(oversampled) < wantMinority {
		oversampled = append(oversampled, minority[rng.Intn(len(minority))])
	}

	wantMajority := len(majority)
	if target > 0 {
		maxMajority := int(float64(len(oversampled)) / target)
		if maxMajority < wantMajority {
			wantMajority = maxMajority
		}
	}
	underMajority := make([]Example, 0, wantMajority)
	if wantMajority >= len(majority) {
		underMajority = majority
	} else {
		perm := rngPermutation(rng, len(majority))
		for i := 0; i < wantMajority; i++ {
			underMajority = append(underMajority, majority[perm[i]])
		}
	}

	out := make([]Example, 0, len(oversampled)+len(underMajority))
	out = append(out, oversampled...)
	out = append(out, underMajority...)
	return out
}

// rngPermutation returns a Fisher-Yates shuffled index permutation of
// [0, n) using rng, for unbiased sampling-without-replacement.
func rngPermutation(rng *RNG, n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// ApplyTimeDecay sets each example's Weight to decayPerDay^daysAgo,
// mutating in place. daysAgo must be non-negative per example, aligned by
// index with examples.
func ApplyTimeDecay(examples []Example, daysAgo []float64, decayPerDay float64) {
	if decayPerDay <= 0 {
		decayPerDay = 1
	}
	for i := range examples {
		d := 0.0
		if i < len(daysAgo) {
			d = daysAgo[i]
		}
		examples[i].Weight = math.Pow(decayPerDay, d)
	}
}
