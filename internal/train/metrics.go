package train

import "sort"

// AUC computes the ROC area-under-curve for predicted probabilities
// against binary labels, via the rank-sum (Mann-Whitney U) formulation —
// exact and O(n log n), avoiding a swept-threshold approximation.
func AUC(labels []float64, scores []float64) float64 {
	type row struct {
		score float64
		label float64
	}
	rows := make([]row, len(labels))
	for i := range labels {
		rows[i] = row{score: scores[i], label: labels[i]}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].score < rows[j].score })

	var nPos, nNeg float64
	for _, r := range rows {
		if r.label >= 0.5 {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0.5
	}

	// Assign average ranks for tied scores.
	ranks := make([]float64, len(rows))
	i := 0
	for i < len(rows) {
		j := i
		for j < len(rows) && rows[j].score == rows[i].score {
			j++
		}
		avgRank := float64(i+j+1) / 2 // 1-indexed rank average over [i, j)
		for k := i; k < j; k++ {
			ranks[k] = avgRank
		}
		i = j
	}

	var rankSumPos float64
	for idx, r := range rows {
		if r.label >= 0.5 {
			rankSumPos += ranks[idx]
		}
	}

	u := rankSumPos - nPos*(nPos+1)/2
	return u / (nPos * nNeg)
}

// PrecisionRecallAt returns precision and recall at a given probability
// threshold.
func PrecisionRecallAt(labels, scores []float64, threshold float64) (precision, recall float64) {
	var tp, fp, fn float64
	for i, s := range scores {
		pred := s >= threshold
		actual := labels[i] >= 0.5
		switch {
		case pred && actual:
			tp++
		case pred && !actual:
			fp++
		case !pred && actual:
			fn++
		}
	}
	if tp+fp > 0 {
		precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		recall = tp / (tp + fn)
	}
	return
}

func f1Score(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// candidateThresholdsFromScores returns the distinct observed scores as
// threshold candidates, the standard way to sweep an exact
// precision-recall curve without guessing a grid resolution.
func candidateThresholdsFromScores(scores []float64) []float64 {
	seen := make(map[float64]bool, len(scores))
	out := make([]float64, 0, len(scores))
	for _, s := range scores {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Float64s(out)
	return out
}
