// Package model implements the three hand-rolled base learners behind the
// ensemble artifact (two differently-configured gradient-boosted tree
// variants plus a bagged-tree ensemble) and the immutable artifact bundle
// that wraps them for atomic hand-off to the Inference Engine. No
// off-the-shelf ML library covers this; the learners are built from
// scratch in the same way the rest of this codebase builds its
// quantitative core.
package model

import "math"

// sample is one training row: a feature vector and its binary label.
type sample struct {
	x []float64
	y float64 // 0 or 1
	w float64 // sample weight (time-decay, resampling)
}

// treeNode is a node in a binary regression tree: either a leaf carrying a
// predicted value, or an internal split on (featureIndex, threshold).
type treeNode struct {
	isLeaf    bool
	value     float64
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
}

// regressionTree is a CART-style regression tree fit by greedy variance
// reduction, the building block both the boosting and bagging learners
// share.
type regressionTree struct {
	root     *treeNode
	maxDepth int
	minLeaf  int
}

func newRegressionTree(maxDepth, minLeaf int) *regressionTree {
	return &regressionTree{maxDepth: maxDepth, minLeaf: minLeaf}
}

// fit grows the tree greedily to minimise weighted squared error against
// targets (residuals for boosting, raw labels for bagging).
func (t *regressionTree) fit(rows []sample, targets []float64) {
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	t.root = t.buildNode(rows, targets, idx, 0)
}

func (t *regressionTree) buildNode(rows []sample, targets []float64, idx []int, depth int) *treeNode {
	leafValue := weightedMean(rows, targets, idx)

	if depth >= t.maxDepth || len(idx) < 2*t.minLeaf {
		return &treeNode{isLeaf: true, value: leafValue}
	}

	bestFeature, bestThreshold, bestGain := -1, 0.0, 0.0
	nFeatures := len(rows[idx[0]].x)

	baseImpurity := weightedVariance(rows, targets, idx, leafValue)

	for f := 0; f < nFeatures; f++ {
		thresholds := candidateThresholds(rows, idx, f)
		for _, thr := range thresholds {
			var leftIdx, rightIdx []int
			for _, i := range idx {
				if rows[i].x[f] <= thr {
					leftIdx = append(leftIdx, i)
				} else {
					rightIdx = append(rightIdx, i)
				}
			}
			if len(leftIdx) < t.minLeaf || len(rightIdx) < t.minLeaf {
				continue
			}
			leftMean := weightedMean(rows, targets, leftIdx)
			rightMean := weightedMean(rows, targets, rightIdx)
			leftVar := weightedVariance(rows, targets, leftIdx, leftMean)
			rightVar := weightedVariance(rows, targets, rightIdx, rightMean)

			leftW := sumWeights(rows, leftIdx)
			rightW := sumWeights(rows, rightIdx)
			totalW := leftW + rightW
			if totalW == 0 {
				continue
			}
			weightedChildImpurity := (leftW*leftVar + rightW*rightVar) / totalW
			gain := baseImpurity - weightedChildImpurity
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = thr
			}
		}
	}

	if bestFeature < 0 || bestGain <= 1e-12 {
		return &treeNode{isLeaf: true, value: leafValue}
	}

	var leftIdx, rightIdx []int
	for _, i := range idx {
		if rows[i].x[bestFeature] <= bestThreshold {
			leftIdx = append(leftIdx, i)
		} else {
			rightIdx = append(rightIdx, i)
		}
	}

	return &treeNode{
		isLeaf:    false,
		feature:   bestFeature,
		threshold: bestThreshold,
		left:      t.buildNode(rows, targets, leftIdx, depth+1),
		right:     t.buildNode(rows, targets, rightIdx, depth+1),
	}
}

func (t *regressionTree) predict(x []float64) float64 {
	n := t.root
	for n != nil && !n.isLeaf {
		if x[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	if n == nil {
		return 0
	}
	return n.value
}

func weightedMean(rows []sample, targets []float64, idx []int) float64 {
	var sum, wsum float64
	for _, i := range idx {
		w := rows[i].w
		if w == 0 {
			w = 1
		}
		sum += w * targets[i]
		wsum += w
	}
	if wsum == 0 {
		return 0
	}
	return sum / wsum
}

func weightedVariance(rows []sample, targets []float64, idx []int, mean float64) float64 {
	var sum, wsum float64
	for _, i := range idx {
		w := rows[i].w
		if w == 0 {
			w = 1
		}
		d := targets[i] - mean
		sum += w * d * d
		wsum += w
	}
	if wsum == 0 {
		return 0
	}
	return sum / wsum
}

func sumWeights(rows []sample, idx []int) float64 {
	var sum float64
	for _, i := range idx {
		w := rows[i].w
		if w == 0 {
			w = 1
		}
		sum += w
	}
	return sum
}

// candidateThresholds picks split candidates for feature f as the
// midpoints between consecutive distinct sorted values, capped at a fixed
// count of quantiles for tractability on large folds.
func candidateThresholds(rows []sample, idx []int, f int) []float64 {
	const maxCandidates = 32

	values := make([]float64, len(idx))
	for i, rowIdx := range idx {
		values[i] = rows[rowIdx].x[f]
	}
	sortFloats(values)

	unique := values[:0:0]
	for i, v := range values {
		if i == 0 || v != values[i-1] {
			unique = append(unique, v)
		}
	}
	if len(unique) < 2 {
		return nil
	}

	step := 1
	if len(unique) > maxCandidates {
		step = len(unique) / maxCandidates
	}

	var out []float64
	for i := 0; i+1 < len(unique); i += step {
		out = append(out, (unique[i]+unique[i+1])/2)
	}
	return out
}

func sortFloats(xs []float64) {
	// insertion sort: candidateThresholds sorts one feature's values at one
	// split node, which at the root node is every training row.
	for i := 1; i < len(xs); i++ {
		v := xs[i]
		j := i - 1
		for j >= 0 && xs[j] > v {
			xs[j+1] = xs[j]
			j--
		}
		xs[j+1] = v
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clampProba(p float64) float64 {
	const eps = 1e-9
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}
