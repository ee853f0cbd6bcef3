package model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/rand"
)

// Bagging is a bootstrap-aggregated ensemble of independent regression
// trees, each trained on a bootstrap resample of the training fold and
// fit directly to the {0,1} labels. The ensemble's predicted probability
// is the mean of its members' leaf values, clamped to a valid
// probability. This is the bagged-tree sibling to the two boosted
// variants in the ensemble.
type Bagging struct {
	hp    Hyperparameters
	trees []*regressionTree
}

type gobBaggingState struct {
	HP    Hyperparameters
	Trees []gobTree
}

func (b *Bagging) Kind() string { return KindBagging }

// Fit grows NumTrees trees, each on an independent weighted bootstrap
// sample of rows.
func (b *Bagging) Fit(x [][]float64, y []float64, weights []float64) error {
	if len(x) == 0 {
		return fmt.Errorf("model: Bagging.Fit called with no training rows")
	}
	rows := toSamples(x, y, weights)
	n := len(rows)

	subsample := b.hp.SubsampleFrac
	if subsample <= 0 || subsample > 1 {
		subsample = 1
	}
	sampleSize := int(float64(n) * subsample)
	if sampleSize < 1 {
		sampleSize = 1
	}

	b.trees = make([]*regressionTree, 0, b.hp.NumTrees)
	for round := 0; round < b.hp.NumTrees; round++ {
		bootRows := make([]sample, sampleSize)
		targets := make([]float64, sampleSize)
		for i := 0; i < sampleSize; i++ {
			src := rows[rand.Intn(n)]
			bootRows[i] = src
			targets[i] = src.y
		}
		// buildNode indexes into the rows slice passed to fit, so the
		// bootstrap sample must be its own contiguous slice.
		tree := newRegressionTree(b.hp.MaxDepth, b.hp.MinLeaf)
		tree.fit(bootRows, targets)
		b.trees = append(b.trees, tree)
	}
	return nil
}

// PredictProba averages every member tree's leaf value for x.
func (b *Bagging) PredictProba(x []float64) float64 {
	if len(b.trees) == 0 {
		return 0.5
	}
	var sum float64
	for _, t := range b.trees {
		sum += t.predict(x)
	}
	return clampProba(sum / float64(len(b.trees)))
}

func (b *Bagging) MarshalState() ([]byte, error) {
	state := gobBaggingState{HP: b.hp, Trees: make([]gobTree, len(b.trees))}
	for i, t := range b.trees {
		state.Trees[i] = flattenTree(t)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, fmt.Errorf("model: encode Bagging state: %w", err)
	}
	return buf.Bytes(), nil
}

func (b *Bagging) UnmarshalState(data []byte) error {
	var state gobBaggingState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return fmt.Errorf("model: decode Bagging state: %w", err)
	}
	b.hp = state.HP
	b.trees = make([]*regressionTree, len(state.Trees))
	for i, gt := range state.Trees {
		b.trees[i] = unflattenTree(gt)
	}
	return nil
}
