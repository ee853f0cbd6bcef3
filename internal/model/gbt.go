package model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
)

// Learner kind identifiers, stamped into the artifact manifest.
const (
	KindGBTShallow = "gbt_shallow" // shallow trees (depth 2-4 in the trainer's search)
	KindGBTDeep    = "gbt_deep"    // deeper trees (depth 4-8 in the trainer's search)
	KindBagging    = "bagging"
)

// GBT is a gradient-boosted tree ensemble for binary classification,
// fit by gradient boosting on the logistic loss: each tree is fit to the
// negative gradient (residual = y - p) of the current ensemble's
// predictions, and added with a shrinkage learning rate. "Shallow" and
// "deep" variants are the same algorithm at two different points in the
// bias/variance tradeoff, standing in for two differing GBT
// implementations in the ensemble.
type GBT struct {
	hp      Hyperparameters
	variant string

	trees     []*regressionTree
	initScore float64
}

// gobGBTState is the serialisable shape of a fitted GBT; exported fields
// only so gob can see them, kept private to the package via the lowercase
// type name.
type gobGBTState struct {
	Variant   string
	InitScore float64
	HP        Hyperparameters
	Trees     []gobTree
}

type gobTree struct {
	Nodes []gobNode
}

type gobNode struct {
	IsLeaf    bool
	Value     float64
	Feature   int
	Threshold float64
	Left      int // index into Nodes, -1 if none
	Right     int
}

func (g *GBT) Kind() string { return g.variant }

// Fit trains NumTrees boosting rounds at the configured depth/shrinkage.
func (g *GBT) Fit(x [][]float64, y []float64, weights []float64) error {
	if len(x) == 0 {
		return fmt.Errorf("model: GBT.Fit called with no training rows")
	}
	rows := toSamples(x, y, weights)

	var posSum, wsum float64
	for _, r := range rows {
		posSum += r.w * r.y
		wsum += r.w
	}
	basePositiveRate := clampProba(posSum / wsum)
	g.initScore = logit(basePositiveRate)

	scores := make([]float64, len(rows))
	for i := range scores {
		scores[i] = g.initScore
	}

	g.trees = make([]*regressionTree, 0, g.hp.NumTrees)
	residuals := make([]float64, len(rows))

	for round := 0; round < g.hp.NumTrees; round++ {
		for i, r := range rows {
			p := clampProba(sigmoid(scores[i]))
			residuals[i] = r.y - p
		}

		tree := newRegressionTree(g.hp.MaxDepth, g.hp.MinLeaf)
		tree.fit(rows, residuals)
		g.trees = append(g.trees, tree)

		for i, r := range rows {
			scores[i] += g.hp.LearningRate * tree.predict(r.x)
		}
	}
	return nil
}

// PredictProba returns the ensemble's sigmoid-transformed score for x.
func (g *GBT) PredictProba(x []float64) float64 {
	score := g.initScore
	for _, tree := range g.trees {
		score += g.hp.LearningRate * tree.predict(x)
	}
	return clampProba(sigmoid(score))
}

// MarshalState gob-encodes the fitted trees and init score.
func (g *GBT) MarshalState() ([]byte, error) {
	state := gobGBTState{
		Variant:   g.variant,
		InitScore: g.initScore,
		HP:        g.hp,
		Trees:     make([]gobTree, len(g.trees)),
	}
	for i, t := range g.trees {
		state.Trees[i] = flattenTree(t)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, fmt.Errorf("model: encode GBT state: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalState restores a fitted GBT from MarshalState's output.
func (g *GBT) UnmarshalState(data []byte) error {
	var state gobGBTState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return fmt.Errorf("model: decode GBT state: %w", err)
	}
	g.variant = state.Variant
	g.initScore = state.InitScore
	g.hp = state.HP
	g.trees = make([]*regressionTree, len(state.Trees))
	for i, gt := range state.Trees {
		g.trees[i] = unflattenTree(gt)
	}
	return nil
}

// flattenTree serialises a treeNode structure into an index-addressed
// slice, since gob can't encode the tree's internal pointer cycles
// directly in a way that round-trips cleanly across versions.
func flattenTree(t *regressionTree) gobTree {
	var nodes []gobNode
	var walk func(n *treeNode) int
	walk = func(n *treeNode) int {
		if n == nil {
			return -1
		}
		idx := len(nodes)
		nodes = append(nodes, gobNode{}) // reserve slot
		gn := gobNode{IsLeaf: n.isLeaf, Value: n.value, Feature: n.feature, Threshold: n.threshold, Left: -1, Right: -1}
		if !n.isLeaf {
			gn.Left = walk(n.left)
			gn.Right = walk(n.right)
		}
		nodes[idx] = gn
		return idx
	}
	walk(t.root)
	return gobTree{Nodes: nodes}
}

func unflattenTree(gt gobTree) *regressionTree {
	var build func(idx int) *treeNode
	build = func(idx int) *treeNode {
		if idx < 0 || idx >= len(gt.Nodes) {
			return nil
		}
		gn := gt.Nodes[idx]
		n := &treeNode{isLeaf: gn.IsLeaf, value: gn.Value, feature: gn.Feature, threshold: gn.Threshold}
		if !gn.IsLeaf {
			n.left = build(gn.Left)
			n.right = build(gn.Right)
		}
		return n
	}
	t := &regressionTree{}
	if len(gt.Nodes) > 0 {
		t.root = build(0)
	}
	return t
}

func logit(p float64) float64 {
	p = clampProba(p)
	return math.Log(p / (1 - p))
}
