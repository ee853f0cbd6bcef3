package model

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func syntheticBinaryData(n int) ([][]float64, []float64) {
	r := rand.New(rand.NewSource(1))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		a := r.Float64()*2 - 1
		b := r.Float64()*2 - 1
		x[i] = []float64{a, b}
		if a+b > 0 {
			y[i] = 1
		}
	}
	return x, y
}

func TestGBTFitSeparatesClasses(t *testing.T) {
	x, y := syntheticBinaryData(200)
	gbt := &GBT{hp: Hyperparameters{NumTrees: 20, MaxDepth: 3, MinLeaf: 4, LearningRate: 0.3}, variant: KindGBTShallow}
	if err := gbt.Fit(x, y, nil); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	posProba := gbt.PredictProba([]float64{0.8, 0.8})
	negProba := gbt.PredictProba([]float64{-0.8, -0.8})
	if posProba <= negProba {
		t.Fatalf("expected separated classes: pos=%v neg=%v", posProba, negProba)
	}
}

func TestGBTMarshalRoundTrip(t *testing.T) {
	x, y := syntheticBinaryData(100)
	gbt := &GBT{hp: Hyperparameters{NumTrees: 10, MaxDepth: 2, MinLeaf: 2, LearningRate: 0.2}, variant: KindGBTDeep}
	gbt.Fit(x, y, nil)

	before := gbt.PredictProba([]float64{0.5, 0.5})

	data, err := gbt.MarshalState()
	if err != nil {
		t.Fatalf("MarshalState: %v", err)
	}

	restored := &GBT{}
	if err := restored.UnmarshalState(data); err != nil {
		t.Fatalf("UnmarshalState: %v", err)
	}
	after := restored.PredictProba([]float64{0.5, 0.5})

	if before != after {
		t.Fatalf("serialise round-trip changed prediction: %v vs %v", before, after)
	}
}

func TestBaggingFitAndPredict(t *testing.T) {
	x, y := syntheticBinaryData(200)
	b := &Bagging{hp: Hyperparameters{NumTrees: 15, MaxDepth: 4, MinLeaf: 4, SubsampleFrac: 0.8}}
	if err := b.Fit(x, y, nil); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	posProba := b.PredictProba([]float64{0.8, 0.8})
	negProba := b.PredictProba([]float64{-0.8, -0.8})
	if posProba <= negProba {
		t.Fatalf("expected separated classes: pos=%v neg=%v", posProba, negProba)
	}
}

func TestArtifactWeightValidation(t *testing.T) {
	a := &Artifact{Weights: [3]float64{0.5, 0.3, 0.2}}
	if err := a.ValidateWeights(); err != nil {
		t.Fatalf("expected valid weights, got %v", err)
	}

	bad := &Artifact{Weights: [3]float64{0.5, 0.3, 0.3}}
	if err := bad.ValidateWeights(); err == nil {
		t.Fatal("expected error for weights not summing to 1")
	}

	negative := &Artifact{Weights: [3]float64{-0.1, 0.6, 0.5}}
	if err := negative.ValidateWeights(); err == nil {
		t.Fatal("expected error for negative weight")
	}
}

func TestArtifactSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	x, y := syntheticBinaryData(150)

	gbtA, _ := NewLearner(KindGBTShallow, Hyperparameters{NumTrees: 8, MaxDepth: 2, MinLeaf: 2, LearningRate: 0.3})
	gbtB, _ := NewLearner(KindGBTDeep, Hyperparameters{NumTrees: 5, MaxDepth: 4, MinLeaf: 2, LearningRate: 0.2})
	bag, _ := NewLearner(KindBagging, Hyperparameters{NumTrees: 8, MaxDepth: 3, MinLeaf: 2, SubsampleFrac: 0.8})

	gbtA.Fit(x, y, nil)
	gbtB.Fit(x, y, nil)
	bag.Fit(x, y, nil)

	artifact := &Artifact{
		Version:       1,
		SchemaVersion: 1,
		Learners:      [3]Learner{gbtA, gbtB, bag},
		LearnerKinds:  [3]string{KindGBTShallow, KindGBTDeep, KindBagging},
		Weights:       [3]float64{0.4, 0.3, 0.3},
		Threshold:     0.6,
	}

	if err := Save(dir, artifact); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	probe := []float64{0.5, 0.5}
	before := artifact.Predict(probe)
	after := loaded.Predict(probe)
	if before != after {
		t.Fatalf("save/load changed ensemble prediction: %v vs %v", before, after)
	}

	if _, err := os.Stat(filepath.Join(dir, "current")); err != nil {
		t.Fatalf("expected current symlink to exist: %v", err)
	}
}

func TestNextVersionIncrementsFromExisting(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "model_v1"), 0o755)
	os.MkdirAll(filepath.Join(dir, "model_v3"), 0o755)

	if v := NextVersion(dir); v != 4 {
		t.Fatalf("NextVersion = %d, want 4", v)
	}
}
