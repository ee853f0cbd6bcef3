package train

import "testing"

func TestAUCPerfectSeparation(t *testing.T) {
	labels := []float64{0, 0, 0, 1, 1, 1}
	scores := []float64{0.1, 0.2, 0.3, 0.7, 0.8, 0.9}

	auc := AUC(labels, scores)
	if auc != 1.0 {
		t.Fatalf("expected AUC 1.0 for perfect separation, got %v", auc)
	}
}

func TestAUCRandomIsAroundHalf(t *testing.T) {
	labels := []float64{0, 1, 0, 1}
	scores := []float64{0.5, 0.5, 0.5, 0.5}

	auc := AUC(labels, scores)
	if auc != 0.5 {
		t.Fatalf("expected AUC 0.5 for ties/no signal, got %v", auc)
	}
}

func TestAUCDegenerateSingleClass(t *testing.T) {
	labels := []float64{1, 1, 1}
	scores := []float64{0.1, 0.5, 0.9}

	if auc := AUC(labels, scores); auc != 0.5 {
		t.Fatalf("expected AUC 0.5 when only one class present, got %v", auc)
	}
}

func TestPrecisionRecallAtThreshold(t *testing.T) {
	labels := []float64{1, 1, 0, 0}
	scores := []float64{0.9, 0.4, 0.8, 0.1}

	precision, recall := PrecisionRecallAt(labels, scores, 0.5)
	// Predicted positive: idx0 (0.9, label1=TP), idx2 (0.8, label0=FP)
	if precision != 0.5 {
		t.Fatalf("expected precision 0.5, got %v", precision)
	}
	if recall != 0.5 {
		t.Fatalf("expected recall 0.5, got %v", recall)
	}
}
