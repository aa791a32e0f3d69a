package metrology

import (
	"math"
	"testing"
)

func TestBinaryAUCRanking(t *testing.T) {
	t.Parallel()

	// Perfectly separated scores rank every positive above every negative.
	auc, ok := binaryAUC([]int{0, 0, 1, 1}, []float64{0.1, 0.2, 0.8, 0.9})
	if !ok {
		t.Fatalf("two-class labels reported as degenerate")
	}
	if auc != 1 {
		t.Errorf("separated scores AUC = %v, want 1", auc)
	}

	// Perfectly inverted scores are a genuine AUC of 0, not a degenerate
	// fold, and must stay in a macro average.
	auc, ok = binaryAUC([]int{1, 1, 0, 0}, []float64{0.1, 0.2, 0.8, 0.9})
	if !ok {
		t.Fatalf("inverted two-class labels reported as degenerate")
	}
	if auc != 0 {
		t.Errorf("inverted scores AUC = %v, want 0", auc)
	}

	if _, ok := binaryAUC([]int{1, 1, 1}, []float64{0.1, 0.5, 0.9}); ok {
		t.Errorf("one-class labels not reported as degenerate")
	}
}

func TestMacroOVRAUCKeepsZeroAUCClass(t *testing.T) {
	t.Parallel()

	// Class 0 is predicted perfectly, class 1 perfectly backwards. The
	// macro average over both is 0.5; dropping the zero-AUC class would
	// inflate it to 1.
	labels := []int{0, 0, 1, 1}
	probas := [][]float64{
		{0.9, 0.9},
		{0.8, 0.8},
		{0.1, 0.1},
		{0.2, 0.2},
	}
	got := macroOVRAUC(labels, probas, 2)
	if math.Abs(got-0.5) > 1e-12 {
		t.Errorf("macro AUC = %v, want 0.5", got)
	}
}
