package ml

import (
	"math"
	"testing"
)

func coverage(t *testing.T, n int, indexSets ...[]int) {
	t.Helper()
	seen := make(map[int]int)
	for _, set := range indexSets {
		for _, i := range set {
			seen[i]++
		}
	}
	for i := 0; i < n; i++ {
		if seen[i] != 1 {
			t.Fatalf("index %d appears %d times", i, seen[i])
		}
	}
}

func TestRandomSplit(t *testing.T) {
	train, test := randomSplit(10, 0.2, 42)
	if len(test) != 2 || len(train) != 8 {
		t.Fatalf("expected 8/2 split, got %d/%d", len(train), len(test))
	}
	coverage(t, 10, train, test)
}

func TestRandomSplitAlwaysHoldsSomethingOut(t *testing.T) {
	train, test := randomSplit(3, 0.01, 1)
	if len(test) != 1 || len(train) != 2 {
		t.Errorf("expected at least one test row, got %d/%d", len(train), len(test))
	}
}

func TestGroupShuffleSplitKeepsGroupsApart(t *testing.T) {
	groups := []string{"a", "a", "a", "b", "b", "c", "c", "c", "c", "d"}
	train, test := groupShuffleSplit(groups, 0.25, 42)
	coverage(t, len(groups), train, test)

	trainGroups := make(map[string]bool)
	for _, i := range train {
		trainGroups[groups[i]] = true
	}
	for _, i := range test {
		if trainGroups[groups[i]] {
			t.Fatalf("group %q appears on both sides", groups[i])
		}
	}
	if len(test) == 0 || len(train) == 0 {
		t.Fatalf("degenerate split: %d/%d", len(train), len(test))
	}
}

func TestKFoldsPartition(t *testing.T) {
	folds := kFolds(10, 3)
	if len(folds) != 3 {
		t.Fatalf("expected 3 folds, got %d", len(folds))
	}
	testSets := make([][]int, len(folds))
	for f, fd := range folds {
		testSets[f] = fd.test
		if len(fd.train)+len(fd.test) != 10 {
			t.Errorf("fold %d does not cover all rows", f)
		}
	}
	coverage(t, 10, testSets...)
}

func TestLeaveOneGroupOut(t *testing.T) {
	groups := []string{"a", "b", "a", "c", "b"}
	folds := leaveOneGroupOut(groups)
	if len(folds) != 3 {
		t.Fatalf("expected one fold per group, got %d", len(folds))
	}
	for f, fd := range folds {
		name := groups[fd.test[0]]
		for _, i := range fd.test {
			if groups[i] != name {
				t.Errorf("fold %d mixes groups in its test set", f)
			}
		}
		for _, i := range fd.train {
			if groups[i] == name {
				t.Errorf("fold %d leaks group %q into training", f, name)
			}
		}
	}
}

func TestGroupKFoldsIntegrity(t *testing.T) {
	groups := []string{"a", "a", "a", "b", "b", "c", "d", "d", "e", "f"}
	folds := groupKFolds(groups, 3)
	if len(folds) != 3 {
		t.Fatalf("expected 3 folds, got %d", len(folds))
	}

	foldOf := make(map[string]int)
	for f, fd := range folds {
		for _, i := range fd.test {
			g := groups[i]
			if prev, ok := foldOf[g]; ok && prev != f {
				t.Fatalf("group %q split across folds %d and %d", g, prev, f)
			}
			foldOf[g] = f
		}
	}
}

func TestR2Score(t *testing.T) {
	y := []float64{1, 2, 3, 4}
	if got := r2Score(y, y); got != 1 {
		t.Errorf("perfect prediction: expected 1, got %v", got)
	}
	meanPred := []float64{2.5, 2.5, 2.5, 2.5}
	if got := r2Score(y, meanPred); got != 0 {
		t.Errorf("mean prediction: expected 0, got %v", got)
	}
	if got := r2Score([]float64{3, 3}, []float64{3, 3}); got != 1 {
		t.Errorf("constant target, perfect prediction: expected 1, got %v", got)
	}
	if got := r2Score([]float64{3, 3}, []float64{2, 4}); !math.IsNaN(got) {
		t.Errorf("constant target, wrong prediction: expected NaN, got %v", got)
	}
}

func TestErrorScores(t *testing.T) {
	yTrue := []float64{0, 10}
	yPred := []float64{2, 6}
	if got := maeScore(yTrue, yPred); got != 3 {
		t.Errorf("mae: expected 3, got %v", got)
	}
	want := math.Sqrt(10)
	if got := rmseScore(yTrue, yPred); math.Abs(got-want) > 1e-12 {
		t.Errorf("rmse: expected %v, got %v", want, got)
	}
}
