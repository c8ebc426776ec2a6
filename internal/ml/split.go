package ml

import (
	"math"
	"math/rand"
	"sort"
)

// fold is one train/test partition of row indices.
type fold struct {
	train []int
	test  []int
}

// randomSplit shuffles indices with the given seed and holds out
// ceil(testSize*n) rows.
func randomSplit(n int, testSize float64, seed int64) (train, test []int) {
	indices := rand.New(rand.NewSource(seed)).Perm(n)
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest < 1 {
		nTest = 1
	}
	if nTest >= n {
		nTest = n - 1
	}
	return indices[nTest:], indices[:nTest]
}

// groupShuffleSplit holds out whole groups so no group appears on both
// sides. The held-out share is ceil(testSize * distinct groups).
func groupShuffleSplit(groups []string, testSize float64, seed int64) (train, test []int) {
	unique := distinctGroups(groups)
	order := rand.New(rand.NewSource(seed)).Perm(len(unique))

	nTest := int(math.Ceil(testSize * float64(len(unique))))
	if nTest < 1 {
		nTest = 1
	}
	if nTest >= len(unique) {
		nTest = len(unique) - 1
	}

	testGroups := make(map[string]bool, nTest)
	for _, idx := range order[:nTest] {
		testGroups[unique[idx]] = true
	}
	for i, g := range groups {
		if testGroups[g] {
			test = append(test, i)
		} else {
			train = append(train, i)
		}
	}
	return train, test
}

func distinctGroups(groups []string) []string {
	seen := make(map[string]bool)
	var unique []string
	for _, g := range groups {
		if !seen[g] {
			seen[g] = true
			unique = append(unique, g)
		}
	}
	sort.Strings(unique)
	return unique
}

// kFolds partitions n rows into k contiguous folds.
func kFolds(n, k int) []fold {
	if k > n {
		k = n
	}
	if k < 2 {
		k = 2
	}
	folds := make([]fold, 0, k)
	base := n / k
	rem := n % k
	start := 0
	for f := 0; f < k; f++ {
		size := base
		if f < rem {
			size++
		}
		var testIdx, trainIdx []int
		for i := 0; i < n; i++ {
			if i >= start && i < start+size {
				testIdx = append(testIdx, i)
			} else {
				trainIdx = append(trainIdx, i)
			}
		}
		folds = append(folds, fold{train: trainIdx, test: testIdx})
		start += size
	}
	return folds
}

// groupKFolds assigns whole groups to k folds, largest groups first onto the
// currently smallest fold, so fold sizes stay balanced.
func groupKFolds(groups []string, k int) []fold {
	counts := make(map[string]int)
	for _, g := range groups {
		counts[g]++
	}
	unique := distinctGroups(groups)
	if k > len(unique) {
		k = len(unique)
	}
	sort.SliceStable(unique, func(i, j int) bool {
		return counts[unique[i]] > counts[unique[j]]
	})

	foldOf := make(map[string]int, len(unique))
	foldSize := make([]int, k)
	for _, g := range unique {
		smallest := 0
		for f := 1; f < k; f++ {
			if foldSize[f] < foldSize[smallest] {
				smallest = f
			}
		}
		foldOf[g] = smallest
		foldSize[smallest] += counts[g]
	}

	folds := make([]fold, k)
	for i, g := range groups {
		f := foldOf[g]
		for other := range folds {
			if other == f {
				folds[other].test = append(folds[other].test, i)
			} else {
				folds[other].train = append(folds[other].train, i)
			}
		}
	}
	return folds
}

// leaveOneGroupOut makes one fold per distinct group.
func leaveOneGroupOut(groups []string) []fold {
	unique := distinctGroups(groups)
	folds := make([]fold, len(unique))
	index := make(map[string]int, len(unique))
	for f, g := range unique {
		index[g] = f
	}
	for i, g := range groups {
		f := index[g]
		for other := range folds {
			if other == f {
				folds[other].test = append(folds[other].test, i)
			} else {
				folds[other].train = append(folds[other].train, i)
			}
		}
	}
	return folds
}

// Evaluation metrics.

func r2Score(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return math.NaN()
	}
	var mean float64
	for _, v := range yTrue {
		mean += v
	}
	mean /= float64(len(yTrue))

	var ssRes, ssTot float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		ssRes += d * d
		t := yTrue[i] - mean
		ssTot += t * t
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return math.NaN()
	}
	return 1 - ssRes/ssTot
}

func maeScore(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return math.NaN()
	}
	var sum float64
	for i := range yTrue {
		sum += math.Abs(yTrue[i] - yPred[i])
	}
	return sum / float64(len(yTrue))
}

func rmseScore(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return math.NaN()
	}
	var sum float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(yTrue)))
}

// regressor is what every trained model exposes for evaluation.
type regressor interface {
	Predict(x []float64) float64
}

// crossValR2 refits a fresh model per fold and scores R2 on its test rows.
func crossValR2(fit func(X [][]float64, y []float64) regressor, X [][]float64, y []float64, folds []fold) []float64 {
	scores := make([]float64, 0, len(folds))
	for _, f := range folds {
		trainX := subsetX(X, f.train)
		trainY := subsetY(y, f.train)
		model := fit(trainX, trainY)

		yTrue := subsetY(y, f.test)
		yPred := make([]float64, len(f.test))
		for i, idx := range f.test {
			yPred[i] = model.Predict(X[idx])
		}
		scores = append(scores, r2Score(yTrue, yPred))
	}
	return scores
}

func subsetX(X [][]float64, indices []int) [][]float64 {
	out := make([][]float64, len(indices))
	for i, idx := range indices {
		out[i] = X[idx]
	}
	return out
}

func subsetY(y []float64, indices []int) []float64 {
	out := make([]float64, len(indices))
	for i, idx := range indices {
		out[i] = y[idx]
	}
	return out
}
