package ml

// TreeNode is one node of a regression tree. Leaves have Left and Right nil.
type TreeNode struct {
	Feature   int       `json:"feature,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Value     float64   `json:"value"`
	Left      *TreeNode `json:"left,omitempty"`
	Right     *TreeNode `json:"right,omitempty"`
}

func (t *TreeNode) predict(x []float64) float64 {
	node := t
	for node.Left != nil && node.Right != nil {
		if x[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Value
}

// GradientBoosting is an ensemble of shallow regression trees fitted on
// residuals with squared-error loss.
type GradientBoosting struct {
	NEstimators  int         `json:"n_estimators"`
	MaxDepth     int         `json:"max_depth"`
	LearningRate float64     `json:"learning_rate"`
	InitValue    float64     `json:"init_value"`
	Trees        []*TreeNode `json:"trees"`

	// featureGain accumulates squared-error reduction per feature during
	// fitting; kept out of the artifact and exposed via Importances.
	featureGain []float64
}

const minSamplesSplit = 2

// FitGradientBoosting trains the ensemble. The initial prediction is the
// target mean; every tree fits the current residuals.
func FitGradientBoosting(X [][]float64, y []float64, nEstimators, maxDepth int, learningRate float64) *GradientBoosting {
	gb := &GradientBoosting{
		NEstimators:  nEstimators,
		MaxDepth:     maxDepth,
		LearningRate: learningRate,
	}
	n := len(X)
	if n == 0 {
		return gb
	}
	gb.featureGain = make([]float64, len(X[0]))

	var yMean float64
	for _, v := range y {
		yMean += v
	}
	yMean /= float64(n)
	gb.InitValue = yMean

	residuals := make([]float64, n)
	for i, v := range y {
		residuals[i] = v - yMean
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}

	for t := 0; t < nEstimators; t++ {
		tree := gb.buildTree(X, residuals, indices, maxDepth)
		gb.Trees = append(gb.Trees, tree)
		for i := range residuals {
			residuals[i] -= learningRate * tree.predict(X[i])
		}
	}
	return gb
}

func (gb *GradientBoosting) buildTree(X [][]float64, residuals []float64, indices []int, depth int) *TreeNode {
	node := &TreeNode{Value: meanAt(residuals, indices)}
	if depth <= 0 || len(indices) < minSamplesSplit {
		return node
	}

	feature, threshold, gain, ok := bestSplit(X, residuals, indices)
	if !ok {
		return node
	}
	gb.featureGain[feature] += gain

	var left, right []int
	for _, i := range indices {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	node.Feature = feature
	node.Threshold = threshold
	node.Left = gb.buildTree(X, residuals, left, depth-1)
	node.Right = gb.buildTree(X, residuals, right, depth-1)
	return node
}

func meanAt(values []float64, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	var sum float64
	for _, i := range indices {
		sum += values[i]
	}
	return sum / float64(len(indices))
}

// bestSplit scans every feature for the threshold with the largest
// squared-error reduction, evaluated between consecutive sorted values.
func bestSplit(X [][]float64, residuals []float64, indices []int) (feature int, threshold, gain float64, ok bool) {
	n := len(indices)
	if n < minSamplesSplit {
		return 0, 0, 0, false
	}
	nFeatures := len(X[indices[0]])

	var totalSum, totalSq float64
	for _, i := range indices {
		totalSum += residuals[i]
		totalSq += residuals[i] * residuals[i]
	}
	parentSSE := totalSq - totalSum*totalSum/float64(n)

	bestGain := 0.0

	pairs := make([]pair, n)
	for j := 0; j < nFeatures; j++ {
		for k, i := range indices {
			pairs[k] = pair{x: X[i][j], r: residuals[i]}
		}
		sortPairs(pairs)

		var leftSum, leftSq float64
		for k := 0; k < n-1; k++ {
			leftSum += pairs[k].r
			leftSq += pairs[k].r * pairs[k].r
			if pairs[k].x == pairs[k+1].x {
				continue
			}
			nl := float64(k + 1)
			nr := float64(n - k - 1)
			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/nl) + (rightSq - rightSum*rightSum/nr)
			if g := parentSSE - sse; g > bestGain {
				bestGain = g
				feature = j
				threshold = (pairs[k].x + pairs[k+1].x) / 2
				ok = true
			}
		}
	}
	return feature, threshold, bestGain, ok
}

type pair struct{ x, r float64 }

func sortPairs(pairs []pair) {
	// Insertion sort keeps allocations out of the hot path; node sample
	// counts shrink quickly with depth.
	for i := 1; i < len(pairs); i++ {
		p := pairs[i]
		j := i - 1
		for j >= 0 && pairs[j].x > p.x {
			pairs[j+1] = pairs[j]
			j--
		}
		pairs[j+1] = p
	}
}

// Predict evaluates the ensemble on one feature vector.
func (gb *GradientBoosting) Predict(x []float64) float64 {
	pred := gb.InitValue
	for _, tree := range gb.Trees {
		pred += gb.LearningRate * tree.predict(x)
	}
	return pred
}

// Importances returns the normalized split-gain importance per feature.
func (gb *GradientBoosting) Importances() []float64 {
	out := make([]float64, len(gb.featureGain))
	var total float64
	for _, g := range gb.featureGain {
		total += g
	}
	if total == 0 {
		return out
	}
	for j, g := range gb.featureGain {
		out[j] = g / total
	}
	return out
}
