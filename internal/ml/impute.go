package ml

import (
	"math"
	"sort"
)

// Imputer fills missing (NaN) feature values with the per-feature median
// observed at fit time. Features with no observed values impute to zero.
type Imputer struct {
	Medians []float64 `json:"medians"`
}

// FitImputer computes per-feature medians over the non-NaN entries of X.
func FitImputer(X [][]float64) *Imputer {
	if len(X) == 0 {
		return &Imputer{}
	}
	nFeatures := len(X[0])
	medians := make([]float64, nFeatures)
	for j := 0; j < nFeatures; j++ {
		var values []float64
		for i := range X {
			if !math.IsNaN(X[i][j]) {
				values = append(values, X[i][j])
			}
		}
		medians[j] = medianOf(values)
	}
	return &Imputer{Medians: medians}
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Transform returns a copy of X with NaNs replaced by the fitted medians.
func (im *Imputer) Transform(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = im.TransformRow(row)
	}
	return out
}

// TransformRow imputes a single feature vector.
func (im *Imputer) TransformRow(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		if math.IsNaN(v) && j < len(im.Medians) {
			out[j] = im.Medians[j]
		} else {
			out[j] = v
		}
	}
	return out
}
