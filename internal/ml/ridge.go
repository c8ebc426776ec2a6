package ml

import "math"

// Ridge is an L2-regularized linear model fitted on standardized features
// via the closed-form normal equations.
type Ridge struct {
	Alpha     float64   `json:"alpha"`
	Means     []float64 `json:"means"`
	Stds      []float64 `json:"stds"`
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

// FitRidge trains a ridge regression. Features are standardized internally;
// a constant feature gets a unit scale so it contributes nothing.
func FitRidge(X [][]float64, y []float64, alpha float64) *Ridge {
	n := len(X)
	if n == 0 {
		return &Ridge{Alpha: alpha}
	}
	p := len(X[0])

	means := make([]float64, p)
	stds := make([]float64, p)
	for j := 0; j < p; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += X[i][j]
		}
		means[j] = sum / float64(n)
		var ss float64
		for i := 0; i < n; i++ {
			d := X[i][j] - means[j]
			ss += d * d
		}
		stds[j] = math.Sqrt(ss / float64(n))
		if stds[j] == 0 {
			stds[j] = 1
		}
	}

	// Standardize X and center y, then solve (Z'Z + alpha*I) w = Z'y.
	var yMean float64
	for _, v := range y {
		yMean += v
	}
	yMean /= float64(n)

	Z := make([][]float64, n)
	for i := 0; i < n; i++ {
		Z[i] = make([]float64, p)
		for j := 0; j < p; j++ {
			Z[i][j] = (X[i][j] - means[j]) / stds[j]
		}
	}

	A := make([][]float64, p)
	for j := 0; j < p; j++ {
		A[j] = make([]float64, p)
	}
	b := make([]float64, p)
	for j := 0; j < p; j++ {
		for k := j; k < p; k++ {
			var s float64
			for i := 0; i < n; i++ {
				s += Z[i][j] * Z[i][k]
			}
			A[j][k] = s
			A[k][j] = s
		}
		A[j][j] += alpha
		var s float64
		for i := 0; i < n; i++ {
			s += Z[i][j] * (y[i] - yMean)
		}
		b[j] = s
	}

	coef := solveLinear(A, b)
	return &Ridge{
		Alpha:     alpha,
		Means:     means,
		Stds:      stds,
		Coef:      coef,
		Intercept: yMean,
	}
}

// Predict evaluates the model on one feature vector.
func (r *Ridge) Predict(x []float64) float64 {
	pred := r.Intercept
	for j, c := range r.Coef {
		if j >= len(x) {
			break
		}
		pred += c * (x[j] - r.Means[j]) / r.Stds[j]
	}
	return pred
}

// Importances returns absolute coefficients per feature.
func (r *Ridge) Importances() []float64 {
	out := make([]float64, len(r.Coef))
	for j, c := range r.Coef {
		out[j] = math.Abs(c)
	}
	return out
}

// solveLinear solves Ax = b by Gaussian elimination with partial pivoting.
// A is modified in place. A singular pivot leaves that coefficient at zero,
// which the ridge term makes practically unreachable.
func solveLinear(A [][]float64, b []float64) []float64 {
	n := len(A)
	x := make([]float64, n)

	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(A[row][col]) > math.Abs(A[pivot][col]) {
				pivot = row
			}
		}
		if A[pivot][col] == 0 {
			continue
		}
		A[col], A[pivot] = A[pivot], A[col]
		b[col], b[pivot] = b[pivot], b[col]

		for row := col + 1; row < n; row++ {
			factor := A[row][col] / A[col][col]
			for k := col; k < n; k++ {
				A[row][k] -= factor * A[col][k]
			}
			b[row] -= factor * b[col]
		}
	}

	for col := n - 1; col >= 0; col-- {
		if A[col][col] == 0 {
			continue
		}
		s := b[col]
		for k := col + 1; k < n; k++ {
			s -= A[col][k] * x[k]
		}
		x[col] = s / A[col][col]
	}
	return x
}
