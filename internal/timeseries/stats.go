package timeseries

import (
	"math"
	"sort"
)

// Scalar statistics over a series of values. Semantics follow the dataframe
// conventions the simulation exports were analyzed with: sample variance
// (ddof=1), adjusted Fisher-Pearson skewness, unbiased excess kurtosis, and
// NaN for undefined results (empty mean, variance of a single point).

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}

func sum(xs []float64) float64 {
	var s float64
	for _, v := range xs {
		s += v
	}
	return s
}

func minimum(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	m := xs[0]
	for _, v := range xs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maximum(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	m := xs[0]
	for _, v := range xs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func variance(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return math.NaN()
	}
	mu := mean(xs)
	var ss float64
	for _, v := range xs {
		d := v - mu
		ss += d * d
	}
	return ss / float64(n-1)
}

func stddev(xs []float64) float64 {
	return math.Sqrt(variance(xs))
}

// skewness is the adjusted Fisher-Pearson coefficient: NaN below three
// points, zero for a constant series.
func skewness(xs []float64) float64 {
	n := float64(len(xs))
	if n < 3 {
		return math.NaN()
	}
	mu := mean(xs)
	var m2, m3 float64
	for _, v := range xs {
		d := v - mu
		m2 += d * d
		m3 += d * d * d
	}
	m2 /= n
	m3 /= n
	if m2 == 0 {
		return 0
	}
	return n * math.Sqrt(n-1) / (n - 2) * (m3 / math.Pow(m2, 1.5))
}

// kurtosis is the unbiased excess kurtosis: NaN below four points, zero for
// a constant series.
func kurtosis(xs []float64) float64 {
	n := float64(len(xs))
	if n < 4 {
		return math.NaN()
	}
	mu := mean(xs)
	var m2, m4 float64
	for _, v := range xs {
		d := v - mu
		d2 := d * d
		m2 += d2
		m4 += d2 * d2
	}
	m2 /= n
	m4 /= n
	denom := (n - 2) * (n - 3) * m2 * m2
	if denom == 0 {
		return 0
	}
	adj := 3 * (n - 1) * (n - 1) / ((n - 2) * (n - 3))
	return n*(n+1)*(n-1)*m4/denom - adj
}

// percentile computes the p-th percentile (0..100) with linear interpolation
// between the two nearest ranks.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower < 0 {
		lower = 0
	}
	if upper > n-1 {
		upper = n - 1
	}
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

func median(xs []float64) float64 {
	return percentile(xs, 50)
}

// pearson computes the correlation coefficient over two aligned slices.
// NaN when either side has zero variance.
func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return math.NaN()
	}
	mx := mean(xs)
	my := mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx := xs[i] - mx
		dy := ys[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}
	return sxy / math.Sqrt(sxx*syy)
}
