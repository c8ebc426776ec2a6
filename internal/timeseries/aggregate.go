package timeseries

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/flexbatt/flexbatt/internal/config"
)

// statFunctions maps standard statistic names to their implementation over
// the non-NaN values of a column.
var statFunctions = map[string]func([]float64) float64{
	"mean":     mean,
	"std":      stddev,
	"min":      minimum,
	"max":      maximum,
	"sum":      sum,
	"median":   median,
	"var":      variance,
	"skew":     skewness,
	"kurtosis": kurtosis,
}

// customAggregations maps custom per-column aggregation names to their
// implementation. Guard conventions: ratio aggregations return 0 when the
// denominator is not positive, fraction aggregations return NaN on an empty
// series.
var customAggregations = map[string]func([]float64) float64{
	"peak_to_mean":          peakToMean,
	"cv":                    coefficientOfVariation,
	"iqr":                   func(s []float64) float64 { return percentile(s, 75) - percentile(s, 25) },
	"skewness":              skewnessOrZero,
	"time_below_20pct":      func(s []float64) float64 { return fraction(s, func(v float64) bool { return v < 20 }) },
	"time_above_80pct":      func(s []float64) float64 { return fraction(s, func(v float64) bool { return v > 80 }) },
	"cycles_equivalent":     func(s []float64) float64 { return sumAbsDiff(s) / 200 },
	"range":                 func(s []float64) float64 { return maximum(s) - minimum(s) },
	"charge_energy":         chargeEnergy,
	"discharge_energy":      dischargeEnergy,
	"reversals":             reversals,
	"utilization":           func(s []float64) float64 { return fraction(s, func(v float64) bool { return math.Abs(v) > 0.01 }) },
	"peak_to_average":       peakToMean,
	"export_ratio":          func(s []float64) float64 { return fraction(s, func(v float64) bool { return v > 0 }) },
	"capacity_factor":       capacityFactor,
	"zero_generation_ratio": func(s []float64) float64 { return fraction(s, func(v float64) bool { return v == 0 }) },
	"price_spread":          func(s []float64) float64 { return maximum(s) - minimum(s) },
	"price_volatility":      coefficientOfVariation,
}

// crossFeatures maps cross-column feature names to their implementation over
// the whole table. Each returns NaN when its input columns are missing or
// its guard fails.
var crossFeatures = map[string]func(*Table) float64{
	"self_consumption_ratio":        selfConsumptionRatio,
	"load_pv_correlation":           loadPVCorrelation,
	"temporal__peak_load_ratio":     peakLoadRatio,
	"temporal__weekend_load_ratio":  weekendLoadRatio,
	"temporal__summer_winter_ratio": summerWinterRatio,
}

func peakToMean(s []float64) float64 {
	if mu := mean(s); mu > 0 {
		return maximum(s) / mu
	}
	return 0
}

func coefficientOfVariation(s []float64) float64 {
	if mu := mean(s); mu > 0 {
		return stddev(s) / mu
	}
	return 0
}

func skewnessOrZero(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	return skewness(s)
}

func fraction(s []float64, pred func(float64) bool) float64 {
	if len(s) == 0 {
		return math.NaN()
	}
	count := 0
	for _, v := range s {
		if pred(v) {
			count++
		}
	}
	return float64(count) / float64(len(s))
}

func sumAbsDiff(s []float64) float64 {
	var total float64
	for i := 1; i < len(s); i++ {
		total += math.Abs(s[i] - s[i-1])
	}
	return total
}

func chargeEnergy(s []float64) float64 {
	var total float64
	any := false
	for _, v := range s {
		if v > 0 {
			total += v
			any = true
		}
	}
	if !any {
		return 0
	}
	return total
}

func dischargeEnergy(s []float64) float64 {
	var total float64
	any := false
	for _, v := range s {
		if v < 0 {
			total += -v
			any = true
		}
	}
	if !any {
		return 0
	}
	return total
}

func reversals(s []float64) float64 {
	count := 0
	for i := 1; i < len(s); i++ {
		if math.Abs(s[i]-s[i-1]) > 0.1 {
			count++
		}
	}
	return float64(count)
}

func capacityFactor(s []float64) float64 {
	if mx := maximum(s); mx > 0 {
		return mean(s) / mx
	}
	return 0
}

func selfConsumptionRatio(t *Table) float64 {
	if !t.HasColumn("generation_kwh") || !t.HasColumn("grid_export_kwh") {
		return math.NaN()
	}
	genSum := sum(dropNaN(t.Column("generation_kwh")))
	exportSum := sum(dropNaN(t.Column("grid_export_kwh")))
	if genSum > 0 {
		return 1 - exportSum/genSum
	}
	return math.NaN()
}

func loadPVCorrelation(t *Table) float64 {
	if !t.HasColumn("load_kwh") || !t.HasColumn("generation_kwh") {
		return math.NaN()
	}
	load := t.Column("load_kwh")
	gen := t.Column("generation_kwh")
	if len(dropNaN(load)) <= 10 || len(dropNaN(gen)) <= 10 {
		return math.NaN()
	}
	var xs, ys []float64
	for i := range load {
		if i < len(gen) && !math.IsNaN(load[i]) && !math.IsNaN(gen[i]) {
			xs = append(xs, load[i])
			ys = append(ys, gen[i])
		}
	}
	if len(xs) <= 10 {
		return math.NaN()
	}
	return pearson(xs, ys)
}

func (t *Table) hasTimestamps() bool {
	for _, ts := range t.Timestamps {
		if !ts.IsZero() {
			return true
		}
	}
	return false
}

// timedLoad returns the rows where both a timestamp and a load value exist.
func timedLoad(t *Table) ([]time.Time, []float64, bool) {
	if !t.hasTimestamps() || !t.HasColumn("load_kwh") {
		return nil, nil, false
	}
	load := t.Column("load_kwh")
	n := len(t.Timestamps)
	if len(load) < n {
		n = len(load)
	}
	times := make([]time.Time, 0, n)
	values := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if t.Timestamps[i].IsZero() || math.IsNaN(load[i]) {
			continue
		}
		times = append(times, t.Timestamps[i])
		values = append(values, load[i])
	}
	return times, values, len(times) > 0
}

// peakLoadRatio is the share of load during business hours (09:00-17:59),
// defined only when both peak and off-peak rows exist.
func peakLoadRatio(t *Table) float64 {
	times, load, ok := timedLoad(t)
	if !ok {
		return math.NaN()
	}
	var peakSum, totalSum float64
	peakRows, offPeakRows := 0, 0
	for i, ts := range times {
		h := ts.Hour()
		if h >= 9 && h <= 17 {
			peakSum += load[i]
			peakRows++
		} else {
			offPeakRows++
		}
		totalSum += load[i]
	}
	if peakRows == 0 || offPeakRows == 0 || totalSum <= 0 {
		return math.NaN()
	}
	return peakSum / totalSum
}

func weekendLoadRatio(t *Table) float64 {
	times, load, ok := timedLoad(t)
	if !ok {
		return math.NaN()
	}
	var weekendSum, totalSum float64
	weekendRows := 0
	for i, ts := range times {
		wd := ts.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			weekendSum += load[i]
			weekendRows++
		}
		totalSum += load[i]
	}
	if weekendRows == 0 || totalSum <= 0 {
		return math.NaN()
	}
	return weekendSum / totalSum
}

func summerWinterRatio(t *Table) float64 {
	times, load, ok := timedLoad(t)
	if !ok {
		return math.NaN()
	}
	var summer, winter []float64
	for i, ts := range times {
		switch ts.Month() {
		case time.June, time.July, time.August:
			summer = append(summer, load[i])
		case time.December, time.January, time.February:
			winter = append(winter, load[i])
		}
	}
	if len(summer) == 0 || len(winter) == 0 {
		return math.NaN()
	}
	winterMean := mean(winter)
	if winterMean > 0 {
		return mean(summer) / winterMean
	}
	return math.NaN()
}

// ExtractColumn computes the configured aggregations for one column.
// A missing column yields no features, as does an all-NaN column unless the
// spec sets include_empty. Unknown stat or custom names are ignored so
// configs stay forward compatible.
func ExtractColumn(t *Table, column string, spec config.ColumnSpec) map[string]float64 {
	features := make(map[string]float64)
	if !t.HasColumn(column) {
		return features
	}
	series := dropNaN(t.Column(column))
	if len(series) == 0 && !spec.IncludeEmpty {
		return features
	}

	for _, stat := range spec.Stats {
		fn, ok := statFunctions[stat]
		if !ok {
			continue
		}
		features[column+"_"+stat] = fn(series)
	}
	for _, p := range spec.Percentiles {
		features[column+percentileSuffix(p)] = percentile(series, p)
	}
	for _, name := range spec.Custom {
		fn, ok := customAggregations[name]
		if !ok {
			continue
		}
		features[column+"_"+name] = fn(series)
	}
	return features
}

func percentileSuffix(p float64) string {
	return "_p" + strconv.FormatFloat(p, 'f', -1, 64)
}

// Extract computes every configured per-column and cross-column feature for
// one table. Failed guards surface as NaN values, never as errors.
func Extract(t *Table, cfg *config.Extraction) map[string]float64 {
	features := make(map[string]float64)
	for column, spec := range cfg.Columns {
		for name, v := range ExtractColumn(t, column, spec) {
			features[name] = v
		}
	}
	for _, name := range cfg.CrossFeatures {
		fn, ok := crossFeatures[name]
		if !ok {
			continue
		}
		features[name] = fn(t)
	}
	return features
}

// FeatureList enumerates the feature names a configuration would produce.
type FeatureList struct {
	ColumnFeatures []string `json:"column_features"`
	CrossFeatures  []string `json:"custom_features"`
	Total          int      `json:"total"`
}

// ListFeatures returns the sorted names of all configured features without
// touching any data.
func ListFeatures(cfg *config.Extraction) FeatureList {
	var columnFeatures []string
	for column, spec := range cfg.Columns {
		for _, stat := range spec.Stats {
			if _, ok := statFunctions[stat]; ok {
				columnFeatures = append(columnFeatures, column+"_"+stat)
			}
		}
		for _, p := range spec.Percentiles {
			columnFeatures = append(columnFeatures, column+percentileSuffix(p))
		}
		for _, name := range spec.Custom {
			if _, ok := customAggregations[name]; ok {
				columnFeatures = append(columnFeatures, column+"_"+name)
			}
		}
	}
	sort.Strings(columnFeatures)

	cross := make([]string, 0, len(cfg.CrossFeatures))
	for _, name := range cfg.CrossFeatures {
		if _, ok := crossFeatures[name]; ok {
			cross = append(cross, name)
		}
	}
	sort.Strings(cross)

	return FeatureList{
		ColumnFeatures: columnFeatures,
		CrossFeatures:  cross,
		Total:          len(columnFeatures) + len(cross),
	}
}
