package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Extraction is the on-disk feature extraction configuration shape (YAML).
// A zero path loads the built-in defaults.
type Extraction struct {
	// Columns maps timeseries column name -> aggregation spec.
	Columns map[string]ColumnSpec `yaml:"columns"`
	// CrossFeatures names registered cross-column features to compute.
	CrossFeatures []string `yaml:"cross_features"`
	// DirectInputs are scalar inputs copied straight from config metadata or
	// the KPI sheet, without aggregation.
	DirectInputs []string `yaml:"direct_inputs"`
	// TargetKPIs are the KPI names emitted as target_<name> label columns.
	TargetKPIs []string `yaml:"target_kpis"`
	// PrimaryTarget is the KPI copied into the plain "target" column.
	PrimaryTarget string `yaml:"primary_target"`
}

// ColumnSpec describes which aggregations to run over one column.
// Columns with no usable values are skipped entirely unless IncludeEmpty is
// set, in which case their features come out as NaN.
type ColumnSpec struct {
	Stats        []string  `yaml:"stats"`
	Percentiles  []float64 `yaml:"percentiles"`
	Custom       []string  `yaml:"custom"`
	IncludeEmpty bool      `yaml:"include_empty"`
}

// LoadExtraction reads the extraction config from path, or returns the
// built-in defaults when path is empty.
func LoadExtraction(path string) (*Extraction, error) {
	if path == "" {
		return DefaultExtraction(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read extraction config: %w", err)
	}
	var e Extraction
	if err := yaml.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("parse extraction config: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks percentile bounds and that a primary target is set when
// targets are configured.
func (e *Extraction) Validate() error {
	for col, spec := range e.Columns {
		for _, p := range spec.Percentiles {
			if p < 0 || p > 100 {
				return fmt.Errorf("column %s: percentile %v out of range", col, p)
			}
		}
	}
	if e.PrimaryTarget == "" && len(e.TargetKPIs) > 0 {
		e.PrimaryTarget = e.TargetKPIs[0]
	}
	return nil
}

// DefaultExtraction returns the standard extraction configuration used when
// no YAML file is supplied.
func DefaultExtraction() *Extraction {
	loadSpec := ColumnSpec{
		Stats:       []string{"mean", "std", "min", "max", "sum"},
		Percentiles: []float64{10, 25, 50, 75, 90, 95},
		Custom:      []string{"peak_to_mean", "cv", "iqr", "skewness"},
	}
	return &Extraction{
		Columns: map[string]ColumnSpec{
			"grid_load_kwh":   loadSpec,
			"consumption_kwh": loadSpec,
		},
		CrossFeatures: []string{
			"self_consumption_ratio",
			"load_pv_correlation",
			"temporal__peak_load_ratio",
			"temporal__weekend_load_ratio",
			"temporal__summer_winter_ratio",
		},
		DirectInputs: []string{
			"list_battery_max_state",
			"list_battery_usability",
			"list_battery_usable_max_state",
			"list_battery_efficiency",
			"list_battery_num_annual_cycles",
			"list_battery_proportion_hourly_max_load",
			"pv_annual_total",
			"pv_consumed_percentage",
		},
		TargetKPIs: []string{
			"peak_shaving_benefit",
			"energy_procurement_optimization",
			"trading_revenue",
		},
		PrimaryTarget: "peak_shaving_benefit",
	}
}
