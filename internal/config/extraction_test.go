package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadExtractionDefaults(t *testing.T) {
	e, err := LoadExtraction("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(e.Columns) == 0 || len(e.TargetKPIs) == 0 {
		t.Fatalf("defaults incomplete: %+v", e)
	}
	if e.PrimaryTarget != "peak_shaving_benefit" {
		t.Errorf("unexpected primary target %q", e.PrimaryTarget)
	}
}

func TestLoadExtractionFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extraction.yaml")
	content := `
columns:
  load_kwh:
    stats: [mean, max]
    percentiles: [50, 95]
direct_inputs: [battery_capacity_kwh]
target_kpis: [peak_shaving_benefit, trading_revenue]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	e, err := LoadExtraction(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	spec, ok := e.Columns["load_kwh"]
	if !ok || len(spec.Stats) != 2 || len(spec.Percentiles) != 2 {
		t.Fatalf("unexpected column spec: %+v", e.Columns)
	}
	// First target becomes the primary when none is given.
	if e.PrimaryTarget != "peak_shaving_benefit" {
		t.Errorf("unexpected primary target %q", e.PrimaryTarget)
	}
}

func TestValidateRejectsBadPercentile(t *testing.T) {
	e := &Extraction{
		Columns: map[string]ColumnSpec{
			"load_kwh": {Percentiles: []float64{101}},
		},
	}
	if err := e.Validate(); err == nil {
		t.Error("percentile above 100 must be rejected")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("PIPELINE_BATCH_SIZE", "25")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerPort != "9001" || cfg.BatchSize != 25 || !cfg.Debug {
		t.Errorf("environment not applied: %+v", cfg)
	}
	if cfg.DatabaseURL == "" || cfg.FeatureStoreDir == "" {
		t.Errorf("defaults missing: %+v", cfg)
	}
}
