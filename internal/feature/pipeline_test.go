package feature

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/flexbatt/flexbatt/internal/config"
	"github.com/flexbatt/flexbatt/internal/models"
	"github.com/flexbatt/flexbatt/internal/repository"
	"github.com/flexbatt/flexbatt/internal/state"
)

func testExtraction() *config.Extraction {
	return &config.Extraction{
		Columns: map[string]config.ColumnSpec{
			"load_kwh": {Stats: []string{"mean", "max"}},
		},
		DirectInputs:  []string{"battery_capacity_kwh", "pv_annual_total"},
		TargetKPIs:    []string{"peak_shaving_benefit"},
		PrimaryTarget: "peak_shaving_benefit",
	}
}

type pipelineFixture struct {
	pipeline *Pipeline
	store    *Store
	configs  *repository.ConfigRepository
	kpis     *repository.KPIRepository
	runID    int64
	dir      string
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := repository.Open(ctx, filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	client := &models.Client{Name: "acme"}
	if err := repository.NewClientRepository(db).Upsert(ctx, client); err != nil {
		t.Fatalf("upsert client: %v", err)
	}
	run := &models.Run{ClientID: client.ID, Name: "2024_sizing"}
	if err := repository.NewRunRepository(db).Upsert(ctx, run); err != nil {
		t.Fatalf("upsert run: %v", err)
	}

	store, err := NewStore(filepath.Join(dir, "features"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	configs := repository.NewConfigRepository(db)
	kpis := repository.NewKPIRepository(db)
	pipeline := NewPipeline(configs, kpis, store, testExtraction(), nil, zap.NewNop(), 50)

	return &pipelineFixture{
		pipeline: pipeline,
		store:    store,
		configs:  configs,
		kpis:     kpis,
		runID:    run.ID,
		dir:      dir,
	}
}

func (f *pipelineFixture) writeTimeseries(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	data := "timestamp,load_kwh\n" +
		"2024-01-01 00:00:00,10\n" +
		"2024-01-01 01:00:00,20\n" +
		"2024-01-01 02:00:00,30\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write timeseries: %v", err)
	}
	return path
}

func (f *pipelineFixture) addConfig(t *testing.T, name string, isBaseline bool, tsPath string, kpis map[string]float64) int64 {
	t.Helper()
	ctx := context.Background()
	capacity := 100.0
	cfg := &models.BatteryConfig{
		RunID:              f.runID,
		Name:               name,
		IsBaseline:         isBaseline,
		CapacityKWh:        &capacity,
		TimeseriesFilePath: tsPath,
	}
	if err := f.configs.Upsert(ctx, cfg); err != nil {
		t.Fatalf("upsert config: %v", err)
	}
	for kpiName, value := range kpis {
		if err := f.kpis.Upsert(ctx, &models.KPI{ConfigID: cfg.ID, Name: kpiName, Value: value}); err != nil {
			t.Fatalf("upsert kpi: %v", err)
		}
	}
	return cfg.ID
}

func TestPipelineRun(t *testing.T) {
	f := newPipelineFixture(t)
	f.addConfig(t, "baseline", true, "", nil)
	configID := f.addConfig(t, "100kWh_50kW", false, f.writeTimeseries(t, "ts.csv"), map[string]float64{
		"pv_annual_total":      5000,
		"peak_shaving_benefit": 300,
	})

	processed, err := f.pipeline.Run(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed config (baseline excluded), got %d", processed)
	}
	if got := f.pipeline.Status().State; got != state.StateCompleted {
		t.Errorf("expected completed state, got %q", got)
	}

	rows, err := f.store.Load()
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	if len(rows) != 1 || rows[0].ConfigID != configID {
		t.Fatalf("unexpected store rows: %+v", rows)
	}

	values := rows[0].Values
	if values["load_kwh_mean"] != 20 || values["load_kwh_max"] != 30 {
		t.Errorf("load profile features wrong: %v", values)
	}
	// Metadata column wins over the KPI sheet for direct inputs.
	if values["battery_capacity_kwh"] != 100 {
		t.Errorf("battery_capacity_kwh: expected 100, got %v", values["battery_capacity_kwh"])
	}
	if values["pv_annual_total"] != 5000 {
		t.Errorf("pv_annual_total: expected 5000, got %v", values["pv_annual_total"])
	}
	if values["target_peak_shaving_benefit"] != 300 || values["target"] != 300 {
		t.Errorf("targets wrong: %v", values)
	}

	meta, err := f.store.LoadMetadata()
	if err != nil {
		t.Fatalf("load metadata: %v", err)
	}
	if meta == nil || meta.TargetKPI != "peak_shaving_benefit" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestPipelineIncrementalSkipsProcessed(t *testing.T) {
	f := newPipelineFixture(t)
	f.addConfig(t, "100kWh_50kW", false, f.writeTimeseries(t, "ts.csv"), map[string]float64{
		"peak_shaving_benefit": 300,
	})

	if _, err := f.pipeline.Run(context.Background(), DefaultOptions()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	processed, err := f.pipeline.Run(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if processed != 0 {
		t.Errorf("expected 0 processed on incremental rerun, got %d", processed)
	}
	if got := f.pipeline.Status().Skipped; got != 1 {
		t.Errorf("expected 1 skipped, got %d", got)
	}

	// A full rerun reprocesses everything.
	opts := DefaultOptions()
	opts.Incremental = false
	processed, err = f.pipeline.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("full run: %v", err)
	}
	if processed != 1 {
		t.Errorf("expected 1 processed on full rerun, got %d", processed)
	}
}

func TestPipelineUnreadableTimeseriesDegrades(t *testing.T) {
	f := newPipelineFixture(t)
	f.addConfig(t, "100kWh_50kW", false, filepath.Join(f.dir, "missing.csv"), map[string]float64{
		"pv_annual_total":      5000,
		"peak_shaving_benefit": 300,
	})

	processed, err := f.pipeline.Run(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected partial row to count as processed, got %d", processed)
	}
	if got := f.pipeline.Status().Errors; got != 1 {
		t.Errorf("expected 1 recorded error, got %d", got)
	}

	rows, err := f.store.Load()
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	values := rows[0].Values
	if _, ok := values["load_kwh_mean"]; ok {
		t.Error("load profile features must be absent for unreadable timeseries")
	}
	if values["pv_annual_total"] != 5000 {
		t.Errorf("direct inputs must survive: %v", values)
	}
}

func TestPipelineMetadataReflectsInputSources(t *testing.T) {
	f := newPipelineFixture(t)
	f.addConfig(t, "100kWh_50kW", false, f.writeTimeseries(t, "ts.csv"), map[string]float64{
		"peak_shaving_benefit": 300,
	})

	opts := DefaultOptions()
	opts.IncludeTimeseries = false
	if _, err := f.pipeline.Run(context.Background(), opts); err != nil {
		t.Fatalf("run: %v", err)
	}

	meta, err := f.store.LoadMetadata()
	if err != nil {
		t.Fatalf("load metadata: %v", err)
	}
	if got := meta.ExtractorConfig.InputSources; len(got) != 1 || got[0] != "direct" {
		t.Errorf("expected [direct] without timeseries, got %v", got)
	}

	opts = DefaultOptions()
	opts.Incremental = false
	if _, err := f.pipeline.Run(context.Background(), opts); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	meta, err = f.store.LoadMetadata()
	if err != nil {
		t.Fatalf("reload metadata: %v", err)
	}
	want := []string{"direct", "load_profile"}
	if got := meta.ExtractorConfig.InputSources; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v with timeseries, got %v", want, got)
	}
}

func TestPipelineBatchSizeOption(t *testing.T) {
	f := newPipelineFixture(t)
	tsPath := f.writeTimeseries(t, "ts.csv")
	f.addConfig(t, "100kWh_50kW", false, tsPath, map[string]float64{"peak_shaving_benefit": 300})
	f.addConfig(t, "200kWh_100kW", false, tsPath, map[string]float64{"peak_shaving_benefit": 500})

	opts := DefaultOptions()
	opts.BatchSize = 1
	processed, err := f.pipeline.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if processed != 2 {
		t.Fatalf("expected 2 processed, got %d", processed)
	}
	if got := f.pipeline.Status().BatchesFlushed; got != 2 {
		t.Errorf("expected a flush per config with batch size 1, got %d", got)
	}
}

func TestPipelineDirectInputFallback(t *testing.T) {
	f := newPipelineFixture(t)
	// No capacity metadata, no pv KPI: one falls back to NaN.
	ctx := context.Background()
	cfg := &models.BatteryConfig{RunID: f.runID, Name: "case_a"}
	if err := f.configs.Upsert(ctx, cfg); err != nil {
		t.Fatalf("upsert config: %v", err)
	}

	opts := DefaultOptions()
	opts.IncludeTimeseries = false
	if _, err := f.pipeline.Run(ctx, opts); err != nil {
		t.Fatalf("run: %v", err)
	}

	rows, err := f.store.Load()
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	values := rows[0].Values
	// NaN serializes to an empty cell, so the reloaded row lacks the keys.
	if _, ok := values["battery_capacity_kwh"]; ok {
		t.Errorf("missing metadata should yield NaN: %v", values)
	}
	if _, ok := values["pv_annual_total"]; ok {
		t.Errorf("missing KPI should yield NaN: %v", values)
	}
}
