package feature

import (
	"math"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func row(id int64, values map[string]float64) Row {
	return Row{
		ConfigID:   id,
		ClientName: "acme",
		RunName:    "2024_sizing",
		ConfigName: "100kWh_50kW",
		Values:     values,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := testStore(t)
	rows := []Row{
		row(1, map[string]float64{"load_mean": 25, "load_max": 40, "target": 300}),
		row(2, map[string]float64{"load_mean": 30, "target": math.NaN()}),
	}
	if err := s.Save(rows); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(loaded))
	}
	if loaded[0].ConfigID != 1 || loaded[0].ClientName != "acme" {
		t.Errorf("identifiers lost: %+v", loaded[0])
	}
	if loaded[0].Values["load_mean"] != 25 {
		t.Errorf("load_mean: expected 25, got %v", loaded[0].Values["load_mean"])
	}

	// NaN is written as an empty cell, so the value is absent after reload.
	if _, ok := loaded[1].Values["target"]; ok {
		t.Error("NaN value should not survive the round trip")
	}
	if _, ok := loaded[1].Values["load_max"]; ok {
		t.Error("missing feature should stay missing")
	}
}

func TestColumnsOrder(t *testing.T) {
	rows := []Row{
		row(1, map[string]float64{"zeta": 1, "alpha": 2}),
	}
	columns := Columns(rows)

	want := []string{"config_id", "client_name", "run_name", "config_name", "alpha", "zeta"}
	if len(columns) != len(want) {
		t.Fatalf("expected %v, got %v", want, columns)
	}
	for i := range want {
		if columns[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, columns)
		}
	}
}

func TestAppendReplacesByConfigID(t *testing.T) {
	s := testStore(t)
	if err := s.Append([]Row{
		row(1, map[string]float64{"load_mean": 10}),
		row(2, map[string]float64{"load_mean": 20}),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append([]Row{
		row(2, map[string]float64{"load_mean": 99}),
		row(3, map[string]float64{"load_mean": 30}),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	rows, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	byID := make(map[int64]Row, len(rows))
	for _, r := range rows {
		byID[r.ConfigID] = r
	}
	if byID[2].Values["load_mean"] != 99 {
		t.Errorf("row 2 not replaced: %v", byID[2].Values)
	}

	processed, err := s.ProcessedIDs()
	if err != nil {
		t.Fatalf("processed ids: %v", err)
	}
	for _, id := range []int64{1, 2, 3} {
		if !processed[id] {
			t.Errorf("config %d missing from ledger", id)
		}
	}
}

func TestClear(t *testing.T) {
	s := testStore(t)
	if err := s.Append([]Row{row(1, map[string]float64{"x": 1})}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.SaveMetadata(ExtractorConfig{}, "peak_shaving_benefit"); err != nil {
		t.Fatalf("save metadata: %v", err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}

	rows, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected empty store after clear, got %d rows", len(rows))
	}
	processed, err := s.ProcessedIDs()
	if err != nil {
		t.Fatalf("processed ids: %v", err)
	}
	if len(processed) != 0 {
		t.Errorf("expected empty ledger after clear, got %v", processed)
	}

	// Clearing an already empty store is fine.
	if err := s.Clear(); err != nil {
		t.Errorf("second clear: %v", err)
	}
}

func TestMLReadyData(t *testing.T) {
	s := testStore(t)
	rows := []Row{
		row(1, map[string]float64{"load_mean": 10, "target_peak_shaving_benefit": 100, "target": 100}),
		row(2, map[string]float64{"load_mean": 20, "target_peak_shaving_benefit": 200, "target": 200}),
	}
	rows[1].ClientName = "globex"
	if err := s.Save(rows); err != nil {
		t.Fatalf("save: %v", err)
	}

	ds, err := s.MLReadyData("target_peak_shaving_benefit", []string{"target"})
	if err != nil {
		t.Fatalf("ml ready data: %v", err)
	}

	if len(ds.FeatureNames) != 1 || ds.FeatureNames[0] != "load_mean" {
		t.Errorf("expected only load_mean as feature, got %v", ds.FeatureNames)
	}
	if len(ds.X) != 2 || ds.X[0][0] != 10 {
		t.Errorf("unexpected X: %v", ds.X)
	}
	if ds.Y[1] != 200 {
		t.Errorf("unexpected Y: %v", ds.Y)
	}
	if ds.Groups[0] != "acme" || ds.Groups[1] != "globex" {
		t.Errorf("unexpected groups: %v", ds.Groups)
	}
}

func TestMLReadyDataEmptyStore(t *testing.T) {
	s := testStore(t)
	if _, err := s.MLReadyData("target", nil); err == nil {
		t.Error("expected error for empty store")
	}
}

func TestSaveMetadataAndDescribe(t *testing.T) {
	s := testStore(t)
	rows := []Row{
		row(1, map[string]float64{
			"load_mean":              10,
			"list_battery_usability": 0.9,
			"pv_annual_total":        5000,
			"target_trading_revenue": 50,
			"target":                 50,
		}),
	}
	if err := s.Save(rows); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveMetadata(ExtractorConfig{TargetKPIs: []string{"trading_revenue"}}, "trading_revenue"); err != nil {
		t.Fatalf("save metadata: %v", err)
	}

	meta, err := s.LoadMetadata()
	if err != nil {
		t.Fatalf("load metadata: %v", err)
	}
	if meta == nil || meta.TargetKPI != "trading_revenue" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	// Identifiers and targets are not input features.
	if meta.NumInputFeatures != 3 {
		t.Errorf("expected 3 input features, got %d (%v)", meta.NumInputFeatures, meta.FeatureColumns)
	}

	summary, err := s.Describe()
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if summary.Status != "ready" || summary.NumConfigs != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.DirectInputFeatures != 2 {
		t.Errorf("expected 2 direct input features, got %d", summary.DirectInputFeatures)
	}
	if summary.LoadProfileFeatures != 1 {
		t.Errorf("expected 1 load profile feature, got %d", summary.LoadProfileFeatures)
	}
	if summary.TargetFeatures != 1 {
		t.Errorf("expected 1 target feature, got %d", summary.TargetFeatures)
	}
}

func TestDescribeEmpty(t *testing.T) {
	s := testStore(t)
	summary, err := s.Describe()
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if summary.Status != "empty" {
		t.Errorf("expected empty status, got %q", summary.Status)
	}
}
