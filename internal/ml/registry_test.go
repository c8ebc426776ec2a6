package ml

import (
	"errors"
	"testing"
)

func demoModel(coef float64) *Model {
	return &Model{
		Type:         ModelRidge,
		FeatureNames: []string{"x"},
		Imputer:      &Imputer{Medians: []float64{3}},
		Ridge: &Ridge{
			Alpha:     1,
			Means:     []float64{0},
			Stds:      []float64{1},
			Coef:      []float64{coef},
			Intercept: 1,
		},
	}
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r
}

func TestRegistryRoundTrip(t *testing.T) {
	r := testRegistry(t)
	if err := r.Register(demoModel(2), ModelInfo{Target: "target_demo", NSamples: 12}); err != nil {
		t.Fatalf("register: %v", err)
	}

	model, info, err := r.Load("target_demo")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if model.Type != ModelRidge || model.Ridge.Coef[0] != 2 {
		t.Errorf("artifact lost: %+v", model)
	}
	if info.NSamples != 12 || info.ArtifactFile != "model_demo.json" {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.ModelType != ModelRidge || len(info.FeatureNames) != 1 {
		t.Errorf("register must fill model type and feature names: %+v", info)
	}

	// Loading without the target_ prefix resolves the same entry.
	if _, _, err := r.Load("demo"); err != nil {
		t.Errorf("load by bare name: %v", err)
	}
}

func TestRegistryNotFound(t *testing.T) {
	r := testRegistry(t)
	_, _, err := r.Load("target_missing")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

func TestRegistryReRegisterOverwrites(t *testing.T) {
	r := testRegistry(t)
	if err := r.Register(demoModel(2), ModelInfo{Target: "target_demo"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(demoModel(5), ModelInfo{Target: "target_demo"}); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	model, _, err := r.Load("target_demo")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if model.Ridge.Coef[0] != 5 {
		t.Errorf("expected overwritten artifact, got coef %v", model.Ridge.Coef[0])
	}

	manifest, err := r.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(manifest) != 1 {
		t.Errorf("expected a single manifest entry, got %d", len(manifest))
	}
}

func TestModelPredictDispatch(t *testing.T) {
	m := demoModel(2)
	got, err := m.Predict([]float64{4})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if got != 9 {
		t.Errorf("expected 1+2*4=9, got %v", got)
	}

	if _, err := (&Model{Type: "quantile_forest"}).Predict([]float64{1}); err == nil {
		t.Error("unknown model type must error")
	}
	if _, err := (&Model{Type: ModelRidge}).Predict([]float64{1}); err == nil {
		t.Error("missing ridge artifact must error")
	}
}
