package ml

import (
	"testing"

	"go.uber.org/zap"
)

func TestPredictorImputesMissingFeatures(t *testing.T) {
	r := testRegistry(t)
	if err := r.Register(demoModel(2), ModelInfo{Target: "target_demo"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	p := NewPredictor(r, zap.NewNop())

	pred, err := p.Predict("target_demo", map[string]float64{"x": 4, "ignored": 99})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if pred.Value != 9 || pred.MissingCount != 0 {
		t.Errorf("unexpected prediction: %+v", pred)
	}

	// Absent feature falls back to the training median (3).
	pred, err = p.Predict("target_demo", nil)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if pred.Value != 7 || pred.MissingCount != 1 {
		t.Errorf("expected imputed prediction 7 with 1 missing, got %+v", pred)
	}
}

func TestPredictorCachesUntilInvalidated(t *testing.T) {
	r := testRegistry(t)
	if err := r.Register(demoModel(2), ModelInfo{Target: "target_demo"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	p := NewPredictor(r, zap.NewNop())

	if pred, err := p.Predict("target_demo", map[string]float64{"x": 1}); err != nil || pred.Value != 3 {
		t.Fatalf("first predict: %v %+v", err, pred)
	}

	if err := r.Register(demoModel(10), ModelInfo{Target: "target_demo"}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if pred, _ := p.Predict("target_demo", map[string]float64{"x": 1}); pred.Value != 3 {
		t.Errorf("expected cached model, got %v", pred.Value)
	}

	p.Invalidate()
	if pred, _ := p.Predict("target_demo", map[string]float64{"x": 1}); pred.Value != 11 {
		t.Errorf("expected reloaded model, got %v", pred.Value)
	}
}

func TestPredictAll(t *testing.T) {
	r := testRegistry(t)
	if err := r.Register(demoModel(1), ModelInfo{Target: "target_a"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(demoModel(2), ModelInfo{Target: "target_b"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	p := NewPredictor(r, zap.NewNop())

	preds, err := p.PredictAll(map[string]float64{"x": 1})
	if err != nil {
		t.Fatalf("predict all: %v", err)
	}
	if len(preds) != 2 {
		t.Fatalf("expected 2 predictions, got %d", len(preds))
	}
	// Sorted by target name.
	if preds[0].Target != "target_a" || preds[0].Value != 2 {
		t.Errorf("unexpected first prediction: %+v", preds[0])
	}
	if preds[1].Target != "target_b" || preds[1].Value != 3 {
		t.Errorf("unexpected second prediction: %+v", preds[1])
	}
}
