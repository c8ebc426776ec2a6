package ml

import (
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/flexbatt/flexbatt/internal/feature"
)

// trainingStore seeds a feature store with a clean linear relation across two
// clients: target = 2*load_mean + 1.
func trainingStore(t *testing.T) *feature.Store {
	t.Helper()
	store, err := feature.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	var rows []feature.Row
	for i := 1; i <= 12; i++ {
		x := float64(i)
		client := "acme"
		if i > 6 {
			client = "globex"
		}
		rows = append(rows, feature.Row{
			ConfigID:   int64(i),
			ClientName: client,
			RunName:    "2024_sizing",
			ConfigName: "case",
			Values: map[string]float64{
				"load_mean":                   x,
				"target_peak_shaving_benefit": 2*x + 1,
				"target_trading_revenue":      math.NaN(),
				"target":                      2*x + 1,
			},
		})
	}
	if err := store.Save(rows); err != nil {
		t.Fatalf("save rows: %v", err)
	}
	return store
}

func TestTrainAll(t *testing.T) {
	store := trainingStore(t)
	registry := testRegistry(t)
	trainer := NewTrainer(store, registry, zap.NewNop())

	opts := DefaultTrainOptions()
	opts.ModelType = ModelRidge
	infos, err := trainer.TrainAll([]string{"peak_shaving_benefit", "trading_revenue"}, opts)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	// trading_revenue has no labels and is skipped, not failed.
	if len(infos) != 1 {
		t.Fatalf("expected 1 trained model, got %d", len(infos))
	}
	info := infos[0]
	if info.Target != "target_peak_shaving_benefit" {
		t.Errorf("unexpected target: %q", info.Target)
	}
	if info.ModelType != ModelRidge || info.NSamples != 12 {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.Hyperparameters["split_strategy"] != "group_shuffle" {
		t.Errorf("two clients should trigger a group split: %v", info.Hyperparameters)
	}
	if info.Hyperparameters["cv_strategy"] != "leave_one_group_out" {
		t.Errorf("few groups should use leave-one-group-out: %v", info.Hyperparameters)
	}
	if _, ok := info.FeatureImportance["load_mean"]; !ok {
		t.Errorf("missing feature importance: %v", info.FeatureImportance)
	}

	predictor := NewPredictor(registry, zap.NewNop())
	pred, err := predictor.Predict("peak_shaving_benefit", map[string]float64{"load_mean": 5})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	// 2*5+1 = 11; ridge shrinkage and group holdout leave some slack.
	if math.Abs(pred.Value-11) > 3 {
		t.Errorf("prediction too far off: expected ~11, got %v", pred.Value)
	}
}

func TestTrainAllTooFewSamples(t *testing.T) {
	store, err := feature.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	rows := []feature.Row{
		{ConfigID: 1, ClientName: "acme", Values: map[string]float64{
			"load_mean": 1, "target_peak_shaving_benefit": 3,
		}},
	}
	if err := store.Save(rows); err != nil {
		t.Fatalf("save rows: %v", err)
	}

	trainer := NewTrainer(store, testRegistry(t), zap.NewNop())
	infos, err := trainer.TrainAll([]string{"peak_shaving_benefit"}, DefaultTrainOptions())
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("expected no models with a single sample, got %d", len(infos))
	}
}

func TestAutoModelSelection(t *testing.T) {
	store := trainingStore(t)
	trainer := NewTrainer(store, testRegistry(t), zap.NewNop())

	infos, err := trainer.TrainAll([]string{"peak_shaving_benefit"}, DefaultTrainOptions())
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if len(infos) != 1 || infos[0].ModelType != ModelRidge {
		t.Errorf("12 samples should auto-select ridge: %+v", infos)
	}
}
