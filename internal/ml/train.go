package ml

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/flexbatt/flexbatt/internal/feature"
)

// TrainOptions controls a training run.
type TrainOptions struct {
	// ModelType is "auto", "gradient_boosting" or "ridge". Auto picks
	// gradient boosting once enough samples exist for trees to generalize.
	ModelType string
	// GroupAware keeps all rows of one client on the same side of every
	// split, preventing leakage across runs of the same client.
	GroupAware bool
	TestSize   float64
	CVFolds    int
	Seed       int64
}

// DefaultTrainOptions mirrors the standard training setup.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		ModelType:  "auto",
		GroupAware: true,
		TestSize:   0.2,
		CVFolds:    5,
		Seed:       42,
	}
}

const (
	minSamplesPerTarget = 10
	autoBoostingFloor   = 50

	boostingEstimators   = 100
	boostingMaxDepth     = 5
	boostingLearningRate = 0.1
	ridgeAlpha           = 1.0
)

// Trainer fits one model per target column from the feature store and
// registers the results.
type Trainer struct {
	store    *feature.Store
	registry *Registry
	logger   *zap.Logger
}

// NewTrainer creates a trainer.
func NewTrainer(store *feature.Store, registry *Registry, logger *zap.Logger) *Trainer {
	return &Trainer{store: store, registry: registry, logger: logger}
}

// TrainAll trains one model per target column (target_<kpi>). Targets with
// too little data are skipped with a logged reason; the returned infos cover
// the successfully trained models.
func (t *Trainer) TrainAll(targetKPIs []string, opts TrainOptions) ([]ModelInfo, error) {
	targetCols := make([]string, len(targetKPIs))
	for i, kpi := range targetKPIs {
		targetCols[i] = "target_" + kpi
	}

	var infos []ModelInfo
	for _, targetCol := range targetCols {
		exclude := []string{"target"}
		for _, other := range targetCols {
			if other != targetCol {
				exclude = append(exclude, other)
			}
		}

		ds, err := t.store.MLReadyData(targetCol, exclude)
		if err != nil {
			return infos, fmt.Errorf("load training data: %w", err)
		}

		info, err := t.trainOne(ds, targetCol, opts)
		if err != nil {
			t.logger.Warn("skipping target",
				zap.String("target", targetCol), zap.Error(err))
			continue
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

func (t *Trainer) trainOne(ds *feature.Dataset, targetCol string, opts TrainOptions) (*ModelInfo, error) {
	imputer := FitImputer(ds.X)
	X := imputer.Transform(ds.X)

	// Drop rows without a target label.
	var (
		cleanX [][]float64
		cleanY []float64
		groups []string
	)
	for i, y := range ds.Y {
		if math.IsNaN(y) {
			continue
		}
		cleanX = append(cleanX, X[i])
		cleanY = append(cleanY, y)
		groups = append(groups, ds.Groups[i])
	}
	n := len(cleanY)
	if n < minSamplesPerTarget {
		return nil, fmt.Errorf("not enough samples: %d", n)
	}

	modelType := opts.ModelType
	if modelType == "" || modelType == "auto" {
		if n >= autoBoostingFloor {
			modelType = ModelGradientBoosting
		} else {
			modelType = ModelRidge
		}
	}

	nGroups := len(distinctGroups(groups))
	useGroupSplit := opts.GroupAware && nGroups >= 2

	var trainIdx, testIdx []int
	splitStrategy := "random"
	if useGroupSplit {
		trainIdx, testIdx = groupShuffleSplit(groups, opts.TestSize, opts.Seed)
		splitStrategy = "group_shuffle"
	} else {
		trainIdx, testIdx = randomSplit(n, opts.TestSize, opts.Seed)
	}

	fit := func(X [][]float64, y []float64) regressor {
		if modelType == ModelGradientBoosting {
			return FitGradientBoosting(X, y, boostingEstimators, boostingMaxDepth, boostingLearningRate)
		}
		return FitRidge(X, y, ridgeAlpha)
	}

	fitted := fit(subsetX(cleanX, trainIdx), subsetY(cleanY, trainIdx))
	yTrue := subsetY(cleanY, testIdx)
	yPred := make([]float64, len(testIdx))
	for i, idx := range testIdx {
		yPred[i] = fitted.Predict(cleanX[idx])
	}

	metrics := Metrics{
		R2:   r2Score(yTrue, yPred),
		MAE:  maeScore(yTrue, yPred),
		RMSE: rmseScore(yTrue, yPred),
	}

	folds, cvStrategy := t.foldsFor(groups, nGroups, n, opts.CVFolds, useGroupSplit)
	scores := crossValR2(fit, cleanX, cleanY, folds)
	metrics.CVR2Mean, metrics.CVR2Std = meanStd(scores)

	var importances []float64
	model := &Model{
		Type:         modelType,
		FeatureNames: ds.FeatureNames,
		Imputer:      imputer,
	}
	switch m := fitted.(type) {
	case *GradientBoosting:
		model.Boosting = m
		importances = m.Importances()
	case *Ridge:
		model.Ridge = m
		importances = m.Importances()
	}
	importance := make(map[string]float64, len(ds.FeatureNames))
	for j, name := range ds.FeatureNames {
		if j < len(importances) {
			importance[name] = importances[j]
		}
	}

	info := ModelInfo{
		Target:            targetCol,
		ModelType:         modelType,
		Metrics:           metrics,
		FeatureImportance: importance,
		FeatureNames:      ds.FeatureNames,
		Hyperparameters: map[string]any{
			"model_type":     modelType,
			"group_aware":    useGroupSplit,
			"split_strategy": splitStrategy,
			"cv_strategy":    cvStrategy,
			"test_size":      opts.TestSize,
			"seed":           opts.Seed,
		},
		NSamples:  n,
		NFeatures: len(ds.FeatureNames),
	}
	if err := t.registry.Register(model, info); err != nil {
		return nil, err
	}

	t.logger.Info("model trained",
		zap.String("target", targetCol),
		zap.String("model", modelType),
		zap.Int("samples", n),
		zap.Int("groups", nGroups),
		zap.String("split", splitStrategy),
		zap.String("cv", cvStrategy),
		zap.Float64("r2", metrics.R2),
		zap.Float64("cv_r2_mean", metrics.CVR2Mean))
	return &info, nil
}

// foldsFor picks the cross-validation scheme: leave-one-group-out with few
// groups, group k-fold with many, plain k-fold without usable groups.
func (t *Trainer) foldsFor(groups []string, nGroups, n, cvFolds int, useGroups bool) ([]fold, string) {
	if useGroups {
		if nGroups <= 5 {
			return leaveOneGroupOut(groups), "leave_one_group_out"
		}
		k := cvFolds
		if k > nGroups {
			k = nGroups
		}
		return groupKFolds(groups, k), "group_kfold"
	}
	return kFolds(n, cvFolds), "kfold"
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return m, math.Sqrt(ss / float64(len(values)))
}
