package ml

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Prediction is one model's output for a feature vector.
type Prediction struct {
	Target       string  `json:"target"`
	Value        float64 `json:"value"`
	ModelType    string  `json:"model_type"`
	MissingCount int     `json:"missing_features"`
}

// Predictor serves registered models. Loaded artifacts are cached until
// Invalidate is called (after retraining).
type Predictor struct {
	registry *Registry
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string]*Model
}

// NewPredictor creates a predictor over a registry.
func NewPredictor(registry *Registry, logger *zap.Logger) *Predictor {
	return &Predictor{
		registry: registry,
		logger:   logger,
		cache:    make(map[string]*Model),
	}
}

// Invalidate drops all cached models.
func (p *Predictor) Invalidate() {
	p.mu.Lock()
	p.cache = make(map[string]*Model)
	p.mu.Unlock()
}

func (p *Predictor) model(target string) (*Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.cache[target]; ok {
		return m, nil
	}
	m, _, err := p.registry.Load(target)
	if err != nil {
		return nil, err
	}
	p.cache[target] = m
	return m, nil
}

// Predict evaluates one target model on a named feature map. Features the
// model knows but the map lacks are imputed with the training medians;
// unknown extra features are ignored.
func (p *Predictor) Predict(target string, features map[string]float64) (*Prediction, error) {
	m, err := p.model(target)
	if err != nil {
		return nil, err
	}

	x := make([]float64, len(m.FeatureNames))
	missing := 0
	for j, name := range m.FeatureNames {
		if v, ok := features[name]; ok && !math.IsNaN(v) {
			x[j] = v
		} else {
			x[j] = math.NaN()
			missing++
		}
	}
	if missing > 0 {
		p.logger.Debug("imputing missing features",
			zap.String("target", target), zap.Int("missing", missing))
	}

	value, err := m.Predict(x)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", target, err)
	}
	return &Prediction{
		Target:       target,
		Value:        value,
		ModelType:    m.Type,
		MissingCount: missing,
	}, nil
}

// PredictAll evaluates every registered model on the same feature map.
func (p *Predictor) PredictAll(features map[string]float64) ([]Prediction, error) {
	manifest, err := p.registry.List()
	if err != nil {
		return nil, err
	}
	targets := make([]string, 0, len(manifest))
	for target := range manifest {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	predictions := make([]Prediction, 0, len(targets))
	for _, target := range targets {
		pred, err := p.Predict(target, features)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, *pred)
	}
	return predictions, nil
}
