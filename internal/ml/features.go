package ml

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/flexbatt/flexbatt/internal/config"
	"github.com/flexbatt/flexbatt/internal/models"
	"github.com/flexbatt/flexbatt/internal/timeseries"
)

// FeatureBuilder recomputes the training feature set at serving time, so
// callers predict from raw inputs instead of hand-building the manifest's
// feature vector. The same extraction config that produced the training
// matrix must be used, otherwise feature names will not line up.
type FeatureBuilder struct {
	extraction *config.Extraction
}

// NewFeatureBuilder creates a serving-time feature builder.
func NewFeatureBuilder(extraction *config.Extraction) *FeatureBuilder {
	return &FeatureBuilder{extraction: extraction}
}

// Build merges direct inputs with load-profile features extracted from an
// optional preprocessed timeseries CSV. Direct inputs win on name clashes;
// features the models expect but the result lacks are imputed downstream.
func (b *FeatureBuilder) Build(direct map[string]float64, timeseriesPath string) (map[string]float64, error) {
	features := make(map[string]float64, len(direct))
	if timeseriesPath != "" {
		table, err := timeseries.ReadCSV(timeseriesPath)
		if err != nil {
			return nil, fmt.Errorf("read serving timeseries: %w", err)
		}
		for name, v := range timeseries.Extract(table, b.extraction) {
			features[name] = v
		}
	}
	for name, v := range direct {
		features[name] = v
	}
	return features, nil
}

// ReadDirectInputs loads a direct-inputs JSON file (name -> value).
// Non-numeric values (booleans, nulls, strings, lists) are skipped, the same
// way the KPI importer skips them.
func ReadDirectInputs(path string) (map[string]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read direct inputs: %w", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("parse direct inputs: %w", err)
	}
	inputs := make(map[string]float64, len(decoded))
	for name, v := range decoded {
		if f, ok := models.ValidFloat(v); ok {
			inputs[name] = f
		}
	}
	return inputs, nil
}
