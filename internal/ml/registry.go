package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Model types stored in the registry.
const (
	ModelRidge            = "ridge"
	ModelGradientBoosting = "gradient_boosting"
)

// Model is a serializable trained model: the estimator plus everything
// serving needs to rebuild the input vector (feature order, imputation).
type Model struct {
	Type         string            `json:"type"`
	FeatureNames []string          `json:"feature_names"`
	Imputer      *Imputer          `json:"imputer"`
	Ridge        *Ridge            `json:"ridge,omitempty"`
	Boosting     *GradientBoosting `json:"boosting,omitempty"`
}

// Predict imputes and evaluates one raw feature vector, ordered like
// FeatureNames.
func (m *Model) Predict(x []float64) (float64, error) {
	if m.Imputer != nil {
		x = m.Imputer.TransformRow(x)
	}
	switch m.Type {
	case ModelRidge:
		if m.Ridge == nil {
			return 0, errors.New("ridge artifact missing")
		}
		return m.Ridge.Predict(x), nil
	case ModelGradientBoosting:
		if m.Boosting == nil {
			return 0, errors.New("boosting artifact missing")
		}
		return m.Boosting.Predict(x), nil
	}
	return 0, fmt.Errorf("unknown model type %q", m.Type)
}

// Metrics is the evaluation result stored per model.
type Metrics struct {
	R2       float64 `json:"r2"`
	MAE      float64 `json:"mae"`
	RMSE     float64 `json:"rmse"`
	CVR2Mean float64 `json:"cv_r2_mean"`
	CVR2Std  float64 `json:"cv_r2_std"`
}

// ModelInfo is one manifest entry.
type ModelInfo struct {
	Target            string             `json:"target"`
	ModelType         string             `json:"model_type"`
	Metrics           Metrics            `json:"metrics"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
	// FeatureNames fixes the input order; importance keys carry no order.
	FeatureNames    []string       `json:"feature_names"`
	Hyperparameters map[string]any `json:"hyperparameters"`
	NSamples        int            `json:"n_samples"`
	NFeatures       int            `json:"n_features"`
	TrainedAt       string         `json:"trained_at"`
	ArtifactFile    string         `json:"artifact_file"`
}

// Registry persists trained models as JSON artifacts next to a
// registry.json manifest keyed by target name. Re-registering a target
// overwrites its previous entry and artifact.
type Registry struct {
	dir string
	mu  sync.Mutex
}

// NewRegistry opens (and creates if needed) a model registry directory.
func NewRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model registry dir: %w", err)
	}
	return &Registry{dir: dir}, nil
}

// Dir returns the registry directory.
func (r *Registry) Dir() string {
	return r.dir
}

func (r *Registry) manifestPath() string {
	return filepath.Join(r.dir, "registry.json")
}

func artifactName(target string) string {
	clean := strings.TrimPrefix(target, "target_")
	return "model_" + clean + ".json"
}

func (r *Registry) readManifest() (map[string]ModelInfo, error) {
	raw, err := os.ReadFile(r.manifestPath())
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]ModelInfo), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read model manifest: %w", err)
	}
	manifest := make(map[string]ModelInfo)
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parse model manifest: %w", err)
	}
	return manifest, nil
}

func (r *Registry) writeManifest(manifest map[string]ModelInfo) error {
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model manifest: %w", err)
	}
	if err := os.WriteFile(r.manifestPath(), raw, 0o644); err != nil {
		return fmt.Errorf("write model manifest: %w", err)
	}
	return nil
}

// Register stores a model artifact and its manifest entry.
func (r *Registry) Register(model *Model, info ModelInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info.ModelType = model.Type
	info.FeatureNames = model.FeatureNames
	info.TrainedAt = time.Now().UTC().Format(time.RFC3339)
	info.ArtifactFile = artifactName(info.Target)

	raw, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("encode model artifact: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.dir, info.ArtifactFile), raw, 0o644); err != nil {
		return fmt.Errorf("write model artifact: %w", err)
	}

	manifest, err := r.readManifest()
	if err != nil {
		return err
	}
	manifest[info.Target] = info
	return r.writeManifest(manifest)
}

// List returns all manifest entries.
func (r *Registry) List() (map[string]ModelInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readManifest()
}

// ErrModelNotFound is returned when no model is registered for a target.
var ErrModelNotFound = errors.New("model not found")

// Load reads one model artifact plus its manifest entry. The target may be
// given with or without the target_ prefix.
func (r *Registry) Load(target string) (*Model, *ModelInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest, err := r.readManifest()
	if err != nil {
		return nil, nil, err
	}
	info, ok := manifest[target]
	if !ok {
		info, ok = manifest["target_"+target]
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrModelNotFound, target)
	}

	raw, err := os.ReadFile(filepath.Join(r.dir, info.ArtifactFile))
	if err != nil {
		return nil, nil, fmt.Errorf("read model artifact: %w", err)
	}
	var model Model
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, nil, fmt.Errorf("parse model artifact: %w", err)
	}
	return &model, &info, nil
}
