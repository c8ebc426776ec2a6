package handlers

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/flexbatt/flexbatt/internal/ml"
)

func modelInfoJSON(info ml.ModelInfo) gin.H {
	return gin.H{
		"target":     info.Target,
		"model_type": info.ModelType,
		"metrics": gin.H{
			"r2":         jsonFloat(info.Metrics.R2),
			"mae":        jsonFloat(info.Metrics.MAE),
			"rmse":       jsonFloat(info.Metrics.RMSE),
			"cv_r2_mean": jsonFloat(info.Metrics.CVR2Mean),
			"cv_r2_std":  jsonFloat(info.Metrics.CVR2Std),
		},
		"feature_importance": jsonFloatMap(info.FeatureImportance),
		"hyperparameters":    info.Hyperparameters,
		"n_samples":          info.NSamples,
		"n_features":         info.NFeatures,
		"trained_at":         info.TrainedAt,
	}
}

// ListModels returns the manifest of registered models.
func (h *Handler) ListModels(c *gin.Context) {
	manifest, err := h.registry.List()
	if err != nil {
		h.logger.Error("Failed to list models", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list models"})
		return
	}

	targets := make([]string, 0, len(manifest))
	for target := range manifest {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	data := make([]gin.H, 0, len(targets))
	for _, target := range targets {
		data = append(data, modelInfoJSON(manifest[target]))
	}
	c.JSON(http.StatusOK, gin.H{"data": data, "count": len(data)})
}

// trainRequest is the POST /api/models/train body.
type trainRequest struct {
	Targets    []string `json:"targets"`
	ModelType  string   `json:"model_type"`
	GroupAware *bool    `json:"group_aware"`
}

// TrainModels trains one model per target and registers the results. Without
// explicit targets the configured target KPIs are used.
func (h *Handler) TrainModels(c *gin.Context) {
	var req trainRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	targets := req.Targets
	if len(targets) == 0 {
		targets = h.targetKPIs
	}
	opts := ml.DefaultTrainOptions()
	if req.ModelType != "" {
		opts.ModelType = req.ModelType
	}
	if req.GroupAware != nil {
		opts.GroupAware = *req.GroupAware
	}

	infos, err := h.trainer.TrainAll(targets, opts)
	if err != nil {
		h.logger.Error("Training failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Retrained artifacts replace whatever the predictor has cached.
	h.predictor.Invalidate()

	data := make([]gin.H, 0, len(infos))
	for _, info := range infos {
		data = append(data, modelInfoJSON(info))
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Training finished",
		"trained": len(data),
		"data":    data,
	})
}

// predictRequest is the POST /api/predict body. Target is optional; without
// it every registered model is evaluated. Callers either send a ready feature
// map, or raw inputs plus a preprocessed load timeseries path and let the
// server rebuild the feature set.
type predictRequest struct {
	Target         string             `json:"target"`
	Features       map[string]float64 `json:"features"`
	Inputs         map[string]float64 `json:"inputs"`
	TimeseriesPath string             `json:"timeseries_path"`
}

// Predict evaluates trained models on a named feature map. Features a model
// expects but the map lacks are imputed with the training medians.
func (h *Handler) Predict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	features := req.Features
	if features == nil {
		if req.Inputs == nil && req.TimeseriesPath == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "features, inputs or timeseries_path is required"})
			return
		}
		built, err := h.features.Build(req.Inputs, req.TimeseriesPath)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		features = built
	}

	if req.Target != "" {
		pred, err := h.predictor.Predict(req.Target, features)
		if errors.Is(err, ml.ErrModelNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Model not found"})
			return
		}
		if err != nil {
			h.logger.Error("Prediction failed", zap.String("target", req.Target), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Prediction failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": []ml.Prediction{*pred}})
		return
	}

	preds, err := h.predictor.PredictAll(features)
	if err != nil {
		h.logger.Error("Prediction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Prediction failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": preds})
}
