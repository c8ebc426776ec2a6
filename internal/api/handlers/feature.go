package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/flexbatt/flexbatt/internal/feature"
)

// ExtractFeatures starts a feature extraction pass in the background. The
// request body is a feature.Options JSON object; an empty body uses the
// defaults. Progress is streamed over the websocket feed and available at
// /api/features/status.
func (h *Handler) ExtractFeatures(c *gin.Context) {
	opts := feature.DefaultOptions()
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	go func() {
		processed, err := h.pipeline.Run(context.Background(), opts)
		if err != nil {
			h.logger.Error("Feature extraction failed",
				zap.Int("processed", processed), zap.Error(err))
			return
		}
		h.logger.Info("Feature extraction completed", zap.Int("processed", processed))
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Feature extraction started",
		"options": opts,
	})
}

// PipelineStatus returns the current extraction progress.
func (h *Handler) PipelineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.pipeline.Status()})
}

// FeatureSummary describes the current feature store contents.
func (h *Handler) FeatureSummary(c *gin.Context) {
	summary, err := h.store.Describe()
	if err != nil {
		h.logger.Error("Failed to describe feature store", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to describe feature store"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

// ResetFeatures clears the feature store and the processed ledger, so the
// next extraction starts from scratch.
func (h *Handler) ResetFeatures(c *gin.Context) {
	if err := h.pipeline.Reset(); err != nil {
		h.logger.Error("Failed to reset feature store", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset feature store"})
		return
	}

	h.logger.Info("Feature store reset")
	c.JSON(http.StatusOK, gin.H{"message": "Feature store cleared"})
}
