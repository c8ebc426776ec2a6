package handlers

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/flexbatt/flexbatt/internal/benefit"
	"github.com/flexbatt/flexbatt/internal/feature"
	"github.com/flexbatt/flexbatt/internal/importer"
	"github.com/flexbatt/flexbatt/internal/ml"
	"github.com/flexbatt/flexbatt/internal/repository"
	"github.com/flexbatt/flexbatt/pkg/ws"
)

// Handler wires the HTTP API to the platform services.
type Handler struct {
	logger     *zap.Logger
	clientRepo *repository.ClientRepository
	runRepo    *repository.RunRepository
	configRepo *repository.ConfigRepository
	kpiRepo    *repository.KPIRepository
	calculator *benefit.Calculator
	pipeline   *feature.Pipeline
	store      *feature.Store
	trainer    *ml.Trainer
	predictor  *ml.Predictor
	registry   *ml.Registry
	features   *ml.FeatureBuilder
	importer   *importer.Importer
	dataRoot   string
	targetKPIs []string
	wsHub      *ws.Hub
	upgrader   websocket.Upgrader
}

// NewHandler creates the API handler.
func NewHandler(
	logger *zap.Logger,
	clientRepo *repository.ClientRepository,
	runRepo *repository.RunRepository,
	configRepo *repository.ConfigRepository,
	kpiRepo *repository.KPIRepository,
	calculator *benefit.Calculator,
	pipeline *feature.Pipeline,
	store *feature.Store,
	trainer *ml.Trainer,
	predictor *ml.Predictor,
	registry *ml.Registry,
	features *ml.FeatureBuilder,
	imp *importer.Importer,
	dataRoot string,
	targetKPIs []string,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:     logger,
		clientRepo: clientRepo,
		runRepo:    runRepo,
		configRepo: configRepo,
		kpiRepo:    kpiRepo,
		calculator: calculator,
		pipeline:   pipeline,
		store:      store,
		trainer:    trainer,
		predictor:  predictor,
		registry:   registry,
		features:   features,
		importer:   imp,
		dataRoot:   dataRoot,
		targetKPIs: targetKPIs,
		wsHub:      wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers all routes on the engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// Entities
		api.GET("/clients", h.ListClients)
		api.GET("/runs", h.ListRuns)
		api.GET("/configs", h.ListConfigs)
		api.GET("/kpis", h.ListKPIs)
		api.GET("/timeseries", h.GetTimeseries)
		api.POST("/import", h.RunImport)

		// Benefits
		api.GET("/benefits", h.ListBenefits)
		api.GET("/benefit-summary", h.BenefitSummary)
		api.POST("/recalculate-benefits", h.RecalculateBenefits)

		// Feature pipeline
		api.POST("/features/extract", h.ExtractFeatures)
		api.GET("/features/status", h.PipelineStatus)
		api.GET("/features/summary", h.FeatureSummary)
		api.POST("/features/reset", h.ResetFeatures)

		// Models
		api.GET("/models", h.ListModels)
		api.POST("/models/train", h.TrainModels)
		api.POST("/predict", h.Predict)
	}

	// WebSocket progress feed
	r.GET("/ws", h.HandleWebSocket)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", h.HealthCheck)
}

// jsonFloat converts non-finite values to null so the response stays valid
// JSON.
func jsonFloat(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func jsonFloatMap(values map[string]float64) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for name, v := range values {
		out[name] = jsonFloat(v)
	}
	return out
}

// HandleWebSocket upgrades the connection and attaches it to the hub.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"pipeline_state": h.pipeline.Status().State,
		"ws_clients":     h.wsHub.ClientCount(),
	})
}
