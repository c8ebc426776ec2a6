package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/flexbatt/flexbatt/internal/repository"
	"github.com/flexbatt/flexbatt/internal/timeseries"
)

// ListClients returns all clients.
func (h *Handler) ListClients(c *gin.Context) {
	clients, err := h.clientRepo.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list clients", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list clients"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": clients})
}

// ListRuns returns all runs, optionally filtered by ?client=<name>.
func (h *Handler) ListRuns(c *gin.Context) {
	runs, err := h.runRepo.List(c.Request.Context(), c.Query("client"))
	if err != nil {
		h.logger.Error("Failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": runs})
}

// ListConfigs returns the battery configurations of one run, looked up by
// ?client=<name>&run=<name>.
func (h *Handler) ListConfigs(c *gin.Context) {
	clientName := c.Query("client")
	runName := c.Query("run")
	if clientName == "" || runName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client and run are required"})
		return
	}

	run, err := h.runRepo.GetByName(c.Request.Context(), clientName, runName)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get run"})
		return
	}

	configs, err := h.configRepo.ListByRun(c.Request.Context(), run.ID)
	if err != nil {
		h.logger.Error("Failed to list configs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list configs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": configs})
}

// ListKPIs returns KPI rows filtered by ?client=&run=&config=&kpi=.
func (h *Handler) ListKPIs(c *gin.Context) {
	filter := repository.KPIFilter{
		ClientName: c.Query("client"),
		RunName:    c.Query("run"),
		ConfigName: c.Query("config"),
		KPIName:    c.Query("kpi"),
	}

	kpis, err := h.kpiRepo.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list kpis", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list kpis"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": kpis, "count": len(kpis)})
}

// GetTimeseries reads the simulation timeseries of one configuration.
// ?config_id=<id> is required; ?columns=a,b selects columns and ?limit=<n>
// caps the number of rows returned.
func (h *Handler) GetTimeseries(c *gin.Context) {
	configID, err := strconv.ParseInt(c.Query("config_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid config_id"})
		return
	}

	cfg, err := h.configRepo.GetByID(c.Request.Context(), configID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Config not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get config", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get config"})
		return
	}
	if cfg.TimeseriesFilePath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Config has no timeseries file"})
		return
	}

	table, err := timeseries.ReadCSV(cfg.TimeseriesFilePath)
	if err != nil {
		h.logger.Error("Failed to read timeseries",
			zap.Int64("config_id", configID),
			zap.String("path", cfg.TimeseriesFilePath),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read timeseries"})
		return
	}

	selected := table.Order
	if raw := c.Query("columns"); raw != "" {
		selected = selected[:0:0]
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if table.HasColumn(name) {
				selected = append(selected, name)
			}
		}
	}

	n := table.Len()
	if raw := c.Query("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 && limit < n {
			n = limit
		}
	}

	timestamps := make([]string, n)
	for i := 0; i < n; i++ {
		timestamps[i] = table.Timestamps[i].Format("2006-01-02 15:04:05")
	}
	columns := make(map[string][]interface{}, len(selected))
	for _, name := range selected {
		values := table.Column(name)
		out := make([]interface{}, n)
		for i := 0; i < n; i++ {
			out[i] = jsonFloat(values[i])
		}
		columns[name] = out
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"config_id":  configID,
			"rows":       n,
			"total_rows": table.Len(),
			"timestamps": timestamps,
			"columns":    columns,
		},
	})
}

// RunImport scans the data root and upserts everything it finds.
// ?client=<name> limits the pass to one client folder.
func (h *Handler) RunImport(c *gin.Context) {
	stats, err := h.importer.Import(c.Request.Context(), h.dataRoot, c.Query("client"))
	if err != nil {
		h.logger.Error("Import failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}
