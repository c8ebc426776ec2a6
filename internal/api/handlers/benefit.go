package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/flexbatt/flexbatt/internal/benefit"
	"github.com/flexbatt/flexbatt/internal/metrics"
)

// benefitRowJSON renders a benefit row with NaN values as null.
func benefitRowJSON(row benefit.Row) gin.H {
	return gin.H{
		"config_id":            row.ConfigID,
		"client_name":          row.ClientName,
		"run_name":             row.RunName,
		"config_name":          row.ConfigName,
		"battery_capacity_kwh": row.CapacityKWh,
		"battery_power_kw":     row.PowerKW,
		"is_baseline":          row.IsBaseline,
		"baseline_config_id":   row.BaselineConfigID,
		"benefits":             jsonFloatMap(row.Benefits),
	}
}

func (h *Handler) benefitRows(c *gin.Context) ([]benefit.Row, bool) {
	includeBaseline, _ := strconv.ParseBool(c.DefaultQuery("include_baseline", "false"))
	clientFilter := c.Query("client")
	runName := c.Query("run")

	var (
		rows []benefit.Row
		err  error
	)
	if runName != "" {
		if clientFilter == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "client is required with run"})
			return nil, false
		}
		rows, err = h.calculator.CalculateForRun(c.Request.Context(), clientFilter, runName, includeBaseline)
	} else {
		rows, err = h.calculator.CalculateAll(c.Request.Context(), clientFilter, includeBaseline)
	}
	if err != nil {
		h.logger.Error("Failed to calculate benefits", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to calculate benefits"})
		return nil, false
	}
	return rows, true
}

// ListBenefits calculates and returns benefit rows.
// ?client=&run=&include_baseline= narrow the result.
func (h *Handler) ListBenefits(c *gin.Context) {
	rows, ok := h.benefitRows(c)
	if !ok {
		return
	}

	data := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		data = append(data, benefitRowJSON(row))
	}
	c.JSON(http.StatusOK, gin.H{"data": data, "count": len(data)})
}

// BenefitSummary returns the distribution of each benefit across the
// calculated rows.
func (h *Handler) BenefitSummary(c *gin.Context) {
	rows, ok := h.benefitRows(c)
	if !ok {
		return
	}

	data := make([]gin.H, 0, len(benefit.Definitions))
	for _, s := range benefit.Summarize(rows) {
		data = append(data, gin.H{
			"benefit_name": s.BenefitName,
			"description":  s.Description,
			"unit":         s.Unit,
			"count":        s.Count,
			"mean":         jsonFloat(s.Mean),
			"std":          jsonFloat(s.Std),
			"min":          jsonFloat(s.Min),
			"max":          jsonFloat(s.Max),
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// RecalculateBenefits recomputes all benefits and writes them back to the KPI
// store so extraction can use them as targets.
func (h *Handler) RecalculateBenefits(c *gin.Context) {
	rows, err := h.calculator.CalculateAll(c.Request.Context(), c.Query("client"), false)
	if err != nil {
		h.logger.Error("Failed to calculate benefits", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to calculate benefits"})
		return
	}

	saved, err := h.calculator.SaveAsKPIs(c.Request.Context(), rows)
	if err != nil {
		h.logger.Error("Failed to save benefits", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save benefits"})
		return
	}
	metrics.BenefitRowsComputed.Add(float64(len(rows)))

	h.logger.Info("Benefits recalculated",
		zap.Int("configs", len(rows)), zap.Int("kpis_saved", saved))
	c.JSON(http.StatusOK, gin.H{
		"message":    "Benefits recalculated",
		"configs":    len(rows),
		"kpis_saved": saved,
	})
}
