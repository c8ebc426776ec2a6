package benefit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/flexbatt/flexbatt/internal/baseline"
	"github.com/flexbatt/flexbatt/internal/models"
	"github.com/flexbatt/flexbatt/internal/repository"
)

// Definition describes how one benefit is derived from KPI differences.
// A non-empty Components list marks a composite benefit: the sum of the
// baseline-minus-battery differences of every component, valid only when all
// components are present on both sides.
type Definition struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Unit        string   `json:"unit"`
	BaselineKPI string   `json:"baseline_kpi,omitempty"`
	Components  []string `json:"component_kpis,omitempty"`
}

// Definitions lists the derived outcome variables, in output order.
// All benefits are baseline minus battery, so positive means savings.
var Definitions = []Definition{
	{
		Name:        "peak_shaving_benefit",
		Description: "Reduction in total grid fee costs from peak shaving",
		Unit:        "EUR/year",
		BaselineKPI: "annual_total_grid_fee_cost_ic",
	},
	{
		Name:        "energy_procurement_optimization",
		Description: "Savings from optimized day-ahead energy procurement",
		Unit:        "EUR/year",
		BaselineKPI: "annual_total_energy_trade_cost_da",
	},
	{
		Name:        "trading_revenue",
		Description: "Revenue from intraday and imbalance/continuous trading",
		Unit:        "EUR/year",
		Components: []string{
			"annual_total_energy_trade_cost_ia",
			"annual_total_energy_trade_cost_ic",
		},
	},
}

// Row is one configuration's calculated benefits.
type Row struct {
	ConfigID         int64              `json:"config_id"`
	ClientName       string             `json:"client_name"`
	RunName          string             `json:"run_name"`
	ConfigName       string             `json:"config_name"`
	CapacityKWh      *float64           `json:"battery_capacity_kwh"`
	PowerKW          *float64           `json:"battery_power_kw"`
	IsBaseline       bool               `json:"is_baseline"`
	BaselineConfigID int64              `json:"baseline_config_id"`
	Benefits         map[string]float64 `json:"benefits"`
}

// Calculator derives benefit values by comparing each configuration to its
// run's zero-battery baseline.
type Calculator struct {
	runs     *repository.RunRepository
	configs  *repository.ConfigRepository
	kpis     *repository.KPIRepository
	resolver *baseline.Resolver
	logger   *zap.Logger
}

// NewCalculator creates a benefit calculator.
func NewCalculator(
	runs *repository.RunRepository,
	configs *repository.ConfigRepository,
	kpis *repository.KPIRepository,
	resolver *baseline.Resolver,
	logger *zap.Logger,
) *Calculator {
	return &Calculator{runs: runs, configs: configs, kpis: kpis, resolver: resolver, logger: logger}
}

// calculate evaluates every definition over one baseline/battery KPI pair.
// A missing or non-finite value on either side makes that benefit NaN; a
// composite benefit is NaN as soon as any component fails.
func calculate(baselineKPIs, batteryKPIs map[string]float64) map[string]float64 {
	diff := func(name string) (float64, bool) {
		b, okB := baselineKPIs[name]
		v, okV := batteryKPIs[name]
		if !okB || !okV || math.IsNaN(b) || math.IsNaN(v) || math.IsInf(b, 0) || math.IsInf(v, 0) {
			return 0, false
		}
		return b - v, true
	}

	benefits := make(map[string]float64, len(Definitions))
	for _, def := range Definitions {
		if len(def.Components) > 0 {
			total := 0.0
			valid := true
			for _, component := range def.Components {
				d, ok := diff(component)
				if !ok {
					valid = false
					break
				}
				total += d
			}
			if valid {
				benefits[def.Name] = total
			} else {
				benefits[def.Name] = math.NaN()
			}
			continue
		}
		if d, ok := diff(def.BaselineKPI); ok {
			benefits[def.Name] = d
		} else {
			benefits[def.Name] = math.NaN()
		}
	}
	return benefits
}

// CalculateForRun calculates benefits for every configuration in a run.
// A missing run or unresolvable baseline logs a warning and returns an empty
// result rather than an error, so bulk calculation keeps going.
func (c *Calculator) CalculateForRun(ctx context.Context, clientName, runName string, includeBaseline bool) ([]Row, error) {
	run, err := c.runs.GetByName(ctx, clientName, runName)
	if errors.Is(err, repository.ErrNotFound) {
		c.logger.Warn("run not found", zap.String("client", clientName), zap.String("run", runName))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.calculateForRunID(ctx, run.ID, clientName, runName, includeBaseline)
}

func (c *Calculator) calculateForRunID(ctx context.Context, runID int64, clientName, runName string, includeBaseline bool) ([]Row, error) {
	baselineID, baselineKPIs, err := c.resolver.KPIs(ctx, runID)
	if errors.Is(err, baseline.ErrNoBaseline) {
		c.logger.Warn("no baseline found for run",
			zap.String("client", clientName), zap.String("run", runName))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	configs, err := c.configs.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for _, cfg := range configs {
		isBase := cfg.IsBaseline || cfg.ID == baselineID
		if isBase && !includeBaseline {
			continue
		}

		var benefits map[string]float64
		if isBase {
			// The baseline is the reference point; its benefits are zero by
			// definition.
			benefits = make(map[string]float64, len(Definitions))
			for _, def := range Definitions {
				benefits[def.Name] = 0
			}
		} else {
			batteryKPIs, err := c.kpis.MapByConfig(ctx, cfg.ID)
			if err != nil {
				return nil, fmt.Errorf("load kpis for config %d: %w", cfg.ID, err)
			}
			benefits = calculate(baselineKPIs, batteryKPIs)
		}

		rows = append(rows, Row{
			ConfigID:         cfg.ID,
			ClientName:       clientName,
			RunName:          runName,
			ConfigName:       cfg.Name,
			CapacityKWh:      cfg.CapacityKWh,
			PowerKW:          cfg.PowerKW,
			IsBaseline:       isBase,
			BaselineConfigID: baselineID,
			Benefits:         benefits,
		})
	}
	return rows, nil
}

// CalculateAll calculates benefits for every run, optionally filtered by
// client name.
func (c *Calculator) CalculateAll(ctx context.Context, clientFilter string, includeBaseline bool) ([]Row, error) {
	runs, err := c.runs.List(ctx, clientFilter)
	if err != nil {
		return nil, err
	}

	var all []Row
	for _, run := range runs {
		rows, err := c.calculateForRunID(ctx, run.ID, run.ClientName, run.Name, includeBaseline)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	return all, nil
}

// SaveAsKPIs writes calculated benefits into the KPI store so the ML
// pipeline can consume them like any other KPI. NaN values are never saved.
// Returns the number of KPI rows written.
func (c *Calculator) SaveAsKPIs(ctx context.Context, rows []Row) (int, error) {
	saved := 0
	for _, row := range rows {
		for _, def := range Definitions {
			value, ok := row.Benefits[def.Name]
			if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
				continue
			}
			kpi := &models.KPI{
				ConfigID: row.ConfigID,
				Name:     def.Name,
				Value:    value,
				Unit:     def.Unit,
			}
			if err := c.kpis.Upsert(ctx, kpi); err != nil {
				return saved, fmt.Errorf("save benefit %s for config %d: %w", def.Name, row.ConfigID, err)
			}
			saved++
		}
	}
	// Saved benefits change what the baseline KPI cache would return next.
	c.resolver.ClearCache()
	return saved, nil
}

// SummaryRow is the distribution of one benefit across configurations.
type SummaryRow struct {
	BenefitName string  `json:"benefit_name"`
	Description string  `json:"description"`
	Unit        string  `json:"unit"`
	Count       int     `json:"count"`
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
}

// Summarize computes count/mean/std/min/max per benefit over the valid
// (non-NaN) values in rows.
func Summarize(rows []Row) []SummaryRow {
	summary := make([]SummaryRow, 0, len(Definitions))
	for _, def := range Definitions {
		var values []float64
		for _, row := range rows {
			if v, ok := row.Benefits[def.Name]; ok && !math.IsNaN(v) {
				values = append(values, v)
			}
		}
		s := SummaryRow{
			BenefitName: def.Name,
			Description: def.Description,
			Unit:        def.Unit,
			Count:       len(values),
			Mean:        math.NaN(),
			Std:         math.NaN(),
			Min:         math.NaN(),
			Max:         math.NaN(),
		}
		if len(values) > 0 {
			s.Mean, s.Std, s.Min, s.Max = describe(values)
		}
		summary = append(summary, s)
	}
	return summary
}

func describe(values []float64) (mean, std, min, max float64) {
	min, max = values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean = sum / float64(len(values))
	if len(values) < 2 {
		return mean, math.NaN(), min, max
	}
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	std = math.Sqrt(ss / float64(len(values)-1))
	return mean, std, min, max
}
