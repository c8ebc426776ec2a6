package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/flexbatt/flexbatt/internal/models"
)

// ConfigRepository manages battery configuration rows.
type ConfigRepository struct {
	db *DB
}

// NewConfigRepository creates a battery configuration repository.
func NewConfigRepository(db *DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// Upsert inserts the configuration or, on a duplicate (run_id, config_name),
// refreshes its mutable columns. Lifecycle is tied to import: re-importing a
// folder overwrites rather than duplicates.
func (r *ConfigRepository) Upsert(ctx context.Context, cfg *models.BatteryConfig) error {
	query := `
		INSERT INTO battery_configs (run_id, config_name, is_baseline, battery_capacity_kwh,
			battery_power_kw, battery_efficiency, other_params, kpi_file_path,
			timeseries_file_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, config_name) DO UPDATE SET
			is_baseline = EXCLUDED.is_baseline,
			battery_capacity_kwh = EXCLUDED.battery_capacity_kwh,
			battery_power_kw = EXCLUDED.battery_power_kw,
			battery_efficiency = EXCLUDED.battery_efficiency,
			other_params = EXCLUDED.other_params,
			kpi_file_path = EXCLUDED.kpi_file_path,
			timeseries_file_path = EXCLUDED.timeseries_file_path
		RETURNING config_id, created_at
	`
	now := time.Now().UTC()
	err := r.db.queryRow(ctx, query,
		cfg.RunID,
		cfg.Name,
		cfg.IsBaseline,
		cfg.CapacityKWh,
		cfg.PowerKW,
		cfg.Efficiency,
		cfg.OtherParams,
		cfg.KPIFilePath,
		cfg.TimeseriesFilePath,
		now,
	).Scan(&cfg.ID, &cfg.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert battery config: %w", err)
	}
	return nil
}

// GetByID looks a configuration up by id.
func (r *ConfigRepository) GetByID(ctx context.Context, configID int64) (*models.BatteryConfig, error) {
	query := selectConfigColumns + ` WHERE config_id = ?`
	cfg, err := scanConfig(r.db.queryRow(ctx, query, configID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get battery config: %w", err)
	}
	return cfg, nil
}

// ListByRun returns every configuration in a run ordered by capacity
// ascending with nulls first, then config id.
func (r *ConfigRepository) ListByRun(ctx context.Context, runID int64) ([]*models.BatteryConfig, error) {
	query := selectConfigColumns + `
		WHERE run_id = ?
		ORDER BY (battery_capacity_kwh IS NULL) DESC, battery_capacity_kwh, config_id
	`
	rows, err := r.db.query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list battery configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.BatteryConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan battery config: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

const selectConfigColumns = `
	SELECT config_id, run_id, config_name, is_baseline, battery_capacity_kwh,
		battery_power_kw, battery_efficiency, other_params, kpi_file_path,
		timeseries_file_path, created_at
	FROM battery_configs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (*models.BatteryConfig, error) {
	cfg := &models.BatteryConfig{}
	var kpiPath, tsPath sql.NullString
	err := row.Scan(
		&cfg.ID,
		&cfg.RunID,
		&cfg.Name,
		&cfg.IsBaseline,
		&cfg.CapacityKWh,
		&cfg.PowerKW,
		&cfg.Efficiency,
		&cfg.OtherParams,
		&kpiPath,
		&tsPath,
		&cfg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	cfg.KPIFilePath = kpiPath.String
	cfg.TimeseriesFilePath = tsPath.String
	return cfg, nil
}

// ListMeta returns the denormalized config view consumed by the feature
// extraction pipeline: config metadata joined with client/run names plus the
// value of targetKPI (NaN when the config has no such KPI row). Baseline
// configurations are excluded unless includeBaseline is set.
func (r *ConfigRepository) ListMeta(ctx context.Context, targetKPI, clientFilter string, includeBaseline bool) ([]models.ConfigMeta, error) {
	query := `
		SELECT bc.config_id, c.client_name, r.run_name, r.run_id, bc.config_name,
			bc.battery_capacity_kwh, bc.battery_power_kw, bc.battery_efficiency,
			bc.is_baseline, bc.timeseries_file_path, kpi.kpi_value
		FROM battery_configs bc
		JOIN runs r ON bc.run_id = r.run_id
		JOIN clients c ON r.client_id = c.client_id
		LEFT JOIN kpi_summary kpi
			ON bc.config_id = kpi.config_id AND kpi.kpi_name = ?
	`
	args := []any{targetKPI}
	var conds []string
	if !includeBaseline {
		conds = append(conds, "bc.is_baseline = FALSE")
	}
	if clientFilter != "" {
		conds = append(conds, "c.client_name = ?")
		args = append(args, clientFilter)
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY c.client_name, r.run_name, bc.battery_capacity_kwh, bc.config_id"

	rows, err := r.db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list config meta: %w", err)
	}
	defer rows.Close()

	var metas []models.ConfigMeta
	for rows.Next() {
		var (
			m      models.ConfigMeta
			tsPath sql.NullString
			target sql.NullFloat64
		)
		err := rows.Scan(
			&m.ConfigID,
			&m.ClientName,
			&m.RunName,
			&m.RunID,
			&m.ConfigName,
			&m.CapacityKWh,
			&m.PowerKW,
			&m.Efficiency,
			&m.IsBaseline,
			&tsPath,
			&target,
		)
		if err != nil {
			return nil, fmt.Errorf("scan config meta: %w", err)
		}
		m.TimeseriesFilePath = tsPath.String
		if target.Valid {
			m.Target = target.Float64
		} else {
			m.Target = math.NaN()
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}
