package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flexbatt/flexbatt/internal/models"
)

// KPIRepository manages KPI summary rows.
type KPIRepository struct {
	db *DB
}

// NewKPIRepository creates a KPI repository.
func NewKPIRepository(db *DB) *KPIRepository {
	return &KPIRepository{db: db}
}

// Upsert inserts the KPI or, on a duplicate (config_id, kpi_name), replaces
// its value and unit. Recomputed benefits overwrite earlier ones this way.
func (r *KPIRepository) Upsert(ctx context.Context, kpi *models.KPI) error {
	query := `
		INSERT INTO kpi_summary (config_id, kpi_name, kpi_value, kpi_unit)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (config_id, kpi_name) DO UPDATE SET
			kpi_value = EXCLUDED.kpi_value,
			kpi_unit = EXCLUDED.kpi_unit
		RETURNING kpi_id
	`
	err := r.db.queryRow(ctx, query, kpi.ConfigID, kpi.Name, kpi.Value, kpi.Unit).
		Scan(&kpi.ID)
	if err != nil {
		return fmt.Errorf("upsert kpi: %w", err)
	}
	return nil
}

// MapByConfig returns all KPIs of one configuration as name -> value.
func (r *KPIRepository) MapByConfig(ctx context.Context, configID int64) (map[string]float64, error) {
	query := `SELECT kpi_name, kpi_value FROM kpi_summary WHERE config_id = ?`
	rows, err := r.db.query(ctx, query, configID)
	if err != nil {
		return nil, fmt.Errorf("load kpis: %w", err)
	}
	defer rows.Close()

	kpis := make(map[string]float64)
	for rows.Next() {
		var (
			name  string
			value float64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan kpi: %w", err)
		}
		kpis[name] = value
	}
	return kpis, rows.Err()
}

// KPIFilter narrows the List query. Zero values mean no filtering.
type KPIFilter struct {
	ClientName string
	RunName    string
	ConfigName string
	KPIName    string
}

// KPIRow is the joined view returned by List for the API.
type KPIRow struct {
	ClientName string  `json:"client_name"`
	RunName    string  `json:"run_name"`
	ConfigName string  `json:"config_name"`
	ConfigID   int64   `json:"config_id"`
	IsBaseline bool    `json:"is_baseline"`
	KPIName    string  `json:"kpi_name"`
	KPIValue   float64 `json:"kpi_value"`
	KPIUnit    string  `json:"kpi_unit,omitempty"`
}

// List returns KPI rows joined with their config, run and client names.
func (r *KPIRepository) List(ctx context.Context, filter KPIFilter) ([]KPIRow, error) {
	query := `
		SELECT c.client_name, rn.run_name, bc.config_name, bc.config_id,
			bc.is_baseline, k.kpi_name, k.kpi_value, k.kpi_unit
		FROM kpi_summary k
		JOIN battery_configs bc ON k.config_id = bc.config_id
		JOIN runs rn ON bc.run_id = rn.run_id
		JOIN clients c ON rn.client_id = c.client_id
	`
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if filter.ClientName != "" {
		add("c.client_name = ?", filter.ClientName)
	}
	if filter.RunName != "" {
		add("rn.run_name = ?", filter.RunName)
	}
	if filter.ConfigName != "" {
		add("bc.config_name = ?", filter.ConfigName)
	}
	if filter.KPIName != "" {
		add("k.kpi_name = ?", filter.KPIName)
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY c.client_name, rn.run_name, bc.config_name, k.kpi_name"

	rows, err := r.db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list kpis: %w", err)
	}
	defer rows.Close()

	var result []KPIRow
	for rows.Next() {
		var (
			row  KPIRow
			unit sql.NullString
		)
		err := rows.Scan(
			&row.ClientName,
			&row.RunName,
			&row.ConfigName,
			&row.ConfigID,
			&row.IsBaseline,
			&row.KPIName,
			&row.KPIValue,
			&unit,
		)
		if err != nil {
			return nil, fmt.Errorf("scan kpi row: %w", err)
		}
		row.KPIUnit = unit.String
		result = append(result, row)
	}
	return result, rows.Err()
}

// DistinctNames returns every KPI name present in the store, sorted.
func (r *KPIRepository) DistinctNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.query(ctx, `SELECT DISTINCT kpi_name FROM kpi_summary ORDER BY kpi_name`)
	if err != nil {
		return nil, fmt.Errorf("list kpi names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan kpi name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
