package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Params is an opaque key-value blob stored as JSON (run input parameters,
// extra battery parameters).
type Params map[string]any

// Value implements driver.Valuer for database storage.
func (p Params) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *Params) Scan(value any) error {
	if value == nil {
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return nil
	}
	return json.Unmarshal(raw, p)
}

// Client is a business entity owning simulation runs.
type Client struct {
	ID          int64     `json:"client_id" db:"client_id"`
	Name        string    `json:"client_name" db:"client_name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Run is one simulation study belonging to a client.
// (client_id, run_name) is unique.
type Run struct {
	ID              int64      `json:"run_id" db:"run_id"`
	ClientID        int64      `json:"client_id" db:"client_id"`
	ClientName      string     `json:"client_name,omitempty" db:"client_name"`
	Name            string     `json:"run_name" db:"run_name"`
	Description     string     `json:"description,omitempty" db:"description"`
	RunDate         *time.Time `json:"run_date,omitempty" db:"run_date"`
	InputParameters Params     `json:"input_parameters,omitempty" db:"input_parameters"`
	FolderPath      string     `json:"folder_path,omitempty" db:"folder_path"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// BatteryConfig is one simulated battery sizing/operating scenario within a
// run. (run_id, config_name) is unique. Exactly one config per run should be
// the zero-battery baseline.
type BatteryConfig struct {
	ID                 int64     `json:"config_id" db:"config_id"`
	RunID              int64     `json:"run_id" db:"run_id"`
	Name               string    `json:"config_name" db:"config_name"`
	IsBaseline         bool      `json:"is_baseline" db:"is_baseline"`
	CapacityKWh        *float64  `json:"battery_capacity_kwh,omitempty" db:"battery_capacity_kwh"`
	PowerKW            *float64  `json:"battery_power_kw,omitempty" db:"battery_power_kw"`
	Efficiency         *float64  `json:"battery_efficiency,omitempty" db:"battery_efficiency"`
	OtherParams        Params    `json:"other_params,omitempty" db:"other_params"`
	KPIFilePath        string    `json:"kpi_file_path,omitempty" db:"kpi_file_path"`
	TimeseriesFilePath string    `json:"timeseries_file_path,omitempty" db:"timeseries_file_path"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// KPI is one scalar metric attached to a battery configuration.
// (config_id, kpi_name) is unique; re-import overwrites value and unit.
// The same table carries raw simulation outputs and derived benefit values,
// distinguished only by name.
type KPI struct {
	ID       int64   `json:"kpi_id" db:"kpi_id"`
	ConfigID int64   `json:"config_id" db:"config_id"`
	Name     string  `json:"kpi_name" db:"kpi_name"`
	Value    float64 `json:"kpi_value" db:"kpi_value"`
	Unit     string  `json:"kpi_unit,omitempty" db:"kpi_unit"`
}

// ConfigMeta is the denormalized view of a configuration used by the feature
// extraction pipeline: config metadata joined with client/run names and the
// primary target KPI value (NaN when absent).
type ConfigMeta struct {
	ConfigID           int64    `json:"config_id"`
	ClientName         string   `json:"client_name"`
	RunName            string   `json:"run_name"`
	RunID              int64    `json:"run_id"`
	ConfigName         string   `json:"config_name"`
	CapacityKWh        *float64 `json:"battery_capacity_kwh"`
	PowerKW            *float64 `json:"battery_power_kw"`
	Efficiency         *float64 `json:"battery_efficiency"`
	IsBaseline         bool     `json:"is_baseline"`
	TimeseriesFilePath string   `json:"timeseries_file_path"`
	Target             float64  `json:"target"`
}

// MetadataValue looks up a direct-input name against the metadata columns of
// a configuration. The second return reports whether the name is a metadata
// column with a present value.
func (m ConfigMeta) MetadataValue(name string) (float64, bool) {
	switch name {
	case "battery_capacity_kwh":
		return deref(m.CapacityKWh)
	case "battery_power_kw":
		return deref(m.PowerKW)
	case "battery_efficiency":
		return deref(m.Efficiency)
	}
	return 0, false
}

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}
