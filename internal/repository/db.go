package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names for the two supported drivers.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// DB wraps the database handle together with its dialect.
//
// Queries throughout this package are written with ? placeholders and
// rebound to $N for Postgres. SQLite is the default engine (a single local
// file, no server); Postgres is available for shared deployments.
type DB struct {
	SQL     *sql.DB
	Dialect string
}

// Open connects to the database identified by databaseURL.
// postgres:// URLs use the pgx stdlib driver, anything else is treated as a
// SQLite file path.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	var (
		handle  *sql.DB
		dialect string
		err     error
	)
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		handle, err = sql.Open("pgx", databaseURL)
		dialect = DialectPostgres
	} else {
		dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", databaseURL)
		handle, err = sql.Open("sqlite", dsn)
		dialect = DialectSQLite
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dialect == DialectSQLite {
		// The modernc driver is not safe for concurrent writers on one file.
		handle.SetMaxOpenConns(1)
	} else {
		handle.SetMaxOpenConns(10)
		handle.SetMaxIdleConns(2)
	}

	if err := handle.PingContext(ctx); err != nil {
		handle.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{SQL: handle, Dialect: dialect}, nil
}

// Close closes the underlying handle.
func (db *DB) Close() error {
	return db.SQL.Close()
}

// Rebind converts ? placeholders to $N for Postgres. SQLite queries pass
// through unchanged.
func (db *DB) Rebind(query string) string {
	if db.Dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.SQL.ExecContext(ctx, db.Rebind(query), args...)
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.SQL.QueryContext(ctx, db.Rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.SQL.QueryRowContext(ctx, db.Rebind(query), args...)
}

// Migrate creates the schema. Statements are idempotent so migration runs on
// every startup.
func (db *DB) Migrate(ctx context.Context) error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	jsonType := "TEXT"
	if db.Dialect == DialectPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
		jsonType = "JSONB"
	}

	migrations := []string{
		fmt.Sprintf(migrationCreateClients, serial),
		fmt.Sprintf(migrationCreateRuns, serial, jsonType),
		fmt.Sprintf(migrationCreateBatteryConfigs, serial, jsonType),
		fmt.Sprintf(migrationCreateKPISummary, serial),
	}

	for _, m := range migrations {
		if _, err := db.SQL.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}

const migrationCreateClients = `
CREATE TABLE IF NOT EXISTS clients (
    client_id %s,
    client_name TEXT NOT NULL UNIQUE,
    description TEXT,
    created_at TIMESTAMP NOT NULL
);
`

const migrationCreateRuns = `
CREATE TABLE IF NOT EXISTS runs (
    run_id %s,
    client_id BIGINT NOT NULL REFERENCES clients(client_id),
    run_name TEXT NOT NULL,
    description TEXT,
    run_date TIMESTAMP,
    input_parameters %s,
    folder_path TEXT,
    created_at TIMESTAMP NOT NULL,
    UNIQUE(client_id, run_name)
);
`

const migrationCreateBatteryConfigs = `
CREATE TABLE IF NOT EXISTS battery_configs (
    config_id %s,
    run_id BIGINT NOT NULL REFERENCES runs(run_id),
    config_name TEXT NOT NULL,
    is_baseline BOOLEAN NOT NULL DEFAULT FALSE,
    battery_capacity_kwh DOUBLE PRECISION,
    battery_power_kw DOUBLE PRECISION,
    battery_efficiency DOUBLE PRECISION,
    other_params %s,
    kpi_file_path TEXT,
    timeseries_file_path TEXT,
    created_at TIMESTAMP NOT NULL,
    UNIQUE(run_id, config_name)
);
`

const migrationCreateKPISummary = `
CREATE TABLE IF NOT EXISTS kpi_summary (
    kpi_id %s,
    config_id BIGINT NOT NULL REFERENCES battery_configs(config_id),
    kpi_name TEXT NOT NULL,
    kpi_value DOUBLE PRECISION NOT NULL,
    kpi_unit TEXT,
    UNIQUE(config_id, kpi_name)
);
`

// Clear drops all rows from every table. Used by the full-registry reset;
// there is no finer-grained delete path.
func (db *DB) Clear(ctx context.Context) error {
	for _, table := range []string{"kpi_summary", "battery_configs", "runs", "clients"} {
		if _, err := db.SQL.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}
