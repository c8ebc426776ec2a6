package importer

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/flexbatt/flexbatt/internal/repository"
)

const kpiCSV = "KPI Name,Value,Unit\n" +
	"annual_total_grid_fee_cost_ic,1000.5,EUR/a\n" +
	"is_feasible,True,\n" +
	"battery_modes,\"[1, 2]\",\n" +
	"empty_kpi,,\n" +
	"annual_total_energy_trade_cost_da,500,EUR/a\n"

func newImporterFixture(t *testing.T) (*Importer, *repository.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	im := New(
		repository.NewClientRepository(db),
		repository.NewRunRepository(db),
		repository.NewConfigRepository(db),
		repository.NewKPIRepository(db),
		zap.NewNop(),
	)
	return im, db
}

func TestImportEndToEnd(t *testing.T) {
	ctx := context.Background()
	im, db := newImporterFixture(t)

	root := t.TempDir()
	writeTree(t, root, "acme", DefaultFlexSubfolder, "2024_sizing", map[string]string{
		"kpi_summary_no_battery.csv":  kpiCSV,
		"kpi_summary_100kWh_50kW.csv": kpiCSV,
	})

	stats, err := im.Import(ctx, root, "")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.ClientsFound != 1 || stats.RunsImported != 1 || stats.ConfigsImported != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	// Two numeric KPIs per config; booleans, lists and empty cells skipped.
	if stats.KPIsImported != 4 {
		t.Errorf("expected 4 kpis, got %d", stats.KPIsImported)
	}
	if len(stats.Errors) != 0 {
		t.Errorf("unexpected errors: %v", stats.Errors)
	}

	run, err := repository.NewRunRepository(db).GetByName(ctx, "acme", "2024_sizing")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	configs, err := repository.NewConfigRepository(db).ListByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("list configs: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("expected 2 configs, got %d", len(configs))
	}

	for _, cfg := range configs {
		switch cfg.Name {
		case "no_battery":
			if !cfg.IsBaseline {
				t.Error("no_battery must be flagged as baseline")
			}
			if cfg.CapacityKWh != nil {
				t.Errorf("no_battery capacity: expected nil, got %v", *cfg.CapacityKWh)
			}
		case "100kWh_50kW":
			if cfg.IsBaseline {
				t.Error("100kWh_50kW must not be flagged as baseline")
			}
			if cfg.CapacityKWh == nil || *cfg.CapacityKWh != 100 {
				t.Errorf("capacity: expected 100, got %v", cfg.CapacityKWh)
			}
			if cfg.PowerKW == nil || *cfg.PowerKW != 50 {
				t.Errorf("power: expected 50, got %v", cfg.PowerKW)
			}
		default:
			t.Errorf("unexpected config %q", cfg.Name)
		}
	}

	kpis, err := repository.NewKPIRepository(db).MapByConfig(ctx, configs[0].ID)
	if err != nil {
		t.Fatalf("load kpis: %v", err)
	}
	if kpis["annual_total_grid_fee_cost_ic"] != 1000.5 {
		t.Errorf("unexpected kpi value: %v", kpis)
	}
	if _, ok := kpis["is_feasible"]; ok {
		t.Error("boolean kpi must be skipped")
	}
}

func TestImportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	im, db := newImporterFixture(t)

	root := t.TempDir()
	writeTree(t, root, "acme", DefaultFlexSubfolder, "2024_sizing", map[string]string{
		"kpi_summary_100kWh_50kW.csv": kpiCSV,
	})

	if _, err := im.Import(ctx, root, ""); err != nil {
		t.Fatalf("first import: %v", err)
	}
	stats, err := im.Import(ctx, root, "")
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if stats.ConfigsImported != 1 {
		t.Errorf("unexpected stats on re-import: %+v", stats)
	}

	run, err := repository.NewRunRepository(db).GetByName(ctx, "acme", "2024_sizing")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	configs, err := repository.NewConfigRepository(db).ListByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("list configs: %v", err)
	}
	if len(configs) != 1 {
		t.Errorf("re-import must not duplicate configs, got %d", len(configs))
	}
}

func TestImportClientFilter(t *testing.T) {
	ctx := context.Background()
	im, _ := newImporterFixture(t)

	root := t.TempDir()
	writeTree(t, root, "acme", DefaultFlexSubfolder, "2024_sizing", map[string]string{
		"kpi_summary_100kWh_50kW.csv": kpiCSV,
	})
	writeTree(t, root, "globex", DefaultFlexSubfolder, "2025_sizing", map[string]string{
		"kpi_summary_100kWh_50kW.csv": kpiCSV,
	})

	stats, err := im.Import(ctx, root, "globex")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.ClientsFound != 1 || stats.RunsImported != 1 {
		t.Errorf("filter must limit the pass to one client: %+v", stats)
	}
}
