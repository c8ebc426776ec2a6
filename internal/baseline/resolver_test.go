package baseline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/flexbatt/flexbatt/internal/models"
	"github.com/flexbatt/flexbatt/internal/repository"
)

type fixture struct {
	db       *repository.DB
	configs  *repository.ConfigRepository
	kpis     *repository.KPIRepository
	resolver *Resolver
	runID    int64
}

func newFixture(t *testing.T) *fixture {
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

	client := &models.Client{Name: "acme"}
	if err := repository.NewClientRepository(db).Upsert(ctx, client); err != nil {
		t.Fatalf("upsert client: %v", err)
	}
	run := &models.Run{ClientID: client.ID, Name: "2024_sizing"}
	if err := repository.NewRunRepository(db).Upsert(ctx, run); err != nil {
		t.Fatalf("upsert run: %v", err)
	}

	configs := repository.NewConfigRepository(db)
	kpis := repository.NewKPIRepository(db)
	return &fixture{
		db:       db,
		configs:  configs,
		kpis:     kpis,
		resolver: NewResolver(configs, kpis, zap.NewNop()),
		runID:    run.ID,
	}
}

func (f *fixture) addConfig(t *testing.T, name string, capacity *float64, isBaseline bool) int64 {
	t.Helper()
	cfg := &models.BatteryConfig{
		RunID:       f.runID,
		Name:        name,
		IsBaseline:  isBaseline,
		CapacityKWh: capacity,
	}
	if err := f.configs.Upsert(context.Background(), cfg); err != nil {
		t.Fatalf("upsert config %s: %v", name, err)
	}
	return cfg.ID
}

func ptr(v float64) *float64 { return &v }

func TestResolveFlaggedBaseline(t *testing.T) {
	f := newFixture(t)
	f.addConfig(t, "100kWh_50kW", ptr(100), false)
	want := f.addConfig(t, "reference_case", ptr(100), true)

	got, err := f.resolver.Resolve(context.Background(), f.runID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != want {
		t.Errorf("expected config %d, got %d", want, got)
	}
}

func TestResolveMultipleFlagsPicksLowestID(t *testing.T) {
	f := newFixture(t)
	first := f.addConfig(t, "baseline_a", ptr(0), true)
	f.addConfig(t, "baseline_b", ptr(0), true)

	got, err := f.resolver.Resolve(context.Background(), f.runID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != first {
		t.Errorf("expected lowest flagged id %d, got %d", first, got)
	}
}

func TestResolveHeuristicPrefersAbsentCapacity(t *testing.T) {
	f := newFixture(t)
	f.addConfig(t, "200kWh_100kW", ptr(200), false)
	f.addConfig(t, "100kWh_50kW", ptr(100), false)
	want := f.addConfig(t, "reference_case", nil, false)

	got, err := f.resolver.Resolve(context.Background(), f.runID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != want {
		t.Errorf("expected null-capacity config %d, got %d", want, got)
	}
}

func TestResolveHeuristicByName(t *testing.T) {
	f := newFixture(t)
	f.addConfig(t, "200kWh_100kW", ptr(200), false)
	want := f.addConfig(t, "0kWh_reference", ptr(100), false)

	got, err := f.resolver.Resolve(context.Background(), f.runID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != want {
		t.Errorf("expected name-matched config %d, got %d", want, got)
	}
}

func TestResolveNoBaseline(t *testing.T) {
	f := newFixture(t)
	f.addConfig(t, "100kWh_50kW", ptr(100), false)
	f.addConfig(t, "200kWh_100kW", ptr(200), false)

	_, err := f.resolver.Resolve(context.Background(), f.runID)
	if !errors.Is(err, ErrNoBaseline) {
		t.Errorf("expected ErrNoBaseline, got %v", err)
	}
}

func TestIsBaselineName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"baseline", true},
		{"Baseline", true},
		{"no_battery", true},
		{"No Battery", true},
		{"0", true},
		{"0kWh", true},
		{"100kWh_50kW", false},
		{"scenario_no_battery", false}, // substring is not enough for the flag
	}
	for _, c := range cases {
		if got := IsBaselineName(c.name); got != c.want {
			t.Errorf("IsBaselineName(%q): expected %v, got %v", c.name, c.want, got)
		}
	}
}

func TestMatchesBaselineName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"no_battery", true},
		{"0kWh_reference", true}, // 0kwh prefix
		{"Baseline", true},
		{"0", true},
		{"100", false},
		{"200kWh_100kW", false}, // capacity suffix must not look like a baseline
		{"scenario_no_battery", false},
	}
	for _, c := range cases {
		if got := MatchesBaselineName(c.name); got != c.want {
			t.Errorf("MatchesBaselineName(%q): expected %v, got %v", c.name, c.want, got)
		}
	}
}

func TestKPIsAreCachedUntilCleared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	baseID := f.addConfig(t, "baseline", ptr(0), true)
	if err := f.kpis.Upsert(ctx, &models.KPI{ConfigID: baseID, Name: "annual_cost", Value: 100}); err != nil {
		t.Fatalf("upsert kpi: %v", err)
	}

	gotID, kpis, err := f.resolver.KPIs(ctx, f.runID)
	if err != nil {
		t.Fatalf("kpis: %v", err)
	}
	if gotID != baseID || kpis["annual_cost"] != 100 {
		t.Fatalf("unexpected baseline kpis: id=%d kpis=%v", gotID, kpis)
	}

	if err := f.kpis.Upsert(ctx, &models.KPI{ConfigID: baseID, Name: "annual_cost", Value: 50}); err != nil {
		t.Fatalf("update kpi: %v", err)
	}

	_, cached, err := f.resolver.KPIs(ctx, f.runID)
	if err != nil {
		t.Fatalf("kpis: %v", err)
	}
	if cached["annual_cost"] != 100 {
		t.Errorf("expected cached value 100, got %v", cached["annual_cost"])
	}

	f.resolver.ClearCache()
	_, fresh, err := f.resolver.KPIs(ctx, f.runID)
	if err != nil {
		t.Fatalf("kpis: %v", err)
	}
	if fresh["annual_cost"] != 50 {
		t.Errorf("expected fresh value 50, got %v", fresh["annual_cost"])
	}
}
