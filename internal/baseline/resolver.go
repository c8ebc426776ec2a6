package baseline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/flexbatt/flexbatt/internal/models"
	"github.com/flexbatt/flexbatt/internal/repository"
)

// ErrNoBaseline is returned when a run contains no recognizable zero-battery
// configuration.
var ErrNoBaseline = errors.New("no baseline configuration in run")

// baselineNames is the vocabulary of config names that identify a baseline.
// Matching is case-insensitive and exact; names starting with "0kwh"
// (0kWh_case and the like) also count. A plain substring check would catch
// every "200kWh" scenario, so it is deliberately avoided.
var baselineNames = []string{
	"0kwh",
	"0_kwh",
	"no_battery",
	"0_battery",
	"baseline",
	"no battery",
	"0",
}

// Resolver finds the baseline configuration of a run and caches its KPIs.
// Benefit calculation hits the same baseline once per scenario config, so the
// cache turns O(configs) KPI loads into one.
type Resolver struct {
	configs *repository.ConfigRepository
	kpis    *repository.KPIRepository
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[int64]cacheEntry
}

type cacheEntry struct {
	configID int64
	kpis     map[string]float64
}

// NewResolver creates a baseline resolver.
func NewResolver(configs *repository.ConfigRepository, kpis *repository.KPIRepository, logger *zap.Logger) *Resolver {
	return &Resolver{
		configs: configs,
		kpis:    kpis,
		logger:  logger,
		cache:   make(map[int64]cacheEntry),
	}
}

// Resolve returns the baseline config id for a run.
//
// The explicit is_baseline flag wins; with several flagged configs the lowest
// config id is chosen and a warning logged. Without a flag, a config whose
// capacity is zero or absent, or whose name matches the baseline vocabulary,
// is picked in capacity-ascending order with absent capacity first.
func (r *Resolver) Resolve(ctx context.Context, runID int64) (int64, error) {
	configs, err := r.configs.ListByRun(ctx, runID)
	if err != nil {
		return 0, fmt.Errorf("resolve baseline: %w", err)
	}

	var flagged []*models.BatteryConfig
	for _, cfg := range configs {
		if cfg.IsBaseline {
			flagged = append(flagged, cfg)
		}
	}
	if len(flagged) > 0 {
		best := flagged[0]
		for _, cfg := range flagged[1:] {
			if cfg.ID < best.ID {
				best = cfg
			}
		}
		if len(flagged) > 1 {
			r.logger.Warn("multiple configs flagged as baseline",
				zap.Int64("run_id", runID),
				zap.Int("flagged", len(flagged)),
				zap.Int64("chosen_config_id", best.ID))
		}
		return best.ID, nil
	}

	// ListByRun orders capacity ascending with nulls first, id as tie-break,
	// so the first heuristic match is the right one.
	for _, cfg := range configs {
		if IsBaselineCandidate(cfg.Name, cfg.CapacityKWh) {
			return cfg.ID, nil
		}
	}
	return 0, ErrNoBaseline
}

// IsBaselineCandidate reports whether a config looks like a zero-battery
// baseline, by capacity (zero or absent) or by name vocabulary.
func IsBaselineCandidate(name string, capacityKWh *float64) bool {
	if capacityKWh == nil || *capacityKWh == 0 {
		return true
	}
	return MatchesBaselineName(name)
}

// IsBaselineName reports whether a config name is exactly one of the known
// baseline names. Import flagging uses this strict check; resolution accepts
// the slightly wider MatchesBaselineName.
func IsBaselineName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, candidate := range baselineNames {
		if lower == candidate {
			return true
		}
	}
	return false
}

// MatchesBaselineName checks a config name against the baseline vocabulary,
// additionally accepting any name that starts with "0kwh".
func MatchesBaselineName(name string) bool {
	if IsBaselineName(name) {
		return true
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(name)), "0kwh")
}

// KPIs returns the KPI map of the run's baseline config, cached per run.
func (r *Resolver) KPIs(ctx context.Context, runID int64) (int64, map[string]float64, error) {
	r.mu.Lock()
	entry, ok := r.cache[runID]
	r.mu.Unlock()
	if ok {
		return entry.configID, entry.kpis, nil
	}

	configID, err := r.Resolve(ctx, runID)
	if err != nil {
		return 0, nil, err
	}
	kpis, err := r.kpis.MapByConfig(ctx, configID)
	if err != nil {
		return 0, nil, fmt.Errorf("load baseline kpis: %w", err)
	}

	r.mu.Lock()
	r.cache[runID] = cacheEntry{configID: configID, kpis: kpis}
	r.mu.Unlock()
	return configID, kpis, nil
}

// ClearCache drops all cached baseline KPIs. Call after imports or KPI
// rewrites; nothing invalidates the cache implicitly.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	r.cache = make(map[int64]cacheEntry)
	r.mu.Unlock()
}
