package feature

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flexbatt/flexbatt/internal/config"
	"github.com/flexbatt/flexbatt/internal/metrics"
	"github.com/flexbatt/flexbatt/internal/models"
	"github.com/flexbatt/flexbatt/internal/repository"
	"github.com/flexbatt/flexbatt/internal/state"
	"github.com/flexbatt/flexbatt/internal/timeseries"
	"github.com/flexbatt/flexbatt/pkg/ws"
)

// Options controls one pipeline run.
type Options struct {
	// TargetKPI is the primary target; empty uses the configured default.
	TargetKPI string `json:"target_kpi"`
	// ClientFilter restricts extraction to one client.
	ClientFilter string `json:"client_filter"`
	// Incremental skips configs already in the processed ledger.
	Incremental bool `json:"incremental"`
	// IncludeTimeseries toggles load-profile feature extraction.
	IncludeTimeseries bool `json:"include_timeseries"`
	// BatchSize overrides the pipeline's flush threshold when positive.
	BatchSize int `json:"batch_size"`
}

// DefaultOptions enables incremental extraction with timeseries features.
func DefaultOptions() Options {
	return Options{Incremental: true, IncludeTimeseries: true}
}

// Progress is the externally visible pipeline status, sent over the
// websocket hub and returned by the API.
type Progress struct {
	State          string    `json:"state"`
	TargetKPI      string    `json:"target_kpi,omitempty"`
	Total          int       `json:"total"`
	Processed      int       `json:"processed"`
	Skipped        int       `json:"skipped"`
	Errors         int       `json:"errors"`
	BatchesFlushed int       `json:"batches_flushed"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// Pipeline runs end-to-end feature extraction: direct inputs from config
// metadata with a KPI-sheet fallback, load-profile features from timeseries
// aggregation, and target labels from the KPI store. Results land in the
// feature store in batches so a crash loses at most one batch.
type Pipeline struct {
	configs    *repository.ConfigRepository
	kpis       *repository.KPIRepository
	store      *Store
	extraction *config.Extraction
	machine    *state.Machine
	hub        *ws.Hub
	logger     *zap.Logger
	batchSize  int

	mu       sync.RWMutex
	progress Progress
}

// NewPipeline creates a pipeline. hub may be nil when no live progress feed
// is wanted.
func NewPipeline(
	configs *repository.ConfigRepository,
	kpis *repository.KPIRepository,
	store *Store,
	extraction *config.Extraction,
	hub *ws.Hub,
	logger *zap.Logger,
	batchSize int,
) *Pipeline {
	if batchSize <= 0 {
		batchSize = 50
	}
	p := &Pipeline{
		configs:    configs,
		kpis:       kpis,
		store:      store,
		extraction: extraction,
		hub:        hub,
		logger:     logger,
		batchSize:  batchSize,
		progress:   Progress{State: state.StateIdle},
	}
	p.machine = state.NewMachine(p.onTransition)
	return p
}

func (p *Pipeline) onTransition(from, to string) {
	metrics.PipelineState.WithLabelValues(from).Set(0)
	metrics.PipelineState.WithLabelValues(to).Set(1)

	p.mu.Lock()
	p.progress.State = to
	snapshot := p.progress
	p.mu.Unlock()

	p.logger.Info("pipeline state changed", zap.String("from", from), zap.String("to", to))
	if p.hub != nil {
		p.hub.BroadcastMessage(ws.MsgTypeState, snapshot)
	}
}

// Status returns a snapshot of the current pipeline progress.
func (p *Pipeline) Status() Progress {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.progress
}

func (p *Pipeline) update(change func(*Progress)) {
	p.mu.Lock()
	change(&p.progress)
	snapshot := p.progress
	p.mu.Unlock()
	if p.hub != nil {
		p.hub.BroadcastProgress(snapshot)
	}
}

// Run executes one extraction pass and returns the number of configurations
// processed. Only one run may be active at a time.
func (p *Pipeline) Run(ctx context.Context, opts Options) (int, error) {
	targetKPI := opts.TargetKPI
	if targetKPI == "" {
		targetKPI = p.extraction.PrimaryTarget
	}

	if err := p.machine.Trigger(state.EventStart); err != nil {
		return 0, fmt.Errorf("extraction already running: %w", err)
	}

	p.update(func(pr *Progress) {
		*pr = Progress{State: p.machine.Current(), TargetKPI: targetKPI, StartedAt: time.Now().UTC()}
	})

	processed, err := p.run(ctx, opts, targetKPI)
	if err != nil {
		p.update(func(pr *Progress) { pr.LastError = err.Error() })
		if ferr := p.machine.Trigger(state.EventFail); ferr != nil {
			p.logger.Error("pipeline fail transition", zap.Error(ferr))
		}
		return processed, err
	}

	if cerr := p.machine.Trigger(state.EventComplete); cerr != nil {
		p.logger.Error("pipeline complete transition", zap.Error(cerr))
	}
	return processed, nil
}

func (p *Pipeline) run(ctx context.Context, opts Options, targetKPI string) (int, error) {
	p.validateTargets(ctx)

	skipIDs := make(map[int64]bool)
	if opts.Incremental {
		ids, err := p.store.ProcessedIDs()
		if err != nil {
			return 0, err
		}
		skipIDs = ids
	}

	metas, err := p.configs.ListMeta(ctx, targetKPI, opts.ClientFilter, false)
	if err != nil {
		return 0, err
	}

	work := metas[:0:0]
	for _, meta := range metas {
		if !skipIDs[meta.ConfigID] {
			work = append(work, meta)
		}
	}
	skipped := len(metas) - len(work)
	p.update(func(pr *Progress) {
		pr.Total = len(work)
		pr.Skipped = skipped
	})

	if len(work) == 0 {
		if len(metas) == 0 {
			p.logger.Info("no configurations match the extraction query",
				zap.String("target_kpi", targetKPI), zap.String("client", opts.ClientFilter))
		} else {
			p.logger.Info("all configurations already processed",
				zap.Int("total", len(metas)))
		}
		// Metadata and the feature list are still rewritten so they always
		// describe the current store.
		return 0, p.saveMetadata(targetKPI, opts.IncludeTimeseries)
	}

	p.logger.Info("extracting features",
		zap.Int("configs", len(work)),
		zap.Int("skipped", skipped),
		zap.String("target_kpi", targetKPI))

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = p.batchSize
	}

	var batch []Row
	processed := 0
	for _, meta := range work {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		row, err := p.extractOne(ctx, meta, opts.IncludeTimeseries)
		if err != nil {
			return processed, err
		}
		batch = append(batch, row)
		processed++
		metrics.ConfigsExtracted.Inc()
		p.update(func(pr *Progress) { pr.Processed = processed })

		if len(batch) >= batchSize {
			if err := p.flush(batch); err != nil {
				return processed, err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := p.flush(batch); err != nil {
			return processed, err
		}
	}

	if err := p.saveMetadata(targetKPI, opts.IncludeTimeseries); err != nil {
		return processed, err
	}
	p.logger.Info("feature extraction finished",
		zap.Int("processed", processed), zap.String("store", p.store.Dir()))
	return processed, nil
}

// extractOne builds one feature row. A missing or unreadable timeseries file
// degrades to a partial row instead of failing the run.
func (p *Pipeline) extractOne(ctx context.Context, meta models.ConfigMeta, includeTimeseries bool) (Row, error) {
	row := Row{
		ConfigID:   meta.ConfigID,
		ClientName: meta.ClientName,
		RunName:    meta.RunName,
		ConfigName: meta.ConfigName,
		Values:     make(map[string]float64),
	}

	kpiMap, err := p.kpis.MapByConfig(ctx, meta.ConfigID)
	if err != nil {
		return row, fmt.Errorf("load kpis for config %d: %w", meta.ConfigID, err)
	}

	// Direct inputs come from config metadata when the name is a metadata
	// column, otherwise from the KPI sheet values.
	for _, name := range p.extraction.DirectInputs {
		if v, ok := meta.MetadataValue(name); ok {
			row.Values[name] = v
			continue
		}
		if v, ok := kpiMap[name]; ok {
			row.Values[name] = v
		} else {
			row.Values[name] = math.NaN()
		}
	}

	if includeTimeseries && meta.TimeseriesFilePath != "" {
		table, err := timeseries.ReadCSV(meta.TimeseriesFilePath)
		if err != nil {
			p.logger.Warn("timeseries unavailable, writing partial row",
				zap.Int64("config_id", meta.ConfigID),
				zap.String("path", meta.TimeseriesFilePath),
				zap.Error(err))
			metrics.ExtractionErrors.Inc()
			p.update(func(pr *Progress) { pr.Errors++ })
		} else {
			for name, v := range timeseries.Extract(table, p.extraction) {
				row.Values[name] = v
			}
		}
	}

	// Target labels from the KPI store; KPI absolutes are never inputs.
	for _, kpi := range p.extraction.TargetKPIs {
		if v, ok := kpiMap[kpi]; ok {
			row.Values["target_"+kpi] = v
		} else {
			row.Values["target_"+kpi] = math.NaN()
		}
	}
	row.Values["target"] = meta.Target

	return row, nil
}

func (p *Pipeline) flush(batch []Row) error {
	if err := p.machine.Trigger(state.EventFlush); err != nil {
		return err
	}
	if err := p.store.Append(batch); err != nil {
		if ferr := p.machine.Trigger(state.EventFail); ferr != nil {
			p.logger.Error("pipeline fail transition", zap.Error(ferr))
		}
		return fmt.Errorf("flush feature batch: %w", err)
	}
	if err := p.machine.Trigger(state.EventResume); err != nil {
		return err
	}
	metrics.BatchesFlushed.Inc()
	p.update(func(pr *Progress) { pr.BatchesFlushed++ })
	return nil
}

func (p *Pipeline) saveMetadata(targetKPI string, includeTimeseries bool) error {
	sources := []string{"direct"}
	if includeTimeseries {
		sources = append(sources, "load_profile")
	}
	return p.store.SaveMetadata(ExtractorConfig{
		InputSources: sources,
		TargetKPIs:   p.extraction.TargetKPIs,
	}, targetKPI)
}

// validateTargets logs configured target KPIs that do not exist in the KPI
// store yet; their label columns will be NaN.
func (p *Pipeline) validateTargets(ctx context.Context) {
	names, err := p.kpis.DistinctNames(ctx)
	if err != nil {
		p.logger.Warn("validate target kpis", zap.Error(err))
		return
	}
	available := make(map[string]bool, len(names))
	for _, name := range names {
		available[name] = true
	}
	var missing []string
	for _, kpi := range p.extraction.TargetKPIs {
		if !available[kpi] {
			missing = append(missing, kpi)
		}
	}
	if len(missing) > 0 {
		p.logger.Warn("target kpis missing from store, labels will be NaN",
			zap.Strings("missing", missing))
	}
}

// Reset clears the feature store and the processed ledger.
func (p *Pipeline) Reset() error {
	return p.store.Clear()
}
