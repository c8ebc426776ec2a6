package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/flexbatt/flexbatt/internal/baseline"
	"github.com/flexbatt/flexbatt/internal/models"
	"github.com/flexbatt/flexbatt/internal/repository"
)

// Stats summarizes one import pass.
type Stats struct {
	ClientsFound    int      `json:"clients_found"`
	RunsImported    int      `json:"runs_imported"`
	ConfigsImported int      `json:"configs_imported"`
	KPIsImported    int      `json:"kpis_imported"`
	Errors          []string `json:"errors,omitempty"`
}

// Importer loads scanned simulation folders into the entity store.
// Everything is upserted, so re-importing a folder refreshes rather than
// duplicates.
type Importer struct {
	clients *repository.ClientRepository
	runs    *repository.RunRepository
	configs *repository.ConfigRepository
	kpis    *repository.KPIRepository
	logger  *zap.Logger

	// FlexSubfolder is the run container inside each client folder; empty
	// means runs sit directly under the client.
	FlexSubfolder string
}

// New creates an importer with the default folder layout.
func New(
	clients *repository.ClientRepository,
	runs *repository.RunRepository,
	configs *repository.ConfigRepository,
	kpis *repository.KPIRepository,
	logger *zap.Logger,
) *Importer {
	return &Importer{
		clients:       clients,
		runs:          runs,
		configs:       configs,
		kpis:          kpis,
		logger:        logger,
		FlexSubfolder: DefaultFlexSubfolder,
	}
}

// Import scans root and upserts every client, run, configuration and KPI it
// finds. clientFilter limits the pass to one client folder. Per-client
// failures are collected in Stats.Errors; only infrastructure errors abort.
func (im *Importer) Import(ctx context.Context, root, clientFilter string) (*Stats, error) {
	clients, err := Scan(root, im.FlexSubfolder)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for _, client := range clients {
		if clientFilter != "" && client.Name != clientFilter {
			continue
		}
		stats.ClientsFound++
		if err := im.importClient(ctx, client, stats); err != nil {
			if ctx.Err() != nil {
				return stats, err
			}
			msg := fmt.Sprintf("import client %s: %v", client.Name, err)
			im.logger.Error("client import failed", zap.String("client", client.Name), zap.Error(err))
			stats.Errors = append(stats.Errors, msg)
		}
	}

	im.logger.Info("import finished",
		zap.Int("clients", stats.ClientsFound),
		zap.Int("runs", stats.RunsImported),
		zap.Int("configs", stats.ConfigsImported),
		zap.Int("kpis", stats.KPIsImported),
		zap.Int("errors", len(stats.Errors)))
	return stats, nil
}

func (im *Importer) importClient(ctx context.Context, folder ClientFolder, stats *Stats) error {
	client := &models.Client{Name: folder.Name}
	if err := im.clients.Upsert(ctx, client); err != nil {
		return err
	}

	for _, runFolder := range folder.Runs {
		run := &models.Run{
			ClientID:   client.ID,
			Name:       runFolder.Name,
			FolderPath: runFolder.Path,
		}
		if err := im.runs.Upsert(ctx, run); err != nil {
			return err
		}
		stats.RunsImported++

		for _, files := range runFolder.Configs {
			if err := im.importConfig(ctx, run.ID, files, stats); err != nil {
				return err
			}
		}
	}
	return nil
}

func (im *Importer) importConfig(ctx context.Context, runID int64, files ConfigFiles, stats *Stats) error {
	capacity, power := ParseBatterySpecs(files.Name)
	cfg := &models.BatteryConfig{
		RunID:              runID,
		Name:               files.Name,
		IsBaseline:         baseline.IsBaselineName(files.Name),
		CapacityKWh:        capacity,
		PowerKW:            power,
		KPIFilePath:        files.KPIPath,
		TimeseriesFilePath: files.TimeseriesPath,
	}
	if err := im.configs.Upsert(ctx, cfg); err != nil {
		return err
	}
	stats.ConfigsImported++

	if files.KPIPath != "" {
		count, err := im.importKPIs(ctx, cfg.ID, files.KPIPath)
		if err != nil {
			im.logger.Warn("kpi import failed",
				zap.String("config", files.Name),
				zap.String("path", files.KPIPath),
				zap.Error(err))
		}
		stats.KPIsImported += count
	}
	return nil
}

// importKPIs reads a KPI summary CSV. Column roles are detected from the
// header (name/kpi, value, unit), falling back to the first two columns.
// Non-numeric values (booleans, placeholders, list-like strings) are skipped
// rather than stored as zero.
func (im *Importer) importKPIs(ctx context.Context, configID int64, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open kpi file: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("read kpi header: %w", err)
	}
	if len(header) < 2 {
		return 0, nil
	}

	nameCol, valueCol, unitCol := 0, 1, -1
	for i, col := range header {
		lower := strings.ToLower(col)
		switch {
		case strings.Contains(lower, "name") || strings.Contains(lower, "kpi"):
			nameCol = i
		case strings.Contains(lower, "value"):
			valueCol = i
		case strings.Contains(lower, "unit"):
			unitCol = i
		}
	}

	imported := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("read kpi row: %w", err)
		}
		if nameCol >= len(record) || valueCol >= len(record) {
			continue
		}
		name := strings.TrimSpace(record[nameCol])
		if name == "" || strings.EqualFold(name, "nan") {
			continue
		}
		value, ok := models.ValidFloat(record[valueCol])
		if !ok {
			continue
		}
		unit := ""
		if unitCol >= 0 && unitCol < len(record) {
			unit = strings.TrimSpace(record[unitCol])
		}

		kpi := &models.KPI{ConfigID: configID, Name: name, Value: value, Unit: unit}
		if err := im.kpis.Upsert(ctx, kpi); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
