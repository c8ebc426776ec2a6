package feature

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// identifierColumns lead the feature matrix in fixed order; every other
// column is sorted alphabetically behind them.
var identifierColumns = []string{"config_id", "client_name", "run_name", "config_name"}

// Row is one configuration's extracted features. Identifier fields are kept
// apart from the numeric feature values; missing features are simply absent
// from Values and serialize as empty cells.
type Row struct {
	ConfigID   int64
	ClientName string
	RunName    string
	ConfigName string
	Values     map[string]float64
}

// Metadata records how the current matrix was extracted, for
// reproducibility.
type Metadata struct {
	ExtractionVersion string          `json:"extraction_version"`
	TargetKPI         string          `json:"target_kpi"`
	ExtractorConfig   ExtractorConfig `json:"extractor_config"`
	LastUpdated       string          `json:"last_updated"`
	FeatureCount      int             `json:"feature_count"`
	FeatureColumns    []string        `json:"feature_columns"`
	NumInputFeatures  int             `json:"num_input_features"`
}

// ExtractorConfig is the metadata snapshot of the extraction inputs.
type ExtractorConfig struct {
	InputSources []string `json:"input_sources"`
	TargetKPIs   []string `json:"target_kpis"`
}

// Store persists the feature matrix and its sidecar files in one directory:
// feature_matrix.csv, metadata.json, processed_configs.json and
// feature_list.txt.
type Store struct {
	dir string
}

// NewStore opens (and creates if needed) a feature store directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create feature store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) matrixPath() string    { return filepath.Join(s.dir, "feature_matrix.csv") }
func (s *Store) metadataPath() string  { return filepath.Join(s.dir, "metadata.json") }
func (s *Store) processedPath() string { return filepath.Join(s.dir, "processed_configs.json") }
func (s *Store) listPath() string      { return filepath.Join(s.dir, "feature_list.txt") }

// Load reads the feature matrix. A missing file is an empty matrix.
func (s *Store) Load() ([]Row, error) {
	f, err := os.Open(s.matrixPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open feature matrix: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read feature matrix: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := Row{Values: make(map[string]float64)}
		for i, name := range header {
			if i >= len(record) {
				break
			}
			cell := record[i]
			switch name {
			case "config_id":
				row.ConfigID, _ = strconv.ParseInt(cell, 10, 64)
			case "client_name":
				row.ClientName = cell
			case "run_name":
				row.RunName = cell
			case "config_name":
				row.ConfigName = cell
			default:
				if cell == "" {
					continue
				}
				if v, err := strconv.ParseFloat(cell, 64); err == nil {
					row.Values[name] = v
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Columns returns the matrix column order for a row set: identifiers first,
// then the union of all feature names sorted.
func Columns(rows []Row) []string {
	seen := make(map[string]bool)
	for _, row := range rows {
		for name := range row.Values {
			seen[name] = true
		}
	}
	features := make([]string, 0, len(seen))
	for name := range seen {
		features = append(features, name)
	}
	sort.Strings(features)
	return append(append([]string{}, identifierColumns...), features...)
}

// Save writes the full matrix, replacing any existing file. NaN values are
// written as empty cells.
func (s *Store) Save(rows []Row) error {
	f, err := os.Create(s.matrixPath())
	if err != nil {
		return fmt.Errorf("create feature matrix: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	columns := Columns(rows)
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("write feature matrix header: %w", err)
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, name := range columns {
			switch name {
			case "config_id":
				record[i] = strconv.FormatInt(row.ConfigID, 10)
			case "client_name":
				record[i] = row.ClientName
			case "run_name":
				record[i] = row.RunName
			case "config_name":
				record[i] = row.ConfigName
			default:
				v, ok := row.Values[name]
				if !ok || math.IsNaN(v) {
					record[i] = ""
				} else {
					record[i] = strconv.FormatFloat(v, 'g', -1, 64)
				}
			}
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write feature matrix row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush feature matrix: %w", err)
	}
	return nil
}

// ProcessedIDs returns the set of config ids already extracted.
func (s *Store) ProcessedIDs() (map[int64]bool, error) {
	raw, err := os.ReadFile(s.processedPath())
	if errors.Is(err, os.ErrNotExist) {
		return make(map[int64]bool), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read processed configs: %w", err)
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("parse processed configs: %w", err)
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// MarkProcessed adds config ids to the processed ledger.
func (s *Store) MarkProcessed(configIDs []int64) error {
	set, err := s.ProcessedIDs()
	if err != nil {
		return err
	}
	for _, id := range configIDs {
		set[id] = true
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode processed configs: %w", err)
	}
	if err := os.WriteFile(s.processedPath(), raw, 0o644); err != nil {
		return fmt.Errorf("write processed configs: %w", err)
	}
	return nil
}

// Append merges new rows into the matrix. Existing rows with the same config
// id are replaced, then the new ids are added to the processed ledger.
func (s *Store) Append(newRows []Row) error {
	if len(newRows) == 0 {
		return nil
	}
	existing, err := s.Load()
	if err != nil {
		return err
	}

	replaced := make(map[int64]bool, len(newRows))
	ids := make([]int64, 0, len(newRows))
	for _, row := range newRows {
		replaced[row.ConfigID] = true
		ids = append(ids, row.ConfigID)
	}

	combined := make([]Row, 0, len(existing)+len(newRows))
	for _, row := range existing {
		if !replaced[row.ConfigID] {
			combined = append(combined, row)
		}
	}
	combined = append(combined, newRows...)

	if err := s.Save(combined); err != nil {
		return err
	}
	return s.MarkProcessed(ids)
}

// inputFeatureColumns filters a column list down to ML input features:
// identifiers, the plain target and every target_* label are dropped.
func inputFeatureColumns(columns []string) []string {
	exclude := map[string]bool{"target": true}
	for _, id := range identifierColumns {
		exclude[id] = true
	}
	var out []string
	for _, name := range columns {
		if exclude[name] || strings.HasPrefix(name, "target_") {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SaveMetadata snapshots the extraction config plus the current matrix shape
// into metadata.json and rewrites feature_list.txt.
func (s *Store) SaveMetadata(cfg ExtractorConfig, targetKPI string) error {
	rows, err := s.Load()
	if err != nil {
		return err
	}
	columns := Columns(rows)
	featureColumns := inputFeatureColumns(columns)

	meta := Metadata{
		ExtractionVersion: "1.0",
		TargetKPI:         targetKPI,
		ExtractorConfig:   cfg,
		LastUpdated:       time.Now().UTC().Format(time.RFC3339),
		FeatureCount:      len(columns),
		FeatureColumns:    featureColumns,
		NumInputFeatures:  len(featureColumns),
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(s.metadataPath(), raw, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	var b strings.Builder
	b.WriteString("# ML input features (no identifiers, no targets)\n")
	for _, name := range featureColumns {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(s.listPath(), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write feature list: %w", err)
	}
	return nil
}

// LoadMetadata reads metadata.json; nil when none exists yet.
func (s *Store) LoadMetadata() (*Metadata, error) {
	raw, err := os.ReadFile(s.metadataPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &meta, nil
}

// Clear removes every artifact so extraction starts from scratch.
func (s *Store) Clear() error {
	for _, path := range []string{s.matrixPath(), s.metadataPath(), s.processedPath(), s.listPath()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("clear feature store: %w", err)
		}
	}
	return nil
}

// Dataset is the matrix reshaped for model training. Rows align across all
// fields; Groups carries the client name for group-aware splitting.
type Dataset struct {
	FeatureNames []string
	X            [][]float64
	Y            []float64
	Groups       []string
	ConfigIDs    []int64
}

// MLReadyData builds X/y from the stored matrix. Identifier columns, the
// target column and any extra excludes are removed from the features;
// features a row lacks become NaN so imputation can fill them later.
func (s *Store) MLReadyData(targetCol string, excludeCols []string) (*Dataset, error) {
	rows, err := s.Load()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("no features in store, run extraction first")
	}

	exclude := map[string]bool{targetCol: true}
	for _, id := range identifierColumns {
		exclude[id] = true
	}
	for _, name := range excludeCols {
		exclude[name] = true
	}

	var featureNames []string
	for _, name := range Columns(rows) {
		if !exclude[name] {
			featureNames = append(featureNames, name)
		}
	}

	ds := &Dataset{FeatureNames: featureNames}
	for _, row := range rows {
		x := make([]float64, len(featureNames))
		for i, name := range featureNames {
			if v, ok := row.Values[name]; ok {
				x[i] = v
			} else {
				x[i] = math.NaN()
			}
		}
		y := math.NaN()
		if v, ok := row.Values[targetCol]; ok {
			y = v
		}
		ds.X = append(ds.X, x)
		ds.Y = append(ds.Y, y)
		ds.Groups = append(ds.Groups, row.ClientName)
		ds.ConfigIDs = append(ds.ConfigIDs, row.ConfigID)
	}
	return ds, nil
}

// Summary describes the store for the API.
type Summary struct {
	Status              string    `json:"status"`
	NumConfigs          int       `json:"num_configs"`
	NumFeatures         int       `json:"num_features"`
	LoadProfileFeatures int       `json:"load_profile_features"`
	DirectInputFeatures int       `json:"direct_input_features"`
	TargetFeatures      int       `json:"target_features"`
	Metadata            *Metadata `json:"metadata,omitempty"`
}

// Describe summarizes the current matrix.
func (s *Store) Describe() (*Summary, error) {
	rows, err := s.Load()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &Summary{Status: "empty"}, nil
	}
	meta, err := s.LoadMetadata()
	if err != nil {
		return nil, err
	}

	columns := Columns(rows)
	summary := &Summary{
		Status:      "ready",
		NumConfigs:  len(rows),
		NumFeatures: len(columns),
		Metadata:    meta,
	}
	isIdentifier := make(map[string]bool, len(identifierColumns))
	for _, id := range identifierColumns {
		isIdentifier[id] = true
	}
	for _, name := range columns {
		switch {
		case isIdentifier[name] || name == "target":
		case strings.HasPrefix(name, "target_"):
			summary.TargetFeatures++
		case strings.HasPrefix(name, "list_battery_") || strings.HasPrefix(name, "pv_"):
			summary.DirectInputFeatures++
		default:
			summary.LoadProfileFeatures++
		}
	}
	return summary, nil
}
