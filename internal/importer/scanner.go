package importer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultFlexSubfolder is where simulation runs live inside a client folder.
const DefaultFlexSubfolder = "02_Flex Offer Files"

// ConfigFiles are the output files belonging to one configuration.
type ConfigFiles struct {
	Name           string
	KPIPath        string
	TimeseriesPath string
}

// RunFolder is one simulation run found on disk.
type RunFolder struct {
	Name    string
	Path    string
	Configs []ConfigFiles
}

// ClientFolder is one client directory with its runs.
type ClientFolder struct {
	Name string
	Path string
	Runs []RunFolder
}

var (
	timestampedName = regexp.MustCompile(`_\d{8}_\d{6}_(.+)$`)
	capacityPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*kwh`)
	// kW not followed by h; RE2 has no lookahead, so match the next rune.
	powerPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*kw(?:[^h]|$)`)
)

var configFilePrefixes = []string{
	"kpi_summary_",
	"flex_timeseries_outputs_",
	"flex_timeseries_",
}

// Scan walks root looking for client/run/Output structures. With a non-empty
// flexSubfolder the layout is root/<client>/<flexSubfolder>/<run>/Output,
// otherwise runs sit directly under the client folder. Hidden folders are
// skipped. Clients without any usable run are dropped.
func Scan(root, flexSubfolder string) ([]ClientFolder, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("scan import root: %w", err)
	}

	var clients []ClientFolder
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		clientPath := filepath.Join(root, entry.Name())
		runsPath := clientPath
		if flexSubfolder != "" {
			runsPath = filepath.Join(clientPath, flexSubfolder)
			if _, err := os.Stat(runsPath); err != nil {
				continue
			}
		}

		runs, err := scanRuns(runsPath)
		if err != nil {
			return nil, err
		}
		if len(runs) > 0 {
			clients = append(clients, ClientFolder{
				Name: entry.Name(),
				Path: clientPath,
				Runs: runs,
			})
		}
	}
	return clients, nil
}

func scanRuns(runsPath string) ([]RunFolder, error) {
	entries, err := os.ReadDir(runsPath)
	if err != nil {
		return nil, fmt.Errorf("scan runs folder: %w", err)
	}

	var runs []RunFolder
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		runPath := filepath.Join(runsPath, entry.Name())
		outputPath := filepath.Join(runPath, "Output")
		if _, err := os.Stat(outputPath); err != nil {
			continue
		}

		configs, err := scanOutput(outputPath)
		if err != nil {
			return nil, err
		}
		if len(configs) > 0 {
			runs = append(runs, RunFolder{
				Name:    entry.Name(),
				Path:    runPath,
				Configs: configs,
			})
		}
	}
	return runs, nil
}

// scanOutput pairs kpi_summary and flex_timeseries files by the config name
// embedded in their filenames.
func scanOutput(outputPath string) ([]ConfigFiles, error) {
	kpiFiles, err := filepath.Glob(filepath.Join(outputPath, "kpi_summary*.csv"))
	if err != nil {
		return nil, fmt.Errorf("glob kpi files: %w", err)
	}
	tsFiles, err := filepath.Glob(filepath.Join(outputPath, "flex_timeseries*.csv"))
	if err != nil {
		return nil, fmt.Errorf("glob timeseries files: %w", err)
	}

	byName := make(map[string]*ConfigFiles)
	get := func(name string) *ConfigFiles {
		if cf, ok := byName[name]; ok {
			return cf
		}
		cf := &ConfigFiles{Name: name}
		byName[name] = cf
		return cf
	}
	for _, path := range kpiFiles {
		get(ExtractConfigName(filepath.Base(path))).KPIPath = path
	}
	for _, path := range tsFiles {
		get(ExtractConfigName(filepath.Base(path))).TimeseriesPath = path
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	configs := make([]ConfigFiles, 0, len(names))
	for _, name := range names {
		configs = append(configs, *byName[name])
	}
	return configs, nil
}

// ExtractConfigName derives the config name from an output filename.
// Timestamped exports (*_YYYYMMDD_HHMMSS_<config>) yield the trailing part,
// otherwise known prefixes are stripped from the stem.
func ExtractConfigName(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))

	if m := timestampedName.FindStringSubmatch(stem); m != nil {
		return m[1]
	}
	for _, prefix := range configFilePrefixes {
		if strings.HasPrefix(stem, prefix) {
			return strings.TrimPrefix(stem, prefix)
		}
	}
	return stem
}

// ParseBatterySpecs reads capacity (kWh) and power (kW) out of a config
// name like "100kWh_50kW". Either may be absent.
func ParseBatterySpecs(configName string) (capacityKWh, powerKW *float64) {
	if m := capacityPattern.FindStringSubmatch(configName); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			capacityKWh = &v
		}
	}
	if m := powerPattern.FindStringSubmatch(configName); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			powerKW = &v
		}
	}
	return capacityKWh, powerKW
}
