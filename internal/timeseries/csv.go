package timeseries

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// timestampColumns are the header names accepted as the time index.
var timestampColumns = []string{"timestamp", "timestamp_utc"}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ReadCSV loads a simulation timeseries export. The file must have a header
// row; a timestamp/timestamp_utc column becomes the time index and every
// other column is parsed as float64, with unparseable cells stored as NaN.
func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open timeseries file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses CSV timeseries data from r.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read timeseries header: %w", err)
	}

	tsIndex := -1
	for i, name := range header {
		header[i] = strings.TrimSpace(name)
	}
	for _, candidate := range timestampColumns {
		for i, name := range header {
			if strings.EqualFold(name, candidate) {
				tsIndex = i
				break
			}
		}
		if tsIndex >= 0 {
			break
		}
	}

	table := NewTable()
	columns := make([][]float64, len(header))
	rows := 0

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read timeseries row: %w", err)
		}
		for i := range header {
			if i == tsIndex {
				continue
			}
			v := math.NaN()
			if i < len(record) {
				if parsed, perr := strconv.ParseFloat(strings.TrimSpace(record[i]), 64); perr == nil {
					v = parsed
				}
			}
			columns[i] = append(columns[i], v)
		}
		if tsIndex >= 0 && tsIndex < len(record) {
			table.Timestamps = append(table.Timestamps, parseTimestamp(record[tsIndex]))
		} else {
			table.Timestamps = append(table.Timestamps, time.Time{})
		}
		rows++
	}

	for i, name := range header {
		if i == tsIndex || name == "" {
			continue
		}
		table.AddColumn(name, columns[i])
	}
	return table, nil
}

func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
