package fsm

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/manuel-valencia/lab-framework/internal/hardware"
)

// ExportRecords persists experiment records under dir with the given
// base name. Homogeneous records (identical key sets) are written as
// CSV; any structural mismatch falls back to one-record-per-line JSON.
// Returns the path written.
func ExportRecords(records []hardware.Record, dir, baseName string) (string, error) {
	if len(records) == 0 {
		return "", errors.New("no records to export")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create export dir")
	}

	if columns, ok := homogeneousColumns(records); ok {
		path := filepath.Join(dir, baseName+".csv")
		if err := writeCSV(path, columns, records); err == nil {
			return path, nil
		}
		// Structural failure mid-write: fall through to JSONL.
	}

	path := filepath.Join(dir, baseName+".jsonl")
	if err := writeJSONL(path, records); err != nil {
		return "", err
	}
	return path, nil
}

// homogeneousColumns returns the sorted shared key set when every record
// has exactly the same keys.
func homogeneousColumns(records []hardware.Record) ([]string, bool) {
	columns := make([]string, 0, len(records[0]))
	for k := range records[0] {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	for _, r := range records[1:] {
		if len(r) != len(columns) {
			return nil, false
		}
		for _, c := range columns {
			if _, ok := r[c]; !ok {
				return nil, false
			}
		}
	}
	return columns, true
}

func writeCSV(path string, columns []string, records []hardware.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create csv")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	row := make([]string, len(columns))
	for _, r := range records {
		for i, c := range columns {
			row[i] = formatCell(r[c])
		}
		if err := w.Write(row); err != nil {
			return errors.Wrap(err, "write csv row")
		}
	}
	w.Flush()
	return errors.Wrap(w.Error(), "flush csv")
}

func writeJSONL(path string, records []hardware.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create jsonl")
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return errors.Wrap(err, "encode record")
		}
	}
	return nil
}

func formatCell(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return fmt.Sprintf("%g", val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
