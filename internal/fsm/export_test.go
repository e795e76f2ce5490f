package fsm

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manuel-valencia/lab-framework/internal/hardware"
)

func TestExportRecordsCSV(t *testing.T) {
	dir := t.TempDir()
	records := []hardware.Record{
		{"t": 0.0, "value": 1.5, "ts": "2026-01-01 00:00:00.000"},
		{"t": 0.5, "value": -1.5, "ts": "2026-01-01 00:00:00.100"},
	}

	path, err := ExportRecords(records, dir, "run1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run1.csv"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	// Header columns come out sorted.
	assert.Equal(t, []string{"t", "ts", "value"}, rows[0])
	assert.Equal(t, "1.5", rows[1][2])
}

func TestExportRecordsFallsBackToJSONL(t *testing.T) {
	dir := t.TempDir()
	records := []hardware.Record{
		{"t": 0.0, "value": 1.0},
		{"t": 0.5, "extra": "field", "value": 2.0},
	}

	path, err := ExportRecords(records, dir, "mixed")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mixed.jsonl"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"extra":"field"`)
}

func TestExportRecordsEmpty(t *testing.T) {
	_, err := ExportRecords(nil, t.TempDir(), "none")
	assert.Error(t, err)
}
