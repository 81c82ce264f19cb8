package adapters

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
)

// LoadReplayRows reads one file per point from dir and returns the combined
// rows for NewReplayAdapter. Each file is named "<address>.csv" (any '/' in
// the address is percent-escaped as "%2F" so it can live in a filename) and
// holds two columns per line: an RFC3339 timestamp and a float64 value, with
// quality defaulting to "good".
func LoadReplayRows(dir string) ([]ReplayRow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("replay: read dir: %w", err)
	}

	var rows []ReplayRow
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".csv" {
			continue
		}

		address := strings.ReplaceAll(strings.TrimSuffix(e.Name(), ".csv"), "%2F", "/")
		fileRows, err := loadReplayFile(filepath.Join(dir, e.Name()), address)
		if err != nil {
			return nil, fmt.Errorf("replay: %s: %w", e.Name(), err)
		}
		rows = append(rows, fileRows...)
	}
	return rows, nil
}

func loadReplayFile(path, address string) ([]ReplayRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	rows := make([]ReplayRow, 0, len(records))
	for i, rec := range records {
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: expected 2 columns, got %d", i+1, len(rec))
		}

		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: timestamp: %w", i+1, err)
		}

		value, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: value: %w", i+1, err)
		}

		quality := model.QualityGood
		if len(rec) >= 3 && strings.TrimSpace(rec[2]) != "" {
			quality = model.Quality(strings.TrimSpace(rec[2]))
		}

		rows = append(rows, ReplayRow{Address: address, TimestampUTC: ts.UTC(), Value: value, Quality: quality})
	}
	return rows, nil
}
