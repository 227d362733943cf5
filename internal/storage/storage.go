// Package storage writes the pipeline's durable artifacts: raw provider
// responses under one tree, normalized observation tables under another.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/greenpulse/greenpulse/internal/models"
)

var csvHeader = []string{"entity_id", "period", "value", "unit", "category", "source"}

// Store owns the raw and processed output directories.
type Store struct {
	rawDir       string
	processedDir string
}

// NewStore creates the output directories if needed.
func NewStore(rawDir, processedDir string) (*Store, error) {
	for _, dir := range []string{rawDir, processedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Store{rawDir: rawDir, processedDir: processedDir}, nil
}

// RawPath returns where a source's raw artifact lives.
func (s *Store) RawPath(source string) string {
	return filepath.Join(s.rawDir, source+".json")
}

// ProcessedPath returns where a source's normalized table lives.
func (s *Store) ProcessedPath(source string) string {
	return filepath.Join(s.processedDir, source+".csv")
}

// SaveRaw persists the verbatim decoded response together with its
// provenance, one provider-tagged file per fetch.
func (s *Store) SaveRaw(rec *models.RawRecord) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal raw record: %w", err)
	}
	path := s.RawPath(rec.Source)
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// SaveTable writes a normalized table as CSV with a header row matching the
// observation schema. The write goes through a temp file and rename so a
// failure never leaves a partial table behind.
func (s *Store) SaveTable(source string, table models.ObservationTable) (string, error) {
	tmp, err := os.CreateTemp(s.processedDir, source+"-*.csv.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp table file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		tmp.Close()
		return "", err
	}
	for _, row := range table {
		record := []string{
			row.EntityID,
			strconv.Itoa(row.Period),
			strconv.FormatFloat(row.Value, 'g', -1, 64),
			row.Unit,
			row.Category,
			row.Source,
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	path := s.ProcessedPath(source)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename table file: %w", err)
	}
	return path, nil
}

// LoadTable reads a processed table back, row for row.
func (s *Store) LoadTable(source string) (models.ObservationTable, error) {
	f, err := os.Open(s.ProcessedPath(source))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read table for %s: %w", source, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("table for %s has no header", source)
	}

	table := make(models.ObservationTable, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(csvHeader) {
			return nil, fmt.Errorf("table for %s: row has %d columns, want %d", source, len(rec), len(csvHeader))
		}
		period, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("table for %s: bad period %q: %w", source, rec[1], err)
		}
		value, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("table for %s: bad value %q: %w", source, rec[2], err)
		}
		table = append(table, models.ObservationRow{
			EntityID: rec[0],
			Period:   period,
			Value:    value,
			Unit:     rec[3],
			Category: rec[4],
			Source:   rec[5],
		})
	}
	return table, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
