// Package recordset reads and writes offline product record sets.
package recordset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/greenshelf/strainscan/internal/models"
)

// Row is the flat Parquet layout of a ProductRecord. Secondary lists are
// stored as JSON strings.
type Row struct {
	ID           string   `parquet:"id"`
	OperatorID   string   `parquet:"operator_id,optional"`
	Name         string   `parquet:"name"`
	Type         string   `parquet:"type"`
	Confidence   float64  `parquet:"confidence"`
	THC          float64  `parquet:"thc"`
	THCMin       float64  `parquet:"thc_min"`
	THCMax       float64  `parquet:"thc_max"`
	CBD          float64  `parquet:"cbd"`
	Lineage      string   `parquet:"lineage,optional"`
	Flavors      []string `parquet:"flavors,list"`
	TerpenesJSON string   `parquet:"terpenes_json"`
	EffectsJSON  string   `parquet:"effects_json"`
	Description  string   `parquet:"description"`
	Source       string   `parquet:"source"`
	CreatedAtMs  int64    `parquet:"created_at_ms"`
}

// Loader handles loading of product record sets
type Loader struct {
	path string
}

// NewLoader creates a new record set loader
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load loads records from a record set file (JSONL or Parquet)
func (l *Loader) Load() ([]*models.ProductRecord, error) {
	ext := strings.ToLower(filepath.Ext(l.path))

	switch ext {
	case ".parquet":
		return l.loadParquet()
	case ".jsonl", ".json":
		return l.loadJSONL()
	default:
		return nil, fmt.Errorf("unsupported file format: %s (supported: .parquet, .jsonl)", ext)
	}
}

// loadJSONL loads one JSON record per line. A .json file holding a single
// array is accepted too.
func (l *Loader) loadJSONL() ([]*models.ProductRecord, error) {
	slog.Debug("Opening JSONL file", "path", l.path)

	file, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record set: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	if first, err := peekNonSpace(reader); err == nil && first == '[' {
		var records []*models.ProductRecord
		if err := json.NewDecoder(reader).Decode(&records); err != nil {
			return nil, fmt.Errorf("failed to parse JSON array: %w", err)
		}
		return records, nil
	}

	var records []*models.ProductRecord
	scanner := bufio.NewScanner(reader)

	const maxCapacity = 1024 * 1024
	buf := make([]byte, maxCapacity)
	scanner.Buffer(buf, maxCapacity)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var record models.ProductRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, fmt.Errorf("failed to parse JSON at line %d: %w", lineNum, err)
		}
		records = append(records, &record)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading record set: %w", err)
	}

	slog.Debug("Finished reading JSONL file", "total_records", len(records), "total_lines", lineNum)
	return records, nil
}

func peekNonSpace(r *bufio.Reader) (byte, error) {
	for {
		b, err := r.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = r.ReadByte()
			continue
		}
		return b[0], nil
	}
}

// loadParquet loads records from a Parquet file
func (l *Loader) loadParquet() ([]*models.ProductRecord, error) {
	slog.Debug("Opening Parquet file", "path", l.path)

	file, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	slog.Debug("Parquet file opened successfully", "num_rows", pf.NumRows(), "num_row_groups", len(pf.RowGroups()))

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	var records []*models.ProductRecord
	rows := make([]Row, 128)
	for {
		n, err := reader.Read(rows)
		for i := 0; i < n; i++ {
			rec, convErr := rows[i].record()
			if convErr != nil {
				return nil, convErr
			}
			records = append(records, rec)
		}
		if err != nil {
			break
		}
	}

	slog.Debug("Finished reading Parquet file", "total_records", len(records))
	return records, nil
}

// WriteParquet writes records to path as a Parquet file
func WriteParquet(path string, records []*models.ProductRecord) error {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		row, err := toRow(rec)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("failed to write parquet %s: %w", path, err)
	}
	return nil
}

func toRow(rec *models.ProductRecord) (Row, error) {
	terpenes, err := json.Marshal(rec.Terpenes)
	if err != nil {
		return Row{}, fmt.Errorf("encode terpenes for %s: %w", rec.ID, err)
	}
	effects, err := json.Marshal(rec.Effects)
	if err != nil {
		return Row{}, fmt.Errorf("encode effects for %s: %w", rec.ID, err)
	}
	var created int64
	if !rec.CreatedAt.IsZero() {
		created = rec.CreatedAt.UnixMilli()
	}
	return Row{
		ID:           rec.ID,
		OperatorID:   rec.OperatorID,
		Name:         rec.Name,
		Type:         string(rec.Type),
		Confidence:   rec.Confidence,
		THC:          rec.THC,
		THCMin:       rec.THCMin,
		THCMax:       rec.THCMax,
		CBD:          rec.CBD,
		Lineage:      rec.Lineage,
		Flavors:      rec.Flavors,
		TerpenesJSON: string(terpenes),
		EffectsJSON:  string(effects),
		Description:  rec.Description,
		Source:       string(rec.Source),
		CreatedAtMs:  created,
	}, nil
}

func (r Row) record() (*models.ProductRecord, error) {
	rec := &models.ProductRecord{
		ID:          r.ID,
		OperatorID:  r.OperatorID,
		Name:        r.Name,
		Type:        models.StrainType(r.Type),
		Confidence:  r.Confidence,
		THC:         r.THC,
		THCMin:      r.THCMin,
		THCMax:      r.THCMax,
		CBD:         r.CBD,
		Lineage:     r.Lineage,
		Flavors:     append([]string(nil), r.Flavors...),
		Description: r.Description,
		Source:      models.Source(r.Source),
	}
	if r.CreatedAtMs != 0 {
		rec.CreatedAt = time.UnixMilli(r.CreatedAtMs).UTC()
	}
	if r.TerpenesJSON != "" {
		if err := json.Unmarshal([]byte(r.TerpenesJSON), &rec.Terpenes); err != nil {
			return nil, fmt.Errorf("decode terpenes for %s: %w", r.ID, err)
		}
	}
	if r.EffectsJSON != "" {
		if err := json.Unmarshal([]byte(r.EffectsJSON), &rec.Effects); err != nil {
			return nil, fmt.Errorf("decode effects for %s: %w", r.ID, err)
		}
	}
	return rec, nil
}
