package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/greenshelf/strainscan/internal/cache"
	"github.com/greenshelf/strainscan/internal/models"
)

// Store is the durable per-operator record catalog backed by SQLite
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id            TEXT NOT NULL,
	operator_id   TEXT NOT NULL,
	cache_key     TEXT NOT NULL,
	name          TEXT NOT NULL,
	type          TEXT NOT NULL,
	confidence    REAL NOT NULL DEFAULT 0,
	thc           REAL NOT NULL DEFAULT 0,
	thc_min       REAL NOT NULL DEFAULT 0,
	thc_max       REAL NOT NULL DEFAULT 0,
	cbd           REAL NOT NULL DEFAULT 0,
	lineage       TEXT,
	flavors_json  TEXT,
	terpenes_json TEXT,
	effects_json  TEXT,
	description   TEXT,
	source        TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (operator_id, cache_key)
);
CREATE INDEX IF NOT EXISTS idx_records_operator_created ON records(operator_id, created_at);
`

const recordColumns = "id, operator_id, name, type, confidence, thc, thc_min, thc_max, cbd, lineage, flavors_json, terpenes_json, effects_json, description, source, created_at"

// Open initializes or connects to the catalog database at path
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init catalog schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert stores rec for operatorID. A record whose name maps to an existing
// cache key replaces it, so concurrent writers converge on one row.
func (s *Store) Insert(ctx context.Context, operatorID string, rec *models.ProductRecord) error {
	if rec == nil {
		return errors.New("nil record")
	}
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return errors.New("operator id is required")
	}

	flavors, err := json.Marshal(rec.Flavors)
	if err != nil {
		return fmt.Errorf("encode flavors: %w", err)
	}
	terpenes, err := json.Marshal(rec.Terpenes)
	if err != nil {
		return fmt.Errorf("encode terpenes: %w", err)
	}
	effects, err := json.Marshal(rec.Effects)
	if err != nil {
		return fmt.Errorf("encode effects: %w", err)
	}

	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO records (id, operator_id, cache_key, name, type, confidence, thc, thc_min, thc_max, cbd,
	lineage, flavors_json, terpenes_json, effects_json, description, source, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(operator_id, cache_key) DO UPDATE SET
	id = excluded.id,
	name = excluded.name,
	type = excluded.type,
	confidence = excluded.confidence,
	thc = excluded.thc,
	thc_min = excluded.thc_min,
	thc_max = excluded.thc_max,
	cbd = excluded.cbd,
	lineage = excluded.lineage,
	flavors_json = excluded.flavors_json,
	terpenes_json = excluded.terpenes_json,
	effects_json = excluded.effects_json,
	description = excluded.description,
	source = excluded.source,
	updated_at = excluded.updated_at`,
			rec.ID, operatorID, cache.CacheKey(rec.Name), rec.Name, string(rec.Type), rec.Confidence,
			rec.THC, rec.THCMin, rec.THCMax, rec.CBD, rec.Lineage,
			string(flavors), string(terpenes), string(effects), rec.Description, string(rec.Source),
			created.UTC().Format(time.RFC3339Nano), now,
		)
		return err
	})
}

// List returns every record stored for operatorID, oldest first. An empty
// operatorID lists the whole catalog.
func (s *Store) List(ctx context.Context, operatorID string) ([]*models.ProductRecord, error) {
	query := "SELECT " + recordColumns + " FROM records"
	var args []any
	if operatorID != "" {
		query += " WHERE operator_id = ?"
		args = append(args, operatorID)
	}
	query += " ORDER BY created_at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*models.ProductRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*models.ProductRecord, error) {
	var (
		rec        models.ProductRecord
		recType    string
		lineage    sql.NullString
		flavors    sql.NullString
		terpenes   sql.NullString
		effects    sql.NullString
		desc       sql.NullString
		source     sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.OperatorID,
		&rec.Name,
		&recType,
		&rec.Confidence,
		&rec.THC,
		&rec.THCMin,
		&rec.THCMax,
		&rec.CBD,
		&lineage,
		&flavors,
		&terpenes,
		&effects,
		&desc,
		&source,
		&createdRaw,
	); err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}

	rec.Type = models.StrainType(recType)
	rec.Lineage = lineage.String
	rec.Description = desc.String
	rec.Source = models.Source(source.String)
	if err := unmarshalColumn(flavors, &rec.Flavors); err != nil {
		return nil, fmt.Errorf("decode flavors for %s: %w", rec.ID, err)
	}
	if err := unmarshalColumn(terpenes, &rec.Terpenes); err != nil {
		return nil, fmt.Errorf("decode terpenes for %s: %w", rec.ID, err)
	}
	if err := unmarshalColumn(effects, &rec.Effects); err != nil {
		return nil, fmt.Errorf("decode effects for %s: %w", rec.ID, err)
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		rec.CreatedAt = created
	}
	return &rec, nil
}

func unmarshalColumn(col sql.NullString, target any) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), target)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
