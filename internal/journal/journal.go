// Package journal persists one row per cut cycle so shifts can be
// audited after the fact.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cutcell/vesta/internal/types"
)

// Journal is the cycle log backed by a local sqlite file
type Journal struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open creates or opens the journal database
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	j := &Journal{db: db, path: path}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return j, nil
}

// Path returns the database file path
func (j *Journal) Path() string {
	return j.path
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cycles (
		trace_id      TEXT PRIMARY KEY,
		order_id      TEXT NOT NULL,
		order_name    TEXT NOT NULL,
		ingredient    TEXT NOT NULL,
		target_g      REAL NOT NULL,
		accumulated_g REAL NOT NULL,
		outcome       TEXT NOT NULL,
		samples       INTEGER NOT NULL,
		clamps        INTEGER NOT NULL,
		started_at    TEXT NOT NULL,
		duration_ms   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cycles_order ON cycles(order_id);
	CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record appends one cycle to the journal
func (j *Journal) Record(rec types.CycleRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`
		INSERT INTO cycles (
			trace_id, order_id, order_name, ingredient,
			target_g, accumulated_g, outcome,
			samples, clamps, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, rec.OrderID, rec.OrderName, rec.Ingredient,
		rec.TargetG, rec.AccumulatedG, rec.Outcome,
		rec.Samples, rec.Clamps,
		rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to record cycle %s: %w", rec.TraceID, err)
	}
	return nil
}

// History returns the most recent cycles, newest first
func (j *Journal) History(limit int) ([]types.CycleRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.Query(`
		SELECT trace_id, order_id, order_name, ingredient,
		       target_g, accumulated_g, outcome,
		       samples, clamps, started_at, duration_ms
		FROM cycles
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []types.CycleRecord
	for rows.Next() {
		var rec types.CycleRecord
		var startedAt string
		if err := rows.Scan(
			&rec.TraceID, &rec.OrderID, &rec.OrderName, &rec.Ingredient,
			&rec.TargetG, &rec.AccumulatedG, &rec.Outcome,
			&rec.Samples, &rec.Clamps, &startedAt, &rec.DurationMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			rec.StartedAt = ts
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
