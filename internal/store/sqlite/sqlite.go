// Package sqlite persists derived telemetry, calibration profiles,
// forecasts, alerts, and device status in a single SQLite file.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Open creates the data directory if needed and opens the database with WAL
// journaling and a busy timeout suitable for one writer plus readers.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir data dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the schema. Statements are idempotent so startup can run
// them unconditionally.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS telemetry (
			node_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			dist_m REAL,
			h_m REAL,
			h_eff REAL,
			q_m3s REAL,
			dh_10m REAL,
			dq_10m REAL,
			rain_bin INTEGER,
			batt_v REAL,
			flags TEXT NOT NULL DEFAULT '',
			processed_at TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (node_id, ts)
		);`,
		`CREATE TABLE IF NOT EXISTS hq_profile (
			node_id TEXT PRIMARY KEY,
			a REAL NOT NULL,
			b REAL NOT NULL,
			h0_m REAL NOT NULL,
			sensor_height_above_crest_m REAL NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS forecast (
			ts_run TEXT NOT NULL,
			horizon_h INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			prob_flood REAL NOT NULL,
			wl_peak_cm REAL NOT NULL,
			ci_low_cm REAL NOT NULL,
			ci_high_cm REAL NOT NULL,
			PRIMARY KEY (ts_run, horizon_h, node_id)
		);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			alert_id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			node_id TEXT NOT NULL,
			level TEXT NOT NULL,
			horizon_h INTEGER NOT NULL,
			reason TEXT NOT NULL,
			ack_by TEXT,
			ack_ts TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS devices (
			node_id TEXT PRIMARY KEY,
			last_seen TEXT NOT NULL,
			batt_v REAL,
			status TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_node_ts ON telemetry(node_id, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
