package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hydrowatch/flood-telemetry-service/internal/domain"
)

// Repository implements the pipeline's profile, history, record, forecast,
// and alert storage on SQLite. Methods are safe for concurrent use; SQLite
// serializes writers underneath.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetHQProfile returns the node's calibration profile, or the defaults for a
// node that has never been calibrated.
func (r *Repository) GetHQProfile(ctx context.Context, nodeID string) (domain.HQProfile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT a, b, h0_m, sensor_height_above_crest_m FROM hq_profile WHERE node_id = ?`, nodeID)

	var p domain.HQProfile
	err := row.Scan(&p.A, &p.B, &p.H0M, &p.SensorHeightAboveCrestM)
	if err == sql.ErrNoRows {
		return domain.DefaultHQProfile(), nil
	}
	if err != nil {
		return domain.HQProfile{}, fmt.Errorf("get hq profile: %w", err)
	}
	return p, nil
}

// UpsertHQProfile stores an accepted calibration for a node.
func (r *Repository) UpsertHQProfile(ctx context.Context, nodeID string, p domain.HQProfile) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO hq_profile (node_id, a, b, h0_m, sensor_height_above_crest_m, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			a = excluded.a,
			b = excluded.b,
			h0_m = excluded.h0_m,
			sensor_height_above_crest_m = excluded.sensor_height_above_crest_m,
			updated_at = excluded.updated_at`,
		nodeID, p.A, p.B, p.H0M, p.SensorHeightAboveCrestM, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert hq profile: %w", err)
	}
	return nil
}

// UpsertDerived stores one derived record (a repeat (node_id, ts) overwrites)
// and refreshes the device-status side record in the same transaction.
func (r *Repository) UpsertDerived(ctx context.Context, rec domain.DerivedRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert derived: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO telemetry
			(node_id, ts, dist_m, h_m, h_eff, q_m3s, dh_10m, dq_10m, rain_bin, batt_v, flags, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.NodeID, rec.TS,
		nullFloat(rec.DistM), nullFloat(rec.HM), nullFloat(rec.HEff), nullFloat(rec.QM3s),
		nullFloat(rec.DH10m), nullFloat(rec.DQ10m), nullInt(rec.RainBin), nullFloat(rec.BattV),
		rec.FlagString(), rec.ProcessedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert derived: telemetry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO devices (node_id, last_seen, batt_v, status)
		VALUES (?, ?, ?, 'online')
		ON CONFLICT(node_id) DO UPDATE SET
			last_seen = excluded.last_seen,
			batt_v = excluded.batt_v,
			status = excluded.status`,
		rec.NodeID, rec.TS, nullFloat(rec.BattV))
	if err != nil {
		return fmt.Errorf("upsert derived: device status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert derived: commit: %w", err)
	}
	return nil
}

// ValueAtOrBefore returns the most recent record at or before cutoffTS for
// the node, or nil when no such record exists.
func (r *Repository) ValueAtOrBefore(ctx context.Context, nodeID, cutoffTS string) (*domain.HistoricalValue, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT h_m, q_m3s FROM telemetry
		WHERE node_id = ? AND ts <= ?
		ORDER BY ts DESC LIMIT 1`, nodeID, cutoffTS)

	var h, q sql.NullFloat64
	err := row.Scan(&h, &q)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("value at or before: %w", err)
	}
	return &domain.HistoricalValue{HM: fromNull(h), QM3s: fromNull(q)}, nil
}

// LatestTelemetry returns up to limit records for a node in ascending
// timestamp order.
func (r *Repository) LatestTelemetry(ctx context.Context, nodeID string, limit int) ([]domain.DerivedRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT node_id, ts, dist_m, h_m, h_eff, q_m3s, dh_10m, dq_10m, rain_bin, batt_v, flags, processed_at
		FROM telemetry WHERE node_id = ?
		ORDER BY ts DESC LIMIT ?`, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("latest telemetry: %w", err)
	}
	defer rows.Close()

	var recs []domain.DerivedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("latest telemetry: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("latest telemetry: %w", err)
	}

	// Reverse into ascending order for display and charting.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// LatestRecord returns a node's newest record, or nil when none exist.
func (r *Repository) LatestRecord(ctx context.Context, nodeID string) (*domain.DerivedRecord, error) {
	recs, err := r.LatestTelemetry(ctx, nodeID, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// UpsertForecast stores one horizon of a model run for a node.
func (r *Repository) UpsertForecast(ctx context.Context, tsRun, nodeID string, horizonH int, f domain.Forecast) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO forecast (ts_run, horizon_h, node_id, prob_flood, wl_peak_cm, ci_low_cm, ci_high_cm)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ts_run, horizon_h, node_id) DO UPDATE SET
			prob_flood = excluded.prob_flood,
			wl_peak_cm = excluded.wl_peak_cm,
			ci_low_cm = excluded.ci_low_cm,
			ci_high_cm = excluded.ci_high_cm`,
		tsRun, horizonH, nodeID, f.ProbFlood, f.WlPeakCm, f.CiLowCm, f.CiHighCm)
	if err != nil {
		return fmt.Errorf("upsert forecast: %w", err)
	}
	return nil
}

// ForecastRow is one stored forecast horizon for the read API.
type ForecastRow struct {
	TsRun    string `json:"ts_run"`
	HorizonH int    `json:"horizon_h"`
	domain.Forecast
}

// ForecastsForNode returns all stored forecasts for a node, newest run
// first, horizons ascending within a run.
func (r *Repository) ForecastsForNode(ctx context.Context, nodeID string) ([]ForecastRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts_run, horizon_h, prob_flood, wl_peak_cm, ci_low_cm, ci_high_cm
		FROM forecast WHERE node_id = ?
		ORDER BY ts_run DESC, horizon_h ASC`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("forecasts for node: %w", err)
	}
	defer rows.Close()

	var out []ForecastRow
	for rows.Next() {
		var fr ForecastRow
		if err := rows.Scan(&fr.TsRun, &fr.HorizonH, &fr.ProbFlood, &fr.WlPeakCm, &fr.CiLowCm, &fr.CiHighCm); err != nil {
			return nil, fmt.Errorf("forecasts for node: %w", err)
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

// InsertAlertIfAbsent stores an alert unless its ID already exists.
// inserted is false for the duplicate, satisfying the evaluator's
// idempotent-emission contract.
func (r *Repository) InsertAlertIfAbsent(ctx context.Context, a domain.Alert) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO alerts (alert_id, ts, node_id, level, horizon_h, reason)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.TS, a.NodeID, a.Level, a.HorizonH, a.Reason)
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", err)
	}
	return n > 0, nil
}

// LatestAlerts returns the newest alerts, most recent first.
func (r *Repository) LatestAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT alert_id, ts, node_id, level, horizon_h, reason
		FROM alerts ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("latest alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		if err := rows.Scan(&a.ID, &a.TS, &a.NodeID, &a.Level, &a.HorizonH, &a.Reason); err != nil {
			return nil, fmt.Errorf("latest alerts: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListNodes returns every node that has ever reported, for the forecast
// cycle to iterate.
func (r *Repository) ListNodes(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT node_id FROM devices ORDER BY node_id`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list nodes: %w", err)
		}
		nodes = append(nodes, id)
	}
	return nodes, rows.Err()
}

func scanRecord(rows *sql.Rows) (domain.DerivedRecord, error) {
	var rec domain.DerivedRecord
	var dist, h, heff, q, dh, dq, batt sql.NullFloat64
	var rain sql.NullInt64
	var flags, processedAt string

	if err := rows.Scan(&rec.NodeID, &rec.TS, &dist, &h, &heff, &q, &dh, &dq, &rain, &batt, &flags, &processedAt); err != nil {
		return domain.DerivedRecord{}, err
	}
	rec.DistM = fromNull(dist)
	rec.HM = fromNull(h)
	rec.HEff = fromNull(heff)
	rec.QM3s = fromNull(q)
	rec.DH10m = fromNull(dh)
	rec.DQ10m = fromNull(dq)
	rec.BattV = fromNull(batt)
	if rain.Valid {
		v := int(rain.Int64)
		rec.RainBin = &v
	}
	if flags != "" {
		rec.Flags = splitFlags(flags)
	}
	if processedAt != "" {
		if t, err := time.Parse(time.RFC3339, processedAt); err == nil {
			rec.ProcessedAt = t
		}
	}
	return rec, nil
}

func splitFlags(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '|' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
