// Package db is the sqlite persistence layer: alerts, closed zone visits,
// and periodic rollups. Schema lives in embedded migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/atrium-data/presence.report/internal/analytics"
	"github.com/atrium-data/presence.report/internal/occupancy"
	"github.com/atrium-data/presence.report/internal/zones"
)

// DB wraps the sqlite connection.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the sqlite database at path. The schema is not
// touched here; callers run MigrateUp before first use.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc sqlite serializes writes per connection; WAL plus a busy
	// timeout keeps concurrent readers from erroring out.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	return &DB{sqlDB}, nil
}

// InsertAlert persists one alert. Inserting the same alert ID twice is a
// no-op, so sinks can retry safely.
func (db *DB) InsertAlert(ctx context.Context, a occupancy.Alert) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO alerts (
			id, kind, camera_id, track_id, person_id, zone_id,
			timestamp, dwell_ns, occupant_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Kind), a.CameraID, a.TrackID, a.PersonID, a.ZoneID,
		a.Timestamp, int64(a.Dwell), a.OccupantCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// RecentAlerts returns the most recent alerts, newest first.
func (db *DB) RecentAlerts(ctx context.Context, limit int) ([]occupancy.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, kind, camera_id, track_id, person_id, zone_id,
			timestamp, dwell_ns, occupant_count
		FROM alerts ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []occupancy.Alert
	for rows.Next() {
		var a occupancy.Alert
		var kind string
		var dwell int64
		if err := rows.Scan(
			&a.ID, &kind, &a.CameraID, &a.TrackID, &a.PersonID, &a.ZoneID,
			&a.Timestamp, &dwell, &a.OccupantCount,
		); err != nil {
			return nil, err
		}
		a.Kind = occupancy.AlertKind(kind)
		a.Dwell = time.Duration(dwell)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// PersistVisits writes a batch of closed occupancy records in one
// transaction.
func (db *DB) PersistVisits(ctx context.Context, recs []occupancy.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO zone_visits (
			camera_id, track_id, person_id, zone_id,
			entered_at, last_seen, dwell_ns, classification
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx,
			r.CameraID, r.TrackID, r.PersonID, r.ZoneID,
			r.EnteredAt, r.LastSeen, int64(r.Dwell()), string(r.Classification),
		); err != nil {
			return fmt.Errorf("failed to insert visit: %w", err)
		}
	}
	return tx.Commit()
}

// VisitsForZone returns closed visits for a zone, newest entry first.
func (db *DB) VisitsForZone(ctx context.Context, zoneID string, limit int) ([]occupancy.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT camera_id, track_id, person_id, zone_id,
			entered_at, last_seen, classification
		FROM zone_visits WHERE zone_id = ?
		ORDER BY entered_at DESC LIMIT ?`, zoneID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []occupancy.Record
	for rows.Next() {
		var r occupancy.Record
		var class string
		if err := rows.Scan(
			&r.CameraID, &r.TrackID, &r.PersonID, &r.ZoneID,
			&r.EnteredAt, &r.LastSeen, &class,
		); err != nil {
			return nil, err
		}
		r.Classification = occupancy.Classification(class)
		r.Closed = true
		r.ClosedAt = r.LastSeen
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// PersistSummary writes one aggregation interval's zone and person rollups.
// Implements analytics.Store together with PersistVisits.
func (db *DB) PersistSummary(ctx context.Context, s analytics.Summary) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, z := range s.Zones {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO zone_rollups (
				timestamp, zone_id, zone_name, category,
				occupants, visits, cumulative_dwell_ns
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.Timestamp, z.ZoneID, z.Name, string(z.Category),
			z.Occupants, z.Visits, int64(z.CumulativeDwell),
		); err != nil {
			return fmt.Errorf("failed to insert zone rollup: %w", err)
		}
	}

	for _, p := range s.Persons {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO person_rollups (
				timestamp, person_id, productive_ns, break_ns, total_ns
			) VALUES (?, ?, ?, ?, ?)`,
			s.Timestamp, p.PersonID,
			int64(p.ProductiveTime), int64(p.BreakTime), int64(p.TotalTime),
		); err != nil {
			return fmt.Errorf("failed to insert person rollup: %w", err)
		}
	}

	return tx.Commit()
}

// ZoneRollups returns the rollup history for one zone, newest first.
func (db *DB) ZoneRollups(ctx context.Context, zoneID string, limit int) ([]analytics.ZoneSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT zone_id, zone_name, category, occupants, visits, cumulative_dwell_ns
		FROM zone_rollups WHERE zone_id = ?
		ORDER BY timestamp DESC LIMIT ?`, zoneID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []analytics.ZoneSnapshot
	for rows.Next() {
		var z analytics.ZoneSnapshot
		var category string
		var dwell int64
		if err := rows.Scan(&z.ZoneID, &z.Name, &category, &z.Occupants, &z.Visits, &dwell); err != nil {
			return nil, err
		}
		z.Category = zones.Category(category)
		z.CumulativeDwell = time.Duration(dwell)
		snaps = append(snaps, z)
	}
	return snaps, rows.Err()
}

// PersonRollups returns the rollup history for one person, newest first.
func (db *DB) PersonRollups(ctx context.Context, personID string, limit int) ([]analytics.PersonSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT person_id, productive_ns, break_ns, total_ns
		FROM person_rollups WHERE person_id = ?
		ORDER BY timestamp DESC LIMIT ?`, personID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []analytics.PersonSnapshot
	for rows.Next() {
		var p analytics.PersonSnapshot
		var productive, brk, total int64
		if err := rows.Scan(&p.PersonID, &productive, &brk, &total); err != nil {
			return nil, err
		}
		p.ProductiveTime = time.Duration(productive)
		p.BreakTime = time.Duration(brk)
		p.TotalTime = time.Duration(total)
		snaps = append(snaps, p)
	}
	return snaps, rows.Err()
}
