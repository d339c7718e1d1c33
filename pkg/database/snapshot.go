package database

import (
	"context"
	"database/sql"
	"fmt"

	"mistral-air-map/pkg/measure"
)

// InitSchema creates the snapshot tables when they do not exist. Entities
// are keyed (source, id): the replace-by-source merge rule means a source
// never holds more than one row per entity.
func (db *Database) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS measurements (
			source TEXT NOT NULL,
			id TEXT NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lon DOUBLE PRECISION NOT NULL,
			pollutant TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			has_value BOOLEAN NOT NULL,
			unit TEXT NOT NULL,
			quality TEXT NOT NULL,
			status TEXT NOT NULL,
			measured_at BIGINT NOT NULL,
			PRIMARY KEY (source, id)
		);`,
		`CREATE TABLE IF NOT EXISTS community_reports (
			source TEXT NOT NULL,
			id TEXT NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lon DOUBLE PRECISION NOT NULL,
			signal TEXT NOT NULL,
			comment TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (source, id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// ReplaceSourceMeasurements swaps the stored set for one source in a
// single transaction, the exact analogue of the in-memory merge.
func (db *Database) ReplaceSourceMeasurements(ctx context.Context, source string, ms []measure.Measurement) error {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	next := newPlaceholderGenerator(db.Driver)
	del := fmt.Sprintf(`DELETE FROM measurements WHERE source = %s;`, next())
	if _, err := tx.ExecContext(ctx, del, source); err != nil {
		return fmt.Errorf("evict %s: %w", source, err)
	}

	for _, m := range ms {
		next = newPlaceholderGenerator(db.Driver)
		ins := fmt.Sprintf(`INSERT INTO measurements
			(source, id, lat, lon, pollutant, value, has_value, unit, quality, status, measured_at)
			VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s);`,
			next(), next(), next(), next(), next(), next(), next(), next(), next(), next(), next())
		if _, err := tx.ExecContext(ctx, ins,
			m.Source, m.ID, m.Lat, m.Lon, m.Pollutant, m.Value, m.HasValue,
			m.Unit, string(m.Quality), m.Status, m.MeasuredAt); err != nil {
			return fmt.Errorf("insert measurement %s/%s: %w", m.Source, m.ID, err)
		}
	}
	return tx.Commit()
}

// ReplaceSourceReports is ReplaceSourceMeasurements for nuisance reports.
func (db *Database) ReplaceSourceReports(ctx context.Context, source string, rs []measure.CommunityReport) error {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	next := newPlaceholderGenerator(db.Driver)
	del := fmt.Sprintf(`DELETE FROM community_reports WHERE source = %s;`, next())
	if _, err := tx.ExecContext(ctx, del, source); err != nil {
		return fmt.Errorf("evict %s: %w", source, err)
	}

	for _, r := range rs {
		next = newPlaceholderGenerator(db.Driver)
		ins := fmt.Sprintf(`INSERT INTO community_reports
			(source, id, lat, lon, signal, comment, created_at)
			VALUES (%s, %s, %s, %s, %s, %s, %s);`,
			next(), next(), next(), next(), next(), next(), next())
		if _, err := tx.ExecContext(ctx, ins,
			r.Source, r.ID, r.Lat, r.Lon, string(r.Signal), r.Comment, r.CreatedAt); err != nil {
			return fmt.Errorf("insert report %s/%s: %w", r.Source, r.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteSource evicts one source from both tables, used when a source is
// deselected so a restart does not resurrect its markers.
func (db *Database) DeleteSource(ctx context.Context, source string) error {
	next := newPlaceholderGenerator(db.Driver)
	del := fmt.Sprintf(`DELETE FROM measurements WHERE source = %s;`, next())
	if _, err := db.DB.ExecContext(ctx, del, source); err != nil {
		return fmt.Errorf("evict measurements %s: %w", source, err)
	}
	next = newPlaceholderGenerator(db.Driver)
	del = fmt.Sprintf(`DELETE FROM community_reports WHERE source = %s;`, next())
	if _, err := db.DB.ExecContext(ctx, del, source); err != nil {
		return fmt.Errorf("evict reports %s: %w", source, err)
	}
	return nil
}

// LoadMeasurements returns every stored measurement, grouped by source.
func (db *Database) LoadMeasurements(ctx context.Context) (map[string][]measure.Measurement, error) {
	rows, err := db.DB.QueryContext(ctx, `SELECT source, id, lat, lon, pollutant, value, has_value, unit, quality, status, measured_at FROM measurements;`)
	if err != nil {
		return nil, fmt.Errorf("load measurements: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]measure.Measurement)
	for rows.Next() {
		var m measure.Measurement
		var quality sql.NullString
		if err := rows.Scan(&m.Source, &m.ID, &m.Lat, &m.Lon, &m.Pollutant, &m.Value,
			&m.HasValue, &m.Unit, &quality, &m.Status, &m.MeasuredAt); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		m.Quality = measure.QualityLevel(quality.String)
		if m.Quality == "" {
			m.Quality = measure.LevelDefault
		}
		out[m.Source] = append(out[m.Source], m)
	}
	return out, rows.Err()
}

// LoadReports returns every stored nuisance report, grouped by source.
func (db *Database) LoadReports(ctx context.Context) (map[string][]measure.CommunityReport, error) {
	rows, err := db.DB.QueryContext(ctx, `SELECT source, id, lat, lon, signal, comment, created_at FROM community_reports;`)
	if err != nil {
		return nil, fmt.Errorf("load reports: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]measure.CommunityReport)
	for rows.Next() {
		var r measure.CommunityReport
		var signal sql.NullString
		if err := rows.Scan(&r.Source, &r.ID, &r.Lat, &r.Lon, &signal, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		r.Signal = measure.SignalType(signal.String)
		out[r.Source] = append(out[r.Source], r)
	}
	return out, rows.Err()
}
