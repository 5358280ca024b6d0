package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"ratecache/sampler"
)

type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (or creates) the SQLite file at dbPath and creates the
// `metrics` table if it does not exist.
// The caller must call Close() when the program shuts down.
func NewSQLite(dbPath string, log *zap.Logger) (*SQLite, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between the recorder and queries
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &SQLite{db: db, log: log}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	const stmt = `
CREATE TABLE IF NOT EXISTS metrics (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    ts        INTEGER NOT NULL,
    plugin    TEXT NOT NULL,
    name      TEXT NOT NULL,
    value     REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_plugin_name_ts ON metrics(plugin, name, ts);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create metrics table: %w", err)
	}
	s.log.Debug("SQLite migration applied")
	return nil
}

// Save stores a snapshot in a single transaction.
func (s *SQLite) Save(ctx context.Context, plugin string, snap *sampler.Snapshot) error {
	if snap == nil || snap.Len() == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics (ts, plugin, name, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	ts := snap.CapturedAt.UnixNano()
	for name, value := range snap.Values() {
		// SQLite binds NaN as NULL
		if math.IsNaN(value) {
			s.log.Debug("skipping NaN value", zap.String("plugin", plugin), zap.String("name", name))
			continue
		}
		if _, err := stmt.ExecContext(ctx, ts, plugin, name, value); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec insert for %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.log.Debug("snapshot persisted",
		zap.String("plugin", plugin),
		zap.Time("ts", snap.CapturedAt),
		zap.Int("metrics", snap.Len()))
	return nil
}

func (s *SQLite) Query(ctx context.Context, plugin, name string, from, to time.Time) ([]MetricRecord, error) {
	q := `SELECT id, ts, plugin, name, value FROM metrics
WHERE plugin = ? AND ts >= ? AND ts <= ?`
	args := []any{plugin, from.UnixNano(), to.UnixNano()}
	if name != "" {
		q += ` AND name = ?`
		args = append(args, name)
	}
	q += ` ORDER BY ts, name`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []MetricRecord
	for rows.Next() {
		var (
			rec MetricRecord
			ts  int64
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Plugin, &rec.Name, &rec.Value); err != nil {
			return nil, fmt.Errorf("scan metric row: %w", err)
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metric rows: %w", err)
	}
	return out, nil
}

// Close shuts down the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
