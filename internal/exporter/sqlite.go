package exporter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/luckyPipewrench/spyglass/internal/diag"
	"github.com/luckyPipewrench/spyglass/internal/metrics"
	"github.com/luckyPipewrench/spyglass/internal/telemetry"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS telemetry (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	ts_ns  INTEGER,
	kind   TEXT,
	vendor TEXT,
	record TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS telemetry_ts_ns ON telemetry (ts_ns);
`

// SQLite persists batches into a local SQLite database, one row per
// record with the full payload as JSON. Each batch is inserted in a
// single transaction, so a failed batch leaves no partial rows.
type SQLite struct {
	db      *sql.DB
	logger  *diag.Logger
	metrics *metrics.Metrics

	serializeErrors atomic.Uint64
}

// SQLiteOption configures a SQLite exporter.
type SQLiteOption func(*SQLite)

// WithSQLiteLogger sets the diagnostics logger.
func WithSQLiteLogger(l *diag.Logger) SQLiteOption {
	return func(s *SQLite) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSQLiteMetrics wires pipeline self-metrics.
func WithSQLiteMetrics(m *metrics.Metrics) SQLiteOption {
	return func(s *SQLite) {
		s.metrics = m
	}
}

// NewSQLite opens (creating if needed) the database at path and ensures
// the telemetry schema exists.
func NewSQLite(path string, opts ...SQLiteOption) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("exporter: sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("exporter: opening sqlite db: %w", err)
	}
	// The exporter is written by a single consumer; one connection
	// avoids SQLITE_BUSY on concurrent writes from pooled conns.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("exporter: creating telemetry schema: %w", err)
	}

	s := &SQLite{
		db:     db,
		logger: diag.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Write inserts one batch in a single transaction. Records that fail to
// serialize are skipped and counted; insert failures abort and roll
// back the whole batch.
func (s *SQLite) Write(ctx context.Context, batch []telemetry.Payload) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("exporter: beginning sqlite tx: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO telemetry (ts_ns, kind, vendor, record) VALUES (?, ?, ?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exporter: preparing sqlite insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range batch {
		record, err := json.Marshal(p)
		if err != nil {
			s.serializeErrors.Add(1)
			s.logger.LogSerializeError(err)
			if s.metrics != nil {
				s.metrics.RecordSkippedRecord()
			}
			continue
		}

		if _, err := stmt.ExecContext(ctx,
			intField(p, "ts_ns"), stringField(p, "kind"), stringField(p, "vendor"), string(record),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exporter: inserting record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("exporter: committing batch: %w", err)
	}
	return nil
}

// SerializeErrors returns the number of records skipped because they
// could not be serialized.
func (s *SQLite) SerializeErrors() uint64 {
	return s.serializeErrors.Load()
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// intField extracts an integer payload field for the indexed columns.
// Payload values arrive as whatever integer type the adapter used.
func intField(p telemetry.Payload, key string) any {
	switch v := p[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return nil
	}
}

func stringField(p telemetry.Payload, key string) any {
	if v, ok := p[key].(string); ok {
		return v
	}
	return nil
}
