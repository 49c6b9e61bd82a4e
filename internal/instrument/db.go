package instrument

import (
	"context"
	"time"

	"github.com/luckyPipewrench/spyglass/internal/telemetry"
)

// DefaultMaxStatementLen bounds the statement preview stored in the
// payload.
const DefaultMaxStatementLen = 256

const redactedStatement = "<redacted>"

// DBConfig controls how database calls are recorded.
type DBConfig struct {
	// Vendor names the driver being observed (e.g. "mongodb", "neo4j").
	Vendor string

	// MaxStatementLen truncates the statement preview; zero selects
	// DefaultMaxStatementLen.
	MaxStatementLen int

	// Redact replaces the statement preview entirely. The payload still
	// carries the operation name and the redaction flag.
	Redact bool
}

// DB wraps database calls with telemetry. It is an explicit decorator
// the caller constructs and threads through its own data layer; the
// wrapped driver is never modified.
type DB struct {
	emitter *telemetry.Emitter
	cfg     DBConfig
}

// NewDB creates a DB wrapper emitting through emitter.
func NewDB(emitter *telemetry.Emitter, cfg DBConfig) *DB {
	if cfg.MaxStatementLen <= 0 {
		cfg.MaxStatementLen = DefaultMaxStatementLen
	}
	return &DB{emitter: emitter, cfg: cfg}
}

// Observe times fn and emits one DB payload with the operation name, a
// bounded (or redacted) statement preview, and error details on
// failure. The call's error is returned unchanged; telemetry failures
// are absorbed by the Emitter.
func (d *DB) Observe(ctx context.Context, op, stmt string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	durNS := time.Since(start).Nanoseconds()

	fields := map[string]any{
		"op":       op,
		"stmt":     d.statementPreview(stmt),
		"redacted": d.cfg.Redact,
		"dur_ns":   durNS,
		"error":    nil,
	}
	if err != nil {
		info := telemetry.NewErrorInfo(err, "")
		fields["error"] = map[string]string{
			"type":      info.Type,
			"repr":      info.Repr,
			"traceback": info.Traceback,
		}
	}
	d.emitter.Emit(ctx, "DB", d.cfg.Vendor, fields)

	return err
}

func (d *DB) statementPreview(stmt string) string {
	if d.cfg.Redact {
		return redactedStatement
	}
	if len(stmt) > d.cfg.MaxStatementLen {
		return stmt[:d.cfg.MaxStatementLen] + "..."
	}
	return stmt
}
