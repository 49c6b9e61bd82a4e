// Package diag provides structured JSON diagnostics for the Spyglass
// pipeline. Telemetry payloads never flow through this logger; it only
// reports the pipeline's own health (drops, sink failures, rotations).
package diag

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Output selection constants for New.
const (
	OutputStdout = "stdout"
	OutputFile   = "file"
	OutputBoth   = "both"
)

// Logger handles structured pipeline diagnostics using zerolog.
//
// Queue-drop and sink-error reports are rate limited: a full queue or a
// persistently failing sink can generate thousands of identical events
// per second, and flooding the host application's log output would
// violate the telemetry-never-hurts contract.
type Logger struct {
	zl         zerolog.Logger
	dropLimit  *rate.Limiter
	errLimit   *rate.Limiter
	fileHandle *os.File // non-nil if logging to file
}

// New creates a pipeline diagnostics logger. The caller should call
// Close when done. format is "json" or "text"; output is one of the
// Output* constants.
func New(format, output, filePath string) (*Logger, error) {
	var writers []io.Writer

	if output == OutputStdout || output == OutputBoth {
		if format == "text" {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, os.Stdout)
		}
	}

	var fileHandle *os.File
	if output == OutputFile || output == OutputBoth {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: path validated by config layer
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
		fileHandle = f
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(w).With().
		Timestamp().
		Str("component", "spyglass").
		Logger()

	return &Logger{
		zl:         zl,
		dropLimit:  rate.NewLimiter(rate.Every(time.Second), 5),
		errLimit:   rate.NewLimiter(rate.Every(time.Second), 5),
		fileHandle: fileHandle,
	}, nil
}

// NewNop returns a no-op logger that discards all events.
func NewNop() *Logger {
	return &Logger{
		zl:        zerolog.Nop(),
		dropLimit: rate.NewLimiter(rate.Inf, 0),
		errLimit:  rate.NewLimiter(rate.Inf, 0),
	}
}

// LogStartup logs that a collector has started.
func (l *Logger) LogStartup(queueSize, batchMax int, flushInterval time.Duration) {
	l.zl.Info().
		Str("event", "startup").
		Int("queue_size", queueSize).
		Int("batch_max", batchMax).
		Dur("flush_interval", flushInterval).
		Msg("collector started")
}

// LogShutdown logs a clean collector shutdown.
func (l *Logger) LogShutdown(enqueued, dropped uint64) {
	l.zl.Info().
		Str("event", "shutdown").
		Uint64("enqueued", enqueued).
		Uint64("dropped", dropped).
		Msg("collector stopped")
}

// LogShutdownTimeout logs that Close gave up before the final drain
// completed. Undrained payloads are lost.
func (l *Logger) LogShutdownTimeout(timeout time.Duration, pending int) {
	l.zl.Warn().
		Str("event", "shutdown_timeout").
		Dur("timeout", timeout).
		Int("pending", pending).
		Msg("shutdown timed out, in-flight telemetry lost")
}

// LogQueueDrop logs a payload rejected at enqueue time. Rate limited.
func (l *Logger) LogQueueDrop(policy string, totalDropped uint64) {
	if !l.dropLimit.Allow() {
		return
	}
	l.zl.Warn().
		Str("event", "queue_drop").
		Str("policy", policy).
		Uint64("total_dropped", totalDropped).
		Msg("queue full, payload dropped")
}

// LogSinkError logs a batch that failed to persist. Rate limited.
func (l *Logger) LogSinkError(batchSize int, err error) {
	if !l.errLimit.Allow() {
		return
	}
	l.zl.Error().
		Str("event", "sink_error").
		Int("batch_size", batchSize).
		Err(err).
		Msg("batch dropped, sink write failed")
}

// LogSerializeError logs a single record skipped within a batch. Rate limited.
func (l *Logger) LogSerializeError(err error) {
	if !l.errLimit.Allow() {
		return
	}
	l.zl.Error().
		Str("event", "serialize_error").
		Err(err).
		Msg("record skipped, serialization failed")
}

// LogRotation logs a closed output segment.
func (l *Logger) LogRotation(path string, bytes int64, age time.Duration) {
	l.zl.Info().
		Str("event", "rotation").
		Str("segment", path).
		Int64("bytes", bytes).
		Dur("age", age).
		Msg("segment rotated")
}

// LogConfigReload logs a configuration reload event.
func (l *Logger) LogConfigReload(status, detail string) {
	l.zl.Info().
		Str("event", "config_reload").
		Str("status", status).
		Str("detail", detail).
		Msg("configuration reloaded")
}

// Close cleans up the logger, flushing and closing any open file
// handles. Close is idempotent and safe to call multiple times.
func (l *Logger) Close() {
	if l.fileHandle != nil {
		_ = l.fileHandle.Sync()
		_ = l.fileHandle.Close()
		l.fileHandle = nil
	}
}
