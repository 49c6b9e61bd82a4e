// Package exporter provides concrete Sink implementations: a rotating
// JSONL file exporter, a console exporter, and a SQLite exporter.
//
// Exporters are written by exactly one collector consumer at a time and
// therefore carry no internal locking; sharing one exporter across
// collectors is the caller's problem.
package exporter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/luckyPipewrench/spyglass/internal/diag"
	"github.com/luckyPipewrench/spyglass/internal/metrics"
	"github.com/luckyPipewrench/spyglass/internal/telemetry"
)

// Default values for JSONL configuration.
const (
	DefaultRotateBytes = 8 << 20 // 8 MiB
	DefaultRotateSecs  = 5 * time.Minute
)

// JSONL writes newline-delimited JSON records into a directory,
// rotating output segments by size or age. A record is never split
// across two segments, and no segment exceeds the byte threshold by
// more than one record.
type JSONL struct {
	dir         string
	rotateBytes int64
	rotateSecs  time.Duration
	logger      *diag.Logger
	metrics     *metrics.Metrics
	now         func() time.Time // overridable for tests

	file   *os.File
	w      *bufio.Writer
	bytes  int64
	opened time.Time

	serializeErrors atomic.Uint64
}

// JSONLOption configures a JSONL exporter.
type JSONLOption func(*JSONL)

// WithJSONLLogger sets the diagnostics logger.
func WithJSONLLogger(l *diag.Logger) JSONLOption {
	return func(j *JSONL) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithJSONLMetrics wires pipeline self-metrics.
func WithJSONLMetrics(m *metrics.Metrics) JSONLOption {
	return func(j *JSONL) {
		j.metrics = m
	}
}

// NewJSONL creates a rotating JSONL exporter writing into dir, which is
// created if absent. rotateBytes and rotateSecs bound each segment's
// size and age; zero values select the defaults.
func NewJSONL(dir string, rotateBytes int64, rotateSecs time.Duration, opts ...JSONLOption) (*JSONL, error) {
	if dir == "" {
		return nil, fmt.Errorf("exporter: jsonl dir is required")
	}
	if rotateBytes <= 0 {
		rotateBytes = DefaultRotateBytes
	}
	if rotateSecs <= 0 {
		rotateSecs = DefaultRotateSecs
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("exporter: creating jsonl dir: %w", err)
	}

	j := &JSONL{
		dir:         dir,
		rotateBytes: rotateBytes,
		rotateSecs:  rotateSecs,
		logger:      diag.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// SegmentName returns the file name for a segment started at t.
// Names sort in creation order, so concatenating segments in name order
// reproduces records in enqueue order.
func SegmentName(t time.Time) string {
	return fmt.Sprintf("telemetry-%d.jsonl", t.UnixNano())
}

// Write persists one batch. Each record is flushed before the next
// rotation check so it is durable in exactly one segment. A record that
// fails to serialize is skipped and counted; it does not abort the rest
// of the batch.
func (j *JSONL) Write(ctx context.Context, batch []telemetry.Payload) error {
	for _, p := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}

		// A segment that became due since the previous write is closed
		// before this record lands, so age-based rotation holds across
		// idle gaps.
		if j.file != nil && j.rotationDue() {
			if err := j.closeSegment(); err != nil {
				return err
			}
		}

		line, err := json.Marshal(p)
		if err != nil {
			j.serializeErrors.Add(1)
			j.logger.LogSerializeError(err)
			if j.metrics != nil {
				j.metrics.RecordSkippedRecord()
			}
			continue
		}

		if j.file == nil {
			if err := j.openSegment(); err != nil {
				return err
			}
		}

		n, err := j.w.Write(append(line, '\n'))
		if err != nil {
			return fmt.Errorf("exporter: writing record: %w", err)
		}
		if err := j.w.Flush(); err != nil {
			return fmt.Errorf("exporter: flushing segment: %w", err)
		}
		j.bytes += int64(n)

		if j.rotationDue() {
			if err := j.closeSegment(); err != nil {
				return err
			}
		}
	}
	return nil
}

// SerializeErrors returns the number of records skipped because they
// could not be serialized.
func (j *JSONL) SerializeErrors() uint64 {
	return j.serializeErrors.Load()
}

// Close flushes and closes the current segment, if any.
func (j *JSONL) Close() error {
	if j.file == nil {
		return nil
	}
	return j.closeSegment()
}

func (j *JSONL) rotationDue() bool {
	return j.bytes >= j.rotateBytes || j.now().Sub(j.opened) >= j.rotateSecs
}

func (j *JSONL) openSegment() error {
	start := j.now()

	// O_EXCL plus a nanosecond bump keeps names unique even when two
	// segments start on the same clock reading.
	var f *os.File
	for i := range int64(1000) {
		path := filepath.Join(j.dir, SegmentName(start.Add(time.Duration(i))))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640) //nolint:gosec // G304: dir validated at construction
		if err == nil {
			f = file
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("exporter: opening segment: %w", err)
		}
	}
	if f == nil {
		return fmt.Errorf("exporter: could not find a free segment name in %s", j.dir)
	}

	j.file = f
	j.w = bufio.NewWriter(f)
	j.bytes = 0
	j.opened = start
	return nil
}

func (j *JSONL) closeSegment() error {
	path := j.file.Name()
	if err := j.w.Flush(); err != nil {
		_ = j.file.Close()
		j.file = nil
		return fmt.Errorf("exporter: flushing segment: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		_ = j.file.Close()
		j.file = nil
		return fmt.Errorf("exporter: syncing segment: %w", err)
	}
	if err := j.file.Close(); err != nil {
		j.file = nil
		return fmt.Errorf("exporter: closing segment: %w", err)
	}

	j.logger.LogRotation(path, j.bytes, j.now().Sub(j.opened))
	if j.metrics != nil {
		j.metrics.RecordRotation()
	}
	j.file = nil
	j.w = nil
	j.bytes = 0
	return nil
}
