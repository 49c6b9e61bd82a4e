package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/luckyPipewrench/spyglass/internal/telemetry"
)

// Console writes each record as one JSON document to a writer, either
// compact (one line per record) or indented for human reading.
type Console struct {
	w      io.Writer
	pretty bool

	serializeErrors atomic.Uint64
}

// NewConsole creates a console exporter. A nil writer defaults to
// stdout.
func NewConsole(w io.Writer, pretty bool) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{w: w, pretty: pretty}
}

// Write prints one batch. Records that fail to serialize are skipped
// and counted.
func (c *Console) Write(ctx context.Context, batch []telemetry.Payload) error {
	for _, p := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			line []byte
			err  error
		)
		if c.pretty {
			line, err = json.MarshalIndent(p, "", "  ")
		} else {
			line, err = json.Marshal(p)
		}
		if err != nil {
			c.serializeErrors.Add(1)
			continue
		}

		if _, err := fmt.Fprintf(c.w, "%s\n", line); err != nil {
			return fmt.Errorf("exporter: writing to console: %w", err)
		}
	}
	return nil
}

// SerializeErrors returns the number of records skipped because they
// could not be serialized.
func (c *Console) SerializeErrors() uint64 {
	return c.serializeErrors.Load()
}

// Close is a no-op; the exporter does not own its writer.
func (c *Console) Close() error { return nil }
