package telemetry

import "context"

// Sink is the capability that durably persists batches of payloads.
// A Collector calls Write from exactly one goroutine at a time, so
// implementations do not need internal locking unless they are shared
// across collectors.
type Sink interface {
	// Write persists one ordered batch. It may fail; the Collector
	// catches the error, drops the batch, and keeps flushing.
	Write(ctx context.Context, batch []Payload) error

	// Close flushes buffered state and releases resources.
	Close() error
}

// SinkFunc adapts a plain function to the Sink interface. Useful for
// tests and for callers that accumulate batches in memory.
type SinkFunc func(ctx context.Context, batch []Payload) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, batch []Payload) error {
	return f(ctx, batch)
}

// Close is a no-op.
func (SinkFunc) Close() error { return nil }
