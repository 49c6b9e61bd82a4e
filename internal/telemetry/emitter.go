package telemetry

import (
	"context"

	"github.com/luckyPipewrench/spyglass/internal/spanctx"
)

// Emitter is the public front door used by adapters. It normalizes
// heterogeneous event data into canonical payloads and forwards them to
// a Collector. No failure inside the Emitter ever propagates into the
// instrumented application: every method recovers internal panics and
// discards them.
type Emitter struct {
	collector *Collector
}

// NewEmitter creates an Emitter bound to collector.
func NewEmitter(collector *Collector) *Emitter {
	return &Emitter{collector: collector}
}

// EmitHTTP records one observed HTTP request. ts_ns and parent_span_id
// are stamped from the monotonic clock and the ambient span in ctx; an
// absent span yields a null field, not an error.
func (e *Emitter) EmitHTTP(ctx context.Context, method, path string, status int, durNS int64) {
	defer func() { _ = recover() }()
	if e == nil {
		return
	}

	p := Payload{
		"kind":   "HTTP",
		"vendor": "http",
		"method": method,
		"path":   path,
		"route":  nil,
		"status": status,
		"dur_ns": durNS,
		"error":  nil,
	}
	e.stamp(ctx, p)
	e.collector.Enqueue(p)
}

// Emit records one event of an arbitrary kind. fields are copied into
// the payload; kind, vendor, ts_ns, and parent_span_id override any
// colliding keys.
func (e *Emitter) Emit(ctx context.Context, kind, vendor string, fields map[string]any) {
	defer func() { _ = recover() }()
	if e == nil {
		return
	}

	p := make(Payload, len(fields)+4)
	for k, v := range fields {
		p[k] = v
	}
	p["kind"] = kind
	p["vendor"] = vendor
	e.stamp(ctx, p)
	e.collector.Enqueue(p)
}

// EmitFunc records one timed function or unit of work. errInfo may be
// nil for a successful call.
func (e *Emitter) EmitFunc(ctx context.Context, name string, durNS int64, errInfo *ErrorInfo) {
	defer func() { _ = recover() }()
	if e == nil {
		return
	}

	p := Payload{
		"kind":   "FN",
		"vendor": "fn",
		"name":   name,
		"dur_ns": durNS,
		"error":  errorField(errInfo),
	}
	e.stamp(ctx, p)
	e.collector.Enqueue(p)
}

// stamp sets the emission timestamp and the ambient parent span id.
func (e *Emitter) stamp(ctx context.Context, p Payload) {
	p["ts_ns"] = spanctx.NowNS()
	if id, ok := spanctx.SpanID(ctx); ok {
		p["parent_span_id"] = id
	} else {
		p["parent_span_id"] = nil
	}
}
