// Package spanctx carries trace/span identifiers through context.Context
// and provides the monotonic clock used to stamp telemetry payloads.
//
// The pipeline only ever reads these values; installing a span is the
// caller's job (typically an adapter or the application itself). Because
// the values live in the context, the previous span is restored on every
// exit path without any explicit cleanup.
package spanctx

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	spanIDKey
)

// NowNS returns the current time in nanoseconds since the Unix epoch.
// time.Now carries a monotonic reading, so intervals computed with
// time.Since are immune to wall-clock adjustments.
func NowNS() int64 {
	return time.Now().UnixNano()
}

// NewSpanID returns a fresh random span identifier.
func NewSpanID() string {
	return uuid.NewString()
}

// NewTraceID returns a fresh random trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// WithSpan returns a context with the given span installed as the
// current span. Passing an empty id is a no-op.
func WithSpan(ctx context.Context, spanID string) context.Context {
	if spanID == "" {
		return ctx
	}
	return context.WithValue(ctx, spanIDKey, spanID)
}

// WithTrace returns a context with the given trace installed.
// Passing an empty id is a no-op.
func WithTrace(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// SpanID returns the span currently installed in ctx, if any.
func SpanID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(spanIDKey).(string)
	return id, ok && id != ""
}

// TraceID returns the trace currently installed in ctx, if any.
func TraceID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(traceIDKey).(string)
	return id, ok && id != ""
}
