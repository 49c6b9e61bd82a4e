package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/luckyPipewrench/spyglass/internal/spanctx"
)

// drain closes the collector and returns everything it delivered.
func drain(t *testing.T, c *Collector, sink *mockSink) []Payload {
	t.Helper()
	if err := c.Close(2 * time.Second); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return sink.records()
}

func TestEmitter_EmitHTTP(t *testing.T) {
	sink := &mockSink{}
	c := NewCollector(sink, WithFlushInterval(time.Minute))
	e := NewEmitter(c)

	before := spanctx.NowNS()
	e.EmitHTTP(context.Background(), "GET", "/api/items", 200, 1500)

	records := drain(t, c, sink)
	if len(records) != 1 {
		t.Fatalf("delivered %d records, want 1", len(records))
	}

	p := records[0]
	if p["kind"] != "HTTP" {
		t.Errorf("kind = %v, want HTTP", p["kind"])
	}
	if p["vendor"] != "http" {
		t.Errorf("vendor = %v, want http", p["vendor"])
	}
	if p["method"] != "GET" {
		t.Errorf("method = %v, want GET", p["method"])
	}
	if p["path"] != "/api/items" {
		t.Errorf("path = %v, want /api/items", p["path"])
	}
	if p["status"] != 200 {
		t.Errorf("status = %v, want 200", p["status"])
	}
	if p["dur_ns"] != int64(1500) {
		t.Errorf("dur_ns = %v, want 1500", p["dur_ns"])
	}

	ts, ok := p["ts_ns"].(int64)
	if !ok || ts < before {
		t.Errorf("ts_ns = %v, want monotonic value >= %d", p["ts_ns"], before)
	}
	if p["parent_span_id"] != nil {
		t.Errorf("parent_span_id = %v, want nil without an ambient span", p["parent_span_id"])
	}
	if p["route"] != nil {
		t.Errorf("route = %v, want nil from the direct emit path", p["route"])
	}
	if p["error"] != nil {
		t.Errorf("error = %v, want nil", p["error"])
	}
}

func TestEmitter_StampsAmbientSpan(t *testing.T) {
	sink := &mockSink{}
	c := NewCollector(sink, WithFlushInterval(time.Minute))
	e := NewEmitter(c)

	id := spanctx.NewSpanID()
	ctx := spanctx.WithSpan(context.Background(), id)
	e.EmitHTTP(ctx, "GET", "/", 200, 1)

	records := drain(t, c, sink)
	if len(records) != 1 {
		t.Fatalf("delivered %d records, want 1", len(records))
	}
	if records[0]["parent_span_id"] != id {
		t.Errorf("parent_span_id = %v, want %s", records[0]["parent_span_id"], id)
	}
}

func TestEmitter_EmitCopiesAndOverridesFields(t *testing.T) {
	sink := &mockSink{}
	c := NewCollector(sink, WithFlushInterval(time.Minute))
	e := NewEmitter(c)

	fields := map[string]any{
		"op":   "find",
		"kind": "IMPOSTOR", // canonical keys win over caller fields
	}
	e.Emit(context.Background(), "DB", "mongodb", fields)

	// The caller's map must not be mutated.
	if fields["kind"] != "IMPOSTOR" {
		t.Errorf("caller map mutated: kind = %v", fields["kind"])
	}
	if _, ok := fields["ts_ns"]; ok {
		t.Error("caller map mutated: ts_ns was added")
	}

	records := drain(t, c, sink)
	if len(records) != 1 {
		t.Fatalf("delivered %d records, want 1", len(records))
	}

	p := records[0]
	if p["kind"] != "DB" {
		t.Errorf("kind = %v, want DB", p["kind"])
	}
	if p["vendor"] != "mongodb" {
		t.Errorf("vendor = %v, want mongodb", p["vendor"])
	}
	if p["op"] != "find" {
		t.Errorf("op = %v, want find", p["op"])
	}
	if _, ok := p["ts_ns"].(int64); !ok {
		t.Errorf("ts_ns = %v, want int64", p["ts_ns"])
	}
}

func TestEmitter_EmitFunc(t *testing.T) {
	sink := &mockSink{}
	c := NewCollector(sink, WithFlushInterval(time.Minute))
	e := NewEmitter(c)

	e.EmitFunc(context.Background(), "render", 2500, nil)
	e.EmitFunc(context.Background(), "parse", 100,
		NewErrorInfo(errors.New("unexpected token"), "stack here"))

	records := drain(t, c, sink)
	if len(records) != 2 {
		t.Fatalf("delivered %d records, want 2", len(records))
	}

	ok := records[0]
	if ok["kind"] != "FN" || ok["name"] != "render" || ok["dur_ns"] != int64(2500) {
		t.Errorf("success payload = %v", ok)
	}
	if ok["error"] != nil {
		t.Errorf("error = %v, want nil for successful call", ok["error"])
	}

	failed := records[1]
	errMap, isMap := failed["error"].(map[string]string)
	if !isMap {
		t.Fatalf("error = %T, want map[string]string", failed["error"])
	}
	if errMap["type"] != "*errors.errorString" {
		t.Errorf("error type = %q, want *errors.errorString", errMap["type"])
	}
	if errMap["repr"] != "unexpected token" {
		t.Errorf("error repr = %q, want unexpected token", errMap["repr"])
	}
	if errMap["traceback"] != "stack here" {
		t.Errorf("error traceback = %q, want stack here", errMap["traceback"])
	}
}

func TestEmitter_NeverPanics(t *testing.T) {
	var e *Emitter
	ctx := context.Background()

	// Nil receiver: all methods are inert.
	e.EmitHTTP(ctx, "GET", "/", 200, 1)
	e.Emit(ctx, "DB", "mongodb", nil)
	e.EmitFunc(ctx, "fn", 1, nil)

	// Emitter bound to a nil collector: still inert.
	e = NewEmitter(nil)
	e.EmitHTTP(ctx, "GET", "/", 200, 1)
	e.Emit(ctx, "DB", "mongodb", map[string]any{"op": "find"})
	e.EmitFunc(ctx, "fn", 1, nil)
}

func TestNewErrorInfo(t *testing.T) {
	if NewErrorInfo(nil, "") != nil {
		t.Error("NewErrorInfo(nil) != nil")
	}

	info := NewErrorInfo(errors.New("boom"), "")
	if info.Type != "*errors.errorString" {
		t.Errorf("Type = %q, want *errors.errorString", info.Type)
	}
	if info.Repr != "boom" {
		t.Errorf("Repr = %q, want boom", info.Repr)
	}
}
