// Package telemetry implements the Spyglass ingestion pipeline: a
// never-failing Emitter front door, a bounded concurrent Collector, and
// the Sink capability that exporters implement.
package telemetry

import (
	"fmt"
)

// Payload is one normalized telemetry record. It is produced once per
// observed event and treated as immutable from that point on; the
// Collector neither inspects nor mutates it.
//
// Canonical keys shared by all adapters: "kind", "vendor", "ts_ns",
// "parent_span_id". The HTTP adapter adds "method", "path", "route",
// "status", "dur_ns" and optionally "error".
type Payload map[string]any

// ErrorInfo describes a captured failure inside an observed operation.
type ErrorInfo struct {
	Type      string `json:"type"`
	Repr      string `json:"repr"`
	Traceback string `json:"traceback"`
}

// NewErrorInfo builds an ErrorInfo from a Go error. stack may be empty
// when no stack trace was captured.
func NewErrorInfo(err error, stack string) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{
		Type:      fmt.Sprintf("%T", err),
		Repr:      err.Error(),
		Traceback: stack,
	}
}

// errorField converts an ErrorInfo into the map shape the payload
// schema uses, or nil when there was no error.
func errorField(info *ErrorInfo) any {
	if info == nil {
		return nil
	}
	return map[string]string{
		"type":      info.Type,
		"repr":      info.Repr,
		"traceback": info.Traceback,
	}
}
