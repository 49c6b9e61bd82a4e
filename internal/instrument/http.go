// Package instrument contains the adapters that observe application
// code and feed the telemetry Emitter: an HTTP middleware and an
// explicit database-call wrapper. Both are plain decorators constructed
// and injected by the caller; nothing is patched at runtime.
package instrument

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/luckyPipewrench/spyglass/internal/config"
	"github.com/luckyPipewrench/spyglass/internal/telemetry"
)

// httpErrorStatusThreshold marks responses treated as errors for
// always-sample purposes.
const httpErrorStatusThreshold = 500

// HTTPConfig controls which requests the middleware records.
type HTTPConfig struct {
	// SamplingRate is the probability in [0, 1] of recording a request.
	// 1.0 records all, 0.0 records none (except errors when
	// AlwaysSampleErrors is set).
	SamplingRate float64

	// RouteExcludes lists path prefixes or exact paths to skip
	// entirely (e.g. "/health", "/static").
	RouteExcludes []string

	// AlwaysSampleErrors records panicking requests and responses with
	// status >= 500 regardless of the sampling decision.
	AlwaysSampleErrors bool
}

// DefaultHTTPConfig records every request and always samples errors.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{SamplingRate: 1.0, AlwaysSampleErrors: true}
}

// HTTPConfigFrom builds middleware settings from the loaded config
// section, resolving its optional fields to their defaults.
func HTTPConfigFrom(h config.HTTPAdapter) HTTPConfig {
	return HTTPConfig{
		SamplingRate:       h.SamplingRateValue(),
		RouteExcludes:      h.RouteExcludes,
		AlwaysSampleErrors: h.AlwaysSampleErrorsEnabled(),
	}
}

// HTTPMiddleware wraps next so every matching request emits one HTTP
// payload. A panic in the handler is recorded with its stack trace and
// then re-raised; the middleware itself never fails a request.
func HTTPMiddleware(emitter *telemetry.Emitter, cfg HTTPConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if excludeRoute(r.URL.Path, cfg.RouteExcludes) {
			next.ServeHTTP(w, r)
			return
		}

		sampled := sampleRequest(cfg.SamplingRate)
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		defer func() {
			recovered := recover()
			durNS := time.Since(start).Nanoseconds()

			var errInfo *telemetry.ErrorInfo
			status := rec.status
			if recovered != nil {
				errInfo = &telemetry.ErrorInfo{
					Type:      fmt.Sprintf("%T", recovered),
					Repr:      fmt.Sprintf("%v", recovered),
					Traceback: string(debug.Stack()),
				}
				status = httpErrorStatusThreshold
			} else if status == 0 {
				status = http.StatusOK
			}

			if shouldRecord(cfg, sampled, status, errInfo) {
				emitter.Emit(r.Context(), "HTTP", "http", httpFields(r, status, durNS, errInfo))
			}

			if recovered != nil {
				panic(recovered)
			}
		}()

		next.ServeHTTP(rec, r)
	})
}

// httpFields builds the event-specific payload fields for one request.
func httpFields(r *http.Request, status int, durNS int64, errInfo *telemetry.ErrorInfo) map[string]any {
	var route any
	path := r.URL.Path
	if r.Pattern != "" {
		route = r.Pattern
		path = r.Pattern
	}

	fields := map[string]any{
		"method": r.Method,
		"path":   path,
		"route":  route,
		"status": status,
		"dur_ns": durNS,
		"error":  nil,
	}
	if errInfo != nil {
		fields["error"] = map[string]string{
			"type":      errInfo.Type,
			"repr":      errInfo.Repr,
			"traceback": errInfo.Traceback,
		}
	}
	return fields
}

func sampleRequest(rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	return rand.Float64() <= rate
}

func shouldRecord(cfg HTTPConfig, sampled bool, status int, errInfo *telemetry.ErrorInfo) bool {
	if sampled {
		return true
	}
	return cfg.AlwaysSampleErrors && (errInfo != nil || status >= httpErrorStatusThreshold)
}

func excludeRoute(path string, excludes []string) bool {
	for _, pat := range excludes {
		if pat == "" {
			continue
		}
		if path == pat || strings.HasPrefix(path, pat) {
			return true
		}
	}
	return false
}

// statusRecorder captures the response status without altering the
// response.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
