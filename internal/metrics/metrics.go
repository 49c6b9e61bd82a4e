// Package metrics provides Prometheus instrumentation and a JSON stats
// endpoint for the Spyglass telemetry pipeline.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus counters and histograms for the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	payloadsTotal  *prometheus.CounterVec
	batchesTotal   *prometheus.CounterVec
	recordsWritten prometheus.Counter
	rotationsTotal prometheus.Counter
	flushLatency   prometheus.Histogram
	queueDepth     prometheus.Gauge

	mu             sync.Mutex
	startTime      time.Time
	enqueuedCount  int64
	droppedCount   int64
	flushedBatches int64
	failedBatches  int64
	skippedRecords int64
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	payloadsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spyglass",
		Name:      "payloads_total",
		Help:      "Total payloads offered to the collector by result.",
	}, []string{"result"})

	batchesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spyglass",
		Name:      "batches_total",
		Help:      "Total flushed batches by result.",
	}, []string{"result"})

	recordsWritten := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spyglass",
		Name:      "records_written_total",
		Help:      "Total records successfully written by exporters.",
	})

	rotationsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spyglass",
		Name:      "segment_rotations_total",
		Help:      "Total output segment rotations.",
	})

	flushLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "spyglass",
		Name:      "flush_duration_seconds",
		Help:      "Sink write latency per batch in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5},
	})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spyglass",
		Name:      "queue_depth",
		Help:      "Current number of payloads waiting in the collector queue.",
	})

	reg.MustRegister(payloadsTotal, batchesTotal, recordsWritten,
		rotationsTotal, flushLatency, queueDepth)

	return &Metrics{
		registry:       reg,
		payloadsTotal:  payloadsTotal,
		batchesTotal:   batchesTotal,
		recordsWritten: recordsWritten,
		rotationsTotal: rotationsTotal,
		flushLatency:   flushLatency,
		queueDepth:     queueDepth,
		startTime:      time.Now(),
	}
}

// RecordEnqueued records a payload accepted into the queue.
func (m *Metrics) RecordEnqueued() {
	m.payloadsTotal.WithLabelValues("enqueued").Inc()

	m.mu.Lock()
	m.enqueuedCount++
	m.mu.Unlock()
}

// RecordDropped records a payload rejected at enqueue time.
// reason is "queue_full" or "shutdown".
func (m *Metrics) RecordDropped(reason string) {
	m.payloadsTotal.WithLabelValues("dropped_" + reason).Inc()

	m.mu.Lock()
	m.droppedCount++
	m.mu.Unlock()
}

// RecordFlush records a successfully exported batch.
func (m *Metrics) RecordFlush(batchSize int, duration time.Duration) {
	m.batchesTotal.WithLabelValues("flushed").Inc()
	m.recordsWritten.Add(float64(batchSize))
	m.flushLatency.Observe(duration.Seconds())

	m.mu.Lock()
	m.flushedBatches++
	m.mu.Unlock()
}

// RecordFlushError records a batch dropped due to a sink write failure.
func (m *Metrics) RecordFlushError(duration time.Duration) {
	m.batchesTotal.WithLabelValues("failed").Inc()
	m.flushLatency.Observe(duration.Seconds())

	m.mu.Lock()
	m.failedBatches++
	m.mu.Unlock()
}

// RecordSkippedRecord records a record skipped inside a batch because it
// could not be serialized.
func (m *Metrics) RecordSkippedRecord() {
	m.payloadsTotal.WithLabelValues("skipped_serialize").Inc()

	m.mu.Lock()
	m.skippedRecords++
	m.mu.Unlock()
}

// RecordRotation records a closed output segment.
func (m *Metrics) RecordRotation() {
	m.rotationsTotal.Inc()
}

// SetQueueDepth updates the queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// PrometheusHandler returns an HTTP handler that serves /metrics in
// Prometheus text format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StatsHandler returns an HTTP handler that serves a JSON stats summary.
func (m *Metrics) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		total := m.enqueuedCount + m.droppedCount
		stats := statsResponse{
			UptimeSeconds: time.Since(m.startTime).Seconds(),
			Payloads: payloadStats{
				Total:    total,
				Enqueued: m.enqueuedCount,
				Dropped:  m.droppedCount,
				Skipped:  m.skippedRecords,
			},
			Batches: batchStats{
				Flushed: m.flushedBatches,
				Failed:  m.failedBatches,
			},
		}
		if total > 0 {
			stats.Payloads.DropRate = float64(m.droppedCount) / float64(total)
		}
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

type statsResponse struct {
	UptimeSeconds float64      `json:"uptime_seconds"`
	Payloads      payloadStats `json:"payloads"`
	Batches       batchStats   `json:"batches"`
}

type payloadStats struct {
	Total    int64   `json:"total"`
	Enqueued int64   `json:"enqueued"`
	Dropped  int64   `json:"dropped"`
	Skipped  int64   `json:"skipped_serialize"`
	DropRate float64 `json:"drop_rate"`
}

type batchStats struct {
	Flushed int64 `json:"flushed"`
	Failed  int64 `json:"failed"`
}
