package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/luckyPipewrench/spyglass/internal/config"
	"github.com/luckyPipewrench/spyglass/internal/diag"
	"github.com/luckyPipewrench/spyglass/internal/exporter"
	"github.com/luckyPipewrench/spyglass/internal/metrics"
	"github.com/luckyPipewrench/spyglass/internal/telemetry"
)

// pipeline bundles a fully wired emitter, collector, and exporter built
// from configuration.
type pipeline struct {
	emitter      *telemetry.Emitter
	collector    *telemetry.Collector
	logger       *diag.Logger
	metrics      *metrics.Metrics
	closeTimeout time.Duration
}

// newPipeline builds the exporter selected by cfg and wires it into a
// collector and emitter.
func newPipeline(cfg *config.Config) (*pipeline, error) {
	logger, err := diag.New(cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	m := metrics.New()

	sink, err := buildSink(cfg, logger, m)
	if err != nil {
		logger.Close()
		return nil, err
	}

	collector := telemetry.NewCollector(sink,
		telemetry.WithQueueSize(cfg.Collector.QueueSize),
		telemetry.WithFlushInterval(cfg.Collector.FlushInterval()),
		telemetry.WithBatchMax(cfg.Collector.BatchMax),
		telemetry.WithDropPolicy(telemetry.ParseDropPolicy(cfg.Collector.DropPolicy)),
		telemetry.WithLogger(logger),
		telemetry.WithMetrics(m),
	)

	return &pipeline{
		emitter:      telemetry.NewEmitter(collector),
		collector:    collector,
		logger:       logger,
		metrics:      m,
		closeTimeout: cfg.Collector.CloseTimeout(),
	}, nil
}

func buildSink(cfg *config.Config, logger *diag.Logger, m *metrics.Metrics) (telemetry.Sink, error) {
	switch cfg.Exporter.Type {
	case config.ExporterJSONL:
		sink, err := exporter.NewJSONL(
			cfg.Exporter.JSONL.Dir,
			cfg.Exporter.JSONL.RotateBytes,
			cfg.Exporter.JSONL.RotateAge(),
			exporter.WithJSONLLogger(logger),
			exporter.WithJSONLMetrics(m),
		)
		if err != nil {
			return nil, fmt.Errorf("creating jsonl exporter: %w", err)
		}
		return sink, nil
	case config.ExporterSQLite:
		sink, err := exporter.NewSQLite(
			cfg.Exporter.SQLite.Path,
			exporter.WithSQLiteLogger(logger),
			exporter.WithSQLiteMetrics(m),
		)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite exporter: %w", err)
		}
		return sink, nil
	case config.ExporterConsole:
		return exporter.NewConsole(nil, cfg.Exporter.Console.Pretty), nil
	default:
		return nil, fmt.Errorf("unknown exporter type %q", cfg.Exporter.Type)
	}
}

// serveMetrics exposes /metrics and /stats when enabled. The listener
// lives until the process exits; demo-scale usage does not need a
// graceful server shutdown.
func (p *pipeline) serveMetrics(cfg *config.Config) {
	if !cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.metrics.PrometheusHandler())
	mux.HandleFunc("/stats", p.metrics.StatsHandler())
	go func() {
		_ = http.ListenAndServe(cfg.Metrics.Listen, mux) //nolint:gosec // G114: diagnostic endpoint, demo scale
	}()
}

// Close drains the collector within the configured timeout and releases
// the logger. Returns telemetry.ErrShutdownTimeout when the drain did
// not finish in time.
func (p *pipeline) Close() error {
	err := p.collector.Close(p.closeTimeout)
	p.logger.Close()
	return err
}
