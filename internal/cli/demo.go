package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/luckyPipewrench/spyglass/internal/config"
	"github.com/luckyPipewrench/spyglass/internal/instrument"
	"github.com/luckyPipewrench/spyglass/internal/spanctx"
	"github.com/luckyPipewrench/spyglass/internal/telemetry"
)

var errDemoQuery = errors.New("connection reset by peer")

func demoCmd() *cobra.Command {
	var configPath string
	var events int

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a synthetic workload through the full pipeline",
		Long: `Generate synthetic HTTP, database, and function telemetry, push it
through the emitter and collector, and export it with the configured
exporter (rotating JSONL files by default).

Examples:
  spyglass demo
  spyglass demo --events 500
  spyglass demo --config spyglass.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd, configPath, events)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file path (defaults used when omitted)")
	cmd.Flags().IntVar(&events, "events", 60, "number of synthetic requests to generate")

	return cmd
}

func runDemo(cmd *cobra.Command, configPath string, events int) error {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.Defaults()
		// Keep demo output small and visible.
		cfg.Exporter.JSONL.RotateBytes = 4096
		cfg.Collector.FlushIntervalMS = 50
	}

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	p.serveMetrics(cfg)

	db := instrument.NewDB(p.emitter, instrument.DBConfig{Vendor: "demo-db", Redact: false})

	// Requests go through the real middleware so the http config
	// section (sampling, excludes) applies to the demo traffic too.
	status := http.StatusOK
	handler := instrument.HTTPMiddleware(p.emitter, instrument.HTTPConfigFrom(cfg.HTTP),
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

	cmd.PrintErrf("Generating %d synthetic requests via the %s exporter...\n", events, cfg.Exporter.Type)

	statuses := []int{200, 200, 200, 201, 204, 302, 400, 404, 500}
	for i := range events {
		ctx := spanctx.WithSpan(context.Background(), spanctx.NewSpanID())

		status = statuses[i%len(statuses)]
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("/api/items/%d", i), nil)
		if err == nil {
			handler.ServeHTTP(&discardResponse{}, req)
		}

		_ = db.Observe(ctx, "find", fmt.Sprintf("db.items.find({id: %d})", i), func(context.Context) error {
			if i%5 == 0 {
				return errDemoQuery
			}
			return nil
		})

		p.emitter.EmitFunc(ctx, "render", int64(2000*(i+1)), nil)
	}

	closeErr := p.Close()

	stats := p.collector.Stats()
	cmd.PrintErrln()
	cmd.PrintErrf("Enqueued:        %d\n", stats.Enqueued)
	cmd.PrintErrf("Dropped:         %d\n", stats.Dropped)
	cmd.PrintErrf("Batches flushed: %d\n", stats.FlushedBatches)
	cmd.PrintErrf("Sink errors:     %d\n", stats.SinkErrors)

	if cfg.Exporter.Type == config.ExporterJSONL {
		printSegments(cmd, cfg.Exporter.JSONL.Dir)
	}

	if errors.Is(closeErr, telemetry.ErrShutdownTimeout) {
		cmd.PrintErrln("warning: shutdown timed out, some telemetry was lost")
		return nil
	}
	return closeErr
}

// discardResponse satisfies http.ResponseWriter for synthetic requests
// that never leave the process.
type discardResponse struct {
	header http.Header
}

func (d *discardResponse) Header() http.Header {
	if d.header == nil {
		d.header = make(http.Header)
	}
	return d.header
}

func (*discardResponse) Write(b []byte) (int, error) { return len(b), nil }

func (*discardResponse) WriteHeader(int) {}

func printSegments(cmd *cobra.Command, dir string) {
	segments, err := listSegments(dir)
	if err != nil {
		cmd.PrintErrf("could not list segments: %v\n", err)
		return
	}

	cmd.PrintErrf("Segments in %s:\n", dir)
	for _, seg := range segments {
		info, err := os.Stat(seg)
		if err != nil {
			continue
		}
		cmd.PrintErrf("  %s  %d bytes\n", filepath.Base(seg), info.Size())
	}
}

// listSegments returns JSONL segment paths in creation order. Segment
// names embed the start timestamp, so sorting them numerically is
// sorting by creation.
func listSegments(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "telemetry-*.jsonl"))
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool {
		return segmentStart(matches[i]) < segmentStart(matches[j])
	})
	return matches, nil
}

func segmentStart(path string) int64 {
	var ns int64
	_, err := fmt.Sscanf(filepath.Base(path), "telemetry-%d.jsonl", &ns)
	if err != nil {
		return 0
	}
	return ns
}
