package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func tailCmd() *cobra.Command {
	var dir string
	var last int
	var kind string

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print records from JSONL segments in creation order",
		Long: `Read every rotation segment in a telemetry directory, in creation
order, and print the records. Concatenating segments this way
reproduces the original enqueue order.

Examples:
  spyglass tail --dir ./telemetry
  spyglass tail --dir ./telemetry --last 20
  spyglass tail --dir ./telemetry --kind HTTP`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				return fmt.Errorf("--dir is required (telemetry output directory)")
			}
			return runTail(cmd, dir, last, kind)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "telemetry output directory")
	cmd.Flags().IntVarP(&last, "last", "n", 0, "show only the last N records")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by record kind (HTTP, DB, FN, ...)")

	return cmd
}

func runTail(cmd *cobra.Command, dir string, last int, kind string) error {
	segments, err := listSegments(dir)
	if err != nil {
		return fmt.Errorf("listing segments: %w", err)
	}
	if len(segments) == 0 {
		return fmt.Errorf("no telemetry segments in %s", dir)
	}

	var lines []string
	for _, seg := range segments {
		segLines, err := readSegment(seg, kind)
		if err != nil {
			return err
		}
		lines = append(lines, segLines...)
	}

	if last > 0 && len(lines) > last {
		lines = lines[len(lines)-last:]
	}

	for _, line := range lines {
		cmd.Println(line)
	}
	return nil
}

func readSegment(path, kind string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path from segment listing
	if err != nil {
		return nil, fmt.Errorf("opening segment: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if kind != "" && !matchKind(line, kind) {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading segment %s: %w", path, err)
	}
	return lines, nil
}

// matchKind checks if a JSON record line matches the kind filter.
func matchKind(line, kind string) bool {
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		// If it's not JSON, fall back to a substring match.
		return strings.Contains(line, kind)
	}
	if k, ok := record["kind"].(string); ok {
		return strings.EqualFold(k, kind)
	}
	return false
}
