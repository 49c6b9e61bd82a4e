package exporter

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/luckyPipewrench/spyglass/internal/telemetry"
)

func TestSQLite_WriteAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}

	batch := []telemetry.Payload{
		{"seq": 0, "kind": "HTTP", "vendor": "http", "ts_ns": int64(100)},
		{"seq": 1, "kind": "DB", "vendor": "mongodb", "ts_ns": int64(200)},
		{"seq": 2, "kind": "FN", "vendor": "fn", "ts_ns": int64(300)},
	}
	if err := s.Write(context.Background(), batch); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	rows, err := s.db.Query("SELECT ts_ns, kind, vendor, record FROM telemetry ORDER BY id")
	if err != nil {
		t.Fatalf("querying rows: %v", err)
	}
	defer rows.Close()

	var got []struct {
		tsNS   int64
		kind   string
		vendor string
		seq    int
	}
	for rows.Next() {
		var tsNS int64
		var kind, vendor, record string
		if err := rows.Scan(&tsNS, &kind, &vendor, &record); err != nil {
			t.Fatalf("scanning row: %v", err)
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(record), &rec); err != nil {
			t.Fatalf("record column holds invalid JSON: %v", err)
		}
		got = append(got, struct {
			tsNS   int64
			kind   string
			vendor string
			seq    int
		}{tsNS, kind, vendor, int(rec["seq"].(float64))})
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterating rows: %v", err)
	}

	if len(got) != len(batch) {
		t.Fatalf("got %d rows, want %d", len(got), len(batch))
	}
	wantKinds := []string{"HTTP", "DB", "FN"}
	for i, row := range got {
		if row.seq != i {
			t.Errorf("row %d has seq %d, want %d", i, row.seq, i)
		}
		if row.kind != wantKinds[i] {
			t.Errorf("row %d has kind %q, want %q", i, row.kind, wantKinds[i])
		}
		if row.tsNS != int64(100*(i+1)) {
			t.Errorf("row %d has ts_ns %d, want %d", i, row.tsNS, 100*(i+1))
		}
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestSQLite_SerializeErrorSkipsRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer s.Close() //nolint:errcheck

	batch := []telemetry.Payload{
		{"seq": 0},
		{"bad": make(chan int)},
		{"seq": 2},
	}
	if err := s.Write(context.Background(), batch); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := s.SerializeErrors(); got != 1 {
		t.Errorf("SerializeErrors() = %d, want 1", got)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM telemetry").Scan(&count); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if count != 2 {
		t.Errorf("got %d rows, want 2", count)
	}
}

func TestNewSQLite_RequiresPath(t *testing.T) {
	if _, err := NewSQLite(""); err == nil {
		t.Error("NewSQLite(\"\") = nil error, want error")
	}
}
