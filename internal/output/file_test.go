package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSink_InferFormat(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		wantErr bool
	}{
		{name: "json extension", file: "out.json"},
		{name: "ndjson extension", file: "out.ndjson"},
		{name: "jsonl extension", file: "out.jsonl"},
		{name: "unknown extension", file: "out.txt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewFileSink(filepath.Join(dir, tt.file), "")
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewFileSink() did not error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFileSink() error = %v", err)
			}
			if err := sink.Close(); err != nil {
				t.Fatalf("Close error: %v", err)
			}
		})
	}
}

func TestFileSink_JSONAggregate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	sink, err := NewFileSink(path, "json")
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}

	_ = sink.Write(Event{Type: "run.started", Jobs: 1})
	_ = sink.Write(StepResult{Job: "py36", Phase: "script", Step: "py.test", Status: StatusOK})
	if err := sink.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	var decoded []StepResult
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("file is not a JSON array: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("decoded %d results, want 1 (lifecycle events excluded)", len(decoded))
	}
	if decoded[0].Step != "py.test" {
		t.Errorf("Step = %q, want py.test", decoded[0].Step)
	}
}

func TestFileSink_NDJSONStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.ndjson")
	sink, err := NewFileSink(path, "")
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}

	_ = sink.Write(Event{Type: "run.started", Jobs: 1})
	_ = sink.Write(StepResult{Job: "py36", Phase: "install", Step: "pip", Status: StatusOK})
	_ = sink.Write(Event{Type: "run.finished", ExitCode: 0})
	if err := sink.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
}

func TestFileSink_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "out.json")
	sink, err := NewFileSink(path, "json")
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("output file missing: %v", err)
	}
}
