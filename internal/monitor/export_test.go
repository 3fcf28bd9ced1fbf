package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExportFeed_WritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.json")
	entries := []Entry{
		{Session: "proj-host-001", Kind: "task", Sender: SenderParent, Content: "build the thing"},
		{Session: "proj-host-001", Kind: "report", Sender: "child_1", Content: "success"},
	}

	if err := ExportFeed(path, entries); err != nil {
		t.Fatalf("ExportFeed() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("export should end with a newline")
	}

	var got []Entry
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Kind != "task" || got[1].Sender != "child_1" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestExportFeed_BadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "feed.json")
	if err := ExportFeed(path, nil); err == nil {
		t.Fatal("ExportFeed() expected error for unwritable path")
	}
}

func TestDefaultExportPath(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	got := DefaultExportPath(now)
	want := "agentmon-feed-20260825-103000.json"
	if got != want {
		t.Errorf("DefaultExportPath() = %q, want %q", got, want)
	}
}
