package gateway

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTraceRecorderWritesDayPartitionedJSONL(t *testing.T) {
	dir := t.TempDir()
	recorder, err := NewTraceRecorder(dir)
	if err != nil {
		t.Fatalf("new recorder failed: %v", err)
	}

	events := []TraceEvent{
		{RequestID: "s1", ChannelID: "http", UserID: "u1", Event: EventInboundReceived},
		{RequestID: "s1", ChannelID: "http", UserID: "u1", Intent: "task", Agent: "task_agent", Event: EventDispatchCompleted},
	}
	for _, event := range events {
		if err := recorder.Record(event); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	path := filepath.Join(dir, time.Now().UTC().Format("2006-01-02"), "gateway_events.jsonl")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("trace file missing: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), lines)
	}

	var completed TraceEvent
	if err := json.Unmarshal([]byte(lines[1]), &completed); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if completed.Event != EventDispatchCompleted || completed.Intent != "task" {
		t.Fatalf("unexpected event: %+v", completed)
	}
	if completed.Status != "ok" || completed.Timestamp == "" {
		t.Fatalf("defaults not applied: %+v", completed)
	}
}

func TestTraceRecorderRequiresBasePath(t *testing.T) {
	if _, err := NewTraceRecorder("  "); err == nil {
		t.Fatal("expected error for empty base path")
	}
}

func TestTraceRecorderDefaultsUnknownEvent(t *testing.T) {
	dir := t.TempDir()
	recorder, err := NewTraceRecorder(dir)
	if err != nil {
		t.Fatalf("new recorder failed: %v", err)
	}
	if err := recorder.Record(TraceEvent{ChannelID: "cli"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	path := filepath.Join(dir, time.Now().UTC().Format("2006-01-02"), "gateway_events.jsonl")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("trace file missing: %v", err)
	}
	var event TraceEvent
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &event); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if event.Event != "unknown" {
		t.Fatalf("empty event name not defaulted: %+v", event)
	}
}
