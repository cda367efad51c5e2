package gateway

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Dispatch lifecycle events the gateway records per turn. fallback_used marks
// turns the orchestrator could only answer through its retry path; those are
// the ones worth reading first when triaging model or handler trouble.
const (
	EventInboundReceived     = "inbound_received"
	EventDispatchCompleted   = "dispatch_completed"
	EventFallbackUsed        = "fallback_used"
	EventChannelDisconnected = "channel_disconnected"
)

type TraceEvent struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Intent    string `json:"intent,omitempty"`
	Agent     string `json:"agent,omitempty"`
	Event     string `json:"event"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}

type TraceRecorder interface {
	Record(TraceEvent) error
}

// JSONLTraceRecorder appends dispatch lifecycle events to a day-partitioned
// JSONL file, one object per line.
type JSONLTraceRecorder struct {
	basePath string
	mu       sync.Mutex
}

func NewTraceRecorder(basePath string) (*JSONLTraceRecorder, error) {
	path := strings.TrimSpace(basePath)
	if path == "" {
		return nil, fmt.Errorf("trace base path is required")
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	return &JSONLTraceRecorder{basePath: path}, nil
}

func (r *JSONLTraceRecorder) Record(event TraceEvent) error {
	if r == nil {
		return nil
	}
	ts := time.Now().UTC()
	if strings.TrimSpace(event.Timestamp) == "" {
		event.Timestamp = ts.Format(time.RFC3339Nano)
	}
	if strings.TrimSpace(event.Status) == "" {
		event.Status = "ok"
	}
	if strings.TrimSpace(event.Event) == "" {
		event.Event = "unknown"
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	dayDir := filepath.Join(r.basePath, ts.Format("2006-01-02"))
	if err := os.MkdirAll(dayDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dayDir, "gateway_events.jsonl")

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(payload, '\n'))
	return err
}
