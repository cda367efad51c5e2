package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dispatchqueue "aide0/app/pkg/queue"
	"aide0/app/pkg/types"
)

type stubProcessor struct {
	mu     sync.Mutex
	calls  int
	result types.ChatResult
}

func (p *stubProcessor) Run(_ context.Context, _ types.ChatRequest) types.ChatResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.result
}

type memoryTracer struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (t *memoryTracer) Record(event TraceEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
	return nil
}

type stubChannel struct {
	id      string
	startFn func(context.Context, func(context.Context, types.ChatRequest) types.ChatResult) error
}

func (c *stubChannel) Start(ctx context.Context, handler func(context.Context, types.ChatRequest) types.ChatResult) error {
	if c.startFn != nil {
		return c.startFn(ctx, handler)
	}
	<-ctx.Done()
	return nil
}

func (c *stubChannel) ID() string {
	return c.id
}

func TestProcessTracksCountersAndTrace(t *testing.T) {
	tracer := &memoryTracer{}
	gw := New(&stubProcessor{result: types.ChatResult{Response: "ok", Agent: "task_agent"}})
	gw.SetTraceRecorder(tracer)

	result := gw.Process(context.Background(), "http", types.ChatRequest{Message: "hi", UserID: "u1", SessionID: "s1"})
	if result.Err != nil {
		t.Fatalf("process failed: %v", result.Err)
	}

	status := gw.HealthStatus()
	if status.ProcessedMessages != 1 || status.FailedDispatches != 0 {
		t.Fatalf("unexpected counters: %+v", status)
	}
	if status.LastMessageAt.IsZero() {
		t.Fatal("expected last message timestamp")
	}

	if len(tracer.events) != 2 {
		t.Fatalf("expected 2 trace events, got %d: %+v", len(tracer.events), tracer.events)
	}
	if tracer.events[0].Event != "inbound_received" || tracer.events[1].Event != "dispatch_completed" {
		t.Fatalf("unexpected trace sequence: %+v", tracer.events)
	}
	if tracer.events[1].Agent != "task_agent" || tracer.events[1].Status == "error" {
		t.Fatalf("unexpected completion event: %+v", tracer.events[1])
	}
}

func TestProcessRecordsFallbackTurns(t *testing.T) {
	tracer := &memoryTracer{}
	gw := New(&stubProcessor{result: types.ChatResult{
		Response:     "Sorry, here is what I could do.",
		Agent:        "task_agent",
		Intent:       "event",
		FallbackUsed: true,
	}})
	gw.SetTraceRecorder(tracer)

	if result := gw.Process(context.Background(), "http", types.ChatRequest{Message: "hi", UserID: "u1"}); result.Err != nil {
		t.Fatalf("process failed: %v", result.Err)
	}

	if len(tracer.events) != 3 {
		t.Fatalf("expected 3 trace events, got %d: %+v", len(tracer.events), tracer.events)
	}
	if tracer.events[1].Event != EventFallbackUsed {
		t.Fatalf("fallback turn not recorded: %+v", tracer.events[1])
	}
	if tracer.events[1].Intent != "event" || tracer.events[2].Intent != "event" {
		t.Fatalf("routed intent missing from trace: %+v", tracer.events[1:])
	}
}

func TestProcessCountsFailures(t *testing.T) {
	tracer := &memoryTracer{}
	gw := New(&stubProcessor{result: types.ChatResult{Err: errors.New("boom")}})
	gw.SetTraceRecorder(tracer)

	result := gw.Process(context.Background(), "http", types.ChatRequest{Message: "hi", UserID: "u1"})
	if result.Err == nil {
		t.Fatal("expected error result")
	}

	status := gw.HealthStatus()
	if status.FailedDispatches != 1 {
		t.Fatalf("failure not counted: %+v", status)
	}
	last := tracer.events[len(tracer.events)-1]
	if last.Status != "error" || last.Detail == "" {
		t.Fatalf("unexpected failure trace: %+v", last)
	}
}

func TestProcessThroughQueue(t *testing.T) {
	proc := &stubProcessor{result: types.ChatResult{Response: "queued ok"}}
	gw := New(proc)

	q := dispatchqueue.New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx, 1); err != nil {
		t.Fatalf("queue start: %v", err)
	}
	defer func() { _ = q.Stop(time.Second) }()
	gw.SetDispatchQueue(q, QueueOptions{Enabled: true, EnqueueTimeout: time.Second})

	result := gw.Process(context.Background(), "http", types.ChatRequest{Message: "hi", UserID: "u1"})
	if result.Err != nil {
		t.Fatalf("process failed: %v", result.Err)
	}
	if result.Response != "queued ok" {
		t.Fatalf("unexpected response: %q", result.Response)
	}
	if proc.calls != 1 {
		t.Fatalf("processor should run once, ran %d times", proc.calls)
	}

	status := gw.HealthStatus()
	if !status.QueueEnabled || status.Queue.Completed != 1 {
		t.Fatalf("queue stats missing: %+v", status)
	}
}

func TestHealthStatusListsChannelsSorted(t *testing.T) {
	gw := New(&stubProcessor{})
	gw.RegisterChannel(&stubChannel{id: "http"})
	gw.RegisterChannel(&stubChannel{id: "cli"})

	status := gw.HealthStatus()
	if status.Started {
		t.Fatal("expected gateway to be stopped")
	}
	if len(status.RegisteredChannels) != 2 ||
		status.RegisteredChannels[0] != "cli" || status.RegisteredChannels[1] != "http" {
		t.Fatalf("channels should be sorted, got %v", status.RegisteredChannels)
	}
}

func TestStartRunsChannelHandlers(t *testing.T) {
	gw := New(&stubProcessor{result: types.ChatResult{Response: "ok"}})
	got := make(chan types.ChatResult, 1)
	ch := &stubChannel{id: "cli"}
	ch.startFn = func(ctx context.Context, handler func(context.Context, types.ChatRequest) types.ChatResult) error {
		got <- handler(ctx, types.ChatRequest{Message: "hello", UserID: "u1"})
		<-ctx.Done()
		return nil
	}
	gw.RegisterChannel(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Start(ctx) }()

	select {
	case result := <-got:
		if result.Response != "ok" {
			t.Fatalf("unexpected result: %+v", result)
		}
	case <-time.After(time.Second):
		t.Fatal("channel handler never ran")
	}

	status := gw.HealthStatus()
	if !status.Started || status.ProcessedMessages != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("gateway did not stop")
	}
}
