package registry

import (
	"context"
	"errors"
	"testing"

	"aide0/app/pkg/types"
)

type namedHandler struct {
	name string
}

func (h *namedHandler) Name() string { return h.name }

func (h *namedHandler) Handle(_ context.Context, _ types.Request) (types.Result, error) {
	return types.Result{}, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := New(
		&namedHandler{name: "task_agent"},
		&namedHandler{name: "event_agent"},
		&namedHandler{name: "research_agent"},
		&namedHandler{name: "answer_agent"},
	)
	if err != nil {
		t.Fatalf("new registry failed: %v", err)
	}
	return reg
}

func TestResolveMapsEveryIntent(t *testing.T) {
	reg := newTestRegistry(t)

	cases := []struct {
		intent types.Intent
		names  []string
	}{
		{types.IntentTask, []string{"task_agent"}},
		{types.IntentEvent, []string{"event_agent"}},
		{types.IntentResearch, []string{"research_agent"}},
		{types.IntentAnswer, []string{"answer_agent"}},
		{types.IntentBoth, []string{"task_agent", "event_agent"}},
	}
	for _, tc := range cases {
		handlers, err := reg.Resolve(tc.intent)
		if err != nil {
			t.Fatalf("resolve %q failed: %v", tc.intent, err)
		}
		if len(handlers) != len(tc.names) {
			t.Fatalf("resolve %q returned %d handlers, want %d", tc.intent, len(handlers), len(tc.names))
		}
		for i, h := range handlers {
			if h.Name() != tc.names[i] {
				t.Fatalf("resolve %q handler %d: got %q, want %q", tc.intent, i, h.Name(), tc.names[i])
			}
		}
	}
}

func TestResolveRejectsUnknownIntent(t *testing.T) {
	reg := newTestRegistry(t)
	if _, err := reg.Resolve(types.Intent("weather")); !errors.Is(err, types.ErrClassification) {
		t.Fatalf("expected ErrClassification, got %v", err)
	}
}

func TestNewRequiresAllHandlers(t *testing.T) {
	if _, err := New(&namedHandler{name: "task_agent"}, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing handlers")
	}
}

func TestFallbackIsTaskHandler(t *testing.T) {
	reg := newTestRegistry(t)
	if got := reg.Fallback().Name(); got != "task_agent" {
		t.Fatalf("unexpected fallback handler: %q", got)
	}
}
