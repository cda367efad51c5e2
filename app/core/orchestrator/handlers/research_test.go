package handlers

import (
	"context"
	"errors"
	"testing"

	"aide0/app/pkg/types"
)

func TestResearchHandlerProducesReportAction(t *testing.T) {
	h := NewResearchHandler(&fakeCompleter{
		payload: `{"query":"latest rust release","report":"Rust 1.80 shipped in July."}`,
	})

	result, err := h.Handle(context.Background(), types.Request{Message: "search for the latest rust release", UserID: "u1"})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if result.Response != "Rust 1.80 shipped in July." {
		t.Fatalf("unexpected response: %q", result.Response)
	}
	if len(result.Actions) != 1 || result.Actions[0].Type != "research" {
		t.Fatalf("unexpected actions: %+v", result.Actions)
	}
	if result.Actions[0].Data["query"] != "latest rust release" {
		t.Fatalf("query not stamped into action: %+v", result.Actions[0].Data)
	}
}

func TestResearchHandlerEmptyReportFails(t *testing.T) {
	h := NewResearchHandler(&fakeCompleter{payload: `{"query":"x","irrelevant":"y"}`})
	if _, err := h.Handle(context.Background(), types.Request{Message: "search x", UserID: "u1"}); err == nil {
		t.Fatal("expected handler error for payload without a report")
	}
	if _, err := h.Handle(context.Background(), types.Request{Message: "search x", UserID: "u1"}); !errors.Is(err, types.ErrHandler) {
		t.Fatalf("expected ErrHandler, got %v", err)
	}
}

func TestAnswerHandlerPlainText(t *testing.T) {
	h := NewAnswerHandler(&fakeCompleter{text: "A solar eclipse happens when the moon blocks the sun."}, "Aide0")

	result, err := h.Handle(context.Background(), types.Request{Message: "what is a solar eclipse", UserID: "u1"})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if result.Response == "" || len(result.Actions) != 0 {
		t.Fatalf("answer should be text only: %+v", result)
	}
}

func TestAnswerHandlerEmptyOutputFails(t *testing.T) {
	h := NewAnswerHandler(&fakeCompleter{text: "   "}, "Aide0")
	if _, err := h.Handle(context.Background(), types.Request{Message: "hi", UserID: "u1"}); !errors.Is(err, types.ErrHandler) {
		t.Fatalf("expected ErrHandler, got %v", err)
	}
}
