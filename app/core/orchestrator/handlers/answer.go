package handlers

import (
	"context"
	"fmt"
	"strings"

	"aide0/app/core/orchestrator/llm"
	"aide0/app/pkg/types"
)

// AnswerHandler is the conversational default: definitions, explanations and
// anything the router could not place elsewhere. It produces no actions.
type AnswerHandler struct {
	completer llm.Completer
	name      string
}

func NewAnswerHandler(completer llm.Completer, assistantName string) *AnswerHandler {
	if strings.TrimSpace(assistantName) == "" {
		assistantName = "Aide0"
	}
	return &AnswerHandler{completer: completer, name: assistantName}
}

func (h *AnswerHandler) Name() string {
	return "answer_agent"
}

func (h *AnswerHandler) Handle(ctx context.Context, req types.Request) (types.Result, error) {
	out, err := h.completer.Complete(ctx, h.systemPrompt(), buildAnswerPrompt(req))
	if err != nil {
		return types.Result{}, fmt.Errorf("%w: answer: %v", types.ErrHandler, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return types.Result{}, fmt.Errorf("%w: empty answer", types.ErrHandler)
	}
	return types.Result{Response: out}, nil
}

func (h *AnswerHandler) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are ")
	b.WriteString(h.name)
	b.WriteString(", a helpful personal assistant.\n")
	b.WriteString("Answer the latest user message using the conversation history.\n")
	b.WriteString("If information is insufficient, ask a concise follow-up question.\n")
	b.WriteString("Return plain text only.")
	return b.String()
}

func buildAnswerPrompt(req types.Request) string {
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	if len(req.History) == 0 {
		b.WriteString("- none\n")
	} else {
		start := 0
		if len(req.History) > 10 {
			start = len(req.History) - 10
		}
		for _, turn := range req.History[start:] {
			b.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
		}
	}
	b.WriteString("\nLatest user message:\n")
	b.WriteString(req.Message)
	return b.String()
}
