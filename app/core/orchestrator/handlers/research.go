package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"aide0/app/core/orchestrator/aggregate"
	"aide0/app/core/orchestrator/llm"
	"aide0/app/pkg/types"
)

// ResearchHandler answers explicit research requests. The model's loose
// payload is normalized through the aggregator at this boundary, so dispatch
// only ever sees the Action contract.
type ResearchHandler struct {
	completer llm.Completer
}

func NewResearchHandler(completer llm.Completer) *ResearchHandler {
	return &ResearchHandler{completer: completer}
}

func (h *ResearchHandler) Name() string {
	return "research_agent"
}

func (h *ResearchHandler) Handle(ctx context.Context, req types.Request) (types.Result, error) {
	payload, err := h.completer.CompleteJSON(ctx, researchSystemPrompt, buildResearchPrompt(req), map[string]interface{}{
		"query": req.Message,
	})
	if err != nil {
		return types.Result{}, fmt.Errorf("%w: research: %v", types.ErrHandler, err)
	}

	actions := aggregate.Normalize(payload)
	if len(actions) == 0 {
		return types.Result{}, fmt.Errorf("%w: research returned no report", types.ErrHandler)
	}

	var meta struct {
		Query string `json:"query"`
	}
	_ = json.Unmarshal(payload, &meta)
	if strings.TrimSpace(meta.Query) != "" {
		for i := range actions {
			actions[i].Data["query"] = meta.Query
		}
	}

	response, _ := actions[0].Data["report"].(string)
	if response == "" {
		response, _ = actions[0].Data["answer"].(string)
	}
	if strings.TrimSpace(response) == "" {
		return types.Result{}, fmt.Errorf("%w: research report is empty", types.ErrHandler)
	}
	return types.Result{Response: response, Actions: actions}, nil
}

const researchSystemPrompt = `You are a research assistant. Summarize what is known about the user's query in a concise report.
Return JSON only: {"query":"the query you answered","report":"the report text"}`

func buildResearchPrompt(req types.Request) string {
	var b strings.Builder
	if !req.Now.IsZero() {
		b.WriteString("Current time: " + req.Now.Format("2006-01-02 15:04") + "\n\n")
	}
	b.WriteString("Research request:\n")
	b.WriteString(req.Message)
	return b.String()
}
