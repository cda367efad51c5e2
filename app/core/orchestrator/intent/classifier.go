package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"aide0/app/core/orchestrator/llm"
	"aide0/app/pkg/types"
)

// Classifier turns a raw user message plus annotated history into a
// RoutingDecision. The model proposes, the routing policy disposes: a fixed
// set of deterministic cue rules is applied over the model's answer so the
// closed-enum routing stays predictable without a live model.
type Classifier struct {
	completer llm.Completer
	threshold float64
}

func NewClassifier(completer llm.Completer, confidenceThreshold float64) *Classifier {
	if confidenceThreshold <= 0 || confidenceThreshold > 1 {
		confidenceThreshold = 0.45
	}
	return &Classifier{completer: completer, threshold: confidenceThreshold}
}

func (c *Classifier) Classify(ctx context.Context, message string, history []types.ConversationTurn) (types.RoutingDecision, error) {
	payload, err := c.completer.CompleteJSON(ctx, classifySystemPrompt, buildClassifyPrompt(message, history), map[string]interface{}{
		"confidence": 0.0,
		"parameters": map[string]interface{}{},
	})
	if err != nil {
		return types.RoutingDecision{}, fmt.Errorf("%w: %v", types.ErrClassification, err)
	}

	var raw struct {
		Intent     string                 `json:"intent"`
		Confidence float64                `json:"confidence"`
		Parameters map[string]interface{} `json:"parameters"`
		Rationale  string                 `json:"rationale"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return types.RoutingDecision{}, fmt.Errorf("%w: decode decision: %v", types.ErrClassification, err)
	}

	parsed, err := types.ParseIntent(raw.Intent)
	if err != nil {
		return types.RoutingDecision{}, fmt.Errorf("%w: %v", types.ErrClassification, err)
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		return types.RoutingDecision{}, fmt.Errorf("%w: confidence %v out of range", types.ErrClassification, raw.Confidence)
	}

	decision := types.RoutingDecision{
		Intent:     parsed,
		Confidence: raw.Confidence,
		Parameters: raw.Parameters,
		Rationale:  raw.Rationale,
	}
	return c.applyPolicy(decision, detectCues(message)), nil
}

type cueSet struct {
	batch        bool
	task         bool
	event        bool
	research     bool
	definitional bool
}

var (
	taskCues         = []string{"task", "tasks", "todo", "to-do", "reminder", "remind me"}
	eventCues        = []string{"event", "events", "meeting", "meetings", "calendar", "appointment", "schedule"}
	researchCues     = []string{"search", "latest", "trending", "research", "look up", "news"}
	definitionalCues = []string{"what is", "what are", "explain", "how does", "how do", "define", "why does"}
)

func detectCues(message string) cueSet {
	lowered := strings.ToLower(message)
	return cueSet{
		batch:        DetectBatchCue(message),
		task:         containsAny(lowered, taskCues),
		event:        containsAny(lowered, eventCues),
		research:     containsAny(lowered, researchCues),
		definitional: containsAny(lowered, definitionalCues),
	}
}

// applyPolicy enforces the routing precedence:
// batch cues > task/event domain cues > research cues > generic questions.
// Definitional phrasing always resolves to answer, never research. "both"
// requires task and event concepts in the same message.
func (c *Classifier) applyPolicy(decision types.RoutingDecision, cues cueSet) types.RoutingDecision {
	overridden := true
	switch {
	case cues.batch && cues.event && !cues.task:
		decision.Intent = types.IntentEvent
	case cues.batch:
		decision.Intent = types.IntentTask
	case cues.task && cues.event:
		decision.Intent = types.IntentBoth
	case cues.task:
		decision.Intent = types.IntentTask
	case cues.event:
		decision.Intent = types.IntentEvent
	case cues.definitional:
		decision.Intent = types.IntentAnswer
	case cues.research:
		decision.Intent = types.IntentResearch
	default:
		overridden = false
		if decision.Intent == types.IntentResearch {
			// research only on explicit cues
			decision.Intent = types.IntentAnswer
		}
		if decision.Intent == types.IntentBoth {
			decision.Intent = types.IntentAnswer
		}
	}

	if !overridden && decision.Confidence < c.threshold {
		decision.Intent = types.IntentAnswer
		if decision.Rationale == "" {
			decision.Rationale = "low_confidence"
		}
	}
	return decision
}

var (
	batchVerbs     = []string{"delete", "remove", "complete", "finish", "update", "mark", "cancel", "close"}
	batchReferents = []string{"these", "those", "them", "all", "everything", "that", "it"}
)

// DetectBatchCue reports whether the message reads as a batch operation over
// previously listed entities: an operation verb plus a plural referent.
// Keyword matching is knowingly coarse; widening it needs design validation.
func DetectBatchCue(message string) bool {
	words := strings.Fields(strings.ToLower(message))
	hasVerb := false
	hasReferent := false
	for _, word := range words {
		trimmed := strings.Trim(word, ".,!?;:")
		for _, verb := range batchVerbs {
			if trimmed == verb {
				hasVerb = true
			}
		}
		for _, ref := range batchReferents {
			if trimmed == ref {
				hasReferent = true
			}
		}
	}
	return hasVerb && hasReferent
}

// BatchOperationFor maps the message's verb to the batch operation kind.
func BatchOperationFor(message string) string {
	lowered := strings.ToLower(message)
	switch {
	case strings.Contains(lowered, "delete") || strings.Contains(lowered, "remove") || strings.Contains(lowered, "cancel"):
		return types.BatchDelete
	case strings.Contains(lowered, "complete") || strings.Contains(lowered, "finish") || strings.Contains(lowered, "mark") || strings.Contains(lowered, "close"):
		return types.BatchComplete
	default:
		return types.BatchUpdate
	}
}

func containsAny(lowered string, cues []string) bool {
	for _, cue := range cues {
		if len(strings.Fields(cue)) > 1 {
			if strings.Contains(lowered, cue) {
				return true
			}
			continue
		}
		for _, word := range strings.Fields(lowered) {
			if strings.Trim(word, ".,!?;:\"'") == cue {
				return true
			}
		}
	}
	return false
}

const classifySystemPrompt = `You are a strict intent classifier for a personal assistant that manages tasks and calendar events and answers questions.
Return JSON only.

JSON schema:
{"intent":"task|event|research|answer|both","confidence":0.0,"parameters":{},"rationale":"short"}

Rules:
- "task" for creating, listing, updating, completing or deleting to-do items.
- "event" for calendar entries, meetings and appointments.
- "both" only when the message mixes task and calendar concepts.
- "research" only when the message explicitly asks for current or web-sourced information.
- "answer" for definitions, explanations and general conversation.
- Confidence is between 0 and 1.`

func buildClassifyPrompt(message string, history []types.ConversationTurn) string {
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	if len(history) == 0 {
		b.WriteString("- none\n")
	} else {
		start := 0
		if len(history) > 6 {
			start = len(history) - 6
		}
		for _, turn := range history[start:] {
			b.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
		}
	}
	b.WriteString("\nLatest user message:\n")
	b.WriteString(message)
	return b.String()
}
