package batch

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"aide0/app/core/orchestrator/intent"
	"aide0/app/core/orchestrator/llm"
	"aide0/app/core/orchestrator/refindex"
	"aide0/app/pkg/types"
)

// Resolver reconstructs the concrete target-ID set for a batch instruction
// ("delete these") from the entity references embedded in recent assistant
// turns. It never fabricates an ID: whatever the extractor answers is
// intersected with the reference index, and an empty result is a valid
// "nothing to operate on" outcome, not an error.
type Resolver struct {
	completer llm.Completer
}

func NewResolver(completer llm.Completer) *Resolver {
	return &Resolver{completer: completer}
}

// Detect reports whether the message matches the batch-operation heuristic
// and, if so, which operation it names.
func Detect(message string) (string, bool) {
	if !intent.DetectBatchCue(message) {
		return "", false
	}
	return intent.BatchOperationFor(message), true
}

func (r *Resolver) Detect(message string) (string, bool) {
	return Detect(message)
}

func (r *Resolver) Resolve(ctx context.Context, message string, turns []types.ConversationTurn, operation string) (types.BatchOperation, error) {
	op := types.BatchOperation{Operation: operation}

	refs := refindex.Index(turns)
	if len(refs) == 0 {
		return op, nil
	}

	ids, err := r.extractTargets(ctx, message, refs)
	if err != nil {
		// extractor unavailable: fall back to the references carried by the
		// most recent annotated assistant turn, still drawn from the index
		ids = latestTurnIDs(turns)
	}

	byID := make(map[string]int, len(refs))
	for rank, ref := range refs {
		byID[ref.ID] = rank
	}

	// intersect with the index; when one title carries two IDs (edited and
	// recreated), keep the most recent occurrence only
	bestByTitle := make(map[string]int)
	picked := make([]int, 0, len(ids))
	for _, id := range ids {
		rank, known := byID[id]
		if !known {
			continue
		}
		delete(byID, id)
		title := refs[rank].Title
		if prev, dup := bestByTitle[title]; dup {
			if rank < prev {
				bestByTitle[title] = rank
			}
			continue
		}
		bestByTitle[title] = rank
		picked = append(picked, rank)
	}
	for i, rank := range picked {
		if best := bestByTitle[refs[rank].Title]; best != rank {
			picked[i] = best
		}
	}
	for _, rank := range picked {
		op.TargetIDs = append(op.TargetIDs, refs[rank].ID)
		op.TargetTitles = append(op.TargetTitles, refs[rank].Title)
	}
	return op, nil
}

func (r *Resolver) extractTargets(ctx context.Context, message string, refs []types.EntityReference) ([]string, error) {
	payload, err := r.completer.CompleteJSON(ctx, extractSystemPrompt, buildExtractPrompt(message, refs), map[string]interface{}{
		"target_ids": []string{},
	})
	if err != nil {
		return nil, err
	}

	result := gjson.GetBytes(payload, "target_ids")
	if !result.IsArray() {
		return nil, fmt.Errorf("extractor returned no target_ids array")
	}
	ids := make([]string, 0, 4)
	for _, item := range result.Array() {
		id := strings.TrimSpace(item.String())
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// latestTurnIDs returns the reference IDs of the newest assistant turn that
// mentions any. "these" most plausibly points at the last listing shown.
func latestTurnIDs(turns []types.ConversationTurn) []string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != types.RoleAssistant {
			continue
		}
		refs := refindex.FromTurn(turns[i])
		if len(refs) == 0 {
			continue
		}
		ids := make([]string, 0, len(refs))
		for _, ref := range refs {
			ids = append(ids, ref.ID)
		}
		return ids
	}
	return nil
}

const extractSystemPrompt = `You resolve pronoun references ("these", "them", "all") in a user instruction against entities previously shown to the user.
Return JSON only: {"target_ids":["..."]}

Rules:
- Only use IDs from the provided entity list. Never invent an ID.
- If the same title appears with two different IDs, pick the most recent one (listed first).
- If nothing matches, return an empty array.`

func buildExtractPrompt(message string, refs []types.EntityReference) string {
	var b strings.Builder
	b.WriteString("Known entities, most recent first:\n")
	for _, ref := range refs {
		b.WriteString(fmt.Sprintf("- id=%s kind=%s title=%q\n", ref.ID, ref.Kind, ref.Title))
	}
	b.WriteString("\nUser instruction:\n")
	b.WriteString(message)
	return b.String()
}
