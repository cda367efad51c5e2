package handlers

import (
	"fmt"
	"strings"

	"aide0/app/core/orchestrator/refindex"
	"aide0/app/pkg/types"
)

func replyOr(reply string, fallback string) string {
	if strings.TrimSpace(reply) != "" {
		return reply
	}
	return fallback
}

func pluralize(n int, singular string, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

// buildPlanPrompt renders the message together with the annotated history
// tail and the recoverable entity references, so the model can point at real
// IDs instead of inventing them.
func buildPlanPrompt(req types.Request) string {
	var b strings.Builder
	if !req.Now.IsZero() {
		b.WriteString("Current time: " + req.Now.Format("2006-01-02 15:04") + "\n")
	}
	if strings.TrimSpace(req.Timezone) != "" {
		b.WriteString("Timezone: " + req.Timezone + "\n")
	}

	refs := refindex.Index(req.History)
	b.WriteString("\nKnown entities, most recent first:\n")
	if len(refs) == 0 {
		b.WriteString("- none\n")
	} else {
		for _, ref := range refs {
			b.WriteString(fmt.Sprintf("- id=%s kind=%s title=%q\n", ref.ID, ref.Kind, ref.Title))
		}
	}

	b.WriteString("\nRecent conversation:\n")
	if len(req.History) == 0 {
		b.WriteString("- none\n")
	} else {
		start := 0
		if len(req.History) > 6 {
			start = len(req.History) - 6
		}
		for _, turn := range req.History[start:] {
			b.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
		}
	}

	b.WriteString("\nUser message:\n")
	b.WriteString(req.Message)
	return b.String()
}
