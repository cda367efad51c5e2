package refindex

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"aide0/app/pkg/types"
)

// The textual annotation grammar. Assistant turns carry one bracket line per
// action so a text-only extractor can recover IDs without reading the
// structured actions column.
//
//	[Task ID: task-1, Title: "Renew contract", Due: 2026-09-05]
var annotationPattern = regexp.MustCompile(`\[(Task|Event) ID: "?([^",\]]+)"?, Title: "([^"]*)"((?:, [^:\x5d]+: [^,\x5d]*)*)\]`)

// Index flattens the given turns into a de-duplicated reference list keyed by
// entity ID, most recent occurrence winning. Pure function; turns with absent
// or malformed actions are skipped, never an error.
func Index(turns []types.ConversationTurn) []types.EntityReference {
	refs := make([]types.EntityReference, 0, 8)
	seen := make(map[string]bool)

	add := func(ref types.EntityReference) {
		if ref.ID == "" || seen[ref.ID] {
			return
		}
		seen[ref.ID] = true
		refs = append(refs, ref)
	}

	// newest turn first, so the first occurrence of an ID is the freshest
	for i := len(turns) - 1; i >= 0; i-- {
		turn := turns[i]
		if turn.Role != types.RoleAssistant {
			continue
		}
		for _, action := range turn.Actions {
			if ref, ok := fromAction(action); ok {
				add(ref)
			}
		}
		for _, ref := range FromContent(turn.Content) {
			add(ref)
		}
	}
	return refs
}

// FromTurn extracts references from a single assistant turn.
func FromTurn(turn types.ConversationTurn) []types.EntityReference {
	return Index([]types.ConversationTurn{turn})
}

// FromContent recovers references from the textual annotation encoding alone.
func FromContent(content string) []types.EntityReference {
	matches := annotationPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	refs := make([]types.EntityReference, 0, len(matches))
	for _, m := range matches {
		ref := types.EntityReference{
			Kind:  strings.ToLower(m[1]),
			ID:    strings.TrimSpace(m[2]),
			Title: m[3],
		}
		if extras := parseExtraFields(m[4]); len(extras) > 0 {
			ref.Fields = extras
		}
		refs = append(refs, ref)
	}
	return refs
}

// Annotate appends one bracket line per task/event action to the assistant
// content before it is stored. The structured+textual duplication is
// intentional: downstream extractors may only see rendered text.
func Annotate(content string, actions []types.Action) string {
	lines := make([]string, 0, len(actions))
	for _, action := range actions {
		if ref, ok := fromAction(action); ok {
			lines = append(lines, formatAnnotation(ref))
		}
	}
	if len(lines) == 0 {
		return content
	}
	if strings.TrimSpace(content) == "" {
		return strings.Join(lines, "\n")
	}
	return content + "\n\n" + strings.Join(lines, "\n")
}

func fromAction(action types.Action) (types.EntityReference, bool) {
	kind := strings.ToLower(strings.TrimSpace(action.Type))
	if kind != "task" && kind != "event" {
		return types.EntityReference{}, false
	}
	id := strings.TrimSpace(action.ID())
	if id == "" {
		return types.EntityReference{}, false
	}

	ref := types.EntityReference{
		ID:    id,
		Kind:  kind,
		Title: action.Title(),
	}
	fields := map[string]string{}
	for key, value := range action.Data {
		if key == "id" || key == "title" {
			continue
		}
		switch v := value.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				fields[key] = v
			}
		case float64, int, int64, bool:
			fields[key] = fmt.Sprintf("%v", v)
		}
	}
	if len(fields) > 0 {
		ref.Fields = fields
	}
	return ref, true
}

func formatAnnotation(ref types.EntityReference) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(strings.ToUpper(ref.Kind[:1]) + ref.Kind[1:])
	b.WriteString(" ID: ")
	b.WriteString(ref.ID)
	b.WriteString(`, Title: "`)
	b.WriteString(ref.Title)
	b.WriteString(`"`)

	keys := make([]string, 0, len(ref.Fields))
	for key := range ref.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.WriteString(", ")
		b.WriteString(strings.ToUpper(key[:1]) + key[1:])
		b.WriteString(": ")
		b.WriteString(ref.Fields[key])
	}
	b.WriteString("]")
	return b.String()
}

func parseExtraFields(raw string) map[string]string {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), ","))
	if raw == "" {
		return nil
	}
	fields := map[string]string{}
	for _, part := range strings.Split(raw, ", ") {
		key, value, found := strings.Cut(part, ": ")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}
