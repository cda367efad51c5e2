package aggregate

import (
	"strings"

	"github.com/tidwall/gjson"

	"aide0/app/pkg/types"
)

// candidateLocations is the fixed, ordered list of places a loose payload may
// keep its entities. The first location holding a recognizable entity field
// wins, even when that field's value yields no usable action; locations are
// never merged for the same payload, so aliased fields cannot produce
// duplicate actions.
var candidateLocations = []string{"payload.result", "result", "data"}

// entityFields maps recognizable payload fields to the action type they
// produce and whether the field holds a collection.
var entityFields = []struct {
	field  string
	typ    string
	plural bool
}{
	{"task", "task", false},
	{"tasks", "task", true},
	{"event", "event", false},
	{"events", "event", true},
	{"report", "research", false},
	{"answer", "research", false},
}

// Normalize collapses a raw JSON payload of any of the known shapes into the
// canonical Action list. Unrecognizable payloads yield no actions.
func Normalize(raw []byte) []types.Action {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	root := gjson.ParseBytes(raw)

	for _, location := range candidateLocations {
		if value := root.Get(location); value.Exists() {
			if actions, matched := actionsFrom(value); matched {
				return actions
			}
		}
	}
	actions, _ := actionsFrom(root)
	return actions
}

// actionsFrom reports matched=true as soon as a recognizable entity field is
// present at the location, whether or not it produced actions. The caller
// stops probing at the first match.
func actionsFrom(value gjson.Result) ([]types.Action, bool) {
	if !value.IsObject() {
		return nil, false
	}
	for _, entity := range entityFields {
		field := value.Get(entity.field)
		if !field.Exists() {
			continue
		}
		if entity.plural {
			items := field.Array()
			actions := make([]types.Action, 0, len(items))
			for _, item := range items {
				if action, ok := toAction(entity.typ, entity.field, item); ok {
					actions = append(actions, action)
				}
			}
			return actions, true
		}
		if action, ok := toAction(entity.typ, entity.field, field); ok {
			return []types.Action{action}, true
		}
		return nil, true
	}
	return nil, false
}

func toAction(typ string, field string, value gjson.Result) (types.Action, bool) {
	switch {
	case value.IsObject():
		data, ok := value.Value().(map[string]interface{})
		if !ok {
			return types.Action{}, false
		}
		return types.Action{Type: typ, Data: data}, true
	case value.Type == gjson.String:
		text := strings.TrimSpace(value.String())
		if text == "" {
			return types.Action{}, false
		}
		// bare report/answer strings keep their field name as the data key
		return types.Action{Type: typ, Data: map[string]interface{}{field: text}}, true
	default:
		return types.Action{}, false
	}
}

// Dedupe drops repeated actions pointing at the same entity, keeping the
// first occurrence. Actions without an ID are kept as-is.
func Dedupe(actions []types.Action) []types.Action {
	if len(actions) < 2 {
		return actions
	}
	seen := make(map[string]bool, len(actions))
	out := actions[:0]
	for _, action := range actions {
		id := action.ID()
		if id != "" {
			key := action.Type + "/" + id
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, action)
	}
	return out
}

// MergeBoth combines the task-handler and event-handler results of a "both"
// run: actions by concatenation, response texts joined by a blank line unless
// one side produced nothing.
func MergeBoth(task types.Result, event types.Result) types.Result {
	merged := types.Result{
		Actions: append(append([]types.Action{}, task.Actions...), event.Actions...),
	}
	taskText := strings.TrimSpace(task.Response)
	eventText := strings.TrimSpace(event.Response)
	switch {
	case taskText == "":
		merged.Response = eventText
	case eventText == "":
		merged.Response = taskText
	default:
		merged.Response = taskText + "\n\n" + eventText
	}
	return merged
}
