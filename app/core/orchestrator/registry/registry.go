package registry

import (
	"fmt"

	"aide0/app/pkg/types"
)

// Registry maps the closed intent enum to handlers. Resolve switches
// exhaustively: a new intent value fails compilation here rather than being
// string-matched somewhere along the request path.
type Registry struct {
	task     types.Handler
	event    types.Handler
	research types.Handler
	answer   types.Handler
}

func New(task, event, research, answer types.Handler) (*Registry, error) {
	if task == nil || event == nil || research == nil || answer == nil {
		return nil, fmt.Errorf("registry requires all four handlers")
	}
	return &Registry{task: task, event: event, research: research, answer: answer}, nil
}

// Resolve returns the handler set for an intent. Only "both" selects more
// than one handler; its pair runs concurrently at dispatch.
func (r *Registry) Resolve(intent types.Intent) ([]types.Handler, error) {
	switch intent {
	case types.IntentTask:
		return []types.Handler{r.task}, nil
	case types.IntentEvent:
		return []types.Handler{r.event}, nil
	case types.IntentResearch:
		return []types.Handler{r.research}, nil
	case types.IntentAnswer:
		return []types.Handler{r.answer}, nil
	case types.IntentBoth:
		return []types.Handler{r.task, r.event}, nil
	default:
		return nil, fmt.Errorf("%w: no handler for intent %q", types.ErrClassification, intent)
	}
}

// Fallback is the handler dispatch retries against when the primary routing
// path fails.
func (r *Registry) Fallback() types.Handler {
	return r.task
}
