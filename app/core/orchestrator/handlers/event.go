package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"aide0/app/core/orchestrator/llm"
	"aide0/app/core/orchestrator/refindex"
	"aide0/app/core/orchestrator/store"
	"aide0/app/pkg/types"
)

type EventHandler struct {
	completer llm.Completer
	store     *store.Store
}

func NewEventHandler(completer llm.Completer, entityStore *store.Store) *EventHandler {
	return &EventHandler{completer: completer, store: entityStore}
}

func (h *EventHandler) Name() string {
	return "event_agent"
}

type eventPlan struct {
	Op    string `json:"op"`
	Event struct {
		Title    string `json:"title"`
		Start    string `json:"start"`
		End      string `json:"end"`
		Location string `json:"location"`
	} `json:"event"`
	TargetID string `json:"target_id"`
	Reply    string `json:"reply"`
}

func (h *EventHandler) Handle(ctx context.Context, req types.Request) (types.Result, error) {
	if req.Batch != nil {
		return h.handleBatch(ctx, *req.Batch)
	}

	plan, err := h.extractPlan(ctx, req)
	if err != nil {
		return types.Result{}, fmt.Errorf("%w: event plan: %v", types.ErrHandler, err)
	}

	switch plan.Op {
	case "create":
		event, err := h.store.CreateEvent(ctx, req.UserID, plan.Event.Title, plan.Event.Start, plan.Event.End, plan.Event.Location)
		if err != nil {
			return types.Result{}, fmt.Errorf("%w: create event: %v", types.ErrHandler, err)
		}
		return types.Result{
			Response: replyOr(plan.Reply, fmt.Sprintf("Scheduled %q.", event.Title)),
			Actions:  []types.Action{eventAction(event)},
		}, nil

	case "list":
		events, err := h.store.ListEvents(ctx, req.UserID, 20)
		if err != nil {
			return types.Result{}, fmt.Errorf("%w: list events: %v", types.ErrHandler, err)
		}
		if len(events) == 0 {
			return types.Result{Response: "Your calendar is empty."}, nil
		}
		var b strings.Builder
		b.WriteString(fmt.Sprintf("You have %d %s:\n", len(events), pluralize(len(events), "event", "events")))
		actions := make([]types.Action, 0, len(events))
		for i, event := range events {
			b.WriteString(fmt.Sprintf("%d. %s", i+1, event.Title))
			if event.StartTime != "" {
				b.WriteString(" at " + event.StartTime)
			}
			b.WriteString("\n")
			actions = append(actions, eventAction(event))
		}
		return types.Result{Response: strings.TrimRight(b.String(), "\n"), Actions: actions}, nil

	case "update":
		event, err := h.resolveTarget(ctx, plan.TargetID, req)
		if err != nil {
			return types.Result{Response: "I couldn't find that event."}, nil
		}
		updated, err := h.store.UpdateEvent(ctx, event.ID, eventUpdateFromPlan(plan))
		if err != nil {
			return types.Result{}, fmt.Errorf("%w: update event: %v", types.ErrHandler, err)
		}
		return types.Result{
			Response: replyOr(plan.Reply, fmt.Sprintf("Updated %q.", updated.Title)),
			Actions:  []types.Action{eventAction(updated)},
		}, nil

	case "delete", "cancel":
		event, err := h.resolveTarget(ctx, plan.TargetID, req)
		if err != nil {
			return types.Result{Response: "I couldn't find that event."}, nil
		}
		if _, err := h.store.DeleteEvents(ctx, []string{event.ID}); err != nil {
			return types.Result{}, fmt.Errorf("%w: delete event: %v", types.ErrHandler, err)
		}
		return types.Result{
			Response: replyOr(plan.Reply, fmt.Sprintf("Removed %q from your calendar.", event.Title)),
		}, nil

	default:
		return types.Result{
			Response: replyOr(plan.Reply, "I can schedule, list, update or cancel events. What would you like to do?"),
		}, nil
	}
}

func (h *EventHandler) handleBatch(ctx context.Context, op types.BatchOperation) (types.Result, error) {
	if op.Empty() {
		return types.Result{Response: "I couldn't find anything to operate on."}, nil
	}

	switch op.Operation {
	case types.BatchDelete:
		n, err := h.store.DeleteEvents(ctx, op.TargetIDs)
		if err != nil {
			return types.Result{}, fmt.Errorf("%w: batch delete: %v", types.ErrHandler, err)
		}
		return types.Result{Response: fmt.Sprintf("Deleted %d %s.", n, pluralize(n, "event", "events"))}, nil

	case types.BatchComplete:
		n, err := h.store.CancelEvents(ctx, op.TargetIDs)
		if err != nil {
			return types.Result{}, fmt.Errorf("%w: batch cancel: %v", types.ErrHandler, err)
		}
		return types.Result{Response: fmt.Sprintf("Canceled %d %s.", n, pluralize(n, "event", "events"))}, nil

	default:
		return types.Result{Response: "Batch updates to events need the new details; tell me what to change."}, nil
	}
}

func (h *EventHandler) extractPlan(ctx context.Context, req types.Request) (eventPlan, error) {
	payload, err := h.completer.CompleteJSON(ctx, eventPlanSystemPrompt, buildPlanPrompt(req), map[string]interface{}{
		"op": "none",
	})
	if err != nil {
		return eventPlan{}, err
	}
	var plan eventPlan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return eventPlan{}, err
	}
	plan.Op = strings.ToLower(strings.TrimSpace(plan.Op))
	return plan, nil
}

func (h *EventHandler) resolveTarget(ctx context.Context, targetID string, req types.Request) (store.Event, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return store.Event{}, fmt.Errorf("no target id")
	}
	for _, ref := range refindex.Index(req.History) {
		if ref.ID == targetID && ref.Kind == "event" {
			return h.store.GetEvent(ctx, targetID)
		}
	}
	event, err := h.store.GetEvent(ctx, targetID)
	if err != nil {
		return store.Event{}, err
	}
	if event.UserID != req.UserID {
		return store.Event{}, fmt.Errorf("event %s does not belong to user", targetID)
	}
	return event, nil
}

func eventAction(e store.Event) types.Action {
	data := map[string]interface{}{
		"id":     e.ID,
		"title":  e.Title,
		"status": e.Status,
	}
	if e.StartTime != "" {
		data["start"] = e.StartTime
	}
	if e.EndTime != "" {
		data["end"] = e.EndTime
	}
	if e.Location != "" {
		data["location"] = e.Location
	}
	return types.Action{Type: "event", Data: data}
}

func eventUpdateFromPlan(plan eventPlan) store.EventUpdate {
	update := store.EventUpdate{}
	if strings.TrimSpace(plan.Event.Title) != "" {
		title := plan.Event.Title
		update.Title = &title
	}
	if strings.TrimSpace(plan.Event.Start) != "" {
		start := plan.Event.Start
		update.StartTime = &start
	}
	if strings.TrimSpace(plan.Event.End) != "" {
		end := plan.Event.End
		update.EndTime = &end
	}
	if strings.TrimSpace(plan.Event.Location) != "" {
		location := plan.Event.Location
		update.Location = &location
	}
	return update
}

const eventPlanSystemPrompt = `You translate a user message about their calendar into one operation.
Return JSON only.

JSON schema:
{"op":"create|list|update|delete|none","event":{"title":"","start":"","end":"","location":""},"target_id":"","reply":"short confirmation"}

Rules:
- For create, event.title is required; express start/end as ISO 8601 when the user gives a time.
- For update/delete, target_id must be an ID from the known entities list. Never invent an ID.
- Use op "none" when the message is not a calendar operation.`
