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

// TaskHandler turns task-domain messages into store mutations. It is also the
// dispatch fallback handler: a raw message with no batch context must always
// produce a usable reply.
type TaskHandler struct {
	completer llm.Completer
	store     *store.Store
}

func NewTaskHandler(completer llm.Completer, entityStore *store.Store) *TaskHandler {
	return &TaskHandler{completer: completer, store: entityStore}
}

func (h *TaskHandler) Name() string {
	return "task_agent"
}

type taskPlan struct {
	Op   string `json:"op"`
	Task struct {
		Title string `json:"title"`
		Due   string `json:"due"`
		Notes string `json:"notes"`
	} `json:"task"`
	TargetID string `json:"target_id"`
	Status   string `json:"status"`
	Reply    string `json:"reply"`
}

func (h *TaskHandler) Handle(ctx context.Context, req types.Request) (types.Result, error) {
	if req.Batch != nil {
		return h.handleBatch(ctx, *req.Batch)
	}

	plan, err := h.extractPlan(ctx, req)
	if err != nil {
		return types.Result{}, fmt.Errorf("%w: task plan: %v", types.ErrHandler, err)
	}

	switch plan.Op {
	case "create":
		task, err := h.store.CreateTask(ctx, req.UserID, plan.Task.Title, plan.Task.Due, plan.Task.Notes)
		if err != nil {
			return types.Result{}, fmt.Errorf("%w: create task: %v", types.ErrHandler, err)
		}
		return types.Result{
			Response: replyOr(plan.Reply, fmt.Sprintf("Created task %q.", task.Title)),
			Actions:  []types.Action{taskAction(task)},
		}, nil

	case "list":
		tasks, err := h.store.ListTasks(ctx, req.UserID, plan.Status, 20)
		if err != nil {
			return types.Result{}, fmt.Errorf("%w: list tasks: %v", types.ErrHandler, err)
		}
		if len(tasks) == 0 {
			return types.Result{Response: "You have no tasks right now."}, nil
		}
		var b strings.Builder
		b.WriteString(fmt.Sprintf("You have %d %s:\n", len(tasks), pluralize(len(tasks), "task", "tasks")))
		actions := make([]types.Action, 0, len(tasks))
		for i, task := range tasks {
			b.WriteString(fmt.Sprintf("%d. %s", i+1, task.Title))
			if task.Due != "" {
				b.WriteString(" (due " + task.Due + ")")
			}
			b.WriteString("\n")
			actions = append(actions, taskAction(task))
		}
		return types.Result{Response: strings.TrimRight(b.String(), "\n"), Actions: actions}, nil

	case "complete":
		task, err := h.resolveTarget(ctx, plan.TargetID, req)
		if err != nil {
			return types.Result{Response: "I couldn't find that task."}, nil
		}
		completed, err := h.store.CompleteTask(ctx, task.ID)
		if err != nil {
			return types.Result{}, fmt.Errorf("%w: complete task: %v", types.ErrHandler, err)
		}
		return types.Result{
			Response: replyOr(plan.Reply, fmt.Sprintf("Marked %q as done.", completed.Title)),
			Actions:  []types.Action{taskAction(completed)},
		}, nil

	case "update":
		task, err := h.resolveTarget(ctx, plan.TargetID, req)
		if err != nil {
			return types.Result{Response: "I couldn't find that task."}, nil
		}
		updated, err := h.store.UpdateTask(ctx, task.ID, taskUpdateFromPlan(plan))
		if err != nil {
			return types.Result{}, fmt.Errorf("%w: update task: %v", types.ErrHandler, err)
		}
		return types.Result{
			Response: replyOr(plan.Reply, fmt.Sprintf("Updated %q.", updated.Title)),
			Actions:  []types.Action{taskAction(updated)},
		}, nil

	case "delete":
		task, err := h.resolveTarget(ctx, plan.TargetID, req)
		if err != nil {
			return types.Result{Response: "I couldn't find that task."}, nil
		}
		if err := h.store.DeleteTask(ctx, task.ID); err != nil {
			return types.Result{}, fmt.Errorf("%w: delete task: %v", types.ErrHandler, err)
		}
		return types.Result{
			Response: replyOr(plan.Reply, fmt.Sprintf("Deleted %q.", task.Title)),
		}, nil

	default:
		return types.Result{
			Response: replyOr(plan.Reply, "I can create, list, update, complete or delete tasks. What would you like to do?"),
		}, nil
	}
}

func (h *TaskHandler) handleBatch(ctx context.Context, op types.BatchOperation) (types.Result, error) {
	if op.Empty() {
		return types.Result{Response: "I couldn't find anything to operate on."}, nil
	}

	switch op.Operation {
	case types.BatchDelete:
		n, err := h.store.DeleteTasks(ctx, op.TargetIDs)
		if err != nil {
			return types.Result{}, fmt.Errorf("%w: batch delete: %v", types.ErrHandler, err)
		}
		return types.Result{Response: fmt.Sprintf("Deleted %d %s.", n, pluralize(n, "task", "tasks"))}, nil

	case types.BatchComplete:
		n, err := h.store.CompleteTasks(ctx, op.TargetIDs)
		if err != nil {
			return types.Result{}, fmt.Errorf("%w: batch complete: %v", types.ErrHandler, err)
		}
		return types.Result{Response: fmt.Sprintf("Completed %d %s.", n, pluralize(n, "task", "tasks"))}, nil

	case types.BatchUpdate:
		n, err := h.store.UpdateTasks(ctx, op.TargetIDs, store.TaskUpdate{})
		if err != nil {
			return types.Result{}, fmt.Errorf("%w: batch update: %v", types.ErrHandler, err)
		}
		return types.Result{Response: fmt.Sprintf("Updated %d %s.", n, pluralize(n, "task", "tasks"))}, nil

	default:
		return types.Result{}, fmt.Errorf("%w: unknown batch operation %q", types.ErrHandler, op.Operation)
	}
}

func (h *TaskHandler) extractPlan(ctx context.Context, req types.Request) (taskPlan, error) {
	payload, err := h.completer.CompleteJSON(ctx, taskPlanSystemPrompt, buildPlanPrompt(req), map[string]interface{}{
		"op":     "none",
		"status": "all",
	})
	if err != nil {
		return taskPlan{}, err
	}
	var plan taskPlan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return taskPlan{}, err
	}
	plan.Op = strings.ToLower(strings.TrimSpace(plan.Op))
	return plan, nil
}

// resolveTarget validates a model-proposed target against history references
// first, then against the store. A fabricated ID fails both.
func (h *TaskHandler) resolveTarget(ctx context.Context, targetID string, req types.Request) (store.Task, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return store.Task{}, fmt.Errorf("no target id")
	}
	for _, ref := range refindex.Index(req.History) {
		if ref.ID == targetID && ref.Kind == "task" {
			return h.store.GetTask(ctx, targetID)
		}
	}
	task, err := h.store.GetTask(ctx, targetID)
	if err != nil {
		return store.Task{}, err
	}
	if task.UserID != req.UserID {
		return store.Task{}, fmt.Errorf("task %s does not belong to user", targetID)
	}
	return task, nil
}

func taskAction(t store.Task) types.Action {
	data := map[string]interface{}{
		"id":     t.ID,
		"title":  t.Title,
		"status": t.Status,
	}
	if t.Due != "" {
		data["due"] = t.Due
	}
	if t.Notes != "" {
		data["notes"] = t.Notes
	}
	return types.Action{Type: "task", Data: data}
}

func taskUpdateFromPlan(plan taskPlan) store.TaskUpdate {
	update := store.TaskUpdate{}
	if strings.TrimSpace(plan.Task.Title) != "" {
		title := plan.Task.Title
		update.Title = &title
	}
	if strings.TrimSpace(plan.Task.Due) != "" {
		due := plan.Task.Due
		update.Due = &due
	}
	if strings.TrimSpace(plan.Task.Notes) != "" {
		notes := plan.Task.Notes
		update.Notes = &notes
	}
	return update
}

const taskPlanSystemPrompt = `You translate a user message about their to-do list into one operation.
Return JSON only.

JSON schema:
{"op":"create|list|complete|update|delete|none","task":{"title":"","due":"","notes":""},"target_id":"","status":"open|done|all","reply":"short confirmation"}

Rules:
- For create, task.title is required; keep the user's own wording in the title.
- For complete/update/delete, target_id must be an ID from the known entities list. Never invent an ID.
- Use op "none" when the message is not a task operation.`
