package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"aide0/app/core/orchestrator/aggregate"
	"aide0/app/core/orchestrator/refindex"
	"aide0/app/core/orchestrator/registry"
	"aide0/app/pkg/logger"
	"aide0/app/pkg/types"
)

const apologyResponse = "Sorry — something went wrong while handling that. Please try again."

const timeoutResponse = "That's taking longer than expected. Please try again in a moment."

// Classifier is the NLU routing boundary, kept as an interface so the state
// machine stays unit-testable without a live model.
type Classifier interface {
	Classify(ctx context.Context, message string, history []types.ConversationTurn) (types.RoutingDecision, error)
}

// BatchResolver detects batch instructions and reconstructs their target IDs.
type BatchResolver interface {
	Detect(message string) (string, bool)
	Resolve(ctx context.Context, message string, turns []types.ConversationTurn, operation string) (types.BatchOperation, error)
}

// HistoryStore is the conversation log collaborator.
type HistoryStore interface {
	LoadRecent(ctx context.Context, userID string, conversationID string, limit int) ([]types.ConversationTurn, error)
	Append(ctx context.Context, turn types.ConversationTurn) (types.ConversationTurn, error)
}

type Options struct {
	HistoryWindow  int
	HandlerTimeout time.Duration
}

// Orchestrator runs one inbound message through classification, optional
// batch resolution, handler invocation, aggregation and streaming. One value
// per process; all request-scoped state is passed explicitly.
type Orchestrator struct {
	classifier Classifier
	resolver   BatchResolver
	registry   *registry.Registry
	history    HistoryStore
	opts       Options
}

func New(classifier Classifier, resolver BatchResolver, reg *registry.Registry, history HistoryStore, opts Options) *Orchestrator {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 10
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 30 * time.Second
	}
	return &Orchestrator{
		classifier: classifier,
		resolver:   resolver,
		registry:   reg,
		history:    history,
		opts:       opts,
	}
}

// Run processes one chat turn. Failures below the configuration level never
// escape as errors: every degraded path resolves to a best-effort reply.
// A canceled ctx (caller disconnect) stops persistence and streaming; any
// in-flight handler result is discarded once it returns.
func (o *Orchestrator) Run(ctx context.Context, req types.ChatRequest) types.ChatResult {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return types.ChatResult{Response: "I didn't catch that — could you rephrase?", Actions: []types.Action{}, Agent: "answer_agent", Intent: string(types.IntentAnswer)}
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = strings.TrimSpace(req.SessionID)
	}
	if conversationID == "" {
		conversationID = "conv-" + req.UserID
	}

	run := newRun(req.Sink)

	history, err := o.history.LoadRecent(ctx, req.UserID, conversationID, o.opts.HistoryWindow)
	if err != nil {
		logger.Warn("load history failed: %v", err)
		history = nil
	}

	// Received -> Classified
	run.step("classifier", "classify message", types.StepInProgress)
	decision, err := o.classifier.Classify(ctx, message, history)
	if err != nil {
		// classifier unavailability never hard-fails a user turn
		logger.Warn("classification failed, falling back to answer: %v", err)
		decision = types.RoutingDecision{Intent: types.IntentAnswer, Rationale: "classifier_fallback"}
		run.step("classifier", "classification failed, defaulting to answer", types.StepError)
	} else {
		run.step("classifier", "routed to "+string(decision.Intent), types.StepCompleted)
	}
	if canceled(ctx) {
		return types.ChatResult{Err: ctx.Err()}
	}

	// Classified -> BatchResolving (only when the heuristic matches)
	var batchOp *types.BatchOperation
	if operation, ok := o.resolver.Detect(message); ok {
		run.step("batch_resolver", "resolve "+operation+" targets", types.StepInProgress)
		resolved, err := o.resolver.Resolve(ctx, message, history, operation)
		if err != nil {
			logger.Warn("batch resolution failed: %v", err)
			resolved = types.BatchOperation{Operation: operation}
		}
		run.step("batch_resolver", "resolved targets", types.StepCompleted)
		batchOp = &resolved
		if decision.Intent != types.IntentTask && decision.Intent != types.IntentEvent {
			decision.Intent = types.IntentTask
		}
	}
	if canceled(ctx) {
		return types.ChatResult{Err: ctx.Err()}
	}

	handlerReq := types.Request{
		Message:        message,
		UserID:         req.UserID,
		ConversationID: conversationID,
		SessionID:      req.SessionID,
		Now:            req.Now,
		Timezone:       req.Timezone,
		History:        history,
		Batch:          batchOp,
	}

	// BatchResolving/Classified -> HandlerRunning
	handlers, err := o.registry.Resolve(decision.Intent)
	if err != nil {
		logger.Error("registry resolve failed: %v", err)
		handlers, _ = o.registry.Resolve(types.IntentAnswer)
	}

	result, agent, runErr := o.invoke(ctx, run, decision.Intent, handlers, handlerReq)
	if canceled(ctx) {
		return types.ChatResult{Err: ctx.Err()}
	}
	usedFallback := false
	if runErr != nil {
		usedFallback = true
		result, agent = o.fallback(ctx, run, handlerReq)
		if canceled(ctx) {
			return types.ChatResult{Err: ctx.Err()}
		}
	}

	// HandlerRunning -> Aggregating
	run.step("aggregator", "normalize actions", types.StepInProgress)
	result.Actions = aggregate.Dedupe(result.Actions)
	if result.Actions == nil {
		result.Actions = []types.Action{}
	}
	run.step("aggregator", "normalized actions", types.StepCompleted)

	// Aggregating -> Streaming -> Completed
	o.persist(ctx, req, conversationID, message, result)

	return types.ChatResult{
		Response:     result.Response,
		Actions:      result.Actions,
		Agent:        agent,
		Intent:       string(decision.Intent),
		FallbackUsed: usedFallback,
	}
}

func (o *Orchestrator) invoke(ctx context.Context, run *run, intent types.Intent, handlers []types.Handler, req types.Request) (types.Result, string, error) {
	if intent == types.IntentBoth && len(handlers) == 2 {
		return o.invokeBoth(ctx, run, handlers[0], handlers[1], req)
	}

	handler := handlers[0]
	run.step(handler.Name(), "handle message", types.StepInProgress)
	result, err := o.invokeOne(ctx, handler, req)
	switch {
	case err == nil:
		run.step(handler.Name(), "handled message", types.StepCompleted)
		return result, handler.Name(), nil
	case errors.Is(err, context.DeadlineExceeded):
		// timed-out contribution is absent, not fatal
		run.step(handler.Name(), "timed out", types.StepError)
		return types.Result{Response: timeoutResponse}, handler.Name(), nil
	default:
		run.step(handler.Name(), "failed", types.StepError)
		return types.Result{}, handler.Name(), err
	}
}

// invokeBoth fans out the task and event handlers concurrently and waits for
// both. One side failing or timing out must not suppress the other side's
// successful result.
func (o *Orchestrator) invokeBoth(ctx context.Context, run *run, taskHandler, eventHandler types.Handler, req types.Request) (types.Result, string, error) {
	run.step(taskHandler.Name(), "handle message", types.StepInProgress)
	run.step(eventHandler.Name(), "handle message", types.StepInProgress)

	var (
		results [2]types.Result
		errs    [2]error
	)
	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results[0], errs[0] = o.invokeOne(groupCtx, taskHandler, req)
		return nil
	})
	g.Go(func() error {
		results[1], errs[1] = o.invokeOne(groupCtx, eventHandler, req)
		return nil
	})
	_ = g.Wait()

	for i, handler := range []types.Handler{taskHandler, eventHandler} {
		if errs[i] != nil {
			logger.Warn("%s failed under both-intent: %v", handler.Name(), errs[i])
			run.step(handler.Name(), "failed", types.StepError)
			results[i] = types.Result{}
		} else {
			run.step(handler.Name(), "handled message", types.StepCompleted)
		}
	}
	if errs[0] != nil && errs[1] != nil {
		return types.Result{}, "combined", errs[0]
	}
	return aggregate.MergeBoth(results[0], results[1]), "combined", nil
}

func (o *Orchestrator) invokeOne(ctx context.Context, handler types.Handler, req types.Request) (types.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.opts.HandlerTimeout)
	defer cancel()
	return handler.Handle(callCtx, req)
}

// fallback retries once against the default handler with the raw message and
// no batch context; a second failure degrades to a generic apology.
func (o *Orchestrator) fallback(ctx context.Context, run *run, req types.Request) (types.Result, string) {
	fallbackHandler := o.registry.Fallback()
	req.Batch = nil

	run.step(fallbackHandler.Name(), "retry with fallback handler", types.StepInProgress)
	result, err := o.invokeOne(ctx, fallbackHandler, req)
	if err != nil {
		logger.Error("fallback handler failed: %v", err)
		run.step(fallbackHandler.Name(), "fallback failed", types.StepError)
		return types.Result{Response: apologyResponse}, fallbackHandler.Name()
	}
	run.step(fallbackHandler.Name(), "handled message", types.StepCompleted)
	return result, fallbackHandler.Name()
}

// persist appends the user turn and the annotated assistant turn. Skipped
// entirely once the caller has disconnected.
func (o *Orchestrator) persist(ctx context.Context, req types.ChatRequest, conversationID string, message string, result types.Result) {
	if canceled(ctx) {
		return
	}
	if _, err := o.history.Append(ctx, types.ConversationTurn{
		ConversationID: conversationID,
		UserID:         req.UserID,
		Role:           types.RoleUser,
		Content:        message,
	}); err != nil {
		logger.Warn("persist user turn failed: %v", err)
	}

	content := refindex.Annotate(result.Response, result.Actions)
	if _, err := o.history.Append(ctx, types.ConversationTurn{
		ConversationID: conversationID,
		UserID:         req.UserID,
		Role:           types.RoleAssistant,
		Content:        content,
		Actions:        result.Actions,
	}); err != nil {
		logger.Warn("persist assistant turn failed: %v", err)
	}
}

func canceled(ctx context.Context) bool {
	return ctx.Err() != nil
}

// run tracks the per-request step counter so event numbers are strictly
// increasing no matter which stages execute.
type run struct {
	sink types.StepSink
	n    int
}

func newRun(sink types.StepSink) *run {
	return &run{sink: sink}
}

func (r *run) step(agent string, action string, status string) {
	r.n++
	if r.sink == nil {
		return
	}
	r.sink.Emit(types.StepEvent{
		Number:    r.n,
		Agent:     agent,
		Action:    action,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}
