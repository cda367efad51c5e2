package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Intent is the closed set of routing targets. Adding a value here requires
// updating registry.Resolve, which switches exhaustively over the enum.
type Intent string

const (
	IntentTask     Intent = "task"
	IntentEvent    Intent = "event"
	IntentResearch Intent = "research"
	IntentAnswer   Intent = "answer"
	IntentBoth     Intent = "both"
)

func ParseIntent(raw string) (Intent, error) {
	switch Intent(strings.ToLower(strings.TrimSpace(raw))) {
	case IntentTask:
		return IntentTask, nil
	case IntentEvent:
		return IntentEvent, nil
	case IntentResearch:
		return IntentResearch, nil
	case IntentAnswer:
		return IntentAnswer, nil
	case IntentBoth:
		return IntentBoth, nil
	default:
		return "", fmt.Errorf("unknown intent: %q", raw)
	}
}

var (
	// ErrClassification marks an NLU call that failed or returned a decision
	// outside the closed enum. Recovered locally via the answer fallback.
	ErrClassification = errors.New("classification failed")

	// ErrHandler marks a handler that failed or returned a malformed result.
	ErrHandler = errors.New("handler failed")

	// ErrUpstream marks a configuration-level failure (e.g. missing API key).
	// Fatal for the request, surfaced to the operator without retry.
	ErrUpstream = errors.New("upstream unavailable")
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Action is a normalized record of a side effect or result produced by a
// handler. Data must carry an "id" for task/event kinds so later turns can
// resolve pronoun references against it.
type Action struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

func (a Action) ID() string {
	id, _ := a.Data["id"].(string)
	return id
}

func (a Action) Title() string {
	title, _ := a.Data["title"].(string)
	return title
}

// ConversationTurn is one entry of the append-only conversation log.
type ConversationTurn struct {
	ID             string   `json:"id,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	UserID         string   `json:"user_id,omitempty"`
	Role           string   `json:"role"`
	Content        string   `json:"content"`
	Actions        []Action `json:"actions,omitempty"`
	CreatedAt      int64    `json:"created_at,omitempty"`
}

// EntityReference is a recovered pointer to a previously mentioned task or
// event, derived from a prior assistant turn. Not persisted independently.
type EntityReference struct {
	ID     string            `json:"id"`
	Kind   string            `json:"kind"` // "task" or "event"
	Title  string            `json:"title"`
	Fields map[string]string `json:"fields,omitempty"`
}

// RoutingDecision is the classifier's output for one inbound message.
type RoutingDecision struct {
	Intent     Intent                 `json:"intent"`
	Confidence float64                `json:"confidence"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Rationale  string                 `json:"rationale,omitempty"`
}

const (
	BatchDelete   = "delete"
	BatchComplete = "complete"
	BatchUpdate   = "update"
)

// BatchOperation is a resolved set of target entity IDs plus the operation to
// apply to all of them. Consumed exactly once; never retried with a fresh ID
// set because downstream mutation is not idempotent across resolutions.
type BatchOperation struct {
	Operation    string   `json:"operation"`
	TargetIDs    []string `json:"target_ids"`
	TargetTitles []string `json:"target_titles,omitempty"`
}

func (b BatchOperation) Empty() bool {
	return len(b.TargetIDs) == 0
}

const (
	StepPending    = "pending"
	StepInProgress = "in_progress"
	StepCompleted  = "completed"
	StepError      = "error"
)

// StepEvent is one progress notification in the streaming protocol. Number is
// strictly increasing within a single request.
type StepEvent struct {
	Number    int       `json:"number"`
	Agent     string    `json:"agent"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StepSink receives ordered lifecycle events as a run advances.
type StepSink interface {
	Emit(StepEvent)
}

// Request is the input every handler receives.
type Request struct {
	Message        string
	UserID         string
	ConversationID string
	SessionID      string
	Now            time.Time
	Timezone       string
	History        []ConversationTurn
	Batch          *BatchOperation
}

// Result is the single required handler output contract. Handlers that
// consume loose model output normalize it at their own boundary.
type Result struct {
	Response string
	Actions  []Action
}

// Handler turns a message into a response and zero or more Actions.
type Handler interface {
	Name() string
	Handle(ctx context.Context, req Request) (Result, error)
}

// ChatRequest is the channel-facing envelope for one inbound message.
type ChatRequest struct {
	Message        string
	UserID         string
	SessionID      string
	ConversationID string
	Now            time.Time
	Timezone       string
	Sink           StepSink // nil for non-streaming callers
}

// ChatResult is the channel-facing envelope for one completed turn. Intent
// and FallbackUsed describe how the turn was routed; they feed the gateway
// trace log and stay off the wire.
type ChatResult struct {
	Response     string   `json:"response"`
	Actions      []Action `json:"actions"`
	Agent        string   `json:"agent"`
	Intent       string   `json:"-"`
	FallbackUsed bool     `json:"-"`
	Err          error    `json:"-"`
}

// Channel is an input/output surface (HTTP, CLI).
type Channel interface {
	Start(ctx context.Context, handler func(context.Context, ChatRequest) ChatResult) error
	ID() string
}
