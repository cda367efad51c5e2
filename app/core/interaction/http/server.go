package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"aide0/app/pkg/logger"
	"aide0/app/pkg/types"
)

const defaultResponseTimeout = 120 * time.Second

// Channel exposes the orchestrator over HTTP: a synchronous chat endpoint and
// an NDJSON streaming variant that reports dispatch progress frame by frame.
type Channel struct {
	id              string
	port            int
	server          *http.Server
	handler         func(context.Context, types.ChatRequest) types.ChatResult
	statusProvider  func(context.Context) map[string]interface{}
	responseTimeout time.Duration
	shutdownTimeout time.Duration

	inFlight    atomic.Int64
	startedUnix atomic.Int64
}

func NewChannel(port int) *Channel {
	return &Channel{
		id:              "http",
		port:            port,
		responseTimeout: defaultResponseTimeout,
		shutdownTimeout: 5 * time.Second,
	}
}

func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) SetStatusProvider(provider func(context.Context) map[string]interface{}) {
	c.statusProvider = provider
}

func (c *Channel) SetResponseTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	c.responseTimeout = timeout
}

func (c *Channel) SetShutdownTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	c.shutdownTimeout = timeout
}

func (c *Channel) Start(ctx context.Context, handler func(context.Context, types.ChatRequest) types.ChatResult) error {
	c.handler = handler
	c.startedUnix.Store(time.Now().Unix())

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", c.handleChat)
	mux.HandleFunc("/api/chat/stream", c.handleChatStream)
	mux.HandleFunc("/api/status", c.handleStatus)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	c.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", c.port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
		defer cancel()
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("[HTTP] Shutdown error: %v", err)
		}
	}()

	logger.Info("[HTTP] Listening on port %d...", c.port)
	if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type chatContext struct {
	SessionID       string `json:"sessionId,omitempty"`
	ConversationID  string `json:"conversationId,omitempty"`
	CurrentDateTime string `json:"currentDateTime,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
}

type chatRequest struct {
	Message string      `json:"message"`
	UserID  string      `json:"userId"`
	Context chatContext `json:"context"`
}

type chatResponse struct {
	Response string         `json:"response"`
	Actions  []types.Action `json:"actions"`
	Agent    string         `json:"agent,omitempty"`
}

// streamFrame is one NDJSON line. Lifecycle frames carry a timestamp; step
// and complete frames nest their payload so consumers read step.number and
// result.response rather than flattened siblings.
type streamFrame struct {
	Type      string       `json:"type"`
	Message   string       `json:"message,omitempty"`
	Step      *stepFrame   `json:"step,omitempty"`
	Result    *resultFrame `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
}

type stepFrame struct {
	Number    int    `json:"number"`
	Agent     string `json:"agent,omitempty"`
	Action    string `json:"action,omitempty"`
	Status    string `json:"status,omitempty"`
	Timestamp string `json:"timestamp"`
}

type resultFrame struct {
	Response  string         `json:"response"`
	Actions   []types.Action `json:"actions"`
	Agent     string         `json:"agent,omitempty"`
	Timestamp string         `json:"timestamp"`
}

type statusResponse struct {
	ChannelID string                 `json:"channelId"`
	InFlight  int64                  `json:"inFlight"`
	StartedAt string                 `json:"startedAt,omitempty"`
	UptimeSec int64                  `json:"uptimeSec"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
}

func (c *Channel) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{ChannelID: c.id, InFlight: c.inFlight.Load()}
	if started := c.startedUnix.Load(); started > 0 {
		startAt := time.Unix(started, 0).UTC()
		resp.StartedAt = startAt.Format(time.RFC3339)
		resp.UptimeSec = int64(time.Since(startAt).Seconds())
		if resp.UptimeSec < 0 {
			resp.UptimeSec = 0
		}
	}
	if c.statusProvider != nil {
		resp.Runtime = c.statusProvider(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (c *Channel) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := c.decodeChatRequest(w, r)
	if !ok {
		return
	}

	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	ctx, cancel := context.WithTimeout(r.Context(), c.responseTimeout)
	defer cancel()

	result := c.handler(ctx, c.toChatRequest(req, nil))
	if result.Err != nil {
		c.writeDispatchError(w, r, result.Err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(chatResponse{
		Response: result.Response,
		Actions:  result.Actions,
		Agent:    result.Agent,
	})
}

// handleChatStream emits one JSON object per line, flushed per frame:
// connected, start, one step frame per dispatch stage, then complete (or
// error) and always a final done.
func (c *Channel) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := c.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	sink := &streamSink{encoder: json.NewEncoder(w), flusher: flusher}
	sink.write(streamFrame{Type: "connected", Timestamp: frameTimestamp(time.Now())})
	sink.write(streamFrame{Type: "start", Message: "Processing your request", Timestamp: frameTimestamp(time.Now())})

	ctx, cancel := context.WithTimeout(r.Context(), c.responseTimeout)
	defer cancel()

	result := c.handler(ctx, c.toChatRequest(req, sink))
	switch {
	case result.Err == nil:
		actions := result.Actions
		if actions == nil {
			actions = []types.Action{}
		}
		sink.write(streamFrame{
			Type: "complete",
			Result: &resultFrame{
				Response:  result.Response,
				Actions:   actions,
				Agent:     result.Agent,
				Timestamp: frameTimestamp(time.Now()),
			},
		})
	case errors.Is(result.Err, context.Canceled):
		// caller is gone, nothing left to write
	default:
		sink.write(streamFrame{Type: "error", Error: result.Err.Error(), Timestamp: frameTimestamp(time.Now())})
	}
	sink.write(streamFrame{Type: "done"})
}

func (c *Channel) decodeChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return req, false
	}
	if c.handler == nil {
		http.Error(w, "handler not ready", http.StatusServiceUnavailable)
		return req, false
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return req, false
	}
	defer r.Body.Close()

	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return req, false
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return req, false
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "local_user"
	}
	return req, true
}

func (c *Channel) toChatRequest(req chatRequest, sink types.StepSink) types.ChatRequest {
	now := time.Now()
	if raw := strings.TrimSpace(req.Context.CurrentDateTime); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			now = parsed
		}
	}
	return types.ChatRequest{
		Message:        req.Message,
		UserID:         strings.TrimSpace(req.UserID),
		SessionID:      strings.TrimSpace(req.Context.SessionID),
		ConversationID: strings.TrimSpace(req.Context.ConversationID),
		Now:            now,
		Timezone:       strings.TrimSpace(req.Context.Timezone),
		Sink:           sink,
	}
}

func (c *Channel) writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		// caller disconnected; the response has nowhere to go
	case errors.Is(err, types.ErrUpstream):
		http.Error(w, "upstream model unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "request timeout", http.StatusGatewayTimeout)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// streamSink serializes progress frames onto the wire. The dispatch core may
// emit from concurrent handlers, so writes are locked and flushed one frame
// at a time to keep each line a whole JSON object.
type streamSink struct {
	mu      sync.Mutex
	encoder *json.Encoder
	flusher http.Flusher
}

func (s *streamSink) Emit(event types.StepEvent) {
	s.write(streamFrame{
		Type: "step",
		Step: &stepFrame{
			Number:    event.Number,
			Agent:     event.Agent,
			Action:    event.Action,
			Status:    event.Status,
			Timestamp: frameTimestamp(event.Timestamp),
		},
	})
}

func frameTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *streamSink) write(frame streamFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.encoder.Encode(frame); err != nil {
		return
	}
	s.flusher.Flush()
}
