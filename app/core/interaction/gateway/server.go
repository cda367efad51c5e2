package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"aide0/app/pkg/logger"
	dispatchqueue "aide0/app/pkg/queue"
	"aide0/app/pkg/types"
)

// Processor is the orchestration core seen from the interaction layer.
type Processor interface {
	Run(ctx context.Context, req types.ChatRequest) types.ChatResult
}

type QueueOptions struct {
	Enabled        bool
	EnqueueTimeout time.Duration
	AttemptTimeout time.Duration
}

// Gateway fans inbound turns from every registered channel into the
// orchestrator and tracks process-level health. Channels stay synchronous:
// a queued turn still blocks its caller until the run finishes, the queue
// only bounds how many runs execute at once.
type Gateway struct {
	processor Processor
	channels  map[string]types.Channel
	mu        sync.RWMutex
	tracer    TraceRecorder

	dispatchQueue *dispatchqueue.Queue
	queueOptions  QueueOptions

	processedMessages uint64
	failedDispatches  uint64
	lastMessageUnix   atomic.Int64
	startedUnix       atomic.Int64
}

type HealthStatus struct {
	Started            bool                `json:"started"`
	StartedAt          time.Time           `json:"startedAt,omitempty"`
	RegisteredChannels []string            `json:"registeredChannels"`
	ProcessedMessages  uint64              `json:"processedMessages"`
	FailedDispatches   uint64              `json:"failedDispatches"`
	LastMessageAt      time.Time           `json:"lastMessageAt,omitempty"`
	QueueEnabled       bool                `json:"queueEnabled"`
	Queue              dispatchqueue.Stats `json:"queue"`
}

func New(processor Processor) *Gateway {
	return &Gateway{
		processor: processor,
		channels:  make(map[string]types.Channel),
	}
}

func (g *Gateway) RegisterChannel(c types.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
	logger.Info("[Gateway] Registered channel: %s", c.ID())
}

func (g *Gateway) SetTraceRecorder(tracer TraceRecorder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tracer = tracer
}

// SetDispatchQueue routes orchestration runs through a bounded worker queue.
// Retries stay at zero: replaying a chat turn could re-resolve batch targets
// against history that the first attempt already changed.
func (g *Gateway) SetDispatchQueue(q *dispatchqueue.Queue, opts QueueOptions) {
	if opts.EnqueueTimeout < 0 {
		opts.EnqueueTimeout = 0
	}
	if opts.AttemptTimeout < 0 {
		opts.AttemptTimeout = 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.dispatchQueue = q
	g.queueOptions = opts
}

// Start launches every registered channel and blocks until all of them stop.
func (g *Gateway) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	g.startedUnix.Store(time.Now().Unix())

	g.mu.RLock()
	for _, c := range g.channels {
		wg.Add(1)
		go func(ch types.Channel) {
			defer wg.Done()
			handler := func(reqCtx context.Context, req types.ChatRequest) types.ChatResult {
				return g.Process(reqCtx, ch.ID(), req)
			}
			if err := ch.Start(ctx, handler); err != nil {
				logger.Error("[Gateway] Channel %s error: %v", ch.ID(), err)
				if ctx.Err() == nil {
					g.trace(TraceEvent{ChannelID: ch.ID(), Event: EventChannelDisconnected, Status: "error", Detail: err.Error()})
				}
			}
		}(c)
	}
	g.mu.RUnlock()

	logger.Info("[Gateway] Started all channels")
	wg.Wait()
	return nil
}

// Process runs one chat turn through the orchestrator, keeping the counters
// and trace log current.
func (g *Gateway) Process(ctx context.Context, channelID string, req types.ChatRequest) types.ChatResult {
	atomic.AddUint64(&g.processedMessages, 1)
	g.lastMessageUnix.Store(time.Now().Unix())
	requestID := strings.TrimSpace(req.SessionID)

	logger.Info("[Gateway] Received message channel=%s user=%s", channelID, req.UserID)
	g.trace(TraceEvent{RequestID: requestID, ChannelID: channelID, UserID: req.UserID, Event: EventInboundReceived})

	var result types.ChatResult
	if g.queueEnabled() {
		result = g.processQueued(ctx, req)
	} else {
		result = g.processor.Run(ctx, req)
	}

	if result.Err != nil {
		atomic.AddUint64(&g.failedDispatches, 1)
		g.trace(TraceEvent{RequestID: requestID, ChannelID: channelID, UserID: req.UserID, Intent: result.Intent, Agent: result.Agent, Event: EventDispatchCompleted, Status: "error", Detail: result.Err.Error()})
		return result
	}
	if result.FallbackUsed {
		g.trace(TraceEvent{RequestID: requestID, ChannelID: channelID, UserID: req.UserID, Intent: result.Intent, Agent: result.Agent, Event: EventFallbackUsed})
	}
	g.trace(TraceEvent{RequestID: requestID, ChannelID: channelID, UserID: req.UserID, Intent: result.Intent, Agent: result.Agent, Event: EventDispatchCompleted})
	return result
}

func (g *Gateway) queueEnabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.queueOptions.Enabled && g.dispatchQueue != nil
}

func (g *Gateway) processQueued(ctx context.Context, req types.ChatRequest) types.ChatResult {
	g.mu.RLock()
	q := g.dispatchQueue
	opts := g.queueOptions
	g.mu.RUnlock()

	done := make(chan types.ChatResult, 1)
	job := dispatchqueue.Job{
		AttemptTimeout: opts.AttemptTimeout,
		Run: func(runCtx context.Context) error {
			done <- g.processor.Run(runCtx, req)
			return nil
		},
	}

	enqueueCtx := ctx
	cancel := func() {}
	if opts.EnqueueTimeout > 0 {
		enqueueCtx, cancel = context.WithTimeout(ctx, opts.EnqueueTimeout)
	}
	defer cancel()

	if _, err := q.EnqueueContext(enqueueCtx, job); err != nil {
		logger.Error("[Gateway] Queue enqueue failed: %v", err)
		return types.ChatResult{Err: fmt.Errorf("dispatch queue unavailable: %w", err)}
	}

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		return types.ChatResult{Err: ctx.Err()}
	}
}

func (g *Gateway) trace(event TraceEvent) {
	g.mu.RLock()
	tracer := g.tracer
	g.mu.RUnlock()
	if tracer == nil {
		return
	}
	if err := tracer.Record(event); err != nil {
		logger.Warn("[Gateway] Trace write failed: %v", err)
	}
}

func (g *Gateway) HealthStatus() HealthStatus {
	g.mu.RLock()
	channels := make([]string, 0, len(g.channels))
	for id := range g.channels {
		channels = append(channels, id)
	}
	queueEnabled := g.queueOptions.Enabled && g.dispatchQueue != nil
	var queueStats dispatchqueue.Stats
	if queueEnabled {
		queueStats = g.dispatchQueue.Stats()
	}
	g.mu.RUnlock()
	sort.Strings(channels)

	status := HealthStatus{
		RegisteredChannels: channels,
		ProcessedMessages:  atomic.LoadUint64(&g.processedMessages),
		FailedDispatches:   atomic.LoadUint64(&g.failedDispatches),
		QueueEnabled:       queueEnabled,
		Queue:              queueStats,
	}

	if started := g.startedUnix.Load(); started > 0 {
		status.Started = true
		status.StartedAt = time.Unix(started, 0).UTC()
	}
	if last := g.lastMessageUnix.Load(); last > 0 {
		status.LastMessageAt = time.Unix(last, 0).UTC()
	}

	return status
}
