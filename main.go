package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "aide0/app/configs"
	"aide0/app/core/interaction/cli"
	"aide0/app/core/interaction/gateway"
	httpchannel "aide0/app/core/interaction/http"
	"aide0/app/core/orchestrator/batch"
	"aide0/app/core/orchestrator/db"
	"aide0/app/core/orchestrator/dispatch"
	"aide0/app/core/orchestrator/handlers"
	"aide0/app/core/orchestrator/history"
	"aide0/app/core/orchestrator/intent"
	"aide0/app/core/orchestrator/llm"
	"aide0/app/core/orchestrator/registry"
	"aide0/app/core/orchestrator/store"
	"aide0/app/pkg/logger"
	"aide0/app/pkg/queue"
	"aide0/app/pkg/types"
)

func main() {
	if err := logger.Init("output/logs"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("Aide0 starting...")

	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	database, err := db.NewSQLiteDB("output/db")
	if err != nil {
		logger.Error("Failed to initialize DB: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Database initialized successfully")

	completer, err := llm.NewClient(cfg.LLM)
	if err != nil {
		// a missing API key is a configuration error, the one failure class
		// that blocks startup instead of degrading at runtime
		if errors.Is(err, types.ErrUpstream) {
			logger.Error("LLM client unavailable: %v", err)
			os.Exit(1)
		}
		logger.Error("Failed to build LLM client: %v", err)
		os.Exit(1)
	}

	historyStore := history.NewStore(database)
	entityStore := store.NewStore(database)

	classifier := intent.NewClassifier(completer, cfg.Orchestrator.RoutingConfidenceThreshold)
	resolver := batch.NewResolver(completer)

	reg, err := registry.New(
		handlers.NewTaskHandler(completer, entityStore),
		handlers.NewEventHandler(completer, entityStore),
		handlers.NewResearchHandler(completer),
		handlers.NewAnswerHandler(completer, cfg.Assistant.Name),
	)
	if err != nil {
		logger.Error("Failed to build handler registry: %v", err)
		os.Exit(1)
	}

	orchestrator := dispatch.New(classifier, resolver, reg, historyStore, dispatch.Options{
		HistoryWindow:  cfg.Orchestrator.HistoryWindow,
		HandlerTimeout: time.Duration(cfg.Orchestrator.HandlerTimeoutSec) * time.Second,
	})

	gw := gateway.New(orchestrator)

	if tracer, err := gateway.NewTraceRecorder(cfg.Gateway.TraceDir); err != nil {
		logger.Warn("Trace recorder disabled: %v", err)
	} else {
		gw.SetTraceRecorder(tracer)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatchQueue := queue.New(cfg.Gateway.QueueBuffer)
	if err := dispatchQueue.Start(ctx, 4); err != nil {
		logger.Error("Failed to start dispatch queue: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := dispatchQueue.Stop(3 * time.Second); err != nil {
			logger.Error("Dispatch queue shutdown timeout: %v", err)
		}
	}()
	gw.SetDispatchQueue(dispatchQueue, gateway.QueueOptions{
		Enabled:        true,
		EnqueueTimeout: 2 * time.Second,
	})

	cliChannel := cli.NewChannel(cfg.Assistant.CLIUserID)
	gw.RegisterChannel(cliChannel)

	httpChan := httpchannel.NewChannel(cfg.Server.Port)
	httpChan.SetResponseTimeout(time.Duration(cfg.Server.ResponseTimeoutSec) * time.Second)
	httpChan.SetStatusProvider(func(context.Context) map[string]interface{} {
		health := gw.HealthStatus()
		return map[string]interface{}{
			"processedMessages": health.ProcessedMessages,
			"failedDispatches":  health.FailedDispatches,
			"queue":             health.Queue,
		}
	})
	gw.RegisterChannel(httpChan)

	go func() {
		if err := gw.Start(ctx); err != nil {
			logger.Error("Gateway crashed: %v", err)
			os.Exit(1)
		}
	}()

	logger.Info("Aide0 is ready to serve.")
	fmt.Println("- CLI Interface: Interactive")
	fmt.Printf("- HTTP Interface: http://localhost:%d/api/chat (POST)\n", cfg.Server.Port)
	fmt.Printf("- Streaming:      http://localhost:%d/api/chat/stream (POST)\n", cfg.Server.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal: %v. Aide0 shutting down...", sig)
	cancel()
}
