// The summarize worker consumes the audio.summarize queue: it generates the
// meeting summary (map-reduce over long transcripts), then runs the key-note
// and action-item extractions that complete the meeting.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	meetscribe "github.com/meetscribe/meetscribe"
	"github.com/meetscribe/meetscribe/broker"
	"github.com/meetscribe/meetscribe/chunkcache"
	"github.com/meetscribe/meetscribe/config"
	"github.com/meetscribe/meetscribe/llm"
	"github.com/meetscribe/meetscribe/meetingstore"
	"github.com/meetscribe/meetscribe/schemas"
	"github.com/meetscribe/meetscribe/summarize"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := meetscribe.NewDefaultLogger(cfg.Log.Level)
	logger.SetOutputType(cfg.Log.Style)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := meetingstore.New(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("connect meeting store: %v", err)
	}
	cache, err := chunkcache.New(cfg.Cache.URL, logger)
	if err != nil {
		logger.Fatal("connect chunk cache: %v", err)
	}
	client, err := broker.Connect(broker.Config{URL: cfg.Broker.URL, Logger: logger})
	if err != nil {
		logger.Fatal("connect broker: %v", err)
	}
	defer client.Close()

	generator := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, logger)

	svc := summarize.New(summarize.Config{
		Store:     store,
		Cache:     cache,
		Publisher: client,
		Generator: generator,
		ChunkSize: cfg.Summary.ChunkSize,
		Logger:    logger,
	})

	engine := meetscribe.NewEngine(client, meetscribe.EngineConfig{
		Queue:              schemas.QueueSummarize,
		Concurrency:        cfg.Worker.Concurrency,
		PrefetchMultiplier: cfg.Worker.PrefetchMultiplier,
		MaxTasks:           cfg.Worker.MaxTasksPerChild,
		Deduper:            cache,
		Logger:             logger,
	})

	// The LLM client retries transient failures internally, so the summarize
	// handlers carry no broker-level retries.
	noRetry := meetscribe.RetryPolicy{}

	engine.Handle(schemas.KeySummarizeGenerate, noRetry, meetscribe.JSONHandler(svc.HandleGenerate))
	engine.Handle(schemas.KeyExtractKeyNotes, noRetry, meetscribe.JSONHandler(svc.HandleKeyNotes))
	engine.Handle(schemas.KeyGenerateTasks, noRetry, meetscribe.JSONHandler(svc.HandleTasks))

	if err := engine.Run(ctx); err != nil {
		logger.Fatal("summarize worker: %v", err)
	}
}
