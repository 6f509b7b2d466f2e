// The transcribe worker consumes the audio.transcribe queue: it dispatches
// uploaded recordings into staged chunks, transcribes individual chunks, and
// merges chunk results into the final transcript.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	meetscribe "github.com/meetscribe/meetscribe"
	"github.com/meetscribe/meetscribe/audio"
	"github.com/meetscribe/meetscribe/broker"
	"github.com/meetscribe/meetscribe/chunkcache"
	"github.com/meetscribe/meetscribe/config"
	"github.com/meetscribe/meetscribe/meetingstore"
	"github.com/meetscribe/meetscribe/pipeline"
	"github.com/meetscribe/meetscribe/providers"
	"github.com/meetscribe/meetscribe/schemas"
	"github.com/meetscribe/meetscribe/streaming"
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

	source, err := streaming.New(ctx, streaming.Config{
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		EndpointURL:     cfg.Storage.EndpointURL,
	}, logger)
	if err != nil {
		logger.Fatal("build streaming source: %v", err)
	}
	transcriber, err := providers.New(providers.Config{
		Provider: cfg.Transcription.Provider,
		BaseURL:  cfg.Transcription.BaseURL,
		APIKey:   cfg.Transcription.APIKey,
		Model:    cfg.Transcription.Model,
	}, logger)
	if err != nil {
		logger.Fatal("build transcriber: %v", err)
	}

	svc := pipeline.New(pipeline.Config{
		Store:       store,
		Cache:       cache,
		Publisher:   client,
		Reader:      source,
		Splitter:    audio.NewSplitter(cfg.Audio.ChunkDuration),
		Transcriber: transcriber,
		UploadDir:   cfg.Audio.UploadDir,
		Logger:      logger,
	})

	engine := meetscribe.NewEngine(client, meetscribe.EngineConfig{
		Queue:              schemas.QueueTranscribe,
		Concurrency:        cfg.Worker.Concurrency,
		PrefetchMultiplier: cfg.Worker.PrefetchMultiplier,
		MaxTasks:           cfg.Worker.MaxTasksPerChild,
		Deduper:            cache,
		Logger:             logger,
	})

	stagePolicy := meetscribe.RetryPolicy{
		MaxRetries: cfg.Worker.MaxRetries,
		Backoff:    cfg.Worker.RetryDelay,
	}
	// Chunks retry on a shorter fuse: a chunk is small and its staged file is
	// already local.
	chunkPolicy := meetscribe.RetryPolicy{
		MaxRetries: cfg.Worker.MaxRetries,
		Backoff:    cfg.Worker.RetryDelay / 2,
	}

	engine.Handle(schemas.KeyTranscribeStart, stagePolicy, meetscribe.JSONHandler(svc.HandleStart))
	engine.Handle(schemas.KeyTranscribeChunk, chunkPolicy, meetscribe.JSONHandler(svc.HandleChunk))
	engine.Handle(schemas.KeyTranscribeMerge, stagePolicy, meetscribe.JSONHandler(svc.HandleMerge))

	if err := engine.Run(ctx); err != nil {
		logger.Fatal("transcribe worker: %v", err)
	}
}
