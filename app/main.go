package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/avolokh/newsriver/app/api"
	"github.com/avolokh/newsriver/app/article"
	"github.com/avolokh/newsriver/app/cfg"
	"github.com/avolokh/newsriver/app/clean"
	"github.com/avolokh/newsriver/app/database"
	"github.com/avolokh/newsriver/app/deadletter"
	"github.com/avolokh/newsriver/app/dedup"
	"github.com/avolokh/newsriver/app/enrich"
	"github.com/avolokh/newsriver/app/index"
	"github.com/avolokh/newsriver/app/ingest"
	"github.com/avolokh/newsriver/app/normalize"
	"github.com/avolokh/newsriver/app/stream"
)

const (
	stageMaxAttempts = 5
	stageBaseDelay   = 500 * time.Millisecond
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting newsriver", "version", appCfg.Version)

	if err := run(appCfg); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutdown complete")
}

func run(appCfg *cfg.Cfg) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Dead-letter store
	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return err
	}
	slog.Info("Database ready", "migration_version", version, "dirty", dirty)
	deadLetterRepo := database.NewDeadLetterRepository(db)

	// Dedup cache
	dedupCache, err := dedup.NewRedisCache(appCfg.RedisAddr)
	if err != nil {
		return err
	}
	defer dedupCache.Close()

	// Search store
	store, err := index.NewElasticStore(appCfg.ElasticsearchURL, appCfg.IndexName, appCfg.EmbeddingDims)
	if err != nil {
		return err
	}
	if err := store.EnsureIndex(ctx); err != nil {
		return err
	}

	// Feed sources
	sources, err := ingest.LoadSources(appCfg.SourcesFile)
	if err != nil {
		return err
	}

	// Model backend
	var provider enrich.Provider
	var translator normalize.Translator
	var embedder api.QueryEmbedder

	if appCfg.LLMAPIKey != "" {
		llm, err := enrich.NewLLMProvider(enrich.LLMProviderOptions{
			BaseURL:        appCfg.LLMBaseURL,
			APIKey:         appCfg.LLMAPIKey,
			Model:          appCfg.LLMModel,
			EmbeddingModel: appCfg.EmbeddingModel,
			EmbeddingDims:  appCfg.EmbeddingDims,
			RateLimit:      appCfg.EnrichRateLimit,
			RateBurst:      appCfg.EnrichRateBurst,
			Concurrency:    appCfg.EnrichConcurrency,
			CallTimeout:    time.Duration(appCfg.CallTimeout) * time.Second,
		})
		if err != nil {
			return err
		}
		defer llm.Close()
		provider = llm
		embedder = llm

		if appCfg.TranslationEnabled {
			translator, err = normalize.NewLLMTranslator(appCfg.LLMBaseURL, appCfg.LLMAPIKey, appCfg.LLMModel)
			if err != nil {
				return err
			}
		}
	} else {
		slog.Warn("No LLM backend configured, enrichment runs in pass-through mode")
		provider = enrich.PassthroughProvider{}
	}

	// Stream topology
	rawPub := stream.NewKafkaPublisher(appCfg.KafkaBrokers, appCfg.TopicRaw)
	cleanedPub := stream.NewKafkaPublisher(appCfg.KafkaBrokers, appCfg.TopicCleaned)
	normalizedPub := stream.NewKafkaPublisher(appCfg.KafkaBrokers, appCfg.TopicNormalized)
	enrichedPub := stream.NewKafkaPublisher(appCfg.KafkaBrokers, appCfg.TopicEnriched)
	deadLetterPub := stream.NewKafkaPublisher(appCfg.KafkaBrokers, appCfg.TopicDeadLetters)
	for _, pub := range []*stream.KafkaPublisher{rawPub, cleanedPub, normalizedPub, enrichedPub, deadLetterPub} {
		defer pub.Close()
	}

	ingestor := ingest.NewIngestor(sources, rawPub,
		time.Duration(appCfg.IngestIntervalMinutes)*time.Minute,
		time.Duration(appCfg.FetchTimeout)*time.Second,
		appCfg.UserAgent)

	cleanRunner := &stream.Runner{
		Name:        "parser-deduper",
		Stage:       article.StageCleaned,
		Consumer:    stream.NewKafkaConsumer(appCfg.KafkaBrokers, appCfg.TopicRaw, appCfg.ConsumerGroupPrefix+"-parser"),
		Output:      cleanedPub,
		DeadLetters: deadLetterPub,
		Process:     clean.NewProcessor(dedupCache, time.Duration(appCfg.DedupWindowHours)*time.Hour).Process,
		MaxAttempts: stageMaxAttempts,
		BaseDelay:   stageBaseDelay,
		CallTimeout: time.Duration(appCfg.CallTimeout) * time.Second,
	}

	normalizeProcessor := normalize.NewProcessor(normalize.NewDetector(), translator, appCfg.TargetLanguage)
	normalizeRunner := &stream.Runner{
		Name:        "normalizer",
		Stage:       article.StageNormalized,
		Consumer:    stream.NewKafkaConsumer(appCfg.KafkaBrokers, appCfg.TopicCleaned, appCfg.ConsumerGroupPrefix+"-normalizer"),
		Output:      normalizedPub,
		DeadLetters: deadLetterPub,
		Process:     normalizeProcessor.Process,
		MaxAttempts: stageMaxAttempts,
		BaseDelay:   stageBaseDelay,
		CallTimeout: time.Duration(appCfg.CallTimeout) * time.Second,
	}

	enrichDriver := &enrich.Driver{
		Consumer:    stream.NewKafkaConsumer(appCfg.KafkaBrokers, appCfg.TopicNormalized, appCfg.ConsumerGroupPrefix+"-enricher"),
		Output:      enrichedPub,
		DeadLetters: deadLetterPub,
		Provider:    provider,
		BatchSize:   appCfg.EnrichBatchSize,
		Linger:      2 * time.Second,
		MaxAttempts: appCfg.EnrichMaxAttempts,
		BaseDelay:   stageBaseDelay,
	}

	indexBatcher := &index.Batcher{
		Consumer:      stream.NewKafkaConsumer(appCfg.KafkaBrokers, appCfg.TopicEnriched, appCfg.ConsumerGroupPrefix+"-indexer"),
		DeadLetters:   deadLetterPub,
		Store:         store,
		BatchSize:     appCfg.IndexBatchSize,
		FlushInterval: time.Duration(appCfg.IndexFlushSeconds) * time.Second,
		MaxAttempts:   appCfg.IndexMaxAttempts,
		BaseDelay:     stageBaseDelay,
	}

	deadLetterConsumer := &deadletter.Consumer{
		Consumer: stream.NewKafkaConsumer(appCfg.KafkaBrokers, appCfg.TopicDeadLetters, appCfg.ConsumerGroupPrefix+"-deadletter"),
		Store:    deadLetterRepo,
	}

	// HTTP server
	handler := api.NewHandler(store, deadLetterRepo, embedder, normalizeProcessor, appCfg.Version)
	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 8)
	var wg sync.WaitGroup

	start := func(name string, runFunc func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runFunc(ctx); err != nil {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	start("ingestor", ingestor.Run)
	start("parser-deduper", cleanRunner.Run)
	start("normalizer", normalizeRunner.Run)
	start("enricher", enrichDriver.Run)
	start("indexer", indexBatcher.Run)
	start("dead-letter consumer", deadLetterConsumer.Run)

	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down", "signal", sig.String())
	case runErr = <-errChan:
		slog.Error("Component failed, shutting down", "error", runErr)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timed out waiting for pipeline stages")
	}

	return runErr
}
