package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"

	"docvault/internal/adapter/gemini"
	"docvault/internal/adapter/unstructured"
	"docvault/internal/app"
	"docvault/internal/config"
	"docvault/internal/logger"
)

func main() {
	// Structured logger with correlation id propagation from context.
	base := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(logger.NewContextHandler(base)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// newConsumerConfig sizes the consumer for the ingestion pool and
// stretches nsqd's message timeout to the job timeout, so a slow
// partition stage is not redelivered and run a second time while the
// first attempt is still in flight.
func newConsumerConfig(cfg *config.Config) *nsq.Config {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = cfg.IngestionConcurrency
	nsqCfg.MsgTimeout = cfg.JobTimeout()
	return nsqCfg
}

func run(ctx context.Context, cfg *config.Config) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.DB.Close()
	defer deps.NSQProducer.Stop()

	embedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim)
	if err != nil {
		return fmt.Errorf("gemini embedder error: %w", err)
	}
	defer embedder.Close()

	partitioner := unstructured.NewClient(cfg.PartitionURL, cfg.PartitionAPIKey)

	application, err := app.New(cfg, deps.DB, deps.Index, partitioner, embedder, deps.NSQProducer)
	if err != nil {
		return err
	}
	defer application.Pipeline.Close()

	// Worker: ingest task consumer
	var consumer *nsq.Consumer
	if cfg.EnableIngestWorker {
		consumer, err = nsq.NewConsumer(config.TopicIngestFile, "worker", newConsumerConfig(cfg))
		if err != nil {
			return fmt.Errorf("nsq consumer error: %w", err)
		}
		consumer.AddConcurrentHandlers(nsq.HandlerFunc(func(m *nsq.Message) error {
			return application.IngestConsumer.HandleMessage(m)
		}), cfg.IngestionConcurrency)

		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			return fmt.Errorf("failed to connect to NSQLookupd: %w", err)
		}
		slog.Info("ingest consumer connected", "topic", config.TopicIngestFile, "concurrency", cfg.IngestionConcurrency)
	}

	if !cfg.EnableAPI {
		slog.Info("api disabled, running worker only")
		<-ctx.Done()
		if consumer != nil {
			consumer.Stop()
			<-consumer.StopChan
		}
		return nil
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: application.Handler,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	if consumer != nil {
		consumer.Stop()
		<-consumer.StopChan
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
