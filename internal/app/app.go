package app

import (
	"context"
	"database/sql"
	"net/http"

	"docvault/features/job"
	"docvault/features/search"
	"docvault/features/stats"
	"docvault/features/workspace"
	"docvault/internal/artifact"
	"docvault/internal/config"
	"docvault/internal/middleware"
	"docvault/internal/storage"
	"docvault/internal/worker"
)

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the full surface the app needs from the vector
// store; satisfied by the Weaviate adapter.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, workspace string) error
	UpsertPoint(ctx context.Context, workspace string, chunk worker.Chunk) error
	QueryNearest(ctx context.Context, workspace string, vector []float32, limit int) ([]search.Result, error)
	CountPoints(ctx context.Context, workspace string) (int, error)
	DeleteCollection(ctx context.Context, workspace string) error
}

type App struct {
	Handler          http.Handler
	WorkspaceService *workspace.Service
	Pipeline         *worker.Pipeline
	IngestConsumer   *worker.IngestConsumer
}

func New(
	cfg *config.Config,
	db *sql.DB,
	index VectorIndex,
	partitioner worker.Partitioner,
	embedder Embedder,
	taskPub TaskPublisher,
) (*App, error) {
	blobStore := storage.NewStore(cfg.DataDir)
	artifactStore := artifact.NewStore(cfg.DataDir)

	// Feature: Workspace
	workspaceRepo := workspace.NewPostgresRepo(db)
	workspaceService := workspace.NewService(workspaceRepo, blobStore, artifactStore, index, taskPub)
	workspaceHandler := workspace.NewHandler(workspaceService, cfg.MaxUploadSizeMB<<20)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, taskPub)
	jobHandler := job.NewHandler(jobService)

	// Feature: Search
	searchService := search.NewService(embedder, index)
	searchHandler := search.NewHandler(searchService)

	// Feature: Stats
	statsHandler := stats.NewHandler(workspaceRepo, jobRepo)

	// Ingestion pipeline & consumer. Partition options mirror what the
	// partition service expects for mixed document uploads.
	partitionOpts := worker.PartitionOptions{
		Strategy:            "hi_res",
		Languages:           []string{"eng"},
		SplitPDFPage:        true,
		SplitPDFConcurrency: 15,
		SplitPDFAllowFailed: true,
	}
	pipeline, err := worker.NewPipeline(partitioner, embedder, index, artifactStore, blobStore, workspaceRepo, partitionOpts, cfg.EmbedConcurrency)
	if err != nil {
		return nil, err
	}
	ingestConsumer := worker.NewIngestConsumer(pipeline, jobRepo, cfg.JobTimeout())

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /workspaces", middleware.CorrelationID(enableCORS(workspaceHandler.Create)))
	mux.Handle("GET /workspaces", middleware.CorrelationID(enableCORS(workspaceHandler.List)))
	mux.Handle("GET /workspaces/{name}", middleware.CorrelationID(enableCORS(workspaceHandler.Get)))
	mux.Handle("DELETE /workspaces/{name}", middleware.CorrelationID(enableCORS(workspaceHandler.Delete)))
	mux.Handle("POST /workspaces/{name}/files", middleware.CorrelationID(enableCORS(workspaceHandler.Upload)))

	mux.Handle("POST /workspaces/{name}/search", middleware.CorrelationID(enableCORS(searchHandler.Search)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:          mux,
		WorkspaceService: workspaceService,
		Pipeline:         pipeline,
		IngestConsumer:   ingestConsumer,
	}, nil
}
