package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"docvault/features/job"
	"docvault/internal/middleware"
)

// Runner is the ingestion entry point the consumer drives; satisfied
// by *Pipeline.
type Runner interface {
	Run(ctx context.Context, workspace, filename string) error
}

// IngestConsumer handles ingest.task.file messages. A failed job is
// recorded in the dead-letter table and NOT requeued: retry is an
// explicit re-publish of the stored payload, which is safe because
// upserts are idempotent and the partition artifact makes re-runs
// cheap.
type IngestConsumer struct {
	runner  Runner
	jobRepo job.Repository
	timeout time.Duration
}

func NewIngestConsumer(runner Runner, jobRepo job.Repository, timeout time.Duration) *IngestConsumer {
	return &IngestConsumer{
		runner:  runner,
		jobRepo: jobRepo,
		timeout: timeout,
	}
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestTaskPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison pill: invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if payload.Workspace == "" || payload.Filename == "" {
		slog.ErrorContext(ctx, "missing required fields, dropping", "workspace", payload.Workspace, "filename", payload.Filename)
		return nil
	}

	runCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	slog.InfoContext(ctx, "ingesting file", "workspace", payload.Workspace, "filename", payload.Filename)

	if err := h.runner.Run(runCtx, payload.Workspace, payload.Filename); err != nil {
		failedJob := &job.Job{
			Workspace: payload.Workspace,
			Filename:  payload.Filename,
			Handler:   "ingest-pipeline",
			Payload:   json.RawMessage(m.Body),
			Error:     err.Error(),
		}
		if saveErr := h.jobRepo.Save(ctx, failedJob); saveErr != nil {
			slog.ErrorContext(ctx, "failed to save failed job", "error", saveErr)
		} else {
			slog.InfoContext(ctx, "saved failed job for retry", "job_id", failedJob.ID)
		}
		// The pipeline already recorded the failed stage on the file
		// row; requeueing here would be an automatic retry, which the
		// failure policy rules out.
		return nil
	}

	return nil
}
