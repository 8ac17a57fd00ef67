package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"docvault/internal/middleware"
)

type WorkspaceRepo interface {
	CountWorkspaces(ctx context.Context) (int, error)
	CountFiles(ctx context.Context) (int, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	workspaceRepo WorkspaceRepo
	jobRepo       JobRepo
}

func NewHandler(w WorkspaceRepo, j JobRepo) *Handler {
	return &Handler{workspaceRepo: w, jobRepo: j}
}

type StatsResponse struct {
	Workspaces int `json:"workspaces"`
	Files      int `json:"files"`
	FailedJobs int `json:"failed_jobs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	wsCount, err := h.workspaceRepo.CountWorkspaces(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count workspaces", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count workspaces", http.StatusInternalServerError)
		return
	}

	fileCount, err := h.workspaceRepo.CountFiles(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count files", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count files", http.StatusInternalServerError)
		return
	}

	jobCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Workspaces: wsCount,
		Files:      fileCount,
		FailedJobs: jobCount,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
