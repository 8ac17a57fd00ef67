package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"

	"docvault/internal/config"
	"docvault/internal/middleware"
	"docvault/internal/worker"
)

var (
	// ErrWorkspaceExists is returned when a create collides with an
	// existing workspace name. Names are immutable and unique.
	ErrWorkspaceExists = errors.New("workspace already exists")

	ErrInvalidName = errors.New("invalid workspace name")
)

// Workspace names double as vector collection names and directory
// names, so they are kept lowercase and filesystem-safe.
var nameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,62}$`)

type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// File is the metadata row tracking one uploaded file through the
// ingestion state machine: uploaded -> partitioning -> embedding ->
// indexing -> completed, or failed with a stage and reason.
type File struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Status      string    `json:"status"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	ContentHash string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Repository interface {
	CreateWorkspace(ctx context.Context, name string) (*Workspace, error)
	GetWorkspace(ctx context.Context, name string) (*Workspace, error)
	ListWorkspaces(ctx context.Context) ([]Workspace, error)
	DeleteWorkspace(ctx context.Context, name string) error
	CountWorkspaces(ctx context.Context) (int, error)

	UpsertFile(ctx context.Context, workspace, filename, hash string) error
	ListFiles(ctx context.Context, workspace string) ([]File, error)
	CountFiles(ctx context.Context) (int, error)
	UpdateFileStatus(ctx context.Context, workspace, filename, status string) error
	MarkFileFailed(ctx context.Context, workspace, filename, stage, reason string) error
}

type BlobStore interface {
	EnsureWorkspaceDir(workspace string) error
	SaveFile(workspace, filename string, r io.Reader) (string, error)
	RemoveWorkspace(workspace string) error
}

type ArtifactStore interface {
	RemoveWorkspace(workspace string) error
}

type IndexStore interface {
	CountPoints(ctx context.Context, workspace string) (int, error)
	DeleteCollection(ctx context.Context, workspace string) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo      Repository
	blobs     BlobStore
	artifacts ArtifactStore
	index     IndexStore
	pub       EventPublisher
}

func NewService(repo Repository, blobs BlobStore, artifacts ArtifactStore, index IndexStore, pub EventPublisher) *Service {
	return &Service{repo: repo, blobs: blobs, artifacts: artifacts, index: index, pub: pub}
}

func (s *Service) Create(ctx context.Context, name string) (*Workspace, error) {
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	// Directory first: if it fails, no row exists to make every retry
	// of the same name look like a duplicate. Dir creation is
	// idempotent, so a leftover dir from a failed insert is harmless.
	if err := s.blobs.EnsureWorkspaceDir(name); err != nil {
		return nil, fmt.Errorf("create workspace directory: %w", err)
	}

	ws, err := s.repo.CreateWorkspace(ctx, name)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "workspace created", "workspace", name)
	return ws, nil
}

// Upload stores the file bytes and enqueues an ingestion task. The
// caller gets an acknowledgment immediately; ingestion outcome is
// observable via the file's status. Re-uploading an existing filename
// overwrites it silently.
func (s *Service) Upload(ctx context.Context, workspace, filename string, r io.Reader) error {
	if _, err := s.repo.GetWorkspace(ctx, workspace); err != nil {
		return err
	}

	hash, err := s.blobs.SaveFile(workspace, filename, r)
	if err != nil {
		return err
	}

	if err := s.repo.UpsertFile(ctx, workspace, filename, hash); err != nil {
		return err
	}

	payload, _ := json.Marshal(worker.IngestTaskPayload{
		Workspace:     workspace,
		Filename:      filename,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicIngestFile, payload); err != nil {
		return fmt.Errorf("enqueue ingestion task: %w", err)
	}

	slog.InfoContext(ctx, "published ingest task", "workspace", workspace, "filename", filename)
	return nil
}

func (s *Service) List(ctx context.Context) ([]Workspace, error) {
	return s.repo.ListWorkspaces(ctx)
}

type Detail struct {
	Workspace
	Files  []File `json:"files"`
	Points int    `json:"points"`
}

func (s *Service) Get(ctx context.Context, name string) (*Detail, error) {
	ws, err := s.repo.GetWorkspace(ctx, name)
	if err != nil {
		return nil, err
	}

	files, err := s.repo.ListFiles(ctx, name)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []File{}
	}

	points, err := s.index.CountPoints(ctx, name)
	if err != nil {
		slog.WarnContext(ctx, "failed to count points", "workspace", name, "error", err)
		points = 0
	}

	return &Detail{Workspace: *ws, Files: files, Points: points}, nil
}

// Delete cascades to everything the workspace owns: the vector
// collection, the uploaded files, the partition artifacts and the
// metadata rows.
func (s *Service) Delete(ctx context.Context, name string) error {
	if _, err := s.repo.GetWorkspace(ctx, name); err != nil {
		return err
	}

	if err := s.index.DeleteCollection(ctx, name); err != nil {
		return err
	}
	if err := s.blobs.RemoveWorkspace(name); err != nil {
		return err
	}
	if err := s.artifacts.RemoveWorkspace(name); err != nil {
		return err
	}
	return s.repo.DeleteWorkspace(ctx, name)
}
