package worker

import (
	"context"
)

// Element is one unit of text extracted from a document by the
// partition service. ElementID is stable for unchanged content, so
// re-ingesting the same file overwrites the same index points.
type Element struct {
	ElementID string         `json:"element_id"`
	Type      string         `json:"type,omitempty"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (e Element) Filename() string {
	if v, ok := e.Metadata["filename"].(string); ok {
		return v
	}
	return ""
}

// Chunk is an Element with its embedding attached, ready for indexing.
type Chunk struct {
	ElementID string
	Text      string
	Filename  string
	Vector    []float32
}

// PartitionOptions mirror the partition service's request parameters.
type PartitionOptions struct {
	Strategy            string
	Languages           []string
	SplitPDFPage        bool
	SplitPDFConcurrency int
	SplitPDFAllowFailed bool
}

type Partitioner interface {
	Partition(ctx context.Context, content []byte, filename string, opts PartitionOptions) ([]Element, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Index interface {
	EnsureCollection(ctx context.Context, workspace string) error
	UpsertPoint(ctx context.Context, workspace string, chunk Chunk) error
}

type ArtifactStore interface {
	Exists(workspace, filename string) bool
	Save(workspace, filename string, elements []Element) error
	Load(workspace, filename string) ([]Element, error)
}

type BlobStore interface {
	ReadFile(workspace, filename string) ([]byte, error)
}

type FileStatusUpdater interface {
	UpdateFileStatus(ctx context.Context, workspace, filename, status string) error
	MarkFileFailed(ctx context.Context, workspace, filename, stage, reason string) error
}
