package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// File ingestion states, recorded on the file's metadata row.
const (
	StatusUploaded  = "uploaded"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	StagePartitioning = "partitioning"
	StageEmbedding    = "embedding"
	StageIndexing     = "indexing"
)

// Pipeline carries one uploaded file through partition -> embed ->
// index. Stages run strictly in sequence; only the embedding of a
// single file's elements fans out over the pool, and results keep
// document order.
type Pipeline struct {
	partitioner   Partitioner
	embedder      Embedder
	index         Index
	artifacts     ArtifactStore
	blobs         BlobStore
	files         FileStatusUpdater
	partitionOpts PartitionOptions
	pool          *ants.Pool

	// Collection creation for a workspace is serialized so two
	// first-files racing on a new workspace cannot both hit create.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewPipeline(
	partitioner Partitioner,
	embedder Embedder,
	index Index,
	artifacts ArtifactStore,
	blobs BlobStore,
	files FileStatusUpdater,
	partitionOpts PartitionOptions,
	embedConcurrency int,
) (*Pipeline, error) {
	if embedConcurrency < 1 {
		embedConcurrency = 1
	}
	pool, err := ants.NewPool(embedConcurrency)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		partitioner:   partitioner,
		embedder:      embedder,
		index:         index,
		artifacts:     artifacts,
		blobs:         blobs,
		files:         files,
		partitionOpts: partitionOpts,
		pool:          pool,
		locks:         make(map[string]*sync.Mutex),
	}, nil
}

func (p *Pipeline) Close() {
	p.pool.Release()
}

// Run executes the full ingestion for one file. On failure the file's
// row records the stage and reason, and the returned error is a
// *StageError wrapping the cause.
func (p *Pipeline) Run(ctx context.Context, workspace, filename string) error {
	elements, err := p.partitionStage(ctx, workspace, filename)
	if err != nil {
		return p.fail(ctx, workspace, filename, StagePartitioning, err)
	}

	chunks, err := p.embedStage(ctx, workspace, filename, elements)
	if err != nil {
		return p.fail(ctx, workspace, filename, StageEmbedding, err)
	}

	if err := p.indexStage(ctx, workspace, filename, chunks); err != nil {
		return p.fail(ctx, workspace, filename, StageIndexing, err)
	}

	if err := p.files.UpdateFileStatus(ctx, workspace, filename, StatusCompleted); err != nil {
		slog.WarnContext(ctx, "failed to mark file completed", "workspace", workspace, "filename", filename, "error", err)
	}

	slog.InfoContext(ctx, "ingestion completed", "workspace", workspace, "filename", filename, "points", len(chunks))
	return nil
}

// partitionStage resolves the element list, preferring the persisted
// artifact over a fresh partition call so retries skip the most
// expensive stage.
func (p *Pipeline) partitionStage(ctx context.Context, workspace, filename string) ([]Element, error) {
	if err := p.files.UpdateFileStatus(ctx, workspace, filename, StagePartitioning); err != nil {
		slog.WarnContext(ctx, "failed to update file status", "status", StagePartitioning, "error", err)
	}

	if p.artifacts.Exists(workspace, filename) {
		elements, err := p.artifacts.Load(workspace, filename)
		if err == nil {
			slog.InfoContext(ctx, "replaying from partition artifact", "workspace", workspace, "filename", filename, "elements", len(elements))
			return elements, nil
		}
		slog.WarnContext(ctx, "partition artifact unreadable, re-partitioning", "workspace", workspace, "filename", filename, "error", err)
	}

	content, err := p.blobs.ReadFile(workspace, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableInput, err)
	}

	elements, err := p.partitioner.Partition(ctx, content, filename, p.partitionOpts)
	if err != nil {
		return nil, err
	}

	// Persisted before embedding: the artifact is what makes the rest
	// of the pipeline replayable.
	if err := p.artifacts.Save(workspace, filename, elements); err != nil {
		return nil, fmt.Errorf("persist partition artifact: %w", err)
	}

	return elements, nil
}

// embedStage attaches a vector to every non-empty element. Elements
// embed concurrently over the pool but land at their original index,
// so chunk order equals document order. One failed embedding fails the
// whole file; there is no partial-document indexing.
func (p *Pipeline) embedStage(ctx context.Context, workspace, filename string, elements []Element) ([]Chunk, error) {
	if err := p.files.UpdateFileStatus(ctx, workspace, filename, StageEmbedding); err != nil {
		slog.WarnContext(ctx, "failed to update file status", "status", StageEmbedding, "error", err)
	}

	kept := make([]Element, 0, len(elements))
	for _, el := range elements {
		if strings.TrimSpace(el.Text) == "" {
			slog.DebugContext(ctx, "skipping empty element", "workspace", workspace, "filename", filename, "element_id", el.ElementID)
			continue
		}
		kept = append(kept, el)
	}

	embedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	vectors := make([][]float32, len(kept))

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error

	record := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		errMu.Unlock()
	}

	for i := range kept {
		i := i
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if embedCtx.Err() != nil {
				return
			}
			vec, err := p.embedder.Embed(embedCtx, kept[i].Text)
			if err != nil {
				record(err)
				return
			}
			vectors[i] = vec
		}
		if err := p.pool.Submit(task); err != nil {
			wg.Done()
			record(err)
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunks := make([]Chunk, len(kept))
	for i, el := range kept {
		name := el.Filename()
		if name == "" {
			name = filename
		}
		chunks[i] = Chunk{
			ElementID: el.ElementID,
			Text:      el.Text,
			Filename:  name,
			Vector:    vectors[i],
		}
	}
	return chunks, nil
}

// indexStage ensures the workspace collection and upserts every chunk
// in document order. Upserts are keyed by element id, so a re-run
// overwrites the same points instead of duplicating them.
func (p *Pipeline) indexStage(ctx context.Context, workspace, filename string, chunks []Chunk) error {
	if err := p.files.UpdateFileStatus(ctx, workspace, filename, StageIndexing); err != nil {
		slog.WarnContext(ctx, "failed to update file status", "status", StageIndexing, "error", err)
	}

	lock := p.workspaceLock(workspace)
	lock.Lock()
	err := p.index.EnsureCollection(ctx, workspace)
	lock.Unlock()
	if err != nil {
		return err
	}

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.index.UpsertPoint(ctx, workspace, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) workspaceLock(workspace string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[workspace]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[workspace] = lock
	}
	return lock
}

func (p *Pipeline) fail(ctx context.Context, workspace, filename, stage string, cause error) error {
	slog.ErrorContext(ctx, "ingestion failed", "workspace", workspace, "filename", filename, "stage", stage, "error", cause)
	if err := p.files.MarkFileFailed(ctx, workspace, filename, stage, cause.Error()); err != nil {
		slog.WarnContext(ctx, "failed to record file failure", "workspace", workspace, "filename", filename, "error", err)
	}
	return &StageError{Stage: stage, Err: cause}
}
