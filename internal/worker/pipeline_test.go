package worker_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docvault/internal/worker"
)

var testOpts = worker.PartitionOptions{Strategy: "hi_res", Languages: []string{"eng"}}

func newTestPipeline(t *testing.T, partitioner worker.Partitioner, embedder worker.Embedder, index worker.Index, artifacts worker.ArtifactStore, blobs worker.BlobStore, files worker.FileStatusUpdater) *worker.Pipeline {
	t.Helper()
	p, err := worker.NewPipeline(partitioner, embedder, index, artifacts, blobs, files, testOpts, 4)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestPipeline_Run_Success(t *testing.T) {
	partitioner := new(MockPartitioner)
	embedder := new(MockEmbedder)
	index := &recordingIndex{}
	artifacts := newMemArtifacts()
	blobs := &memBlobs{files: map[string][]byte{"docs/report.pdf": []byte("pdf bytes")}}
	status := &statusRecorder{}

	elements := []worker.Element{
		{ElementID: "el-1", Text: "first paragraph"},
		{ElementID: "el-2", Text: "   "}, // no embeddable text
		{ElementID: "el-3", Text: "second paragraph"},
	}
	partitioner.On("Partition", mock.Anything, []byte("pdf bytes"), "report.pdf", testOpts).Return(elements, nil)
	embedder.On("Embed", mock.Anything, "first paragraph").Return([]float32{0.1}, nil)
	embedder.On("Embed", mock.Anything, "second paragraph").Return([]float32{0.2}, nil)

	p := newTestPipeline(t, partitioner, embedder, index, artifacts, blobs, status)

	err := p.Run(context.Background(), "docs", "report.pdf")
	require.NoError(t, err)

	// Empty element skipped, the rest indexed in document order.
	require.Len(t, index.points, 2)
	assert.Equal(t, "el-1", index.points[0].ElementID)
	assert.Equal(t, "el-3", index.points[1].ElementID)
	assert.Equal(t, "report.pdf", index.points[0].Filename)
	assert.Equal(t, []string{"docs"}, index.ensured)

	// Partition output persisted before embedding.
	assert.True(t, artifacts.Exists("docs", "report.pdf"))

	assert.Equal(t, []string{
		worker.StagePartitioning,
		worker.StageEmbedding,
		worker.StageIndexing,
		worker.StatusCompleted,
	}, status.statuses)
	assert.Empty(t, status.failures)

	partitioner.AssertExpectations(t)
	embedder.AssertExpectations(t)
}

func TestPipeline_Run_ReplaysFromArtifact(t *testing.T) {
	partitioner := new(MockPartitioner)
	embedder := new(MockEmbedder)
	index := &recordingIndex{}
	artifacts := newMemArtifacts()
	blobs := &memBlobs{files: map[string][]byte{}} // original upload gone
	status := &statusRecorder{}

	require.NoError(t, artifacts.Save("docs", "report.pdf", []worker.Element{
		{ElementID: "el-1", Text: "cached element"},
	}))
	embedder.On("Embed", mock.Anything, "cached element").Return([]float32{0.5}, nil)

	p := newTestPipeline(t, partitioner, embedder, index, artifacts, blobs, status)

	err := p.Run(context.Background(), "docs", "report.pdf")
	require.NoError(t, err)

	require.Len(t, index.points, 1)
	assert.Equal(t, "el-1", index.points[0].ElementID)

	// Retry never touches the partition service again.
	partitioner.AssertNotCalled(t, "Partition", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_Run_UnreadableInput(t *testing.T) {
	partitioner := new(MockPartitioner)
	embedder := new(MockEmbedder)
	index := &recordingIndex{}
	status := &statusRecorder{}
	blobs := &memBlobs{readErr: errors.New("no such file")}

	p := newTestPipeline(t, partitioner, embedder, index, newMemArtifacts(), blobs, status)

	err := p.Run(context.Background(), "docs", "missing.pdf")
	require.Error(t, err)

	var stageErr *worker.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, worker.StagePartitioning, stageErr.Stage)
	assert.ErrorIs(t, err, worker.ErrUnreadableInput)

	assert.Equal(t, []string{worker.StagePartitioning}, status.failures)
	assert.Empty(t, index.points)
	assert.Empty(t, index.ensured)
}

func TestPipeline_Run_PartitionServiceFailure(t *testing.T) {
	partitioner := new(MockPartitioner)
	index := &recordingIndex{}
	artifacts := newMemArtifacts()
	blobs := &memBlobs{files: map[string][]byte{"docs/broken.pdf": []byte("x")}}
	status := &statusRecorder{}

	partitioner.On("Partition", mock.Anything, mock.Anything, "broken.pdf", testOpts).
		Return(nil, errors.New("partition service error: 500"))

	p := newTestPipeline(t, partitioner, new(MockEmbedder), index, artifacts, blobs, status)

	err := p.Run(context.Background(), "docs", "broken.pdf")
	require.Error(t, err)

	var stageErr *worker.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, worker.StagePartitioning, stageErr.Stage)

	// Nothing persisted, nothing indexed.
	assert.False(t, artifacts.Exists("docs", "broken.pdf"))
	assert.Empty(t, index.points)
}

func TestPipeline_Run_EmbedFailureFailsWholeFile(t *testing.T) {
	partitioner := new(MockPartitioner)
	embedder := new(MockEmbedder)
	index := &recordingIndex{}
	artifacts := newMemArtifacts()
	blobs := &memBlobs{files: map[string][]byte{"docs/report.pdf": []byte("pdf")}}
	status := &statusRecorder{}

	elements := []worker.Element{
		{ElementID: "el-1", Text: "ok"},
		{ElementID: "el-2", Text: "bad"},
	}
	partitioner.On("Partition", mock.Anything, mock.Anything, "report.pdf", testOpts).Return(elements, nil)
	embedder.On("Embed", mock.Anything, "ok").Return([]float32{0.1}, nil).Maybe()
	embedder.On("Embed", mock.Anything, "bad").Return(nil, errors.New("embedding service error"))

	p := newTestPipeline(t, partitioner, embedder, index, artifacts, blobs, status)

	err := p.Run(context.Background(), "docs", "report.pdf")
	require.Error(t, err)

	var stageErr *worker.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, worker.StageEmbedding, stageErr.Stage)

	// No partial-document indexing.
	assert.Empty(t, index.points)
	assert.Equal(t, []string{worker.StageEmbedding}, status.failures)

	// The artifact survives the failure, so a retry replays partition output.
	assert.True(t, artifacts.Exists("docs", "report.pdf"))
}

func TestPipeline_Run_IndexFailure(t *testing.T) {
	partitioner := new(MockPartitioner)
	embedder := new(MockEmbedder)
	index := &recordingIndex{upsertErr: errors.New("index service error")}
	blobs := &memBlobs{files: map[string][]byte{"docs/report.pdf": []byte("pdf")}}
	status := &statusRecorder{}

	partitioner.On("Partition", mock.Anything, mock.Anything, "report.pdf", testOpts).
		Return([]worker.Element{{ElementID: "el-1", Text: "text"}}, nil)
	embedder.On("Embed", mock.Anything, "text").Return([]float32{0.1}, nil)

	p := newTestPipeline(t, partitioner, embedder, index, newMemArtifacts(), blobs, status)

	err := p.Run(context.Background(), "docs", "report.pdf")
	require.Error(t, err)

	var stageErr *worker.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, worker.StageIndexing, stageErr.Stage)
	assert.Equal(t, []string{worker.StageIndexing}, status.failures)
}

func TestPipeline_Run_OrderPreservedUnderConcurrency(t *testing.T) {
	partitioner := new(MockPartitioner)
	index := &recordingIndex{}
	blobs := &memBlobs{files: map[string][]byte{"docs/big.pdf": []byte("pdf")}}
	status := &statusRecorder{}

	const n = 32
	elements := make([]worker.Element, n)
	for i := range elements {
		elements[i] = worker.Element{ElementID: fmt.Sprintf("el-%d", i), Text: fmt.Sprintf("text %d", i)}
	}
	partitioner.On("Partition", mock.Anything, mock.Anything, "big.pdf", testOpts).Return(elements, nil)

	// Later elements finish first; indexed order must still be document order.
	embedder := &funcEmbedder{fn: func(ctx context.Context, text string) ([]float32, error) {
		var i int
		fmt.Sscanf(text, "text %d", &i)
		time.Sleep(time.Duration(n-i) * time.Millisecond)
		return []float32{float32(i)}, nil
	}}

	p := newTestPipeline(t, partitioner, embedder, index, newMemArtifacts(), blobs, status)

	err := p.Run(context.Background(), "docs", "big.pdf")
	require.NoError(t, err)

	require.Len(t, index.points, n)
	for i, chunk := range index.points {
		assert.Equal(t, fmt.Sprintf("el-%d", i), chunk.ElementID)
		assert.Equal(t, []float32{float32(i)}, chunk.Vector)
	}
}

func TestPipeline_Run_Reingest_SamePointIDs(t *testing.T) {
	partitioner := new(MockPartitioner)
	embedder := new(MockEmbedder)
	index := &recordingIndex{}
	blobs := &memBlobs{files: map[string][]byte{"docs/report.pdf": []byte("pdf")}}
	status := &statusRecorder{}

	elements := []worker.Element{{ElementID: "el-1", Text: "stable"}}
	partitioner.On("Partition", mock.Anything, mock.Anything, "report.pdf", testOpts).Return(elements, nil)
	embedder.On("Embed", mock.Anything, "stable").Return([]float32{0.1}, nil)

	p := newTestPipeline(t, partitioner, embedder, index, newMemArtifacts(), blobs, status)

	require.NoError(t, p.Run(context.Background(), "docs", "report.pdf"))
	require.NoError(t, p.Run(context.Background(), "docs", "report.pdf"))

	// Both runs upsert the same element id; dedup is the index's job.
	require.Len(t, index.points, 2)
	assert.Equal(t, index.points[0].ElementID, index.points[1].ElementID)
}
