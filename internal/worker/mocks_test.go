package worker_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"docvault/features/job"
	"docvault/internal/worker"
)

// Mocks

type MockPartitioner struct{ mock.Mock }

func (m *MockPartitioner) Partition(ctx context.Context, content []byte, filename string, opts worker.PartitionOptions) ([]worker.Element, error) {
	args := m.Called(ctx, content, filename, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]worker.Element), args.Error(1)
}

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}
func (m *MockJobRepo) List(ctx context.Context) ([]job.Job, error)          { return nil, nil }
func (m *MockJobRepo) Get(ctx context.Context, id string) (*job.Job, error) { return nil, nil }
func (m *MockJobRepo) Delete(ctx context.Context, id string) error          { return nil }
func (m *MockJobRepo) Count(ctx context.Context) (int, error)               { return 0, nil }

type MockRunner struct{ mock.Mock }

func (m *MockRunner) Run(ctx context.Context, workspace, filename string) error {
	args := m.Called(ctx, workspace, filename)
	return args.Error(0)
}

// Fakes. The recording index and in-memory stores keep ordering and
// persistence assertions simple where expectation-style mocks get
// noisy.

type funcEmbedder struct {
	fn func(ctx context.Context, text string) ([]float32, error)
}

func (f *funcEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.fn(ctx, text)
}

type recordingIndex struct {
	mu        sync.Mutex
	ensured   []string
	points    []worker.Chunk
	ensureErr error
	upsertErr error
}

func (r *recordingIndex) EnsureCollection(ctx context.Context, workspace string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ensureErr != nil {
		return r.ensureErr
	}
	r.ensured = append(r.ensured, workspace)
	return nil
}

func (r *recordingIndex) UpsertPoint(ctx context.Context, workspace string, chunk worker.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.points = append(r.points, chunk)
	return nil
}

type memArtifacts struct {
	mu      sync.Mutex
	data    map[string][]worker.Element
	saveErr error
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{data: make(map[string][]worker.Element)}
}

func (s *memArtifacts) key(workspace, filename string) string { return workspace + "/" + filename }

func (s *memArtifacts) Exists(workspace, filename string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[s.key(workspace, filename)]
	return ok
}

func (s *memArtifacts) Save(workspace, filename string, elements []worker.Element) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[s.key(workspace, filename)] = elements
	return nil
}

func (s *memArtifacts) Load(workspace, filename string) ([]worker.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[s.key(workspace, filename)], nil
}

type memBlobs struct {
	files   map[string][]byte
	readErr error
}

func (s *memBlobs) ReadFile(workspace, filename string) ([]byte, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	b, ok := s.files[workspace+"/"+filename]
	if !ok {
		return nil, worker.ErrUnreadableInput
	}
	return b, nil
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []string
	failures []string
}

func (s *statusRecorder) UpdateFileStatus(ctx context.Context, workspace, filename, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *statusRecorder) MarkFileFailed(ctx context.Context, workspace, filename, stage, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, stage)
	return nil
}
