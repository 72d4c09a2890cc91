package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sells-group/address-harvest/pkg/overpass"
)

// memStore is an in-memory Store for orchestrator, reader, and streamer tests.
// Individual operations can be made to fail via the err fields.
type memStore struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	batches map[string][][]overpass.Address

	getJobErr   error
	appendErr   error
	getBatchErr error
}

func newMemStore() *memStore {
	return &memStore{
		jobs:    make(map[string]*Job),
		batches: make(map[string][][]overpass.Address),
	}
}

func (m *memStore) CreateJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getJobErr != nil {
		return nil, m.getJobErr
	}
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memStore) UpdateProgress(_ context.Context, id string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != StatusProcessing {
		return nil
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	return nil
}

func (m *memStore) CompleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != StatusProcessing {
		return nil
	}
	now := time.Now().UTC()
	job.Status = StatusComplete
	job.Progress = 100
	job.CompletedAt = &now
	return nil
}

func (m *memStore) FailJob(_ context.Context, id string, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != StatusProcessing {
		return nil
	}
	now := time.Now().UTC()
	job.Status = StatusFailed
	job.Progress = 100
	job.Error = msg
	job.CompletedAt = &now
	return nil
}

func (m *memStore) PromoteToBlob(_ context.Context, id string, blobKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.StorageTier = TierBlob
	job.BlobKey = blobKey
	return nil
}

func (m *memStore) AppendBatch(_ context.Context, id string, batchNumber int, addrs []overpass.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if batchNumber != len(m.batches[id]) {
		return ErrBatchNotFound
	}
	m.batches[id] = append(m.batches[id], addrs)
	job.TotalFound += len(addrs)
	return nil
}

func (m *memStore) GetBatch(_ context.Context, id string, batchNumber int) ([]overpass.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getBatchErr != nil {
		return nil, m.getBatchErr
	}
	batches := m.batches[id]
	if batchNumber < 0 || batchNumber >= len(batches) {
		return nil, ErrBatchNotFound
	}
	return batches[batchNumber], nil
}

func (m *memStore) CountBatches(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches[id]), nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Ping(context.Context) error    { return nil }
func (m *memStore) Close() error                  { return nil }

// memBlob is an in-memory BlobStore with injectable write failures.
type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (b *memBlob) Key(jobID string) string { return "blob:" + jobID }

func (b *memBlob) Put(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return b.putErr
	}
	b.objects[key] = data
	return nil
}

func (b *memBlob) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return data, nil
}

// queryFunc adapts a function to overpass.Client.
type queryFunc func(ctx context.Context, f overpass.Filter) ([]overpass.Address, error)

func (fn queryFunc) Query(ctx context.Context, f overpass.Filter) ([]overpass.Address, error) {
	return fn(ctx, f)
}

// syncRunner runs submitted tasks inline so tests observe terminal job state
// as soon as CreateJob returns.
type syncRunner struct{}

func (syncRunner) Submit(_ string, fn func(ctx context.Context)) {
	fn(context.Background())
}

// fakeAddrs produces n distinct addresses with ids prefixed by pfx.
func fakeAddrs(pfx string, n int) []overpass.Address {
	addrs := make([]overpass.Address, n)
	for i := range addrs {
		addrs[i] = overpass.Address{
			ID:          fmt.Sprintf("%s/%d", pfx, i),
			Kind:        overpass.KindPoint,
			HouseNumber: "1",
			Lat:         32.7,
			Lon:         -96.8,
		}
	}
	return addrs
}
