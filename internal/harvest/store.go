package harvest

import (
	"context"

	"github.com/sells-group/address-harvest/pkg/overpass"
)

// Store defines the persistence interface for jobs and their result batches.
// Batches are append-only: batch numbers form a contiguous range from zero in
// production order, and a written batch is never modified or deleted.
type Store interface {
	// CreateJob inserts a new job row with status processing and progress 0.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by id. Returns ErrJobNotFound if unknown.
	GetJob(ctx context.Context, id string) (*Job, error)

	// UpdateProgress raises a processing job's progress. Values below the
	// stored progress are ignored so progress stays monotone.
	UpdateProgress(ctx context.Context, id string, progress int) error

	// CompleteJob marks a processing job complete with progress 100.
	// A job already in a terminal state is left untouched.
	CompleteJob(ctx context.Context, id string) error

	// FailJob marks a processing job failed with progress 100 and the given
	// error message. A job already in a terminal state is left untouched.
	FailJob(ctx context.Context, id string, msg string) error

	// PromoteToBlob records that the job's full result set was persisted to
	// the blob tier under the given key.
	PromoteToBlob(ctx context.Context, id string, blobKey string) error

	// AppendBatch writes the next result batch and adds its count to the
	// job's total_found, atomically.
	AppendBatch(ctx context.Context, id string, batchNumber int, addrs []overpass.Address) error

	// GetBatch returns the addresses of one batch. Returns ErrBatchNotFound
	// if the batch does not exist.
	GetBatch(ctx context.Context, id string, batchNumber int) ([]overpass.Address, error)

	// CountBatches returns the number of batches written for a job so far.
	CountBatches(ctx context.Context, id string) (int, error)

	// Migrate creates the job and batch tables if they do not exist.
	Migrate(ctx context.Context) error

	// Ping checks store liveness.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
