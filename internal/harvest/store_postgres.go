package harvest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/address-harvest/internal/db"
	"github.com/sells-group/address-harvest/pkg/overpass"
)

// PostgresStore implements Store using a pgx connection pool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a PostgresStore on an existing pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS harvest_jobs (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'processing',
	request      JSONB NOT NULL,
	progress     INT NOT NULL DEFAULT 0,
	total_found  INT NOT NULL DEFAULT 0,
	storage_tier TEXT NOT NULL DEFAULT 'batched',
	blob_key     TEXT,
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS harvest_batches (
	job_id       TEXT NOT NULL REFERENCES harvest_jobs(id) ON DELETE CASCADE,
	batch_number INT NOT NULL,
	addresses    JSONB NOT NULL,
	count        INT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (job_id, batch_number)
);

CREATE INDEX IF NOT EXISTS idx_harvest_jobs_status ON harvest_jobs(status);
`

// Migrate implements Store.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// CreateJob implements Store.
func (s *PostgresStore) CreateJob(ctx context.Context, job *Job) error {
	reqJSON, err := json.Marshal(job.Request)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal request")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO harvest_jobs (id, mode, status, request, progress, total_found, storage_tier, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.Mode, job.Status, reqJSON, job.Progress, job.TotalFound, job.StorageTier, job.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert job")
}

// GetJob implements Store.
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*Job, error) {
	var (
		job     Job
		reqJSON []byte
		blobKey *string
		errMsg  *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, mode, status, request, progress, total_found, storage_tier, blob_key, error, created_at, completed_at
		 FROM harvest_jobs WHERE id = $1`, id,
	).Scan(
		&job.ID, &job.Mode, &job.Status, &reqJSON, &job.Progress, &job.TotalFound,
		&job.StorageTier, &blobKey, &errMsg, &job.CreatedAt, &job.CompletedAt,
	)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, eris.Wrap(err, "postgres: get job")
	}

	if err := json.Unmarshal(reqJSON, &job.Request); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal request")
	}
	if blobKey != nil {
		job.BlobKey = *blobKey
	}
	if errMsg != nil {
		job.Error = *errMsg
	}
	return &job, nil
}

// UpdateProgress implements Store. The GREATEST guard keeps progress monotone
// even if updates land out of order.
func (s *PostgresStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE harvest_jobs SET progress = GREATEST(progress, $2)
		 WHERE id = $1 AND status = 'processing'`,
		id, progress,
	)
	return eris.Wrap(err, "postgres: update progress")
}

// CompleteJob implements Store.
func (s *PostgresStore) CompleteJob(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE harvest_jobs SET status = 'complete', progress = 100, completed_at = $2
		 WHERE id = $1 AND status = 'processing'`,
		id, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: complete job")
}

// FailJob implements Store.
func (s *PostgresStore) FailJob(ctx context.Context, id string, msg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE harvest_jobs SET status = 'failed', progress = 100, error = $2, completed_at = $3
		 WHERE id = $1 AND status = 'processing'`,
		id, msg, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: fail job")
}

// PromoteToBlob implements Store.
func (s *PostgresStore) PromoteToBlob(ctx context.Context, id string, blobKey string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE harvest_jobs SET storage_tier = 'blob', blob_key = $2 WHERE id = $1`,
		id, blobKey,
	)
	return eris.Wrap(err, "postgres: promote to blob")
}

// AppendBatch implements Store. The batch insert and the total_found bump
// happen in one transaction so readers never see one without the other.
func (s *PostgresStore) AppendBatch(ctx context.Context, id string, batchNumber int, addrs []overpass.Address) error {
	addrJSON, err := json.Marshal(addrs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal addresses")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin append batch")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO harvest_batches (job_id, batch_number, addresses, count) VALUES ($1, $2, $3, $4)`,
		id, batchNumber, addrJSON, len(addrs),
	); err != nil {
		return eris.Wrap(err, "postgres: insert batch")
	}

	if _, err := tx.Exec(ctx,
		`UPDATE harvest_jobs SET total_found = total_found + $2 WHERE id = $1`,
		id, len(addrs),
	); err != nil {
		return eris.Wrap(err, "postgres: bump total_found")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit append batch")
}

// GetBatch implements Store.
func (s *PostgresStore) GetBatch(ctx context.Context, id string, batchNumber int) ([]overpass.Address, error) {
	var addrJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT addresses FROM harvest_batches WHERE job_id = $1 AND batch_number = $2`,
		id, batchNumber,
	).Scan(&addrJSON)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, eris.Wrap(err, "postgres: get batch")
	}

	var addrs []overpass.Address
	if err := json.Unmarshal(addrJSON, &addrs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal addresses")
	}
	return addrs, nil
}

// CountBatches implements Store.
func (s *PostgresStore) CountBatches(ctx context.Context, id string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM harvest_batches WHERE job_id = $1`, id,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count batches")
	}
	return n, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
