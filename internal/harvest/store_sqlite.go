package harvest

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/address-harvest/pkg/overpass"
)

// SQLiteStore implements Store using modernc.org/sqlite, for local development
// and single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS harvest_jobs (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'processing',
	request      TEXT NOT NULL,
	progress     INTEGER NOT NULL DEFAULT 0,
	total_found  INTEGER NOT NULL DEFAULT 0,
	storage_tier TEXT NOT NULL DEFAULT 'batched',
	blob_key     TEXT,
	error        TEXT,
	created_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS harvest_batches (
	job_id       TEXT NOT NULL REFERENCES harvest_jobs(id) ON DELETE CASCADE,
	batch_number INTEGER NOT NULL,
	addresses    TEXT NOT NULL,
	count        INTEGER NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (job_id, batch_number)
);

CREATE INDEX IF NOT EXISTS idx_harvest_jobs_status ON harvest_jobs(status);
`

// Migrate implements Store.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// CreateJob implements Store.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
	reqJSON, err := json.Marshal(job.Request)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal request")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO harvest_jobs (id, mode, status, request, progress, total_found, storage_tier, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Mode), string(job.Status), string(reqJSON),
		job.Progress, job.TotalFound, string(job.StorageTier), job.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert job")
}

// GetJob implements Store.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	var (
		job         Job
		reqJSON     string
		blobKey     sql.NullString
		errMsg      sql.NullString
		completedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, mode, status, request, progress, total_found, storage_tier, blob_key, error, created_at, completed_at
		 FROM harvest_jobs WHERE id = ?`, id,
	).Scan(
		&job.ID, &job.Mode, &job.Status, &reqJSON, &job.Progress, &job.TotalFound,
		&job.StorageTier, &blobKey, &errMsg, &job.CreatedAt, &completedAt,
	)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, eris.Wrap(err, "sqlite: get job")
	}

	if err := json.Unmarshal([]byte(reqJSON), &job.Request); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal request")
	}
	job.BlobKey = blobKey.String
	job.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// UpdateProgress implements Store.
func (s *SQLiteStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE harvest_jobs SET progress = MAX(progress, ?) WHERE id = ? AND status = 'processing'`,
		progress, id,
	)
	return eris.Wrap(err, "sqlite: update progress")
}

// CompleteJob implements Store.
func (s *SQLiteStore) CompleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE harvest_jobs SET status = 'complete', progress = 100, completed_at = ?
		 WHERE id = ? AND status = 'processing'`,
		time.Now().UTC(), id,
	)
	return eris.Wrap(err, "sqlite: complete job")
}

// FailJob implements Store.
func (s *SQLiteStore) FailJob(ctx context.Context, id string, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE harvest_jobs SET status = 'failed', progress = 100, error = ?, completed_at = ?
		 WHERE id = ? AND status = 'processing'`,
		msg, time.Now().UTC(), id,
	)
	return eris.Wrap(err, "sqlite: fail job")
}

// PromoteToBlob implements Store.
func (s *SQLiteStore) PromoteToBlob(ctx context.Context, id string, blobKey string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE harvest_jobs SET storage_tier = 'blob', blob_key = ? WHERE id = ?`,
		blobKey, id,
	)
	return eris.Wrap(err, "sqlite: promote to blob")
}

// AppendBatch implements Store.
func (s *SQLiteStore) AppendBatch(ctx context.Context, id string, batchNumber int, addrs []overpass.Address) error {
	addrJSON, err := json.Marshal(addrs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal addresses")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append batch")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO harvest_batches (job_id, batch_number, addresses, count) VALUES (?, ?, ?, ?)`,
		id, batchNumber, string(addrJSON), len(addrs),
	); err != nil {
		return eris.Wrap(err, "sqlite: insert batch")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE harvest_jobs SET total_found = total_found + ? WHERE id = ?`,
		len(addrs), id,
	); err != nil {
		return eris.Wrap(err, "sqlite: bump total_found")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit append batch")
}

// GetBatch implements Store.
func (s *SQLiteStore) GetBatch(ctx context.Context, id string, batchNumber int) ([]overpass.Address, error) {
	var addrJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT addresses FROM harvest_batches WHERE job_id = ? AND batch_number = ?`,
		id, batchNumber,
	).Scan(&addrJSON)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, eris.Wrap(err, "sqlite: get batch")
	}

	var addrs []overpass.Address
	if err := json.Unmarshal([]byte(addrJSON), &addrs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal addresses")
	}
	return addrs, nil
}

// CountBatches implements Store.
func (s *SQLiteStore) CountBatches(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM harvest_batches WHERE job_id = ?`, id,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count batches")
	}
	return n, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
