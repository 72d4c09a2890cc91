package harvest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/address-harvest/pkg/overpass"
)

func setupPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresStore(mock), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	store, mock := setupPostgresStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS harvest_jobs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob(t *testing.T) {
	store, mock := setupPostgresStore(t)

	job := &Job{
		ID:     "job1",
		Mode:   ModeRadius,
		Status: StatusProcessing,
		Request: SearchRequest{
			Mode:        ModeRadius,
			Center:      &overpass.Point{Lat: 32.7767, Lon: -96.797},
			RadiusMiles: 2,
		},
		StorageTier: TierBatched,
		CreatedAt:   time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO harvest_jobs").
		WithArgs(job.ID, job.Mode, job.Status, pgxmock.AnyArg(), 0, 0, job.StorageTier, job.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	store, mock := setupPostgresStore(t)

	created := time.Now().UTC().Truncate(time.Second)
	mock.ExpectQuery("SELECT id, mode, status, request").
		WithArgs("job1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "mode", "status", "request", "progress", "total_found",
			"storage_tier", "blob_key", "error", "created_at", "completed_at",
		}).AddRow(
			"job1", ModeZips, StatusProcessing, []byte(`{"mode":"zips","zips":["75201"]}`),
			40, 128, TierBatched, nil, nil, created, nil,
		))

	job, err := store.GetJob(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, "job1", job.ID)
	assert.Equal(t, ModeZips, job.Mode)
	assert.Equal(t, StatusProcessing, job.Status)
	assert.Equal(t, []string{"75201"}, job.Request.Zips)
	assert.Equal(t, 40, job.Progress)
	assert.Equal(t, 128, job.TotalFound)
	assert.Empty(t, job.BlobKey)
	assert.Empty(t, job.Error)
	assert.Nil(t, job.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_TerminalFields(t *testing.T) {
	store, mock := setupPostgresStore(t)

	created := time.Now().UTC().Add(-time.Minute)
	done := time.Now().UTC()
	blobKey := "harvest:results:job2"
	errMsg := "polygon area 140.0 sq mi exceeds the 100 sq mi limit"
	mock.ExpectQuery("SELECT id, mode, status, request").
		WithArgs("job2").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "mode", "status", "request", "progress", "total_found",
			"storage_tier", "blob_key", "error", "created_at", "completed_at",
		}).AddRow(
			"job2", ModePolygon, StatusFailed, []byte(`{"mode":"polygon"}`),
			100, 0, TierBlob, &blobKey, &errMsg, created, &done,
		))

	job, err := store.GetJob(context.Background(), "job2")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, TierBlob, job.StorageTier)
	assert.Equal(t, blobKey, job.BlobKey)
	assert.Equal(t, errMsg, job.Error)
	require.NotNil(t, job.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	store, mock := setupPostgresStore(t)

	mock.ExpectQuery("SELECT id, mode, status, request").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateProgress(t *testing.T) {
	store, mock := setupPostgresStore(t)

	mock.ExpectExec("UPDATE harvest_jobs SET progress = GREATEST").
		WithArgs("job1", 40).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateProgress(context.Background(), "job1", 40))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteJob(t *testing.T) {
	store, mock := setupPostgresStore(t)

	mock.ExpectExec("UPDATE harvest_jobs SET status = 'complete'").
		WithArgs("job1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.CompleteJob(context.Background(), "job1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailJob(t *testing.T) {
	store, mock := setupPostgresStore(t)

	mock.ExpectExec("UPDATE harvest_jobs SET status = 'failed'").
		WithArgs("job1", "overpass: timeout: HTTP 504", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.FailJob(context.Background(), "job1", "overpass: timeout: HTTP 504"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PromoteToBlob(t *testing.T) {
	store, mock := setupPostgresStore(t)

	mock.ExpectExec("UPDATE harvest_jobs SET storage_tier = 'blob'").
		WithArgs("job1", "harvest:results:job1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.PromoteToBlob(context.Background(), "job1", "harvest:results:job1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendBatch(t *testing.T) {
	store, mock := setupPostgresStore(t)

	addrs := []overpass.Address{
		{ID: "node/1", Kind: overpass.KindPoint, HouseNumber: "10", Lat: 32.7, Lon: -96.8},
		{ID: "node/2", Kind: overpass.KindPoint, HouseNumber: "12", Lat: 32.7, Lon: -96.8},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO harvest_batches").
		WithArgs("job1", 0, pgxmock.AnyArg(), 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE harvest_jobs SET total_found").
		WithArgs("job1", 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.AppendBatch(context.Background(), "job1", 0, addrs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendBatch_InsertFails(t *testing.T) {
	store, mock := setupPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO harvest_batches").
		WithArgs("job1", 0, pgxmock.AnyArg(), 1).
		WillReturnError(pgx.ErrTxClosed)
	mock.ExpectRollback()

	err := store.AppendBatch(context.Background(), "job1", 0, []overpass.Address{{ID: "node/1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert batch")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBatch(t *testing.T) {
	store, mock := setupPostgresStore(t)

	mock.ExpectQuery("SELECT addresses FROM harvest_batches").
		WithArgs("job1", 1).
		WillReturnRows(pgxmock.NewRows([]string{"addresses"}).
			AddRow([]byte(`[{"id":"node/1","kind":"point","house_number":"10","lat":32.7,"lon":-96.8}]`)))

	addrs, err := store.GetBatch(context.Background(), "job1", 1)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "node/1", addrs[0].ID)
	assert.Equal(t, "10", addrs[0].HouseNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBatch_NotFound(t *testing.T) {
	store, mock := setupPostgresStore(t)

	mock.ExpectQuery("SELECT addresses FROM harvest_batches").
		WithArgs("job1", 9).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetBatch(context.Background(), "job1", 9)
	require.ErrorIs(t, err, ErrBatchNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountBatches(t *testing.T) {
	store, mock := setupPostgresStore(t)

	mock.ExpectQuery("SELECT count").
		WithArgs("job1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.CountBatches(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
