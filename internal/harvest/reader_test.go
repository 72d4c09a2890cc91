package harvest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/address-harvest/pkg/overpass"
)

func seedBatchedJob(t *testing.T, store *memStore, batches ...[]overpass.Address) *Job {
	t.Helper()
	ctx := context.Background()
	job := &Job{
		ID:          NewJobID(),
		Mode:        ModeZips,
		Status:      StatusProcessing,
		Request:     SearchRequest{Mode: ModeZips, Zips: []string{"75201"}},
		StorageTier: TierBatched,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.CreateJob(ctx, job))
	for i, b := range batches {
		require.NoError(t, store.AppendBatch(ctx, job.ID, i, b))
	}
	require.NoError(t, store.CompleteJob(ctx, job.ID))
	return job
}

func seedBlobJob(t *testing.T, store *memStore, blob *memBlob, addrs []overpass.Address) *Job {
	t.Helper()
	job := seedBatchedJob(t, store, addrs)

	data, err := json.Marshal(addrs)
	require.NoError(t, err)
	key := blob.Key(job.ID)
	require.NoError(t, blob.Put(context.Background(), key, data))
	require.NoError(t, store.PromoteToBlob(context.Background(), job.ID, key))
	return job
}

// collectPages paginates a job to exhaustion and returns all results plus the
// number of pages it took.
func collectPages(t *testing.T, r *Reader, jobID string, limit int) ([]overpass.Address, int) {
	t.Helper()
	var all []overpass.Address
	cursor := ""
	pages := 0
	for {
		page, err := r.GetResults(context.Background(), jobID, cursor, limit)
		require.NoError(t, err)
		pages++
		all = append(all, page.Results...)
		if page.NextCursor == nil {
			return all, pages
		}
		cursor = *page.NextCursor
	}
}

func TestReader_JobNotFound(t *testing.T) {
	r := NewReader(newMemStore(), newMemBlob(), 100, 500)
	_, err := r.GetResults(context.Background(), "missing", "", 0)
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestReader_InvalidCursor(t *testing.T) {
	store := newMemStore()
	job := seedBatchedJob(t, store, fakeAddrs("node", 3))

	r := NewReader(store, newMemBlob(), 100, 500)
	_, err := r.GetResults(context.Background(), job.ID, "!!bogus!!", 0)
	require.ErrorIs(t, err, ErrInvalidCursor)
}

func TestReader_Batched_SinglePage(t *testing.T) {
	store := newMemStore()
	job := seedBatchedJob(t, store, fakeAddrs("node", 5))

	r := NewReader(store, newMemBlob(), 100, 500)
	page, err := r.GetResults(context.Background(), job.ID, "", 0)
	require.NoError(t, err)

	assert.Equal(t, job.ID, page.JobID)
	assert.Equal(t, StatusComplete, page.Status)
	assert.Equal(t, 100, page.Progress)
	assert.Equal(t, 5, page.TotalFound)
	assert.Len(t, page.Results, 5)
	assert.Nil(t, page.NextCursor)
}

func TestReader_Batched_WalksAcrossBatchBoundaries(t *testing.T) {
	store := newMemStore()
	job := seedBatchedJob(t, store,
		fakeAddrs("b0", 3),
		fakeAddrs("b1", 3),
		fakeAddrs("b2", 2),
	)

	r := NewReader(store, newMemBlob(), 100, 500)

	// Page size 4 straddles the first batch boundary.
	page, err := r.GetResults(context.Background(), job.ID, "", 4)
	require.NoError(t, err)
	require.Len(t, page.Results, 4)
	assert.Equal(t, "b0/0", page.Results[0].ID)
	assert.Equal(t, "b1/0", page.Results[3].ID)
	require.NotNil(t, page.NextCursor)

	page, err = r.GetResults(context.Background(), job.ID, *page.NextCursor, 4)
	require.NoError(t, err)
	require.Len(t, page.Results, 4)
	assert.Equal(t, "b1/1", page.Results[0].ID)
	assert.Equal(t, "b2/1", page.Results[3].ID)
	assert.Nil(t, page.NextCursor)
}

func TestReader_Batched_NoGapsNoRepeats(t *testing.T) {
	store := newMemStore()
	job := seedBatchedJob(t, store,
		fakeAddrs("b0", 7),
		fakeAddrs("b1", 1),
		fakeAddrs("b2", 5),
	)

	r := NewReader(store, newMemBlob(), 100, 500)
	all, pages := collectPages(t, r, job.ID, 3)

	require.Len(t, all, 13)
	assert.GreaterOrEqual(t, pages, 5)

	seen := make(map[string]bool, len(all))
	for _, a := range all {
		assert.False(t, seen[a.ID], "repeated %s", a.ID)
		seen[a.ID] = true
	}
}

func TestReader_Batched_ExactPageEnd(t *testing.T) {
	store := newMemStore()
	job := seedBatchedJob(t, store, fakeAddrs("b0", 4), fakeAddrs("b1", 4))

	r := NewReader(store, newMemBlob(), 100, 500)

	// The page ends exactly on the last element: no next cursor.
	page, err := r.GetResults(context.Background(), job.ID, "", 8)
	require.NoError(t, err)
	assert.Len(t, page.Results, 8)
	assert.Nil(t, page.NextCursor)
}

func TestReader_ProcessingJob_EmptyPage(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	job := &Job{
		ID:          NewJobID(),
		Mode:        ModeRadius,
		Status:      StatusProcessing,
		StorageTier: TierBatched,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.CreateJob(ctx, job))
	require.NoError(t, store.UpdateProgress(ctx, job.ID, 40))

	r := NewReader(store, newMemBlob(), 100, 500)
	page, err := r.GetResults(ctx, job.ID, "", 0)
	require.NoError(t, err)

	// A nil cursor on a processing job means "no more yet", not "done".
	assert.Equal(t, StatusProcessing, page.Status)
	assert.Equal(t, 40, page.Progress)
	assert.NotNil(t, page.Results)
	assert.Empty(t, page.Results)
	assert.Nil(t, page.NextCursor)
}

func TestReader_LimitClamping(t *testing.T) {
	store := newMemStore()
	job := seedBatchedJob(t, store, fakeAddrs("b0", 20))

	r := NewReader(store, newMemBlob(), 5, 10)

	// Zero limit falls back to the default.
	page, err := r.GetResults(context.Background(), job.ID, "", 0)
	require.NoError(t, err)
	assert.Len(t, page.Results, 5)

	// Oversized limits clamp to the maximum.
	page, err = r.GetResults(context.Background(), job.ID, "", 9999)
	require.NoError(t, err)
	assert.Len(t, page.Results, 10)
}

func TestReader_Blob_Paginates(t *testing.T) {
	store := newMemStore()
	blob := newMemBlob()
	job := seedBlobJob(t, store, blob, fakeAddrs("node", 10))

	r := NewReader(store, blob, 100, 500)
	all, pages := collectPages(t, r, job.ID, 4)

	assert.Len(t, all, 10)
	assert.Equal(t, 3, pages)
	assert.Equal(t, "node/0", all[0].ID)
	assert.Equal(t, "node/9", all[9].ID)
}

func TestReader_Blob_OffsetPastEnd(t *testing.T) {
	store := newMemStore()
	blob := newMemBlob()
	job := seedBlobJob(t, store, blob, fakeAddrs("node", 3))

	r := NewReader(store, blob, 100, 500)
	token := Cursor{Tier: TierBlob, Offset: 50}.Encode()
	page, err := r.GetResults(context.Background(), job.ID, token, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Results)
	assert.Nil(t, page.NextCursor)
}

func TestReader_StaleBatchedCursorAfterPromotion(t *testing.T) {
	store := newMemStore()
	blob := newMemBlob()
	job := seedBlobJob(t, store, blob, fakeAddrs("node", 6))

	// A cursor minted before promotion still pages the batch rows.
	r := NewReader(store, blob, 100, 500)
	token := Cursor{Tier: TierBatched, Batch: 0, Offset: 2}.Encode()
	page, err := r.GetResults(context.Background(), job.ID, token, 0)
	require.NoError(t, err)
	require.Len(t, page.Results, 4)
	assert.Equal(t, "node/2", page.Results[0].ID)
}

func TestReader_MissingBlobFallsBackToBatches(t *testing.T) {
	store := newMemStore()
	blob := newMemBlob()
	job := seedBatchedJob(t, store, fakeAddrs("node", 5))

	// Promoted on the job row, but the object was never written.
	require.NoError(t, store.PromoteToBlob(context.Background(), job.ID, blob.Key(job.ID)))

	r := NewReader(store, blob, 100, 500)
	page, err := r.GetResults(context.Background(), job.ID, "", 0)
	require.NoError(t, err)
	assert.Len(t, page.Results, 5)
}

func TestResultPage_JSONShape(t *testing.T) {
	page := ResultPage{
		JobID:      "j1",
		Status:     StatusComplete,
		Progress:   100,
		TotalFound: 1,
		Results:    fakeAddrs("node", 1),
	}
	data, err := json.Marshal(page)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Contains(t, m, "jobId")
	assert.Contains(t, m, "totalFound")
	assert.Contains(t, m, "nextCursor")
	assert.Nil(t, m["nextCursor"])
	assert.NotContains(t, m, "error")
}
