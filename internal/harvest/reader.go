package harvest

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/address-harvest/pkg/overpass"
)

// ResultPage is one page of results plus the job metadata a poller needs to
// decide whether more results are forthcoming. NextCursor is nil at the end
// of currently-known results, which for a processing job is not the end of
// all eventual results; callers should check Status, not just cursor nullity.
type ResultPage struct {
	JobID      string             `json:"jobId"`
	Status     JobStatus          `json:"status"`
	Progress   int                `json:"progress"`
	TotalFound int                `json:"totalFound"`
	Results    []overpass.Address `json:"results"`
	NextCursor *string            `json:"nextCursor"`
	Error      string             `json:"error,omitempty"`
}

// Reader serves paginated result pages, transparently bridging the batched
// and blob storage tiers behind one cursor contract.
type Reader struct {
	store        Store
	blob         BlobStore
	defaultLimit int
	maxLimit     int
	log          *zap.Logger
}

// NewReader creates a Reader with the given page size bounds.
func NewReader(store Store, blob BlobStore, defaultLimit, maxLimit int) *Reader {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	if maxLimit <= 0 {
		maxLimit = 500
	}
	return &Reader{
		store:        store,
		blob:         blob,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		log:          zap.L().With(zap.String("component", "harvest.reader")),
	}
}

// GetResults returns one page of a job's results starting at cursor.
func (r *Reader) GetResults(ctx context.Context, jobID, cursorToken string, limit int) (*ResultPage, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = r.defaultLimit
	}
	if limit > r.maxLimit {
		limit = r.maxLimit
	}

	cur, err := DecodeCursor(cursorToken, job.StorageTier)
	if err != nil {
		return nil, err
	}

	page := &ResultPage{
		JobID:      job.ID,
		Status:     job.Status,
		Progress:   job.Progress,
		TotalFound: job.TotalFound,
		Results:    []overpass.Address{},
		Error:      job.Error,
	}

	if cur.Tier == TierBlob && job.StorageTier == TierBlob {
		if err := r.readBlob(ctx, job, cur, limit, page); err == nil {
			return page, nil
		} else if !eris.Is(err, ErrBlobNotFound) {
			return nil, err
		}
		// Blob missing despite the tier flag: batches remain the source of
		// truth, so fall through to the batched walk from the start.
		r.log.Warn("blob missing for promoted job, serving batched tier",
			zap.String("job_id", job.ID), zap.String("blob_key", job.BlobKey))
		cur = Cursor{Tier: TierBatched}
	}

	if err := r.readBatched(ctx, job.ID, cur, limit, page); err != nil {
		return nil, err
	}
	return page, nil
}

// readBatched fills the page from consecutive batch rows, walking across
// batch boundaries until the page is full or known batches run out.
func (r *Reader) readBatched(ctx context.Context, jobID string, cur Cursor, limit int, page *ResultPage) error {
	batchCount, err := r.store.CountBatches(ctx, jobID)
	if err != nil {
		return err
	}

	batch, offset := cur.Batch, cur.Offset
	for len(page.Results) < limit && batch < batchCount {
		addrs, err := r.store.GetBatch(ctx, jobID, batch)
		if err != nil {
			if eris.Is(err, ErrBatchNotFound) {
				break
			}
			return err
		}

		if offset < len(addrs) {
			take := limit - len(page.Results)
			if rest := len(addrs) - offset; take > rest {
				take = rest
			}
			page.Results = append(page.Results, addrs[offset:offset+take]...)
			offset += take
		}
		if offset >= len(addrs) {
			batch++
			offset = 0
		}
	}

	if batch < batchCount {
		next := Cursor{Tier: TierBatched, Batch: batch, Offset: offset}.Encode()
		page.NextCursor = &next
	}
	return nil
}

// readBlob fills the page by slicing the consolidated blob object.
func (r *Reader) readBlob(ctx context.Context, job *Job, cur Cursor, limit int, page *ResultPage) error {
	data, err := r.blob.Get(ctx, job.BlobKey)
	if err != nil {
		return err
	}

	var addrs []overpass.Address
	if err := json.Unmarshal(data, &addrs); err != nil {
		return eris.Wrap(err, "harvest: unmarshal blob")
	}

	if cur.Offset >= len(addrs) {
		return nil
	}

	end := cur.Offset + limit
	if end > len(addrs) {
		end = len(addrs)
	}
	page.Results = append(page.Results, addrs[cur.Offset:end]...)

	if end < len(addrs) {
		next := Cursor{Tier: TierBlob, Offset: end}.Encode()
		page.NextCursor = &next
	}
	return nil
}
