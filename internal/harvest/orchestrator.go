package harvest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/address-harvest/internal/geo"
	"github.com/sells-group/address-harvest/pkg/overpass"
)

// TaskRunner detaches background work from the request that scheduled it. The
// submitted function must run to completion even though no client is waiting
// on the original connection.
type TaskRunner interface {
	Submit(name string, fn func(ctx context.Context))
}

// GoRunner runs tasks on goroutines with panic isolation, bounding the number
// of concurrently running tasks with a weighted semaphore. Submit never
// blocks the caller; a task waits for a slot on its own goroutine.
type GoRunner struct {
	sem *semaphore.Weighted
	log *zap.Logger
}

// NewGoRunner creates a GoRunner allowing up to maxConcurrent tasks at once.
func NewGoRunner(maxConcurrent int64) *GoRunner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &GoRunner{
		sem: semaphore.NewWeighted(maxConcurrent),
		log: zap.L().With(zap.String("component", "harvest.runner")),
	}
}

// Submit implements TaskRunner. Tasks get a background context: there is no
// mechanism to cancel a job once started, it always runs to terminal state.
func (r *GoRunner) Submit(name string, fn func(ctx context.Context)) {
	go func() {
		ctx := context.Background()
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer r.sem.Release(1)

		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("background task panicked",
					zap.String("task", name),
					zap.Any("panic", rec),
				)
			}
		}()

		fn(ctx)
	}()
}

// Thresholds holds the orchestrator's area and promotion limits.
type Thresholds struct {
	// ChunkAreaSqMi is the partition threshold: polygons above it are split
	// into grid chunks of at most this approximate area.
	ChunkAreaSqMi float64
	// MaxAreaSqMi is the hard ceiling: polygons above it fail immediately.
	MaxAreaSqMi float64
	// BlobThreshold is the result count at which a completed job's results
	// are additionally consolidated into the blob tier.
	BlobThreshold int
}

// DefaultThresholds returns the production limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ChunkAreaSqMi: 20,
		MaxAreaSqMi:   100,
		BlobThreshold: 50000,
	}
}

// Orchestrator creates jobs and executes their search strategy in the
// background, incrementally persisting result batches as they arrive.
type Orchestrator struct {
	store  Store
	blob   BlobStore
	client overpass.Client
	runner TaskRunner
	limits Thresholds
	log    *zap.Logger
}

// NewOrchestrator wires the orchestrator. blob may be a no-op store when the
// blob tier is disabled; promotion then simply falls back to batched.
func NewOrchestrator(store Store, blob BlobStore, client overpass.Client, runner TaskRunner, limits Thresholds) *Orchestrator {
	return &Orchestrator{
		store:  store,
		blob:   blob,
		client: client,
		runner: runner,
		limits: limits,
		log:    zap.L().With(zap.String("component", "harvest.orchestrator")),
	}
}

// CreateJob validates the request, inserts the job row, and schedules the
// background search without waiting for it. By the time CreateJob returns,
// the job id resolves to a row.
func (o *Orchestrator) CreateJob(ctx context.Context, req SearchRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job := &Job{
		ID:          NewJobID(),
		Mode:        req.Mode,
		Status:      StatusProcessing,
		Request:     req,
		StorageTier: TierBatched,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	o.runner.Submit("harvest:"+job.ID, func(taskCtx context.Context) {
		o.run(taskCtx, job.ID, req)
	})

	return job, nil
}

// run executes the search strategy for one job through to its terminal state.
// Errors never propagate out of here; they end up on the job row.
func (o *Orchestrator) run(ctx context.Context, jobID string, req SearchRequest) {
	log := o.log.With(zap.String("job_id", jobID), zap.String("mode", string(req.Mode)))
	start := time.Now()

	total, err := o.search(ctx, jobID, req, log)
	if err != nil {
		log.Warn("job failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		if failErr := o.store.FailJob(ctx, jobID, err.Error()); failErr != nil {
			log.Error("failed to record job failure", zap.Error(failErr))
		}
		return
	}

	o.maybePromote(ctx, jobID, total, log)

	if err := o.store.CompleteJob(ctx, jobID); err != nil {
		log.Error("failed to record job completion", zap.Error(err))
		return
	}
	log.Info("job complete",
		zap.Int("total_found", total),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// search runs the mode-specific strategy and returns the total address count.
func (o *Orchestrator) search(ctx context.Context, jobID string, req SearchRequest, log *zap.Logger) (int, error) {
	switch req.Mode {
	case ModeRadius:
		return o.searchOnce(ctx, jobID, overpass.Filter{
			Around: &overpass.AroundFilter{Center: *req.Center, RadiusMiles: req.RadiusMiles},
		})

	case ModeZips:
		return o.searchOnce(ctx, jobID, overpass.Filter{PostalCodes: req.Zips})

	case ModePolygon:
		return o.searchPolygon(ctx, jobID, req.Coordinates, log)

	default:
		return 0, eris.Errorf("unknown mode %q", req.Mode)
	}
}

// searchOnce issues a single query and writes its results as batch 0.
func (o *Orchestrator) searchOnce(ctx context.Context, jobID string, f overpass.Filter) (int, error) {
	addrs, err := o.client.Query(ctx, f)
	if err != nil {
		return 0, err
	}

	if err := o.store.UpdateProgress(ctx, jobID, 50); err != nil {
		return 0, err
	}

	if len(addrs) == 0 {
		return 0, nil
	}
	if err := o.store.AppendBatch(ctx, jobID, 0, addrs); err != nil {
		return 0, err
	}
	return len(addrs), nil
}

// searchPolygon applies the area checks and, when needed, the chunked grid
// strategy. A single chunk failure is logged and skipped so partial results
// still land; only whole-polygon errors fail the job.
func (o *Orchestrator) searchPolygon(ctx context.Context, jobID string, ring []overpass.Point, log *zap.Logger) (int, error) {
	area, err := geo.PolygonArea(ring)
	if err != nil {
		return 0, err
	}

	if area > o.limits.MaxAreaSqMi {
		return 0, eris.Errorf("polygon area %.1f sq mi exceeds the %.0f sq mi limit", area, o.limits.MaxAreaSqMi)
	}

	if area <= o.limits.ChunkAreaSqMi {
		return o.searchOnce(ctx, jobID, overpass.Filter{Polygon: ring})
	}

	box, err := geo.BoundsOf(ring)
	if err != nil {
		return 0, err
	}
	chunks := geo.Chunks(box, area, o.limits.ChunkAreaSqMi)
	log.Info("partitioning polygon",
		zap.Float64("area_sq_mi", area),
		zap.Int("chunks", len(chunks)),
	)

	total := 0
	batchNumber := 0
	for i, chunk := range chunks {
		addrs, err := o.client.Query(ctx, overpass.Filter{BBox: &chunk})
		if err != nil {
			// Chunk failures don't fail the job; the remaining chunks still
			// produce a usable partial result set.
			log.Warn("chunk query failed, skipping",
				zap.Int("chunk", i),
				zap.String("kind", overpass.KindOf(err).String()),
				zap.Error(err),
			)
		} else if len(addrs) > 0 {
			if err := o.store.AppendBatch(ctx, jobID, batchNumber, addrs); err != nil {
				return total, err
			}
			batchNumber++
			total += len(addrs)
		}

		progress := 10 + (85*(i+1))/len(chunks)
		if err := o.store.UpdateProgress(ctx, jobID, progress); err != nil {
			return total, err
		}
	}

	return total, nil
}

// maybePromote consolidates the full deduplicated result set into the blob
// tier once it crosses the threshold. A blob write failure is non-fatal: the
// already-written batches remain the source of truth.
func (o *Orchestrator) maybePromote(ctx context.Context, jobID string, total int, log *zap.Logger) {
	if total < o.limits.BlobThreshold {
		return
	}

	addrs, err := o.collectAll(ctx, jobID)
	if err != nil {
		log.Warn("blob promotion aborted, keeping batched tier", zap.Error(err))
		return
	}

	data, err := json.Marshal(addrs)
	if err != nil {
		log.Warn("blob promotion aborted, keeping batched tier", zap.Error(err))
		return
	}

	key := o.blob.Key(jobID)
	if err := o.blob.Put(ctx, key, data); err != nil {
		log.Warn("blob write failed, keeping batched tier", zap.Error(err))
		return
	}

	if err := o.store.PromoteToBlob(ctx, jobID, key); err != nil {
		log.Warn("blob promotion not recorded, keeping batched tier", zap.Error(err))
		return
	}
	log.Info("promoted results to blob tier",
		zap.String("blob_key", key),
		zap.Int("addresses", len(addrs)),
	)
}

// collectAll reads every batch back and deduplicates by address id,
// preserving first-seen order. Adjoining chunks of one polygon can return the
// same element twice; the consolidated object drops those repeats.
func (o *Orchestrator) collectAll(ctx context.Context, jobID string) ([]overpass.Address, error) {
	count, err := o.store.CountBatches(ctx, jobID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var all []overpass.Address
	for i := 0; i < count; i++ {
		addrs, err := o.store.GetBatch(ctx, jobID, i)
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			if seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			all = append(all, a)
		}
	}
	return all, nil
}
