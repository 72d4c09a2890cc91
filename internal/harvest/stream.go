package harvest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/address-harvest/pkg/overpass"
)

// Event names emitted on the stream, always in the order
// progress* (batch* complete | error).
const (
	EventProgress = "progress"
	EventBatch    = "batch"
	EventComplete = "complete"
	EventError    = "error"
)

// ProgressEvent reports a progress change on an active job.
type ProgressEvent struct {
	Progress   int `json:"progress"`
	TotalFound int `json:"totalFound"`
}

// BatchEvent carries one fixed-size slice of a completed job's results.
type BatchEvent struct {
	Batch   int                `json:"batch"`
	Results []overpass.Address `json:"results"`
}

// CompleteEvent terminates a successful stream.
type CompleteEvent struct {
	TotalFound int   `json:"totalFound"`
	DurationMs int64 `json:"durationMs"`
}

// ErrorEvent terminates a failed stream.
type ErrorEvent struct {
	Error string `json:"error"`
}

// SendFunc delivers one named event to the client. A send error means the
// client is gone and the stream should stop.
type SendFunc func(event string, payload any) error

// Streamer serves job progress as a server-push event sequence built on
// repeated polling of the job store. It is a pure reader: concurrent streams
// over the same job are safe.
type Streamer struct {
	store        Store
	reader       *Reader
	pollInterval time.Duration
	maxPolls     int
	batchSize    int
	log          *zap.Logger
}

// NewStreamer creates a Streamer. maxPolls bounds the stream's wall-clock
// budget at roughly maxPolls * pollInterval.
func NewStreamer(store Store, reader *Reader, pollInterval time.Duration, maxPolls, batchSize int) *Streamer {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if maxPolls <= 0 {
		maxPolls = 120
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Streamer{
		store:        store,
		reader:       reader,
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
		batchSize:    batchSize,
		log:          zap.L().With(zap.String("component", "harvest.streamer")),
	}
}

// Stream polls the job until it terminates or the budget runs out, forwarding
// state changes through send. It returns when the event sequence is finished
// or the context is canceled (client disconnect).
func (s *Streamer) Stream(ctx context.Context, jobID string, send SendFunc) error {
	log := s.log.With(zap.String("job_id", jobID))
	start := time.Now()
	lastProgress := -1

	for i := 0; i < s.maxPolls; i++ {
		job, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			if eris.Is(err, ErrJobNotFound) {
				// The job can be deleted out from under an open stream.
				return send(EventError, ErrorEvent{Error: "job not found"})
			}
			log.Error("stream poll failed", zap.Error(err))
			return send(EventError, ErrorEvent{Error: "internal error reading job state"})
		}

		if job.Progress != lastProgress {
			lastProgress = job.Progress
			if err := send(EventProgress, ProgressEvent{Progress: job.Progress, TotalFound: job.TotalFound}); err != nil {
				return err
			}
		}

		switch job.Status {
		case StatusFailed:
			return send(EventError, ErrorEvent{Error: job.Error})

		case StatusComplete:
			if err := s.flushResults(ctx, jobID, send); err != nil {
				return err
			}
			return send(EventComplete, CompleteEvent{
				TotalFound: job.TotalFound,
				DurationMs: time.Since(start).Milliseconds(),
			})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}

	return send(EventError, ErrorEvent{Error: "stream timed out before job completion"})
}

// flushResults paginates the full result set through the reader, emitting one
// batch event per page.
func (s *Streamer) flushResults(ctx context.Context, jobID string, send SendFunc) error {
	cursor := ""
	for i := 0; ; i++ {
		page, err := s.reader.GetResults(ctx, jobID, cursor, s.batchSize)
		if err != nil {
			return send(EventError, ErrorEvent{Error: "failed to read results"})
		}

		if len(page.Results) > 0 {
			if err := send(EventBatch, BatchEvent{Batch: i, Results: page.Results}); err != nil {
				return err
			}
		}

		if page.NextCursor == nil {
			return nil
		}
		cursor = *page.NextCursor
	}
}
