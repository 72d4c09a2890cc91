// Package harvest implements the asynchronous address-harvesting job system:
// job orchestration, tiered result storage, cursor pagination, and the
// polling-based stream.
package harvest

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/address-harvest/pkg/overpass"
)

// JobStatus tracks the job lifecycle. Terminal statuses never change again.
type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusComplete   JobStatus = "complete"
	StatusFailed     JobStatus = "failed"
)

// JobMode selects the search strategy.
type JobMode string

const (
	ModeRadius  JobMode = "radius"
	ModePolygon JobMode = "polygon"
	ModeZips    JobMode = "zips"
)

// StorageTier selects where a job's consolidated results live.
type StorageTier string

const (
	// TierBatched keeps results as ordered batch rows in the job store.
	TierBatched StorageTier = "batched"
	// TierBlob additionally holds the full deduplicated set as one object.
	TierBlob StorageTier = "blob"
)

// Sentinel errors for the read and create paths.
var (
	ErrJobNotFound    = eris.New("harvest: job not found")
	ErrBatchNotFound  = eris.New("harvest: batch not found")
	ErrInvalidRequest = eris.New("harvest: invalid request")
	ErrInvalidCursor  = eris.New("harvest: invalid cursor")
)

// SearchRequest is the client-supplied search specification.
type SearchRequest struct {
	Mode        JobMode          `json:"mode"`
	Center      *overpass.Point  `json:"center,omitempty"`
	RadiusMiles float64          `json:"radius,omitempty"`
	Coordinates []overpass.Point `json:"coordinates,omitempty"`
	Zips        []string         `json:"zips,omitempty"`
}

// Validate checks the mode-specific required fields.
func (r SearchRequest) Validate() error {
	switch r.Mode {
	case ModeRadius:
		if r.Center == nil {
			return eris.Wrap(ErrInvalidRequest, "radius mode requires a center point")
		}
		if r.RadiusMiles <= 0 {
			return eris.Wrap(ErrInvalidRequest, "radius mode requires a positive radius")
		}
	case ModePolygon:
		if len(r.Coordinates) < 3 {
			return eris.Wrap(ErrInvalidRequest, "polygon mode requires at least three coordinates")
		}
	case ModeZips:
		if len(r.Zips) == 0 {
			return eris.Wrap(ErrInvalidRequest, "zips mode requires at least one postal code")
		}
		for _, zip := range r.Zips {
			if !validPostalCode(zip) {
				return eris.Wrapf(ErrInvalidRequest, "invalid postal code %q", zip)
			}
		}
	default:
		return eris.Wrapf(ErrInvalidRequest, "unknown mode %q", r.Mode)
	}
	return nil
}

// validPostalCode accepts letters, digits, spaces, and hyphens. Postal codes
// are interpolated into upstream query text, so anything else is rejected
// before a job is created.
func validPostalCode(zip string) bool {
	if zip == "" || len(zip) > 16 {
		return false
	}
	for _, r := range zip {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r == ' ' || r == '-':
		default:
			return false
		}
	}
	return true
}

// Job is one tracked execution of an address search request.
type Job struct {
	ID          string        `json:"id"`
	Mode        JobMode       `json:"mode"`
	Status      JobStatus     `json:"status"`
	Request     SearchRequest `json:"request"`
	Progress    int           `json:"progress"`
	TotalFound  int           `json:"total_found"`
	StorageTier StorageTier   `json:"storage_tier"`
	BlobKey     string        `json:"blob_key,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// NewJobID returns a short, URL-safe, globally unique job identifier.
func NewJobID() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}
