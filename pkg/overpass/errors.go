package overpass

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrKind classifies a failed Overpass query.
type ErrKind int

const (
	// KindOther covers failures that are neither timeouts nor rate limits.
	KindOther ErrKind = iota
	// KindTimeout covers per-query deadline hits, both client- and server-side.
	KindTimeout
	// KindRateLimited covers 429 responses and Overpass "too many requests" remarks.
	KindRateLimited
)

// String returns the human-readable kind name.
func (k ErrKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "other"
	}
}

// QueryError wraps an Overpass query failure with its classification. The
// client performs no retries; callers decide what each kind means for them.
type QueryError struct {
	Kind ErrKind
	Err  error
}

func (e *QueryError) Error() string {
	return "overpass: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or KindOther if err is not a
// QueryError.
func KindOf(err error) ErrKind {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindOther
}

// classify maps a transport-level error to an ErrKind.
func classify(err error) ErrKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		return KindTimeout
	}
	if strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit") {
		return KindRateLimited
	}

	return KindOther
}
