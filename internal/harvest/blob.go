package harvest

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// BlobStore holds one consolidated result object per promoted job.
type BlobStore interface {
	// Key returns the deterministic object key for a job.
	Key(jobID string) string

	// Put stores data under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves the object stored under key. Returns ErrBlobNotFound if
	// the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
}

// ErrBlobNotFound is returned for reads of keys that were never written.
var ErrBlobNotFound = eris.New("harvest: blob not found")

// RedisBlobStore implements BlobStore on a Redis client. Objects are written
// without expiry; jobs are the unit of cleanup, not keys.
type RedisBlobStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisBlobStore creates a RedisBlobStore with the given key prefix.
func NewRedisBlobStore(client redis.UniversalClient, keyPrefix string) *RedisBlobStore {
	return &RedisBlobStore{client: client, keyPrefix: keyPrefix}
}

// Key returns the deterministic blob key for a job.
func (b *RedisBlobStore) Key(jobID string) string {
	return b.keyPrefix + jobID
}

// Put implements BlobStore.
func (b *RedisBlobStore) Put(ctx context.Context, key string, data []byte) error {
	if err := b.client.Set(ctx, key, data, 0).Err(); err != nil {
		return eris.Wrapf(err, "blob: set %s", key)
	}
	return nil
}

// Get implements BlobStore.
func (b *RedisBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if eris.Is(err, redis.Nil) {
			return nil, ErrBlobNotFound
		}
		return nil, eris.Wrapf(err, "blob: get %s", key)
	}
	return data, nil
}
