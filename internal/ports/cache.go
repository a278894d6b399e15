package ports

import (
	"context"
	"time"
)

// Cache defines a generic key-value capability for usecases. The pipeline
// runner uses it for metrics snapshots and per-trigger bookkeeping.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
