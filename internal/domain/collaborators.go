package domain

import (
	"context"
	"time"
)

// Cache is the read-through/invalidation capability backed by Redis. Every
// entry carries a TTL, which is the correctness backstop when an invalidation
// is lost: invalidation failures are logged, never retried.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	InvalidatePattern(ctx context.Context, pattern string) error
}

// CommandPublisher enqueues a command envelope onto the delivery channel.
// groupKey selects the ordering partition; dedupeKey identifies the submission
// for traceability across redeliveries.
type CommandPublisher interface {
	Publish(ctx context.Context, envelope CommandEnvelope, groupKey, dedupeKey string) error
}
