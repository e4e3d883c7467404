package domain

import (
	"context"
	"io"
	"time"
)

// ActivityCache keeps a bounded window of recent replication activity per
// follower for the telemetry surface. It is not a durable ledger.
type ActivityCache interface {
	RecordOutcome(ctx context.Context, outcome ReplicationOutcome) error
	LastOutcome(ctx context.Context, followerID string) (ReplicationOutcome, error)
	RecentOutcomes(ctx context.Context, followerID string, limit int) ([]ReplicationOutcome, error)
}

// RateLimiter gates calls against an external API.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under the
	// sliding-window limit, counting it if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until a request for key is allowed under the
	// sliding-window limit or ctx is cancelled.
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
