package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

const (
	// recentActivityLimit bounds the per-follower activity window.
	recentActivityLimit = 50

	// activityTTL expires activity for followers that go quiet.
	activityTTL = 7 * 24 * time.Hour
)

// ActivityCache implements domain.ActivityCache using a per-follower Redis
// list for the recent window and a plain key for the latest outcome. It is
// a convenience view for the telemetry API; the durable record lives in
// PostgreSQL.
type ActivityCache struct {
	rdb *redis.Client
}

// NewActivityCache creates an ActivityCache backed by the given Client.
func NewActivityCache(c *Client) *ActivityCache {
	return &ActivityCache{rdb: c.Underlying()}
}

func lastKey(followerID string) string {
	return "activity:last:" + followerID
}

func recentKey(followerID string) string {
	return "activity:recent:" + followerID
}

// RecordOutcome stores the outcome as the follower's latest and pushes it
// onto the bounded recent list.
func (ac *ActivityCache) RecordOutcome(ctx context.Context, outcome domain.ReplicationOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("redis: marshal outcome %s: %w", outcome.ID, err)
	}

	pipe := ac.rdb.Pipeline()
	pipe.Set(ctx, lastKey(outcome.FollowerID), data, activityTTL)
	pipe.LPush(ctx, recentKey(outcome.FollowerID), data)
	pipe.LTrim(ctx, recentKey(outcome.FollowerID), 0, recentActivityLimit-1)
	pipe.Expire(ctx, recentKey(outcome.FollowerID), activityTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: record outcome %s: %w", outcome.ID, err)
	}
	return nil
}

// LastOutcome returns the follower's most recent outcome, or
// domain.ErrNotFound when the follower has no recorded activity.
func (ac *ActivityCache) LastOutcome(ctx context.Context, followerID string) (domain.ReplicationOutcome, error) {
	data, err := ac.rdb.Get(ctx, lastKey(followerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ReplicationOutcome{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ReplicationOutcome{}, fmt.Errorf("redis: last outcome %s: %w", followerID, err)
	}

	var outcome domain.ReplicationOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		return domain.ReplicationOutcome{}, fmt.Errorf("redis: decode outcome for %s: %w", followerID, err)
	}
	return outcome, nil
}

// RecentOutcomes returns up to limit of the follower's latest outcomes,
// newest first. Entries that fail to decode are skipped.
func (ac *ActivityCache) RecentOutcomes(ctx context.Context, followerID string, limit int) ([]domain.ReplicationOutcome, error) {
	if limit <= 0 || limit > recentActivityLimit {
		limit = recentActivityLimit
	}

	items, err := ac.rdb.LRange(ctx, recentKey(followerID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: recent outcomes %s: %w", followerID, err)
	}

	outcomes := make([]domain.ReplicationOutcome, 0, len(items))
	for _, item := range items {
		var outcome domain.ReplicationOutcome
		if err := json.Unmarshal([]byte(item), &outcome); err != nil {
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// Compile-time interface check.
var _ domain.ActivityCache = (*ActivityCache)(nil)
