package domain

import (
	"context"
	"time"
)

// FollowerStore persists follower bot registrations. The engine uses it as a
// read path; registration and settings updates arrive through the HTTP API
// or external tooling.
type FollowerStore interface {
	Create(ctx context.Context, bot FollowerBot) error
	GetByID(ctx context.Context, id string) (FollowerBot, error)
	List(ctx context.Context) ([]FollowerBot, error)
	// ListActiveByTarget returns bots with status=active following the
	// given target address.
	ListActiveByTarget(ctx context.Context, targetAddress string) ([]FollowerBot, error)
	// ListTargets returns the distinct target addresses referenced by at
	// least one non-stopped bot.
	ListTargets(ctx context.Context) ([]string, error)
	UpdateStatus(ctx context.Context, id string, status BotStatus) error
	UpdateSizing(ctx context.Context, id string, sizing SizingPolicy) error
}

// OutcomeStore persists replication outcomes. Writes are best-effort from
// the engine's point of view: a store failure is logged, never allowed to
// block fan-out.
type OutcomeStore interface {
	Insert(ctx context.Context, outcome ReplicationOutcome) error
	ListRecentByFollower(ctx context.Context, followerID string, limit int) ([]ReplicationOutcome, error)
	ListBefore(ctx context.Context, before time.Time) ([]ReplicationOutcome, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
