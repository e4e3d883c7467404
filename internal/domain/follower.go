package domain

import "time"

// BotStatus tracks the lifecycle of a follower bot. Only active bots are
// ever dispatched to the execution pipeline.
type BotStatus string

const (
	BotStatusActive  BotStatus = "active"
	BotStatusPaused  BotStatus = "paused"
	BotStatusStopped BotStatus = "stopped"
)

// SizingMode selects how a follower sizes its replicated orders.
type SizingMode string

const (
	// SizingExact copies the target's order size verbatim.
	SizingExact SizingMode = "exact"
	// SizingMultiplier scales the target's size and clamps it to
	// [MinSize, MaxSize].
	SizingMultiplier SizingMode = "multiplier"
)

// SizingPolicy describes how an original order size is converted into the
// follower's order size.
type SizingPolicy struct {
	Mode       SizingMode
	Multiplier float64
	MinSize    float64
	MaxSize    float64
}

// FollowerBot is one registered replication account: which target it
// follows, how it sizes copies, and the credential it signs with.
//
// SigningKey is opaque to the engine and must never appear in logs.
type FollowerBot struct {
	ID                 string
	TargetAddress      string
	SigningKey         string
	Status             BotStatus
	Sizing             SizingPolicy
	CopyTradingEnabled bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Dispatchable reports whether the bot may reach the execution pipeline.
func (b FollowerBot) Dispatchable() bool {
	return b.Status == BotStatusActive && b.CopyTradingEnabled
}
