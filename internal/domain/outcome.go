package domain

import "time"

// ReplicationOutcome records the result of one execution-pipeline run for
// one (order event, follower) pair. A failed outcome is terminal for that
// pair; the next event may still succeed.
type ReplicationOutcome struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	FollowerID string    `json:"follower_id"`
	Success    bool      `json:"success"`
	TxHash     string    `json:"tx_hash,omitempty"` // set on success
	Error      string    `json:"error,omitempty"`   // set on failure, verbatim from the failing call
	ObservedAt time.Time `json:"observed_at"`
}
