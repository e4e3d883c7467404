package domain

import "time"

// TargetSubscription tracks one monitored target: the wallet address being
// mirrored, its resolved venue profile address, and the watermark before
// which events are historical replay.
type TargetSubscription struct {
	TargetAddress  string
	ProfileAddress string
	ActiveFrom     time.Time
}

// SessionState is the stream session's connection state machine.
type SessionState string

const (
	SessionDisconnected SessionState = "disconnected"
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
	SessionClosing      SessionState = "closing"
	SessionClosed       SessionState = "closed"
	// SessionFailed is terminal: reconnect attempts are exhausted and a
	// manual restart is required.
	SessionFailed SessionState = "failed"
)

// EngineStatus is the read-only telemetry surface exposed over HTTP for
// health checks and operator dashboards.
type EngineStatus struct {
	IsMonitoring      bool         `json:"is_monitoring"`
	State             SessionState `json:"state"`
	TargetCount       int          `json:"target_count"`
	TrackedOrderCount int          `json:"tracked_order_count"`
	ReconnectAttempts int          `json:"reconnect_attempts"`
	EventsDropped     int64        `json:"events_dropped"`
	StartedAt         time.Time    `json:"started_at"`
}
