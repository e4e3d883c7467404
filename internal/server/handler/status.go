package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// StatusProvider exposes the engine's telemetry snapshot and its resolved
// target subscriptions.
type StatusProvider interface {
	Status() domain.EngineStatus
	Subscriptions() []domain.TargetSubscription
}

// StatusHandler serves the engine telemetry surface.
type StatusHandler struct {
	engine StatusProvider
	mode   string
}

// NewStatusHandler creates a StatusHandler for the given engine and run mode.
func NewStatusHandler(engine StatusProvider, mode string) *StatusHandler {
	return &StatusHandler{engine: engine, mode: mode}
}

// GetStatus responds with the engine's current state: session state,
// reconnect attempts, target and tracked-order counts, drop counter.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":   h.mode,
		"engine": h.engine.Status(),
	})
}

// ListTargets responds with the resolved target subscriptions.
// GET /api/targets
func (h *StatusHandler) ListTargets(w http.ResponseWriter, r *http.Request) {
	subs := h.engine.Subscriptions()

	type targetView struct {
		TargetAddress  string    `json:"target_address"`
		ProfileAddress string    `json:"profile_address"`
		ActiveFrom     time.Time `json:"active_from"`
	}
	views := make([]targetView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, targetView{
			TargetAddress:  sub.TargetAddress,
			ProfileAddress: sub.ProfileAddress,
			ActiveFrom:     sub.ActiveFrom.UTC(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": views})
}
