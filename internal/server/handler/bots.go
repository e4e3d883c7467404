package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// KeySealer seals a plaintext signing key for storage. Implemented by the
// crypto vault.
type KeySealer interface {
	Seal(privateKeyHex string) (string, error)
}

// BotHandler serves follower bot registration and inspection endpoints.
type BotHandler struct {
	store    domain.FollowerStore
	activity domain.ActivityCache
	sealer   KeySealer
	logger   *slog.Logger
}

// NewBotHandler creates a BotHandler.
func NewBotHandler(store domain.FollowerStore, activity domain.ActivityCache, sealer KeySealer, logger *slog.Logger) *BotHandler {
	return &BotHandler{
		store:    store,
		activity: activity,
		sealer:   sealer,
		logger:   logHandler(logger, "bots"),
	}
}

// botView is the API shape of a follower bot. The signing key never leaves
// the server, sealed or otherwise.
type botView struct {
	ID                 string           `json:"id"`
	TargetAddress      string           `json:"target_address"`
	Status             domain.BotStatus `json:"status"`
	Sizing             sizingView       `json:"sizing"`
	CopyTradingEnabled bool             `json:"copy_trading_enabled"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

type sizingView struct {
	Mode       domain.SizingMode `json:"mode"`
	Multiplier float64           `json:"multiplier,omitempty"`
	MinSize    float64           `json:"min_size,omitempty"`
	MaxSize    float64           `json:"max_size,omitempty"`
}

func toBotView(bot domain.FollowerBot) botView {
	return botView{
		ID:                 bot.ID,
		TargetAddress:      bot.TargetAddress,
		Status:             bot.Status,
		Sizing:             sizingView(bot.Sizing),
		CopyTradingEnabled: bot.CopyTradingEnabled,
		CreatedAt:          bot.CreatedAt,
		UpdatedAt:          bot.UpdatedAt,
	}
}

// CreateBot registers a new follower bot. The signing key in the request is
// sealed before it touches the store.
// POST /api/bots
func (h *BotHandler) CreateBot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetAddress string     `json:"target_address"`
		SigningKey    string     `json:"signing_key"`
		Sizing        sizingView `json:"sizing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetAddress == "" || req.SigningKey == "" {
		writeError(w, http.StatusBadRequest, "target_address and signing_key are required")
		return
	}
	if req.Sizing.Mode == "" {
		req.Sizing.Mode = domain.SizingExact
	}
	if req.Sizing.Mode == domain.SizingMultiplier && req.Sizing.Multiplier <= 0 {
		writeError(w, http.StatusBadRequest, "multiplier sizing requires a positive multiplier")
		return
	}

	sealed, err := h.sealer.Seal(req.SigningKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signing key")
		return
	}

	bot := domain.FollowerBot{
		ID:                 uuid.NewString(),
		TargetAddress:      req.TargetAddress,
		SigningKey:         sealed,
		Status:             domain.BotStatusActive,
		Sizing:             domain.SizingPolicy(req.Sizing),
		CopyTradingEnabled: true,
	}
	if err := h.store.Create(r.Context(), bot); err != nil {
		h.logger.ErrorContext(r.Context(), "create bot failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not create bot")
		return
	}

	writeJSON(w, http.StatusCreated, toBotView(bot))
}

// ListBots returns all registered follower bots.
// GET /api/bots
func (h *BotHandler) ListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := h.store.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list bots failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not list bots")
		return
	}

	views := make([]botView, 0, len(bots))
	for _, bot := range bots {
		views = append(views, toBotView(bot))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": views})
}

// GetBot returns one follower bot together with its most recent replication
// outcome, when the activity cache holds one.
// GET /api/bots/{id}
func (h *BotHandler) GetBot(w http.ResponseWriter, r *http.Request) {
	bot, err := h.store.GetByID(r.Context(), pathParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "bot not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load bot")
		return
	}

	view := struct {
		botView
		LastOutcome *domain.ReplicationOutcome `json:"last_outcome,omitempty"`
	}{botView: toBotView(bot)}

	last, err := h.activity.LastOutcome(r.Context(), bot.ID)
	switch {
	case err == nil:
		view.LastOutcome = &last
	case !errors.Is(err, domain.ErrNotFound):
		h.logger.WarnContext(r.Context(), "last outcome lookup failed",
			slog.String("bot_id", bot.ID),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusOK, view)
}

// GetActivity returns a bot's recent replication outcomes from the activity
// cache, newest first.
// GET /api/bots/{id}/activity
func (h *BotHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	limit := parseLimit(r, 20, 50)

	outcomes, err := h.activity.RecentOutcomes(r.Context(), id, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "activity lookup failed",
			slog.String("bot_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "could not load activity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": outcomes})
}

// UpdateStatus changes a bot's lifecycle status.
// PATCH /api/bots/{id}/status
func (h *BotHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status domain.BotStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Status {
	case domain.BotStatusActive, domain.BotStatusPaused, domain.BotStatusStopped:
	default:
		writeError(w, http.StatusBadRequest, "status must be active, paused, or stopped")
		return
	}

	err := h.store.UpdateStatus(r.Context(), pathParam(r, "id"), req.Status)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "bot not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not update status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(req.Status)})
}

// UpdateSizing replaces a bot's sizing policy.
// PUT /api/bots/{id}/sizing
func (h *BotHandler) UpdateSizing(w http.ResponseWriter, r *http.Request) {
	var req sizingView
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode != domain.SizingExact && req.Mode != domain.SizingMultiplier {
		writeError(w, http.StatusBadRequest, "mode must be exact or multiplier")
		return
	}
	if req.Mode == domain.SizingMultiplier && req.Multiplier <= 0 {
		writeError(w, http.StatusBadRequest, "multiplier sizing requires a positive multiplier")
		return
	}

	err := h.store.UpdateSizing(r.Context(), pathParam(r, "id"), domain.SizingPolicy(req))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "bot not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not update sizing")
		return
	}
	writeJSON(w, http.StatusOK, req)
}
