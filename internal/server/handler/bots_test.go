package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

type memFollowerStore struct {
	domain.FollowerStore
	created []domain.FollowerBot
	bots    map[string]domain.FollowerBot
}

func (m *memFollowerStore) Create(_ context.Context, bot domain.FollowerBot) error {
	m.created = append(m.created, bot)
	return nil
}

func (m *memFollowerStore) GetByID(_ context.Context, id string) (domain.FollowerBot, error) {
	bot, ok := m.bots[id]
	if !ok {
		return domain.FollowerBot{}, domain.ErrNotFound
	}
	return bot, nil
}

func (m *memFollowerStore) List(_ context.Context) ([]domain.FollowerBot, error) {
	out := make([]domain.FollowerBot, 0, len(m.bots))
	for _, bot := range m.bots {
		out = append(out, bot)
	}
	return out, nil
}

type memActivity struct {
	domain.ActivityCache
	outcomes map[string][]domain.ReplicationOutcome
}

func (m *memActivity) RecentOutcomes(_ context.Context, followerID string, _ int) ([]domain.ReplicationOutcome, error) {
	return m.outcomes[followerID], nil
}

func (m *memActivity) LastOutcome(_ context.Context, followerID string) (domain.ReplicationOutcome, error) {
	recent := m.outcomes[followerID]
	if len(recent) == 0 {
		return domain.ReplicationOutcome{}, domain.ErrNotFound
	}
	return recent[0], nil
}

type markSealer struct{}

func (markSealer) Seal(key string) (string, error) { return "sealed:" + key, nil }

func newBotHandler(store *memFollowerStore, activity *memActivity) *BotHandler {
	return NewBotHandler(store, activity, markSealer{}, slog.New(slog.DiscardHandler))
}

func TestCreateBotSealsKeyAndHidesIt(t *testing.T) {
	store := &memFollowerStore{bots: map[string]domain.FollowerBot{}}
	h := newBotHandler(store, &memActivity{})

	body := `{"target_address":"0xT1","signing_key":"deadbeef","sizing":{"mode":"multiplier","multiplier":0.5,"min_size":1,"max_size":3}}`
	req := httptest.NewRequest(http.MethodPost, "/api/bots", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateBot(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, store.created, 1)
	assert.Equal(t, "sealed:deadbeef", store.created[0].SigningKey, "the key must be sealed before it reaches the store")
	assert.Equal(t, domain.BotStatusActive, store.created[0].Status)
	assert.Equal(t, domain.SizingMultiplier, store.created[0].Sizing.Mode)

	resp := rec.Body.String()
	assert.NotContains(t, resp, "deadbeef", "the signing key must never appear in a response")
	assert.NotContains(t, resp, "signing_key")
	assert.Contains(t, resp, `"target_address":"0xT1"`)
}

func TestCreateBotValidation(t *testing.T) {
	h := newBotHandler(&memFollowerStore{}, &memActivity{})

	tests := []struct {
		name string
		body string
	}{
		{"missing key", `{"target_address":"0xT1"}`},
		{"missing target", `{"signing_key":"deadbeef"}`},
		{"bad multiplier", `{"target_address":"0xT1","signing_key":"ab","sizing":{"mode":"multiplier"}}`},
		{"garbage", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.CreateBot(rec, httptest.NewRequest(http.MethodPost, "/api/bots", strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetBotNotFound(t *testing.T) {
	h := newBotHandler(&memFollowerStore{bots: map[string]domain.FollowerBot{}}, &memActivity{})

	req := httptest.NewRequest(http.MethodGet, "/api/bots/nope", nil)
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()

	h.GetBot(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBotIncludesLastOutcome(t *testing.T) {
	store := &memFollowerStore{bots: map[string]domain.FollowerBot{
		"bot-1": {
			ID:            "bot-1",
			TargetAddress: "0xT1",
			SigningKey:    "sealed:deadbeef",
			Status:        domain.BotStatusActive,
			Sizing:        domain.SizingPolicy{Mode: domain.SizingExact},
		},
	}}
	activity := &memActivity{outcomes: map[string][]domain.ReplicationOutcome{
		"bot-1": {
			{ID: "x", OrderID: "o2", FollowerID: "bot-1", Success: true, TxHash: "0x2", ObservedAt: time.Now()},
		},
	}}
	h := newBotHandler(store, activity)

	req := httptest.NewRequest(http.MethodGet, "/api/bots/bot-1", nil)
	req.SetPathValue("id", "bot-1")
	rec := httptest.NewRecorder()

	h.GetBot(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"last_outcome"`)
	assert.Contains(t, body, `"tx_hash":"0x2"`)
	assert.NotContains(t, body, "deadbeef", "the sealed key must never appear in a response")
}

func TestGetBotWithoutActivityOmitsLastOutcome(t *testing.T) {
	store := &memFollowerStore{bots: map[string]domain.FollowerBot{
		"bot-1": {ID: "bot-1", TargetAddress: "0xT1", Status: domain.BotStatusActive},
	}}
	h := newBotHandler(store, &memActivity{})

	req := httptest.NewRequest(http.MethodGet, "/api/bots/bot-1", nil)
	req.SetPathValue("id", "bot-1")
	rec := httptest.NewRecorder()

	h.GetBot(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "last_outcome")
}

func TestGetActivity(t *testing.T) {
	activity := &memActivity{outcomes: map[string][]domain.ReplicationOutcome{
		"bot-1": {
			{ID: "x", OrderID: "o2", FollowerID: "bot-1", Success: true, TxHash: "0x2", ObservedAt: time.Now()},
			{ID: "y", OrderID: "o1", FollowerID: "bot-1", Error: "reverted", ObservedAt: time.Now()},
		},
	}}
	h := newBotHandler(&memFollowerStore{}, activity)

	req := httptest.NewRequest(http.MethodGet, "/api/bots/bot-1/activity", nil)
	req.SetPathValue("id", "bot-1")
	rec := httptest.NewRecorder()

	h.GetActivity(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tx_hash":"0x2"`)
	assert.Contains(t, rec.Body.String(), `"error":"reverted"`)
}

type fakeEngine struct{}

func (fakeEngine) Status() domain.EngineStatus {
	return domain.EngineStatus{
		IsMonitoring:      true,
		State:             domain.SessionConnected,
		TargetCount:       1,
		TrackedOrderCount: 3,
		EventsDropped:     2,
	}
}

func (fakeEngine) Subscriptions() []domain.TargetSubscription {
	return []domain.TargetSubscription{
		{TargetAddress: "0xT1", ProfileAddress: "0xP1", ActiveFrom: time.Now()},
	}
}

func TestGetStatus(t *testing.T) {
	h := NewStatusHandler(fakeEngine{}, "mirror")

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"mode":"mirror"`)
	assert.Contains(t, body, `"state":"connected"`)
	assert.Contains(t, body, `"events_dropped":2`)
}

func TestListTargets(t *testing.T) {
	h := NewStatusHandler(fakeEngine{}, "mirror")

	rec := httptest.NewRecorder()
	h.ListTargets(rec, httptest.NewRequest(http.MethodGet, "/api/targets", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"profile_address":"0xP1"`)
}
