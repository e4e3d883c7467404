package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
	"github.com/alanyoungcy/mirrorbot/internal/registry"
	"github.com/alanyoungcy/mirrorbot/internal/track"
)

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type fakeSession struct {
	mu       sync.Mutex
	subs     []string
	state    domain.SessionState
	attempts int
	closed   bool
}

func (f *fakeSession) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = domain.SessionConnected
	return nil
}

func (f *fakeSession) Subscribe(_ context.Context, profile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, profile)
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.state = domain.SessionClosed
	return nil
}

func (f *fakeSession) State() domain.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Attempts() int { return f.attempts }

type fakeResolver struct {
	profiles map[string]string
}

func (f *fakeResolver) GetProfileAddress(_ context.Context, userAddress string) (string, error) {
	p, ok := f.profiles[userAddress]
	if !ok {
		return "", errors.New("directory: no profile")
	}
	return p, nil
}

type fakeFollowerStore struct {
	domain.FollowerStore
	byTarget map[string][]domain.FollowerBot
	targets  []string
}

func (f *fakeFollowerStore) ListActiveByTarget(_ context.Context, target string) ([]domain.FollowerBot, error) {
	return f.byTarget[target], nil
}

func (f *fakeFollowerStore) ListTargets(context.Context) ([]string, error) {
	return f.targets, nil
}

// fakeExec records executions and fails the followers listed in failFor.
type fakeExec struct {
	mu      sync.Mutex
	calls   []string // "<orderID>/<followerID>"
	failFor map[string]string
}

func (f *fakeExec) Execute(_ context.Context, event domain.OrderEvent, _ domain.OrderClassification, bot domain.FollowerBot) domain.ReplicationOutcome {
	f.mu.Lock()
	f.calls = append(f.calls, event.OrderID+"/"+bot.ID)
	f.mu.Unlock()

	outcome := domain.ReplicationOutcome{
		ID:         event.OrderID + "-" + bot.ID,
		OrderID:    event.OrderID,
		FollowerID: bot.ID,
		ObservedAt: time.Now(),
	}
	if msg, ok := f.failFor[bot.ID]; ok {
		outcome.Error = msg
		return outcome
	}
	outcome.Success = true
	outcome.TxHash = "0x" + bot.ID
	return outcome
}

func (f *fakeExec) executions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeOutcomeStore struct {
	domain.OutcomeStore
	mu       sync.Mutex
	outcomes []domain.ReplicationOutcome
}

func (f *fakeOutcomeStore) Insert(_ context.Context, o domain.ReplicationOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, o)
	return nil
}

func (f *fakeOutcomeStore) all() []domain.ReplicationOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ReplicationOutcome, len(f.outcomes))
	copy(out, f.outcomes)
	return out
}

// --------------------------------------------------------------------------
// Harness
// --------------------------------------------------------------------------

type harness struct {
	engine   *Engine
	session  *fakeSession
	exec     *fakeExec
	outcomes *fakeOutcomeStore
}

// feed delivers events the way the session would and waits for the
// resulting fan-out to finish.
func (h *harness) feed(events ...domain.OrderEvent) {
	h.engine.handleEvents(events)
	h.engine.inFlight.Wait()
}

func newHarness(t *testing.T, targets []string, resolver *fakeResolver, followers *fakeFollowerStore) *harness {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	h := &harness{
		session:  &fakeSession{state: domain.SessionDisconnected},
		exec:     &fakeExec{failFor: map[string]string{}},
		outcomes: &fakeOutcomeStore{},
	}

	h.engine = New(
		Config{Targets: targets, ExecTimeout: time.Second},
		Deps{
			NewSession: func(func([]domain.OrderEvent), func(domain.SessionState, int)) Session {
				return h.session
			},
			Registry:  registry.New(resolver, logger),
			Tracker:   track.New(0, 0),
			Followers: followers,
			Outcomes:  h.outcomes,
			Exec:      h.exec,
			Logger:    logger,
		},
	)
	t.Cleanup(func() { h.engine.Stop() })
	return h
}

func activeBot(id, target string) domain.FollowerBot {
	return domain.FollowerBot{
		ID:                 id,
		TargetAddress:      target,
		SigningKey:         "sealed",
		Status:             domain.BotStatusActive,
		Sizing:             domain.SizingPolicy{Mode: domain.SizingExact},
		CopyTradingEnabled: true,
	}
}

func orderEvent(orderID string, code int) domain.OrderEvent {
	return domain.OrderEvent{
		OrderID:        orderID,
		ProfileAddress: "0xP1",
		MarketID:       "1338",
		OrderTypeCode:  code,
		Price:          "4.17",
		Size:           "10",
		Leverage:       3,
		Status:         "open",
		Timestamp:      time.Now().UTC(),
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestEngineReplicatesToAllFollowers(t *testing.T) {
	resolver := &fakeResolver{profiles: map[string]string{"0xT1": "0xP1"}}
	followers := &fakeFollowerStore{byTarget: map[string][]domain.FollowerBot{
		"0xT1": {activeBot("bot-a", "0xT1"), activeBot("bot-b", "0xT1")},
	}}
	h := newHarness(t, []string{"0xT1"}, resolver, followers)

	require.NoError(t, h.engine.Start(context.Background()))
	assert.Equal(t, []string{"0xP1"}, h.session.subs)

	h.feed(orderEvent("o1", 2))

	execs := h.exec.executions()
	assert.ElementsMatch(t, []string{"o1/bot-a", "o1/bot-b"}, execs)

	outcomes := h.outcomes.all()
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.True(t, o.Success)
		assert.Equal(t, "o1", o.OrderID)
	}
}

func TestEngineIsolatesFollowerFailure(t *testing.T) {
	resolver := &fakeResolver{profiles: map[string]string{"0xT1": "0xP1"}}
	followers := &fakeFollowerStore{byTarget: map[string][]domain.FollowerBot{
		"0xT1": {activeBot("bot-a", "0xT1"), activeBot("bot-b", "0xT1")},
	}}
	h := newHarness(t, []string{"0xT1"}, resolver, followers)
	h.exec.failFor["bot-a"] = "insufficient margin"

	require.NoError(t, h.engine.Start(context.Background()))
	h.feed(orderEvent("o1", 2))

	outcomes := h.outcomes.all()
	require.Len(t, outcomes, 2, "both followers produce an outcome")

	byFollower := map[string]domain.ReplicationOutcome{}
	for _, o := range outcomes {
		byFollower[o.FollowerID] = o
	}
	assert.False(t, byFollower["bot-a"].Success)
	assert.Equal(t, "insufficient margin", byFollower["bot-a"].Error)
	assert.True(t, byFollower["bot-b"].Success, "one follower's failure must not block the other")
}

func TestEngineDropsDuplicateRedelivery(t *testing.T) {
	resolver := &fakeResolver{profiles: map[string]string{"0xT1": "0xP1"}}
	followers := &fakeFollowerStore{byTarget: map[string][]domain.FollowerBot{
		"0xT1": {activeBot("bot-a", "0xT1")},
	}}
	h := newHarness(t, []string{"0xT1"}, resolver, followers)

	require.NoError(t, h.engine.Start(context.Background()))

	ev := orderEvent("o1", 2)
	h.feed(ev)
	h.feed(ev) // redelivery after reconnect

	assert.Equal(t, []string{"o1/bot-a"}, h.exec.executions(), "a redelivered order must not dispatch again")
	assert.Len(t, h.outcomes.all(), 1)
}

func TestEngineDropsUnknownOrderType(t *testing.T) {
	resolver := &fakeResolver{profiles: map[string]string{"0xT1": "0xP1"}}
	followers := &fakeFollowerStore{byTarget: map[string][]domain.FollowerBot{
		"0xT1": {activeBot("bot-a", "0xT1")},
	}}
	h := newHarness(t, []string{"0xT1"}, resolver, followers)

	require.NoError(t, h.engine.Start(context.Background()))
	h.feed(orderEvent("o1", 99))

	assert.Empty(t, h.exec.executions())
	assert.Equal(t, int64(1), h.engine.Status().EventsDropped)
}

func TestEngineDropsUnknownProfile(t *testing.T) {
	resolver := &fakeResolver{profiles: map[string]string{"0xT1": "0xP1"}}
	followers := &fakeFollowerStore{byTarget: map[string][]domain.FollowerBot{}}
	h := newHarness(t, []string{"0xT1"}, resolver, followers)

	require.NoError(t, h.engine.Start(context.Background()))

	ev := orderEvent("o1", 2)
	ev.ProfileAddress = "0xSomebodyElse"
	h.feed(ev)

	assert.Empty(t, h.exec.executions())
	assert.Equal(t, int64(1), h.engine.Status().EventsDropped)
}

func TestEngineDropsHistoricalReplay(t *testing.T) {
	resolver := &fakeResolver{profiles: map[string]string{"0xT1": "0xP1"}}
	followers := &fakeFollowerStore{byTarget: map[string][]domain.FollowerBot{
		"0xT1": {activeBot("bot-a", "0xT1")},
	}}
	h := newHarness(t, []string{"0xT1"}, resolver, followers)

	require.NoError(t, h.engine.Start(context.Background()))

	ev := orderEvent("old-order", 2)
	ev.Timestamp = time.Now().Add(-time.Hour)
	h.feed(ev)

	assert.Empty(t, h.exec.executions(), "events before the watermark are replay, never replicated")
}

func TestEngineDryRunNeverExecutes(t *testing.T) {
	resolver := &fakeResolver{profiles: map[string]string{"0xT1": "0xP1"}}
	followers := &fakeFollowerStore{byTarget: map[string][]domain.FollowerBot{
		"0xT1": {activeBot("bot-a", "0xT1")},
	}}
	h := newHarness(t, []string{"0xT1"}, resolver, followers)
	h.engine.cfg.DryRun = true

	require.NoError(t, h.engine.Start(context.Background()))
	h.feed(orderEvent("o1", 2))

	assert.Empty(t, h.exec.executions())
	assert.Equal(t, 1, h.engine.Status().TrackedOrderCount, "dry run still tracks what it saw")
}

func TestEngineStatusSnapshot(t *testing.T) {
	resolver := &fakeResolver{profiles: map[string]string{"0xT1": "0xP1"}}
	followers := &fakeFollowerStore{byTarget: map[string][]domain.FollowerBot{}}
	h := newHarness(t, []string{"0xT1"}, resolver, followers)

	status := h.engine.Status()
	assert.False(t, status.IsMonitoring)

	require.NoError(t, h.engine.Start(context.Background()))
	status = h.engine.Status()
	assert.True(t, status.IsMonitoring)
	assert.Equal(t, domain.SessionConnected, status.State)
	assert.Equal(t, 1, status.TargetCount)

	require.NoError(t, h.engine.Stop())
	assert.True(t, h.session.closed)
	assert.False(t, h.engine.Status().IsMonitoring)
}

func TestEngineStartFailsWhenNothingResolves(t *testing.T) {
	resolver := &fakeResolver{profiles: map[string]string{}}
	followers := &fakeFollowerStore{byTarget: map[string][]domain.FollowerBot{}}
	h := newHarness(t, []string{"0xT1", "0xT2"}, resolver, followers)

	err := h.engine.Start(context.Background())
	require.Error(t, err)
}

func TestEngineFailedStartCanBeRetried(t *testing.T) {
	resolver := &fakeResolver{profiles: map[string]string{}}
	followers := &fakeFollowerStore{byTarget: map[string][]domain.FollowerBot{}}
	h := newHarness(t, []string{"0xT1"}, resolver, followers)

	require.Error(t, h.engine.Start(context.Background()))
	assert.False(t, h.engine.Status().IsMonitoring, "a failed start must not report monitoring")

	// The target becomes resolvable; a retried Start must run the full
	// startup sequence instead of short-circuiting as already running.
	resolver.profiles["0xT1"] = "0xP1"
	require.NoError(t, h.engine.Start(context.Background()))
	assert.True(t, h.engine.Status().IsMonitoring)
	assert.Equal(t, []string{"0xP1"}, h.session.subs)
}

func TestEngineDiscoversTargetsFromStore(t *testing.T) {
	resolver := &fakeResolver{profiles: map[string]string{"0xT1": "0xP1", "0xT2": "0xP2"}}
	followers := &fakeFollowerStore{
		byTarget: map[string][]domain.FollowerBot{
			"0xT2": {activeBot("bot-a", "0xT2")},
		},
		targets: []string{"0xT1", "0xT2"},
	}
	h := newHarness(t, []string{"0xT1"}, resolver, followers)

	require.NoError(t, h.engine.Start(context.Background()))
	assert.ElementsMatch(t, []string{"0xP1", "0xP2"}, h.session.subs,
		"a target referenced only by a stored bot is subscribed once")

	ev := orderEvent("o1", 2)
	ev.ProfileAddress = "0xP2"
	h.feed(ev)
	assert.Equal(t, []string{"o1/bot-a"}, h.exec.executions())
}
