package exec

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mirrorbot/internal/classify"
	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

type fakeVenue struct {
	marketReqs []domain.OrderRequest
	limitReqs  []domain.OrderRequest
	payload    json.RawMessage
	err        error
}

func (f *fakeVenue) PlaceMarketOrder(_ context.Context, req domain.OrderRequest) (json.RawMessage, error) {
	f.marketReqs = append(f.marketReqs, req)
	return f.payload, f.err
}

func (f *fakeVenue) PlaceLimitOrder(_ context.Context, req domain.OrderRequest) (json.RawMessage, error) {
	f.limitReqs = append(f.limitReqs, req)
	return f.payload, f.err
}

type fakeChain struct {
	keys     []string
	payloads []json.RawMessage
	txHash   string
	err      error
}

func (f *fakeChain) SubmitAndConfirm(_ context.Context, key string, payload json.RawMessage) (string, error) {
	f.keys = append(f.keys, key)
	f.payloads = append(f.payloads, payload)
	return f.txHash, f.err
}

type plainKeys struct{}

func (plainKeys) Open(sealed string) (string, error) { return sealed, nil }

func testPipeline(venue *fakeVenue, chain *fakeChain) *Pipeline {
	return New(venue, chain, plainKeys{}, slog.New(slog.DiscardHandler))
}

func testBot(sizing domain.SizingPolicy) domain.FollowerBot {
	return domain.FollowerBot{
		ID:         "bot-1",
		SigningKey: "deadbeef",
		Status:     domain.BotStatusActive,
		Sizing:     sizing,
	}
}

func limitBuyEvent() domain.OrderEvent {
	return domain.OrderEvent{
		OrderID:       "o1",
		MarketID:      "1338",
		OrderTypeCode: 2, // limit buy, opens a long
		Price:         "4.17",
		Size:          "10",
		Leverage:      3,
	}
}

func TestExecuteLimitBuy(t *testing.T) {
	venue := &fakeVenue{payload: json.RawMessage(`{"to":"0x1","data":"0x"}`)}
	chain := &fakeChain{txHash: "0xabc"}
	p := testPipeline(venue, chain)

	ev := limitBuyEvent()
	cls := classify.Classify(ev.OrderTypeCode)
	bot := testBot(domain.SizingPolicy{Mode: domain.SizingExact})

	outcome := p.Execute(context.Background(), ev, cls, bot)

	require.True(t, outcome.Success, "error: %s", outcome.Error)
	assert.Equal(t, "0xabc", outcome.TxHash)
	assert.Equal(t, "o1", outcome.OrderID)
	assert.Equal(t, "bot-1", outcome.FollowerID)
	assert.NotEmpty(t, outcome.ID)

	require.Len(t, venue.limitReqs, 1, "a limit buy must go through the limit endpoint")
	assert.Empty(t, venue.marketReqs)

	req := venue.limitReqs[0]
	assert.Equal(t, "1338", req.MarketID)
	assert.True(t, req.TradeSide, "a buy opens a long")
	assert.False(t, req.Direction, "a buy opens, never closes")
	assert.Equal(t, 4.17, req.Price)
	assert.Equal(t, 10.0, req.Size)
	assert.Equal(t, 3, req.Leverage)

	require.Len(t, chain.keys, 1)
	assert.Equal(t, "deadbeef", chain.keys[0])
	assert.Equal(t, venue.payload, chain.payloads[0])
}

func TestExecuteMarketExit(t *testing.T) {
	venue := &fakeVenue{payload: json.RawMessage(`{}`)}
	chain := &fakeChain{txHash: "0xdef"}
	p := testPipeline(venue, chain)

	ev := limitBuyEvent()
	ev.OrderTypeCode = 10 // market exit of a short position
	cls := classify.Classify(ev.OrderTypeCode)

	outcome := p.Execute(context.Background(), ev, cls, testBot(domain.SizingPolicy{Mode: domain.SizingExact}))

	require.True(t, outcome.Success, "error: %s", outcome.Error)
	require.Len(t, venue.marketReqs, 1)
	req := venue.marketReqs[0]
	assert.True(t, req.Direction, "an exit closes")
	assert.False(t, req.TradeSide, "exiting a short stays on the short side")
	assert.Zero(t, req.Price, "market orders carry no price")
}

func TestExecuteVenueErrorPreservedVerbatim(t *testing.T) {
	venue := &fakeVenue{err: errors.New("insufficient margin for account")}
	chain := &fakeChain{}
	p := testPipeline(venue, chain)

	ev := limitBuyEvent()
	outcome := p.Execute(context.Background(), ev, classify.Classify(ev.OrderTypeCode), testBot(domain.SizingPolicy{Mode: domain.SizingExact}))

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "insufficient margin for account")
	assert.Empty(t, chain.keys, "a failed construction must never reach the chain")
}

func TestExecuteChainErrorKeepsTxHash(t *testing.T) {
	venue := &fakeVenue{payload: json.RawMessage(`{}`)}
	chain := &fakeChain{txHash: "0xbeef", err: errors.New("chain: transaction 0xbeef reverted")}
	p := testPipeline(venue, chain)

	ev := limitBuyEvent()
	outcome := p.Execute(context.Background(), ev, classify.Classify(ev.OrderTypeCode), testBot(domain.SizingPolicy{Mode: domain.SizingExact}))

	assert.False(t, outcome.Success)
	assert.Equal(t, "0xbeef", outcome.TxHash)
	assert.Contains(t, outcome.Error, "reverted")
}

func TestExecuteBadSizeRejected(t *testing.T) {
	venue := &fakeVenue{}
	p := testPipeline(venue, &fakeChain{})

	ev := limitBuyEvent()
	ev.Size = "lots"
	outcome := p.Execute(context.Background(), ev, classify.Classify(ev.OrderTypeCode), testBot(domain.SizingPolicy{Mode: domain.SizingExact}))

	assert.False(t, outcome.Success)
	assert.Empty(t, venue.limitReqs)
	assert.Empty(t, venue.marketReqs)
}

func TestComputeSize(t *testing.T) {
	tests := []struct {
		name   string
		target float64
		policy domain.SizingPolicy
		want   float64
	}{
		{
			name:   "exact mirrors the target",
			target: 12.5,
			policy: domain.SizingPolicy{Mode: domain.SizingExact},
			want:   12.5,
		},
		{
			name:   "multiplier scales",
			target: 10,
			policy: domain.SizingPolicy{Mode: domain.SizingMultiplier, Multiplier: 0.5},
			want:   5,
		},
		{
			name:   "ceiling clamps after scaling",
			target: 10,
			policy: domain.SizingPolicy{Mode: domain.SizingMultiplier, Multiplier: 0.5, MinSize: 1, MaxSize: 3},
			want:   3,
		},
		{
			name:   "floor lifts tiny orders",
			target: 0.1,
			policy: domain.SizingPolicy{Mode: domain.SizingMultiplier, Multiplier: 0.5, MinSize: 1, MaxSize: 3},
			want:   1,
		},
		{
			name:   "unset bounds do not clamp",
			target: 100,
			policy: domain.SizingPolicy{Mode: domain.SizingMultiplier, Multiplier: 2},
			want:   200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeSize(tt.target, tt.policy))
		})
	}
}
