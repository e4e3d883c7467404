// Package exec turns one target order event into one follower order: size
// it per the follower's policy, have the venue construct the transaction,
// sign it with the follower's key, and confirm it on chain.
package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// VenueOrderAPI is the slice of the venue REST client the pipeline needs.
type VenueOrderAPI interface {
	PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (json.RawMessage, error)
	PlaceLimitOrder(ctx context.Context, req domain.OrderRequest) (json.RawMessage, error)
}

// ChainSubmitter signs and lands a venue transaction payload on chain.
type ChainSubmitter interface {
	SubmitAndConfirm(ctx context.Context, signingKeyHex string, payload json.RawMessage) (string, error)
}

// KeyOpener decrypts a follower's sealed signing key. Implemented by the
// crypto vault.
type KeyOpener interface {
	Open(sealed string) (string, error)
}

// Pipeline executes replications. It never retries on its own: a failed
// replication is recorded and the next event proceeds.
type Pipeline struct {
	venue  VenueOrderAPI
	chain  ChainSubmitter
	keys   KeyOpener
	logger *slog.Logger
}

// New creates an execution pipeline.
func New(venue VenueOrderAPI, chain ChainSubmitter, keys KeyOpener, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		venue:  venue,
		chain:  chain,
		keys:   keys,
		logger: logger.With(slog.String("component", "exec_pipeline")),
	}
}

// Execute replicates one classified order event onto one follower account
// and returns the outcome. Failures land in the outcome's Error field with
// the underlying message preserved verbatim; the error is never swallowed
// into a generic string.
func (p *Pipeline) Execute(ctx context.Context, event domain.OrderEvent, cls domain.OrderClassification, bot domain.FollowerBot) domain.ReplicationOutcome {
	outcome := domain.ReplicationOutcome{
		ID:         uuid.NewString(),
		OrderID:    event.OrderID,
		FollowerID: bot.ID,
		ObservedAt: time.Now().UTC(),
	}

	req, err := p.buildRequest(event, cls, bot.Sizing)
	if err != nil {
		return p.failed(ctx, outcome, err)
	}

	var payload json.RawMessage
	if req.Market {
		payload, err = p.venue.PlaceMarketOrder(ctx, req)
	} else {
		payload, err = p.venue.PlaceLimitOrder(ctx, req)
	}
	if err != nil {
		return p.failed(ctx, outcome, err)
	}

	key, err := p.keys.Open(bot.SigningKey)
	if err != nil {
		return p.failed(ctx, outcome, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err))
	}

	txHash, err := p.chain.SubmitAndConfirm(ctx, key, payload)
	outcome.TxHash = txHash
	if err != nil {
		return p.failed(ctx, outcome, err)
	}

	outcome.Success = true
	p.logger.InfoContext(ctx, "order replicated",
		slog.String("order_id", event.OrderID),
		slog.String("follower_id", bot.ID),
		slog.String("tx_hash", txHash),
	)
	return outcome
}

// buildRequest maps the classified target order onto a follower order
// request. Exits close the follower's position on the same side the target
// held; everything else opens.
func (p *Pipeline) buildRequest(event domain.OrderEvent, cls domain.OrderClassification, sizing domain.SizingPolicy) (domain.OrderRequest, error) {
	targetSize, err := strconv.ParseFloat(event.Size, 64)
	if err != nil {
		return domain.OrderRequest{}, fmt.Errorf("%w: bad size %q: %v", domain.ErrInvalidOrder, event.Size, err)
	}

	req := domain.OrderRequest{
		MarketID:  event.MarketID,
		TradeSide: cls.IsLong,
		Direction: cls.IsExit,
		Size:      ComputeSize(targetSize, sizing),
		Leverage:  event.Leverage,
		Market:    cls.IsMarket,
	}

	if !cls.IsMarket {
		price, err := strconv.ParseFloat(event.Price, 64)
		if err != nil {
			return domain.OrderRequest{}, fmt.Errorf("%w: bad price %q: %v", domain.ErrInvalidOrder, event.Price, err)
		}
		req.Price = price
	}
	return req, nil
}

// ComputeSize applies the follower's sizing policy to the target's order
// size. Multiplier mode scales then clamps: the floor is applied before the
// ceiling, so a ceiling below the floor wins.
func ComputeSize(targetSize float64, p domain.SizingPolicy) float64 {
	if p.Mode == domain.SizingExact {
		return targetSize
	}

	size := targetSize * p.Multiplier
	if p.MinSize > 0 && size < p.MinSize {
		size = p.MinSize
	}
	if p.MaxSize > 0 && size > p.MaxSize {
		size = p.MaxSize
	}
	return size
}

// failed records the error on the outcome and logs it.
func (p *Pipeline) failed(ctx context.Context, outcome domain.ReplicationOutcome, err error) domain.ReplicationOutcome {
	outcome.Error = err.Error()
	p.logger.WarnContext(ctx, "replication failed",
		slog.String("order_id", outcome.OrderID),
		slog.String("follower_id", outcome.FollowerID),
		slog.String("error", outcome.Error),
	)
	return outcome
}
