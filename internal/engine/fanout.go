package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// fanOut replicates one event onto every follower concurrently and waits
// for all of them. A follower's failure or slowness never affects the
// others; its outcome is simply recorded as failed.
func (e *Engine) fanOut(ctx context.Context, event domain.OrderEvent, cls domain.OrderClassification, followers []domain.FollowerBot) {
	var wg sync.WaitGroup
	for _, bot := range followers {
		// The store query already filters, but a stale row must not
		// place an order.
		if bot.Status != domain.BotStatusActive || !bot.CopyTradingEnabled {
			continue
		}
		wg.Add(1)
		go func(bot domain.FollowerBot) {
			defer wg.Done()
			e.replicate(ctx, event, cls, bot)
		}(bot)
	}
	wg.Wait()
}

// replicate runs one follower's execution under the per-follower timeout
// and persists the outcome. Store and cache writes are best-effort.
func (e *Engine) replicate(ctx context.Context, event domain.OrderEvent, cls domain.OrderClassification, bot domain.FollowerBot) {
	execCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecTimeout)
	defer cancel()

	outcome := e.deps.Exec.Execute(execCtx, event, cls, bot)

	if e.deps.Outcomes != nil {
		if err := e.deps.Outcomes.Insert(ctx, outcome); err != nil {
			e.logger.ErrorContext(ctx, "outcome persist failed",
				slog.String("outcome_id", outcome.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.deps.Activity != nil {
		if err := e.deps.Activity.RecordOutcome(ctx, outcome); err != nil {
			e.logger.WarnContext(ctx, "activity cache write failed",
				slog.String("outcome_id", outcome.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if !outcome.Success {
		e.notify(ctx, EventReplicationFailed, "Replication failed",
			"Order "+event.OrderID+" on follower "+bot.ID+": "+outcome.Error)
	}
}
