// Package engine is the replication core: it owns the stream session, the
// target registry, the dedup tracker, and the fan-out of target orders onto
// follower accounts.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/classify"
	"github.com/alanyoungcy/mirrorbot/internal/domain"
	"github.com/alanyoungcy/mirrorbot/internal/registry"
	"github.com/alanyoungcy/mirrorbot/internal/track"
)

// Notification event types the engine emits.
const (
	EventReplicationFailed = "replication_failed"
	EventStreamFailed      = "stream_failed"
	EventTargetResolved    = "target_resolved"
)

// Session is the stream session surface the engine drives. Implemented by
// the venue stream session.
type Session interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, profileAddress string) error
	Close() error
	State() domain.SessionState
	Attempts() int
}

// SessionFactory builds the session with the engine's callbacks attached.
// The indirection keeps the engine testable without a live socket.
type SessionFactory func(onEvents func([]domain.OrderEvent), onState func(domain.SessionState, int)) Session

// Executor replicates one classified event onto one follower. Implemented
// by the exec pipeline.
type Executor interface {
	Execute(ctx context.Context, event domain.OrderEvent, cls domain.OrderClassification, bot domain.FollowerBot) domain.ReplicationOutcome
}

// Notifier is the operator-alert surface. Optional.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds engine tunables.
type Config struct {
	// Targets is the list of target wallet addresses to mirror.
	Targets []string

	// ExecTimeout bounds one follower replication end to end, chain
	// confirmation included. Default 2m.
	ExecTimeout time.Duration

	// CleanupInterval is how often the dedup set is compacted. Default 1h.
	CleanupInterval time.Duration

	// DryRun disables execution: events are classified and logged but
	// never replicated. This is monitor mode.
	DryRun bool
}

func (c *Config) applyDefaults() {
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 2 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
}

// Deps are the engine's collaborators.
type Deps struct {
	NewSession SessionFactory
	Registry   *registry.Registry
	Tracker    *track.Tracker
	Followers  domain.FollowerStore
	Outcomes   domain.OutcomeStore // optional
	Activity   domain.ActivityCache
	Exec       Executor
	Notifier   Notifier // optional
	Logger     *slog.Logger
}

// Engine wires the event stream to the execution pipeline. One event is
// classified and marked once, in arrival order; its fan-out across
// followers then runs concurrently, overlapping later events.
type Engine struct {
	cfg  Config
	deps Deps

	session Session
	logger  *slog.Logger

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc

	dropped  atomic.Int64
	inFlight sync.WaitGroup
}

// New creates an engine. Start must be called before events flow.
func New(cfg Config, deps Deps) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With(slog.String("component", "engine")),
	}
}

// Start resolves every configured and follower-referenced target,
// subscribes to their feeds, opens the stream, and launches the dedup-set
// compaction loop. A target that fails to resolve is skipped; Start only
// errors when nothing at all can be monitored or the stream cannot be
// opened, and a failed Start leaves the engine stopped so it can be retried.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.startedAt = time.Now().UTC()

	bgCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.session = e.deps.NewSession(e.handleEvents, e.handleStateChange)
	e.mu.Unlock()

	targets := e.targetList(ctx)
	subs := e.deps.Registry.ResolveAll(ctx, targets)
	if len(subs) == 0 && len(targets) > 0 {
		e.abortStart()
		return fmt.Errorf("engine: no target resolved out of %d configured", len(targets))
	}

	for _, sub := range subs {
		if err := e.session.Subscribe(ctx, sub.ProfileAddress); err != nil {
			e.abortStart()
			return fmt.Errorf("engine: subscribe %s: %w", sub.TargetAddress, err)
		}
		e.notify(ctx, EventTargetResolved, "Target resolved",
			fmt.Sprintf("Mirroring %s (profile %s)", sub.TargetAddress, sub.ProfileAddress))
	}

	if err := e.session.Connect(ctx); err != nil {
		e.abortStart()
		return fmt.Errorf("engine: open stream: %w", err)
	}

	go e.cleanupLoop(bgCtx)

	e.logger.InfoContext(ctx, "engine started",
		slog.Int("targets", len(subs)),
		slog.Bool("dry_run", e.cfg.DryRun),
		slog.Time("watermark", e.deps.Tracker.Watermark()),
	)
	return nil
}

// targetList merges the configured targets with every target some
// non-stopped follower references, deduplicated, so a bot created against a
// target the operator never listed still gets mirrored.
func (e *Engine) targetList(ctx context.Context) []string {
	seen := make(map[string]struct{}, len(e.cfg.Targets))
	targets := make([]string, 0, len(e.cfg.Targets))
	add := func(t string) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		targets = append(targets, t)
	}
	for _, t := range e.cfg.Targets {
		add(t)
	}

	if e.deps.Followers != nil {
		stored, err := e.deps.Followers.ListTargets(ctx)
		if err != nil {
			e.logger.WarnContext(ctx, "stored target lookup failed",
				slog.String("error", err.Error()),
			)
			return targets
		}
		for _, t := range stored {
			add(t)
		}
	}
	return targets
}

// abortStart rolls back a failed Start so the engine reports not-running and
// a retried Start runs the full sequence again.
func (e *Engine) abortStart() {
	e.mu.Lock()
	e.running = false
	e.startedAt = time.Time{}
	cancel := e.cancel
	session := e.session
	e.cancel = nil
	e.session = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if session != nil {
		_ = session.Close()
	}
}

// Stop closes the stream, stops background loops, and waits for in-flight
// replications to drain.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	session := e.session
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if session != nil {
		err = session.Close()
	}
	e.inFlight.Wait()

	e.logger.Info("engine stopped")
	return err
}

// Status snapshots the telemetry surface.
func (e *Engine) Status() domain.EngineStatus {
	e.mu.Lock()
	running := e.running
	startedAt := e.startedAt
	session := e.session
	e.mu.Unlock()

	status := domain.EngineStatus{
		IsMonitoring:      running,
		State:             domain.SessionDisconnected,
		TargetCount:       e.deps.Registry.Count(),
		TrackedOrderCount: e.deps.Tracker.Count(),
		EventsDropped:     e.dropped.Load(),
		StartedAt:         startedAt,
	}
	if session != nil {
		status.State = session.State()
		status.ReconnectAttempts = session.Attempts()
	}
	return status
}

// Subscriptions returns the resolved target subscriptions.
func (e *Engine) Subscriptions() []domain.TargetSubscription {
	return e.deps.Registry.Subscriptions()
}

// handleEvents runs on the session's read goroutine. Events are vetted and
// marked sequentially so a duplicate in the same batch cannot slip through;
// the follower fan-out is dispatched asynchronously and may overlap the
// next event.
func (e *Engine) handleEvents(events []domain.OrderEvent) {
	ctx := context.Background()
	for _, event := range events {
		e.handleEvent(ctx, event)
	}
}

func (e *Engine) handleEvent(ctx context.Context, event domain.OrderEvent) {
	target, ok := e.deps.Registry.TargetFor(event.ProfileAddress)
	if !ok {
		e.drop(ctx, event, "unknown profile address")
		return
	}

	if !e.deps.Tracker.ShouldProcess(event.OrderID, event.Timestamp) {
		e.logger.DebugContext(ctx, "event skipped",
			slog.String("order_id", event.OrderID),
			slog.String("reason", "duplicate or historical"),
		)
		return
	}

	cls := classify.Classify(event.OrderTypeCode)
	if !cls.Known() {
		e.drop(ctx, event, fmt.Sprintf("unknown order type %d", event.OrderTypeCode))
		return
	}

	// Mark before fan-out: a rapid duplicate delivery must not dispatch a
	// second round of follower orders.
	e.deps.Tracker.MarkProcessed(event.OrderID)

	e.logger.InfoContext(ctx, "target order observed",
		slog.String("order_id", event.OrderID),
		slog.String("target", target),
		slog.String("market_id", event.MarketID),
		slog.Int("order_type", event.OrderTypeCode),
		slog.String("size", event.Size),
	)

	if e.cfg.DryRun {
		return
	}

	followers, err := e.deps.Followers.ListActiveByTarget(ctx, target)
	if err != nil {
		e.logger.ErrorContext(ctx, "follower lookup failed",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(followers) == 0 {
		e.drop(ctx, event, "no active followers")
		return
	}

	// Fan-out runs off the receive path: a slow chain confirmation must not
	// stall keepalive or delivery of the next event.
	e.inFlight.Add(1)
	go func() {
		defer e.inFlight.Done()
		e.fanOut(ctx, event, cls, followers)
	}()
}

// handleStateChange is the session's state callback.
func (e *Engine) handleStateChange(state domain.SessionState, attempts int) {
	if state != domain.SessionFailed {
		return
	}
	ctx := context.Background()
	e.logger.ErrorContext(ctx, "stream session failed terminally",
		slog.Int("attempts", attempts),
	)
	e.notify(ctx, EventStreamFailed, "Stream failed",
		fmt.Sprintf("Order stream gave up after %d reconnect attempts; restart required", attempts))
}

// cleanupLoop compacts the dedup set until the engine stops.
func (e *Engine) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.deps.Tracker.Cleanup()
		}
	}
}

// drop counts and logs an event the engine will not act on.
func (e *Engine) drop(ctx context.Context, event domain.OrderEvent, reason string) {
	e.dropped.Add(1)
	e.logger.WarnContext(ctx, "event dropped",
		slog.String("order_id", event.OrderID),
		slog.String("reason", reason),
	)
}

// notify forwards an operator alert, tolerating an absent notifier.
func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.deps.Notifier == nil {
		return
	}
	if err := e.deps.Notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
