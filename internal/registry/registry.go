// Package registry maintains the mapping between monitored target wallet
// addresses and their venue-internal profile addresses. Profiles are
// resolved once through the venue directory and cached for the life of the
// process; the venue profile address for a wallet does not change.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// ProfileResolver is the directory lookup the registry uses to resolve a
// wallet address to its venue profile address. Implemented by the venue
// REST client.
type ProfileResolver interface {
	GetProfileAddress(ctx context.Context, userAddress string) (string, error)
}

// Registry caches target -> profile resolutions and answers reverse lookups
// for incoming events. Safe for concurrent use.
type Registry struct {
	resolver ProfileResolver
	logger   *slog.Logger

	mu       sync.RWMutex
	byTarget map[string]domain.TargetSubscription
}

// New creates an empty Registry backed by the given resolver.
func New(resolver ProfileResolver, logger *slog.Logger) *Registry {
	return &Registry{
		resolver: resolver,
		logger:   logger.With(slog.String("component", "registry")),
		byTarget: make(map[string]domain.TargetSubscription),
	}
}

// Resolve returns the venue profile address for a target wallet, resolving
// and caching it on first use.
func (r *Registry) Resolve(ctx context.Context, targetAddress string) (string, error) {
	r.mu.RLock()
	sub, ok := r.byTarget[targetAddress]
	r.mu.RUnlock()
	if ok {
		return sub.ProfileAddress, nil
	}

	profile, err := r.resolver.GetProfileAddress(ctx, targetAddress)
	if err != nil {
		return "", fmt.Errorf("registry: %w: %s: %v", domain.ErrResolveProfile, targetAddress, err)
	}

	r.mu.Lock()
	r.byTarget[targetAddress] = domain.TargetSubscription{
		TargetAddress:  targetAddress,
		ProfileAddress: profile,
		ActiveFrom:     time.Now().UTC(),
	}
	r.mu.Unlock()

	return profile, nil
}

// ResolveAll resolves every target in the list, isolating failures: a target
// that cannot be resolved is logged and skipped, and never blocks the
// others. It returns the subscriptions that resolved.
func (r *Registry) ResolveAll(ctx context.Context, targets []string) []domain.TargetSubscription {
	subs := make([]domain.TargetSubscription, 0, len(targets))
	for _, target := range targets {
		if _, err := r.Resolve(ctx, target); err != nil {
			r.logger.WarnContext(ctx, "target resolution failed, skipping",
				slog.String("target", target),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.mu.RLock()
		subs = append(subs, r.byTarget[target])
		r.mu.RUnlock()
	}
	return subs
}

// TargetFor answers the reverse lookup: which target wallet owns the given
// profile address. A linear scan is fine here; the set of simultaneously
// monitored targets is tens, not millions.
func (r *Registry) TargetFor(profileAddress string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for target, sub := range r.byTarget {
		if sub.ProfileAddress == profileAddress {
			return target, true
		}
	}
	return "", false
}

// Subscriptions returns a snapshot of all resolved subscriptions.
func (r *Registry) Subscriptions() []domain.TargetSubscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]domain.TargetSubscription, 0, len(r.byTarget))
	for _, sub := range r.byTarget {
		subs = append(subs, sub)
	}
	return subs
}

// Count returns the number of resolved targets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTarget)
}
