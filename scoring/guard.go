package scoring

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
)

// Guard is the circuit-breaker state of the AI scoring node: a single
// cooldown deadline plus a cache of model handles. One Guard is shared by
// every invocation of the node within a pipeline.
type Guard struct {
	provider Provider

	// epoch milliseconds, 0 when closed
	cooldownUntil atomic.Int64

	mu     sync.Mutex
	models map[string]Model
}

func NewGuard(provider Provider) *Guard {
	return &Guard{
		provider: provider,
		models:   make(map[string]Model),
	}
}

// Remaining returns how long the breaker stays open, or zero when closed.
func (g *Guard) Remaining(now time.Time) time.Duration {
	until := g.cooldownUntil.Load()
	if until == 0 {
		return 0
	}
	remaining := until - now.UnixMilli()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(remaining) * time.Millisecond
}

// Trip opens the breaker until the given time. A later deadline already in
// place is kept, so concurrent failures never shorten the cooldown.
func (g *Guard) Trip(until time.Time) time.Time {
	target := until.UnixMilli()
	for {
		current := g.cooldownUntil.Load()
		if current >= target {
			return time.UnixMilli(current)
		}
		if g.cooldownUntil.CompareAndSwap(current, target) {
			return until
		}
	}
}

// Reset closes the breaker immediately.
func (g *Guard) Reset() {
	g.cooldownUntil.Store(0)
}

// Resolve returns the cached handle for cfg, asking the provider on a miss.
// Failed resolutions are not cached.
func (g *Guard) Resolve(ctx context.Context, cfg ModelConfig) (Model, error) {
	if g == nil || g.provider == nil {
		return nil, errors.NotFoundf("scoring provider")
	}
	key := cfg.cacheKey()

	g.mu.Lock()
	defer g.mu.Unlock()

	if m, exists := g.models[key]; exists {
		return m, nil
	}
	m, err := g.provider.Model(ctx, cfg)
	if err != nil {
		return nil, errors.Annotatef(err, "resolve model %s", cfg.Name)
	}
	if m == nil {
		return nil, errors.NotFoundf("model %s", cfg.Name)
	}
	g.models[key] = m
	return m, nil
}
