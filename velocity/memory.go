// Package velocity holds the VelocityCache implementations used by the
// velocity node: process memory and Redis.
package velocity

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/riskflow/types"
)

var (
	_ types.VelocityCache = &MemoryCache{}
)

// MemoryCache keeps one mutex-guarded bucket per identifier, so concurrent
// appends for the same identifier serialize while different identifiers
// never contend.
type MemoryCache struct {
	buckets sync.Map // map[string]*bucket

	stopOnce sync.Once
	stop     chan struct{}
}

type bucket struct {
	mu sync.Mutex
	// epoch milliseconds
	stamps []int64
	// set by the sweeper before the bucket is unlinked
	evicted bool
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{stop: make(chan struct{})}
}

func (c *MemoryCache) Append(ctx context.Context, identifier string, at time.Time, window time.Duration) (int, error) {
	now := at.UnixMilli()
	windowMs := window.Milliseconds()
	for {
		v, _ := c.buckets.LoadOrStore(identifier, &bucket{})
		b := v.(*bucket)

		b.mu.Lock()
		if b.evicted {
			// lost a race with the sweeper, the next LoadOrStore gets a fresh bucket
			b.mu.Unlock()
			continue
		}
		b.stamps = prune(b.stamps, now, windowMs)
		b.stamps = append(b.stamps, now)
		count := len(b.stamps)
		b.mu.Unlock()
		return count, nil
	}
}

// Timestamps returns a copy of the recorded events for identifier.
func (c *MemoryCache) Timestamps(identifier string) []int64 {
	v, exists := c.buckets.Load(identifier)
	if !exists {
		return nil
	}
	b := v.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.stamps...)
}

// Len is the number of tracked identifiers.
func (c *MemoryCache) Len() int {
	n := 0
	c.buckets.Range(func(key, value any) bool {
		n++
		return true
	})
	return n
}

// Sweep drops identifiers whose newest event is older than idleTTL.
func (c *MemoryCache) Sweep(now time.Time, idleTTL time.Duration) int {
	cutoff := now.Add(-idleTTL).UnixMilli()
	removed := 0
	c.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		if newest(b.stamps) < cutoff {
			b.evicted = true
			c.buckets.CompareAndDelete(key, b)
			removed++
		}
		b.mu.Unlock()
		return true
	})
	return removed
}

// StartSweeper runs Sweep every interval until Stop is called. now must be
// the clock Append stamps come from; nil means the wall clock.
func (c *MemoryCache) StartSweeper(interval, idleTTL time.Duration, now func() time.Time) {
	if interval <= 0 || idleTTL <= 0 {
		return
	}
	if now == nil {
		now = time.Now
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := c.Sweep(now(), idleTTL); n > 0 {
					log.Debugf("velocity sweep evicted %d identifiers", n)
				}
			case <-c.stop:
				return
			}
		}
	}()
}

func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func prune(stamps []int64, now, windowMs int64) []int64 {
	kept := stamps[:0]
	for _, ts := range stamps {
		if now-ts <= windowMs {
			kept = append(kept, ts)
		}
	}
	return kept
}

func newest(stamps []int64) int64 {
	var n int64
	for _, ts := range stamps {
		if ts > n {
			n = ts
		}
	}
	return n
}
