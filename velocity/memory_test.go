package velocity

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCacheWindow(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	window := 10 * time.Second

	n, err := c.Append(ctx, "dev-1", base, window)
	assert.Nil(t, err)
	assert.Equal(t, 1, n)

	n, _ = c.Append(ctx, "dev-1", base.Add(5*time.Second), window)
	assert.Equal(t, 2, n)

	// exactly on the window edge still counts
	n, _ = c.Append(ctx, "dev-1", base.Add(10*time.Second), window)
	assert.Equal(t, 3, n)

	// first event falls out
	n, _ = c.Append(ctx, "dev-1", base.Add(10*time.Second+time.Millisecond), window)
	assert.Equal(t, 3, n)
	assert.Len(t, c.Timestamps("dev-1"), 3)

	n, _ = c.Append(ctx, "dev-2", base, window)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, c.Len())
	assert.Nil(t, c.Timestamps("nobody"))
}

func TestMemoryCacheConcurrentAppend(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	now := time.Now()

	const workers = 100
	counts := make([]int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			counts[i], _ = c.Append(ctx, "shared", now, time.Minute)
		}(i)
	}
	wg.Wait()

	sort.Ints(counts)
	for i, n := range counts {
		assert.Equal(t, i+1, n)
	}
	assert.Len(t, c.Timestamps("shared"), workers)
}

func TestMemoryCacheSweep(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	c.Append(ctx, "old", base, time.Minute)
	c.Append(ctx, "fresh", base.Add(9*time.Minute), time.Minute)

	removed := c.Sweep(base.Add(10*time.Minute), 5*time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())
	assert.Nil(t, c.Timestamps("old"))

	// an evicted identifier starts over
	n, _ := c.Append(ctx, "old", base.Add(10*time.Minute), time.Minute)
	assert.Equal(t, 1, n)
}

func TestMemoryCacheSweeperStops(t *testing.T) {
	c := NewMemoryCache()
	c.Append(context.Background(), "stale", time.Now().Add(-time.Hour), time.Minute)

	c.StartSweeper(10*time.Millisecond, time.Minute, nil)
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 10*time.Millisecond)
	c.Stop()
	c.Stop()
}

func TestMemoryCacheSweeperUsesClock(t *testing.T) {
	replayed := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := replayed
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	c := NewMemoryCache()
	defer c.Stop()
	c.Append(context.Background(), "dev-replay", replayed, time.Minute)

	c.StartSweeper(5*time.Millisecond, time.Minute, clock)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, c.Len())

	mu.Lock()
	now = replayed.Add(2 * time.Minute)
	mu.Unlock()
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}
