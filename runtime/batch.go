package runtime

import (
	"context"

	"github.com/gammazero/workerpool"

	"github.com/warriorguo/riskflow/types"
)

// fanOut calls fn for every index in [0, n) on a worker pool of at most
// concurrency workers and waits for all of them.
func fanOut(n, concurrency int, fn func(i int)) {
	if n == 0 {
		return
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	wp := workerpool.New(concurrency)
	for i := 0; i < n; i++ {
		i := i
		wp.Submit(func() {
			fn(i)
		})
	}
	wp.StopWait()
}

// ExecuteBatch evaluates txs concurrently, at most concurrency at a time,
// and returns the results in input order.
func ExecuteBatch(ctx context.Context, registry *Registry, workflow *types.Workflow, txs []*types.Transaction,
	services *types.Services, concurrency int, options ...ExecuteOption) []*types.ExecutionResult {
	results := make([]*types.ExecutionResult, len(txs))
	fanOut(len(txs), concurrency, func(i int) {
		results[i] = Execute(ctx, registry, workflow, txs[i], services, options...)
	})
	return results
}
