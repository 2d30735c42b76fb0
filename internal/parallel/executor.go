// Package parallel provides generic parallel execution utilities.
package parallel

import (
	"context"
	"sync"
)

// Result represents the outcome of processing a single item.
type Result[T any] struct {
	Index   int   // Original index in input slice
	Input   T     // The input item
	Success bool  // Whether processing succeeded
	Error   error // Error if processing failed
}

// WorkFunc is the function type for processing items.
type WorkFunc[T any] func(item T) error

// ExecuteContext processes items in parallel with the given concurrency,
// abandoning undispatched items once ctx is done; items already handed to
// a worker still run to completion. Used to bound fan-out work (e.g. a
// Tree listing's batched directory fetches) by the same context a caller
// would cancel a suspension point with. Returns results in the same order
// as input items.
func ExecuteContext[T any](ctx context.Context, items []T, parallelism int, work WorkFunc[T]) []Result[T] {
	if len(items) == 0 {
		return nil
	}

	if parallelism < 1 {
		parallelism = 1
	}

	results := make([]Result[T], len(items))

	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				item := items[idx]
				err := work(item)
				results[idx] = Result[T]{
					Index:   idx,
					Input:   item,
					Success: err == nil,
					Error:   err,
				}
			}
		}()
	}

sendLoop:
	for i := range items {
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(items); j++ {
				results[j] = Result[T]{Index: j, Input: items[j], Error: ctx.Err()}
			}
			break sendLoop
		}
	}
	close(jobs)

	wg.Wait()

	return results
}
