package utils

import (
	"context"
	"sync"
)

type CompletedTask[T any] struct {
	Index  int
	Result T
	Error  error
}

// RunInPool runs worker over every item with at most maxWorkers goroutines and
// returns the outcomes in input order. Items not started before ctx is done
// complete with ctx.Err().
func RunInPool[In any, Out any](ctx context.Context, items []In, maxWorkers int, worker func(context.Context, In) (Out, error)) []CompletedTask[Out] {
	completed := make([]CompletedTask[Out], len(items))
	if len(items) == 0 {
		return completed
	}

	queue := make(chan int, len(items))
	for i := range items {
		queue <- i
	}
	close(queue)

	workers := max(1, min(len(items), maxWorkers))

	wg := sync.WaitGroup{}
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()

			for i := range queue {
				completed[i].Index = i
				if err := ctx.Err(); err != nil {
					completed[i].Error = err
					continue
				}
				completed[i].Result, completed[i].Error = worker(ctx, items[i])
			}
		}()
	}
	wg.Wait()

	return completed
}
