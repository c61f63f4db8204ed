package worker

import (
	"context"
	"runtime"
	"sync"
)

// Pool runs independent jobs on a fixed number of goroutines and hands the
// results back in input order.
type Pool[R any] struct {
	// Size is the number of workers. Zero or less means GOMAXPROCS.
	Size int
	// OnResult, if set, is called from a single goroutine once per job in
	// input order, as soon as every earlier job has finished.
	OnResult func(index int, result R)
}

type task struct {
	Index int
}

type result[R any] struct {
	Index int
	Value R
}

// Run executes fn for every index in [0, n). Jobs not yet started when ctx
// is cancelled are skipped, keep the zero value of R and are not passed to
// OnResult.
func (p *Pool[R]) Run(ctx context.Context, n int, fn func(ctx context.Context, index int) R) []R {
	out := make([]R, n)
	if n == 0 {
		return out
	}

	size := p.Size
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	if size > n {
		size = n
	}

	taskChan := make(chan task)
	resultsChan := make(chan result[R], size)
	var wg sync.WaitGroup

	// Must run concurrently to prevent deadlock on resultsChan
	aggDone := make(chan struct{})
	go func() {
		p.aggregate(resultsChan, out)
		close(aggDone)
	}()

	for i := 0; i < size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskChan {
				if ctx.Err() != nil {
					continue
				}
				resultsChan <- result[R]{Index: t.Index, Value: fn(ctx, t.Index)}
			}
		}()
	}

dispatch:
	for i := 0; i < n; i++ {
		select {
		case taskChan <- task{Index: i}:
		case <-ctx.Done():
			break dispatch
		}
	}

	close(taskChan)
	wg.Wait()
	close(resultsChan)
	<-aggDone

	return out
}

// aggregate stores results and replays them in index order. Worker 2 might
// finish before worker 1, so out-of-order results wait in a buffer.
func (p *Pool[R]) aggregate(results <-chan result[R], out []R) {
	buffer := make(map[int]R)
	nextIndex := 0

	for res := range results {
		out[res.Index] = res.Value
		buffer[res.Index] = res.Value

		for {
			v, ok := buffer[nextIndex]
			if !ok {
				break
			}
			delete(buffer, nextIndex)
			if p.OnResult != nil {
				p.OnResult(nextIndex, v)
			}
			nextIndex++
		}
	}
}
