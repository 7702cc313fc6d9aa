package worker

import (
	"context"
	"sync"
)

// Job is one unit of batch work. Execute must honor ctx cancellation and
// report failure through its Result rather than panicking.
type Job interface {
	Execute(ctx context.Context) Result
}

// Result is the outcome of one job.
type Result interface {
	Err() error
}

// Pool fans jobs out across a fixed number of goroutines. Results come back
// in submission order regardless of completion order, which keeps batch
// output aligned with batch input.
type Pool struct {
	workers int
}

// NewPool creates a pool with the given worker count. Counts below one are
// clamped to one.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{workers: workers}
}

// Run executes all jobs and blocks until every started job has finished.
// When ctx is cancelled mid-batch, unstarted jobs keep a nil slot in the
// returned slice.
func (p *Pool) Run(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	indexes := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = jobs[i].Execute(ctx)
			}
		}()
	}

	for i := range jobs {
		select {
		case <-ctx.Done():
			close(indexes)
			wg.Wait()
			return results
		case indexes <- i:
		}
	}
	close(indexes)
	wg.Wait()
	return results
}
