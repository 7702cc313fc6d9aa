package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type indexJob struct {
	index int
	delay time.Duration
	fail  bool
	ran   *atomic.Int32
}

type indexResult struct {
	index int
	err   error
}

func (r indexResult) Err() error { return r.err }

func (j indexJob) Execute(ctx context.Context) Result {
	if j.ran != nil {
		j.ran.Add(1)
	}
	if j.delay > 0 {
		select {
		case <-ctx.Done():
			return indexResult{index: j.index, err: ctx.Err()}
		case <-time.After(j.delay):
		}
	}
	if j.fail {
		return indexResult{index: j.index, err: errors.New("job failed")}
	}
	return indexResult{index: j.index}
}

func TestPool_RunPreservesOrder(t *testing.T) {
	// Earlier jobs are slower, so completion order inverts submission order.
	jobs := []Job{
		indexJob{index: 0, delay: 30 * time.Millisecond},
		indexJob{index: 1, delay: 10 * time.Millisecond},
		indexJob{index: 2},
	}

	results := NewPool(3).Run(context.Background(), jobs)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, result := range results {
		if result.(indexResult).index != i {
			t.Errorf("result %d carries index %d", i, result.(indexResult).index)
		}
	}
}

func TestPool_RunAllJobs(t *testing.T) {
	var ran atomic.Int32
	jobs := make([]Job, 20)
	for i := range jobs {
		jobs[i] = indexJob{index: i, ran: &ran}
	}

	results := NewPool(4).Run(context.Background(), jobs)
	if got := ran.Load(); got != 20 {
		t.Errorf("expected all 20 jobs to run, got %d", got)
	}
	for i, result := range results {
		if result == nil {
			t.Errorf("missing result at index %d", i)
		}
	}
}

func TestPool_ErrorsReported(t *testing.T) {
	jobs := []Job{
		indexJob{index: 0},
		indexJob{index: 1, fail: true},
	}

	results := NewPool(2).Run(context.Background(), jobs)
	if results[0].Err() != nil {
		t.Errorf("unexpected error: %v", results[0].Err())
	}
	if results[1].Err() == nil {
		t.Error("expected the failing job's error")
	}
}

func TestPool_CancelledContextStopsSubmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs := make([]Job, 10)
	for i := range jobs {
		jobs[i] = indexJob{index: i, delay: time.Second}
	}

	start := time.Now()
	results := NewPool(1).Run(ctx, jobs)
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancelled run should return promptly")
	}

	// Unstarted jobs leave nil slots.
	nils := 0
	for _, result := range results {
		if result == nil {
			nils++
		}
	}
	if nils == 0 {
		t.Error("expected unstarted jobs to leave nil results")
	}
}

func TestPool_ClampsWorkerCount(t *testing.T) {
	results := NewPool(0).Run(context.Background(), []Job{indexJob{index: 0}})
	if len(results) != 1 || results[0] == nil {
		t.Errorf("pool with clamped workers must still run jobs, got %v", results)
	}
}
