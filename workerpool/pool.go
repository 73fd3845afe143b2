// Package workerpool offloads CPU-bound work from the network/I/O
// scheduling goroutines onto a small fixed pool of worker goroutines,
// the way Tokio's spawn_blocking does for the original implementation.
//
// Grounded on the teacher's fixed-parallelism queue pattern in
// device/send.go and device/receive.go, where a bounded number of
// goroutines drain a buffered channel of jobs rather than spawning one
// goroutine per unit of work.
package workerpool

import (
	"context"
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// Pool runs submitted jobs on a fixed number of long-lived goroutines.
type Pool struct {
	jobs chan job
	done chan struct{}
}

type job struct {
	fn     func() (any, error)
	result chan<- result
}

type result struct {
	value any
	err   error
}

// DefaultSize picks a worker count for CPU-bound block encode/decode
// jobs. It cross-checks runtime.NumCPU() against klauspost/cpuid's
// logical core count (the two usually agree; cpuid is consulted because
// NumCPU can be capped by GOMAXPROCS in containerized deployments while
// encode/decode jobs are CPU-bound regardless of that cap).
func DefaultSize() int {
	n := runtime.NumCPU()
	if logical := cpuid.CPU.LogicalCores; logical > n {
		n = logical
	}
	if n < 1 {
		n = 1
	}
	return n
}

// New starts a pool of size workers. A size <= 0 uses DefaultSize().
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize()
	}
	p := &Pool{
		jobs: make(chan job, size*4),
		done: make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for {
		select {
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			v, err := j.fn()
			j.result <- result{value: v, err: err}
		case <-p.done:
			return
		}
	}
}

// Submit runs fn on a worker goroutine and blocks until it completes or
// ctx is cancelled, whichever comes first.
func Submit[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	resultCh := make(chan result, 1)
	wrapped := func() (any, error) {
		v, err := fn()
		return v, err
	}
	select {
	case p.jobs <- job{fn: wrapped, result: resultCh}:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-p.done:
		var zero T
		return zero, context.Canceled
	}

	select {
	case r := <-resultCh:
		if r.err != nil {
			var zero T
			return zero, r.err
		}
		v, _ := r.value.(T)
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Close stops all worker goroutines. In-flight jobs are allowed to
// finish; queued-but-unstarted jobs are abandoned.
func (p *Pool) Close() {
	close(p.done)
}
