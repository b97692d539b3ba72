// Package workerpool bridges the CPU-bound work spec §5 calls out
// (compression, hashing, TF-IDF) onto a bounded pool of goroutines, sized
// to the core count by default. Grounded on FairForge's
// internal/drivers/parallel.go (ParallelDriver's semaphore-bounded
// fan-out), generalized from backend put/get operations to arbitrary
// work functions.
package workerpool

import (
	"context"
	"runtime"
	"sync"

	"github.com/memcontext/vault/internal/model"
)

// Pool runs work items with bounded concurrency.
type Pool struct {
	sem chan struct{}
}

// New builds a Pool with `workers` concurrent slots; <= 0 defaults to
// runtime.NumCPU(), matching spec §5's "default = core count".
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{sem: make(chan struct{}, workers)}
}

// Run executes fn on a pool slot, blocking until one is free or ctx is
// cancelled. CPU loops must not hold any external lock across this call
// (spec §5's suspension-point rule).
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return model.ErrCancelled
	}
	defer func() { <-p.sem }()

	if ctx.Err() != nil {
		return model.ErrCancelled
	}
	return fn()
}

// Map runs fn over every item with bounded concurrency and returns results
// in the same order as items. An error does not stop the other items; once
// all have run, each item's error is reported back in a slice aligned with
// items, following the bulk job exit semantics of spec §5's backpressure
// section and §6's "exit conditions for bulk jobs".
func Map[T any, R any](ctx context.Context, pool *Pool, items []T, fn func(context.Context, T) (R, error)) ([]R, []error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(idx int, it T) {
			defer wg.Done()
			_ = pool.Run(ctx, func() error {
				r, err := fn(ctx, it)
				results[idx] = r
				errs[idx] = err
				return err
			})
		}(i, item)
	}
	wg.Wait()
	return results, errs
}
