// Package parallel provides the worker-pool helpers used by the estimators.
//
// Parallelize splits a row range into contiguous chunks (used by prediction over many
// rows). Run and Map dispatch independent indexed tasks to a bounded pool (used by the
// one-vs-all fit) and stop at the first failure.
package parallel

import (
	"runtime"
	"sync"
)

// ResolveNJobs converts an n_jobs setting into a worker count.
// Positive values are used as is; negative values count back from the number of CPUs,
// so -1 means every CPU and -2 all but one. The result is at least 1. Zero is invalid
// and callers are expected to reject it during parameter validation; here it maps to 1.
func ResolveNJobs(nJobs int) int {
	switch {
	case nJobs > 0:
		return nJobs
	case nJobs < 0:
		n := runtime.NumCPU() + 1 + nJobs
		if n < 1 {
			n = 1
		}
		return n
	default:
		return 1
	}
}

// Parallelize divides items into at most ResolveNJobs(nJobs) contiguous ranges and calls
// fn(start, end) for each range concurrently.
func Parallelize(items, nJobs int, fn func(start, end int)) {
	if items <= 0 {
		return
	}

	numWorkers := ResolveNJobs(nJobs)
	if numWorkers > items {
		numWorkers = items
	}
	if numWorkers == 1 {
		fn(0, items)
		return
	}

	// ceiling division
	chunkSize := (items + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ParallelizeWithThreshold runs fn(0, items) sequentially when items <= threshold and
// falls back to Parallelize otherwise.
func ParallelizeWithThreshold(items, threshold, nJobs int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, nJobs, fn)
}
