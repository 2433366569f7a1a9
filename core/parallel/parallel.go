// Package parallel provides range-splitting helpers for data-parallel work.
package parallel

import (
	"runtime"
	"sync"
)

// Parallelize splits items across workers goroutines and runs fn on each
// half-open range [start, end). workers <= 0 uses the number of CPU cores.
// The cluster pool passes its provisioned worker count here so parallelism
// tracks the compute mode rather than the host.
func Parallelize(items, workers int, fn func(start, end int)) {
	if items == 0 {
		return
	}

	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > items {
		workers = items
	}

	// Ceiling division so the last chunk picks up the remainder.
	chunkSize := (items + workers - 1) / workers

	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
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

// ParallelizeWithThreshold runs fn sequentially when items is at or below
// threshold, otherwise parallelizes. Small folds are not worth the goroutine
// overhead.
func ParallelizeWithThreshold(items, threshold, workers int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}

	Parallelize(items, workers, fn)
}
