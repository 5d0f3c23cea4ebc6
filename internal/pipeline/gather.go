package pipeline

import (
	"golang.org/x/sync/errgroup"
)

// parallelThreshold: at or below threads*parallelThreshold items, the
// sequential path is cheaper than starting a pool.
const parallelThreshold = 2

// gather applies fn to every element of items, preferring a sequential
// loop when threads is 1 or the item count doesn't justify spinning up
// a pool, and otherwise partitioning items into min(len(items), threads)
// contiguous slices run concurrently via errgroup, the bounded
// concurrent work primitive with first-error propagation. Results are
// concatenated back in slice order so callers see the same ordering a
// sequential loop would have produced.
func gather[T, R any](items []T, threads int, fn func(item T) (R, error)) ([]R, error) {
	if threads <= 1 || len(items) <= threads*parallelThreshold {
		out := make([]R, 0, len(items))
		for _, item := range items {
			r, err := fn(item)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, nil
	}

	numWorkers := threads
	if len(items) < numWorkers {
		numWorkers = len(items)
	}
	slices := partition(items, numWorkers)
	results := make([][]R, len(slices))

	var g errgroup.Group
	for i, slice := range slices {
		i, slice := i, slice
		g.Go(func() error {
			local := make([]R, 0, len(slice))
			for _, item := range slice {
				r, err := fn(item)
				if err != nil {
					return err
				}
				local = append(local, r)
			}
			results[i] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]R, 0, len(items))
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// partition splits items into n contiguous, near-equal-length slices.
func partition[T any](items []T, n int) [][]T {
	if n <= 0 {
		n = 1
	}
	total := len(items)
	d, r := total/n, total%n
	out := make([][]T, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := d
		if i < r {
			size++
		}
		out = append(out, items[start:start+size])
		start += size
	}
	return out
}
