package parallel

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

// Run calls fn(ctx, i) for i in [0, n) on a pool of ResolveNJobs(nJobs) goroutines.
//
// The first error cancels the context handed to the remaining tasks, no further tasks
// are started, and that error is returned after every running task has finished.
// A panic inside fn is returned as *errors.PanicError.
func Run(ctx context.Context, nJobs, n int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ResolveNJobs(nJobs))

	launched := 0
	for i := 0; i < n; i++ {
		// SetLimit で詰まっている間にキャンセルされた場合は残りを投入しない
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() (err error) {
			defer errors.Recover(&err, fmt.Sprintf("parallel task %d", i))
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
		launched++
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if launched < n {
		// 親コンテキストのキャンセルで途中終了した
		return errors.WithStack(ctx.Err())
	}
	return nil
}

// Map runs fn for every index like Run and returns the results ordered by index,
// independent of completion order. On error the partial results are discarded.
func Map[T any](ctx context.Context, nJobs, n int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	out := make([]T, n)
	err := Run(ctx, nJobs, n, func(ctx context.Context, i int) error {
		v, err := fn(ctx, i)
		if err != nil {
			return err
		}
		out[i] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
