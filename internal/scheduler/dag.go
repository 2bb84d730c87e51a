package scheduler

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ErrStalled is returned when tasks remain but none can ever become ready.
var ErrStalled = errors.New("dependency graph stalled")

// TaskFunc produces one task's slide.
type TaskFunc func(ctx context.Context, t *Task) error

type result struct {
	frame int
	err   error
}

// Execute drains plan with at most workers tasks running at once. A task
// starts only after all its prerequisites succeeded. The first failure
// cancels the rest of the plan and is returned.
func Execute(ctx context.Context, plan *Plan, workers int, fn TaskFunc) error {
	if workers < 1 {
		workers = 1
	}

	indegree := make(map[int]int, plan.Len())
	dependents := make(map[int][]int, plan.Len())
	var ready []int
	for _, f := range plan.Order {
		t := plan.Tasks[f]
		for _, p := range t.Prereqs {
			if _, ok := plan.Tasks[p]; !ok {
				return fmt.Errorf("frame %d depends on frame %d, which is not in the plan", f, p)
			}
			dependents[p] = append(dependents[p], f)
		}
		indegree[f] = len(t.Prereqs)
		if indegree[f] == 0 {
			ready = append(ready, f)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	// Buffered so workers never block on reporting
	done := make(chan result, plan.Len())
	inflight, completed := 0, 0

	for completed < plan.Len() {
		for len(ready) > 0 && gctx.Err() == nil {
			t := plan.Tasks[ready[0]]
			ready = ready[1:]
			inflight++
			g.Go(func() error {
				err := fn(gctx, t)
				if err != nil {
					err = fmt.Errorf("frame %d: %w", t.Frame, err)
				}
				done <- result{frame: t.Frame, err: err}
				return err
			})
		}
		if inflight == 0 {
			break
		}

		r := <-done
		inflight--
		if r.err != nil {
			break
		}
		completed++
		for _, d := range dependents[r.frame] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if completed < plan.Len() {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: %d of %d tasks unreachable", ErrStalled, plan.Len()-completed, plan.Len())
	}
	return nil
}
