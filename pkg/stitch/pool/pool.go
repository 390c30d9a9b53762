// Package pool runs a batch of fetches with bounded concurrency while
// keeping results in input order.
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one item. Index is the item's position in the
// input slice; Err records a per-item failure.
type Outcome[R any] struct {
	Index int
	Value R
	Err   error
}

// Run calls fn for every item with at most width calls in flight and
// returns one Outcome per item, positioned by input index regardless of
// completion order. A failing item never cancels its siblings: the batch
// always runs to completion before Run returns.
func Run[T, R any](ctx context.Context, items []T, width int, fn func(context.Context, T) (R, error)) []Outcome[R] {
	out := make([]Outcome[R], len(items))
	if len(items) == 0 {
		return out
	}
	if width <= 0 {
		width = 1
	}

	// The group is only used as a bounded launcher and barrier; workers
	// report failures through their slot, so the group never sees an error.
	var g errgroup.Group
	g.SetLimit(min(width, len(items)))

	for i, item := range items {
		g.Go(func() error {
			v, err := fn(ctx, item)
			out[i] = Outcome[R]{Index: i, Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
